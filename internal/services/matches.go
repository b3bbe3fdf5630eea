package services

// matches.go: seeding, bracket generation and results. The bracket logic itself lives
// in the bracket package; this file maps bracket nodes to and from Match rows.

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/trentd187/puckdrop/internal/bracket"
	"github.com/trentd187/puckdrop/internal/database"
	"github.com/trentd187/puckdrop/internal/models"
)

// TeamSeed assigns one team its seed.
type TeamSeed struct {
	TeamID uuid.UUID `json:"team_id" validate:"required"`
	Seed   int       `json:"seed" validate:"required,min=1"`
}

// SetSeeds replaces the seeding. Seeds must be unique and run 1..k without gaps,
// where k is how many teams are seeded. Teams left out are seeded after the others
// by registration time when the bracket is generated. A bracket generated under the
// old seeding is discarded and has to be generated again.
func (s *Tournaments) SetSeeds(ctx context.Context, actor Actor, tournamentID uuid.UUID, seeds []TeamSeed) ([]models.TournamentTeam, error) {
	for _, sd := range seeds {
		if err := validateInput(sd); err != nil {
			return nil, err
		}
	}

	var (
		teams   []models.TournamentTeam
		dropped bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := requireTournamentManager(tx, actor, tournamentID)
		if err != nil {
			return err
		}
		if t.Status != models.TournamentOpen && t.Status != models.TournamentRegistrationClosed {
			return invalidState("seeds can only be set before the tournament starts")
		}
		if err := tx.Where("tournament_id = ? AND status = ?", tournamentID, models.TeamRegistered).
			Order("created_at").Find(&teams).Error; err != nil {
			return err
		}

		registered := make(map[uuid.UUID]bool, len(teams))
		for _, team := range teams {
			registered[team.ID] = true
		}
		used := map[int]bool{}
		byTeam := map[uuid.UUID]int{}
		for _, sd := range seeds {
			switch {
			case !registered[sd.TeamID]:
				return invalidInput("team %s is not registered in this tournament", sd.TeamID)
			case sd.Seed > len(teams):
				return invalidInput("seed %d is out of range 1..%d", sd.Seed, len(teams))
			case sd.Seed > len(seeds):
				return invalidInput("seeds must run from 1 to %d without gaps", len(seeds))
			case used[sd.Seed]:
				return invalidInput("seed %d is used twice", sd.Seed)
			case byTeam[sd.TeamID] != 0:
				return invalidInput("team %s is seeded twice", sd.TeamID)
			}
			used[sd.Seed] = true
			byTeam[sd.TeamID] = sd.Seed
		}

		if err := tx.Model(&models.TournamentTeam{}).Where("tournament_id = ?", tournamentID).
			Update("seed", nil).Error; err != nil {
			return fmt.Errorf("clear seeds: %w", err)
		}
		for i := range teams {
			teams[i].Seed = nil
			if seed, ok := byTeam[teams[i].ID]; ok {
				if err := tx.Model(&teams[i]).Update("seed", seed).Error; err != nil {
					return fmt.Errorf("set seed: %w", err)
				}
				teams[i].Seed = ptr(seed)
			}
		}
		if dropped, err = dropBracket(tx, tournamentID); err != nil {
			return err
		}
		return database.BumpVersion(tx, &models.Tournament{}, tournamentID, t.Version)
	})
	if err != nil {
		return nil, err
	}
	if dropped {
		s.log.Info("bracket discarded after reseeding", zap.String("tournament_id", tournamentID.String()))
	}
	seedOrder(teams)
	return teams, nil
}

// seedOrder sorts seeded teams first by seed, then the rest by registration time.
func seedOrder(teams []models.TournamentTeam) {
	sort.SliceStable(teams, func(i, j int) bool {
		a, b := teams[i].Seed, teams[j].Seed
		switch {
		case a != nil && b != nil:
			return *a < *b
		case a != nil || b != nil:
			return a != nil
		default:
			return teams[i].CreatedAt.Before(teams[j].CreatedAt)
		}
	})
}

// GenerateBracket builds the bracket from the registered teams, replacing any bracket
// generated before.
func (s *Tournaments) GenerateBracket(ctx context.Context, actor Actor, tournamentID uuid.UUID) (*BracketView, error) {
	var matches []models.Match
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := requireTournamentManager(tx, actor, tournamentID)
		if err != nil {
			return err
		}
		if t.Status != models.TournamentRegistrationClosed {
			return invalidState("close registration before generating the bracket")
		}

		var teams []models.TournamentTeam
		if err := tx.Where("tournament_id = ? AND status = ?", tournamentID, models.TeamRegistered).
			Find(&teams).Error; err != nil {
			return err
		}
		seedOrder(teams)
		ids := userIDs(teams, func(t models.TournamentTeam) uuid.UUID { return t.ID })

		var plan *bracket.Plan
		if t.Format == models.FormatDoubleElimination {
			plan, err = bracket.DoubleElimination(ids)
		} else {
			plan, err = bracket.SingleElimination(ids)
		}
		if errors.Is(err, bracket.ErrTooFewEntrants) {
			return invalidState("at least two teams must be registered")
		} else if err != nil {
			return err
		}

		if _, err := dropBracket(tx, tournamentID); err != nil {
			return err
		}
		matches = planToMatches(tournamentID, plan)
		// Links point at later nodes, so insert back to front to satisfy the foreign keys.
		reversed := make([]models.Match, len(matches))
		for i, m := range matches {
			reversed[len(matches)-1-i] = m
		}
		if err := tx.Omit(clause.Associations).Create(&reversed).Error; err != nil {
			return fmt.Errorf("save bracket: %w", err)
		}
		return database.BumpVersion(tx, &models.Tournament{}, tournamentID, t.Version)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("bracket generated", zap.String("tournament_id", tournamentID.String()), zap.Int("matches", len(matches)))
	view, err := s.Bracket(ctx, tournamentID)
	if err != nil {
		return nil, err
	}
	s.publish(tournamentID, view.all())
	return view, nil
}

// dropBracket deletes the tournament's generated bracket and reports whether there
// was one. Withdrawals and reseeding call it, so a tournament never starts on a
// bracket built from a different set of teams.
func dropBracket(tx *gorm.DB, tournamentID uuid.UUID) (bool, error) {
	res := tx.Where("tournament_id = ?", tournamentID).Delete(&models.Match{})
	if res.Error != nil {
		return false, fmt.Errorf("delete bracket: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// BracketView is a bracket grouped for display: each section is a list of rounds,
// each round a list of matches by position.
type BracketView struct {
	TournamentID uuid.UUID
	Winners      [][]models.Match
	Losers       [][]models.Match
	Final        []models.Match
	Champion     *uuid.UUID
}

func (v *BracketView) all() []models.Match {
	var out []models.Match
	for _, r := range v.Winners {
		out = append(out, r...)
	}
	for _, r := range v.Losers {
		out = append(out, r...)
	}
	return append(out, v.Final...)
}

// Bracket loads the stored matches grouped by section and round. A tournament
// without a generated bracket gets an empty view, not an error.
func (s *Tournaments) Bracket(ctx context.Context, tournamentID uuid.UUID) (*BracketView, error) {
	db := s.db.WithContext(ctx)
	t, err := loadTournament(db, tournamentID)
	if err != nil {
		return nil, err
	}
	matches, err := loadMatches(db.Preload("HomeTeam").Preload("AwayTeam"), tournamentID)
	if err != nil {
		return nil, err
	}

	v := &BracketView{TournamentID: tournamentID, Champion: t.ChampionTeamID}
	for _, m := range matches {
		switch m.Bracket {
		case models.BracketWinners:
			v.Winners = appendToRound(v.Winners, m)
		case models.BracketLosers:
			v.Losers = appendToRound(v.Losers, m)
		default:
			v.Final = append(v.Final, m)
		}
	}
	return v, nil
}

func appendToRound(rounds [][]models.Match, m models.Match) [][]models.Match {
	for len(rounds) < m.Round {
		rounds = append(rounds, nil)
	}
	rounds[m.Round-1] = append(rounds[m.Round-1], m)
	return rounds
}

// ScheduleMatchInput sets when and on which rink a match is played.
type ScheduleMatchInput struct {
	ScheduledAt *time.Time `json:"scheduled_at"`
	Rink        *string    `json:"rink" validate:"omitempty,max=100"`
}

// ScheduleMatch sets when and where a match is played.
func (s *Tournaments) ScheduleMatch(ctx context.Context, actor Actor, matchID uuid.UUID, in ScheduleMatchInput) (*models.Match, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	db := s.db.WithContext(ctx)
	var m models.Match
	if err := db.First(&m, "id = ?", matchID).Error; err != nil {
		return nil, notFound(err, "match")
	}
	t, err := requireTournamentManager(db, actor, m.TournamentID)
	if err != nil {
		return nil, err
	}
	switch t.Status {
	case models.TournamentCompleted, models.TournamentCancelled:
		return nil, invalidState("tournament is %s", t.Status)
	}
	if m.Status == models.MatchCompleted || m.Status == models.MatchBye {
		return nil, invalidState("match is already decided")
	}

	changes := map[string]any{}
	if in.ScheduledAt != nil {
		changes["scheduled_at"] = in.ScheduledAt.UTC()
	}
	if in.Rink != nil {
		changes["rink"] = emptyToNil(*in.Rink)
	}
	if len(changes) > 0 {
		if err := db.Model(&m).Updates(changes).Error; err != nil {
			return nil, fmt.Errorf("schedule match: %w", err)
		}
	}
	if err := db.Preload("HomeTeam").Preload("AwayTeam").First(&m, "id = ?", matchID).Error; err != nil {
		return nil, err
	}
	s.publish(m.TournamentID, []models.Match{m})
	return &m, nil
}

// RecordResultInput is a final score. Pointers so a missing score is a validation
// error rather than a silent zero.
type RecordResultInput struct {
	HomeScore *int `json:"home_score" validate:"required,min=0"`
	AwayScore *int `json:"away_score" validate:"required,min=0"`
}

// RecordResult decides a match: the winner advances, the loser drops to the losers
// bracket (or is out), and any byes this unlocks are played through. Deciding the
// last match crowns the champion and completes the tournament.
func (s *Tournaments) RecordResult(ctx context.Context, actor Actor, matchID uuid.UUID, in RecordResultInput) (*models.Match, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}

	var (
		t        *models.Tournament
		match    models.Match
		changed  []uuid.UUID
		champion uuid.UUID
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&match, "id = ?", matchID).Error; err != nil {
			return notFound(err, "match")
		}
		var err error
		if t, err = requireTournamentManager(tx, actor, match.TournamentID); err != nil {
			return err
		}
		if t.Status != models.TournamentInProgress {
			return invalidState("results can only be recorded while the tournament is in progress")
		}

		matches, err := loadMatches(tx, t.ID)
		if err != nil {
			return err
		}
		plan, index, err := matchesToPlan(matches)
		if err != nil {
			return fmt.Errorf("restore bracket: %w", err)
		}
		nodes, err := plan.Record(index[matchID], *in.HomeScore, *in.AwayScore)
		switch {
		case errors.Is(err, bracket.ErrNotReady):
			return invalidState("both teams are not known yet")
		case errors.Is(err, bracket.ErrAlreadyDecided):
			return invalidState("match is already decided")
		case errors.Is(err, bracket.ErrTie):
			return invalidInput("elimination matches cannot end in a tie")
		case err != nil:
			return invalidInput("%v", err)
		}

		for _, n := range nodes {
			m := matches[n.Index]
			if err := tx.Model(&models.Match{}).Where("id = ?", m.ID).
				Updates(nodeColumns(n)).Error; err != nil {
				return fmt.Errorf("update match: %w", err)
			}
			changed = append(changed, m.ID)
		}

		if err := database.BumpVersion(tx, &models.Tournament{}, t.ID, t.Version); err != nil {
			return err
		}
		if winner, ok := plan.Champion(); ok {
			champion = winner
			if err := tx.Model(&models.Tournament{}).Where("id = ?", t.ID).Updates(map[string]any{
				"champion_team_id": winner,
				"status":           models.TournamentCompleted,
			}).Error; err != nil {
				return fmt.Errorf("crown champion: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var updated []models.Match
	if err := s.db.WithContext(ctx).Preload("HomeTeam").Preload("AwayTeam").
		Where("id IN ?", changed).Find(&updated).Error; err != nil {
		return nil, fmt.Errorf("reload matches: %w", err)
	}
	sortMatches(updated)
	s.publish(t.ID, updated)

	var recorded models.Match
	for _, m := range updated {
		if m.ID == matchID {
			recorded = m
		}
	}
	s.log.Info("match result recorded",
		zap.String("tournament_id", t.ID.String()),
		zap.String("match_id", matchID.String()),
		zap.Int("home", *in.HomeScore),
		zap.Int("away", *in.AwayScore),
		zap.Int("changed", len(updated)))

	teams := []uuid.UUID{*recorded.HomeTeamID, *recorded.AwayTeamID}
	s.notifyParticipants(ctx, t.ID, Notice{
		Kind:  models.NotifyMatchResult,
		Title: t.Name,
		Body:  matchResultMessage(recorded),
		Data:  map[string]any{"tournament_id": t.ID.String(), "match_id": matchID.String()},
	}, teams...)
	if champion != uuid.Nil {
		s.log.Info("tournament completed", zap.String("tournament_id", t.ID.String()), zap.String("champion", champion.String()))
		s.notifyParticipants(ctx, t.ID, Notice{
			Kind:  models.NotifyTournamentUpdate,
			Title: t.Name,
			Body:  tournamentStatusMessage(t.Name, models.TournamentCompleted),
			Data:  map[string]any{"tournament_id": t.ID.String(), "champion_team_id": champion.String()},
		})
	}
	return &recorded, nil
}

func matchResultMessage(m models.Match) string {
	home, away := "Home", "Away"
	if m.HomeTeam != nil {
		home = m.HomeTeam.Name
	}
	if m.AwayTeam != nil {
		away = m.AwayTeam.Name
	}
	return fmt.Sprintf("Final: %s %d, %s %d", home, deref(m.HomeScore), away, deref(m.AwayScore))
}

func (s *Tournaments) publish(tournamentID uuid.UUID, matches []models.Match) {
	if s.live == nil || len(matches) == 0 {
		return
	}
	s.live.MatchesChanged(tournamentID, matches)
}

// loadMatches returns the tournament's matches in bracket-node order.
func loadMatches(db *gorm.DB, tournamentID uuid.UUID) ([]models.Match, error) {
	var matches []models.Match
	if err := db.Where("tournament_id = ?", tournamentID).Find(&matches).Error; err != nil {
		return nil, fmt.Errorf("load matches: %w", err)
	}
	sortMatches(matches)
	return matches, nil
}

// sortMatches puts matches in the order the bracket package builds its nodes:
// winners, then losers, then the final, each by round and position.
func sortMatches(ms []models.Match) {
	section := map[models.BracketSide]int{models.BracketWinners: 0, models.BracketLosers: 1, models.BracketFinal: 2}
	sort.Slice(ms, func(i, j int) bool {
		a, b := ms[i], ms[j]
		if section[a.Bracket] != section[b.Bracket] {
			return section[a.Bracket] < section[b.Bracket]
		}
		if a.Round != b.Round {
			return a.Round < b.Round
		}
		return a.Position < b.Position
	})
}

// planToMatches gives every node a fresh ID and turns it into a Match row.
func planToMatches(tournamentID uuid.UUID, plan *bracket.Plan) []models.Match {
	ids := make([]uuid.UUID, len(plan.Nodes))
	for i := range ids {
		ids[i] = uuid.New()
	}
	link := func(l *bracket.Link) (*uuid.UUID, *models.Slot) {
		if l == nil {
			return nil, nil
		}
		return &ids[l.Node], ptr(models.Slot(l.Slot.String()))
	}

	out := make([]models.Match, len(plan.Nodes))
	for i, n := range plan.Nodes {
		m := models.Match{
			ID:           ids[i],
			TournamentID: tournamentID,
			Bracket:      models.BracketSide(n.Section),
			Round:        n.Round,
			Position:     n.Position,
		}
		m.NextMatchID, m.NextSlot = link(n.Next)
		m.LoserMatchID, m.LoserSlot = link(n.Loser)
		m.HomeTeamID, m.HomeSeed, m.HomeEmpty = entryColumns(n.Home)
		m.AwayTeamID, m.AwaySeed, m.AwayEmpty = entryColumns(n.Away)
		m.Status = matchStatus(n.Status)
		if n.Winner != uuid.Nil {
			m.WinnerTeamID = ptr(n.Winner)
		}
		out[i] = m
	}
	return out
}

// nodeColumns is the column update for a node that changed after a result.
func nodeColumns(n *bracket.Node) map[string]any {
	homeTeam, homeSeed, homeEmpty := entryColumns(n.Home)
	awayTeam, awaySeed, awayEmpty := entryColumns(n.Away)
	cols := map[string]any{
		"home_team_id":   homeTeam,
		"home_seed":      homeSeed,
		"home_empty":     homeEmpty,
		"away_team_id":   awayTeam,
		"away_seed":      awaySeed,
		"away_empty":     awayEmpty,
		"status":         matchStatus(n.Status),
		"winner_team_id": nil,
		"home_score":     nil,
		"away_score":     nil,
	}
	if n.Winner != uuid.Nil {
		cols["winner_team_id"] = n.Winner
	}
	if n.Status == bracket.Played {
		cols["home_score"], cols["away_score"] = n.HomeScore, n.AwayScore
	}
	return cols
}

func entryColumns(e bracket.Entry) (*uuid.UUID, *int, bool) {
	switch e.Fill {
	case bracket.Filled:
		var seed *int
		if e.Seed > 0 {
			seed = ptr(e.Seed)
		}
		return ptr(e.Team), seed, false
	case bracket.Empty:
		return nil, nil, true
	default:
		return nil, nil, false
	}
}

func matchStatus(s bracket.Status) models.MatchStatus {
	switch s {
	case bracket.Ready:
		return models.MatchScheduled
	case bracket.Played:
		return models.MatchCompleted
	case bracket.Bye:
		return models.MatchBye
	default:
		return models.MatchPending
	}
}

// matchesToPlan rebuilds a bracket from stored matches (already in node order) and
// returns the match ID to node index mapping.
func matchesToPlan(matches []models.Match) (*bracket.Plan, map[uuid.UUID]int, error) {
	index := make(map[uuid.UUID]int, len(matches))
	for i, m := range matches {
		index[m.ID] = i
	}
	link := func(id *uuid.UUID, slot *models.Slot) (*bracket.Link, error) {
		if id == nil {
			return nil, nil
		}
		i, ok := index[*id]
		if !ok {
			return nil, fmt.Errorf("link to unknown match %s", *id)
		}
		l := &bracket.Link{Node: i, Slot: bracket.Home}
		if slot != nil && *slot == models.SlotAway {
			l.Slot = bracket.Away
		}
		return l, nil
	}

	nodes := make([]*bracket.Node, len(matches))
	for i, m := range matches {
		n := &bracket.Node{
			Index:    i,
			Section:  bracket.Section(m.Bracket),
			Round:    m.Round,
			Position: m.Position,
			Home:     entryFrom(m.HomeTeamID, m.HomeSeed, m.HomeEmpty),
			Away:     entryFrom(m.AwayTeamID, m.AwaySeed, m.AwayEmpty),
		}
		var err error
		if n.Next, err = link(m.NextMatchID, m.NextSlot); err != nil {
			return nil, nil, err
		}
		if n.Loser, err = link(m.LoserMatchID, m.LoserSlot); err != nil {
			return nil, nil, err
		}
		switch m.Status {
		case models.MatchScheduled:
			n.Status = bracket.Ready
		case models.MatchCompleted:
			n.Status = bracket.Played
		case models.MatchBye:
			n.Status = bracket.Bye
		default:
			n.Status = bracket.Waiting
		}
		if m.WinnerTeamID != nil {
			n.Winner = *m.WinnerTeamID
		}
		n.HomeScore, n.AwayScore = deref(m.HomeScore), deref(m.AwayScore)
		nodes[i] = n
	}
	plan, err := bracket.Restore(nodes)
	return plan, index, err
}

func entryFrom(team *uuid.UUID, seed *int, empty bool) bracket.Entry {
	switch {
	case team != nil:
		return bracket.Entry{Fill: bracket.Filled, Team: *team, Seed: deref(seed)}
	case empty:
		return bracket.Entry{Fill: bracket.Empty}
	default:
		return bracket.Entry{Fill: bracket.Pending}
	}
}

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

package services

// tournaments.go: the tournament lifecycle. Teams and invitations live in teams.go,
// seeding, brackets and results in matches.go.
//
//	draft ──▶ open ──▶ registration_closed ──▶ in_progress ──▶ completed
//	                                                │  ▲
//	                                                ▼  │
//	                                             postponed
//
// Every non-terminal state can also go to cancelled.

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/trentd187/puckdrop/internal/apperr"
	"github.com/trentd187/puckdrop/internal/database"
	"github.com/trentd187/puckdrop/internal/models"
)

// tournamentTransitions lists, for each status, the statuses it may move to.
var tournamentTransitions = map[models.TournamentStatus][]models.TournamentStatus{
	models.TournamentDraft:              {models.TournamentOpen, models.TournamentCancelled},
	models.TournamentOpen:               {models.TournamentRegistrationClosed, models.TournamentCancelled},
	models.TournamentRegistrationClosed: {models.TournamentInProgress, models.TournamentCancelled},
	models.TournamentInProgress:         {models.TournamentCompleted, models.TournamentPostponed, models.TournamentCancelled},
	models.TournamentPostponed:          {models.TournamentInProgress, models.TournamentCancelled},
}

// CanTransition reports whether a tournament may move from one status to another.
func CanTransition(from, to models.TournamentStatus) bool {
	for _, s := range tournamentTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// MatchPublisher is told about every match that changes, so live bracket views can
// refresh. The websocket hub implements it.
// MatchPublisher receives every batch of changed matches so live viewers can be
// updated. The websocket hub implements it.
type MatchPublisher interface {
	MatchesChanged(tournamentID uuid.UUID, matches []models.Match)
}

// Tournaments manages tournaments from draft to champion: lifecycle, teams and
// invitations, seeding, the bracket and results.
type Tournaments struct {
	db     *gorm.DB
	orgs   *Organizations
	notify *Notifications
	live   MatchPublisher
	log    *zap.Logger
	now    Clock
}

// NewTournaments wires the tournaments service. live may be nil when nobody needs
// live updates (tests, the migrate command).
func NewTournaments(db *gorm.DB, orgs *Organizations, notify *Notifications, live MatchPublisher, log *zap.Logger) *Tournaments {
	return &Tournaments{db: db, orgs: orgs, notify: notify, live: live, log: log, now: SystemClock}
}

const dateLayout = "2006-01-02"

// CreateTournamentInput is the body of POST /api/v1/tournaments.
type CreateTournamentInput struct {
	OrganizationID       *uuid.UUID              `json:"organization_id"`
	Name                 string                  `json:"name" validate:"required,min=2,max=120"`
	Description          *string                 `json:"description" validate:"omitempty,max=4000"`
	Location             string                  `json:"location" validate:"required,max=200"`
	Format               models.TournamentFormat `json:"format" validate:"required,oneof=single_elimination double_elimination"`
	StartsOn             string                  `json:"starts_on" validate:"required,datetime=2006-01-02"`
	EndsOn               *string                 `json:"ends_on" validate:"omitempty,datetime=2006-01-02"`
	MaxTeams             int                     `json:"max_teams" validate:"required,min=2,max=128"`
	MinRoster            int                     `json:"min_roster" validate:"omitempty,min=1,max=50"`
	MaxRoster            int                     `json:"max_roster" validate:"required,min=1,max=50"`
	EntryFeeCents        int                     `json:"entry_fee_cents" validate:"min=0,max=10000000"`
	RegistrationClosesAt *time.Time              `json:"registration_closes_at"`
}

// Create starts a tournament in draft. Nobody but its managers sees it until it opens.
func (s *Tournaments) Create(ctx context.Context, actor Actor, in CreateTournamentInput) (*models.Tournament, error) {
	if !actor.CanOrganize() {
		return nil, forbidden("only organizers can create tournaments")
	}
	if err := validateInput(in); err != nil {
		return nil, err
	}
	if in.MinRoster == 0 {
		in.MinRoster = 1
	}
	if in.MaxRoster < in.MinRoster {
		return nil, invalidInput("max_roster must be at least min_roster")
	}
	startsOn, endsOn, err := parseDates(in.StartsOn, in.EndsOn)
	if err != nil {
		return nil, err
	}
	if in.OrganizationID != nil {
		org, err := s.orgs.requireAdmin(ctx, actor, *in.OrganizationID)
		if err != nil {
			return nil, err
		}
		if !org.IsActive {
			return nil, invalidState("organization is inactive")
		}
	}

	t := models.Tournament{
		OrganizationID:       in.OrganizationID,
		CreatedBy:            actor.ID,
		Name:                 strings.TrimSpace(in.Name),
		Description:          in.Description,
		Location:             strings.TrimSpace(in.Location),
		Format:               in.Format,
		Status:               models.TournamentDraft,
		StartsOn:             startsOn,
		EndsOn:               endsOn,
		MaxTeams:             in.MaxTeams,
		MinRoster:            in.MinRoster,
		MaxRoster:            in.MaxRoster,
		EntryFeeCents:        in.EntryFeeCents,
		RegistrationClosesAt: in.RegistrationClosesAt,
		Version:              1,
	}
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(&t).Error; err != nil {
		return nil, fmt.Errorf("create tournament: %w", err)
	}
	s.log.Info("tournament created", zap.String("tournament_id", t.ID.String()), zap.String("format", string(t.Format)))
	return &t, nil
}

func parseDates(starts string, ends *string) (time.Time, *time.Time, error) {
	startsOn, err := time.Parse(dateLayout, starts)
	if err != nil {
		return time.Time{}, nil, invalidInput("starts_on must be YYYY-MM-DD")
	}
	if ends == nil || *ends == "" {
		return startsOn, nil, nil
	}
	endsOn, err := time.Parse(dateLayout, *ends)
	if err != nil {
		return time.Time{}, nil, invalidInput("ends_on must be YYYY-MM-DD")
	}
	if endsOn.Before(startsOn) {
		return time.Time{}, nil, invalidInput("ends_on is before starts_on")
	}
	return startsOn, &endsOn, nil
}

// TournamentDetail is the tournament screen.
type TournamentDetail struct {
	Tournament models.Tournament
	Teams      []models.TournamentTeam // Registered, by seed then registration time
	Waitlist   []models.TournamentTeam // By waitlist position
	MyTeam     *models.TournamentTeam  // The team the viewer captains or plays on, if any
	CanManage  bool
}

// Get returns a tournament with its teams. Drafts look like they do not exist to
// anyone who cannot manage them.
func (s *Tournaments) Get(ctx context.Context, id uuid.UUID, viewer Actor) (*TournamentDetail, error) {
	db := s.db.WithContext(ctx)
	t, err := loadTournament(db.Preload("Organization").Preload("Creator"), id)
	if err != nil {
		return nil, err
	}
	canManage, err := canManageTournament(db, viewer, t)
	if err != nil {
		return nil, err
	}
	if t.Status == models.TournamentDraft && !canManage {
		return nil, notFound(gorm.ErrRecordNotFound, "tournament")
	}

	var teams []models.TournamentTeam
	if err := db.Preload("Captain").Preload("Members", "status <> ?", models.MemberDeclined).Preload("Members.User").
		Where("tournament_id = ? AND status <> ?", id, models.TeamWithdrawn).
		Order("seed NULLS LAST, created_at").Find(&teams).Error; err != nil {
		return nil, fmt.Errorf("load teams: %w", err)
	}

	d := &TournamentDetail{Tournament: *t, CanManage: canManage}
	for i := range teams {
		team := teams[i]
		if team.Status == models.TeamRegistered {
			d.Teams = append(d.Teams, team)
		} else {
			d.Waitlist = append(d.Waitlist, team)
		}
		for _, m := range team.Members {
			if m.UserID == viewer.ID && m.Status == models.MemberAccepted {
				d.MyTeam = &teams[i]
			}
		}
	}
	sortTeamWaitlist(d.Waitlist)
	return d, nil
}

// TournamentFilter narrows List.
type TournamentFilter struct {
	OrganizationID *uuid.UUID
	Status         *models.TournamentStatus
	Limit          int
}

// TournamentSummary is one row of the tournaments list.
type TournamentSummary struct {
	models.Tournament
	TeamCount int64
}

// List returns tournaments by start date. Drafts only show up for their managers.
func (s *Tournaments) List(ctx context.Context, viewer Actor, f TournamentFilter) ([]TournamentSummary, error) {
	db := s.db.WithContext(ctx)
	q := db.Model(&models.Tournament{}).Preload("Organization")
	if !viewer.IsAdmin() {
		q = q.Where("status <> ? OR created_by = ? OR organization_id IN (?)", models.TournamentDraft, viewer.ID,
			db.Model(&models.OrganizationAdmin{}).Select("organization_id").Where("user_id = ?", viewer.ID))
	}
	if f.OrganizationID != nil {
		q = q.Where("organization_id = ?", *f.OrganizationID)
	}
	if f.Status != nil {
		q = q.Where("status = ?", *f.Status)
	}
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 100
	}

	var ts []models.Tournament
	if err := q.Order("starts_on DESC, created_at DESC").Limit(f.Limit).Find(&ts).Error; err != nil {
		return nil, fmt.Errorf("list tournaments: %w", err)
	}
	out := make([]TournamentSummary, len(ts))
	if len(ts) == 0 {
		return out, nil
	}

	ids := make([]uuid.UUID, len(ts))
	for i, t := range ts {
		ids[i] = t.ID
		out[i].Tournament = t
	}
	var counts []struct {
		TournamentID uuid.UUID
		N            int64
	}
	if err := db.Model(&models.TournamentTeam{}).Select("tournament_id, count(*) AS n").
		Where("tournament_id IN ? AND status = ?", ids, models.TeamRegistered).
		Group("tournament_id").Scan(&counts).Error; err != nil {
		return nil, fmt.Errorf("count teams: %w", err)
	}
	byID := make(map[uuid.UUID]int64, len(counts))
	for _, c := range counts {
		byID[c.TournamentID] = c.N
	}
	for i := range out {
		out[i].TeamCount = byID[out[i].ID]
	}
	return out, nil
}

// UpdateTournamentInput edits a draft or open tournament. Version works like
// UpdateEventInput.Version.
type UpdateTournamentInput struct {
	Version              int                      `json:"version" validate:"required,min=1"`
	Name                 *string                  `json:"name" validate:"omitempty,min=2,max=120"`
	Description          *string                  `json:"description" validate:"omitempty,max=4000"`
	Location             *string                  `json:"location" validate:"omitempty,max=200"`
	Format               *models.TournamentFormat `json:"format" validate:"omitempty,oneof=single_elimination double_elimination"`
	StartsOn             *string                  `json:"starts_on" validate:"omitempty,datetime=2006-01-02"`
	EndsOn               *string                  `json:"ends_on" validate:"omitempty,datetime=2006-01-02"`
	MaxTeams             *int                     `json:"max_teams" validate:"omitempty,min=2,max=128"`
	MaxRoster            *int                     `json:"max_roster" validate:"omitempty,min=1,max=50"`
	EntryFeeCents        *int                     `json:"entry_fee_cents" validate:"omitempty,min=0,max=10000000"`
	RegistrationClosesAt *time.Time               `json:"registration_closes_at"`
}

// Update edits a tournament while it is still a draft or open for registration.
// The version must match the one the client read.
func (s *Tournaments) Update(ctx context.Context, actor Actor, id uuid.UUID, in UpdateTournamentInput) (*models.Tournament, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	var (
		t        *models.Tournament
		promoted []models.TournamentTeam
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if t, err = requireTournamentManager(tx, actor, id); err != nil {
			return err
		}
		if t.Status != models.TournamentDraft && t.Status != models.TournamentOpen {
			return invalidState("a %s tournament cannot be edited", t.Status)
		}
		if t.Version != in.Version {
			return fmt.Errorf("%w: the tournament was changed by someone else, reload and try again", apperr.ErrConcurrentModification)
		}

		changes := map[string]any{}
		if in.Name != nil {
			changes["name"] = strings.TrimSpace(*in.Name)
		}
		if in.Description != nil {
			changes["description"] = emptyToNil(*in.Description)
		}
		if in.Location != nil {
			changes["location"] = strings.TrimSpace(*in.Location)
		}
		if in.Format != nil && *in.Format != t.Format {
			if t.Status != models.TournamentDraft {
				return invalidState("the format can only change while the tournament is a draft")
			}
			changes["format"] = *in.Format
		}
		if in.StartsOn != nil || in.EndsOn != nil {
			starts := t.StartsOn.Format(dateLayout)
			if in.StartsOn != nil {
				starts = *in.StartsOn
			}
			ends := in.EndsOn
			if ends == nil && t.EndsOn != nil {
				ends = ptr(t.EndsOn.Format(dateLayout))
			}
			startsOn, endsOn, err := parseDates(starts, ends)
			if err != nil {
				return err
			}
			changes["starts_on"], changes["ends_on"] = startsOn, endsOn
		}
		if in.MaxTeams != nil {
			registered, err := countTeams(tx, id, models.TeamRegistered)
			if err != nil {
				return err
			}
			if int64(*in.MaxTeams) < registered {
				return invalidState("%d teams are already registered", registered)
			}
			changes["max_teams"] = *in.MaxTeams
		}
		if in.MaxRoster != nil {
			if *in.MaxRoster < t.MinRoster {
				return invalidInput("max_roster must be at least min_roster")
			}
			changes["max_roster"] = *in.MaxRoster
		}
		if in.EntryFeeCents != nil {
			changes["entry_fee_cents"] = *in.EntryFeeCents
		}
		if in.RegistrationClosesAt != nil {
			changes["registration_closes_at"] = *in.RegistrationClosesAt
		}

		if err := database.BumpVersion(tx, &models.Tournament{}, id, in.Version); err != nil {
			return err
		}
		if len(changes) > 0 {
			if err := tx.Model(&models.Tournament{}).Where("id = ?", id).Updates(changes).Error; err != nil {
				return fmt.Errorf("update tournament: %w", err)
			}
		}
		if t, err = loadTournament(tx, id); err != nil {
			return err
		}
		// More room: pull teams off the waitlist.
		if in.MaxTeams != nil {
			promoted, err = promoteTeamsTx(tx, t)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	s.notifyTeamsPromoted(ctx, t, promoted)
	return t, nil
}

// Transition moves a tournament through its lifecycle.
func (s *Tournaments) Transition(ctx context.Context, actor Actor, id uuid.UUID, to models.TournamentStatus) (*models.Tournament, error) {
	var (
		t    *models.Tournament
		from models.TournamentStatus
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if t, err = requireTournamentManager(tx, actor, id); err != nil {
			return err
		}
		from = t.Status
		if !CanTransition(from, to) {
			return invalidState("a tournament cannot go from %s to %s", from, to)
		}

		// Closing registration has no team minimum: GenerateBracket is what needs
		// two teams, and an organizer may close early and cancel.
		switch {
		case to == models.TournamentInProgress && from == models.TournamentRegistrationClosed:
			var matches int64
			if err := tx.Model(&models.Match{}).Where("tournament_id = ?", id).Count(&matches).Error; err != nil {
				return err
			}
			if matches == 0 {
				return invalidState("generate the bracket before starting the tournament")
			}
		case to == models.TournamentCompleted:
			if t.ChampionTeamID == nil {
				return invalidState("the final has not been played")
			}
		}

		if err := database.BumpVersion(tx, &models.Tournament{}, id, t.Version); err != nil {
			return err
		}
		if err := tx.Model(&models.Tournament{}).Where("id = ?", id).Update("status", to).Error; err != nil {
			return fmt.Errorf("update tournament status: %w", err)
		}
		t.Status = to
		t.Version++
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("tournament status changed",
		zap.String("tournament_id", id.String()),
		zap.String("from", string(from)),
		zap.String("to", string(to)))

	notice := Notice{
		Kind:  models.NotifyTournamentUpdate,
		Title: t.Name,
		Body:  tournamentStatusMessage(t.Name, to),
		Data:  map[string]any{"tournament_id": id.String(), "status": string(to)},
	}
	if to == models.TournamentOpen {
		if t.OrganizationID != nil {
			s.orgs.notifySubscribers(ctx, *t.OrganizationID, actor.ID, notice)
		}
	} else {
		s.notifyParticipants(ctx, id, notice)
	}
	return t, nil
}

func tournamentStatusMessage(name string, to models.TournamentStatus) string {
	switch to {
	case models.TournamentOpen:
		return name + " is open for team registration."
	case models.TournamentRegistrationClosed:
		return "Registration for " + name + " is closed. The bracket is coming."
	case models.TournamentInProgress:
		return name + " is under way."
	case models.TournamentPostponed:
		return name + " has been postponed."
	case models.TournamentCompleted:
		return name + " is over. Thanks for playing!"
	case models.TournamentCancelled:
		return name + " has been cancelled."
	default:
		return name + " was updated."
	}
}

// participants are the accepted members of the tournament's registered teams,
// optionally only of the given teams.
func participants(db *gorm.DB, tournamentID uuid.UUID, teams ...uuid.UUID) ([]uuid.UUID, error) {
	q := db.Model(&models.TournamentTeamMember{}).
		Joins("JOIN tournament_teams ON tournament_teams.id = tournament_team_members.team_id").
		Where("tournament_teams.tournament_id = ? AND tournament_teams.status <> ? AND tournament_team_members.status = ?",
			tournamentID, models.TeamWithdrawn, models.MemberAccepted)
	if len(teams) > 0 {
		q = q.Where("tournament_teams.id IN ?", teams)
	}
	var users []uuid.UUID
	err := q.Pluck("tournament_team_members.user_id", &users).Error
	return users, err
}

func (s *Tournaments) notifyParticipants(ctx context.Context, id uuid.UUID, n Notice, teams ...uuid.UUID) {
	users, err := participants(s.db.WithContext(ctx), id, teams...)
	if err != nil {
		s.log.Error("load participants", zap.String("tournament_id", id.String()), zap.Error(err))
		return
	}
	s.notify.notifyAfter(ctx, users, n)
}

func loadTournament(db *gorm.DB, id uuid.UUID) (*models.Tournament, error) {
	var t models.Tournament
	if err := db.First(&t, "tournaments.id = ?", id).Error; err != nil {
		return nil, notFound(err, "tournament")
	}
	return &t, nil
}

// canManageTournament: same rule as events.
func canManageTournament(db *gorm.DB, actor Actor, t *models.Tournament) (bool, error) {
	if actor.IsAdmin() || t.CreatedBy == actor.ID {
		return true, nil
	}
	if t.OrganizationID == nil {
		return false, nil
	}
	return isOrgAdmin(db, *t.OrganizationID, actor.ID)
}

func requireTournamentManager(tx *gorm.DB, actor Actor, id uuid.UUID) (*models.Tournament, error) {
	t, err := loadTournament(tx, id)
	if err != nil {
		return nil, err
	}
	ok, err := canManageTournament(tx, actor, t)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, forbidden("only the tournament's organizers can do that")
	}
	return t, nil
}

func countTeams(tx *gorm.DB, tournamentID uuid.UUID, status models.TeamStatus) (int64, error) {
	var n int64
	err := tx.Model(&models.TournamentTeam{}).
		Where("tournament_id = ? AND status = ?", tournamentID, status).Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count teams: %w", err)
	}
	return n, nil
}

package services

// teams.go: tournament teams. A team is registered by its captain, fills its roster by
// invitation, and waits in a FIFO waitlist when the tournament is full. A player can
// be an accepted member of only one team per tournament.

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/trentd187/puckdrop/internal/database"
	"github.com/trentd187/puckdrop/internal/models"
)

// RegisterTeamInput is the body of POST /api/v1/tournaments/:id/teams.
type RegisterTeamInput struct {
	Name     string          `json:"name" validate:"required,min=2,max=60"`
	Position models.Position `json:"position" validate:"omitempty,oneof=forward defense goalie"`
}

// RegisterTeam enters a new team captained by the actor.
func (s *Tournaments) RegisterTeam(ctx context.Context, actor Actor, tournamentID uuid.UUID, in RegisterTeamInput) (*models.TournamentTeam, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	if in.Position == "" {
		in.Position = models.PositionForward
	}

	var team models.TournamentTeam
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := loadTournament(tx, tournamentID)
		if err != nil {
			return err
		}
		if t.Status != models.TournamentOpen {
			return invalidState("tournament is not open for registration")
		}
		if t.RegistrationClosesAt != nil && !s.now().Before(*t.RegistrationClosesAt) {
			return invalidState("registration is closed")
		}
		if err := checkNotOnTeam(tx, tournamentID, actor.ID); err != nil {
			return err
		}

		registered, err := countTeams(tx, tournamentID, models.TeamRegistered)
		if err != nil {
			return err
		}
		team = models.TournamentTeam{
			TournamentID:  tournamentID,
			Name:          strings.TrimSpace(in.Name),
			CaptainID:     actor.ID,
			Status:        models.TeamRegistered,
			PaymentStatus: models.PaymentPending,
		}
		if registered >= int64(t.MaxTeams) {
			var last int
			if err := tx.Model(&models.TournamentTeam{}).
				Where("tournament_id = ? AND status = ?", tournamentID, models.TeamWaitlisted).
				Select("COALESCE(MAX(waitlist_position), 0)").Scan(&last).Error; err != nil {
				return err
			}
			team.Status = models.TeamWaitlisted
			team.WaitlistPosition = ptr(last + 1)
		}
		if err := tx.Omit(clause.Associations).Create(&team).Error; err != nil {
			return conflictOr(err, "a team with that name is already registered")
		}

		captain := models.TournamentTeamMember{
			TeamID:      team.ID,
			UserID:      actor.ID,
			Role:        models.MemberCaptain,
			Status:      models.MemberAccepted,
			Position:    in.Position,
			InvitedBy:   actor.ID,
			RespondedAt: ptr(s.now()),
		}
		if err := tx.Omit(clause.Associations).Create(&captain).Error; err != nil {
			return fmt.Errorf("add captain: %w", err)
		}
		team.Members = []models.TournamentTeamMember{captain}
		return database.BumpVersion(tx, &models.Tournament{}, tournamentID, t.Version)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("team registered",
		zap.String("tournament_id", tournamentID.String()),
		zap.String("team_id", team.ID.String()),
		zap.String("status", string(team.Status)))
	return &team, nil
}

// WithdrawTeam pulls a team out before the tournament starts. Its spot goes to the
// first team on the waitlist, and a bracket that was already generated is discarded
// because it still has the withdrawn team in it.
func (s *Tournaments) WithdrawTeam(ctx context.Context, actor Actor, teamID uuid.UUID) (*models.TournamentTeam, error) {
	var (
		team     *models.TournamentTeam
		t        *models.Tournament
		promoted []models.TournamentTeam
		dropped  bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if team, t, err = s.loadTeam(tx, teamID); err != nil {
			return err
		}
		if team.CaptainID != actor.ID {
			if ok, err := canManageTournament(tx, actor, t); err != nil {
				return err
			} else if !ok {
				return forbidden("only the captain can withdraw a team")
			}
		}
		switch t.Status {
		case models.TournamentDraft, models.TournamentOpen, models.TournamentRegistrationClosed:
		default:
			return invalidState("teams cannot withdraw from a %s tournament", t.Status)
		}
		if team.Status == models.TeamWithdrawn {
			return invalidState("team has already withdrawn")
		}

		was := team.Status
		if err := tx.Model(team).Updates(map[string]any{
			"status":            models.TeamWithdrawn,
			"waitlist_position": nil,
			"seed":              nil,
		}).Error; err != nil {
			return fmt.Errorf("withdraw team: %w", err)
		}
		team.Status, team.WaitlistPosition, team.Seed = models.TeamWithdrawn, nil, nil

		if was == models.TeamRegistered {
			if promoted, err = promoteTeamsTx(tx, t); err != nil {
				return err
			}
		} else if err := renumberTeamWaitlist(tx, t.ID); err != nil {
			return err
		}
		if was == models.TeamRegistered {
			if dropped, err = dropBracket(tx, t.ID); err != nil {
				return err
			}
		}
		return database.BumpVersion(tx, &models.Tournament{}, t.ID, t.Version)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("team withdrawn", zap.String("team_id", teamID.String()), zap.Bool("bracket_discarded", dropped))
	s.notifyTeamsPromoted(ctx, t, promoted)
	return team, nil
}

// promoteTeamsTx fills free team spots from the waitlist, lowest position first.
func promoteTeamsTx(tx *gorm.DB, t *models.Tournament) ([]models.TournamentTeam, error) {
	registered, err := countTeams(tx, t.ID, models.TeamRegistered)
	if err != nil {
		return nil, err
	}
	free := t.MaxTeams - int(registered)
	if free <= 0 {
		return nil, nil
	}
	var next []models.TournamentTeam
	if err := tx.Where("tournament_id = ? AND status = ?", t.ID, models.TeamWaitlisted).
		Order("waitlist_position").Limit(free).Find(&next).Error; err != nil {
		return nil, fmt.Errorf("load team waitlist: %w", err)
	}
	if len(next) == 0 {
		return nil, nil
	}
	for i := range next {
		if err := tx.Model(&next[i]).Updates(map[string]any{
			"status":            models.TeamRegistered,
			"waitlist_position": nil,
		}).Error; err != nil {
			return nil, fmt.Errorf("promote team: %w", err)
		}
		next[i].Status, next[i].WaitlistPosition = models.TeamRegistered, nil
	}
	return next, renumberTeamWaitlist(tx, t.ID)
}

func renumberTeamWaitlist(tx *gorm.DB, tournamentID uuid.UUID) error {
	var waiting []models.TournamentTeam
	if err := tx.Where("tournament_id = ? AND status = ?", tournamentID, models.TeamWaitlisted).
		Order("waitlist_position, created_at").Find(&waiting).Error; err != nil {
		return fmt.Errorf("load team waitlist: %w", err)
	}
	for i, team := range waiting {
		if team.WaitlistPosition != nil && *team.WaitlistPosition == i+1 {
			continue
		}
		if err := tx.Model(&models.TournamentTeam{}).Where("id = ?", team.ID).
			Update("waitlist_position", i+1).Error; err != nil {
			return fmt.Errorf("renumber team waitlist: %w", err)
		}
	}
	return nil
}

func (s *Tournaments) notifyTeamsPromoted(ctx context.Context, t *models.Tournament, teams []models.TournamentTeam) {
	for _, team := range teams {
		s.notifyParticipants(ctx, t.ID, Notice{
			Kind:  models.NotifyTournamentUpdate,
			Title: "You're in " + t.Name,
			Body:  fmt.Sprintf("%s moved off the waitlist and is registered.", team.Name),
			Data:  map[string]any{"tournament_id": t.ID.String(), "team_id": team.ID.String()},
		}, team.ID)
	}
}

// InviteMemberInput names the player a captain wants on the team.
type InviteMemberInput struct {
	UserID   uuid.UUID       `json:"user_id" validate:"required"`
	Position models.Position `json:"position" validate:"omitempty,oneof=forward defense goalie"`
}

// InviteMember asks a player to join the team. Pending invitations hold a roster spot.
func (s *Tournaments) InviteMember(ctx context.Context, actor Actor, teamID uuid.UUID, in InviteMemberInput) (*models.TournamentTeamMember, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}

	var (
		member models.TournamentTeamMember
		team   *models.TournamentTeam
		t      *models.Tournament
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if team, t, err = s.requireCaptain(tx, actor, teamID); err != nil {
			return err
		}
		if err := rosterOpen(t, team); err != nil {
			return err
		}

		var invitee models.User
		if err := tx.First(&invitee, "id = ?", in.UserID).Error; err != nil {
			return notFound(err, "user")
		}
		if in.Position == "" {
			in.Position = invitee.Position
		}
		if err := checkNotOnTeam(tx, t.ID, in.UserID); err != nil {
			return err
		}
		if err := checkRosterRoom(tx, t, teamID); err != nil {
			return err
		}

		// A declined invitation can be sent again.
		err = tx.Where("team_id = ? AND user_id = ?", teamID, in.UserID).First(&member).Error
		switch {
		case err == nil && member.Status != models.MemberDeclined:
			return conflictOr(gorm.ErrDuplicatedKey, "that player is already on the team or invited")
		case err == nil:
			member.Status, member.Position, member.InvitedBy, member.RespondedAt = models.MemberInvited, in.Position, actor.ID, nil
			return tx.Model(&member).Updates(map[string]any{
				"status":       member.Status,
				"position":     member.Position,
				"invited_by":   member.InvitedBy,
				"responded_at": nil,
			}).Error
		case !isNotFound(err):
			return err
		}
		member = models.TournamentTeamMember{
			TeamID:    teamID,
			UserID:    in.UserID,
			Role:      models.MemberPlayer,
			Status:    models.MemberInvited,
			Position:  in.Position,
			InvitedBy: actor.ID,
		}
		if err := tx.Omit(clause.Associations).Create(&member).Error; err != nil {
			return conflictOr(err, "that player is already on the team or invited")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify.notifyAfter(ctx, []uuid.UUID{in.UserID}, Notice{
		Kind:  models.NotifyTeamInvitation,
		Title: "Team invitation",
		Body:  fmt.Sprintf("You've been invited to play for %s in %s.", team.Name, t.Name),
		Data:  map[string]any{"tournament_id": t.ID.String(), "team_id": teamID.String(), "member_id": member.ID.String()},
	})
	return &member, nil
}

// RespondInvitation accepts or declines an invitation addressed to the actor.
func (s *Tournaments) RespondInvitation(ctx context.Context, actor Actor, memberID uuid.UUID, accept bool) (*models.TournamentTeamMember, error) {
	var (
		member models.TournamentTeamMember
		team   *models.TournamentTeam
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&member, "id = ?", memberID).Error; err != nil {
			return notFound(err, "invitation")
		}
		if member.UserID != actor.ID {
			return notFound(gorm.ErrRecordNotFound, "invitation")
		}
		if member.Status != models.MemberInvited {
			return invalidState("invitation was already %s", member.Status)
		}
		var (
			t   *models.Tournament
			err error
		)
		if team, t, err = s.loadTeam(tx, member.TeamID); err != nil {
			return err
		}

		to := models.MemberDeclined
		if accept {
			if err := rosterOpen(t, team); err != nil {
				return err
			}
			if err := checkNotOnTeam(tx, t.ID, actor.ID); err != nil {
				return err
			}
			to = models.MemberAccepted
		}
		now := s.now()
		if err := tx.Model(&member).Updates(map[string]any{"status": to, "responded_at": now}).Error; err != nil {
			return fmt.Errorf("respond to invitation: %w", err)
		}
		member.Status, member.RespondedAt = to, &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	verb := "declined"
	if accept {
		verb = "accepted"
	}
	s.notify.notifyAfter(ctx, []uuid.UUID{team.CaptainID}, Notice{
		Kind:  models.NotifyTeamInvitation,
		Title: team.Name,
		Body:  "A player " + verb + " your invitation.",
		Data:  map[string]any{"team_id": team.ID.String(), "member_id": member.ID.String()},
	})
	return &member, nil
}

// RemoveMember takes a player off a team. The captain (or a tournament manager) can
// remove anyone but the captain; players can remove themselves.
func (s *Tournaments) RemoveMember(ctx context.Context, actor Actor, memberID uuid.UUID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var member models.TournamentTeamMember
		if err := tx.First(&member, "id = ?", memberID).Error; err != nil {
			return notFound(err, "team member")
		}
		team, t, err := s.loadTeam(tx, member.TeamID)
		if err != nil {
			return err
		}
		if member.Role == models.MemberCaptain {
			return invalidState("the captain cannot be removed; withdraw the team instead")
		}
		if member.UserID != actor.ID && team.CaptainID != actor.ID {
			if ok, err := canManageTournament(tx, actor, t); err != nil {
				return err
			} else if !ok {
				return forbidden("only the captain can remove players")
			}
		}
		if t.Status == models.TournamentCompleted || t.Status == models.TournamentCancelled {
			return invalidState("tournament is %s", t.Status)
		}
		return tx.Delete(&member).Error
	})
}

// MyInvitations lists the invitations waiting on the viewer.
func (s *Tournaments) MyInvitations(ctx context.Context, viewer Actor) ([]models.TournamentTeamMember, error) {
	var invites []models.TournamentTeamMember
	err := s.db.WithContext(ctx).Preload("Team").Preload("Team.Captain").
		Where("user_id = ? AND status = ?", viewer.ID, models.MemberInvited).
		Order("created_at DESC").Find(&invites).Error
	if err != nil {
		return nil, fmt.Errorf("list invitations: %w", err)
	}
	return invites, nil
}

// MarkTeamPaid is the captain saying the entry fee has been sent.
func (s *Tournaments) MarkTeamPaid(ctx context.Context, actor Actor, teamID uuid.UUID) (*models.TournamentTeam, error) {
	team, t, err := s.loadTeam(s.db.WithContext(ctx), teamID)
	if err != nil {
		return nil, err
	}
	if team.CaptainID != actor.ID {
		return nil, forbidden("only the captain can mark the entry fee paid")
	}
	if team.Status == models.TeamWithdrawn {
		return nil, invalidState("team has withdrawn")
	}
	if t.EntryFeeCents == 0 {
		return nil, invalidState("this tournament has no entry fee")
	}
	if team.PaymentStatus != models.PaymentPending {
		return nil, invalidState("payment is already %s", team.PaymentStatus)
	}
	return s.setTeamPayment(ctx, team, models.PaymentMarkedPaid)
}

// VerifyTeamPayment is a manager confirming the entry fee arrived.
func (s *Tournaments) VerifyTeamPayment(ctx context.Context, actor Actor, teamID uuid.UUID) (*models.TournamentTeam, error) {
	db := s.db.WithContext(ctx)
	team, t, err := s.loadTeam(db, teamID)
	if err != nil {
		return nil, err
	}
	if ok, err := canManageTournament(db, actor, t); err != nil {
		return nil, err
	} else if !ok {
		return nil, forbidden("only the tournament's organizers can verify payments")
	}
	if team.Status == models.TeamWithdrawn {
		return nil, invalidState("team has withdrawn")
	}
	if team.PaymentStatus == models.PaymentVerified {
		return nil, invalidState("payment is already verified")
	}
	team, err = s.setTeamPayment(ctx, team, models.PaymentVerified)
	if err != nil {
		return nil, err
	}
	s.notify.notifyAfter(ctx, []uuid.UUID{team.CaptainID}, Notice{
		Kind:  models.NotifyPaymentVerified,
		Title: "Entry fee received",
		Body:  fmt.Sprintf("%s's entry fee for %s is confirmed.", team.Name, t.Name),
		Data:  map[string]any{"tournament_id": t.ID.String(), "team_id": team.ID.String()},
	})
	return team, nil
}

func (s *Tournaments) setTeamPayment(ctx context.Context, team *models.TournamentTeam, to models.PaymentStatus) (*models.TournamentTeam, error) {
	if err := s.db.WithContext(ctx).Model(team).Update("payment_status", to).Error; err != nil {
		return nil, fmt.Errorf("update team payment: %w", err)
	}
	team.PaymentStatus = to
	return team, nil
}

func (s *Tournaments) loadTeam(tx *gorm.DB, id uuid.UUID) (*models.TournamentTeam, *models.Tournament, error) {
	var team models.TournamentTeam
	if err := tx.First(&team, "id = ?", id).Error; err != nil {
		return nil, nil, notFound(err, "team")
	}
	t, err := loadTournament(tx, team.TournamentID)
	if err != nil {
		return nil, nil, err
	}
	return &team, t, nil
}

func (s *Tournaments) requireCaptain(tx *gorm.DB, actor Actor, teamID uuid.UUID) (*models.TournamentTeam, *models.Tournament, error) {
	team, t, err := s.loadTeam(tx, teamID)
	if err != nil {
		return nil, nil, err
	}
	if team.CaptainID == actor.ID {
		return team, t, nil
	}
	ok, err := canManageTournament(tx, actor, t)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, forbidden("only the captain can do that")
	}
	return team, t, nil
}

// rosterOpen: rosters can change until the tournament is over.
func rosterOpen(t *models.Tournament, team *models.TournamentTeam) error {
	if team.Status == models.TeamWithdrawn {
		return invalidState("team has withdrawn")
	}
	switch t.Status {
	case models.TournamentCompleted, models.TournamentCancelled:
		return invalidState("tournament is %s", t.Status)
	}
	return nil
}

// checkRosterRoom counts pending invitations as well as accepted players.
func checkRosterRoom(tx *gorm.DB, t *models.Tournament, teamID uuid.UUID) error {
	var n int64
	if err := tx.Model(&models.TournamentTeamMember{}).
		Where("team_id = ? AND status IN ?", teamID, []models.MemberStatus{models.MemberInvited, models.MemberAccepted}).
		Count(&n).Error; err != nil {
		return fmt.Errorf("count roster: %w", err)
	}
	if n >= int64(t.MaxRoster) {
		return invalidState("the roster is full (%d players)", t.MaxRoster)
	}
	return nil
}

// checkNotOnTeam fails with a conflict when the user already plays for a team in the
// tournament.
func checkNotOnTeam(tx *gorm.DB, tournamentID, userID uuid.UUID) error {
	var n int64
	if err := tx.Model(&models.TournamentTeamMember{}).
		Joins("JOIN tournament_teams ON tournament_teams.id = tournament_team_members.team_id").
		Where("tournament_teams.tournament_id = ? AND tournament_teams.status <> ?", tournamentID, models.TeamWithdrawn).
		Where("tournament_team_members.user_id = ? AND tournament_team_members.status = ?", userID, models.MemberAccepted).
		Count(&n).Error; err != nil {
		return fmt.Errorf("check team membership: %w", err)
	}
	if n > 0 {
		return conflictOr(gorm.ErrDuplicatedKey, "player is already on a team in this tournament")
	}
	return nil
}

func sortTeamWaitlist(teams []models.TournamentTeam) {
	sort.SliceStable(teams, func(i, j int) bool {
		pi, pj := 0, 0
		if teams[i].WaitlistPosition != nil {
			pi = *teams[i].WaitlistPosition
		}
		if teams[j].WaitlistPosition != nil {
			pj = *teams[j].WaitlistPosition
		}
		return pi < pj
	})
}

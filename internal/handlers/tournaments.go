package handlers

// tournaments.go handles tournaments and the teams entered in them.
//
// A tournament moves through draft → open → registration_closed → in_progress →
// completed (with postponed and cancelled on the side). Captains register teams while
// it is open and invite players onto them; once registration closes the organizer
// seeds the teams and generates the bracket (see matches.go).

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/trentd187/puckdrop/internal/models"
	"github.com/trentd187/puckdrop/internal/services"
)

// TransitionRequest is the body of POST /api/v1/tournaments/:id/status.
type TransitionRequest struct {
	Status string `json:"status"`
}

// RespondInvitationRequest is the body of POST /api/v1/team-members/:id/respond.
type RespondInvitationRequest struct {
	Accept *bool `json:"accept"`
}

// ListTournaments handles GET /api/v1/tournaments, by start date.
// Query params: ?organization_id=, ?status=, ?limit=
func ListTournaments(tournaments *services.Tournaments) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := currentActor(c)
		if err != nil {
			return err
		}
		var f services.TournamentFilter
		if f.OrganizationID, err = queryUUID(c, "organization_id"); err != nil {
			return err
		}
		if f.Limit, err = queryInt(c, "limit", 0); err != nil {
			return err
		}
		if s := c.Query("status"); s != "" {
			status := models.TournamentStatus(s)
			f.Status = &status
		}
		list, err := tournaments.List(c.UserContext(), actor, f)
		if err != nil {
			return err
		}
		resp := make([]TournamentResponse, 0, len(list))
		for _, t := range list {
			resp = append(resp, newTournamentResponse(t.Tournament, t.TeamCount))
		}
		return c.JSON(resp)
	}
}

// CreateTournament handles POST /api/v1/tournaments (organizer and admin only).
// The tournament starts as a draft that only its managers can see.
func CreateTournament(tournaments *services.Tournaments) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := currentActor(c)
		if err != nil {
			return err
		}
		var req services.CreateTournamentInput
		if err := parseBody(c, &req); err != nil {
			return err
		}
		t, err := tournaments.Create(c.UserContext(), actor, req)
		if err != nil {
			return err
		}
		c.Status(fiber.StatusCreated)
		return respondTournament(c, tournaments, t.ID, actor)
	}
}

// GetTournament handles GET /api/v1/tournaments/:id.
func GetTournament(tournaments *services.Tournaments) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, id, err := actorAndID(c)
		if err != nil {
			return err
		}
		return respondTournament(c, tournaments, id, actor)
	}
}

// UpdateTournament handles PUT /api/v1/tournaments/:id. Like events, the body carries
// the version the client last saw.
func UpdateTournament(tournaments *services.Tournaments) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, id, err := actorAndID(c)
		if err != nil {
			return err
		}
		var req services.UpdateTournamentInput
		if err := parseBody(c, &req); err != nil {
			return err
		}
		if _, err := tournaments.Update(c.UserContext(), actor, id, req); err != nil {
			return err
		}
		return respondTournament(c, tournaments, id, actor)
	}
}

// TransitionTournament handles POST /api/v1/tournaments/:id/status.
// Transitions not in the lifecycle table are rejected with 400.
func TransitionTournament(tournaments *services.Tournaments) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, id, err := actorAndID(c)
		if err != nil {
			return err
		}
		var req TransitionRequest
		if err := parseBody(c, &req); err != nil {
			return err
		}
		if req.Status == "" {
			return fiber.NewError(fiber.StatusBadRequest, "status is required")
		}
		if _, err := tournaments.Transition(c.UserContext(), actor, id, models.TournamentStatus(req.Status)); err != nil {
			return err
		}
		return respondTournament(c, tournaments, id, actor)
	}
}

// RegisterTeam handles POST /api/v1/tournaments/:id/teams. The caller becomes the
// captain. A full tournament puts the team on its waitlist.
func RegisterTeam(tournaments *services.Tournaments) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, id, err := actorAndID(c)
		if err != nil {
			return err
		}
		var req services.RegisterTeamInput
		if err := parseBody(c, &req); err != nil {
			return err
		}
		team, err := tournaments.RegisterTeam(c.UserContext(), actor, id, req)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(newTeamResponse(*team))
	}
}

// WithdrawTeam handles DELETE /api/v1/tournament-teams/:id (captain or manager).
func WithdrawTeam(tournaments *services.Tournaments) fiber.Handler {
	return teamAction(tournaments.WithdrawTeam)
}

// MarkTeamPaid handles POST /api/v1/tournament-teams/:id/mark-paid (captain).
func MarkTeamPaid(tournaments *services.Tournaments) fiber.Handler {
	return teamAction(tournaments.MarkTeamPaid)
}

// VerifyTeamPayment handles POST /api/v1/tournament-teams/:id/verify-payment (manager).
func VerifyTeamPayment(tournaments *services.Tournaments) fiber.Handler {
	return teamAction(tournaments.VerifyTeamPayment)
}

func teamAction(fn func(context.Context, services.Actor, uuid.UUID) (*models.TournamentTeam, error)) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, id, err := actorAndID(c)
		if err != nil {
			return err
		}
		team, err := fn(c.UserContext(), actor, id)
		if err != nil {
			return err
		}
		return c.JSON(newTeamResponse(*team))
	}
}

// InviteMember handles POST /api/v1/tournament-teams/:id/invitations (captain).
// The invited player gets a push and answers through RespondInvitation.
func InviteMember(tournaments *services.Tournaments) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, id, err := actorAndID(c)
		if err != nil {
			return err
		}
		var req services.InviteMemberInput
		if err := parseBody(c, &req); err != nil {
			return err
		}
		member, err := tournaments.InviteMember(c.UserContext(), actor, id, req)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(newMemberResponse(*member))
	}
}

// RespondInvitation handles POST /api/v1/team-members/:id/respond with
// {"accept": true|false}. Only the invited player can answer.
func RespondInvitation(tournaments *services.Tournaments) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, id, err := actorAndID(c)
		if err != nil {
			return err
		}
		var req RespondInvitationRequest
		if err := parseBody(c, &req); err != nil {
			return err
		}
		if req.Accept == nil {
			return fiber.NewError(fiber.StatusBadRequest, "accept is required")
		}
		member, err := tournaments.RespondInvitation(c.UserContext(), actor, id, *req.Accept)
		if err != nil {
			return err
		}
		return c.JSON(newMemberResponse(*member))
	}
}

// RemoveMember handles DELETE /api/v1/team-members/:id.
func RemoveMember(tournaments *services.Tournaments) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, id, err := actorAndID(c)
		if err != nil {
			return err
		}
		if err := tournaments.RemoveMember(c.UserContext(), actor, id); err != nil {
			return err
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// MyInvitations handles GET /api/v1/invitations/me: team invitations waiting on an answer.
func MyInvitations(tournaments *services.Tournaments) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := currentActor(c)
		if err != nil {
			return err
		}
		invites, err := tournaments.MyInvitations(c.UserContext(), actor)
		if err != nil {
			return err
		}
		resp := make([]MemberResponse, 0, len(invites))
		for _, m := range invites {
			resp = append(resp, newMemberResponse(m))
		}
		return c.JSON(resp)
	}
}

func respondTournament(c *fiber.Ctx, tournaments *services.Tournaments, id uuid.UUID, viewer services.Actor) error {
	detail, err := tournaments.Get(c.UserContext(), id, viewer)
	if err != nil {
		return err
	}
	return c.JSON(newTournamentDetailResponse(detail))
}

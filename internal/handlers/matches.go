package handlers

// matches.go: seeding, bracket generation, and recording results.
// Every change to the bracket is also pushed to live viewers over the WebSocket
// (see internal/websocket); these handlers only return the REST view.

import (
	"github.com/gofiber/fiber/v2"

	"github.com/trentd187/puckdrop/internal/services"
	"github.com/trentd187/puckdrop/internal/websocket"
)

// SetSeedsRequest is the body of PUT /api/v1/tournaments/:id/seeds.
type SetSeedsRequest struct {
	Seeds []services.TeamSeed `json:"seeds"`
}

// SetSeeds handles PUT /api/v1/tournaments/:id/seeds. Seed 1 is the strongest team;
// top seeds get the byes when the team count is not a power of two.
func SetSeeds(tournaments *services.Tournaments) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, id, err := actorAndID(c)
		if err != nil {
			return err
		}
		var req SetSeedsRequest
		if err := parseBody(c, &req); err != nil {
			return err
		}
		teams, err := tournaments.SetSeeds(c.UserContext(), actor, id, req.Seeds)
		if err != nil {
			return err
		}
		return c.JSON(teamResponses(teams))
	}
}

// GenerateBracket handles POST /api/v1/tournaments/:id/bracket. Allowed once
// registration is closed; generating again replaces the previous bracket.
func GenerateBracket(tournaments *services.Tournaments) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, id, err := actorAndID(c)
		if err != nil {
			return err
		}
		view, err := tournaments.GenerateBracket(c.UserContext(), actor, id)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(newBracketResponse(view))
	}
}

// GetBracket handles GET /api/v1/tournaments/:id/bracket.
func GetBracket(tournaments *services.Tournaments) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, id, err := actorAndID(c)
		if err != nil {
			return err
		}
		// Get hides drafts from everyone but their managers; the bracket follows suit.
		if _, err := tournaments.Get(c.UserContext(), id, actor); err != nil {
			return err
		}
		view, err := tournaments.Bracket(c.UserContext(), id)
		if err != nil {
			return err
		}
		return c.JSON(newBracketResponse(view))
	}
}

// LiveBracketPrecheck runs before the WebSocket upgrade on
// GET /api/v1/tournaments/:id/live so that an unknown or hidden tournament gets a
// plain 404 instead of an open socket that never receives anything.
func LiveBracketPrecheck(tournaments *services.Tournaments) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, id, err := actorAndID(c)
		if err != nil {
			return err
		}
		if _, err := tournaments.Get(c.UserContext(), id, actor); err != nil {
			return err
		}
		return c.Next()
	}
}

// ScheduleMatch handles PUT /api/v1/matches/:id/schedule.
func ScheduleMatch(tournaments *services.Tournaments) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, id, err := actorAndID(c)
		if err != nil {
			return err
		}
		var req services.ScheduleMatchInput
		if err := parseBody(c, &req); err != nil {
			return err
		}
		m, err := tournaments.ScheduleMatch(c.UserContext(), actor, id, req)
		if err != nil {
			return err
		}
		return c.JSON(websocket.NewMatchPayload(*m))
	}
}

// RecordResult handles POST /api/v1/matches/:id/result with the final score.
// Ties are rejected. The winner advances and, in double elimination, the loser drops
// to the losers bracket; recording the final crowns the champion.
func RecordResult(tournaments *services.Tournaments) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, id, err := actorAndID(c)
		if err != nil {
			return err
		}
		var req services.RecordResultInput
		if err := parseBody(c, &req); err != nil {
			return err
		}
		m, err := tournaments.RecordResult(c.UserContext(), actor, id, req)
		if err != nil {
			return err
		}
		return c.JSON(websocket.NewMatchPayload(*m))
	}
}

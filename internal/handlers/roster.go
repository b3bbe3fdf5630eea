package handlers

// roster.go: splitting an event's registered players into light and dark jerseys.

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/trentd187/puckdrop/internal/services"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// AssignTeamsRequest is the body of PUT /api/v1/events/:id/roster. Only the listed
// registrations change; a null team moves the player back to "unassigned".
type AssignTeamsRequest struct {
	Assignments []services.TeamAssignment `json:"assignments"`
}

// GetRoster handles GET /api/v1/events/:id/roster.
func GetRoster(rosters *services.Rosters) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := paramID(c, "id")
		if err != nil {
			return err
		}
		r, err := rosters.Get(c.UserContext(), id)
		if err != nil {
			return err
		}
		return c.JSON(newRosterResponse(r))
	}
}

// AssignTeams handles PUT /api/v1/events/:id/roster (event managers).
func AssignTeams(rosters *services.Rosters) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, id, err := actorAndID(c)
		if err != nil {
			return err
		}
		var req AssignTeamsRequest
		if err := parseBody(c, &req); err != nil {
			return err
		}
		r, err := rosters.AssignTeams(c.UserContext(), actor, id, req.Assignments)
		if err != nil {
			return err
		}
		return c.JSON(newRosterResponse(r))
	}
}

// AutoBalanceRoster handles POST /api/v1/events/:id/roster/balance: every registered
// player is dealt onto a team again by skill, goalies split first.
func AutoBalanceRoster(rosters *services.Rosters) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, id, err := actorAndID(c)
		if err != nil {
			return err
		}
		r, err := rosters.AutoBalance(c.UserContext(), actor, id)
		if err != nil {
			return err
		}
		return c.JSON(newRosterResponse(r))
	}
}

// PublishRoster handles POST /api/v1/events/:id/roster/publish. Players still
// unassigned are balanced in and everyone is told which jersey to bring.
func PublishRoster(rosters *services.Rosters) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, id, err := actorAndID(c)
		if err != nil {
			return err
		}
		r, err := rosters.Publish(c.UserContext(), actor, id)
		if err != nil {
			return err
		}
		return c.JSON(newRosterResponse(r))
	}
}

// ExportRoster handles GET /api/v1/events/:id/roster.xlsx: the line-up as an Excel
// workbook with one sheet per team, for the rink's scoresheet.
func ExportRoster(rosters *services.Rosters) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, id, err := actorAndID(c)
		if err != nil {
			return err
		}
		data, err := rosters.Export(c.UserContext(), actor, id)
		if err != nil {
			return err
		}
		name := "roster-" + strings.SplitN(id.String(), "-", 2)[0] + ".xlsx"
		c.Set(fiber.HeaderContentType, xlsxContentType)
		c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", name))
		return c.Send(data)
	}
}

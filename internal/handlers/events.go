package handlers

// events.go handles the /api/v1/events routes.
//
// An "event" is a single pickup game: a time, a rink, a number of spots, and a price.
// Players register for spots; once the game is full new registrations go to a FIFO
// waitlist (see registrations.go).
//
// --- Permission model ---
// Two layers of access control are used:
//
//  1. Route-level (middleware.RequireRole): only "organizer" and "admin" can create
//     events at all. Every authenticated user can read them.
//
//  2. Resource-level (inside the services): only the event's creator, admins of the
//     organization that runs it, and site admins can edit, cancel or manage it.

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/trentd187/puckdrop/internal/services"
)

// ListEvents handles GET /api/v1/events.
// Without ?from only games that have not started yet are listed, soonest first.
// Query params: ?organization_id=, ?from=, ?to= (RFC 3339), ?include_cancelled=true,
// ?mine=true (only games the viewer is in or waiting for), ?limit=
func ListEvents(events *services.Events) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := currentActor(c)
		if err != nil {
			return err
		}
		var f services.EventFilter
		if f.OrganizationID, err = queryUUID(c, "organization_id"); err != nil {
			return err
		}
		if f.From, err = queryTime(c, "from"); err != nil {
			return err
		}
		if f.To, err = queryTime(c, "to"); err != nil {
			return err
		}
		if f.Limit, err = queryInt(c, "limit", 0); err != nil {
			return err
		}
		f.IncludeCancelled = c.QueryBool("include_cancelled")
		f.Mine = c.QueryBool("mine")

		summaries, err := events.List(c.UserContext(), actor, f)
		if err != nil {
			return err
		}
		response := make([]EventResponse, 0, len(summaries))
		for _, s := range summaries {
			response = append(response, newEventResponse(s.Event, s.RegisteredCount, s.WaitlistCount, s.MyStatus))
		}
		return c.JSON(response)
	}
}

// CreateEvent handles POST /api/v1/events (organizer and admin only).
// starts_at accepts RFC 3339 or plain English ("next friday at 9pm") read in the
// given timezone. Subscribers of the organization get a push about the new game.
func CreateEvent(events *services.Events) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := currentActor(c)
		if err != nil {
			return err
		}
		var req services.CreateEventInput
		if err := parseBody(c, &req); err != nil {
			return err
		}
		event, err := events.Create(c.UserContext(), actor, req)
		if err != nil {
			return err
		}
		c.Status(fiber.StatusCreated)
		return respondEvent(c, events, event.ID, actor)
	}
}

// GetEvent handles GET /api/v1/events/:id: the event plus who is in and who is
// waiting. It is read-only; calling it twice returns the same payload.
func GetEvent(events *services.Events) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, id, err := actorAndID(c)
		if err != nil {
			return err
		}
		return respondEvent(c, events, id, actor)
	}
}

// UpdateEvent handles PUT /api/v1/events/:id. The body must carry the version the
// client last saw; a stale version gets 409 and the app reloads the event.
func UpdateEvent(events *services.Events) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, id, err := actorAndID(c)
		if err != nil {
			return err
		}
		var req services.UpdateEventInput
		if err := parseBody(c, &req); err != nil {
			return err
		}
		if _, err := events.Update(c.UserContext(), actor, id, req); err != nil {
			return err
		}
		return respondEvent(c, events, id, actor)
	}
}

// CancelEvent handles POST /api/v1/events/:id/cancel. Everyone registered or
// waitlisted is notified.
func CancelEvent(events *services.Events) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, id, err := actorAndID(c)
		if err != nil {
			return err
		}
		if _, err := events.Cancel(c.UserContext(), actor, id); err != nil {
			return err
		}
		return respondEvent(c, events, id, actor)
	}
}

// CompleteEvent handles POST /api/v1/events/:id/complete.
func CompleteEvent(events *services.Events) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, id, err := actorAndID(c)
		if err != nil {
			return err
		}
		if _, err := events.Complete(c.UserContext(), actor, id); err != nil {
			return err
		}
		return respondEvent(c, events, id, actor)
	}
}

// respondEvent writes the event detail as the viewer sees it. Mutating handlers use
// it so the app gets the same shape back that GET returns.
func respondEvent(c *fiber.Ctx, events *services.Events, id uuid.UUID, viewer services.Actor) error {
	detail, err := events.Get(c.UserContext(), id, viewer)
	if err != nil {
		return err
	}
	return c.JSON(newEventDetailResponse(detail))
}

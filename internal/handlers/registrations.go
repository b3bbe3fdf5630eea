package handlers

// registrations.go: signing up for a game, dropping out, the waitlist, and the
// manual Venmo payment flow (player marks paid, organizer verifies).

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/trentd187/puckdrop/internal/models"
	"github.com/trentd187/puckdrop/internal/services"
)

// ReorderWaitlistRequest is the body of PUT /api/v1/events/:id/waitlist: every
// waitlisted registration ID, in the new order.
type ReorderWaitlistRequest struct {
	RegistrationIDs []uuid.UUID `json:"registration_ids"`
}

// RegisterForEvent handles POST /api/v1/events/:id/register.
// Returns 201 with status "registered" when a spot was free, or "waitlisted" with
// the player's waitlist position when the game is full.
func RegisterForEvent(regs *services.Registrations) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, id, err := actorAndID(c)
		if err != nil {
			return err
		}
		var req services.RegisterForEventInput
		if err := parseBody(c, &req); err != nil {
			return err
		}
		reg, err := regs.Register(c.UserContext(), actor, id, req)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(newRegistrationResponse(*reg))
	}
}

// CancelRegistration handles DELETE /api/v1/registrations/:id. The player can drop
// out of their own registration and the event's managers can remove anyone. A freed
// spot goes to the head of the waitlist.
func CancelRegistration(regs *services.Registrations) fiber.Handler {
	return registrationAction(regs.Cancel)
}

// PromoteRegistration handles POST /api/v1/registrations/:id/promote: a manager moves
// a specific waitlisted player into the game, skipping the queue.
func PromoteRegistration(regs *services.Registrations) fiber.Handler {
	return registrationAction(regs.PromoteSpecific)
}

// MarkPaid handles POST /api/v1/registrations/:id/mark-paid (the player).
func MarkPaid(regs *services.Registrations) fiber.Handler {
	return registrationAction(regs.MarkPaid)
}

// VerifyPayment handles POST /api/v1/registrations/:id/verify-payment (a manager).
func VerifyPayment(regs *services.Registrations) fiber.Handler {
	return registrationAction(regs.VerifyPayment)
}

// ResetPayment handles POST /api/v1/registrations/:id/reset-payment (a manager),
// for when a payment marked as sent never showed up.
func ResetPayment(regs *services.Registrations) fiber.Handler {
	return registrationAction(regs.ResetPayment)
}

// registrationAction adapts the service methods that act on one registration by ID.
func registrationAction(fn func(context.Context, services.Actor, uuid.UUID) (*models.EventRegistration, error)) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, id, err := actorAndID(c)
		if err != nil {
			return err
		}
		reg, err := fn(c.UserContext(), actor, id)
		if err != nil {
			return err
		}
		return c.JSON(newRegistrationResponse(*reg))
	}
}

// ReorderWaitlist handles PUT /api/v1/events/:id/waitlist. The body must list every
// waitlisted registration exactly once.
func ReorderWaitlist(regs *services.Registrations) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, id, err := actorAndID(c)
		if err != nil {
			return err
		}
		var req ReorderWaitlistRequest
		if err := parseBody(c, &req); err != nil {
			return err
		}
		waitlist, err := regs.ReorderWaitlist(c.UserContext(), actor, id, req.RegistrationIDs)
		if err != nil {
			return err
		}
		return c.JSON(registrationResponses(waitlist))
	}
}

// MyRegistrations handles GET /api/v1/registrations/me.
// Query params: ?include_past=true
func MyRegistrations(regs *services.Registrations) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := currentActor(c)
		if err != nil {
			return err
		}
		list, err := regs.MyRegistrations(c.UserContext(), actor, c.QueryBool("include_past"))
		if err != nil {
			return err
		}
		return c.JSON(registrationResponses(list))
	}
}

// GetPaymentLink handles GET /api/v1/events/:id/payment-link: Venmo deep links with
// the amount and a note pre-filled. Nothing is charged by the API.
func GetPaymentLink(regs *services.Registrations) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := paramID(c, "id")
		if err != nil {
			return err
		}
		link, err := regs.PaymentLink(c.UserContext(), id)
		if err != nil {
			return err
		}
		return c.JSON(PaymentLinkResponse{
			Recipient:   link.Recipient,
			AmountCents: link.AmountCents,
			Note:        link.Note,
			AppURL:      link.AppURL,
			WebURL:      link.WebURL,
		})
	}
}

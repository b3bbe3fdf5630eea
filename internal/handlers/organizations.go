package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/trentd187/puckdrop/internal/services"
)

// AddAdminRequest is the body of POST /api/v1/organizations/:id/admins.
type AddAdminRequest struct {
	UserID uuid.UUID `json:"user_id"`
}

// ListOrganizations handles GET /api/v1/organizations.
// Query params: ?q= (name search), ?subscribed=true, ?include_inactive=true (admins only)
func ListOrganizations(orgs *services.Organizations) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := currentActor(c)
		if err != nil {
			return err
		}
		views, err := orgs.List(c.UserContext(), actor, services.OrganizationFilter{
			Query:           c.Query("q"),
			IncludeInactive: c.QueryBool("include_inactive"),
			SubscribedOnly:  c.QueryBool("subscribed"),
		})
		if err != nil {
			return err
		}
		resp := make([]OrganizationResponse, 0, len(views))
		for _, v := range views {
			resp = append(resp, newOrganizationResponse(v))
		}
		return c.JSON(resp)
	}
}

// CreateOrganization handles POST /api/v1/organizations (organizer and admin only).
// The creator becomes the organization's first admin and its first subscriber.
func CreateOrganization(orgs *services.Organizations) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := currentActor(c)
		if err != nil {
			return err
		}
		var req services.CreateOrganizationInput
		if err := parseBody(c, &req); err != nil {
			return err
		}
		org, err := orgs.Create(c.UserContext(), actor, req)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(newOrganizationResponse(services.OrganizationView{
			Organization:    *org,
			SubscriberCount: 1,
			IsSubscribed:    true,
			IsAdmin:         true,
		}))
	}
}

// GetOrganization handles GET /api/v1/organizations/:id.
func GetOrganization(orgs *services.Organizations) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, id, err := actorAndID(c)
		if err != nil {
			return err
		}
		return respondOrganization(c, orgs, id, actor)
	}
}

// UpdateOrganization handles PUT /api/v1/organizations/:id (organization admins).
func UpdateOrganization(orgs *services.Organizations) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, id, err := actorAndID(c)
		if err != nil {
			return err
		}
		var req services.UpdateOrganizationInput
		if err := parseBody(c, &req); err != nil {
			return err
		}
		if _, err := orgs.Update(c.UserContext(), actor, id, req); err != nil {
			return err
		}
		return respondOrganization(c, orgs, id, actor)
	}
}

// SetOrganizationActive handles POST /api/v1/organizations/:id/activate and
// /deactivate. Deactivated organizations disappear from listings and cannot post
// new games, but their history stays.
func SetOrganizationActive(orgs *services.Organizations, active bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, id, err := actorAndID(c)
		if err != nil {
			return err
		}
		if _, err := orgs.SetActive(c.UserContext(), actor, id, active); err != nil {
			return err
		}
		return respondOrganization(c, orgs, id, actor)
	}
}

// Subscribe handles POST /api/v1/organizations/:id/subscribe.
func Subscribe(orgs *services.Organizations) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, id, err := actorAndID(c)
		if err != nil {
			return err
		}
		if err := orgs.Subscribe(c.UserContext(), actor, id); err != nil {
			return err
		}
		return respondOrganization(c, orgs, id, actor)
	}
}

// Unsubscribe handles DELETE /api/v1/organizations/:id/subscribe.
func Unsubscribe(orgs *services.Organizations) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, id, err := actorAndID(c)
		if err != nil {
			return err
		}
		if err := orgs.Unsubscribe(c.UserContext(), actor, id); err != nil {
			return err
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// ListSubscribers handles GET /api/v1/organizations/:id/subscribers (organization admins).
func ListSubscribers(orgs *services.Organizations) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, id, err := actorAndID(c)
		if err != nil {
			return err
		}
		subs, err := orgs.Subscribers(c.UserContext(), actor, id)
		if err != nil {
			return err
		}
		resp := make([]SubscriberResponse, 0, len(subs))
		for _, s := range subs {
			resp = append(resp, SubscriberResponse{
				Player:       playerRef(s.UserID, s.User),
				Notify:       s.Notify,
				SubscribedAt: formatTime(s.CreatedAt),
			})
		}
		return c.JSON(resp)
	}
}

// ListAdmins handles GET /api/v1/organizations/:id/admins.
func ListAdmins(orgs *services.Organizations) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := paramID(c, "id")
		if err != nil {
			return err
		}
		admins, err := orgs.Admins(c.UserContext(), id)
		if err != nil {
			return err
		}
		resp := make([]PlayerRef, 0, len(admins))
		for _, a := range admins {
			resp = append(resp, playerRef(a.UserID, a.User))
		}
		return c.JSON(resp)
	}
}

// AddAdmin handles POST /api/v1/organizations/:id/admins.
func AddAdmin(orgs *services.Organizations) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, id, err := actorAndID(c)
		if err != nil {
			return err
		}
		var req AddAdminRequest
		if err := parseBody(c, &req); err != nil {
			return err
		}
		if req.UserID == uuid.Nil {
			return fiber.NewError(fiber.StatusBadRequest, "user_id is required")
		}
		if err := orgs.AddAdmin(c.UserContext(), actor, id, req.UserID); err != nil {
			return err
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// RemoveAdmin handles DELETE /api/v1/organizations/:id/admins/:userId.
// The last admin cannot be removed.
func RemoveAdmin(orgs *services.Organizations) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, id, err := actorAndID(c)
		if err != nil {
			return err
		}
		userID, err := paramID(c, "userId")
		if err != nil {
			return err
		}
		if err := orgs.RemoveAdmin(c.UserContext(), actor, id, userID); err != nil {
			return err
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

func respondOrganization(c *fiber.Ctx, orgs *services.Organizations, id uuid.UUID, viewer services.Actor) error {
	view, err := orgs.Get(c.UserContext(), id, viewer)
	if err != nil {
		return err
	}
	return c.JSON(newOrganizationResponse(*view))
}

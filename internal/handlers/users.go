package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/trentd187/puckdrop/internal/models"
	"github.com/trentd187/puckdrop/internal/services"
)

// PushTokenRequest is the body of PUT /api/v1/users/me/push-token.
type PushTokenRequest struct {
	Token string `json:"token"` // "ExponentPushToken[...]"; empty clears it
}

// SetRoleRequest is the body of PUT /api/v1/users/:id/role.
type SetRoleRequest struct {
	Role string `json:"role"`
}

// UserListResponse is a page of the admin user directory.
type UserListResponse struct {
	Users []UserResponse `json:"users"`
	Total int64          `json:"total"` // Matching users across all pages
}

// GetMe handles GET /api/v1/users/me.
func GetMe(users *services.Users) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := currentActor(c)
		if err != nil {
			return err
		}
		u, err := users.Get(c.UserContext(), actor.ID)
		if err != nil {
			return err
		}
		return c.JSON(newUserResponse(*u))
	}
}

// UpdateMe handles PUT /api/v1/users/me. Only the fields present in the body change.
func UpdateMe(users *services.Users) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := currentActor(c)
		if err != nil {
			return err
		}
		var req services.UpdateProfileInput
		if err := parseBody(c, &req); err != nil {
			return err
		}
		u, err := users.UpdateProfile(c.UserContext(), actor.ID, req)
		if err != nil {
			return err
		}
		return c.JSON(newUserResponse(*u))
	}
}

// SetPushToken handles PUT /api/v1/users/me/push-token. The app calls it after the
// user grants notification permission and again whenever Expo hands out a new token.
func SetPushToken(users *services.Users) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := currentActor(c)
		if err != nil {
			return err
		}
		var req PushTokenRequest
		if err := parseBody(c, &req); err != nil {
			return err
		}
		if err := users.SetPushToken(c.UserContext(), actor.ID, req.Token); err != nil {
			return err
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// ListUsers handles GET /api/v1/users (admin only).
// Query params: ?q= (name or email), ?role=, ?limit=, ?offset=
func ListUsers(users *services.Users) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := currentActor(c)
		if err != nil {
			return err
		}
		limit, err := queryInt(c, "limit", 50)
		if err != nil {
			return err
		}
		offset, err := queryInt(c, "offset", 0)
		if err != nil {
			return err
		}
		list, total, err := users.List(c.UserContext(), actor, services.UserFilter{
			Query:  c.Query("q"),
			Role:   models.UserRole(c.Query("role")),
			Limit:  limit,
			Offset: offset,
		})
		if err != nil {
			return err
		}
		resp := UserListResponse{Users: make([]UserResponse, 0, len(list)), Total: total}
		for _, u := range list {
			resp.Users = append(resp.Users, newUserResponse(u))
		}
		return c.JSON(resp)
	}
}

// SetUserRole handles PUT /api/v1/users/:id/role (admin only).
func SetUserRole(users *services.Users) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, id, err := actorAndID(c)
		if err != nil {
			return err
		}
		var req SetRoleRequest
		if err := parseBody(c, &req); err != nil {
			return err
		}
		u, err := users.SetRole(c.UserContext(), actor, id, models.UserRole(req.Role))
		if err != nil {
			return err
		}
		return c.JSON(newUserResponse(*u))
	}
}

package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/trentd187/puckdrop/internal/services"
)

// NotificationListResponse carries the unread count so the app can set its badge
// from the same request.
type NotificationListResponse struct {
	Notifications []NotificationResponse `json:"notifications"`
	UnreadCount   int64                  `json:"unread_count"`
}

// ListNotifications handles GET /api/v1/notifications, newest first.
// Query params: ?unread=true, ?limit=
func ListNotifications(notify *services.Notifications) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := currentActor(c)
		if err != nil {
			return err
		}
		limit, err := queryInt(c, "limit", 50)
		if err != nil {
			return err
		}
		list, err := notify.List(c.UserContext(), actor, c.QueryBool("unread"), limit)
		if err != nil {
			return err
		}
		unread, err := notify.UnreadCount(c.UserContext(), actor)
		if err != nil {
			return err
		}
		resp := NotificationListResponse{
			Notifications: make([]NotificationResponse, 0, len(list)),
			UnreadCount:   unread,
		}
		for _, n := range list {
			resp.Notifications = append(resp.Notifications, newNotificationResponse(n))
		}
		return c.JSON(resp)
	}
}

// MarkNotificationRead handles POST /api/v1/notifications/:id/read.
func MarkNotificationRead(notify *services.Notifications) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, id, err := actorAndID(c)
		if err != nil {
			return err
		}
		if err := notify.MarkRead(c.UserContext(), actor, id); err != nil {
			return err
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// MarkAllNotificationsRead handles POST /api/v1/notifications/read-all.
func MarkAllNotificationsRead(notify *services.Notifications) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := currentActor(c)
		if err != nil {
			return err
		}
		n, err := notify.MarkAllRead(c.UserContext(), actor)
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"marked": n})
	}
}

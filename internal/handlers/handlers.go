// Package handlers contains the HTTP route handler functions for the Puckdrop API.
// Each handler corresponds to one API endpoint and is responsible for reading the
// request, calling into a service, and writing a response.
//
// Each exported function follows the "handler factory" pattern: it takes the service
// it needs and returns a fiber.Handler (a function that handles a single HTTP request).
// This lets us inject dependencies without using global variables.
//
// Handlers never pick status codes for failures themselves. They return the service's
// error and ErrorHandler (errors.go) maps it to a status and a {"error": "..."} body.
package handlers

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/trentd187/puckdrop/internal/models"
	"github.com/trentd187/puckdrop/internal/services"
)

// currentActor reads the user's ID and role from the request context.
// These were set by the Auth middleware earlier in the request chain.
func currentActor(c *fiber.Ctx) (services.Actor, error) {
	userIDStr, _ := c.Locals("userID").(string)
	userRole, _ := c.Locals("userRole").(string)

	// Parse the string UUID back into a uuid.UUID for the services
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		return services.Actor{}, fiber.NewError(fiber.StatusUnauthorized, "invalid user ID")
	}
	return services.Actor{ID: userID, Role: models.UserRole(userRole)}, nil
}

// paramID parses a UUID route parameter such as ":id".
func paramID(c *fiber.Ctx, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params(name))
	if err != nil {
		return uuid.Nil, fiber.NewError(fiber.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

// actorAndID covers the most common preamble: who is asking, about which resource.
func actorAndID(c *fiber.Ctx) (services.Actor, uuid.UUID, error) {
	actor, err := currentActor(c)
	if err != nil {
		return actor, uuid.Nil, err
	}
	id, err := paramID(c, "id")
	return actor, id, err
}

// parseBody unmarshals the JSON body into dst. An empty body leaves dst untouched so
// that endpoints with only optional fields accept a bare POST; the service's
// validation still catches missing required fields.
func parseBody(c *fiber.Ctx, dst any) error {
	if len(c.Body()) == 0 {
		return nil
	}
	if err := c.BodyParser(dst); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	return nil
}

// queryUUID parses an optional UUID query parameter.
func queryUUID(c *fiber.Ctx, key string) (*uuid.UUID, error) {
	s := c.Query(key)
	if s == "" {
		return nil, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, key+" must be a UUID")
	}
	return &id, nil
}

// queryTime parses an optional RFC 3339 query parameter.
func queryTime(c *fiber.Ctx, key string) (*time.Time, error) {
	s := c.Query(key)
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, key+" must be an RFC 3339 timestamp")
	}
	return &t, nil
}

// queryInt parses an optional integer query parameter, falling back to def.
func queryInt(c *fiber.Ctx, key string, def int) (int, error) {
	s := c.Query(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, key+" must be a non-negative integer")
	}
	return n, nil
}

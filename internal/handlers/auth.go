package handlers

// auth.go: sign-up and sign-in. These are the only unauthenticated API routes, so
// main.go puts them behind the per-IP rate limiter.

import (
	"github.com/gofiber/fiber/v2"

	"github.com/trentd187/puckdrop/internal/services"
)

// LoginRequest is the JSON body we expect on POST /api/v1/auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register handles POST /api/v1/auth/register.
// New accounts are always players; an admin promotes organizers later.
func Register(users *services.Users) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req services.RegisterInput
		if err := parseBody(c, &req); err != nil {
			return err
		}
		session, err := users.Register(c.UserContext(), req)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(newSessionResponse(session))
	}
}

// Login handles POST /api/v1/auth/login. A wrong email and a wrong password give the
// same 401 so the endpoint cannot be used to find out who has an account.
func Login(users *services.Users) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req LoginRequest
		if err := parseBody(c, &req); err != nil {
			return err
		}
		if req.Email == "" || req.Password == "" {
			return fiber.NewError(fiber.StatusBadRequest, "email and password are required")
		}
		session, err := users.Login(c.UserContext(), req.Email, req.Password)
		if err != nil {
			return err
		}
		return c.JSON(newSessionResponse(session))
	}
}

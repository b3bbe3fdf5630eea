package handlers

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/trentd187/puckdrop/internal/models"
)

func newTestApp() *fiber.App {
	return fiber.New(fiber.Config{ErrorHandler: ErrorHandler(zap.NewNop())})
}

func status(t *testing.T, app *fiber.App, method, target, body string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(b)
}

func TestActorAndIDNeedsAuthAndAValidID(t *testing.T) {
	userID := uuid.New()
	app := newTestApp()
	withUser := func(c *fiber.Ctx) error {
		if c.Get("X-Test-User") != "" {
			c.Locals("userID", c.Get("X-Test-User"))
			c.Locals("userRole", "organizer")
		}
		return c.Next()
	}
	app.Get("/things/:id", withUser, func(c *fiber.Ctx) error {
		actor, id, err := actorAndID(c)
		if err != nil {
			return err
		}
		assert.Equal(t, models.UserRoleOrganizer, actor.Role)
		return c.SendString(actor.ID.String() + "|" + id.String())
	})

	code, _ := status(t, app, "GET", "/things/"+uuid.NewString(), "")
	assert.Equal(t, fiber.StatusUnauthorized, code)

	req := httptest.NewRequest("GET", "/things/not-a-uuid", nil)
	req.Header.Set("X-Test-User", userID.String())
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	thing := uuid.New()
	req = httptest.NewRequest("GET", "/things/"+thing.String(), nil)
	req.Header.Set("X-Test-User", userID.String())
	resp, err = app.Test(req)
	require.NoError(t, err)
	b, _ := io.ReadAll(resp.Body)
	assert.Equal(t, userID.String()+"|"+thing.String(), string(b))
}

func TestParseBodyAllowsAnEmptyBody(t *testing.T) {
	app := newTestApp()
	app.Post("/", func(c *fiber.Ctx) error {
		req := struct {
			Position string `json:"position"`
		}{Position: "default"}
		if err := parseBody(c, &req); err != nil {
			return err
		}
		return c.SendString(req.Position)
	})

	code, body := status(t, app, "POST", "/", "")
	assert.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, "default", body)

	code, body = status(t, app, "POST", "/", `{"position":"goalie"}`)
	assert.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, "goalie", body)

	code, _ = status(t, app, "POST", "/", `{"position":`)
	assert.Equal(t, fiber.StatusBadRequest, code)
}

func TestQueryHelpersRejectGarbage(t *testing.T) {
	app := newTestApp()
	app.Get("/", func(c *fiber.Ctx) error {
		if _, err := queryUUID(c, "organization_id"); err != nil {
			return err
		}
		if _, err := queryTime(c, "from"); err != nil {
			return err
		}
		n, err := queryInt(c, "limit", 25)
		if err != nil {
			return err
		}
		return c.JSON(n)
	})

	code, body := status(t, app, "GET", "/", "")
	assert.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, "25", body)

	from := time.Date(2026, 10, 20, 21, 0, 0, 0, time.UTC).Format(time.RFC3339)
	code, _ = status(t, app, "GET", "/?limit=5&from="+from+"&organization_id="+uuid.NewString(), "")
	assert.Equal(t, fiber.StatusOK, code)

	for _, q := range []string{"?organization_id=nope", "?from=tomorrow", "?limit=-1", "?limit=ten"} {
		code, _ = status(t, app, "GET", "/"+q, "")
		assert.Equal(t, fiber.StatusBadRequest, code, q)
	}
}

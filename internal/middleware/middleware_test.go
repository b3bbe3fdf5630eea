package middleware

import (
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/trentd187/puckdrop/internal/apperr"
	"github.com/trentd187/puckdrop/internal/auth"
	"github.com/trentd187/puckdrop/internal/metrics"
)

func newApp(issuer *auth.TokenIssuer, socket bool, roles ...string) *fiber.App {
	app := fiber.New()
	authenticate := Auth(issuer)
	if socket {
		authenticate = SocketAuth(issuer)
	}
	chain := []fiber.Handler{authenticate}
	if len(roles) > 0 {
		chain = append(chain, RequireRole(roles...))
	}
	chain = append(chain, func(c *fiber.Ctx) error {
		return c.SendString(c.Locals("userID").(string) + "|" + c.Locals("userRole").(string))
	})
	app.Get("/protected", chain...)
	return app
}

func TestAuthAndRoles(t *testing.T) {
	issuer := auth.NewTokenIssuer("middleware-test-secret", time.Hour)
	expired := auth.NewTokenIssuer("middleware-test-secret", -time.Hour)
	userID := uuid.New()

	token := func(t *testing.T, iss *auth.TokenIssuer, role string) string {
		s, _, err := iss.Issue(userID, role)
		require.NoError(t, err)
		return s
	}

	tests := []struct {
		name       string
		roles      []string
		socket     bool
		header     func(t *testing.T) string
		query      func(t *testing.T) string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "missing header",
			header:     func(*testing.T) string { return "" },
			wantStatus: fiber.StatusUnauthorized,
			wantBody:   "missing or invalid authorization header",
		},
		{
			name:       "garbage token",
			header:     func(*testing.T) string { return "Bearer nope" },
			wantStatus: fiber.StatusUnauthorized,
			wantBody:   "invalid token",
		},
		{
			name:       "expired token",
			header:     func(t *testing.T) string { return "Bearer " + token(t, expired, "player") },
			wantStatus: fiber.StatusUnauthorized,
			wantBody:   "token expired",
		},
		{
			name:       "valid token",
			header:     func(t *testing.T) string { return "Bearer " + token(t, issuer, "player") },
			wantStatus: fiber.StatusOK,
			wantBody:   userID.String() + "|player",
		},
		{
			name:       "token in query is ignored on plain routes",
			header:     func(*testing.T) string { return "" },
			query:      func(t *testing.T) string { return token(t, issuer, "player") },
			wantStatus: fiber.StatusUnauthorized,
			wantBody:   "missing or invalid authorization header",
		},
		{
			name:       "token in query on a socket route",
			socket:     true,
			header:     func(*testing.T) string { return "" },
			query:      func(t *testing.T) string { return token(t, issuer, "player") },
			wantStatus: fiber.StatusOK,
			wantBody:   userID.String() + "|player",
		},
		{
			name:       "header still works on a socket route",
			socket:     true,
			header:     func(t *testing.T) string { return "Bearer " + token(t, issuer, "organizer") },
			wantStatus: fiber.StatusOK,
			wantBody:   userID.String() + "|organizer",
		},
		{
			name:       "player on organizer route",
			roles:      []string{"organizer", "admin"},
			header:     func(t *testing.T) string { return "Bearer " + token(t, issuer, "player") },
			wantStatus: fiber.StatusForbidden,
			wantBody:   "insufficient permissions",
		},
		{
			name:       "organizer on organizer route",
			roles:      []string{"organizer", "admin"},
			header:     func(t *testing.T) string { return "Bearer " + token(t, issuer, "organizer") },
			wantStatus: fiber.StatusOK,
			wantBody:   userID.String() + "|organizer",
		},
		{
			name:       "admin only",
			roles:      []string{"admin"},
			header:     func(t *testing.T) string { return "Bearer " + token(t, issuer, "organizer") },
			wantStatus: fiber.StatusForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "/protected"
			if tt.query != nil {
				target += "?token=" + tt.query(t)
			}
			req := httptest.NewRequest("GET", target, nil)
			if h := tt.header(t); h != "" {
				req.Header.Set("Authorization", h)
			}

			resp, err := newApp(issuer, tt.socket, tt.roles...).Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)

			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.Contains(t, string(body), tt.wantBody)
		})
	}
}

func TestThrottleLimit(t *testing.T) {
	app := fiber.New()
	app.Post("/login", PerMinute(2).Limit(), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})

	codes := make([]int, 0, 3)
	var retryAfter string
	for i := 0; i < 3; i++ {
		resp, err := app.Test(httptest.NewRequest("POST", "/login", nil))
		require.NoError(t, err)
		codes = append(codes, resp.StatusCode)
		retryAfter = resp.Header.Get(fiber.HeaderRetryAfter)
	}
	assert.Equal(t, []int{fiber.StatusNoContent, fiber.StatusNoContent, fiber.StatusTooManyRequests}, codes)
	assert.Equal(t, "30", retryAfter)
}

func TestThrottleBuckets(t *testing.T) {
	th := PerMinute(2)
	clock := time.Date(2026, 3, 4, 21, 0, 0, 0, time.UTC)
	th.now = func() time.Time { return clock }

	assert.Zero(t, th.take("10.0.0.1"))
	assert.Zero(t, th.take("10.0.0.1"))
	assert.InDelta(t, 30*time.Second, th.take("10.0.0.1"), float64(time.Millisecond))
	// A refused request does not dig the hole deeper.
	assert.InDelta(t, 30*time.Second, th.take("10.0.0.1"), float64(time.Millisecond))
	assert.Zero(t, th.take("10.0.0.2"), "each IP has its own bucket")

	clock = clock.Add(30 * time.Second)
	assert.Zero(t, th.take("10.0.0.1"), "one request refilled")

	// Once both buckets are full again they are forgotten.
	clock = clock.Add(2 * time.Minute)
	assert.Zero(t, th.take("10.0.0.3"))
	assert.Len(t, th.buckets, 1)
}

func TestMetricsRecordsRoutePattern(t *testing.T) {
	m := metrics.New()
	app := fiber.New()
	app.Use(Metrics(m), RequestLogger(zap.NewNop()))
	app.Get("/events/:id", func(c *fiber.Ctx) error { return c.SendString("ok") })
	app.Get("/boom", func(c *fiber.Ctx) error { return errors.New("boom") })
	app.Get("/missing", func(c *fiber.Ctx) error { return fmt.Errorf("%w: event", apperr.ErrNotFound) })

	for _, path := range []string{"/events/1", "/events/2", "/boom", "/missing"} {
		_, err := app.Test(httptest.NewRequest("GET", path, nil))
		require.NoError(t, err)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/events/:id", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/boom", "500")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/missing", "404")))

	n, err := testutil.GatherAndCount(m.Registry, "http_request_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

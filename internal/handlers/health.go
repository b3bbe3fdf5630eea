package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// HealthCheck handles GET /health.
// It is used by container readiness/liveness checks and load balancers, so it needs
// no authentication. It does ping the database: a server that cannot reach Postgres
// cannot serve anything useful, and reporting 503 lets the orchestrator notice.
func HealthCheck(db *gorm.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sqlDB, err := db.DB()
		if err == nil {
			ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
			defer cancel()
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status":   "unavailable",
				"database": "unreachable",
			})
		}
		// fiber.Map is just a shorthand for map[string]interface{}.
		return c.JSON(fiber.Map{"status": "ok", "database": "ok"})
	}
}

package handlers

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/trentd187/puckdrop/internal/apperr"
)

// ErrorHandler is installed as fiber.Config.ErrorHandler. Every handler error ends up
// here:
//   - *fiber.Error (bad route params, malformed bodies) keeps its own code and message
//   - validation failures become 400 with a per-field "fields" map
//   - apperr classes map through apperr.Status
//   - anything else is a 500; the details are logged, never sent to the client
func ErrorHandler(log *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message})
		}

		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, v := range verrs {
				fields[v.Field()] = fieldMessage(v)
			}
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":  "invalid input",
				"fields": fields,
			})
		}

		status := apperr.Status(err)
		if status >= fiber.StatusInternalServerError {
			log.Error("request failed",
				zap.String("method", c.Method()),
				zap.String("path", c.Path()),
				zap.Error(err),
			)
			return c.Status(status).JSON(fiber.Map{"error": "internal server error"})
		}
		return c.Status(status).JSON(fiber.Map{"error": err.Error()})
	}
}

// fieldMessage turns one validator failure into something a form can show next to
// the field.
func fieldMessage(fe validator.FieldError) string {
	unit := ""
	if fe.Kind() == reflect.String {
		unit = " characters"
	}
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return fmt.Sprintf("must be at least %s%s", fe.Param(), unit)
	case "max":
		return fmt.Sprintf("must be at most %s%s", fe.Param(), unit)
	case "oneof":
		return "must be one of: " + fe.Param()
	case "datetime":
		return "must be a date formatted " + fe.Param()
	case "timezone":
		return "must be an IANA time zone such as America/Chicago"
	default:
		return "is invalid"
	}
}

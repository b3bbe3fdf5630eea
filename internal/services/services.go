// Package services holds the business logic of the API. Handlers parse requests and
// call into a service; services run the database reads/writes, check who is allowed
// to do what, and fire notifications.
//
// Every service method that fails for a client-caused reason returns an error wrapping
// one of the apperr sentinels, so the HTTP layer can pick the status code.
package services

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/trentd187/puckdrop/internal/apperr"
	"github.com/trentd187/puckdrop/internal/models"
)

// Actor is the authenticated user making a request.
type Actor struct {
	ID   uuid.UUID
	Role models.UserRole
}

// IsAdmin reports whether the actor is a site admin.
func (a Actor) IsAdmin() bool { return a.Role == models.UserRoleAdmin }

// CanOrganize reports whether the actor may create organizations, events and tournaments.
func (a Actor) CanOrganize() bool {
	return a.Role == models.UserRoleOrganizer || a.Role == models.UserRoleAdmin
}

// Clock returns the current time. Services take one so tests can pin "now".
type Clock func() time.Time

// SystemClock is the real clock, in UTC.
func SystemClock() time.Time { return time.Now().UTC() }

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON field names ("max_players") instead of Go field names ("MaxPlayers").
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateInput runs struct validation and tags failures as invalid input. The
// validator.ValidationErrors stays reachable with errors.As for per-field messages.
func validateInput(in any) error {
	if err := validate.Struct(in); err != nil {
		return fmt.Errorf("%w: %w", apperr.ErrInvalidInput, err)
	}
	return nil
}

// notFound converts gorm.ErrRecordNotFound into apperr.ErrNotFound for the named thing
// and wraps anything else as-is.
func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", apperr.ErrNotFound, what)
	}
	return fmt.Errorf("load %s: %w", what, err)
}

func isNotFound(err error) bool { return errors.Is(err, gorm.ErrRecordNotFound) }

// conflictOr turns a unique-constraint violation into apperr.ErrConflict with msg.
func conflictOr(err error, msg string) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %s", apperr.ErrConflict, msg)
	}
	return err
}

func forbidden(msg string) error {
	return fmt.Errorf("%w: %s", apperr.ErrForbidden, msg)
}

func invalidState(format string, args ...any) error {
	return fmt.Errorf("%w: %s", apperr.ErrInvalidState, fmt.Sprintf(format, args...))
}

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", apperr.ErrInvalidInput, fmt.Sprintf(format, args...))
}

func ptr[T any](v T) *T { return &v }

func userIDs[T any](rows []T, id func(T) uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(rows))
	for _, r := range rows {
		out = append(out, id(r))
	}
	return out
}

package services

// events.go: single pickup games.
//
// Who may do what:
//   - Any organizer or admin can create a personal event. Creating one under an
//     organization also requires being an admin of that organization.
//   - An event's "managers" are its creator, the admins of its organization and site
//     admins. Only managers can edit, cancel or complete it, or touch its roster.
//   - Everyone signed in can read events.

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/trentd187/puckdrop/internal/apperr"
	"github.com/trentd187/puckdrop/internal/database"
	"github.com/trentd187/puckdrop/internal/models"
)

// Events manages single scheduled games: creating them, listing them for the
// schedule screen, editing capacity and moving them to cancelled or completed.
type Events struct {
	db     *gorm.DB
	orgs   *Organizations
	regs   *Registrations
	notify *Notifications
	log    *zap.Logger
	now    Clock
}

// NewEvents wires the events service. Registrations is needed to promote the
// waitlist when an organizer raises the player cap.
func NewEvents(db *gorm.DB, orgs *Organizations, regs *Registrations, notify *Notifications, log *zap.Logger) *Events {
	return &Events{db: db, orgs: orgs, regs: regs, notify: notify, log: log, now: SystemClock}
}

// CreateEventInput is the body of POST /api/v1/events.
type CreateEventInput struct {
	OrganizationID       *uuid.UUID         `json:"organization_id"`
	Name                 string             `json:"name" validate:"required,min=2,max=120"`
	Description          *string            `json:"description" validate:"omitempty,max=2000"`
	Location             string             `json:"location" validate:"required,max=200"`
	StartsAt             string             `json:"starts_at" validate:"required"` // RFC 3339 or "next friday at 9pm"
	Timezone             string             `json:"timezone" validate:"omitempty,timezone"`
	DurationMinutes      int                `json:"duration_minutes" validate:"omitempty,min=15,max=480"`
	MaxPlayers           int                `json:"max_players" validate:"required,min=1,max=200"`
	CostCents            int                `json:"cost_cents" validate:"min=0,max=100000"`
	VenmoHandle          *string            `json:"venmo_handle" validate:"omitempty,max=64"`
	SkillLevel           *models.SkillLevel `json:"skill_level" validate:"omitempty,oneof=beginner intermediate advanced elite"`
	RegistrationClosesAt *time.Time         `json:"registration_closes_at"`
}

// Create schedules a new game. It:
//  1. Checks the actor may organize, and may post under the organization if one is given
//  2. Parses the start time (RFC 3339 or natural language) in the event's timezone
//  3. Saves the event at version 1
//  4. Tells the organization's subscribers about the new game
func (s *Events) Create(ctx context.Context, actor Actor, in CreateEventInput) (*models.Event, error) {
	if !actor.CanOrganize() {
		return nil, forbidden("only organizers can create events")
	}
	if err := validateInput(in); err != nil {
		return nil, err
	}
	startsAt, err := ParseStartTime(in.StartsAt, in.Timezone, s.now())
	if err != nil {
		return nil, err
	}
	if in.RegistrationClosesAt != nil && in.RegistrationClosesAt.After(startsAt) {
		return nil, invalidInput("registration must close before the game starts")
	}
	if in.OrganizationID != nil {
		org, err := s.orgs.requireAdmin(ctx, actor, *in.OrganizationID)
		if err != nil {
			return nil, err
		}
		if !org.IsActive {
			return nil, invalidState("organization is inactive")
		}
	}

	event := models.Event{
		OrganizationID:       in.OrganizationID,
		CreatedBy:            actor.ID,
		Name:                 strings.TrimSpace(in.Name),
		Description:          in.Description,
		Location:             strings.TrimSpace(in.Location),
		StartsAt:             startsAt,
		DurationMinutes:      in.DurationMinutes,
		MaxPlayers:           in.MaxPlayers,
		CostCents:            in.CostCents,
		VenmoHandle:          normalizeVenmo(in.VenmoHandle),
		SkillLevel:           in.SkillLevel,
		Status:               models.EventStatusScheduled,
		RegistrationClosesAt: in.RegistrationClosesAt,
		Version:              1,
	}
	if event.DurationMinutes == 0 {
		event.DurationMinutes = 60
	}
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(&event).Error; err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}
	s.log.Info("event created", zap.String("event_id", event.ID.String()), zap.Time("starts_at", startsAt))

	if event.OrganizationID != nil {
		s.orgs.notifySubscribers(ctx, *event.OrganizationID, actor.ID, Notice{
			Kind:  models.NotifyEventCreated,
			Title: "New game: " + event.Name,
			Body:  fmt.Sprintf("%s at %s. Spots: %d.", event.StartsAt.Format("Mon Jan 2 3:04 PM MST"), event.Location, event.MaxPlayers),
			Data:  map[string]any{"event_id": event.ID.String()},
		})
	}
	return &event, nil
}

// EventDetail is the event screen: the event, who is in, who is waiting, and the
// viewer's own registration.
type EventDetail struct {
	Event      models.Event
	Registered []models.EventRegistration // By registration time
	Waitlist   []models.EventRegistration // By waitlist position
	Mine       *models.EventRegistration
	CanManage  bool
}

// SpotsLeft is how many more players can register before new sign-ups are waitlisted.
func (d EventDetail) SpotsLeft() int {
	return max(d.Event.MaxPlayers-len(d.Registered), 0)
}

// Get is read-only; calling it twice returns the same thing.
func (s *Events) Get(ctx context.Context, id uuid.UUID, viewer Actor) (*EventDetail, error) {
	db := s.db.WithContext(ctx)
	event, err := loadEvent(db.Preload("Creator").Preload("Organization"), id)
	if err != nil {
		return nil, err
	}

	var regs []models.EventRegistration
	err = db.Preload("User").
		Where("event_id = ? AND status <> ?", id, models.RegistrationCancelled).
		Order("registered_at, id").Find(&regs).Error
	if err != nil {
		return nil, fmt.Errorf("load registrations: %w", err)
	}

	d := &EventDetail{Event: *event}
	for i := range regs {
		r := regs[i]
		if r.Status == models.RegistrationRegistered {
			d.Registered = append(d.Registered, r)
		} else {
			d.Waitlist = append(d.Waitlist, r)
		}
		if r.UserID == viewer.ID {
			d.Mine = &regs[i]
		}
	}
	sortByWaitlistPosition(d.Waitlist)

	if d.CanManage, err = canManageEvent(db, viewer, event); err != nil {
		return nil, err
	}
	return d, nil
}

// EventFilter narrows List. Without From, only games that have not started yet are
// listed.
type EventFilter struct {
	OrganizationID   *uuid.UUID
	From, To         *time.Time
	IncludeCancelled bool
	Mine             bool // Only events the viewer is registered or waitlisted for
	Limit            int
}

// EventSummary is one row of the events list.
type EventSummary struct {
	models.Event
	RegisteredCount int64
	WaitlistCount   int64
	MyStatus        *models.RegistrationStatus
}

// List is the schedule: upcoming scheduled games by default, each with its
// registered and waitlist counts and the viewer's own status.
func (s *Events) List(ctx context.Context, viewer Actor, f EventFilter) ([]EventSummary, error) {
	db := s.db.WithContext(ctx)
	q := db.Model(&models.Event{}).Preload("Organization")
	from := s.now()
	if f.From != nil {
		from = *f.From
	}
	q = q.Where("starts_at >= ?", from)
	if f.To != nil {
		q = q.Where("starts_at < ?", *f.To)
	}
	if f.OrganizationID != nil {
		q = q.Where("organization_id = ?", *f.OrganizationID)
	}
	if !f.IncludeCancelled {
		q = q.Where("status <> ?", models.EventStatusCancelled)
	}
	if f.Mine {
		q = q.Where("id IN (?)", db.Model(&models.EventRegistration{}).Select("event_id").
			Where("user_id = ? AND status <> ?", viewer.ID, models.RegistrationCancelled))
	}
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 100
	}

	var events []models.Event
	if err := q.Order("starts_at").Limit(f.Limit).Find(&events).Error; err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	if len(events) == 0 {
		return []EventSummary{}, nil
	}

	ids := make([]uuid.UUID, len(events))
	for i, e := range events {
		ids[i] = e.ID
	}
	var counts []struct {
		EventID uuid.UUID
		Status  models.RegistrationStatus
		N       int64
	}
	if err := db.Model(&models.EventRegistration{}).
		Select("event_id, status, count(*) AS n").
		Where("event_id IN ? AND status <> ?", ids, models.RegistrationCancelled).
		Group("event_id, status").Scan(&counts).Error; err != nil {
		return nil, fmt.Errorf("count registrations: %w", err)
	}
	var mine []models.EventRegistration
	if err := db.Where("event_id IN ? AND user_id = ? AND status <> ?", ids, viewer.ID, models.RegistrationCancelled).
		Find(&mine).Error; err != nil {
		return nil, fmt.Errorf("load my registrations: %w", err)
	}

	out := make([]EventSummary, len(events))
	for i, e := range events {
		out[i].Event = e
	}
	index := make(map[uuid.UUID]*EventSummary, len(out))
	for i := range out {
		index[out[i].ID] = &out[i]
	}
	for _, c := range counts {
		if c.Status == models.RegistrationRegistered {
			index[c.EventID].RegisteredCount = c.N
		} else {
			index[c.EventID].WaitlistCount = c.N
		}
	}
	for _, r := range mine {
		index[r.EventID].MyStatus = ptr(r.Status)
	}
	return out, nil
}

// UpdateEventInput edits an event. Version is the version the client last saw; if
// someone else changed the event since, the update fails with a 409.
type UpdateEventInput struct {
	Version              int                `json:"version" validate:"required,min=1"`
	Name                 *string            `json:"name" validate:"omitempty,min=2,max=120"`
	Description          *string            `json:"description" validate:"omitempty,max=2000"`
	Location             *string            `json:"location" validate:"omitempty,max=200"`
	StartsAt             *string            `json:"starts_at"`
	Timezone             string             `json:"timezone" validate:"omitempty,timezone"`
	DurationMinutes      *int               `json:"duration_minutes" validate:"omitempty,min=15,max=480"`
	MaxPlayers           *int               `json:"max_players" validate:"omitempty,min=1,max=200"`
	CostCents            *int               `json:"cost_cents" validate:"omitempty,min=0,max=100000"`
	VenmoHandle          *string            `json:"venmo_handle" validate:"omitempty,max=64"`
	SkillLevel           *models.SkillLevel `json:"skill_level" validate:"omitempty,oneof=beginner intermediate advanced elite"`
	RegistrationClosesAt *time.Time         `json:"registration_closes_at"`
}

// Update edits a scheduled event. Raising max_players pulls players off the waitlist
// straight away; lowering it below the number already registered is refused.
func (s *Events) Update(ctx context.Context, actor Actor, id uuid.UUID, in UpdateEventInput) (*models.Event, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}

	var promoted []models.EventRegistration
	var event *models.Event
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if event, err = requireEventManager(tx, actor, id); err != nil {
			return err
		}
		if event.Status != models.EventStatusScheduled {
			return invalidState("a %s event cannot be edited", event.Status)
		}
		if event.Version != in.Version {
			return fmt.Errorf("%w: the event was changed by someone else, reload and try again", apperr.ErrConcurrentModification)
		}

		changes := map[string]any{}
		if in.Name != nil {
			changes["name"] = strings.TrimSpace(*in.Name)
		}
		if in.Description != nil {
			changes["description"] = emptyToNil(*in.Description)
		}
		if in.Location != nil {
			changes["location"] = strings.TrimSpace(*in.Location)
		}
		startsAt := event.StartsAt
		if in.StartsAt != nil {
			if startsAt, err = ParseStartTime(*in.StartsAt, in.Timezone, s.now()); err != nil {
				return err
			}
			changes["starts_at"] = startsAt
			// A new start time deserves a new reminder.
			changes["reminder_sent_at"] = nil
		}
		closes := event.RegistrationClosesAt
		if in.RegistrationClosesAt != nil {
			closes = in.RegistrationClosesAt
			changes["registration_closes_at"] = *in.RegistrationClosesAt
		}
		if closes != nil && closes.After(startsAt) {
			return invalidInput("registration must close before the game starts")
		}
		if in.DurationMinutes != nil {
			changes["duration_minutes"] = *in.DurationMinutes
		}
		if in.CostCents != nil {
			changes["cost_cents"] = *in.CostCents
		}
		if in.VenmoHandle != nil {
			changes["venmo_handle"] = normalizeVenmo(in.VenmoHandle)
		}
		if in.SkillLevel != nil {
			changes["skill_level"] = *in.SkillLevel
		}
		if in.MaxPlayers != nil {
			registered, err := countRegistered(tx, id)
			if err != nil {
				return err
			}
			if int64(*in.MaxPlayers) < registered {
				return invalidState("%d players are already registered; remove some before lowering the limit", registered)
			}
			changes["max_players"] = *in.MaxPlayers
		}

		if err := database.BumpVersion(tx, &models.Event{}, id, in.Version); err != nil {
			return err
		}
		if len(changes) > 0 {
			if err := tx.Model(&models.Event{}).Where("id = ?", id).Updates(changes).Error; err != nil {
				return fmt.Errorf("update event: %w", err)
			}
		}
		if event, err = loadEvent(tx, id); err != nil {
			return err
		}
		if in.MaxPlayers != nil {
			promoted, err = s.regs.promoteTx(tx, event)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	s.regs.notifyPromoted(ctx, event, promoted)
	return event, nil
}

// Cancel calls the game off and tells everyone who signed up.
func (s *Events) Cancel(ctx context.Context, actor Actor, id uuid.UUID) (*models.Event, error) {
	event, err := s.setStatus(ctx, actor, id, models.EventStatusCancelled)
	if err != nil {
		return nil, err
	}

	var users []uuid.UUID
	if err := s.db.WithContext(ctx).Model(&models.EventRegistration{}).
		Where("event_id = ? AND status <> ?", id, models.RegistrationCancelled).
		Pluck("user_id", &users).Error; err != nil {
		s.log.Error("load registrants", zap.String("event_id", id.String()), zap.Error(err))
	}
	s.notify.notifyAfter(ctx, users, Notice{
		Kind:  models.NotifyEventCancelled,
		Title: "Game cancelled",
		Body:  fmt.Sprintf("%s on %s has been cancelled.", event.Name, event.StartsAt.Format("Mon Jan 2")),
		Data:  map[string]any{"event_id": id.String()},
	})
	return event, nil
}

// Complete marks a game that has started as played.
func (s *Events) Complete(ctx context.Context, actor Actor, id uuid.UUID) (*models.Event, error) {
	return s.setStatus(ctx, actor, id, models.EventStatusCompleted)
}

func (s *Events) setStatus(ctx context.Context, actor Actor, id uuid.UUID, to models.EventStatus) (*models.Event, error) {
	var event *models.Event
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if event, err = requireEventManager(tx, actor, id); err != nil {
			return err
		}
		if event.Status != models.EventStatusScheduled {
			return invalidState("event is already %s", event.Status)
		}
		if to == models.EventStatusCompleted && s.now().Before(event.StartsAt) {
			return invalidState("a game cannot be completed before it starts")
		}
		if err := database.BumpVersion(tx, &models.Event{}, id, event.Version); err != nil {
			return err
		}
		if err := tx.Model(&models.Event{}).Where("id = ?", id).Update("status", to).Error; err != nil {
			return err
		}
		event.Status = to
		event.Version++
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("event status changed", zap.String("event_id", id.String()), zap.String("status", string(to)))
	return event, nil
}

func requireEventManager(tx *gorm.DB, actor Actor, id uuid.UUID) (*models.Event, error) {
	event, err := loadEvent(tx, id)
	if err != nil {
		return nil, err
	}
	ok, err := canManageEvent(tx, actor, event)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, forbidden("only the event's organizers can do that")
	}
	return event, nil
}

func loadEvent(db *gorm.DB, id uuid.UUID) (*models.Event, error) {
	var event models.Event
	if err := db.First(&event, "events.id = ?", id).Error; err != nil {
		return nil, notFound(err, "event")
	}
	return &event, nil
}

// canManageEvent: the creator, an admin of the event's organization, or a site admin.
func canManageEvent(db *gorm.DB, actor Actor, event *models.Event) (bool, error) {
	if actor.IsAdmin() || event.CreatedBy == actor.ID {
		return true, nil
	}
	if event.OrganizationID == nil {
		return false, nil
	}
	return isOrgAdmin(db, *event.OrganizationID, actor.ID)
}

func countRegistered(tx *gorm.DB, eventID uuid.UUID) (int64, error) {
	var n int64
	err := tx.Model(&models.EventRegistration{}).
		Where("event_id = ? AND status = ?", eventID, models.RegistrationRegistered).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count registered: %w", err)
	}
	return n, nil
}

package services

// registrations.go: the event registration state machine.
//
//	            join (spots left)                 cancel
//	  (none) ───────────────────────▶ registered ─────────▶ cancelled
//	    │                                 ▲
//	    │ join (full)                     │ promote (spot frees up, lowest position first)
//	    ▼                                 │
//	  waitlisted ─────────────────────────┘
//	    │ cancel
//	    ▼
//	  cancelled
//
// Waitlist positions are always 1..n with no gaps. Every change to who holds a spot
// bumps the event's version inside the same transaction, so two requests racing for
// the last spot cannot both win: the loser gets a 409 and can retry.
//
// Payments ride alongside: pending ──(player: mark paid)──▶ marked_paid
// ──(organizer: verify)──▶ verified. Organizers may also verify straight from pending
// (cash at the rink) or reset back to pending.

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/trentd187/puckdrop/internal/database"
	"github.com/trentd187/puckdrop/internal/metrics"
	"github.com/trentd187/puckdrop/internal/models"
)

// Registrations owns the registration state machine for games:
//
//	registered ──cancel──▶ cancelled
//	waitlisted ──cancel──▶ cancelled
//	waitlisted ──promote─▶ registered
//
// Every change that affects capacity bumps the event's version in the same
// transaction, so two players racing for the last spot cannot both get it.
type Registrations struct {
	db      *gorm.DB
	notify  *Notifications
	log     *zap.Logger
	metrics *metrics.Metrics
	now     Clock
}

// NewRegistrations wires the registrations service.
func NewRegistrations(db *gorm.DB, notify *Notifications, log *zap.Logger, m *metrics.Metrics) *Registrations {
	return &Registrations{db: db, notify: notify, log: log, metrics: m, now: SystemClock}
}

// RegisterForEventInput is the body of POST /api/v1/events/:id/register.
type RegisterForEventInput struct {
	// Position to play; defaults to the position on the player's profile.
	Position *models.Position `json:"position" validate:"omitempty,oneof=forward defense goalie"`
}

// Register signs the actor up for an event: a spot if there is one, otherwise the
// back of the waitlist.
func (s *Registrations) Register(ctx context.Context, actor Actor, eventID uuid.UUID, in RegisterForEventInput) (*models.EventRegistration, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}

	var reg models.EventRegistration
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		event, err := loadEvent(tx, eventID)
		if err != nil {
			return err
		}
		now := s.now()
		switch {
		case event.Status != models.EventStatusScheduled:
			return invalidState("event is %s", event.Status)
		case !now.Before(event.StartsAt):
			return invalidState("event has already started")
		case event.RegistrationClosesAt != nil && !now.Before(*event.RegistrationClosesAt):
			return invalidState("registration is closed")
		}

		var existing int64
		if err := tx.Model(&models.EventRegistration{}).
			Where("event_id = ? AND user_id = ? AND status <> ?", eventID, actor.ID, models.RegistrationCancelled).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return conflictOr(gorm.ErrDuplicatedKey, "you are already signed up for this event")
		}

		position := models.PositionForward
		if in.Position != nil {
			position = *in.Position
		} else {
			var user models.User
			if err := tx.Select("position").First(&user, "id = ?", actor.ID).Error; err != nil {
				return notFound(err, "user")
			}
			position = user.Position
		}

		registered, err := countRegistered(tx, eventID)
		if err != nil {
			return err
		}
		reg = models.EventRegistration{
			EventID:       eventID,
			UserID:        actor.ID,
			Position:      position,
			PaymentStatus: models.PaymentPending,
			RegisteredAt:  now,
		}
		if registered < int64(event.MaxPlayers) {
			reg.Status = models.RegistrationRegistered
		} else {
			var last int
			if err := tx.Model(&models.EventRegistration{}).
				Where("event_id = ? AND status = ?", eventID, models.RegistrationWaitlisted).
				Select("COALESCE(MAX(waitlist_position), 0)").Scan(&last).Error; err != nil {
				return err
			}
			reg.Status = models.RegistrationWaitlisted
			reg.WaitlistPosition = ptr(last + 1)
		}

		if err := tx.Omit(clause.Associations).Create(&reg).Error; err != nil {
			return conflictOr(err, "you are already signed up for this event")
		}
		return database.BumpVersion(tx, &models.Event{}, eventID, event.Version)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Registrations.WithLabelValues(string(reg.Status)).Inc()
	s.log.Info("registered for event",
		zap.String("event_id", eventID.String()),
		zap.String("user_id", actor.ID.String()),
		zap.String("status", string(reg.Status)))
	return &reg, nil
}

// Cancel drops a registration. A freed spot goes to the head of the waitlist in the
// same transaction; leaving the waitlist closes the gap behind you.
func (s *Registrations) Cancel(ctx context.Context, actor Actor, id uuid.UUID) (*models.EventRegistration, error) {
	var (
		reg      *models.EventRegistration
		event    *models.Event
		promoted []models.EventRegistration
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if reg, event, err = s.load(tx, id); err != nil {
			return err
		}
		if reg.UserID != actor.ID {
			ok, err := canManageEvent(tx, actor, event)
			if err != nil {
				return err
			}
			if !ok {
				return forbidden("you can only cancel your own registration")
			}
		}
		if reg.Status == models.RegistrationCancelled {
			return invalidState("registration is already cancelled")
		}
		if event.Status != models.EventStatusScheduled {
			return invalidState("event is %s", event.Status)
		}

		was := reg.Status
		now := s.now()
		if err := tx.Model(reg).Updates(map[string]any{
			"status":            models.RegistrationCancelled,
			"waitlist_position": nil,
			"team":              nil,
			"cancelled_at":      now,
		}).Error; err != nil {
			return fmt.Errorf("cancel registration: %w", err)
		}
		reg.Status, reg.WaitlistPosition, reg.Team, reg.CancelledAt = models.RegistrationCancelled, nil, nil, &now

		if was == models.RegistrationRegistered {
			if promoted, err = s.promoteTx(tx, event); err != nil {
				return err
			}
		} else if err := renumberWaitlist(tx, event.ID); err != nil {
			return err
		}
		return database.BumpVersion(tx, &models.Event{}, event.ID, event.Version)
	})
	if err != nil {
		return nil, err
	}
	s.notifyPromoted(ctx, event, promoted)
	return reg, nil
}

// PromoteWaitlist fills any free spots of an event from its waitlist. The waitlist
// sweep calls it for every upcoming event; it is a no-op when nothing is free.
func (s *Registrations) PromoteWaitlist(ctx context.Context, eventID uuid.UUID) ([]models.EventRegistration, error) {
	var (
		event    *models.Event
		promoted []models.EventRegistration
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if event, err = loadEvent(tx, eventID); err != nil {
			return err
		}
		if event.Status != models.EventStatusScheduled || !s.now().Before(event.StartsAt) {
			return nil
		}
		if promoted, err = s.promoteTx(tx, event); err != nil || len(promoted) == 0 {
			return err
		}
		return database.BumpVersion(tx, &models.Event{}, event.ID, event.Version)
	})
	if err != nil {
		return nil, err
	}
	s.notifyPromoted(ctx, event, promoted)
	return promoted, nil
}

// promoteTx moves the lowest waitlist positions into free spots and renumbers the
// rest. The caller owns the transaction and the version bump.
func (s *Registrations) promoteTx(tx *gorm.DB, event *models.Event) ([]models.EventRegistration, error) {
	registered, err := countRegistered(tx, event.ID)
	if err != nil {
		return nil, err
	}
	free := event.MaxPlayers - int(registered)
	if free <= 0 {
		return nil, nil
	}

	var next []models.EventRegistration
	if err := tx.Where("event_id = ? AND status = ?", event.ID, models.RegistrationWaitlisted).
		Order("waitlist_position").Limit(free).Find(&next).Error; err != nil {
		return nil, fmt.Errorf("load waitlist: %w", err)
	}
	if len(next) == 0 {
		return nil, nil
	}
	for i := range next {
		if err := tx.Model(&next[i]).Updates(map[string]any{
			"status":            models.RegistrationRegistered,
			"waitlist_position": nil,
		}).Error; err != nil {
			return nil, fmt.Errorf("promote registration: %w", err)
		}
		next[i].Status = models.RegistrationRegistered
		next[i].WaitlistPosition = nil
	}
	return next, renumberWaitlist(tx, event.ID)
}

func (s *Registrations) notifyPromoted(ctx context.Context, event *models.Event, promoted []models.EventRegistration) {
	if len(promoted) == 0 {
		return
	}
	s.metrics.Registrations.WithLabelValues("promoted").Add(float64(len(promoted)))
	s.log.Info("waitlist promoted", zap.String("event_id", event.ID.String()), zap.Int("count", len(promoted)))
	s.notify.notifyAfter(ctx, userIDs(promoted, func(r models.EventRegistration) uuid.UUID { return r.UserID }), Notice{
		Kind:  models.NotifyWaitlistPromoted,
		Title: "You're in!",
		Body:  fmt.Sprintf("A spot opened up for %s on %s.", event.Name, event.StartsAt.Format("Mon Jan 2 3:04 PM MST")),
		Data:  map[string]any{"event_id": event.ID.String()},
	})
}

// renumberWaitlist rewrites positions to 1..n, keeping the current order.
func renumberWaitlist(tx *gorm.DB, eventID uuid.UUID) error {
	var waiting []models.EventRegistration
	if err := tx.Where("event_id = ? AND status = ?", eventID, models.RegistrationWaitlisted).
		Order("waitlist_position, registered_at").Find(&waiting).Error; err != nil {
		return fmt.Errorf("load waitlist: %w", err)
	}
	for i, r := range waiting {
		if r.WaitlistPosition != nil && *r.WaitlistPosition == i+1 {
			continue
		}
		if err := tx.Model(&models.EventRegistration{}).Where("id = ?", r.ID).
			Update("waitlist_position", i+1).Error; err != nil {
			return fmt.Errorf("renumber waitlist: %w", err)
		}
	}
	return nil
}

// ReorderWaitlist lets an organizer put the waitlist in a new order. ordered must
// contain every waitlisted registration exactly once.
func (s *Registrations) ReorderWaitlist(ctx context.Context, actor Actor, eventID uuid.UUID, ordered []uuid.UUID) ([]models.EventRegistration, error) {
	var waiting []models.EventRegistration
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		event, err := requireEventManager(tx, actor, eventID)
		if err != nil {
			return err
		}
		if err := tx.Where("event_id = ? AND status = ?", eventID, models.RegistrationWaitlisted).
			Find(&waiting).Error; err != nil {
			return err
		}
		if !isPermutation(ordered, userIDs(waiting, func(r models.EventRegistration) uuid.UUID { return r.ID })) {
			return invalidInput("the new order must list every waitlisted registration exactly once")
		}
		pos := make(map[uuid.UUID]int, len(ordered))
		for i, id := range ordered {
			pos[id] = i + 1
		}
		for i := range waiting {
			p := pos[waiting[i].ID]
			if waiting[i].WaitlistPosition != nil && *waiting[i].WaitlistPosition == p {
				continue
			}
			if err := tx.Model(&waiting[i]).Update("waitlist_position", p).Error; err != nil {
				return fmt.Errorf("reorder waitlist: %w", err)
			}
			waiting[i].WaitlistPosition = ptr(p)
		}
		return database.BumpVersion(tx, &models.Event{}, eventID, event.Version)
	})
	if err != nil {
		return nil, err
	}
	sortByWaitlistPosition(waiting)
	return waiting, nil
}

// PromoteSpecific moves one waitlisted player into the game, skipping the queue.
func (s *Registrations) PromoteSpecific(ctx context.Context, actor Actor, id uuid.UUID) (*models.EventRegistration, error) {
	var (
		reg   *models.EventRegistration
		event *models.Event
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if reg, event, err = s.load(tx, id); err != nil {
			return err
		}
		if ok, err := canManageEvent(tx, actor, event); err != nil {
			return err
		} else if !ok {
			return forbidden("only the event's organizers can promote players")
		}
		if reg.Status != models.RegistrationWaitlisted {
			return invalidState("registration is %s, not waitlisted", reg.Status)
		}
		registered, err := countRegistered(tx, event.ID)
		if err != nil {
			return err
		}
		if registered >= int64(event.MaxPlayers) {
			return invalidState("event is full; raise max players or cancel someone first")
		}
		if err := tx.Model(reg).Updates(map[string]any{
			"status":            models.RegistrationRegistered,
			"waitlist_position": nil,
		}).Error; err != nil {
			return err
		}
		reg.Status, reg.WaitlistPosition = models.RegistrationRegistered, nil
		if err := renumberWaitlist(tx, event.ID); err != nil {
			return err
		}
		return database.BumpVersion(tx, &models.Event{}, event.ID, event.Version)
	})
	if err != nil {
		return nil, err
	}
	s.notifyPromoted(ctx, event, []models.EventRegistration{*reg})
	return reg, nil
}

// MarkPaid is the player saying "I sent the Venmo".
func (s *Registrations) MarkPaid(ctx context.Context, actor Actor, id uuid.UUID) (*models.EventRegistration, error) {
	reg, event, err := s.load(s.db.WithContext(ctx), id)
	if err != nil {
		return nil, err
	}
	if reg.UserID != actor.ID {
		return nil, forbidden("you can only mark your own registration as paid")
	}
	if reg.Status != models.RegistrationRegistered {
		return nil, invalidState("only registered players pay")
	}
	if event.CostCents == 0 {
		return nil, invalidState("this game is free")
	}
	if reg.PaymentStatus != models.PaymentPending {
		return nil, invalidState("payment is already %s", reg.PaymentStatus)
	}
	return s.setPayment(ctx, reg, models.PaymentMarkedPaid, map[string]any{"paid_at": s.now()})
}

// VerifyPayment is the organizer confirming the money arrived.
func (s *Registrations) VerifyPayment(ctx context.Context, actor Actor, id uuid.UUID) (*models.EventRegistration, error) {
	reg, event, err := s.loadManaged(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if reg.Status == models.RegistrationCancelled {
		return nil, invalidState("registration is cancelled")
	}
	if reg.PaymentStatus == models.PaymentVerified {
		return nil, invalidState("payment is already verified")
	}
	changes := map[string]any{"verified_at": s.now()}
	if reg.PaidAt == nil {
		changes["paid_at"] = s.now()
	}
	reg, err = s.setPayment(ctx, reg, models.PaymentVerified, changes)
	if err != nil {
		return nil, err
	}
	s.notify.notifyAfter(ctx, []uuid.UUID{reg.UserID}, Notice{
		Kind:  models.NotifyPaymentVerified,
		Title: "Payment received",
		Body:  fmt.Sprintf("Your payment for %s has been confirmed.", event.Name),
		Data:  map[string]any{"event_id": event.ID.String(), "registration_id": reg.ID.String()},
	})
	return reg, nil
}

// ResetPayment puts a registration back to pending (a payment that never arrived).
func (s *Registrations) ResetPayment(ctx context.Context, actor Actor, id uuid.UUID) (*models.EventRegistration, error) {
	reg, _, err := s.loadManaged(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if reg.Status == models.RegistrationCancelled {
		return nil, invalidState("registration is cancelled")
	}
	if reg.PaymentStatus == models.PaymentPending {
		return reg, nil
	}
	return s.setPayment(ctx, reg, models.PaymentPending, map[string]any{"paid_at": nil, "verified_at": nil})
}

func (s *Registrations) setPayment(ctx context.Context, reg *models.EventRegistration, to models.PaymentStatus, extra map[string]any) (*models.EventRegistration, error) {
	changes := map[string]any{"payment_status": to}
	for k, v := range extra {
		changes[k] = v
	}
	if err := s.db.WithContext(ctx).Model(&models.EventRegistration{}).Where("id = ?", reg.ID).
		Updates(changes).Error; err != nil {
		return nil, fmt.Errorf("update payment: %w", err)
	}
	var out models.EventRegistration
	if err := s.db.WithContext(ctx).First(&out, "id = ?", reg.ID).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

// PaymentLink is what the app opens to pay for a game.
type PaymentLink struct {
	Recipient   string
	AmountCents int
	Note        string
	AppURL      string // Opens the Venmo app with the payment pre-filled
	WebURL      string // Fallback when the app is not installed
}

// PaymentLink builds the Venmo deep link for an event. The recipient is the event's
// Venmo handle, falling back to the creator's.
func (s *Registrations) PaymentLink(ctx context.Context, eventID uuid.UUID) (*PaymentLink, error) {
	event, err := loadEvent(s.db.WithContext(ctx).Preload("Creator"), eventID)
	if err != nil {
		return nil, err
	}
	if event.CostCents == 0 {
		return nil, invalidState("this game is free")
	}
	handle := event.VenmoHandle
	if handle == nil {
		handle = event.Creator.VenmoHandle
	}
	if handle == nil || *handle == "" {
		return nil, invalidState("the organizer has not set a Venmo handle")
	}

	note := fmt.Sprintf("%s %s", event.Name, event.StartsAt.Format("1/2"))
	app, web := VenmoLinks(*handle, event.CostCents, note)
	return &PaymentLink{Recipient: *handle, AmountCents: event.CostCents, Note: note, AppURL: app, WebURL: web}, nil
}

// VenmoLinks formats the venmo:// deep link and its https fallback.
func VenmoLinks(handle string, cents int, note string) (app, web string) {
	amount := fmt.Sprintf("%d.%02d", cents/100, cents%100)
	esc := func(s string) string { return strings.ReplaceAll(url.QueryEscape(s), "+", "%20") }
	app = "venmo://paycharge?txn=pay&recipients=" + esc(handle) + "&amount=" + amount + "&note=" + esc(note)
	web = "https://venmo.com/" + url.PathEscape(handle) + "?txn=pay&amount=" + amount + "&note=" + esc(note)
	return app, web
}

// MyRegistrations lists the viewer's live registrations, soonest game first.
func (s *Registrations) MyRegistrations(ctx context.Context, viewer Actor, includePast bool) ([]models.EventRegistration, error) {
	q := s.db.WithContext(ctx).Preload("Event").
		Joins("JOIN events ON events.id = event_registrations.event_id").
		Where("event_registrations.user_id = ? AND event_registrations.status <> ?", viewer.ID, models.RegistrationCancelled)
	if !includePast {
		q = q.Where("events.starts_at >= ?", s.now())
	}
	var regs []models.EventRegistration
	if err := q.Order("events.starts_at").Find(&regs).Error; err != nil {
		return nil, fmt.Errorf("list my registrations: %w", err)
	}
	return regs, nil
}

func (s *Registrations) load(tx *gorm.DB, id uuid.UUID) (*models.EventRegistration, *models.Event, error) {
	var reg models.EventRegistration
	if err := tx.First(&reg, "id = ?", id).Error; err != nil {
		return nil, nil, notFound(err, "registration")
	}
	event, err := loadEvent(tx, reg.EventID)
	if err != nil {
		return nil, nil, err
	}
	return &reg, event, nil
}

func (s *Registrations) loadManaged(ctx context.Context, actor Actor, id uuid.UUID) (*models.EventRegistration, *models.Event, error) {
	db := s.db.WithContext(ctx)
	reg, event, err := s.load(db, id)
	if err != nil {
		return nil, nil, err
	}
	ok, err := canManageEvent(db, actor, event)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, forbidden("only the event's organizers can manage payments")
	}
	return reg, event, nil
}

func sortByWaitlistPosition(regs []models.EventRegistration) {
	sort.SliceStable(regs, func(i, j int) bool {
		pi, pj := 0, 0
		if regs[i].WaitlistPosition != nil {
			pi = *regs[i].WaitlistPosition
		}
		if regs[j].WaitlistPosition != nil {
			pj = *regs[j].WaitlistPosition
		}
		return pi < pj
	})
}

func isPermutation(got, want []uuid.UUID) bool {
	if len(got) != len(want) {
		return false
	}
	need := setOf(want)
	for _, id := range got {
		if !need[id] {
			return false
		}
		delete(need, id)
	}
	return len(need) == 0
}

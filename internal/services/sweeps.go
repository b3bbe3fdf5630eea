package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/trentd187/puckdrop/internal/models"
)

// Sweeps is the work the periodic background jobs do. Every method can be re-run
// after a failure; reminders are claimed with a conditional update before they are
// sent so a game is only ever reminded once.
type Sweeps struct {
	db      *gorm.DB
	regs    *Registrations
	rosters *Rosters
	notify  *Notifications
	log     *zap.Logger
	now     Clock
}

// NewSweeps wires the sweeps the background jobs run.
func NewSweeps(db *gorm.DB, regs *Registrations, rosters *Rosters, notify *Notifications, log *zap.Logger) *Sweeps {
	return &Sweeps{db: db, regs: regs, rosters: rosters, notify: notify, log: log, now: SystemClock}
}

// PromoteWaitlists fills free spots in every upcoming game that has a waitlist.
// Normally cancellations promote straight away; this catches anything missed.
func (s *Sweeps) PromoteWaitlists(ctx context.Context) (int, error) {
	var ids []uuid.UUID
	err := s.db.WithContext(ctx).Model(&models.Event{}).
		Where("status = ? AND starts_at > ?", models.EventStatusScheduled, s.now()).
		Where("EXISTS (SELECT 1 FROM event_registrations r WHERE r.event_id = events.id AND r.status = ?)", models.RegistrationWaitlisted).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, fmt.Errorf("find events with waitlists: %w", err)
	}

	promoted := 0
	for _, id := range ids {
		regs, err := s.regs.PromoteWaitlist(ctx, id)
		if err != nil {
			// One busy event should not stop the sweep; it gets another go next run.
			s.log.Warn("promote waitlist", zap.String("event_id", id.String()), zap.Error(err))
			continue
		}
		promoted += len(regs)
	}
	return promoted, nil
}

// SendReminders notifies registered players of games starting within lead.
func (s *Sweeps) SendReminders(ctx context.Context, lead time.Duration) (int, error) {
	now := s.now()
	var events []models.Event
	err := s.db.WithContext(ctx).
		Where("status = ? AND reminder_sent_at IS NULL AND starts_at > ? AND starts_at <= ?",
			models.EventStatusScheduled, now, now.Add(lead)).
		Find(&events).Error
	if err != nil {
		return 0, fmt.Errorf("find events to remind: %w", err)
	}

	sent := 0
	for _, e := range events {
		notice := Notice{
			Kind:  models.NotifyEventReminder,
			Title: "Game reminder",
			Body:  fmt.Sprintf("%s starts %s at %s.", e.Name, e.StartsAt.Format("Mon 3:04 PM MST"), e.Location),
			Data:  map[string]any{"event_id": e.ID.String()},
		}
		// The claim and the notification rows commit together: if saving the
		// notifications fails the claim rolls back and the next run tries again.
		var users []uuid.UUID
		claimed := false
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			claim := tx.Model(&models.Event{}).
				Where("id = ? AND reminder_sent_at IS NULL", e.ID).
				Update("reminder_sent_at", now)
			if claim.Error != nil {
				return fmt.Errorf("claim reminder: %w", claim.Error)
			}
			if claim.RowsAffected == 0 {
				return nil
			}
			claimed = true

			if err := tx.Model(&models.EventRegistration{}).
				Where("event_id = ? AND status = ?", e.ID, models.RegistrationRegistered).
				Pluck("user_id", &users).Error; err != nil {
				return fmt.Errorf("load players: %w", err)
			}
			var err error
			users, err = s.notify.save(tx, users, notice)
			return err
		})
		if err != nil {
			return sent, err
		}
		if !claimed {
			continue
		}
		s.notify.sendPush(ctx, users, notice)
		sent++
	}
	return sent, nil
}

// PublishRosters auto-balances and publishes rosters for games starting within lead
// whose organizer has not published one.
func (s *Sweeps) PublishRosters(ctx context.Context, lead time.Duration) (int, error) {
	now := s.now()
	var events []models.Event
	err := s.db.WithContext(ctx).
		Where("status = ? AND roster_published_at IS NULL AND starts_at > ? AND starts_at <= ?",
			models.EventStatusScheduled, now, now.Add(lead)).
		Find(&events).Error
	if err != nil {
		return 0, fmt.Errorf("find rosters to publish: %w", err)
	}

	published := 0
	for i := range events {
		if _, err := s.rosters.publish(ctx, &events[i]); err != nil {
			s.log.Warn("publish roster", zap.String("event_id", events[i].ID.String()), zap.Error(err))
			continue
		}
		published++
	}
	return published, nil
}

// CleanupNotifications deletes notifications older than retention.
func (s *Sweeps) CleanupNotifications(ctx context.Context, retention time.Duration) (int64, error) {
	return s.notify.Cleanup(ctx, s.now().Add(-retention))
}

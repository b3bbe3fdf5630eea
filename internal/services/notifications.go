package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/trentd187/puckdrop/internal/apperr"
	"github.com/trentd187/puckdrop/internal/metrics"
	"github.com/trentd187/puckdrop/internal/models"
	"github.com/trentd187/puckdrop/internal/push"
)

// Notifications stores in-app notifications and mirrors them as Expo pushes.
type Notifications struct {
	db      *gorm.DB
	push    push.Sender
	log     *zap.Logger
	metrics *metrics.Metrics
	now     Clock
}

// NewNotifications wires the notification service. sender may be nil, which turns
// push delivery off and keeps only the in-app copy.
func NewNotifications(db *gorm.DB, sender push.Sender, log *zap.Logger, m *metrics.Metrics) *Notifications {
	return &Notifications{db: db, push: sender, log: log, metrics: m, now: SystemClock}
}

// Notice is one notification to fan out to a set of users.
type Notice struct {
	Kind  models.NotificationKind
	Title string
	Body  string
	Data  map[string]any
}

// Notify saves one notification row per user, then pushes to the users that have
// registered a device. Push failures are logged, never returned: the in-app copy is
// the source of truth.
func (s *Notifications) Notify(ctx context.Context, users []uuid.UUID, n Notice) error {
	users, err := s.save(s.db.WithContext(ctx), users, n)
	if err != nil {
		return err
	}
	s.sendPush(ctx, users, n)
	return nil
}

// save writes the notification rows on tx and returns the de-duplicated recipients.
// Callers that save inside their own transaction push after it commits.
func (s *Notifications) save(tx *gorm.DB, users []uuid.UUID, n Notice) ([]uuid.UUID, error) {
	users = dedupe(users)
	if len(users) == 0 {
		return nil, nil
	}

	rows := make([]models.Notification, 0, len(users))
	for _, id := range users {
		rows = append(rows, models.Notification{
			UserID: id,
			Kind:   n.Kind,
			Title:  n.Title,
			Body:   n.Body,
			Data:   datatypes.JSONMap(n.Data),
		})
	}
	if err := tx.Create(&rows).Error; err != nil {
		return nil, fmt.Errorf("save notifications: %w", err)
	}
	return users, nil
}

// notifyAfter is Notify for callers that have already committed their change and
// have no way to surface a notification failure to the client.
func (s *Notifications) notifyAfter(ctx context.Context, users []uuid.UUID, n Notice) {
	if err := s.Notify(ctx, users, n); err != nil {
		s.log.Error("notify failed", zap.String("kind", string(n.Kind)), zap.Error(err))
	}
}

func (s *Notifications) sendPush(ctx context.Context, users []uuid.UUID, n Notice) {
	if s.push == nil {
		return
	}
	var tokens []string
	err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id IN ? AND expo_push_token IS NOT NULL AND expo_push_token <> ''", users).
		Pluck("expo_push_token", &tokens).Error
	if err != nil {
		s.log.Warn("load push tokens", zap.Error(err))
		return
	}
	if len(tokens) == 0 {
		return
	}

	data := map[string]any{"kind": string(n.Kind)}
	for k, v := range n.Data {
		data[k] = v
	}
	msgs := make([]push.Message, 0, len(tokens))
	for _, t := range tokens {
		msgs = append(msgs, push.Message{To: t, Title: n.Title, Body: n.Body, Data: data, Sound: "default"})
	}

	tickets, err := s.push.Send(ctx, msgs)
	if err != nil {
		s.metrics.PushMessages.WithLabelValues("failed").Add(float64(len(msgs) - len(tickets)))
		s.log.Warn("expo push failed", zap.Int("messages", len(msgs)), zap.Error(err))
	}
	for _, t := range tickets {
		if t.Status == "ok" {
			s.metrics.PushMessages.WithLabelValues("ok").Inc()
			continue
		}
		s.metrics.PushMessages.WithLabelValues("rejected").Inc()
		s.log.Debug("expo rejected push", zap.String("message", t.Message))
	}
}

// List returns the viewer's notifications, newest first.
func (s *Notifications) List(ctx context.Context, viewer Actor, unreadOnly bool, limit int) ([]models.Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := s.db.WithContext(ctx).Where("user_id = ?", viewer.ID)
	if unreadOnly {
		q = q.Where("read_at IS NULL")
	}
	var out []models.Notification
	if err := q.Order("created_at DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return out, nil
}

// UnreadCount is the badge number shown on the app icon.
func (s *Notifications) UnreadCount(ctx context.Context, viewer Actor) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND read_at IS NULL", viewer.ID).Count(&n).Error
	return n, err
}

// MarkRead marks one of the viewer's notifications as read. Marking twice is fine.
func (s *Notifications) MarkRead(ctx context.Context, viewer Actor, id uuid.UUID) error {
	var n models.Notification
	if err := s.db.WithContext(ctx).First(&n, "id = ?", id).Error; err != nil {
		return notFound(err, "notification")
	}
	if n.UserID != viewer.ID {
		// Someone else's notification: pretend it does not exist.
		return fmt.Errorf("%w: notification", apperr.ErrNotFound)
	}
	if n.ReadAt != nil {
		return nil
	}
	return s.db.WithContext(ctx).Model(&n).Update("read_at", s.now()).Error
}

// MarkAllRead marks every unread notification of the viewer as read.
func (s *Notifications) MarkAllRead(ctx context.Context, viewer Actor) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND read_at IS NULL", viewer.ID).
		Update("read_at", s.now())
	return res.RowsAffected, res.Error
}

// Cleanup deletes notifications created before cutoff.
func (s *Notifications) Cleanup(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.Notification{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete old notifications: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if id == uuid.Nil || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

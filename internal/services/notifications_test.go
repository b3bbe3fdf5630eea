package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trentd187/puckdrop/internal/apperr"
	"github.com/trentd187/puckdrop/internal/models"
)

func TestNotificationInbox(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	me, other := env.player(t), env.player(t)

	// Duplicate recipients get one row each, not two.
	require.NoError(t, env.notifications.Notify(ctx, []uuid.UUID{me.ID, me.ID, other.ID}, Notice{
		Kind: models.NotifyEventCreated, Title: "New game", Body: "Friday 10pm",
	}))
	require.NoError(t, env.notifications.Notify(ctx, []uuid.UUID{me.ID}, Notice{
		Kind: models.NotifyEventReminder, Title: "Reminder", Body: "Tonight",
	}))

	unread, err := env.notifications.UnreadCount(ctx, me)
	require.NoError(t, err)
	assert.EqualValues(t, 2, unread)

	list, err := env.notifications.List(ctx, me, false, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, models.NotifyEventReminder, list[0].Kind, "newest first")

	assert.ErrorIs(t, env.notifications.MarkRead(ctx, other, list[0].ID), apperr.ErrNotFound)
	require.NoError(t, env.notifications.MarkRead(ctx, me, list[0].ID))
	require.NoError(t, env.notifications.MarkRead(ctx, me, list[0].ID))

	onlyUnread, err := env.notifications.List(ctx, me, true, 0)
	require.NoError(t, err)
	require.Len(t, onlyUnread, 1)
	assert.Equal(t, list[1].ID, onlyUnread[0].ID)

	n, err := env.notifications.MarkAllRead(ctx, me)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	unread, err = env.notifications.UnreadCount(ctx, me)
	require.NoError(t, err)
	assert.Zero(t, unread)

	unread, err = env.notifications.UnreadCount(ctx, other)
	require.NoError(t, err)
	assert.EqualValues(t, 1, unread, "marking mine read leaves theirs alone")
}

package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trentd187/puckdrop/internal/apperr"
	"github.com/trentd187/puckdrop/internal/models"
)

func TestCreateEvent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.organizer(t)

	_, err := env.events.Create(ctx, env.player(t), CreateEventInput{
		Name: "Pickup", Location: "Rink", StartsAt: "tomorrow at 9pm", MaxPlayers: 20,
	})
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = env.events.Create(ctx, owner, CreateEventInput{
		Name: "Pickup", Location: "Rink", StartsAt: "2020-01-01T21:00:00Z", MaxPlayers: 20,
	})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput, "start time in the past")

	ev, err := env.events.Create(ctx, owner, CreateEventInput{
		Name:        "  Late Skate ",
		Location:    "Rink 2",
		StartsAt:    "tomorrow at 9pm",
		Timezone:    "America/Chicago",
		MaxPlayers:  20,
		VenmoHandle: ptr("@late-skate"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Late Skate", ev.Name)
	assert.Equal(t, 60, ev.DurationMinutes)
	assert.Equal(t, models.EventStatusScheduled, ev.Status)
	assert.Equal(t, 1, ev.Version)
	assert.True(t, ev.StartsAt.After(time.Now()))
}

func TestOrganizationSubscribersHearAboutNewGames(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.organizer(t)

	org, err := env.orgs.Create(ctx, owner, CreateOrganizationInput{Name: "Tuesday Crew"})
	require.NoError(t, err)

	_, err = env.orgs.Create(ctx, env.organizer(t), CreateOrganizationInput{Name: "Tuesday Crew"})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	startsAt := time.Now().AddDate(0, 0, 5).Format(time.RFC3339)
	fan := env.player(t)
	require.NoError(t, env.orgs.Subscribe(ctx, fan, org.ID))
	assert.ErrorIs(t, env.orgs.Subscribe(ctx, fan, org.ID), apperr.ErrConflict)

	// Only the organization's admins can post games under it.
	_, err = env.events.Create(ctx, env.organizer(t), CreateEventInput{
		OrganizationID: &org.ID, Name: "Crew Skate", Location: "Rink", StartsAt: startsAt, MaxPlayers: 20,
	})
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = env.events.Create(ctx, owner, CreateEventInput{
		OrganizationID: &org.ID, Name: "Crew Skate", Location: "Rink", StartsAt: startsAt, MaxPlayers: 20,
	})
	require.NoError(t, err)

	assert.EqualValues(t, 1, env.notificationsFor(t, fan.ID, models.NotifyEventCreated))
	assert.Zero(t, env.notificationsFor(t, owner.ID, models.NotifyEventCreated), "the poster is not notified")

	view, err := env.orgs.Get(ctx, org.ID, fan)
	require.NoError(t, err)
	assert.EqualValues(t, 2, view.SubscriberCount)
	assert.True(t, view.IsSubscribed)
	assert.False(t, view.IsAdmin)
}

func TestGetEventIsReadOnly(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.organizer(t)
	event := env.event(t, owner, 1)

	p := env.player(t)
	_, err := env.registrations.Register(ctx, env.player(t), event.ID, RegisterForEventInput{})
	require.NoError(t, err)
	_, err = env.registrations.Register(ctx, p, event.ID, RegisterForEventInput{})
	require.NoError(t, err)

	first, err := env.events.Get(ctx, event.ID, p)
	require.NoError(t, err)
	second, err := env.events.Get(ctx, event.ID, p)
	require.NoError(t, err)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("second read differs (-first +second):\n%s", diff)
	}

	require.NotNil(t, first.Mine)
	assert.Equal(t, models.RegistrationWaitlisted, first.Mine.Status)
	assert.False(t, first.CanManage)
	assert.Equal(t, owner.ID, first.Event.Creator.ID)
}

func TestCancelEventNotifiesEveryone(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.organizer(t)
	event := env.event(t, owner, 1)

	in, waiting := env.player(t), env.player(t)
	_, err := env.registrations.Register(ctx, in, event.ID, RegisterForEventInput{})
	require.NoError(t, err)
	_, err = env.registrations.Register(ctx, waiting, event.ID, RegisterForEventInput{})
	require.NoError(t, err)

	_, err = env.events.Cancel(ctx, in, event.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	cancelled, err := env.events.Cancel(ctx, owner, event.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EventStatusCancelled, cancelled.Status)
	assert.EqualValues(t, 1, env.notificationsFor(t, in.ID, models.NotifyEventCancelled))
	assert.EqualValues(t, 1, env.notificationsFor(t, waiting.ID, models.NotifyEventCancelled))

	_, err = env.registrations.Register(ctx, env.player(t), event.ID, RegisterForEventInput{})
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	_, err = env.events.Complete(ctx, owner, event.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	// Cancelled games drop out of the default listing.
	list, err := env.events.List(ctx, owner, EventFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
	list, err = env.events.List(ctx, owner, EventFilter{IncludeCancelled: true})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestListEventsCountsAndMine(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.organizer(t)
	full := env.event(t, owner, 1)
	open := env.event(t, owner, 10)

	p := env.player(t)
	_, err := env.registrations.Register(ctx, env.player(t), full.ID, RegisterForEventInput{})
	require.NoError(t, err)
	_, err = env.registrations.Register(ctx, p, full.ID, RegisterForEventInput{})
	require.NoError(t, err)

	list, err := env.events.List(ctx, p, EventFilter{})
	require.NoError(t, err)
	require.Len(t, list, 2)
	byID := map[string]EventSummary{}
	for _, s := range list {
		byID[s.ID.String()] = s
	}

	got := byID[full.ID.String()]
	assert.EqualValues(t, 1, got.RegisteredCount)
	assert.EqualValues(t, 1, got.WaitlistCount)
	require.NotNil(t, got.MyStatus)
	assert.Equal(t, models.RegistrationWaitlisted, *got.MyStatus)
	assert.Nil(t, byID[open.ID.String()].MyStatus)

	mine, err := env.events.List(ctx, p, EventFilter{Mine: true})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, full.ID, mine[0].ID)
}

func TestRosterPublishSplitsTheGame(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.organizer(t)
	event := env.event(t, owner, 6)

	var players []Actor
	for i := range 6 {
		pos := models.PositionForward
		if i < 2 {
			pos = models.PositionGoalie
		}
		p := env.user(t, models.UserRolePlayer, pos, models.SkillIntermediate)
		players = append(players, p)
		_, err := env.registrations.Register(ctx, p, event.ID, RegisterForEventInput{})
		require.NoError(t, err)
	}

	_, err := env.rosters.Publish(ctx, players[0], event.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	roster, err := env.rosters.Publish(ctx, owner, event.ID)
	require.NoError(t, err)
	assert.Len(t, roster.Light, 3)
	assert.Len(t, roster.Dark, 3)
	assert.Empty(t, roster.Unassigned)
	// Line-up order puts the goalie first on each side.
	assert.Equal(t, models.PositionGoalie, roster.Light[0].Position)
	assert.Equal(t, models.PositionGoalie, roster.Dark[0].Position)
	assert.NotNil(t, roster.Event.RosterPublishedAt)

	for _, p := range players {
		assert.EqualValues(t, 1, env.notificationsFor(t, p.ID, models.NotifyRosterPublished))
	}

	data, err := env.rosters.Export(ctx, owner, event.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

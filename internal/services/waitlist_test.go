package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trentd187/puckdrop/internal/apperr"
	"github.com/trentd187/puckdrop/internal/models"
)

func (e *testEnv) reload(t *testing.T, id uuid.UUID) models.EventRegistration {
	t.Helper()
	var reg models.EventRegistration
	require.NoError(t, e.db.First(&reg, "id = ?", id).Error)
	return reg
}

func TestWaitlistIsFirstComeFirstServed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.organizer(t)
	event := env.event(t, owner, 2)

	players := make([]Actor, 5)
	regs := make([]*models.EventRegistration, 5)
	for i := range players {
		players[i] = env.player(t)
		reg, err := env.registrations.Register(ctx, players[i], event.ID, RegisterForEventInput{})
		require.NoError(t, err)
		regs[i] = reg
	}

	assert.Equal(t, models.RegistrationRegistered, regs[0].Status)
	assert.Equal(t, models.RegistrationRegistered, regs[1].Status)
	for i, want := range []int{1, 2, 3} {
		reg := regs[i+2]
		assert.Equal(t, models.RegistrationWaitlisted, reg.Status)
		require.NotNil(t, reg.WaitlistPosition)
		assert.Equal(t, want, *reg.WaitlistPosition)
	}

	// A registered player drops out: the head of the waitlist takes the spot and
	// everyone behind moves up.
	_, err := env.registrations.Cancel(ctx, players[0], regs[0].ID)
	require.NoError(t, err)

	promoted := env.reload(t, regs[2].ID)
	assert.Equal(t, models.RegistrationRegistered, promoted.Status)
	assert.Nil(t, promoted.WaitlistPosition)
	assert.EqualValues(t, 1, env.notificationsFor(t, players[2].ID, models.NotifyWaitlistPromoted))

	assert.Equal(t, 1, *env.reload(t, regs[3].ID).WaitlistPosition)
	assert.Equal(t, 2, *env.reload(t, regs[4].ID).WaitlistPosition)

	// Leaving the waitlist closes the gap without promoting anyone.
	_, err = env.registrations.Cancel(ctx, players[3], regs[3].ID)
	require.NoError(t, err)
	last := env.reload(t, regs[4].ID)
	assert.Equal(t, models.RegistrationWaitlisted, last.Status)
	assert.Equal(t, 1, *last.WaitlistPosition)
	assert.Zero(t, env.notificationsFor(t, players[4].ID, models.NotifyWaitlistPromoted))

	detail, err := env.events.Get(ctx, event.ID, owner)
	require.NoError(t, err)
	assert.Len(t, detail.Registered, 2)
	assert.Len(t, detail.Waitlist, 1)
	assert.Zero(t, detail.SpotsLeft())
	assert.True(t, detail.CanManage)
}

func TestRegisterTwice(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	event := env.event(t, env.organizer(t), 10)
	p := env.player(t)

	first, err := env.registrations.Register(ctx, p, event.ID, RegisterForEventInput{})
	require.NoError(t, err)

	_, err = env.registrations.Register(ctx, p, event.ID, RegisterForEventInput{})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	// After cancelling, signing up again is a fresh registration.
	_, err = env.registrations.Cancel(ctx, p, first.ID)
	require.NoError(t, err)
	again, err := env.registrations.Register(ctx, p, event.ID, RegisterForEventInput{})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, again.ID)
	assert.Equal(t, models.RegistrationRegistered, again.Status)
}

func TestOnlyOwnersCancelRegistrations(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.organizer(t)
	event := env.event(t, owner, 10)
	p := env.player(t)

	reg, err := env.registrations.Register(ctx, p, event.ID, RegisterForEventInput{})
	require.NoError(t, err)

	_, err = env.registrations.Cancel(ctx, env.player(t), reg.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	// The event's organizer can remove anyone.
	cancelled, err := env.registrations.Cancel(ctx, owner, reg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RegistrationCancelled, cancelled.Status)

	_, err = env.registrations.Cancel(ctx, owner, reg.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
}

func TestReorderWaitlist(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.organizer(t)
	event := env.event(t, owner, 1)

	_, err := env.registrations.Register(ctx, env.player(t), event.ID, RegisterForEventInput{})
	require.NoError(t, err)
	var waiting []uuid.UUID
	for range 3 {
		reg, err := env.registrations.Register(ctx, env.player(t), event.ID, RegisterForEventInput{})
		require.NoError(t, err)
		waiting = append(waiting, reg.ID)
	}

	_, err = env.registrations.ReorderWaitlist(ctx, owner, event.ID, waiting[:2])
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = env.registrations.ReorderWaitlist(ctx, env.player(t), event.ID, waiting)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	reversed := []uuid.UUID{waiting[2], waiting[1], waiting[0]}
	got, err := env.registrations.ReorderWaitlist(ctx, owner, event.ID, reversed)
	require.NoError(t, err)

	var order []uuid.UUID
	for i, r := range got {
		require.NotNil(t, r.WaitlistPosition)
		assert.Equal(t, i+1, *r.WaitlistPosition)
		order = append(order, r.ID)
	}
	if diff := cmp.Diff(reversed, order); diff != "" {
		t.Errorf("waitlist order mismatch (-want +got):\n%s", diff)
	}
}

func TestRaisingTheCapPromotes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.organizer(t)
	event := env.event(t, owner, 1)

	var regs []*models.EventRegistration
	for range 3 {
		reg, err := env.registrations.Register(ctx, env.player(t), event.ID, RegisterForEventInput{})
		require.NoError(t, err)
		regs = append(regs, reg)
	}

	// Registering bumped the version, so the version from creation is stale.
	_, err := env.events.Update(ctx, owner, event.ID, UpdateEventInput{Version: event.Version, MaxPlayers: ptr(2)})
	assert.ErrorIs(t, err, apperr.ErrConcurrentModification)

	updated, err := env.events.Update(ctx, owner, event.ID, UpdateEventInput{
		Version:    env.currentVersion(t, event.ID),
		MaxPlayers: ptr(2),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.MaxPlayers)

	assert.Equal(t, models.RegistrationRegistered, env.reload(t, regs[1].ID).Status)
	assert.Equal(t, 1, *env.reload(t, regs[2].ID).WaitlistPosition)

	_, err = env.events.Update(ctx, owner, event.ID, UpdateEventInput{
		Version:    env.currentVersion(t, event.ID),
		MaxPlayers: ptr(1),
	})
	assert.ErrorIs(t, err, apperr.ErrInvalidState, "cannot drop below the registered count")
}

func TestPromoteSpecificNeedsAFreeSpot(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.organizer(t)
	event := env.event(t, owner, 1)

	_, err := env.registrations.Register(ctx, env.player(t), event.ID, RegisterForEventInput{})
	require.NoError(t, err)
	first, err := env.registrations.Register(ctx, env.player(t), event.ID, RegisterForEventInput{})
	require.NoError(t, err)
	second, err := env.registrations.Register(ctx, env.player(t), event.ID, RegisterForEventInput{})
	require.NoError(t, err)

	_, err = env.registrations.PromoteSpecific(ctx, owner, second.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	// Free a spot behind the service's back, as if the sweep has not run yet.
	require.NoError(t, env.db.Model(&models.Event{}).Where("id = ?", event.ID).Update("max_players", 2).Error)

	_, err = env.registrations.PromoteSpecific(ctx, env.player(t), second.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	promoted, err := env.registrations.PromoteSpecific(ctx, owner, second.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RegistrationRegistered, promoted.Status)
	assert.Equal(t, 1, *env.reload(t, first.ID).WaitlistPosition)
}

func TestPaymentFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.organizer(t)
	event := env.event(t, owner, 4)
	p := env.player(t)

	reg, err := env.registrations.Register(ctx, p, event.ID, RegisterForEventInput{})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPending, reg.PaymentStatus)

	_, err = env.registrations.VerifyPayment(ctx, p, reg.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden, "players cannot verify their own payment")

	reg, err = env.registrations.MarkPaid(ctx, p, reg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentMarkedPaid, reg.PaymentStatus)

	reg, err = env.registrations.VerifyPayment(ctx, owner, reg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentVerified, reg.PaymentStatus)
	assert.EqualValues(t, 1, env.notificationsFor(t, p.ID, models.NotifyPaymentVerified))

	reg, err = env.registrations.ResetPayment(ctx, owner, reg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPending, reg.PaymentStatus)

	// Cancelled registrations keep whatever payment state they ended with.
	_, err = env.registrations.MarkPaid(ctx, p, reg.ID)
	require.NoError(t, err)
	_, err = env.registrations.Cancel(ctx, p, reg.ID)
	require.NoError(t, err)
	_, err = env.registrations.ResetPayment(ctx, owner, reg.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
	_, err = env.registrations.VerifyPayment(ctx, owner, reg.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
	assert.Equal(t, models.PaymentMarkedPaid, env.reload(t, reg.ID).PaymentStatus)
}

func TestLeavingTheWaitlistClosesTheGap(t *testing.T) {
	tests := []struct {
		name  string
		leave int // index into the waitlist, in position order
	}{
		{name: "head", leave: 0},
		{name: "middle", leave: 2},
		{name: "tail", leave: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			ctx := context.Background()
			owner := env.organizer(t)
			event := env.event(t, owner, 1)

			_, err := env.registrations.Register(ctx, env.player(t), event.ID, RegisterForEventInput{})
			require.NoError(t, err)
			var waiting []*models.EventRegistration
			var who []Actor
			for range 4 {
				p := env.player(t)
				reg, err := env.registrations.Register(ctx, p, event.ID, RegisterForEventInput{})
				require.NoError(t, err)
				waiting = append(waiting, reg)
				who = append(who, p)
			}

			_, err = env.registrations.Cancel(ctx, who[tt.leave], waiting[tt.leave].ID)
			require.NoError(t, err)

			want := 1
			for i, reg := range waiting {
				got := env.reload(t, reg.ID)
				if i == tt.leave {
					assert.Equal(t, models.RegistrationCancelled, got.Status)
					assert.Nil(t, got.WaitlistPosition)
					continue
				}
				assert.Equal(t, models.RegistrationWaitlisted, got.Status)
				require.NotNil(t, got.WaitlistPosition)
				assert.Equal(t, want, *got.WaitlistPosition, "registration %d", i)
				want++
			}
		})
	}
}

func TestRaceForTheLastSpot(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.organizer(t)
	event := env.event(t, owner, 2)

	_, err := env.registrations.Register(ctx, env.player(t), event.ID, RegisterForEventInput{})
	require.NoError(t, err)

	const racers = 8
	players := make([]Actor, racers)
	for i := range players {
		players[i] = env.player(t)
	}

	type result struct {
		reg *models.EventRegistration
		err error
	}
	results := make([]result, racers)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := range players {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			reg, err := env.registrations.Register(ctx, players[i], event.ID, RegisterForEventInput{})
			results[i] = result{reg, err}
		}(i)
	}
	close(start)
	wg.Wait()

	var won int
	var positions []int
	for _, r := range results {
		switch {
		case r.err != nil:
			assert.True(t, errors.Is(r.err, apperr.ErrConcurrentModification), "unexpected error: %v", r.err)
		case r.reg.Status == models.RegistrationRegistered:
			won++
		default:
			require.Equal(t, models.RegistrationWaitlisted, r.reg.Status)
			require.NotNil(t, r.reg.WaitlistPosition)
			positions = append(positions, *r.reg.WaitlistPosition)
		}
	}
	assert.Equal(t, 1, won, "exactly one player gets the last spot")

	var registered int64
	require.NoError(t, env.db.Model(&models.EventRegistration{}).
		Where("event_id = ? AND status = ?", event.ID, models.RegistrationRegistered).Count(&registered).Error)
	assert.EqualValues(t, 2, registered, "the event is never over capacity")

	// Whoever made it onto the waitlist is numbered 1..n in commit order.
	sort.Ints(positions)
	for i, pos := range positions {
		assert.Equal(t, i+1, pos)
	}
}

func (e *testEnv) currentVersion(t *testing.T, eventID uuid.UUID) int {
	t.Helper()
	var ev models.Event
	require.NoError(t, e.db.Select("version").First(&ev, "id = ?", eventID).Error)
	return ev.Version
}

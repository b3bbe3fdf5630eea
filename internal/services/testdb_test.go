package services

// Tests that need a real Postgres share one container, started on first use. Each
// test gets a freshly truncated schema, so they must not run in parallel.

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/trentd187/puckdrop/internal/database"
	"github.com/trentd187/puckdrop/internal/metrics"
	"github.com/trentd187/puckdrop/internal/models"
)

var (
	pgOnce      sync.Once
	pgContainer *postgres.PostgresContainer
	pgURL       string
	pgErr       error
)

func TestMain(m *testing.M) {
	code := m.Run()
	if pgContainer != nil {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			fmt.Fprintln(os.Stderr, "terminate postgres:", err)
		}
	}
	os.Exit(code)
}

func startPostgres(ctx context.Context) (*postgres.PostgresContainer, string, error) {
	c, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("puckdrop_test"),
		postgres.WithUsername("puckdrop"),
		postgres.WithPassword("puckdrop"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		return c, "", fmt.Errorf("start postgres: %w", err)
	}
	url, err := c.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return c, "", fmt.Errorf("connection string: %w", err)
	}
	if err := database.RunMigrations(url, "../../migrations"); err != nil {
		return c, "", err
	}
	return c, url, nil
}

var tables = []string{
	"notifications",
	"matches",
	"tournament_team_members",
	"tournament_teams",
	"tournaments",
	"event_registrations",
	"events",
	"organization_subscriptions",
	"organization_admins",
	"organizations",
	"users",
}

// testDB returns a connection to an empty, fully migrated database. It skips the test
// under -short or when Docker is not available.
func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("needs Postgres; skipped in -short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	pgOnce.Do(func() {
		pgContainer, pgURL, pgErr = startPostgres(context.Background())
	})
	require.NoError(t, pgErr)

	db, err := database.Connect(pgURL, false)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	truncate := "TRUNCATE " + tables[0]
	for _, name := range tables[1:] {
		truncate += ", " + name
	}
	require.NoError(t, db.Exec(truncate+" CASCADE").Error)
	return db
}

// recordingPublisher stands in for the websocket hub.
type recordingPublisher struct {
	mu    sync.Mutex
	calls int
	last  []models.Match
}

func (p *recordingPublisher) MatchesChanged(_ uuid.UUID, matches []models.Match) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.last = matches
}

// testEnv is every service wired the way cmd/server wires them, minus push.
type testEnv struct {
	db            *gorm.DB
	faker         *gofakeit.Faker
	notifications *Notifications
	orgs          *Organizations
	events        *Events
	registrations *Registrations
	rosters       *Rosters
	tournaments   *Tournaments
	live          *recordingPublisher
}

var userSeq atomic.Int64

func newTestEnv(t *testing.T) *testEnv {
	db := testDB(t)
	log := zap.NewNop()
	m := metrics.New()

	notify := NewNotifications(db, nil, log, m)
	orgs := NewOrganizations(db, notify, log)
	regs := NewRegistrations(db, notify, log, m)
	live := &recordingPublisher{}
	return &testEnv{
		db:            db,
		faker:         gofakeit.New(uint64(userSeq.Add(1))),
		notifications: notify,
		orgs:          orgs,
		events:        NewEvents(db, orgs, regs, notify, log),
		registrations: regs,
		rosters:       NewRosters(db, notify, log),
		tournaments:   NewTournaments(db, orgs, notify, live, log),
		live:          live,
	}
}

// user inserts a user with fake personal details and returns them as an Actor.
func (e *testEnv) user(t *testing.T, role models.UserRole, pos models.Position, skill models.SkillLevel) Actor {
	t.Helper()
	u := models.User{
		Email:        fmt.Sprintf("%d.%s", userSeq.Add(1), e.faker.Email()),
		PasswordHash: "not-a-real-hash",
		FirstName:    e.faker.FirstName(),
		LastName:     e.faker.LastName(),
		SkillLevel:   skill,
		Position:     pos,
		Role:         role,
	}
	require.NoError(t, e.db.Omit(clause.Associations).Create(&u).Error)
	return Actor{ID: u.ID, Role: u.Role}
}

func (e *testEnv) player(t *testing.T) Actor {
	return e.user(t, models.UserRolePlayer, models.PositionForward, models.SkillIntermediate)
}

func (e *testEnv) organizer(t *testing.T) Actor {
	return e.user(t, models.UserRoleOrganizer, models.PositionDefense, models.SkillAdvanced)
}

// event creates a game a week out with the given number of spots.
func (e *testEnv) event(t *testing.T, owner Actor, spots int) *models.Event {
	t.Helper()
	ev, err := e.events.Create(context.Background(), owner, CreateEventInput{
		Name:       "Tuesday Skate",
		Location:   "Rink " + e.faker.City(),
		StartsAt:   SystemClock().AddDate(0, 0, 7).Format(time.RFC3339),
		MaxPlayers: spots,
		CostCents:  1500,
	})
	require.NoError(t, err)
	return ev
}

func (e *testEnv) notificationsFor(t *testing.T, user uuid.UUID, kind models.NotificationKind) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(&models.Notification{}).
		Where("user_id = ? AND kind = ?", user, kind).Count(&n).Error)
	return n
}

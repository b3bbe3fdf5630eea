// Package models defines the data structures (models) that map to database tables.
// GORM uses these structs to generate SQL queries and map database rows back to Go values.
// The struct field tags (the backtick strings like `gorm:"..."`) tell GORM how to handle
// each field: its column type, constraints, default values, and relationships.
//
// The data model represents an amateur hockey platform where:
//   - Users subscribe to Organizations (rinks, leagues, pickup groups)
//   - Organizations (or individual organizers) run Events: single pickup games
//   - Users register for Events; full events put them on a FIFO waitlist
//   - Tournaments collect Teams, and Teams play Matches in a bracket
//
// The schema itself lives in migrations/*.sql; these structs must stay in sync with it.
package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// --- Enums ---
// Go has no enum keyword, so we use a named string type plus constants. The values are
// mirrored by Postgres enum types created in the initial migration.

// UserRole represents a user's global permission level across the entire platform.
type UserRole string

const (
	UserRolePlayer    UserRole = "player"    // Can register for events and join teams
	UserRoleOrganizer UserRole = "organizer" // Can also create organizations, events and tournaments
	UserRoleAdmin     UserRole = "admin"     // Full access to everything
)

// SkillLevel is a self-reported playing level, used for roster balancing.
type SkillLevel string

const (
	SkillBeginner     SkillLevel = "beginner"
	SkillIntermediate SkillLevel = "intermediate"
	SkillAdvanced     SkillLevel = "advanced"
	SkillElite        SkillLevel = "elite"
)

// Rank orders skill levels from weakest (1) to strongest (4). Unknown levels rank 0.
func (s SkillLevel) Rank() int {
	switch s {
	case SkillBeginner:
		return 1
	case SkillIntermediate:
		return 2
	case SkillAdvanced:
		return 3
	case SkillElite:
		return 4
	default:
		return 0
	}
}

// Position is where a player lines up.
type Position string

const (
	PositionForward Position = "forward"
	PositionDefense Position = "defense"
	PositionGoalie  Position = "goalie"
)

// EventStatus tracks the lifecycle of a single game.
type EventStatus string

const (
	EventStatusScheduled EventStatus = "scheduled"
	EventStatusCancelled EventStatus = "cancelled"
	EventStatusCompleted EventStatus = "completed"
)

// RegistrationStatus is the state of one player's registration for an event.
type RegistrationStatus string

const (
	RegistrationRegistered RegistrationStatus = "registered" // Has a spot in the game
	RegistrationWaitlisted RegistrationStatus = "waitlisted" // Waiting for a spot; see WaitlistPosition
	RegistrationCancelled  RegistrationStatus = "cancelled"  // Dropped out (or was removed)
)

// PaymentStatus is the payment sub-state of a registration. There is no payment API:
// the player pays over Venmo, marks it paid, and the organizer verifies it by hand.
type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentMarkedPaid PaymentStatus = "marked_paid"
	PaymentVerified   PaymentStatus = "verified"
)

// Team is the jersey colour a player is assigned to for a pickup game.
type Team string

const (
	TeamLight Team = "light"
	TeamDark  Team = "dark"
)

// TournamentFormat decides how the bracket is generated.
type TournamentFormat string

const (
	FormatSingleElimination TournamentFormat = "single_elimination"
	FormatDoubleElimination TournamentFormat = "double_elimination"
)

// TournamentStatus tracks the tournament lifecycle. Allowed transitions live in
// services.tournamentTransitions.
type TournamentStatus string

const (
	TournamentDraft              TournamentStatus = "draft"
	TournamentOpen               TournamentStatus = "open"
	TournamentRegistrationClosed TournamentStatus = "registration_closed"
	TournamentInProgress         TournamentStatus = "in_progress"
	TournamentPostponed          TournamentStatus = "postponed"
	TournamentCompleted          TournamentStatus = "completed"
	TournamentCancelled          TournamentStatus = "cancelled"
)

// TeamStatus is the registration state of a tournament team.
type TeamStatus string

const (
	TeamRegistered TeamStatus = "registered"
	TeamWaitlisted TeamStatus = "waitlisted"
	TeamWithdrawn  TeamStatus = "withdrawn"
)

// MemberRole distinguishes the captain from everyone else on a tournament team.
type MemberRole string

const (
	MemberCaptain MemberRole = "captain"
	MemberPlayer  MemberRole = "player"
)

// MemberStatus tracks the invitation sub-flow for a tournament team member.
type MemberStatus string

const (
	MemberInvited  MemberStatus = "invited"
	MemberAccepted MemberStatus = "accepted"
	MemberDeclined MemberStatus = "declined"
)

// BracketSide says which part of the bracket a match belongs to.
type BracketSide string

const (
	BracketWinners BracketSide = "winners"
	BracketLosers  BracketSide = "losers"
	BracketFinal   BracketSide = "final"
)

// Slot is one of the two team positions in a match.
type Slot string

const (
	SlotHome Slot = "home"
	SlotAway Slot = "away"
)

// MatchStatus tracks a single bracket node.
type MatchStatus string

const (
	MatchPending   MatchStatus = "pending"   // Waiting on one or both teams
	MatchScheduled MatchStatus = "scheduled" // Both teams known; ready to play
	MatchCompleted MatchStatus = "completed" // Score recorded, winner advanced
	MatchBye       MatchStatus = "bye"       // Decided without play (one or no team)
)

// NotificationKind categorises in-app and push notifications.
type NotificationKind string

const (
	NotifyEventReminder    NotificationKind = "event_reminder"
	NotifyWaitlistPromoted NotificationKind = "waitlist_promoted"
	NotifyRosterPublished  NotificationKind = "roster_published"
	NotifyEventCancelled   NotificationKind = "event_cancelled"
	NotifyEventCreated     NotificationKind = "event_created"
	NotifyPaymentVerified  NotificationKind = "payment_verified"
	NotifyTeamInvitation   NotificationKind = "team_invitation"
	NotifyTournamentUpdate NotificationKind = "tournament_update"
	NotifyMatchResult      NotificationKind = "match_result"
)

// --- Models ---

// User represents a registered person in the system.
type User struct {
	ID            uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Email         string     `gorm:"uniqueIndex;not null"` // Always stored lower-cased
	PasswordHash  string     `gorm:"not null"`             // bcrypt hash; never serialised
	FirstName     string     `gorm:"not null"`
	LastName      string     `gorm:"not null"`
	Phone         *string    // Optional; pointer = nullable
	SkillLevel    SkillLevel `gorm:"type:skill_level;not null;default:'intermediate'"`
	Position      Position   `gorm:"type:player_position;not null;default:'forward'"`
	VenmoHandle   *string    // Where organizers get paid; also the default for their events
	Role          UserRole   `gorm:"type:user_role;not null;default:'player'"`
	ExpoPushToken *string    // Set by the mobile app after the user grants push permission
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// FullName is the display name used in rosters and notifications.
func (u User) FullName() string {
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// Organization is a named group (a rink, a beer league, a Tuesday-night crew)
// that runs events and tournaments. Admins manage it; subscribers hear about new games.
type Organization struct {
	ID          uuid.UUID   `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Name        string      `gorm:"uniqueIndex;not null"`
	Description *string
	Location    *string
	SkillLevel  *SkillLevel `gorm:"type:skill_level"`
	IsActive    bool        `gorm:"not null;default:true"`
	CreatedBy   uuid.UUID   `gorm:"type:uuid;not null"`
	Creator     User        `gorm:"foreignKey:CreatedBy"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// OrganizationAdmin is a join row granting a user admin rights on an organization.
type OrganizationAdmin struct {
	OrganizationID uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	User           User      `gorm:"foreignKey:UserID"`
	CreatedAt      time.Time
}

// OrganizationSubscription is a join row subscribing a user to an organization.
// The unique index makes double-subscribing a constraint violation.
type OrganizationSubscription struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	OrganizationID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_org_subscriber"`
	UserID         uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_org_subscriber"`
	User           User      `gorm:"foreignKey:UserID"`
	Notify         bool      `gorm:"not null;default:true"` // Push when the org posts a new game
	CreatedAt      time.Time
}

// Event is a single scheduled game with a fixed number of player spots.
type Event struct {
	ID                   uuid.UUID     `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	OrganizationID       *uuid.UUID    `gorm:"type:uuid"` // nil = a personal game run by the creator
	Organization         *Organization `gorm:"foreignKey:OrganizationID"`
	CreatedBy            uuid.UUID     `gorm:"type:uuid;not null"`
	Creator              User          `gorm:"foreignKey:CreatedBy"`
	Name                 string        `gorm:"not null"`
	Description          *string
	Location             string      `gorm:"not null"`
	StartsAt             time.Time   `gorm:"not null"`
	DurationMinutes      int         `gorm:"not null;default:60"`
	MaxPlayers           int         `gorm:"not null"`
	CostCents            int         `gorm:"not null;default:0"`
	VenmoHandle          *string     // Overrides the creator's handle for this game
	SkillLevel           *SkillLevel `gorm:"type:skill_level"`
	Status               EventStatus `gorm:"type:event_status;not null;default:'scheduled'"`
	RegistrationClosesAt *time.Time
	RosterPublishedAt    *time.Time
	ReminderSentAt       *time.Time
	Version              int `gorm:"not null;default:1"` // Optimistic concurrency token; see database.BumpVersion
	CreatedAt            time.Time
	UpdatedAt            time.Time
	Registrations        []EventRegistration `gorm:"foreignKey:EventID"`
}

// EventRegistration links a User to an Event. It carries the registration state
// (registered / waitlisted / cancelled), the waitlist position, payment status,
// and the roster assignment (team colour + position).
type EventRegistration struct {
	ID               uuid.UUID          `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	EventID          uuid.UUID          `gorm:"type:uuid;not null"`
	Event            Event              `gorm:"foreignKey:EventID"`
	UserID           uuid.UUID          `gorm:"type:uuid;not null"`
	User             User               `gorm:"foreignKey:UserID"`
	Status           RegistrationStatus `gorm:"type:registration_status;not null"`
	WaitlistPosition *int               // 1-based; only set while Status == waitlisted
	Position         Position           `gorm:"type:player_position;not null"`
	Team             *Team              `gorm:"type:roster_team"`
	PaymentStatus    PaymentStatus      `gorm:"type:payment_status;not null;default:'pending'"`
	PaidAt           *time.Time
	VerifiedAt       *time.Time
	RegisteredAt     time.Time `gorm:"not null"`
	CancelledAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Tournament is a multi-team competition with a bracket.
type Tournament struct {
	ID                   uuid.UUID        `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	OrganizationID       *uuid.UUID       `gorm:"type:uuid"`
	Organization         *Organization    `gorm:"foreignKey:OrganizationID"`
	CreatedBy            uuid.UUID        `gorm:"type:uuid;not null"`
	Creator              User             `gorm:"foreignKey:CreatedBy"`
	Name                 string           `gorm:"not null"`
	Description          *string
	Location             string           `gorm:"not null"`
	Format               TournamentFormat `gorm:"type:tournament_format;not null"`
	Status               TournamentStatus `gorm:"type:tournament_status;not null;default:'draft'"`
	StartsOn             time.Time        `gorm:"type:date;not null"`
	EndsOn               *time.Time       `gorm:"type:date"`
	MaxTeams             int              `gorm:"not null"`
	MinRoster            int              `gorm:"not null;default:1"`
	MaxRoster            int              `gorm:"not null"`
	EntryFeeCents        int              `gorm:"not null;default:0"`
	RegistrationClosesAt *time.Time
	ChampionTeamID       *uuid.UUID `gorm:"type:uuid"`
	Version              int        `gorm:"not null;default:1"`
	CreatedAt            time.Time
	UpdatedAt            time.Time
	Teams                []TournamentTeam `gorm:"foreignKey:TournamentID"`
}

// TournamentTeam is a team's registration for a tournament.
type TournamentTeam struct {
	ID               uuid.UUID     `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	TournamentID     uuid.UUID     `gorm:"type:uuid;not null;uniqueIndex:idx_tournament_team_name"`
	Name             string        `gorm:"not null;uniqueIndex:idx_tournament_team_name"`
	CaptainID        uuid.UUID     `gorm:"type:uuid;not null"`
	Captain          User          `gorm:"foreignKey:CaptainID"`
	Seed             *int          // 1 = top seed; nil until seeded
	Status           TeamStatus    `gorm:"type:team_status;not null"`
	WaitlistPosition *int          // Only while Status == waitlisted
	PaymentStatus    PaymentStatus `gorm:"type:payment_status;not null;default:'pending'"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
	Members          []TournamentTeamMember `gorm:"foreignKey:TeamID"`
}

// TournamentTeamMember places a user on a team. Non-captains start as "invited"
// and must accept before they count as rostered.
type TournamentTeamMember struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	TeamID      uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_team_member"`
	Team        TournamentTeam `gorm:"foreignKey:TeamID"`
	UserID      uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_team_member"`
	User        User           `gorm:"foreignKey:UserID"`
	Role        MemberRole     `gorm:"type:member_role;not null;default:'player'"`
	Status      MemberStatus   `gorm:"type:member_status;not null;default:'invited'"`
	Position    Position       `gorm:"type:player_position;not null"`
	InvitedBy   uuid.UUID      `gorm:"type:uuid;not null"`
	RespondedAt *time.Time
	CreatedAt   time.Time
}

// Match is one node of a tournament bracket. A nil team ID with the matching
// *Empty flag set means the slot is a bye; nil without the flag means "not decided yet".
type Match struct {
	ID           uuid.UUID       `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	TournamentID uuid.UUID       `gorm:"type:uuid;not null"`
	Bracket      BracketSide     `gorm:"type:bracket_side;not null"`
	Round        int             `gorm:"not null"`
	Position     int             `gorm:"not null"`
	HomeTeamID   *uuid.UUID      `gorm:"type:uuid"`
	HomeTeam     *TournamentTeam `gorm:"foreignKey:HomeTeamID"`
	AwayTeamID   *uuid.UUID      `gorm:"type:uuid"`
	AwayTeam     *TournamentTeam `gorm:"foreignKey:AwayTeamID"`
	HomeSeed     *int
	AwaySeed     *int
	HomeEmpty    bool `gorm:"not null;default:false"`
	AwayEmpty    bool `gorm:"not null;default:false"`
	HomeScore    *int
	AwayScore    *int
	WinnerTeamID *uuid.UUID  `gorm:"type:uuid"`
	NextMatchID  *uuid.UUID  `gorm:"type:uuid"` // Where the winner goes
	NextSlot     *Slot       `gorm:"type:match_slot"`
	LoserMatchID *uuid.UUID  `gorm:"type:uuid"` // Where the loser goes (double elimination only)
	LoserSlot    *Slot       `gorm:"type:match_slot"`
	Status       MatchStatus `gorm:"type:match_status;not null;default:'pending'"`
	ScheduledAt  *time.Time
	Rink         *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Notification is an in-app notification; most are also sent as Expo pushes.
type Notification struct {
	ID        uuid.UUID        `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	UserID    uuid.UUID        `gorm:"type:uuid;not null;index"`
	Kind      NotificationKind `gorm:"type:notification_kind;not null"`
	Title     string           `gorm:"not null"`
	Body      string           `gorm:"not null"`
	Data      datatypes.JSONMap `gorm:"type:jsonb"` // Deep-link payload for the app (event_id, tournament_id, ...)
	ReadAt    *time.Time
	CreatedAt time.Time
}

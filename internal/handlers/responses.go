package handlers

// responses.go: the JSON shapes sent to the mobile app.
// We use dedicated response structs (instead of the raw GORM models) so we control
// exactly what is serialised: no password hashes, IDs as strings, timestamps as
// RFC 3339 strings, and computed fields like spots_left.

import (
	"time"

	"github.com/google/uuid"

	"github.com/trentd187/puckdrop/internal/models"
	"github.com/trentd187/puckdrop/internal/services"
	"github.com/trentd187/puckdrop/internal/websocket"
)

const dateLayout = "2006-01-02"

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339) }

// formatOptionalTime converts a *time.Time to a *string, preserving null in the JSON.
func formatOptionalTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func formatOptionalDate(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(dateLayout)
	return &s
}

func optionalID(id *uuid.UUID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}

// UserResponse is a user's own profile (or an admin's view of it).
type UserResponse struct {
	ID          string  `json:"id"`
	Email       string  `json:"email"`
	FirstName   string  `json:"first_name"`
	LastName    string  `json:"last_name"`
	Phone       *string `json:"phone"`
	SkillLevel  string  `json:"skill_level"`
	Position    string  `json:"position"`
	VenmoHandle *string `json:"venmo_handle"`
	Role        string  `json:"role"`
	CreatedAt   string  `json:"created_at"`
}

func newUserResponse(u models.User) UserResponse {
	return UserResponse{
		ID:          u.ID.String(),
		Email:       u.Email,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		Phone:       u.Phone,
		SkillLevel:  string(u.SkillLevel),
		Position:    string(u.Position),
		VenmoHandle: u.VenmoHandle,
		Role:        string(u.Role),
		CreatedAt:   formatTime(u.CreatedAt),
	}
}

// PlayerRef is the short form of a user shown in lists.
type PlayerRef struct {
	ID         string `json:"id"`
	Name       string `json:"name"`                  // Empty when the user was not loaded
	SkillLevel string `json:"skill_level,omitempty"` // Used by organizers when balancing by hand
}

// playerRef falls back to the bare ID when the user row was not preloaded.
func playerRef(id uuid.UUID, u models.User) PlayerRef {
	ref := PlayerRef{ID: id.String()}
	if u.ID != uuid.Nil {
		ref.Name = u.FullName()
		ref.SkillLevel = string(u.SkillLevel)
	}
	return ref
}

// SessionResponse is returned by register and login.
type SessionResponse struct {
	Token     string       `json:"token"`      // Send as "Authorization: Bearer <token>"
	ExpiresAt string       `json:"expires_at"` // The app signs in again after this
	User      UserResponse `json:"user"`
}

func newSessionResponse(s *services.Session) SessionResponse {
	return SessionResponse{Token: s.Token, ExpiresAt: formatTime(s.ExpiresAt), User: newUserResponse(s.User)}
}

type OrganizationResponse struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	Description     *string `json:"description"`
	Location        *string `json:"location"`
	SkillLevel      *string `json:"skill_level"`
	IsActive        bool    `json:"is_active"`
	SubscriberCount int64   `json:"subscriber_count"`
	IsSubscribed    bool    `json:"is_subscribed"` // Whether the viewer is subscribed
	IsAdmin         bool    `json:"is_admin"`      // Whether the viewer can manage it
	CreatedAt       string  `json:"created_at"`
}

func newOrganizationResponse(v services.OrganizationView) OrganizationResponse {
	o := v.Organization
	return OrganizationResponse{
		ID:              o.ID.String(),
		Name:            o.Name,
		Description:     o.Description,
		Location:        o.Location,
		SkillLevel:      (*string)(o.SkillLevel),
		IsActive:        o.IsActive,
		SubscriberCount: v.SubscriberCount,
		IsSubscribed:    v.IsSubscribed,
		IsAdmin:         v.IsAdmin,
		CreatedAt:       formatTime(o.CreatedAt),
	}
}

// SubscriberResponse is one row of an organization's subscriber list.
type SubscriberResponse struct {
	Player       PlayerRef `json:"player"`
	Notify       bool      `json:"notify"`
	SubscribedAt string    `json:"subscribed_at"`
}

// EventResponse is an event as listed or shown.
type EventResponse struct {
	ID                   string  `json:"id"`
	OrganizationID       *string `json:"organization_id"` // null for a personal game
	OrganizationName     *string `json:"organization_name"`
	Name                 string  `json:"name"`
	Description          *string `json:"description"`
	Location             string  `json:"location"`
	StartsAt             string  `json:"starts_at"`
	DurationMinutes      int     `json:"duration_minutes"`
	MaxPlayers           int     `json:"max_players"`
	CostCents            int     `json:"cost_cents"`
	SkillLevel           *string `json:"skill_level"`
	Status               string  `json:"status"`
	RegistrationClosesAt *string `json:"registration_closes_at"`
	RosterPublishedAt    *string `json:"roster_published_at"`
	CreatorName          string  `json:"creator_name"`
	Version              int     `json:"version"` // Send back on PUT to detect concurrent edits
	RegisteredCount      int64   `json:"registered_count"`
	WaitlistCount        int64   `json:"waitlist_count"`
	SpotsLeft            int64   `json:"spots_left"`
	MyStatus             *string `json:"my_status"` // The viewer's registration status, if any
	CreatedAt            string  `json:"created_at"`
}

func newEventResponse(e models.Event, registered, waitlisted int64, mine *models.RegistrationStatus) EventResponse {
	r := EventResponse{
		ID:                   e.ID.String(),
		OrganizationID:       optionalID(e.OrganizationID),
		Name:                 e.Name,
		Description:          e.Description,
		Location:             e.Location,
		StartsAt:             formatTime(e.StartsAt),
		DurationMinutes:      e.DurationMinutes,
		MaxPlayers:           e.MaxPlayers,
		CostCents:            e.CostCents,
		SkillLevel:           (*string)(e.SkillLevel),
		Status:               string(e.Status),
		RegistrationClosesAt: formatOptionalTime(e.RegistrationClosesAt),
		RosterPublishedAt:    formatOptionalTime(e.RosterPublishedAt),
		CreatorName:          e.Creator.FullName(),
		Version:              e.Version,
		RegisteredCount:      registered,
		WaitlistCount:        waitlisted,
		SpotsLeft:            max(int64(e.MaxPlayers)-registered, 0),
		MyStatus:             (*string)(mine),
		CreatedAt:            formatTime(e.CreatedAt),
	}
	if e.Organization != nil {
		r.OrganizationName = &e.Organization.Name
	}
	return r
}

// EventDetailResponse is the event screen.
type EventDetailResponse struct {
	EventResponse
	Registered []RegistrationResponse `json:"registered"`
	Waitlist   []RegistrationResponse `json:"waitlist"`
	Mine       *RegistrationResponse  `json:"mine"`
	CanManage  bool                   `json:"can_manage"`
}

func newEventDetailResponse(d *services.EventDetail) EventDetailResponse {
	var mine *models.RegistrationStatus
	if d.Mine != nil {
		mine = &d.Mine.Status
	}
	out := EventDetailResponse{
		EventResponse: newEventResponse(d.Event, int64(len(d.Registered)), int64(len(d.Waitlist)), mine),
		Registered:    registrationResponses(d.Registered),
		Waitlist:      registrationResponses(d.Waitlist),
		CanManage:     d.CanManage,
	}
	if d.Mine != nil {
		r := newRegistrationResponse(*d.Mine)
		out.Mine = &r
	}
	return out
}

// RegistrationResponse is one player's registration for an event.
type RegistrationResponse struct {
	ID               string         `json:"id"`
	EventID          string         `json:"event_id"`
	Player           PlayerRef      `json:"player"`
	Status           string         `json:"status"`
	WaitlistPosition *int           `json:"waitlist_position"` // 1 = next to be promoted
	Position         string         `json:"position"`
	Team             *string        `json:"team"` // "light", "dark" or null
	PaymentStatus    string         `json:"payment_status"`
	PaidAt           *string        `json:"paid_at"`
	VerifiedAt       *string        `json:"verified_at"`
	RegisteredAt     string         `json:"registered_at"`
	Event            *EventRef      `json:"event,omitempty"` // Only on the "my registrations" list
}

// EventRef is the short form of an event, attached to a player's own registrations.
type EventRef struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Location  string `json:"location"`
	StartsAt  string `json:"starts_at"`
	Status    string `json:"status"`
	CostCents int    `json:"cost_cents"`
}

func newRegistrationResponse(r models.EventRegistration) RegistrationResponse {
	out := RegistrationResponse{
		ID:               r.ID.String(),
		EventID:          r.EventID.String(),
		Player:           playerRef(r.UserID, r.User),
		Status:           string(r.Status),
		WaitlistPosition: r.WaitlistPosition,
		Position:         string(r.Position),
		Team:             (*string)(r.Team),
		PaymentStatus:    string(r.PaymentStatus),
		PaidAt:           formatOptionalTime(r.PaidAt),
		VerifiedAt:       formatOptionalTime(r.VerifiedAt),
		RegisteredAt:     formatTime(r.RegisteredAt),
	}
	if r.Event.ID != uuid.Nil {
		out.Event = &EventRef{
			ID:        r.Event.ID.String(),
			Name:      r.Event.Name,
			Location:  r.Event.Location,
			StartsAt:  formatTime(r.Event.StartsAt),
			Status:    string(r.Event.Status),
			CostCents: r.Event.CostCents,
		}
	}
	return out
}

func registrationResponses(regs []models.EventRegistration) []RegistrationResponse {
	out := make([]RegistrationResponse, 0, len(regs))
	for _, r := range regs {
		out = append(out, newRegistrationResponse(r))
	}
	return out
}

// RosterResponse is the light/dark line-up of an event.
type RosterResponse struct {
	EventID     string                 `json:"event_id"`
	PublishedAt *string                `json:"published_at"`
	Light       []RegistrationResponse `json:"light"`
	Dark        []RegistrationResponse `json:"dark"`
	Unassigned  []RegistrationResponse `json:"unassigned"`
}

func newRosterResponse(r *services.Roster) RosterResponse {
	return RosterResponse{
		EventID:     r.Event.ID.String(),
		PublishedAt: formatOptionalTime(r.Event.RosterPublishedAt),
		Light:       registrationResponses(r.Light),
		Dark:        registrationResponses(r.Dark),
		Unassigned:  registrationResponses(r.Unassigned),
	}
}

type PaymentLinkResponse struct {
	Recipient   string `json:"recipient"`
	AmountCents int    `json:"amount_cents"`
	Note        string `json:"note"`
	AppURL      string `json:"app_url"`
	WebURL      string `json:"web_url"`
}

type TournamentResponse struct {
	ID                   string  `json:"id"`
	OrganizationID       *string `json:"organization_id"`
	OrganizationName     *string `json:"organization_name"`
	Name                 string  `json:"name"`
	Description          *string `json:"description"`
	Location             string  `json:"location"`
	Format               string  `json:"format"`
	Status               string  `json:"status"`
	StartsOn             string  `json:"starts_on"` // "YYYY-MM-DD"
	EndsOn               *string `json:"ends_on"`
	MaxTeams             int     `json:"max_teams"`
	MinRoster            int     `json:"min_roster"`
	MaxRoster            int     `json:"max_roster"`
	EntryFeeCents        int     `json:"entry_fee_cents"`
	RegistrationClosesAt *string `json:"registration_closes_at"`
	ChampionTeamID       *string `json:"champion_team_id"`
	CreatorName          string  `json:"creator_name"`
	Version              int     `json:"version"`
	TeamCount            int64   `json:"team_count"`
	CreatedAt            string  `json:"created_at"`
}

func newTournamentResponse(t models.Tournament, teamCount int64) TournamentResponse {
	r := TournamentResponse{
		ID:                   t.ID.String(),
		OrganizationID:       optionalID(t.OrganizationID),
		Name:                 t.Name,
		Description:          t.Description,
		Location:             t.Location,
		Format:               string(t.Format),
		Status:               string(t.Status),
		StartsOn:             t.StartsOn.UTC().Format(dateLayout),
		EndsOn:               formatOptionalDate(t.EndsOn),
		MaxTeams:             t.MaxTeams,
		MinRoster:            t.MinRoster,
		MaxRoster:            t.MaxRoster,
		EntryFeeCents:        t.EntryFeeCents,
		RegistrationClosesAt: formatOptionalTime(t.RegistrationClosesAt),
		ChampionTeamID:       optionalID(t.ChampionTeamID),
		CreatorName:          t.Creator.FullName(),
		Version:              t.Version,
		TeamCount:            teamCount,
		CreatedAt:            formatTime(t.CreatedAt),
	}
	if t.Organization != nil {
		r.OrganizationName = &t.Organization.Name
	}
	return r
}

type TournamentDetailResponse struct {
	TournamentResponse
	Teams     []TeamResponse `json:"teams"`
	Waitlist  []TeamResponse `json:"waitlist"`
	MyTeamID  *string        `json:"my_team_id"`
	CanManage bool           `json:"can_manage"`
}

func newTournamentDetailResponse(d *services.TournamentDetail) TournamentDetailResponse {
	out := TournamentDetailResponse{
		TournamentResponse: newTournamentResponse(d.Tournament, int64(len(d.Teams))),
		Teams:              teamResponses(d.Teams),
		Waitlist:           teamResponses(d.Waitlist),
		CanManage:          d.CanManage,
	}
	if d.MyTeam != nil {
		out.MyTeamID = optionalID(&d.MyTeam.ID)
	}
	return out
}

// TeamResponse is a tournament team and its roster.
type TeamResponse struct {
	ID               string           `json:"id"`
	TournamentID     string           `json:"tournament_id"`
	Name             string           `json:"name"`
	Captain          PlayerRef        `json:"captain"`
	Seed             *int             `json:"seed"`
	Status           string           `json:"status"`
	WaitlistPosition *int             `json:"waitlist_position"`
	PaymentStatus    string           `json:"payment_status"`
	Members          []MemberResponse `json:"members"`
}

func newTeamResponse(t models.TournamentTeam) TeamResponse {
	out := TeamResponse{
		ID:               t.ID.String(),
		TournamentID:     t.TournamentID.String(),
		Name:             t.Name,
		Captain:          playerRef(t.CaptainID, t.Captain),
		Seed:             t.Seed,
		Status:           string(t.Status),
		WaitlistPosition: t.WaitlistPosition,
		PaymentStatus:    string(t.PaymentStatus),
		Members:          make([]MemberResponse, 0, len(t.Members)),
	}
	for _, m := range t.Members {
		out.Members = append(out.Members, newMemberResponse(m))
	}
	return out
}

func teamResponses(teams []models.TournamentTeam) []TeamResponse {
	out := make([]TeamResponse, 0, len(teams))
	for _, t := range teams {
		out = append(out, newTeamResponse(t))
	}
	return out
}

// MemberResponse is one player on a tournament team, or an invitation to be one.
type MemberResponse struct {
	ID          string     `json:"id"`
	TeamID      string     `json:"team_id"`
	TeamName    string     `json:"team_name,omitempty"` // Set on the "my invitations" list
	Captain     *PlayerRef `json:"captain,omitempty"`   // Who sent the invitation
	Player      PlayerRef  `json:"player"`
	Role        string     `json:"role"`
	Status      string     `json:"status"`
	Position    string     `json:"position"`
	RespondedAt *string    `json:"responded_at"`
}

func newMemberResponse(m models.TournamentTeamMember) MemberResponse {
	out := MemberResponse{
		ID:          m.ID.String(),
		TeamID:      m.TeamID.String(),
		Player:      playerRef(m.UserID, m.User),
		Role:        string(m.Role),
		Status:      string(m.Status),
		Position:    string(m.Position),
		RespondedAt: formatOptionalTime(m.RespondedAt),
	}
	if m.Team.ID != uuid.Nil {
		out.TeamName = m.Team.Name
		captain := playerRef(m.Team.CaptainID, m.Team.Captain)
		out.Captain = &captain
	}
	return out
}

// BracketResponse groups matches into rounds. Matches use the same JSON shape as the
// live WebSocket updates, so the app can apply an update to what it fetched here.
type BracketResponse struct {
	TournamentID string                      `json:"tournament_id"`
	Winners      [][]*websocket.MatchPayload `json:"winners"`
	Losers       [][]*websocket.MatchPayload `json:"losers"` // Empty for single elimination
	Final        []*websocket.MatchPayload   `json:"final"`
	ChampionID   *string                     `json:"champion_id"`
}

func newBracketResponse(v *services.BracketView) BracketResponse {
	return BracketResponse{
		TournamentID: v.TournamentID.String(),
		Winners:      roundPayloads(v.Winners),
		Losers:       roundPayloads(v.Losers),
		Final:        matchPayloads(v.Final),
		ChampionID:   optionalID(v.Champion),
	}
}

func roundPayloads(rounds [][]models.Match) [][]*websocket.MatchPayload {
	out := make([][]*websocket.MatchPayload, 0, len(rounds))
	for _, r := range rounds {
		out = append(out, matchPayloads(r))
	}
	return out
}

func matchPayloads(ms []models.Match) []*websocket.MatchPayload {
	out := make([]*websocket.MatchPayload, 0, len(ms))
	for _, m := range ms {
		out = append(out, websocket.NewMatchPayload(m))
	}
	return out
}

type NotificationResponse struct {
	ID        string         `json:"id"`
	Kind      string         `json:"kind"`
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	Data      map[string]any `json:"data"` // Deep-link payload: event_id, tournament_id, ...
	ReadAt    *string        `json:"read_at"`
	CreatedAt string         `json:"created_at"`
}

func newNotificationResponse(n models.Notification) NotificationResponse {
	return NotificationResponse{
		ID:        n.ID.String(),
		Kind:      string(n.Kind),
		Title:     n.Title,
		Body:      n.Body,
		Data:      n.Data,
		ReadAt:    formatOptionalTime(n.ReadAt),
		CreatedAt: formatTime(n.CreatedAt),
	}
}

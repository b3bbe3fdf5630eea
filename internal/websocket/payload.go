package websocket

import (
	"time"

	"github.com/trentd187/puckdrop/internal/models"
)

// TeamRef is the short form of a team inside a match.
type TeamRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Seed *int   `json:"seed"`
}

// MatchPayload is the JSON shape of a bracket match. The REST bracket endpoint sends
// the same shape, so the app can merge live updates straight into what it fetched.
type MatchPayload struct {
	ID          string   `json:"id"`
	Bracket     string   `json:"bracket"`
	Round       int      `json:"round"`
	Position    int      `json:"position"`
	Home        *TeamRef `json:"home"` // null while pending or for a bye
	Away        *TeamRef `json:"away"`
	HomeBye     bool     `json:"home_bye"`
	AwayBye     bool     `json:"away_bye"`
	HomeScore   *int     `json:"home_score"`
	AwayScore   *int     `json:"away_score"`
	WinnerID    *string  `json:"winner_id"`
	NextMatchID *string  `json:"next_match_id"`
	Status      string   `json:"status"`
	ScheduledAt *string  `json:"scheduled_at"`
	Rink        *string  `json:"rink"`
}

func NewMatchPayload(m models.Match) *MatchPayload {
	p := &MatchPayload{
		ID:        m.ID.String(),
		Bracket:   string(m.Bracket),
		Round:     m.Round,
		Position:  m.Position,
		HomeBye:   m.HomeEmpty,
		AwayBye:   m.AwayEmpty,
		HomeScore: m.HomeScore,
		AwayScore: m.AwayScore,
		Status:    string(m.Status),
		Rink:      m.Rink,
	}
	p.Home = teamRef(m.HomeTeamID != nil, m.HomeTeam, m.HomeSeed)
	p.Away = teamRef(m.AwayTeamID != nil, m.AwayTeam, m.AwaySeed)
	if p.Home != nil && p.Home.ID == "" {
		p.Home.ID = m.HomeTeamID.String()
	}
	if p.Away != nil && p.Away.ID == "" {
		p.Away.ID = m.AwayTeamID.String()
	}
	if m.WinnerTeamID != nil {
		s := m.WinnerTeamID.String()
		p.WinnerID = &s
	}
	if m.NextMatchID != nil {
		s := m.NextMatchID.String()
		p.NextMatchID = &s
	}
	if m.ScheduledAt != nil {
		s := m.ScheduledAt.UTC().Format(time.RFC3339)
		p.ScheduledAt = &s
	}
	return p
}

// teamRef uses the preloaded team when there is one; without it only the ID is known.
func teamRef(present bool, team *models.TournamentTeam, seed *int) *TeamRef {
	if !present {
		return nil
	}
	ref := &TeamRef{Seed: seed}
	if team != nil {
		ref.ID, ref.Name = team.ID.String(), team.Name
	}
	return ref
}

package services

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/trentd187/puckdrop/internal/models"
)

// balancePlayer is the slice of a registration the team balancer looks at.
type balancePlayer struct {
	ID           uuid.UUID
	Position     models.Position
	Skill        models.SkillLevel
	RegisteredAt time.Time
}

// teamCounts is how many players (and how many of them goalies) a team already has.
type teamCounts struct {
	Players, Goalies int
}

// balanceTeams splits players between light and dark on top of the players already
// assigned (start).
//
// Goalies go first, one at a time to whichever team has fewer goalies. Skaters are
// ranked strongest first and dealt in snake order (A B B A A B B A ...) starting
// with the smaller team, so the best two players end up on opposite sides and the
// skill totals stay close. A team that is already ahead on bodies never gets the
// next pick, which keeps the team sizes within one of each other.
func balanceTeams(players []balancePlayer, start map[models.Team]teamCounts) map[uuid.UUID]models.Team {
	counts := map[models.Team]teamCounts{
		models.TeamLight: start[models.TeamLight],
		models.TeamDark:  start[models.TeamDark],
	}
	out := make(map[uuid.UUID]models.Team, len(players))

	var goalies, skaters []balancePlayer
	for _, p := range players {
		if p.Position == models.PositionGoalie {
			goalies = append(goalies, p)
		} else {
			skaters = append(skaters, p)
		}
	}
	byStrength(goalies)
	byStrength(skaters)

	assign := func(p balancePlayer, team models.Team) {
		out[p.ID] = team
		c := counts[team]
		c.Players++
		if p.Position == models.PositionGoalie {
			c.Goalies++
		}
		counts[team] = c
	}

	for _, g := range goalies {
		light, dark := counts[models.TeamLight], counts[models.TeamDark]
		switch {
		case light.Goalies != dark.Goalies:
			assign(g, lesser(light.Goalies < dark.Goalies))
		default:
			assign(g, lesser(light.Players <= dark.Players))
		}
	}

	first := lesser(counts[models.TeamLight].Players <= counts[models.TeamDark].Players)
	second := other(first)
	for i, p := range skaters {
		pick := second
		if i%4 == 0 || i%4 == 3 {
			pick = first
		}
		if counts[pick].Players > counts[other(pick)].Players {
			pick = other(pick)
		}
		assign(p, pick)
	}
	return out
}

// byStrength orders strongest first; ties go to whoever registered first.
func byStrength(ps []balancePlayer) {
	sort.SliceStable(ps, func(i, j int) bool {
		if ri, rj := ps[i].Skill.Rank(), ps[j].Skill.Rank(); ri != rj {
			return ri > rj
		}
		return ps[i].RegisteredAt.Before(ps[j].RegisteredAt)
	})
}

func lesser(lightIsLess bool) models.Team {
	if lightIsLess {
		return models.TeamLight
	}
	return models.TeamDark
}

func other(t models.Team) models.Team {
	if t == models.TeamLight {
		return models.TeamDark
	}
	return models.TeamLight
}

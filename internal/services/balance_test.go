package services

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/trentd187/puckdrop/internal/models"
)

func player(pos models.Position, skill models.SkillLevel, minute int) balancePlayer {
	return balancePlayer{
		ID:           uuid.New(),
		Position:     pos,
		Skill:        skill,
		RegisteredAt: time.Date(2026, 3, 1, 12, minute, 0, 0, time.UTC),
	}
}

func tally(out map[uuid.UUID]models.Team, players []balancePlayer) (sizes, goalies map[models.Team]int) {
	sizes, goalies = map[models.Team]int{}, map[models.Team]int{}
	for _, p := range players {
		team := out[p.ID]
		sizes[team]++
		if p.Position == models.PositionGoalie {
			goalies[team]++
		}
	}
	return sizes, goalies
}

func TestBalanceTeams(t *testing.T) {
	t.Run("full game", func(t *testing.T) {
		best := player(models.PositionForward, models.SkillElite, 0)
		second := player(models.PositionDefense, models.SkillAdvanced, 1)
		players := []balancePlayer{
			player(models.PositionGoalie, models.SkillIntermediate, 2),
			player(models.PositionForward, models.SkillBeginner, 3),
			second,
			player(models.PositionForward, models.SkillIntermediate, 4),
			player(models.PositionGoalie, models.SkillAdvanced, 5),
			best,
			player(models.PositionDefense, models.SkillIntermediate, 6),
			player(models.PositionForward, models.SkillAdvanced, 7),
			player(models.PositionForward, models.SkillBeginner, 8),
			player(models.PositionDefense, models.SkillBeginner, 9),
		}

		out := balanceTeams(players, nil)
		assert.Len(t, out, len(players))

		sizes, goalies := tally(out, players)
		assert.Equal(t, 5, sizes[models.TeamLight])
		assert.Equal(t, 5, sizes[models.TeamDark])
		assert.Equal(t, 1, goalies[models.TeamLight])
		assert.Equal(t, 1, goalies[models.TeamDark])
		assert.NotEqual(t, out[best.ID], out[second.ID], "the two strongest skaters should be split")
	})

	t.Run("odd count stays within one", func(t *testing.T) {
		var players []balancePlayer
		for i := range 7 {
			players = append(players, player(models.PositionForward, models.SkillIntermediate, i))
		}
		sizes, _ := tally(balanceTeams(players, nil), players)
		assert.InDelta(t, sizes[models.TeamLight], sizes[models.TeamDark], 1)
		assert.Equal(t, 7, sizes[models.TeamLight]+sizes[models.TeamDark])
	})

	t.Run("tops up the short team first", func(t *testing.T) {
		players := []balancePlayer{
			player(models.PositionForward, models.SkillElite, 0),
			player(models.PositionForward, models.SkillElite, 1),
			player(models.PositionForward, models.SkillElite, 2),
		}
		start := map[models.Team]teamCounts{models.TeamLight: {Players: 3}}

		out := balanceTeams(players, start)
		for _, p := range players {
			assert.Equal(t, models.TeamDark, out[p.ID])
		}
	})

	t.Run("extra goalie", func(t *testing.T) {
		players := []balancePlayer{
			player(models.PositionGoalie, models.SkillAdvanced, 0),
			player(models.PositionGoalie, models.SkillAdvanced, 1),
			player(models.PositionGoalie, models.SkillAdvanced, 2),
		}
		_, goalies := tally(balanceTeams(players, nil), players)
		assert.Equal(t, 2, goalies[models.TeamLight])
		assert.Equal(t, 1, goalies[models.TeamDark])
	})

	t.Run("nobody to place", func(t *testing.T) {
		assert.Empty(t, balanceTeams(nil, nil))
	})
}

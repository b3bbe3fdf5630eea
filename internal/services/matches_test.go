package services

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trentd187/puckdrop/internal/bracket"
	"github.com/trentd187/puckdrop/internal/models"
)

func TestPlanSurvivesStorage(t *testing.T) {
	teams := make([]uuid.UUID, 5)
	for i := range teams {
		teams[i] = uuid.New()
	}

	for name, build := range map[string]func([]uuid.UUID) (*bracket.Plan, error){
		"single": bracket.SingleElimination,
		"double": bracket.DoubleElimination,
	} {
		t.Run(name, func(t *testing.T) {
			plan, err := build(teams)
			require.NoError(t, err)

			tournamentID := uuid.New()
			matches := planToMatches(tournamentID, plan)
			require.Len(t, matches, len(plan.Nodes))

			restored, index, err := matchesToPlan(matches)
			require.NoError(t, err)
			for i, m := range matches {
				assert.Equal(t, tournamentID, m.TournamentID)
				assert.Equal(t, i, index[m.ID])
			}
			if diff := cmp.Diff(plan.Nodes, restored.Nodes); diff != "" {
				t.Errorf("restored plan mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPlanToMatchesMarksByes(t *testing.T) {
	// Three teams in a bracket of four: the top seed gets a bye.
	teams := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	plan, err := bracket.SingleElimination(teams)
	require.NoError(t, err)

	var byes, scheduled int
	for _, m := range planToMatches(uuid.New(), plan) {
		switch m.Status {
		case models.MatchBye:
			byes++
			require.NotNil(t, m.WinnerTeamID)
			assert.Equal(t, teams[0], *m.WinnerTeamID)
		case models.MatchScheduled:
			scheduled++
			assert.NotNil(t, m.HomeTeamID)
			assert.NotNil(t, m.AwayTeamID)
		}
	}
	assert.Equal(t, 1, byes)
	assert.Equal(t, 1, scheduled)
}

func TestMatchesToPlanRejectsDanglingLinks(t *testing.T) {
	stray := uuid.New()
	_, _, err := matchesToPlan([]models.Match{{ID: uuid.New(), NextMatchID: &stray}})
	assert.Error(t, err)
}

func TestSeedOrderPutsSeededTeamsFirst(t *testing.T) {
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	teams := []models.TournamentTeam{
		{Name: "late", CreatedAt: base.Add(2 * time.Hour)},
		{Name: "second seed", Seed: ptr(2), CreatedAt: base.Add(3 * time.Hour)},
		{Name: "early", CreatedAt: base},
		{Name: "top seed", Seed: ptr(1), CreatedAt: base.Add(4 * time.Hour)},
	}
	seedOrder(teams)

	var names []string
	for _, team := range teams {
		names = append(names, team.Name)
	}
	assert.Equal(t, []string{"top seed", "second seed", "early", "late"}, names)
}

package bracket

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func teams(n int) []uuid.UUID {
	out := make([]uuid.UUID, n)
	for i := range out {
		out[i] = uuid.New()
	}
	return out
}

func TestSeedOrder(t *testing.T) {
	tests := []struct {
		size int
		want []int
	}{
		{1, []int{1}},
		{2, []int{1, 2}},
		{4, []int{1, 4, 2, 3}},
		{8, []int{1, 8, 4, 5, 2, 7, 3, 6}},
		{16, []int{1, 16, 8, 9, 4, 13, 5, 12, 2, 15, 7, 10, 3, 14, 6, 11}},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, SeedOrder(tt.size)); diff != "" {
			t.Errorf("SeedOrder(%d) mismatch (-want +got):\n%s", tt.size, diff)
		}
	}
}

func TestBracketSize(t *testing.T) {
	for n, want := range map[int]int{2: 2, 3: 4, 4: 4, 5: 8, 8: 8, 9: 16, 17: 32} {
		assert.Equal(t, want, BracketSize(n), "n=%d", n)
	}
}

func TestRejectsBadEntrants(t *testing.T) {
	_, err := SingleElimination(teams(1))
	assert.ErrorIs(t, err, ErrTooFewEntrants)

	dup := teams(3)
	dup[2] = dup[0]
	_, err = DoubleElimination(dup)
	assert.ErrorIs(t, err, ErrDuplicateEntrant)
}

func TestFirstRoundSlotsMatchBracketSize(t *testing.T) {
	for n := 2; n <= 17; n++ {
		ts := teams(n)
		p, err := SingleElimination(ts)
		require.NoError(t, err)

		size := BracketSize(n)
		seeds := map[int]int{}
		empty := 0
		for _, node := range p.Nodes {
			if node.Section != Winners || node.Round != 1 {
				continue
			}
			for _, e := range []Entry{node.Home, node.Away} {
				switch e.Fill {
				case Filled:
					seeds[e.Seed]++
					assert.Equal(t, ts[e.Seed-1], e.Team)
				case Empty:
					empty++
				}
			}
		}
		assert.Len(t, seeds, n, "n=%d", n)
		for s := 1; s <= n; s++ {
			assert.Equal(t, 1, seeds[s], "seed %d appears once, n=%d", s, n)
		}
		assert.Equal(t, size-n, empty, "byes for n=%d", n)
		assert.Len(t, p.Nodes, size-1, "single elimination nodes for n=%d", n)
	}
}

func TestDoubleEliminationNodeCounts(t *testing.T) {
	for _, n := range []int{2, 3, 4, 5, 8, 11, 16} {
		p, err := DoubleElimination(teams(n))
		require.NoError(t, err)
		size := BracketSize(n)

		count := map[Section]int{}
		for _, node := range p.Nodes {
			count[node.Section]++
		}
		assert.Equal(t, size-1, count[Winners], "n=%d", n)
		assert.Equal(t, size-2, count[Losers], "n=%d", n)
		assert.Equal(t, 1, count[Final], "n=%d", n)
		assert.Len(t, p.Nodes, 2*size-2, "n=%d", n)
	}
}

func TestTopSeedsReceiveByes(t *testing.T) {
	ts := teams(5)
	p, err := SingleElimination(ts)
	require.NoError(t, err)

	// Round one for 8 slots: 1v8, 4v5, 2v7, 3v6. Seeds 6-8 do not exist.
	r1 := []*Node{p.Find(Winners, 1, 0), p.Find(Winners, 1, 1), p.Find(Winners, 1, 2), p.Find(Winners, 1, 3)}
	assert.Equal(t, Bye, r1[0].Status)
	assert.Equal(t, ts[0], r1[0].Winner)
	assert.Equal(t, Ready, r1[1].Status)
	assert.Equal(t, Bye, r1[2].Status)
	assert.Equal(t, Bye, r1[3].Status)

	semi0 := p.Find(Winners, 2, 0)
	assert.Equal(t, Entry{Fill: Filled, Team: ts[0], Seed: 1}, semi0.Home)
	assert.Equal(t, Pending, semi0.Away.Fill)
	assert.Equal(t, Waiting, semi0.Status)

	semi1 := p.Find(Winners, 2, 1)
	assert.Equal(t, ts[1], semi1.Home.Team)
	assert.Equal(t, ts[2], semi1.Away.Team)
	assert.Equal(t, Ready, semi1.Status)
}

func TestRecordAdvancesWinner(t *testing.T) {
	ts := teams(5)
	p, err := SingleElimination(ts)
	require.NoError(t, err)

	m := p.Find(Winners, 1, 1) // 4 v 5
	changed, err := p.Record(m.Index, 1, 3)
	require.NoError(t, err)

	semi := p.Find(Winners, 2, 0)
	require.Len(t, changed, 2)
	assert.Same(t, m, changed[0])
	assert.Same(t, semi, changed[1])
	assert.Equal(t, ts[4], m.Winner)
	assert.Equal(t, Entry{Fill: Filled, Team: ts[4], Seed: 5}, semi.Away)
	assert.Equal(t, Ready, semi.Status)
}

func TestRecordErrors(t *testing.T) {
	p, err := SingleElimination(teams(3))
	require.NoError(t, err)

	final := p.Find(Winners, 2, 0)
	ready := p.Find(Winners, 1, 1)
	bye := p.Find(Winners, 1, 0)

	tests := []struct {
		name        string
		index       int
		home, away  int
		expectedErr error
	}{
		{"unknown node", 99, 1, 0, ErrUnknownNode},
		{"waiting node", final.Index, 1, 0, ErrNotReady},
		{"bye node", bye.Index, 1, 0, ErrAlreadyDecided},
		{"tie", ready.Index, 2, 2, ErrTie},
		{"negative", ready.Index, -1, 2, ErrNegativeScore},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Record(tt.index, tt.home, tt.away)
			assert.ErrorIs(t, err, tt.expectedErr)
		})
	}

	_, err = p.Record(ready.Index, 4, 2)
	require.NoError(t, err)
	_, err = p.Record(ready.Index, 4, 2)
	assert.ErrorIs(t, err, ErrAlreadyDecided)
}

func TestSingleEliminationChampion(t *testing.T) {
	ts := teams(4)
	p, err := SingleElimination(ts)
	require.NoError(t, err)

	_, ok := p.Champion()
	assert.False(t, ok)

	_, err = p.Record(p.Find(Winners, 1, 0).Index, 3, 0) // 1 beats 4
	require.NoError(t, err)
	_, err = p.Record(p.Find(Winners, 1, 1).Index, 0, 2) // 3 beats 2
	require.NoError(t, err)
	_, err = p.Record(p.Find(Winners, 2, 0).Index, 1, 4) // 3 beats 1
	require.NoError(t, err)

	champ, ok := p.Champion()
	require.True(t, ok)
	assert.Equal(t, ts[2], champ)
}

func TestDoubleEliminationFourTeams(t *testing.T) {
	ts := teams(4)
	p, err := DoubleElimination(ts)
	require.NoError(t, err)

	_, err = p.Record(p.Find(Winners, 1, 0).Index, 5, 1) // 1 beats 4
	require.NoError(t, err)
	_, err = p.Record(p.Find(Winners, 1, 1).Index, 2, 1) // 2 beats 3
	require.NoError(t, err)

	lb1 := p.Find(Losers, 1, 0)
	assert.Equal(t, ts[3], lb1.Home.Team)
	assert.Equal(t, ts[2], lb1.Away.Team)
	assert.Equal(t, Ready, lb1.Status)

	_, err = p.Record(p.Find(Winners, 2, 0).Index, 3, 2) // 1 beats 2 in the winners final
	require.NoError(t, err)
	lb2 := p.Find(Losers, 2, 0)
	assert.Equal(t, ts[1], lb2.Away.Team)
	gf := p.Find(Final, 1, 0)
	assert.Equal(t, ts[0], gf.Home.Team)

	_, err = p.Record(lb1.Index, 0, 1) // 3 eliminates 4
	require.NoError(t, err)
	assert.Equal(t, ts[2], lb2.Home.Team)

	_, err = p.Record(lb2.Index, 1, 2) // 2 eliminates 3
	require.NoError(t, err)
	assert.Equal(t, ts[1], gf.Away.Team)
	assert.Equal(t, Ready, gf.Status)

	changed, err := p.Record(gf.Index, 2, 3)
	require.NoError(t, err)
	assert.Len(t, changed, 1)

	champ, ok := p.Champion()
	require.True(t, ok)
	assert.Equal(t, ts[1], champ)
}

func TestDoubleEliminationByeCascade(t *testing.T) {
	ts := teams(3)
	p, err := DoubleElimination(ts)
	require.NoError(t, err)

	// Seed 1 has a bye, so nobody drops from that match; the losers round-one node
	// waits only on the 2 v 3 loser.
	lb1 := p.Find(Losers, 1, 0)
	assert.Equal(t, Empty, lb1.Home.Fill)
	assert.Equal(t, Waiting, lb1.Status)

	changed, err := p.Record(p.Find(Winners, 1, 1).Index, 4, 0) // 2 beats 3
	require.NoError(t, err)

	lb2 := p.Find(Losers, 2, 0)
	assert.Equal(t, Bye, lb1.Status)
	assert.Equal(t, ts[2], lb1.Winner)
	assert.Equal(t, ts[2], lb2.Home.Team)

	var indices []int
	for _, n := range changed {
		indices = append(indices, n.Index)
	}
	want := []int{p.Find(Winners, 1, 1).Index, p.Find(Winners, 2, 0).Index, lb1.Index, lb2.Index}
	if diff := cmp.Diff(want, indices); diff != "" {
		t.Errorf("changed nodes mismatch (-want +got):\n%s", diff)
	}
}

func TestDoubleEliminationTwoTeams(t *testing.T) {
	ts := teams(2)
	p, err := DoubleElimination(ts)
	require.NoError(t, err)
	require.Len(t, p.Nodes, 2)

	_, err = p.Record(p.Find(Winners, 1, 0).Index, 1, 0)
	require.NoError(t, err)

	gf := p.Find(Final, 1, 0)
	assert.Equal(t, ts[0], gf.Home.Team)
	assert.Equal(t, ts[1], gf.Away.Team)
	assert.Equal(t, Ready, gf.Status)
}

func TestRestoreRejectsBackwardLinks(t *testing.T) {
	nodes := []*Node{
		{Index: 0},
		{Index: 1, Next: &Link{Node: 0, Slot: Home}},
	}
	_, err := Restore(nodes)
	assert.ErrorIs(t, err, ErrUnknownNode)

	p, err := SingleElimination(teams(6))
	require.NoError(t, err)
	restored, err := Restore(p.Nodes)
	require.NoError(t, err)
	assert.Equal(t, p.Root(), restored.Root())
}

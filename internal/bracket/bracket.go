// Package bracket builds and advances elimination brackets. It knows nothing about
// the database: a Plan is a flat slice of nodes linked by index, and the tournaments
// service maps those nodes to and from Match rows.
//
// Every slot of a node is in one of three states:
//   - Pending: a team will arrive here once an earlier node is decided
//   - Filled:  a team is sitting in the slot
//   - Empty:   no team will ever arrive (a bye)
//
// A node with one Filled and one Empty slot is a bye: the team advances without
// playing and Empty is passed down the loser link. A node with two Empty slots is
// void and passes Empty down both links. That is how byes "cascade" through the
// losers bracket when there are fewer teams than bracket slots.
package bracket

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrTooFewEntrants   = errors.New("a bracket needs at least two teams")
	ErrDuplicateEntrant = errors.New("team appears more than once")
	ErrUnknownNode      = errors.New("unknown bracket node")
	ErrNotReady         = errors.New("both teams are not known yet")
	ErrAlreadyDecided   = errors.New("match is already decided")
	ErrTie              = errors.New("elimination matches cannot end in a tie")
	ErrNegativeScore    = errors.New("scores cannot be negative")
)

// Section is the part of the bracket a node belongs to.
type Section string

const (
	Winners Section = "winners"
	Losers  Section = "losers"
	Final   Section = "final" // Grand final of a double-elimination bracket
)

// Slot picks one side of a node.
type Slot int

const (
	Home Slot = iota
	Away
)

func (s Slot) String() string {
	if s == Away {
		return "away"
	}
	return "home"
}

// Fill is the state of one slot; see the package comment.
type Fill int

const (
	Pending Fill = iota
	Filled
	Empty
)

// Entry is what sits in a slot. Team and Seed are only meaningful when Fill == Filled.
type Entry struct {
	Fill Fill
	Team uuid.UUID
	Seed int
}

// Link points at a slot of another node.
type Link struct {
	Node int
	Slot Slot
}

// Status of a node.
type Status int

const (
	Waiting Status = iota // At least one slot is still Pending, or nothing has been played yet
	Ready                 // Both slots Filled; the match can be played
	Played                // Result recorded
	Bye                   // Decided without play; Winner is uuid.Nil when both slots were Empty
)

// Node is one match of the bracket.
type Node struct {
	Index    int
	Section  Section
	Round    int // 1-based within the section
	Position int // 0-based within the round

	Home, Away Entry

	Next  *Link // Where the winner goes; nil for the final node
	Loser *Link // Where the loser goes; nil in single elimination

	Status    Status
	Winner    uuid.UUID
	HomeScore int
	AwayScore int
}

// Plan is a whole bracket. Nodes[i].Index == i, and every link points at a later node.
type Plan struct {
	Nodes []*Node
}

// BracketSize returns the smallest power of two that can hold n teams.
func BracketSize(n int) int {
	size := 1
	for size < n {
		size *= 2
	}
	return size
}

// SeedOrder lists the seeds of a first round of the given size (a power of two) in
// slot order: pairs (order[0], order[1]), (order[2], order[3]) ... are the matches.
// Seed 1 meets the lowest seed, and the top two seeds can only meet in the final.
//
// For 8: [1 8 4 5 2 7 3 6].
func SeedOrder(size int) []int {
	order := []int{1}
	for len(order) < size {
		m := len(order)*2 + 1
		next := make([]int, 0, len(order)*2)
		for _, s := range order {
			next = append(next, s, m-s)
		}
		order = next
	}
	return order
}

// SingleElimination builds a bracket for teams listed in seed order (teams[0] is seed 1).
func SingleElimination(teams []uuid.UUID) (*Plan, error) {
	if err := checkEntrants(teams); err != nil {
		return nil, err
	}
	p := &Plan{}
	p.addWinners(teams)
	p.settleAll()
	return p, nil
}

// DoubleElimination builds a winners bracket, a losers bracket fed by the winners
// bracket's losers, and a grand final between the two champions. There is no reset
// match: the grand final decides the tournament.
func DoubleElimination(teams []uuid.UUID) (*Plan, error) {
	if err := checkEntrants(teams); err != nil {
		return nil, err
	}
	p := &Plan{}
	wb := p.addWinners(teams)
	k := len(wb)

	// Losers bracket: for j = 1..k-1 there is a "minor" round 2j-1 where losers-bracket
	// survivors play each other, then a "major" round 2j where they meet the teams
	// dropping from winners round j+1. Both have size/2^(j+1) matches.
	size := BracketSize(len(teams))
	lb := make([][]*Node, 2*(k-1))
	for j := 1; j < k; j++ {
		count := size >> (j + 1)
		lb[2*j-2] = p.addRound(Losers, 2*j-1, count)
		lb[2*j-1] = p.addRound(Losers, 2*j, count)
	}
	final := p.addRound(Final, 1, 1)[0]

	for i, n := range wb[0] {
		if k == 1 {
			n.Loser = &Link{Node: final.Index, Slot: Away}
			continue
		}
		n.Loser = &Link{Node: lb[0][i/2].Index, Slot: Slot(i % 2)}
	}
	for j := 1; j < k; j++ {
		for i, n := range wb[j] {
			n.Loser = &Link{Node: lb[2*j-1][i].Index, Slot: Away}
		}
		for i, n := range lb[2*j-2] {
			n.Next = &Link{Node: lb[2*j-1][i].Index, Slot: Home}
		}
		for i, n := range lb[2*j-1] {
			if j == k-1 {
				n.Next = &Link{Node: final.Index, Slot: Away}
				continue
			}
			n.Next = &Link{Node: lb[2*j][i/2].Index, Slot: Slot(i % 2)}
		}
	}
	wb[k-1][0].Next = &Link{Node: final.Index, Slot: Home}

	p.settleAll()
	return p, nil
}

// Restore rebuilds a plan from stored nodes, checking that indices and links line up.
func Restore(nodes []*Node) (*Plan, error) {
	for i, n := range nodes {
		if n.Index != i {
			return nil, fmt.Errorf("node %d has index %d", i, n.Index)
		}
		for _, l := range []*Link{n.Next, n.Loser} {
			if l != nil && (l.Node <= i || l.Node >= len(nodes)) {
				return nil, fmt.Errorf("node %d links to %d: %w", i, l.Node, ErrUnknownNode)
			}
		}
	}
	return &Plan{Nodes: nodes}, nil
}

// Find returns the node at (section, round, position), or nil.
func (p *Plan) Find(section Section, round, position int) *Node {
	for _, n := range p.Nodes {
		if n.Section == section && n.Round == round && n.Position == position {
			return n
		}
	}
	return nil
}

// Root is the node whose winner wins the tournament.
func (p *Plan) Root() *Node {
	for _, n := range p.Nodes {
		if n.Next == nil && n.Section != Losers {
			return n
		}
	}
	return nil
}

// Champion returns the tournament winner once the root node is decided.
func (p *Plan) Champion() (uuid.UUID, bool) {
	root := p.Root()
	if root == nil || (root.Status != Played && root.Status != Bye) || root.Winner == uuid.Nil {
		return uuid.Nil, false
	}
	return root.Winner, true
}

// Record stores a result for the node at index, advances the winner, drops the loser
// and cascades any byes that follow. It returns every node that changed, starting
// with the recorded one.
func (p *Plan) Record(index, homeScore, awayScore int) ([]*Node, error) {
	if index < 0 || index >= len(p.Nodes) {
		return nil, ErrUnknownNode
	}
	n := p.Nodes[index]
	switch n.Status {
	case Played, Bye:
		return nil, ErrAlreadyDecided
	case Waiting:
		return nil, ErrNotReady
	}
	if homeScore < 0 || awayScore < 0 {
		return nil, ErrNegativeScore
	}
	if homeScore == awayScore {
		return nil, ErrTie
	}

	n.HomeScore, n.AwayScore = homeScore, awayScore
	n.Status = Played
	winner, loser := n.Home, n.Away
	if awayScore > homeScore {
		winner, loser = n.Away, n.Home
	}
	n.Winner = winner.Team

	c := &changes{seen: map[int]bool{}}
	c.add(n)
	p.deliver(n.Next, winner, c)
	p.deliver(n.Loser, loser, c)
	return c.nodes, nil
}

type changes struct {
	nodes []*Node
	seen  map[int]bool
}

func (c *changes) add(n *Node) {
	if c == nil || c.seen[n.Index] {
		return
	}
	c.seen[n.Index] = true
	c.nodes = append(c.nodes, n)
}

func checkEntrants(teams []uuid.UUID) error {
	if len(teams) < 2 {
		return ErrTooFewEntrants
	}
	seen := make(map[uuid.UUID]bool, len(teams))
	for _, t := range teams {
		if t == uuid.Nil || seen[t] {
			return fmt.Errorf("%w: %s", ErrDuplicateEntrant, t)
		}
		seen[t] = true
	}
	return nil
}

func (p *Plan) addRound(section Section, round, count int) []*Node {
	nodes := make([]*Node, count)
	for i := range nodes {
		n := &Node{Index: len(p.Nodes), Section: section, Round: round, Position: i}
		p.Nodes = append(p.Nodes, n)
		nodes[i] = n
	}
	return nodes
}

// addWinners lays out the winners bracket with its first round seeded, and returns it
// round by round.
func (p *Plan) addWinners(teams []uuid.UUID) [][]*Node {
	size := BracketSize(len(teams))
	var rounds [][]*Node
	for round, count := 1, size/2; count >= 1; round, count = round+1, count/2 {
		rounds = append(rounds, p.addRound(Winners, round, count))
	}
	for r := 0; r+1 < len(rounds); r++ {
		for i, n := range rounds[r] {
			n.Next = &Link{Node: rounds[r+1][i/2].Index, Slot: Slot(i % 2)}
		}
	}

	entry := func(seed int) Entry {
		if seed > len(teams) {
			return Entry{Fill: Empty}
		}
		return Entry{Fill: Filled, Team: teams[seed-1], Seed: seed}
	}
	order := SeedOrder(size)
	for i, n := range rounds[0] {
		n.Home = entry(order[2*i])
		n.Away = entry(order[2*i+1])
	}
	return rounds
}

// settleAll resolves byes on a freshly built plan. Links always point forward, so one
// pass in index order sees every node after all of its feeders.
func (p *Plan) settleAll() {
	for _, n := range p.Nodes {
		p.settle(n, nil)
	}
}

func (p *Plan) deliver(l *Link, e Entry, c *changes) {
	if l == nil {
		return
	}
	n := p.Nodes[l.Node]
	if l.Slot == Home {
		n.Home = e
	} else {
		n.Away = e
	}
	c.add(n)
	p.settle(n, c)
}

// settle works out a node's status from its slots, deciding byes on the spot.
func (p *Plan) settle(n *Node, c *changes) {
	if n.Status == Played || n.Status == Bye {
		return
	}
	switch {
	case n.Home.Fill == Filled && n.Away.Fill == Filled:
		n.Status = Ready
	case n.Home.Fill == Empty && n.Away.Fill == Empty:
		n.Status = Bye
		p.deliver(n.Next, Entry{Fill: Empty}, c)
		p.deliver(n.Loser, Entry{Fill: Empty}, c)
	case n.Home.Fill == Empty && n.Away.Fill == Filled,
		n.Home.Fill == Filled && n.Away.Fill == Empty:
		winner := n.Home
		if winner.Fill == Empty {
			winner = n.Away
		}
		n.Status = Bye
		n.Winner = winner.Team
		p.deliver(n.Next, winner, c)
		p.deliver(n.Loser, Entry{Fill: Empty}, c)
	default:
		n.Status = Waiting
	}
}

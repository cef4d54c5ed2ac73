package repository

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/okian/repscore/pkg/metrics"
)

// Treap-based, in-memory Ranking implementation.
//
// Ordering: score DESC, then athleteID ASC (deterministic).
// "less" means ranks earlier, so in-order traversal yields the ranking from
// best to worst. Scores are held in fixed point so equal averages compare
// equal regardless of float rounding in their computation.

const scoreScale = 1_000_000_000

type scoreFP int64

func toFixedPoint(x float64) scoreFP {
	if math.IsNaN(x) {
		return 0
	}
	scaled := math.Round(x * scoreScale)
	if scaled >= float64(math.MaxInt64) {
		return scoreFP(math.MaxInt64)
	}
	if scaled <= float64(math.MinInt64) {
		return scoreFP(math.MinInt64)
	}
	return scoreFP(scaled)
}

func toFloat(x scoreFP) float64 {
	return float64(x) / scoreScale
}

type record struct {
	score scoreFP
	name  string
}

type node struct {
	id    string
	score scoreFP
	prio  uint64
	left  *node
	right *node
	size  int
}

func nsize(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func fix(n *node) {
	if n != nil {
		n.size = 1 + nsize(n.left) + nsize(n.right)
	}
}

// less returns true if (aScore, aID) should appear before (bScore, bID).
func less(aScore scoreFP, aID string, bScore scoreFP, bID string) bool {
	if aScore != bScore {
		return aScore > bScore
	}
	return aID < bID
}

func rotateRight(y *node) *node {
	x := y.left
	y.left = x.right
	x.right = y
	fix(y)
	fix(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	x.right = y.left
	y.left = x
	fix(x)
	fix(y)
	return y
}

func insert(n *node, id string, score scoreFP, prio uint64) *node {
	if n == nil {
		return &node{id: id, score: score, prio: prio, size: 1}
	}
	if less(score, id, n.score, n.id) {
		n.left = insert(n.left, id, score, prio)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, id, score, prio)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

func deleteNode(n *node, id string, score scoreFP) *node {
	if n == nil {
		return nil
	}
	if score == n.score && id == n.id {
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = deleteNode(n.right, id, score)
		} else {
			n = rotateLeft(n)
			n.left = deleteNode(n.left, id, score)
		}
	} else if less(score, id, n.score, n.id) {
		n.left = deleteNode(n.left, id, score)
	} else {
		n.right = deleteNode(n.right, id, score)
	}
	fix(n)
	return n
}

// walk visits nodes in rank order until visit returns false.
func walk(n *node, visit func(*node) bool) bool {
	if n == nil {
		return true
	}
	if !walk(n.left, visit) {
		return false
	}
	if !visit(n) {
		return false
	}
	return walk(n.right, visit)
}

// TreapRanking is a Ranking backed by a treap keyed on (score, id).
type TreapRanking struct {
	mu   sync.RWMutex
	root *node
	byID map[string]record
}

var _ Ranking = (*TreapRanking)(nil)

// NewTreapRanking constructs an empty ranking.
func NewTreapRanking() *TreapRanking {
	return &TreapRanking{byID: make(map[string]record)}
}

// Set implements Ranking.Set in O(log n) expected time.
func (s *TreapRanking) Set(ctx context.Context, athleteID, name string, score float64) bool {
	if score <= 0 || math.IsNaN(score) {
		return s.Remove(ctx, athleteID)
	}
	ns := toFixedPoint(score)

	s.mu.Lock()
	old, ok := s.byID[athleteID]
	if ok && old.score == ns {
		if old.name != name {
			s.byID[athleteID] = record{score: ns, name: name}
		}
		s.mu.Unlock()
		return false
	}
	if ok {
		s.root = deleteNode(s.root, athleteID, old.score)
	}
	s.byID[athleteID] = record{score: ns, name: name}
	s.root = insert(s.root, athleteID, ns, rand.Uint64())
	count := len(s.byID)
	s.mu.Unlock()

	metrics.UpdateRankingRecordsTotal(count)
	return true
}

// Remove implements Ranking.Remove.
func (s *TreapRanking) Remove(_ context.Context, athleteID string) bool {
	s.mu.Lock()
	old, ok := s.byID[athleteID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	s.root = deleteNode(s.root, athleteID, old.score)
	delete(s.byID, athleteID)
	count := len(s.byID)
	s.mu.Unlock()

	metrics.UpdateRankingRecordsTotal(count)
	return true
}

// Rank returns the dense rank of an athlete: equal scores share a rank and
// the next distinct score takes the following rank.
func (s *TreapRanking) Rank(_ context.Context, athleteID string) (Entry, error) {
	start := time.Now()
	defer func() {
		metrics.RecordRankingQueryLatency(float64(time.Since(start).Milliseconds()))
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.byID[athleteID]
	if !ok {
		metrics.RecordErrorByComponent("ranking", "not_found")
		return Entry{}, ErrNotRanked
	}

	rank := 0
	var prev scoreFP
	walk(s.root, func(n *node) bool {
		if rank == 0 || n.score != prev {
			rank++
			prev = n.score
		}
		return n.id != athleteID
	})
	return Entry{Rank: rank, AthleteID: athleteID, Name: rec.name, Score: toFloat(rec.score)}, nil
}

// TopN returns the top N entries with dense ranks.
func (s *TreapRanking) TopN(_ context.Context, n int) ([]Entry, error) {
	start := time.Now()
	defer func() {
		metrics.RecordRankingQueryLatency(float64(time.Since(start).Milliseconds()))
	}()

	if n < 1 {
		metrics.RecordErrorByComponent("ranking", "invalid_limit")
		return nil, ErrInvalidLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, 0, min(n, len(s.byID)))
	rank := 0
	var prev scoreFP
	walk(s.root, func(nd *node) bool {
		if rank == 0 || nd.score != prev {
			rank++
			prev = nd.score
		}
		out = append(out, Entry{Rank: rank, AthleteID: nd.id, Name: s.byID[nd.id].name, Score: toFloat(nd.score)})
		return len(out) < n
	})
	return out, nil
}

// Count returns the number of ranked athletes.
func (s *TreapRanking) Count(context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

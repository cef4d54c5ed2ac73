package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/okian/repscore/internal/domain/model"
)

func TestTreapRanking_SetAndRank(t *testing.T) {
	ctx := context.Background()
	r := NewTreapRanking()

	if !r.Set(ctx, "a1", "Asha", 50.0) {
		t.Error("expected first set to change the ranking")
	}
	if r.Set(ctx, "a1", "Asha", 50.0) {
		t.Error("expected identical set to be a no-op")
	}

	// Averages can go down as well as up.
	if !r.Set(ctx, "a1", "Asha", 40.0) {
		t.Error("expected lower score to move the athlete")
	}
	entry, err := r.Rank(ctx, "a1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.Score != 40.0 || entry.Rank != 1 || entry.Name != "Asha" {
		t.Errorf("unexpected entry %+v", entry)
	}

	if _, err := r.Rank(ctx, "ghost"); !errors.Is(err, ErrNotRanked) || !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotRanked, got %v", err)
	}
}

func TestTreapRanking_Ordering(t *testing.T) {
	ctx := context.Background()
	r := NewTreapRanking()

	athletes := []struct {
		id    string
		score float64
	}{
		{"a1", 85.0},
		{"a2", 95.0},
		{"a3", 75.0},
		{"a4", 100.0},
		{"a5", 80.0},
	}
	for _, a := range athletes {
		if !r.Set(ctx, a.id, "name-"+a.id, a.score) {
			t.Errorf("expected set to succeed for %s", a.id)
		}
	}

	entries, err := r.TopN(ctx, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := []string{"a4", "a2", "a1", "a5", "a3"}
	if len(entries) != len(expected) {
		t.Fatalf("expected %d entries, got %d", len(expected), len(entries))
	}
	for i, id := range expected {
		if entries[i].AthleteID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, entries[i].AthleteID)
		}
		if entries[i].Rank != i+1 {
			t.Errorf("position %d: expected rank %d, got %d", i, i+1, entries[i].Rank)
		}
	}

	top2, err := r.TopN(ctx, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(top2) != 2 || top2[1].AthleteID != "a2" {
		t.Errorf("unexpected top 2: %+v", top2)
	}

	if _, err := r.TopN(ctx, 0); !errors.Is(err, ErrInvalidLimit) {
		t.Errorf("expected ErrInvalidLimit, got %v", err)
	}
}

func TestTreapRanking_TiesShareRank(t *testing.T) {
	ctx := context.Background()
	r := NewTreapRanking()

	r.Set(ctx, "b", "B", 70.0)
	r.Set(ctx, "a", "A", 70.0)
	r.Set(ctx, "c", "C", 60.0)

	entries, err := r.TopN(ctx, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entries[0].AthleteID != "a" || entries[1].AthleteID != "b" {
		t.Errorf("expected id tie-break a before b, got %s, %s", entries[0].AthleteID, entries[1].AthleteID)
	}
	if entries[0].Rank != 1 || entries[1].Rank != 1 || entries[2].Rank != 2 {
		t.Errorf("expected dense ranks 1,1,2, got %d,%d,%d", entries[0].Rank, entries[1].Rank, entries[2].Rank)
	}

	c, err := r.Rank(ctx, "c")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Rank != 2 {
		t.Errorf("expected rank 2 for c, got %d", c.Rank)
	}

	// Averages computed along different paths land on the same fixed point.
	r.Set(ctx, "d", "D", (0.1+0.2)*100)
	r.Set(ctx, "e", "E", 30.0)
	d, _ := r.Rank(ctx, "d")
	e, _ := r.Rank(ctx, "e")
	if d.Rank != e.Rank {
		t.Errorf("expected equal ranks for equal averages, got %d and %d", d.Rank, e.Rank)
	}
}

func TestTreapRanking_NonPositiveRemoves(t *testing.T) {
	ctx := context.Background()
	r := NewTreapRanking()

	r.Set(ctx, "a", "A", 10)
	if r.Count(ctx) != 1 {
		t.Fatalf("expected 1 ranked athlete, got %d", r.Count(ctx))
	}
	if !r.Set(ctx, "a", "A", 0) {
		t.Error("expected zero score to remove the athlete")
	}
	if r.Count(ctx) != 0 {
		t.Errorf("expected empty ranking, got %d", r.Count(ctx))
	}
	if r.Remove(ctx, "a") {
		t.Error("expected second remove to be a no-op")
	}
	if r.Set(ctx, "never", "N", 0) {
		t.Error("expected zero score for unknown athlete to be a no-op")
	}
}

func TestTreapRanking_Concurrent(t *testing.T) {
	ctx := context.Background()
	r := NewTreapRanking()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				id := fmt.Sprintf("a%03d", i)
				r.Set(ctx, id, id, float64((i*7+w)%100+1))
				_, _ = r.TopN(ctx, 10)
				_, _ = r.Rank(ctx, id)
			}
		}(w)
	}
	wg.Wait()

	if r.Count(ctx) != 200 {
		t.Fatalf("expected 200 athletes, got %d", r.Count(ctx))
	}
	all, err := r.TopN(ctx, 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 200 {
		t.Fatalf("expected 200 entries, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i-1].Score < all[i].Score {
			t.Fatalf("ranking out of order at %d: %f < %f", i, all[i-1].Score, all[i].Score)
		}
	}
	if nsize(r.root) != 200 {
		t.Errorf("treap size %d does not match index", nsize(r.root))
	}
}

package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/okian/repscore/internal/domain/types"
)

const defaultRankingLimit = 10

// RankingDependencies defines the interface for ranking operations.
type RankingDependencies interface {
	TopN(ctx context.Context, n int) ([]types.Entry, error)
}

// RankingHandler handles ranking requests.
type RankingHandler struct {
	deps     RankingDependencies
	maxLimit int
}

// NewRankingHandler creates a new ranking handler.
func NewRankingHandler(deps RankingDependencies, maxLimit int) *RankingHandler {
	return &RankingHandler{
		deps:     deps,
		maxLimit: maxLimit,
	}
}

// HandleGetRankings handles GET /api/rankings?limit=N requests.
func (h *RankingHandler) HandleGetRankings(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_rankings"
	n, ok := queryInt(r, "limit", defaultRankingLimit)
	if !ok || n > h.maxLimit {
		writeError(w, WrapKind(op, ErrBadRequest, fmt.Errorf("limit must be between 1 and %d", h.maxLimit)))
		return
	}
	entries, err := h.deps.TopN(r.Context(), n)
	if err != nil {
		writeError(w, Wrap(op, err))
		return
	}
	writeData(w, http.StatusOK, "", entries)
}

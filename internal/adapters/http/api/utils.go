package api

import (
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// queryInt reads a positive integer query parameter, falling back to def
// when it is absent. ok is false for malformed or non-positive values.
func queryInt(r *http.Request, key string, def int) (n int, ok bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// uploadName builds a collision free stored name keeping the client's
// extension.
func uploadName(original string, now time.Time) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(original)))
	if len(ext) > 10 || strings.ContainsAny(ext, `/\ `) {
		ext = ""
	}
	return strconv.FormatInt(now.UnixMilli(), 10) + "-" + uuid.NewString() + ext
}

package httpapi

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
)

func newSessionID() string {
	return uuid.NewString()
}

func parseSinceParam(r *http.Request) int64 {
	raw := r.URL.Query().Get("since")
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

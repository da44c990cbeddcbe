package control

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/ROCTUP/1c-mcp-toolkit/pkg/controlrpc"
)

// handleEvents long-polls the notification feed. ?timeout accepts a Go
// duration ("25s") or plain seconds ("25"); ?max caps the batch.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.feed == nil {
		writeError(w, http.StatusNotFound, "event feed disabled")
		return
	}

	q := r.URL.Query()
	timeout := s.pollTimeout
	if v := q.Get("timeout"); v != "" {
		d, err := parseTimeout(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid timeout")
			return
		}
		timeout = min(d, MaxPollTimeout)
	}
	limit := 0
	if v := q.Get("max"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid max")
			return
		}
		limit = n
	}

	batch := s.feed.Poll(r.Context(), timeout, limit)
	res := controlrpc.EventsResult{Events: make([]controlrpc.Event, 0, len(batch))}
	for _, e := range batch {
		res.Events = append(res.Events, controlrpc.Event{Source: e.Source, Kind: e.Kind, Payload: e.Payload})
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(res)
}

func parseTimeout(v string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs < 0 {
			return 0, strconv.ErrRange
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, strconv.ErrRange
	}
	return d, nil
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"
)

const maxBodySize = 1 << 20 // 1 MB

// maxDurationSeconds is the largest bare number of seconds a time.Duration holds.
var maxDurationSeconds = float64(math.MaxInt64) / float64(time.Second)

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// decodeBody decodes a size-limited JSON request body into v. With
// allowEmpty an absent body is accepted and v is left untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	err := json.NewDecoder(r.Body).Decode(v)
	if allowEmpty && errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// parseDuration reads "500ms"-style durations; bare numbers are seconds.
func parseDuration(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(secs) || math.Abs(secs) >= maxDurationSeconds {
		return 0, fmt.Errorf("duration %q out of range", s)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// parseDurationQuery parses a duration query parameter. Missing, malformed or
// negative values yield defaultVal; anything above maxVal is clamped.
func parseDurationQuery(r *http.Request, key string, defaultVal, maxVal time.Duration) time.Duration {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	d, err := parseDuration(s)
	if err != nil || d < 0 {
		return defaultVal
	}
	return min(d, maxVal)
}

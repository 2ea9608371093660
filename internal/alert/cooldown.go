package alert

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// CooldownState maps a rule key to the RFC 3339 UTC time its alert last fired.
type CooldownState map[string]string

// Suppressed reports whether key fired less than window ago. A missing or
// unparsable record never suppresses, so a corrupted entry cannot block
// alerts forever.
func (s CooldownState) Suppressed(key string, window time.Duration, now time.Time) bool {
	raw, ok := s[key]
	if !ok {
		return false
	}
	last, err := parseTimestamp(raw)
	if err != nil {
		return false
	}
	return now.Sub(last) < window
}

// Mark records now as the last fire time for key.
func (s CooldownState) Mark(key string, now time.Time) {
	s[key] = FormatTimestamp(now)
}

// FormatTimestamp renders t as ISO-8601 in UTC.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// timestampLayouts are tried in order. Records without an offset are UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	var err error
	for _, layout := range timestampLayouts {
		var t time.Time
		if t, err = time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}

// DecodeCooldownState reads a stored cooldown map. Values that are not
// strings are kept as their JSON text so they fail to parse and fail open.
func DecodeCooldownState(data []byte) (CooldownState, error) {
	if len(data) == 0 {
		return CooldownState{}, nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode cooldown state: %w", err)
	}
	state := make(CooldownState, len(raw))
	for k, v := range raw {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			s = string(v)
		}
		state[k] = s
	}
	return state, nil
}

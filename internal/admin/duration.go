package admin

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var durationUnits = map[byte]time.Duration{
	's': time.Second,
	'm': time.Minute,
	'h': time.Hour,
	'd': 24 * time.Hour,
	'w': 7 * 24 * time.Hour,
}

// maxRestriction caps temporary bans and mutes; anything longer is permanent
// in practice and must stay representable as int32 seconds on the wire.
const maxRestriction = 52 * 7 * 24 * time.Hour

// ParseDuration parses ban and mute lengths: "30s", "10m", "2h", "7d", "1w",
// a bare number of minutes, or "perm"/"0" for permanent. Permanent is returned
// as zero.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "":
		return 0, fmt.Errorf("empty duration")
	case "perm", "permanent", "0":
		return 0, nil
	}

	unit := time.Minute
	digits := s
	if u, ok := durationUnits[s[len(s)-1]]; ok {
		unit = u
		digits = s[:len(s)-1]
	}

	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	if n == 0 {
		return 0, nil
	}
	if n > int64(maxRestriction/unit) {
		return 0, fmt.Errorf("duration %q too long", s)
	}
	return time.Duration(n) * unit, nil
}

// FormatDuration renders d for chat, "permanent" for zero.
func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return "permanent"
	}

	parts := []struct {
		unit time.Duration
		name string
	}{
		{7 * 24 * time.Hour, "w"},
		{24 * time.Hour, "d"},
		{time.Hour, "h"},
		{time.Minute, "m"},
		{time.Second, "s"},
	}

	var b strings.Builder
	for _, p := range parts {
		if d >= p.unit {
			fmt.Fprintf(&b, "%d%s", d/p.unit, p.name)
			d %= p.unit
		}
	}
	if b.Len() == 0 {
		return "0s"
	}
	return b.String()
}

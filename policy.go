package sessionstore

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// IsExpired reports whether the session is logically dead at the given
// instant. A zero ExpiresAt never expires.
func IsExpired(s *Session, now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// ExpiryFrom computes an absolute expiry from a duration.
func ExpiryFrom(now time.Time, ttl time.Duration) time.Time {
	return now.Add(ttl)
}

// ParseTTL parses a session duration given either as a bare integer
// (interpreted as milliseconds) or as a human shorthand: "500ms", "30s",
// "15m", "12h", "7d", "2w". Unrecognized input is ErrInvalidDuration; a
// bad shorthand is a configuration mistake and is surfaced where the
// configuration is consumed, never deferred to a store operation.
func ParseTTL(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidDuration)
	}

	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		if ms < 0 {
			return 0, fmt.Errorf("%w: negative %q", ErrInvalidDuration, v)
		}
		return time.Duration(ms) * time.Millisecond, nil
	}

	unit := time.Duration(0)
	num := ""
	switch {
	case strings.HasSuffix(v, "ms"):
		unit, num = time.Millisecond, v[:len(v)-2]
	case strings.HasSuffix(v, "s"):
		unit, num = time.Second, v[:len(v)-1]
	case strings.HasSuffix(v, "m"):
		unit, num = time.Minute, v[:len(v)-1]
	case strings.HasSuffix(v, "h"):
		unit, num = time.Hour, v[:len(v)-1]
	case strings.HasSuffix(v, "d"):
		unit, num = 24*time.Hour, v[:len(v)-1]
	case strings.HasSuffix(v, "w"):
		unit, num = 7*24*time.Hour, v[:len(v)-1]
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, v)
	}

	n, err := strconv.ParseFloat(strings.TrimSpace(num), 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, v)
	}

	return time.Duration(n * float64(unit)), nil
}

// FilterActive returns the subset of sessions not expired at now, in the
// input order.
func FilterActive(sessions []*Session, now time.Time) []*Session {
	out := make([]*Session, 0, len(sessions))
	for _, s := range sessions {
		if !IsExpired(s, now) {
			out = append(out, s)
		}
	}
	return out
}

// SortCreatedDesc orders sessions newest-created-first, the contract order
// for FindByUserID. Equal timestamps fall back to id so the order is stable
// across backends.
func SortCreatedDesc(sessions []*Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].ID > sessions[j].ID
		}
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
}

// SortLastActiveDesc orders sessions most-recently-active-first, the
// contract order for FindActiveByUserID.
func SortLastActiveDesc(sessions []*Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		if sessions[i].LastActive.Equal(sessions[j].LastActive) {
			return sessions[i].ID > sessions[j].ID
		}
		return sessions[i].LastActive.After(sessions[j].LastActive)
	})
}

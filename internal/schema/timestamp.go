package schema

import (
	"strings"
	"time"
)

// EffectiveTimestamp resolves a node's effective timestamp by checking, in
// order: the Node.TS field, then type-specific fields passed in typeSpecific
// (e.g. merged_at, closed_at, last_modified), then well-known keys in Extra
// (timestamp, created_at, updated_at, date). It returns nil when none of
// these are present or parseable — never a hard-coded fallback instant. A
// prior implementation of this routine (seen in the source this system was
// distilled from) returned a fixed instant for unparseable input; that
// behaviour is intentionally not reproduced here.
func EffectiveTimestamp(n *Node, typeSpecific ...*time.Time) *time.Time {
	if n.TS != nil {
		return n.TS
	}
	for _, ts := range typeSpecific {
		if ts != nil {
			return ts
		}
	}
	if n.Extra == nil {
		return nil
	}
	for _, key := range []string{"timestamp", "created_at", "updated_at", "date"} {
		if raw, ok := n.Extra[key]; ok {
			if ts, ok := ParseTimestamp(raw); ok {
				return &ts
			}
		}
	}
	return nil
}

// ParseTimestamp attempts to parse a loosely-typed timestamp value (string,
// time.Time, or something that stringifies to RFC3339/ISO-8601) into a
// time.Time, normalizing a trailing "Z" to UTC. It reports ok=false rather
// than guessing when parsing fails.
func ParseTimestamp(raw any) (time.Time, bool) {
	switch v := raw.(type) {
	case time.Time:
		return v, true
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return time.Time{}, false
		}
		layouts := []string{
			time.RFC3339Nano,
			time.RFC3339,
			"2006-01-02T15:04:05Z",
			"2006-01-02T15:04:05",
			"2006-01-02",
		}
		for _, layout := range layouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), true
			}
		}
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}

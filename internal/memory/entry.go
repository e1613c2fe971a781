// Package memory is the vector-indexed message store. Every message turn is
// kept as an embedding in a flat index file and as a record in a sibling
// metadata file; the position in both is the join key.
package memory

import (
	"fmt"
	"strings"
	"time"
)

// Role is the author of a message turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ParseRole normalizes a role name. "ai" is accepted as an alias for
// assistant because older vault notes use it.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "user":
		return RoleUser, nil
	case "assistant", "ai":
		return RoleAssistant, nil
	case "system":
		return RoleSystem, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Entry is one stored message turn. Entries are immutable once added
// except for the derived Important flag.
type Entry struct {
	Text      string  `json:"text"`
	Role      Role    `json:"role"`
	Timestamp float64 `json:"timestamp"`
	SessionID string  `json:"session_id"`
	Index     int     `json:"index"`
	Important bool    `json:"important,omitempty"`
}

// Time returns Timestamp as a time.Time.
func (e Entry) Time() time.Time {
	sec := int64(e.Timestamp)
	return time.Unix(sec, int64((e.Timestamp-float64(sec))*1e9))
}

// Result is a search hit. Smaller Distance means more similar; Score is
// 1/(1+Distance) for callers that want a larger-is-better number.
type Result struct {
	Entry    Entry   `json:"entry"`
	Distance float64 `json:"distance"`
	Score    float64 `json:"score"`
}

// Message is the normalized chat turn accepted at the ingestion boundary.
type Message struct {
	Role    Role      `json:"role"`
	Content string    `json:"content"`
	Time    time.Time `json:"time"`
}

// Validate reports why a message cannot be ingested.
func (m Message) Validate() error {
	switch m.Role {
	case RoleUser, RoleAssistant, RoleSystem:
	default:
		return fmt.Errorf("unknown role %q", m.Role)
	}
	if strings.TrimSpace(m.Content) == "" {
		return fmt.Errorf("empty %s message", m.Role)
	}
	return nil
}

package transcript

import (
	"errors"
	"fmt"
)

// Role tags who produced a turn
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ErrSystemTurn is returned when a caller tries to store a system turn.
// The system prompt is synthesized per request and never kept in history.
var ErrSystemTurn = errors.New("system turns are not stored in the transcript")

// Turn is a single message in the conversation
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Transcript is the ordered log of turns for one session.
// It is not safe for concurrent use; the owning session serializes access.
type Transcript struct {
	turns []Turn
}

// New creates an empty transcript
func New() *Transcript {
	return &Transcript{}
}

// Append adds a turn at the end
func (t *Transcript) Append(role Role, content string) error {
	switch role {
	case RoleSystem:
		return ErrSystemTurn
	case RoleUser, RoleAssistant:
	default:
		return fmt.Errorf("append turn: unknown role %q", role)
	}
	t.turns = append(t.turns, Turn{Role: role, Content: content})
	return nil
}

// Snapshot returns a copy of all turns in order
func (t *Transcript) Snapshot() []Turn {
	out := make([]Turn, len(t.turns))
	copy(out, t.turns)
	return out
}

// Reset clears every turn and seeds the transcript with the welcome message
func (t *Transcript) Reset(welcome string) {
	t.turns = []Turn{{Role: RoleAssistant, Content: welcome}}
}

// AsRequestMessages returns the outbound message list: the system prompt
// followed by every stored turn.
func (t *Transcript) AsRequestMessages(systemPrompt string) []Turn {
	out := make([]Turn, 0, len(t.turns)+1)
	out = append(out, Turn{Role: RoleSystem, Content: systemPrompt})
	return append(out, t.turns...)
}

// Len returns the number of stored turns
func (t *Transcript) Len() int {
	return len(t.turns)
}

// Last returns the most recent turn, if any
func (t *Transcript) Last() (Turn, bool) {
	if len(t.turns) == 0 {
		return Turn{}, false
	}
	return t.turns[len(t.turns)-1], true
}

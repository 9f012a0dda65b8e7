package conversa

import (
	"encoding/json"
	"fmt"
)

// Scope specifies the lifetime of a binding's instances.
// The scope determines when instances are created, where they are stored,
// and when they are torn down.
type Scope int

const (
	// Transient specifies that a new instance is created on every resolution.
	// Transient instances are never stored; the caller owns them.
	Transient Scope = iota

	// Singleton specifies that a single instance is created on first
	// resolution and shared process-wide until the container is closed.
	Singleton

	// Session specifies that one instance is created per session id.
	// The session id is supplied by the caller via WithSession and the
	// instances live until EndSession is called for that id.
	Session

	// Conversation specifies that one instance is created per conversation.
	// Instances created under a transient conversation live only for the
	// current unit of work; instances created under a long-running
	// conversation survive across units of work until the conversation ends.
	Conversation
)

// String returns the string representation of the Scope.
func (s Scope) String() string {
	switch s {
	case Transient:
		return "Transient"
	case Singleton:
		return "Singleton"
	case Session:
		return "Session"
	case Conversation:
		return "Conversation"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// IsValid checks if the scope is one of the declared values.
func (s Scope) IsValid() bool {
	return s >= Transient && s <= Conversation
}

// MarshalText implements encoding.TextMarshaler.
func (s Scope) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Scope) UnmarshalText(text []byte) error {
	switch string(text) {
	case "Transient", "transient", "none":
		*s = Transient
	case "Singleton", "singleton":
		*s = Singleton
	case "Session", "session":
		*s = Session
	case "Conversation", "conversation":
		*s = Conversation
	default:
		return &ScopeError{Value: string(text)}
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (s Scope) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Scope) UnmarshalJSON(data []byte) error {
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}

	return s.UnmarshalText([]byte(v))
}

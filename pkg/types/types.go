// Package types defines the core data structures for the engram memory system:
// memory records, their closed enumerations, curator decisions and per-turn
// results.
package types

import (
	"fmt"
	"strings"
)

// Kind classifies what a memory record describes.
type Kind uint8

// Memory kinds. The zero value is deliberately invalid.
const (
	KindUnknown Kind = iota
	KindPreference
	KindFact
	KindEntity
	KindConstraint
	KindCommitment
)

var kindNames = map[Kind]string{
	KindPreference: "preference",
	KindFact:       "fact",
	KindEntity:     "entity",
	KindConstraint: "constraint",
	KindCommitment: "commitment",
}

// AllKinds lists every valid kind in prompt priority order.
var AllKinds = []Kind{KindConstraint, KindCommitment, KindPreference, KindFact, KindEntity}

// String returns the stable serialized name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Label returns the upper-case tag used in prompts, e.g. "CONSTRAINT".
func (k Kind) Label() string {
	return strings.ToUpper(k.String())
}

// IsValid reports whether k is one of the defined kinds.
func (k Kind) IsValid() bool {
	_, ok := kindNames[k]
	return ok
}

// ParseKind parses a serialized kind name. Matching is case-insensitive.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return KindUnknown, fmt.Errorf("unknown memory kind %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	if !k.IsValid() {
		return nil, fmt.Errorf("cannot marshal invalid kind %d", k)
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Status is the lifecycle state of a memory, derived from its heat.
type Status uint8

// Memory statuses.
const (
	StatusActive Status = iota
	StatusDecaying
	StatusEvicted
)

var statusNames = map[Status]string{
	StatusActive:   "active",
	StatusDecaying: "decaying",
	StatusEvicted:  "evicted",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

// ParseStatus parses a serialized status name.
func ParseStatus(s string) (Status, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for st, name := range statusNames {
		if name == s {
			return st, nil
		}
	}
	return StatusActive, fmt.Errorf("unknown memory status %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	if _, ok := statusNames[s]; !ok {
		return nil, fmt.Errorf("cannot marshal invalid status %d", s)
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Operation is the outcome of reconciling a candidate against stored memories.
type Operation uint8

// Curator operations.
const (
	OpAdd Operation = iota
	OpUpdate
	OpDelete
	OpNoop
)

var operationNames = map[Operation]string{
	OpAdd:    "ADD",
	OpUpdate: "UPDATE",
	OpDelete: "DELETE",
	OpNoop:   "NOOP",
}

// AllOperations lists every operation in a stable order.
var AllOperations = []Operation{OpAdd, OpUpdate, OpDelete, OpNoop}

func (o Operation) String() string {
	if name, ok := operationNames[o]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseOperation parses an operation name. Matching is case-insensitive.
func ParseOperation(s string) (Operation, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for op, name := range operationNames {
		if name == s {
			return op, nil
		}
	}
	return OpAdd, fmt.Errorf("unknown curator operation %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (o Operation) MarshalText() ([]byte, error) {
	if _, ok := operationNames[o]; !ok {
		return nil, fmt.Errorf("cannot marshal invalid operation %d", o)
	}
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Operation) UnmarshalText(text []byte) error {
	parsed, err := ParseOperation(string(text))
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}

// Role identifies the speaker of a history message.
type Role uint8

// Dialogue roles.
const (
	RoleUser Role = iota
	RoleAssistant
)

func (r Role) String() string {
	if r == RoleAssistant {
		return "assistant"
	}
	return "user"
}

// MarshalText implements encoding.TextMarshaler.
func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Role) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "user":
		*r = RoleUser
	case "assistant":
		*r = RoleAssistant
	default:
		return fmt.Errorf("unknown role %q", string(text))
	}
	return nil
}

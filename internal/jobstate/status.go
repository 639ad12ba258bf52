// Package jobstate tracks the lifecycle of maintenance jobs on the client
// side. All transitions go through Transition, which enforces that progress
// never regresses and that terminal states are final for channel events.
package jobstate

import (
	"fmt"
	"strings"
)

// Kind is the normalized lifecycle status of a job.
type Kind int

const (
	Pending Kind = iota
	Running
	Succeeded
	Failed
)

func (k Kind) String() string {
	switch k {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Terminal reports whether no further channel event may change the state.
func (k Kind) Terminal() bool {
	return k == Succeeded || k == Failed
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	parsed, ok := ParseStatus(string(text))
	if !ok {
		return fmt.Errorf("unknown job status %q", string(text))
	}
	*k = parsed
	return nil
}

// statusAliases maps every status spelling the backend is known to emit.
// "completado" and "exitoso" are both plain success.
var statusAliases = map[string]Kind{
	"pending":     Pending,
	"pendiente":   Pending,
	"scheduled":   Pending,
	"programado":  Pending,
	"running":     Running,
	"en_progreso": Running,
	"en_proceso":  Running,
	"in_progress": Running,
	"succeeded":   Succeeded,
	"completado":  Succeeded,
	"exitoso":     Succeeded,
	"completed":   Succeeded,
	"success":     Succeeded,
	"failed":      Failed,
	"fallido":     Failed,
	"error":       Failed,
}

// ParseStatus normalizes a wire status string. Matching is case-insensitive
// and ignores surrounding whitespace; spaces and dashes count as underscores.
func ParseStatus(raw string) (Kind, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	k, ok := statusAliases[s]
	return k, ok
}

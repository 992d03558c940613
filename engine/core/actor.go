package core

import (
	"fmt"
	"strconv"
	"strings"
)

// ActorKind identifies what caused a mutation.
type ActorKind string

const (
	ActorUser      ActorKind = "user"
	ActorActionRun ActorKind = "action-run"
	ActorAPIToken  ActorKind = "api-access-token"
	ActorSystem    ActorKind = "system"
	ActorUnknown   ActorKind = "unknown"
)

// Actor attributes a mutation to a user, an action run, an API token or the
// system itself. Seq is a logical timestamp stamped when the actor is bound
// to a statement; the history recorder compares it against the previous
// entry's Seq to detect attribution that was never reset for the current
// statement.
type Actor struct {
	Kind ActorKind `json:"kind"`
	ID   ID        `json:"id,omitempty"`
	Seq  int64     `json:"seq"`
}

func NewActor(kind ActorKind, id ID, seq int64) Actor {
	return Actor{Kind: kind, ID: id, Seq: seq}
}

func SystemActor(seq int64) Actor {
	return Actor{Kind: ActorSystem, Seq: seq}
}

func (a Actor) IsZero() bool {
	return a.Kind == ""
}

// String encodes the actor as "kind:id|seq" ("kind|seq" for system and
// unknown actors), the format stored in the history table.
func (a Actor) String() string {
	if a.ID.IsZero() {
		return fmt.Sprintf("%s|%d", a.Kind, a.Seq)
	}
	return fmt.Sprintf("%s:%s|%d", a.Kind, a.ID, a.Seq)
}

// ParseActor decodes the stored "kind:id|seq" form.
func ParseActor(s string) (Actor, error) {
	tag, seqStr, ok := strings.Cut(s, "|")
	if !ok {
		return Actor{}, fmt.Errorf("invalid actor %q: missing seq separator", s)
	}
	seq, err := strconv.ParseInt(seqStr, 10, 64)
	if err != nil {
		return Actor{}, fmt.Errorf("invalid actor %q: %w", s, err)
	}
	kind, id, _ := strings.Cut(tag, ":")
	switch ActorKind(kind) {
	case ActorUser, ActorActionRun, ActorAPIToken, ActorSystem, ActorUnknown:
	default:
		return Actor{}, fmt.Errorf("invalid actor %q: unknown kind %q", s, kind)
	}
	return Actor{Kind: ActorKind(kind), ID: ID(id), Seq: seq}, nil
}

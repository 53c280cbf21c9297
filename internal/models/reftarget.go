package models

import (
	"encoding/json"
	"strings"

	"github.com/kilupskalvis/opvc/internal/contenthash"
	"github.com/kilupskalvis/opvc/internal/merge"
)

// RefTarget is where a bookmark or tag points: absent, a single commit, or
// a conflict between commits. An empty CommitID term means "absent".
//
// The zero RefTarget is absent.
type RefTarget struct {
	m merge.Merge[CommitID]
}

// AbsentRef returns a target that points nowhere.
func AbsentRef() RefTarget { return RefTarget{m: merge.Resolved(CommitID(""))} }

// NormalRef returns a target pointing at a single commit.
func NormalRef(id CommitID) RefTarget { return RefTarget{m: merge.Resolved(id)} }

// RefTargetFromMerge wraps a merge of optional commit ids.
func RefTargetFromMerge(m merge.Merge[CommitID]) RefTarget { return RefTarget{m: m} }

// RefTargetFromLegacy builds a target from separate removed/added lists that
// need not have matching arity. Missing terms are padded with absent ids.
func RefTargetFromLegacy(removes, adds []CommitID) RefTarget {
	if len(removes) == 0 && len(adds) <= 1 {
		if len(adds) == 0 {
			return AbsentRef()
		}
		return NormalRef(adds[0])
	}
	r := append([]CommitID(nil), removes...)
	a := append([]CommitID(nil), adds...)
	for len(a) < len(r)+1 {
		a = append(a, "")
	}
	for len(r) < len(a)-1 {
		r = append(r, "")
	}
	return RefTarget{m: merge.New(r, a)}
}

func (r RefTarget) terms() merge.Merge[CommitID] {
	if r.m.Arity() == 0 {
		return merge.Resolved(CommitID(""))
	}
	return r.m
}

// Merge returns the target's terms.
func (r RefTarget) Merge() merge.Merge[CommitID] { return r.terms() }

// IsAbsent reports whether the target is resolved to nothing.
func (r RefTarget) IsAbsent() bool {
	id, ok := r.terms().AsResolved()
	return ok && id == ""
}

// IsPresent is the opposite of IsAbsent.
func (r RefTarget) IsPresent() bool { return !r.IsAbsent() }

// HasConflict reports whether the target is unresolved.
func (r RefTarget) HasConflict() bool { return !r.terms().IsResolved() }

// AsNormal returns the commit if the target is a single present commit.
func (r RefTarget) AsNormal() (CommitID, bool) {
	id, ok := r.terms().AsResolved()
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// RemovedIDs returns the present commits among the removes.
func (r RefTarget) RemovedIDs() []CommitID { return presentIDs(r.terms().Removes()) }

// AddedIDs returns the present commits among the adds.
func (r RefTarget) AddedIDs() []CommitID { return presentIDs(r.terms().Adds()) }

// Equal compares terms in order.
func (r RefTarget) Equal(o RefTarget) bool { return merge.Equal(r.terms(), o.terms()) }

func (r RefTarget) String() string {
	if r.IsAbsent() {
		return "<absent>"
	}
	if id, ok := r.AsNormal(); ok {
		return id.Short()
	}
	var sb strings.Builder
	sb.WriteString("conflict(-[")
	writeShortIDs(&sb, r.terms().Removes())
	sb.WriteString("] +[")
	writeShortIDs(&sb, r.terms().Adds())
	sb.WriteString("])")
	return sb.String()
}

// ContentHash writes the terms as a merge of optional commit ids.
func (r RefTarget) ContentHash(h *contenthash.Hasher) {
	merge.Hash(h, r.terms(), hashOptionalCommitID)
}

func (r RefTarget) MarshalJSON() ([]byte, error) { return json.Marshal(r.terms()) }

func (r *RefTarget) UnmarshalJSON(data []byte) error { return json.Unmarshal(data, &r.m) }

func hashOptionalCommitID(h *contenthash.Hasher, id CommitID) {
	contenthash.Option(h, id, id != "", func(h *contenthash.Hasher, id CommitID) { id.ContentHash(h) })
}

func presentIDs(ids []CommitID) []CommitID {
	var out []CommitID
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}

func writeShortIDs(sb *strings.Builder, ids []CommitID) {
	for i, id := range ids {
		if i > 0 {
			sb.WriteString(" ")
		}
		if id == "" {
			sb.WriteString("-")
		} else {
			sb.WriteString(id.Short())
		}
	}
}

// RemoteRefState records whether a remote bookmark is tracked locally.
type RemoteRefState uint32

const (
	RemoteRefNew RemoteRefState = iota
	RemoteRefTracking
)

func (s RemoteRefState) String() string {
	if s == RemoteRefTracking {
		return "tracking"
	}
	return "new"
}

// RemoteRef is a bookmark as last seen on a remote.
type RemoteRef struct {
	Target RefTarget      `json:"target"`
	State  RemoteRefState `json:"state"`
}

// IsAbsent reports whether the remote ref points nowhere.
func (r RemoteRef) IsAbsent() bool { return r.Target.IsAbsent() }

func (r RemoteRef) Equal(o RemoteRef) bool { return r.State == o.State && r.Target.Equal(o.Target) }

func (r RemoteRef) ContentHash(h *contenthash.Hasher) {
	r.Target.ContentHash(h)
	h.Variant(uint32(r.State))
}

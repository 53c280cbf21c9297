package models

import (
	"encoding/json"

	"github.com/kilupskalvis/opvc/internal/contenthash"
	"github.com/kilupskalvis/opvc/internal/merge"
)

// MergedTreeID is either a single resolved tree or an ordered list of
// per-side trees forming an unresolved merge at the root.
type MergedTreeID struct {
	trees merge.Merge[TreeID]
}

// ResolvedTree returns a MergedTreeID for a single tree.
func ResolvedTree(id TreeID) MergedTreeID {
	return MergedTreeID{trees: merge.Resolved(id)}
}

// MergedTree returns a MergedTreeID made from per-side trees.
func MergedTree(m merge.Merge[TreeID]) MergedTreeID {
	return MergedTreeID{trees: merge.Simplify(m)}
}

// Trees returns the underlying merge of tree ids.
func (t MergedTreeID) Trees() merge.Merge[TreeID] { return t.trees }

// AsResolved returns the tree id if the root is not conflicted.
func (t MergedTreeID) AsResolved() (TreeID, bool) { return t.trees.AsResolved() }

// Equal reports whether both ids list the same trees.
func (t MergedTreeID) Equal(o MergedTreeID) bool { return merge.Equal(t.trees, o.trees) }

func (t MergedTreeID) ContentHash(h *contenthash.Hasher) {
	if id, ok := t.trees.AsResolved(); ok {
		h.Variant(0)
		id.ContentHash(h)
		return
	}
	h.Variant(1)
	merge.Hash(h, t.trees, func(h *contenthash.Hasher, id TreeID) { id.ContentHash(h) })
}

func (t MergedTreeID) MarshalJSON() ([]byte, error) { return json.Marshal(t.trees) }

func (t *MergedTreeID) UnmarshalJSON(data []byte) error { return json.Unmarshal(data, &t.trees) }

// SecureSig is an opaque signature over a commit's serialized data.
type SecureSig struct {
	Data []byte `json:"data"`
	Sig  []byte `json:"sig"`
}

// Commit is an immutable commit record.
type Commit struct {
	Parents      []CommitID   `json:"parents"`
	Predecessors []CommitID   `json:"predecessors"`
	RootTree     MergedTreeID `json:"root_tree"`
	ChangeID     ChangeID     `json:"change_id"`
	Description  string       `json:"description"`
	Author       Signature    `json:"author"`
	Committer    Signature    `json:"committer"`
	SecureSig    *SecureSig   `json:"secure_sig,omitempty"`
}

// ContentHash writes the commit's fields in declaration order.
func (c *Commit) ContentHash(h *contenthash.Hasher) {
	hashCommitIDs(h, c.Parents)
	hashCommitIDs(h, c.Predecessors)
	c.RootTree.ContentHash(h)
	c.ChangeID.ContentHash(h)
	h.String(c.Description)
	c.Author.ContentHash(h)
	c.Committer.ContentHash(h)
	var sig SecureSig
	if c.SecureSig != nil {
		sig = *c.SecureSig
	}
	contenthash.Option(h, sig, c.SecureSig != nil, func(h *contenthash.Hasher, s SecureSig) {
		h.Bytes(s.Data)
		h.Bytes(s.Sig)
	})
}

// Clone returns a deep copy.
func (c *Commit) Clone() *Commit {
	out := *c
	out.Parents = append([]CommitID(nil), c.Parents...)
	out.Predecessors = append([]CommitID(nil), c.Predecessors...)
	if c.SecureSig != nil {
		sig := *c.SecureSig
		out.SecureSig = &sig
	}
	return &out
}

// IsMergeCommit returns true if this commit has more than one parent
func (c *Commit) IsMergeCommit() bool {
	return len(c.Parents) > 1
}

func hashCommitIDs(h *contenthash.Hasher, ids []CommitID) {
	contenthash.Seq(h, ids, func(h *contenthash.Hasher, id CommitID) { id.ContentHash(h) })
}

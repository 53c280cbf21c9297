package models

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/kilupskalvis/opvc/internal/contenthash"
	"github.com/kilupskalvis/opvc/internal/merge"
)

// TreeValueKind is the kind of a tree entry. The zero kind marks an absent
// value, used in merges where a side has no entry.
type TreeValueKind uint32

const (
	KindAbsent TreeValueKind = iota
	KindFile
	KindSymlink
	KindTree
	KindConflict
)

var kindNames = map[TreeValueKind]string{
	KindAbsent:   "absent",
	KindFile:     "file",
	KindSymlink:  "symlink",
	KindTree:     "tree",
	KindConflict: "conflict",
}

func (k TreeValueKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint32(k))
}

// TreeValue is the value of a tree entry. It is comparable so that merges
// of tree values can be resolved with merge.TrivialMerge.
type TreeValue struct {
	Kind       TreeValueKind
	ID         string // raw id bytes of the object the kind refers to
	Executable bool   // files only
}

// FileValue returns a file entry.
func FileValue(id FileID, executable bool) TreeValue {
	return TreeValue{Kind: KindFile, ID: string(id), Executable: executable}
}

// SymlinkValue returns a symlink entry.
func SymlinkValue(id SymlinkID) TreeValue { return TreeValue{Kind: KindSymlink, ID: string(id)} }

// SubtreeValue returns a directory entry.
func SubtreeValue(id TreeID) TreeValue { return TreeValue{Kind: KindTree, ID: string(id)} }

// ConflictValue returns an entry pointing at a stored conflict.
func ConflictValue(id ConflictID) TreeValue { return TreeValue{Kind: KindConflict, ID: string(id)} }

func (v TreeValue) IsAbsent() bool { return v.Kind == KindAbsent }
func (v TreeValue) IsTree() bool   { return v.Kind == KindTree }

func (v TreeValue) FileID() FileID         { return FileID(v.ID) }
func (v TreeValue) SymlinkID() SymlinkID   { return SymlinkID(v.ID) }
func (v TreeValue) TreeID() TreeID         { return TreeID(v.ID) }
func (v TreeValue) ConflictID() ConflictID { return ConflictID(v.ID) }

func (v TreeValue) String() string {
	if v.IsAbsent() {
		return "absent"
	}
	s := v.Kind.String() + ":" + shortHex(hex.EncodeToString([]byte(v.ID)))
	if v.Executable {
		s += "(x)"
	}
	return s
}

// ContentHash writes the variant ordinal, then the id; files also write the
// executable bit. It panics for absent values, which never reach storage
// outside an Option.
func (v TreeValue) ContentHash(h *contenthash.Hasher) {
	if v.IsAbsent() {
		panic("models: hashing an absent tree value")
	}
	h.Variant(uint32(v.Kind - 1))
	h.Bytes([]byte(v.ID))
	if v.Kind == KindFile {
		h.Bool(v.Executable)
	}
}

type treeValueJSON struct {
	Kind       string `json:"kind"`
	ID         string `json:"id,omitempty"`
	Executable bool   `json:"executable,omitempty"`
}

func (v TreeValue) MarshalJSON() ([]byte, error) {
	if v.IsAbsent() {
		return []byte("null"), nil
	}
	return json.Marshal(treeValueJSON{
		Kind:       v.Kind.String(),
		ID:         hex.EncodeToString([]byte(v.ID)),
		Executable: v.Executable,
	})
}

func (v *TreeValue) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*v = TreeValue{}
		return nil
	}
	var raw treeValueJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	kind := KindAbsent
	for k, name := range kindNames {
		if name == raw.Kind {
			kind = k
		}
	}
	if kind == KindAbsent {
		return fmt.Errorf("unknown tree value kind %q", raw.Kind)
	}
	id, err := hex.DecodeString(raw.ID)
	if err != nil {
		return fmt.Errorf("decode tree value id: %w", err)
	}
	*v = TreeValue{Kind: kind, ID: string(id), Executable: raw.Executable}
	return nil
}

// Tree is a single directory level: entry name to value.
type Tree struct {
	Entries map[string]TreeValue `json:"entries"`
}

// NewTree returns an empty tree.
func NewTree() *Tree {
	return &Tree{Entries: make(map[string]TreeValue)}
}

// Names returns the entry names in sorted order.
func (t *Tree) Names() []string {
	names := make([]string, 0, len(t.Entries))
	for name := range t.Entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Value returns the entry named name, or an absent value.
func (t *Tree) Value(name string) TreeValue { return t.Entries[name] }

// Set sets or removes (absent value) an entry.
func (t *Tree) Set(name string, v TreeValue) {
	if v.IsAbsent() {
		delete(t.Entries, name)
		return
	}
	if t.Entries == nil {
		t.Entries = make(map[string]TreeValue)
	}
	t.Entries[name] = v
}

func (t *Tree) IsEmpty() bool { return len(t.Entries) == 0 }

// Clone returns a copy of the tree.
func (t *Tree) Clone() *Tree {
	out := &Tree{Entries: make(map[string]TreeValue, len(t.Entries))}
	for k, v := range t.Entries {
		out.Entries[k] = v
	}
	return out
}

// ContentHash writes the entries as a sequence of (name, value) sorted by name.
func (t *Tree) ContentHash(h *contenthash.Hasher) {
	contenthash.Map(h, t.Entries, func(h *contenthash.Hasher, name string, v TreeValue) {
		h.String(name)
		v.ContentHash(h)
	})
}

// Conflict is a stored unresolved merge of tree values. Absent terms mean
// the path did not exist on that side.
type Conflict struct {
	Removes []TreeValue `json:"removes"`
	Adds    []TreeValue `json:"adds"`
}

// ConflictFromMerge converts a merge of tree values into a Conflict record.
func ConflictFromMerge(m merge.Merge[TreeValue]) *Conflict {
	return &Conflict{
		Removes: append([]TreeValue{}, m.Removes()...),
		Adds:    append([]TreeValue{}, m.Adds()...),
	}
}

// Merge returns the conflict's terms as a merge.
func (c *Conflict) Merge() merge.Merge[TreeValue] {
	return merge.New(append([]TreeValue(nil), c.Removes...), append([]TreeValue(nil), c.Adds...))
}

func (c *Conflict) ContentHash(h *contenthash.Hasher) {
	term := func(h *contenthash.Hasher, v TreeValue) {
		contenthash.Option(h, v, !v.IsAbsent(), func(h *contenthash.Hasher, v TreeValue) { v.ContentHash(h) })
	}
	contenthash.Seq(h, c.Removes, term)
	contenthash.Seq(h, c.Adds, term)
}

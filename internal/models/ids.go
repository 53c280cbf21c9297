// Package models defines the core data structures of the repository:
// content-addressed ids, commits, trees, operations and views.
package models

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/kilupskalvis/opvc/internal/contenthash"
)

// Id types hold the raw digest bytes as a Go string so they can be compared
// with == and used as map keys. They print and serialize as lowercase hex.

// CommitID identifies a commit's exact content.
type CommitID string

// ChangeID is the stable logical identity of a commit that survives rewrites.
type ChangeID string

// TreeID identifies a tree object.
type TreeID string

// FileID identifies file contents.
type FileID string

// SymlinkID identifies a symlink target.
type SymlinkID string

// ConflictID identifies a stored conflict.
type ConflictID string

// OperationID is the content hash of an Operation.
type OperationID string

// ViewID is the content hash of a View.
type ViewID string

// WorkspaceID names a workspace. Unlike the other ids it is a plain name.
type WorkspaceID string

// DefaultWorkspaceID is the workspace created with a new repository.
const DefaultWorkspaceID WorkspaceID = "default"

func hexOf[T ~string](id T) string { return hex.EncodeToString([]byte(id)) }

func parseHex[T ~string](kind, s string) (T, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("invalid %s id %q: %w", kind, s, err)
	}
	return T(b), nil
}

func marshalHex[T ~string](id T) ([]byte, error) { return []byte(hexOf(id)), nil }

func hashID[T ~string](h *contenthash.Hasher, id T) { h.Bytes([]byte(id)) }

// NewCommitID creates a CommitID from raw bytes.
func NewCommitID(b []byte) CommitID { return CommitID(b) }

// CommitIDFromHex parses a hex commit id.
func CommitIDFromHex(s string) (CommitID, error) { return parseHex[CommitID]("commit", s) }

func (id CommitID) Bytes() []byte  { return []byte(id) }
func (id CommitID) Hex() string    { return hexOf(id) }
func (id CommitID) String() string { return id.Hex() }

// Short returns the first 12 hex digits.
func (id CommitID) Short() string { return shortHex(id.Hex()) }

func (id CommitID) MarshalText() ([]byte, error) { return marshalHex(id) }
func (id *CommitID) UnmarshalText(b []byte) (err error) {
	*id, err = parseHex[CommitID]("commit", string(b))
	return err
}
func (id CommitID) ContentHash(h *contenthash.Hasher) { hashID(h, id) }

// NewChangeID creates a ChangeID from raw bytes.
func NewChangeID(b []byte) ChangeID { return ChangeID(b) }

// ChangeIDFromHex parses a hex change id.
func ChangeIDFromHex(s string) (ChangeID, error) { return parseHex[ChangeID]("change", s) }

func (id ChangeID) Bytes() []byte  { return []byte(id) }
func (id ChangeID) Hex() string    { return hexOf(id) }
func (id ChangeID) String() string { return id.Hex() }

// ReverseHex renders the id with the digits 0-f mapped to z-k, which keeps
// change ids visually distinct from commit ids.
func (id ChangeID) ReverseHex() string {
	var sb strings.Builder
	for _, c := range id.Hex() {
		var v rune
		if c >= 'a' {
			v = c - 'a' + 10
		} else {
			v = c - '0'
		}
		sb.WriteRune('z' - v)
	}
	return sb.String()
}

func (id ChangeID) MarshalText() ([]byte, error) { return marshalHex(id) }
func (id *ChangeID) UnmarshalText(b []byte) (err error) {
	*id, err = parseHex[ChangeID]("change", string(b))
	return err
}
func (id ChangeID) ContentHash(h *contenthash.Hasher) { hashID(h, id) }

// TreeIDFromHex parses a hex tree id.
func TreeIDFromHex(s string) (TreeID, error) { return parseHex[TreeID]("tree", s) }

func (id TreeID) Bytes() []byte  { return []byte(id) }
func (id TreeID) Hex() string    { return hexOf(id) }
func (id TreeID) String() string { return id.Hex() }

func (id TreeID) MarshalText() ([]byte, error) { return marshalHex(id) }
func (id *TreeID) UnmarshalText(b []byte) (err error) {
	*id, err = parseHex[TreeID]("tree", string(b))
	return err
}
func (id TreeID) ContentHash(h *contenthash.Hasher) { hashID(h, id) }

func (id FileID) Hex() string    { return hexOf(id) }
func (id FileID) String() string { return id.Hex() }

func (id FileID) MarshalText() ([]byte, error) { return marshalHex(id) }
func (id *FileID) UnmarshalText(b []byte) (err error) {
	*id, err = parseHex[FileID]("file", string(b))
	return err
}
func (id FileID) ContentHash(h *contenthash.Hasher) { hashID(h, id) }

func (id SymlinkID) Hex() string    { return hexOf(id) }
func (id SymlinkID) String() string { return id.Hex() }

func (id SymlinkID) MarshalText() ([]byte, error) { return marshalHex(id) }
func (id *SymlinkID) UnmarshalText(b []byte) (err error) {
	*id, err = parseHex[SymlinkID]("symlink", string(b))
	return err
}
func (id SymlinkID) ContentHash(h *contenthash.Hasher) { hashID(h, id) }

func (id ConflictID) Hex() string    { return hexOf(id) }
func (id ConflictID) String() string { return id.Hex() }

func (id ConflictID) MarshalText() ([]byte, error) { return marshalHex(id) }
func (id *ConflictID) UnmarshalText(b []byte) (err error) {
	*id, err = parseHex[ConflictID]("conflict", string(b))
	return err
}
func (id ConflictID) ContentHash(h *contenthash.Hasher) { hashID(h, id) }

// OperationIDFromHex parses a hex operation id.
func OperationIDFromHex(s string) (OperationID, error) {
	return parseHex[OperationID]("operation", s)
}

func (id OperationID) Bytes() []byte  { return []byte(id) }
func (id OperationID) Hex() string    { return hexOf(id) }
func (id OperationID) String() string { return id.Hex() }

// Short returns the first 12 hex digits.
func (id OperationID) Short() string { return shortHex(id.Hex()) }

func (id OperationID) MarshalText() ([]byte, error) { return marshalHex(id) }
func (id *OperationID) UnmarshalText(b []byte) (err error) {
	*id, err = parseHex[OperationID]("operation", string(b))
	return err
}
func (id OperationID) ContentHash(h *contenthash.Hasher) { hashID(h, id) }

// ViewIDFromHex parses a hex view id.
func ViewIDFromHex(s string) (ViewID, error) { return parseHex[ViewID]("view", s) }

func (id ViewID) Bytes() []byte  { return []byte(id) }
func (id ViewID) Hex() string    { return hexOf(id) }
func (id ViewID) String() string { return id.Hex() }

func (id ViewID) MarshalText() ([]byte, error) { return marshalHex(id) }
func (id *ViewID) UnmarshalText(b []byte) (err error) {
	*id, err = parseHex[ViewID]("view", string(b))
	return err
}
func (id ViewID) ContentHash(h *contenthash.Hasher) { hashID(h, id) }

func (id WorkspaceID) String() string                   { return string(id) }
func (id WorkspaceID) ContentHash(h *contenthash.Hasher) { h.String(string(id)) }

func shortHex(s string) string {
	if len(s) > 12 {
		return s[:12]
	}
	return s
}

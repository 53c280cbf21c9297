package models

import (
	"encoding/json"
	"sort"

	"github.com/kilupskalvis/opvc/internal/contenthash"
)

// RemoteView holds the bookmarks last seen on one remote.
type RemoteView struct {
	Bookmarks map[string]RemoteRef `json:"bookmarks"`
}

func (r RemoteView) ContentHash(h *contenthash.Hasher) {
	contenthash.Map(h, r.Bookmarks, func(h *contenthash.Hasher, name string, ref RemoteRef) {
		h.String(name)
		ref.ContentHash(h)
	})
}

// View is the repository's visible state at one operation.
type View struct {
	HeadIDs        map[CommitID]struct{}
	LocalBookmarks map[string]RefTarget
	Tags           map[string]RefTarget
	RemoteViews    map[string]RemoteView
	WCCommitIDs    map[WorkspaceID]CommitID
}

// NewView returns an empty view.
func NewView() *View {
	return &View{
		HeadIDs:        make(map[CommitID]struct{}),
		LocalBookmarks: make(map[string]RefTarget),
		Tags:           make(map[string]RefTarget),
		RemoteViews:    make(map[string]RemoteView),
		WCCommitIDs:    make(map[WorkspaceID]CommitID),
	}
}

// RootView returns the view of the root operation: only the root commit is
// a head.
func RootView(rootCommit CommitID) *View {
	v := NewView()
	v.HeadIDs[rootCommit] = struct{}{}
	return v
}

// Heads returns the head ids sorted.
func (v *View) Heads() []CommitID {
	out := make([]CommitID, 0, len(v.HeadIDs))
	for id := range v.HeadIDs {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// LocalBookmark returns the bookmark's target, absent if unset.
func (v *View) LocalBookmark(name string) RefTarget { return v.LocalBookmarks[name] }

// SetLocalBookmark sets a bookmark; an absent target removes it.
func (v *View) SetLocalBookmark(name string, target RefTarget) {
	setRef(v.LocalBookmarks, name, target)
}

// Tag returns the tag's target, absent if unset.
func (v *View) Tag(name string) RefTarget { return v.Tags[name] }

// SetTag sets a tag; an absent target removes it.
func (v *View) SetTag(name string, target RefTarget) { setRef(v.Tags, name, target) }

// RemoteBookmark returns the remote bookmark, absent if unknown.
func (v *View) RemoteBookmark(remote, name string) RemoteRef {
	return v.RemoteViews[remote].Bookmarks[name]
}

// SetRemoteBookmark sets a remote bookmark; an absent target removes it.
func (v *View) SetRemoteBookmark(remote, name string, ref RemoteRef) {
	rv, ok := v.RemoteViews[remote]
	if ref.IsAbsent() {
		if !ok {
			return
		}
		delete(rv.Bookmarks, name)
		if len(rv.Bookmarks) == 0 {
			delete(v.RemoteViews, remote)
		}
		return
	}
	if !ok {
		rv = RemoteView{Bookmarks: make(map[string]RemoteRef)}
		v.RemoteViews[remote] = rv
	}
	rv.Bookmarks[name] = ref
}

func setRef(m map[string]RefTarget, name string, target RefTarget) {
	if target.IsAbsent() {
		delete(m, name)
		return
	}
	m[name] = target
}

// Clone returns a deep copy.
func (v *View) Clone() *View {
	out := NewView()
	for id := range v.HeadIDs {
		out.HeadIDs[id] = struct{}{}
	}
	for k, t := range v.LocalBookmarks {
		out.LocalBookmarks[k] = t
	}
	for k, t := range v.Tags {
		out.Tags[k] = t
	}
	for remote, rv := range v.RemoteViews {
		bookmarks := make(map[string]RemoteRef, len(rv.Bookmarks))
		for k, r := range rv.Bookmarks {
			bookmarks[k] = r
		}
		out.RemoteViews[remote] = RemoteView{Bookmarks: bookmarks}
	}
	for ws, id := range v.WCCommitIDs {
		out.WCCommitIDs[ws] = id
	}
	return out
}

// Equal reports whether two views describe the same state.
func (v *View) Equal(o *View) bool {
	return string(contenthash.Sum(v)) == string(contenthash.Sum(o))
}

// ContentHash writes heads, local bookmarks, tags, remote views and
// working-copy commits, in that order.
func (v *View) ContentHash(h *contenthash.Hasher) {
	contenthash.Set(h, v.HeadIDs, func(h *contenthash.Hasher, id CommitID) { id.ContentHash(h) })
	hashRefs(h, v.LocalBookmarks)
	hashRefs(h, v.Tags)
	contenthash.Map(h, v.RemoteViews, func(h *contenthash.Hasher, name string, rv RemoteView) {
		h.String(name)
		rv.ContentHash(h)
	})
	contenthash.Map(h, v.WCCommitIDs, func(h *contenthash.Hasher, ws WorkspaceID, id CommitID) {
		ws.ContentHash(h)
		id.ContentHash(h)
	})
}

func hashRefs(h *contenthash.Hasher, refs map[string]RefTarget) {
	contenthash.Map(h, refs, func(h *contenthash.Hasher, name string, t RefTarget) {
		h.String(name)
		t.ContentHash(h)
	})
}

// viewJSON is the stored form of a View. Heads are written as a sorted list
// because commit ids are raw bytes and cannot be used as JSON object keys.
type viewJSON struct {
	HeadIDs        []CommitID               `json:"head_ids"`
	LocalBookmarks map[string]RefTarget     `json:"local_bookmarks,omitempty"`
	Tags           map[string]RefTarget     `json:"tags,omitempty"`
	RemoteViews    map[string]RemoteView    `json:"remote_views,omitempty"`
	WCCommitIDs    map[WorkspaceID]CommitID `json:"wc_commit_ids,omitempty"`
}

func (v *View) MarshalJSON() ([]byte, error) {
	return json.Marshal(viewJSON{
		HeadIDs:        v.Heads(),
		LocalBookmarks: v.LocalBookmarks,
		Tags:           v.Tags,
		RemoteViews:    v.RemoteViews,
		WCCommitIDs:    v.WCCommitIDs,
	})
}

func (v *View) UnmarshalJSON(data []byte) error {
	var raw viewJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = *NewView()
	for _, id := range raw.HeadIDs {
		v.HeadIDs[id] = struct{}{}
	}
	for k, t := range raw.LocalBookmarks {
		v.LocalBookmarks[k] = t
	}
	for k, t := range raw.Tags {
		v.Tags[k] = t
	}
	for k, rv := range raw.RemoteViews {
		if rv.Bookmarks == nil {
			rv.Bookmarks = make(map[string]RemoteRef)
		}
		v.RemoteViews[k] = rv
	}
	for k, id := range raw.WCCommitIDs {
		v.WCCommitIDs[k] = id
	}
	return nil
}

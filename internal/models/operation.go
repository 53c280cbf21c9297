package models

import (
	"github.com/kilupskalvis/opvc/internal/contenthash"
)

// OperationMetadata describes who ran an operation, when and why.
type OperationMetadata struct {
	StartTime   Timestamp         `json:"start_time"`
	EndTime     Timestamp         `json:"end_time"`
	Description string            `json:"description"`
	Hostname    string            `json:"hostname"`
	Username    string            `json:"username"`
	Tags        map[string]string `json:"tags,omitempty"`
}

func (m *OperationMetadata) ContentHash(h *contenthash.Hasher) {
	m.StartTime.ContentHash(h)
	m.EndTime.ContentHash(h)
	h.String(m.Description)
	h.String(m.Hostname)
	h.String(m.Username)
	contenthash.StringMap(h, m.Tags)
}

// Operation is a node in the operation DAG. It points to the full View
// that resulted from it, so operations can be loaded without replay.
type Operation struct {
	ViewID   ViewID            `json:"view_id"`
	Parents  []OperationID     `json:"parents"`
	Metadata OperationMetadata `json:"metadata"`
}

func (o *Operation) ContentHash(h *contenthash.Hasher) {
	o.ViewID.ContentHash(h)
	contenthash.Seq(h, o.Parents, func(h *contenthash.Hasher, id OperationID) { id.ContentHash(h) })
	o.Metadata.ContentHash(h)
}

// HasParent reports whether id is one of the operation's parents.
func (o *Operation) HasParent(id OperationID) bool {
	for _, p := range o.Parents {
		if p == id {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (o *Operation) Clone() *Operation {
	out := *o
	out.Parents = append([]OperationID(nil), o.Parents...)
	if o.Metadata.Tags != nil {
		out.Metadata.Tags = make(map[string]string, len(o.Metadata.Tags))
		for k, v := range o.Metadata.Tags {
			out.Metadata.Tags[k] = v
		}
	}
	return &out
}

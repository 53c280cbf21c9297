package models

import (
	"time"

	"github.com/kilupskalvis/opvc/internal/contenthash"
)

// Timestamp is a point in time with the local zone offset it was recorded in.
type Timestamp struct {
	Millis   int64 `json:"millis" toml:"millis"`       // since the Unix epoch
	TZOffset int32 `json:"tz_offset" toml:"tz_offset"` // minutes east of UTC
}

// Now returns the current time in the local zone.
func Now() Timestamp { return TimestampFromTime(time.Now()) }

// TimestampFromTime converts t, keeping its zone offset.
func TimestampFromTime(t time.Time) Timestamp {
	_, offset := t.Zone()
	return Timestamp{Millis: t.UnixMilli(), TZOffset: int32(offset / 60)}
}

// Time converts back to a time.Time in a fixed zone.
func (t Timestamp) Time() time.Time {
	zone := time.FixedZone("", int(t.TZOffset)*60)
	return time.UnixMilli(t.Millis).In(zone)
}

// Before reports whether t happened before o, ignoring zones.
func (t Timestamp) Before(o Timestamp) bool { return t.Millis < o.Millis }

func (t Timestamp) String() string { return t.Time().Format("2006-01-02 15:04:05.000 -07:00") }

func (t Timestamp) ContentHash(h *contenthash.Hasher) {
	h.I64(t.Millis)
	h.I32(t.TZOffset)
}

// Signature identifies who made a commit and when.
type Signature struct {
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Timestamp Timestamp `json:"timestamp"`
}

func (s Signature) ContentHash(h *contenthash.Hasher) {
	h.String(s.Name)
	h.String(s.Email)
	s.Timestamp.ContentHash(h)
}

// Package feed assembles ranked opportunity pages: opaque cursor tokens,
// a snapshot watermark pinning scroll sessions, a sponsored-slot density
// limiter, and the page assembler that ties them together.
package feed

import (
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// ErrInvalidCursor is returned when a cursor token is malformed or
// tampered with. Callers treat it as "start a new session", never as a
// fatal error.
var ErrInvalidCursor = errors.New("invalid cursor")

// Cursor is the pagination position: the sort tuple of the last item the
// client has seen, plus the snapshot watermark the session is pinned to.
type Cursor struct {
	RankScore  float64
	TrustScore int
	ExpiresAt  *time.Time
	ID         string
	SnapshotTS time.Time
	Generation uint64
}

// Equal reports whether two cursors describe the same position. Time
// fields are compared by instant, not by location.
func (c Cursor) Equal(other Cursor) bool {
	if c.RankScore != other.RankScore ||
		c.TrustScore != other.TrustScore ||
		c.ID != other.ID ||
		c.Generation != other.Generation ||
		!c.SnapshotTS.Equal(other.SnapshotTS) {
		return false
	}
	switch {
	case c.ExpiresAt == nil && other.ExpiresAt == nil:
		return true
	case c.ExpiresAt == nil || other.ExpiresAt == nil:
		return false
	default:
		return c.ExpiresAt.Equal(*other.ExpiresAt)
	}
}

// cursorWire is the CBOR layout of a token. Integer keys keep tokens
// compact; timestamps travel as microseconds since the epoch so the
// round-trip is exact.
type cursorWire struct {
	RankScore  float64 `cbor:"1,keyasint"`
	TrustScore int     `cbor:"2,keyasint"`
	ExpiresAt  *int64  `cbor:"3,keyasint,omitempty"`
	ID         string  `cbor:"4,keyasint"`
	SnapshotTS int64   `cbor:"5,keyasint"`
	Generation uint64  `cbor:"6,keyasint"`
}

// EncodeCursor serializes a cursor into an opaque URL-safe token.
func EncodeCursor(c Cursor) (string, error) {
	w := cursorWire{
		RankScore:  c.RankScore,
		TrustScore: c.TrustScore,
		ID:         c.ID,
		SnapshotTS: c.SnapshotTS.UnixMicro(),
		Generation: c.Generation,
	}
	if c.ExpiresAt != nil {
		us := c.ExpiresAt.UnixMicro()
		w.ExpiresAt = &us
	}

	data, err := cbor.Marshal(w)
	if err != nil {
		return "", fmt.Errorf("failed to encode cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeCursor parses a token back into a cursor. Any malformed input
// returns ErrInvalidCursor.
func DecodeCursor(token string) (Cursor, error) {
	if token == "" {
		return Cursor{}, fmt.Errorf("%w: empty token", ErrInvalidCursor)
	}

	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}

	var w cursorWire
	if err := cbor.Unmarshal(data, &w); err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if w.ID == "" || w.SnapshotTS == 0 {
		return Cursor{}, fmt.Errorf("%w: missing fields", ErrInvalidCursor)
	}

	c := Cursor{
		RankScore:  w.RankScore,
		TrustScore: w.TrustScore,
		ID:         w.ID,
		SnapshotTS: time.UnixMicro(w.SnapshotTS).UTC(),
		Generation: w.Generation,
	}
	if w.ExpiresAt != nil {
		exp := time.UnixMicro(*w.ExpiresAt).UTC()
		c.ExpiresAt = &exp
	}
	return c, nil
}

// Package envelope defines the unit persisted in the store for each cache
// entry: the cached value paired with the time it was created.
package envelope

import (
	"errors"
	"fmt"

	"github.com/multiformats/go-varint"
)

// ErrCorrupt is returned when stored bytes cannot be decoded as an envelope.
var ErrCorrupt = errors.New("corrupt cache envelope")

// Envelope wraps a cached value with its creation time. An envelope is never
// modified once written; each refresh writes a new one.
type Envelope struct {
	Value []byte
	// CreatedAt is the creation time in Unix milliseconds.
	CreatedAt int64
}

// New creates an envelope for value created at nowMillis.
func New(value []byte, nowMillis int64) Envelope {
	return Envelope{
		Value:     value,
		CreatedAt: nowMillis,
	}
}

// Age returns the envelope's age in milliseconds at nowMillis.
func (e Envelope) Age(nowMillis int64) int64 {
	return nowMillis - e.CreatedAt
}

// Encode serializes the envelope as a uvarint creation time followed by the
// value bytes.
func Encode(e Envelope) ([]byte, error) {
	if e.CreatedAt < 0 {
		return nil, fmt.Errorf("negative envelope creation time: %d", e.CreatedAt)
	}
	ts := varint.ToUvarint(uint64(e.CreatedAt))
	buf := make([]byte, len(ts)+len(e.Value))
	n := copy(buf, ts)
	copy(buf[n:], e.Value)
	return buf, nil
}

// Decode deserializes an envelope written by Encode.
func Decode(data []byte) (Envelope, error) {
	if len(data) == 0 {
		return Envelope{}, ErrCorrupt
	}
	ts, n, err := varint.FromUvarint(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %s", ErrCorrupt, err)
	}
	if ts > 1<<63-1 {
		return Envelope{}, fmt.Errorf("%w: creation time out of range", ErrCorrupt)
	}
	e := Envelope{
		Value:     make([]byte, len(data)-n),
		CreatedAt: int64(ts),
	}
	copy(e.Value, data[n:])
	return e, nil
}

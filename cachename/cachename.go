// Package cachename parses cache name descriptors.
//
// A cache name carries its own expiration policy using the forms:
//
//	id                  pass-through caching, no logical TTL
//	id#ttl              plain TTL caching, no background refresh
//	id#ttl#window       refresh-ahead caching
//
// The ttl and window are in seconds. For the refresh-ahead form, a value is
// stale once its age exceeds ttl-window and it is physically evicted from the
// store after ttl+window.
package cachename

import (
	"math"
	"strconv"
	"strings"
	"time"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("cachename")

// Separator divides the segments of a cache name descriptor.
const Separator = "#"

// maxSeconds bounds ttl and window so that ttl+window in nanoseconds fits in a
// time.Duration.
const maxSeconds = math.MaxInt64 / int64(time.Second) / 2

// Descriptor is the parsed form of a cache name.
type Descriptor struct {
	// ID identifies the cache and is the prefix of all keys stored for it.
	ID string
	// TTLSeconds is the logical time-to-live. Zero if there is none.
	TTLSeconds int64
	// WindowSeconds is the refresh window. Only meaningful when Refresh is
	// true.
	WindowSeconds int64

	hasTTL  bool
	refresh bool
}

// Parse parses a raw cache name. It never fails: anything that is not a
// well-formed descriptor is used, whole, as the cache ID.
func Parse(raw string) Descriptor {
	plain := Descriptor{ID: raw}

	parts := strings.Split(raw, Separator)
	if len(parts) == 1 || len(parts) > 3 || parts[0] == "" {
		return plain
	}

	ttl, ok := parseSeconds(parts[1])
	if !ok || ttl == 0 {
		log.Warnw("Ignoring malformed ttl in cache name", "name", raw)
		return plain
	}
	d := Descriptor{
		ID:         parts[0],
		TTLSeconds: ttl,
		hasTTL:     true,
	}
	if len(parts) == 2 {
		return d
	}

	window, ok := parseSeconds(parts[2])
	if !ok {
		log.Warnw("Ignoring malformed refresh window in cache name", "name", raw)
		return plain
	}
	if window >= ttl {
		corrected := max(1, ttl/2)
		log.Warnw("Refresh window not less than ttl, correcting",
			"name", raw, "ttl", ttl, "window", window, "corrected", corrected)
		window = corrected
	}
	d.WindowSeconds = window
	d.refresh = true
	return d
}

func parseSeconds(s string) (int64, bool) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 || n > maxSeconds {
		return 0, false
	}
	return n, true
}

// HasTTL returns true if the descriptor carries a logical TTL.
func (d Descriptor) HasTTL() bool {
	return d.hasTTL
}

// HasRefresh returns true if stale reads should trigger a background refresh.
func (d Descriptor) HasRefresh() bool {
	return d.refresh
}

// TTL returns the logical time-to-live.
func (d Descriptor) TTL() time.Duration {
	return time.Duration(d.TTLSeconds) * time.Second
}

// RefreshAge returns the age past which a read triggers a refresh. It is
// negative when refresh is disabled.
func (d Descriptor) RefreshAge() time.Duration {
	if !d.refresh {
		return -1
	}
	return time.Duration(d.TTLSeconds-d.WindowSeconds) * time.Second
}

// PhysicalTTL returns the TTL applied to stored entries. Zero means the
// descriptor does not set one.
func (d Descriptor) PhysicalTTL() time.Duration {
	if !d.hasTTL {
		return 0
	}
	return time.Duration(d.TTLSeconds+d.WindowSeconds) * time.Second
}

// String returns the canonical form of the descriptor, with any correction
// applied.
func (d Descriptor) String() string {
	switch {
	case d.refresh:
		return d.ID + Separator + strconv.FormatInt(d.TTLSeconds, 10) + Separator + strconv.FormatInt(d.WindowSeconds, 10)
	case d.hasTTL:
		return d.ID + Separator + strconv.FormatInt(d.TTLSeconds, 10)
	}
	return d.ID
}

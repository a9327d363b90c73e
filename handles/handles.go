// Package handles generates the correlation identifiers the runtime hands
// out to plugins and expects echoed back verbatim: RaceHandle values, and
// the fixed-length PackageId prefix used to multiplex framed payloads.
//
// Connection, link and channel ids are never generated here — the plugin
// owns those and the core only ever references them.
package handles

import (
	"crypto/rand"
	"sync/atomic"

	"github.com/google/uuid"
)

// PackageIDLen is the fixed length, in bytes, of the packageId prefixed to
// every multiplexed payload. 8 random bytes, per the external interface
// contract.
const PackageIDLen = 8

// RaceHandle correlates an asynchronous request with its later status
// callback. Always non-zero.
type RaceHandle int64

// ConnectionID, LinkID and ChannelID are owned by the plugin; the core only
// carries them.
type (
	ConnectionID string
	LinkID       string
	ChannelID    string
)

// PackageID is the short random tag prepended to a framed payload.
type PackageID string

// Generator issues non-zero, effectively-unique RaceHandle values, wrapping
// to 1 on overflow of int64 rather than ever emitting zero. One Generator
// belongs to exactly one ApiManager — handles are never a process-wide
// global, per design note "Global mutable singletons".
type Generator struct {
	counter int64
}

// NewGenerator returns a Generator whose first Next() call yields 1.
func NewGenerator() *Generator {
	return &Generator{counter: 0}
}

// Next returns the next RaceHandle, which is always non-zero.
func (g *Generator) Next() RaceHandle {
	for {
		v := atomic.AddInt64(&g.counter, 1)
		if v > 0 {
			return RaceHandle(v)
		}
		// counter wrapped past math.MaxInt64 into negative values; restart
		// from 1. A failed swap means another caller moved the counter
		// first, so draw again.
		if atomic.CompareAndSwapInt64(&g.counter, v, 1) {
			return RaceHandle(1)
		}
	}
}

// NewPackageID generates a fresh, random PackageID of PackageIDLen bytes.
func NewPackageID() PackageID {
	buf := make([]byte, PackageIDLen)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand.Read on the standard reader does not fail in practice;
		// a fallback keeps NewPackageID infallible for callers.
		for i := range buf {
			buf[i] = byte(i + 1)
		}
	}
	return PackageID(buf)
}

// NewTraceID returns a human-diagnostic identifier for log correlation,
// distinct from the RaceHandle used for plugin correlation. Stamped onto
// every Context (corectx.NewBase) so operators can follow one operation
// across logs without confusing it with the sequential, restart-colliding
// RaceHandle space.
func NewTraceID() string {
	return uuid.NewString()
}

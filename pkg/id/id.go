package id

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Source hands out ULIDs. IDs generated within the same millisecond stay
// lexicographically increasing, so trade ids sort in execution order.
type Source struct {
	mu   sync.Mutex
	mono io.Reader
}

// NewSource returns a Source whose entropy is derived from seed.
// A zero seed draws one from crypto/rand.
func NewSource(seed int64) *Source {
	if seed == 0 {
		_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Source{mono: ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)}
}

// At returns a ULID stamped with t.
func (s *Source) At(t time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(t.UTC()), s.mono)
	if err != nil {
		// monotonic entropy overflowed within one millisecond
		panic(err)
	}
	return id.String()
}

// Time extracts the timestamp embedded in a ULID string.
func Time(s string) (time.Time, error) {
	u, err := ulid.ParseStrict(s)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(u.Time()).UTC(), nil
}

package testkit

import (
	"math/rand"
	"time"
)

// RNG provides a deterministic random number generator.
// If seed is 0, it uses the current time.
func RNG(seed int64) *rand.Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}

// RandomBytes returns length bytes drawn from r. Distinct seeds give distinct
// payloads and therefore distinct digests.
func RandomBytes(r *rand.Rand, length int) []byte {
	b := make([]byte, length)
	r.Read(b)
	return b
}

// CompressibleBytes returns a mostly repeating payload for exercising
// transport compression.
func CompressibleBytes(r *rand.Rand, length int) []byte {
	pattern := []byte("sigcas object body, repeated ")
	b := make([]byte, length)
	for i := range b {
		b[i] = pattern[i%len(pattern)]
	}
	for i := 0; i < length/1024; i++ {
		b[r.Intn(length)] = byte(r.Intn(256))
	}
	return b
}

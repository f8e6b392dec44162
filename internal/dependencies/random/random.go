package random

import (
	"math/rand/v2"
	"strings"

	"github.com/google/uuid"
)

// Random provides random number generation that can be mocked for testing
type Random interface {
	// Intn returns a random int in [0, n)
	Intn(n int) int

	// String generates a random string of the given length from the given alphabet
	String(length int, alphabet string) string

	// ID returns a new opaque unique identifier
	ID() string
}

// Source implements Random on the runtime's ChaCha8 generator, which is
// seeded from the operating system
type Source struct{}

// New creates a new Source
func New() *Source {
	return &Source{}
}

// Intn returns a uniform int in [0, n), or 0 when n <= 0
func (Source) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	return rand.IntN(n)
}

// String draws length characters from alphabet. Room codes and guest names
// are short enough that the byte-indexed alphabet is always ASCII.
func (s Source) String(length int, alphabet string) string {
	if length <= 0 || alphabet == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(length)
	for range length {
		b.WriteByte(alphabet[s.Intn(len(alphabet))])
	}
	return b.String()
}

// ID returns a random (version 4) UUID string
func (Source) ID() string {
	return uuid.NewString()
}

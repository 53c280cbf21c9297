package repo

import (
	"crypto/rand"
	"fmt"
	"io"
	mathrand "math/rand"
	"sync"

	"github.com/google/uuid"

	"github.com/kilupskalvis/opvc/internal/models"
)

// ChangeIDGenerator produces random change ids. A seeded generator yields
// the same sequence every run.
type ChangeIDGenerator struct {
	mu  sync.Mutex
	src io.Reader
}

// NewChangeIDGenerator uses seed when non-nil and crypto/rand otherwise.
func NewChangeIDGenerator(seed *int64) *ChangeIDGenerator {
	if seed == nil {
		return &ChangeIDGenerator{src: rand.Reader}
	}
	return &ChangeIDGenerator{src: mathrand.New(mathrand.NewSource(*seed))}
}

// Next returns a fresh change id.
func (g *ChangeIDGenerator) Next() (models.ChangeID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	u, err := uuid.NewRandomFromReader(g.src)
	if err != nil {
		return "", fmt.Errorf("generate change id: %w", err)
	}
	return models.NewChangeID(u[:]), nil
}

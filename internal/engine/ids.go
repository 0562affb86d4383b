package engine

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// IDGenerator produces batch IDs.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator returns time-sortable UUIDv7 batch IDs, so journal rows
// sort by creation time without consulting started_at.
type UUIDv7Generator struct{}

func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator returns predetermined IDs in order. Once the list is
// exhausted it continues with "<last>-N" so long-running tests never panic
// halfway through a batch.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedGenerator creates a generator returning ids in order.
func NewFixedGenerator(ids ...string) *FixedGenerator {
	if len(ids) == 0 {
		ids = []string{"batch"}
	}
	return &FixedGenerator{ids: ids}
}

func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	i := g.idx
	g.idx++
	if i < len(g.ids) {
		return g.ids[i]
	}
	return fmt.Sprintf("%s-%d", g.ids[len(g.ids)-1], i-len(g.ids)+1)
}

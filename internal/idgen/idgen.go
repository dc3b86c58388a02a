// Package idgen issues unique, roughly time-ordered 64-bit identifiers.
//
// An id is laid out as 41 bits of milliseconds since Epoch, 10 bits of node
// id and 12 bits of per-millisecond sequence, so ids issued by one node are
// strictly increasing and ids from different nodes never collide.
package idgen

import (
	"fmt"
	"sync"
	"time"
)

const (
	nodeBits     = 10
	sequenceBits = 12

	maxNode     = 1<<nodeBits - 1
	maxSequence = 1<<sequenceBits - 1

	timeShift = nodeBits + sequenceBits
)

// Epoch is the zero point of the timestamp component (2024-01-01T00:00:00Z).
var Epoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// IDGenerator is implemented by anything that hands out new ids.
type IDGenerator interface {
	NextID() int64
}

type Generator struct {
	mu       sync.Mutex
	node     int64
	lastMs   int64
	sequence int64
	now      func() time.Time
}

func NewGenerator(node int64) (*Generator, error) {
	if node < 0 || node > maxNode {
		return nil, fmt.Errorf("node id %d out of range [0, %d]", node, maxNode)
	}

	return &Generator{
		node: node,
		now:  time.Now,
	}, nil
}

func (g *Generator) NextID() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := g.millis()
	// never go backwards, even if the wall clock does
	if ms < g.lastMs {
		ms = g.lastMs
	}

	if ms == g.lastMs {
		g.sequence = (g.sequence + 1) & maxSequence
		if g.sequence == 0 {
			// sequence exhausted for this millisecond
			for ms <= g.lastMs {
				time.Sleep(100 * time.Microsecond)
				ms = g.millis()
			}
		}
	} else {
		g.sequence = 0
	}

	g.lastMs = ms

	return ms<<timeShift | g.node<<sequenceBits | g.sequence
}

func (g *Generator) millis() int64 {
	return g.now().Sub(Epoch).Milliseconds()
}

// Time returns the instant encoded in id.
func Time(id int64) time.Time {
	return Epoch.Add(time.Duration(id>>timeShift) * time.Millisecond)
}

// Node returns the node component of id.
func Node(id int64) int64 {
	return (id >> sequenceBits) & maxNode
}

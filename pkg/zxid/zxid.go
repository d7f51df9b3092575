package zxid

import (
	"fmt"
	"sync"
)

/*
The ZXID has two parts: the epoch and a counter. It is a 64-bit number with the epoch in the high
order 32 bits and the counter in the low order 32 bits.
The epoch changes with leadership. A new primary takes the epoch of the highest zxid it has seen,
adds one, and starts counting from zero. Inside an epoch the primary simply increments the counter,
so every change gets a unique, increasing zxid.
*/
type ZXID int64

func NewZXID(epoch int32, counter int32) ZXID {
	return ZXID(int64(epoch)<<32 | int64(uint32(counter)))
}

func (z ZXID) GetEpoch() int32 {
	return int32(z >> 32)
}

func (z ZXID) GetCounter() int32 {
	return int32(z & 0xFFFFFFFF)
}

func (z ZXID) String() string {
	return fmt.Sprintf("0x%x(%d,%d)", int64(z), z.GetEpoch(), z.GetCounter())
}

// Generator hands out zxids for one primary term.
type Generator struct {
	mu   *sync.Mutex
	last ZXID
}

// NewGenerator starts a new epoch after the highest zxid seen so far.
func NewGenerator(lastSeen int64) *Generator {
	epoch := ZXID(lastSeen).GetEpoch() + 1
	return &Generator{
		mu:   &sync.Mutex{},
		last: NewZXID(epoch, 0),
	}
}

// Next returns the next zxid of the epoch.
func (g *Generator) Next() (ZXID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.last.GetCounter() == -1 {
		return 0, fmt.Errorf("zxid counter exhausted for epoch %d", g.last.GetEpoch())
	}
	g.last++
	return g.last, nil
}

// Last returns the most recently issued zxid.
func (g *Generator) Last() ZXID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last
}

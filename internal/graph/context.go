package graph

import (
	"sync/atomic"
)

// Context is the exclusive audio-context handle: it owns the sample clock
// and counts live nodes.
type Context struct {
	sampleRate float64
	frame      atomic.Int64
	live       atomic.Int64
}

// NewContext creates a context running at sampleRate frames per second.
func NewContext(sampleRate int) *Context {
	return &Context{sampleRate: float64(sampleRate)}
}

// SampleRate returns the context's sample rate in Hz.
func (c *Context) SampleRate() float64 { return c.sampleRate }

// CurrentTime returns the render position in seconds.
func (c *Context) CurrentTime() float64 {
	return float64(c.frame.Load()) / c.sampleRate
}

// FrameTime returns the time of the frame at offset i from the current position.
func (c *Context) FrameTime(i int) float64 {
	return float64(c.frame.Load()+int64(i)) / c.sampleRate
}

// Advance moves the render position forward by n frames. Only the render
// path calls this, once per rendered block.
func (c *Context) Advance(n int) {
	c.frame.Add(int64(n))
}

// LiveNodes returns the number of nodes created and not yet released.
func (c *Context) LiveNodes() int {
	return int(c.live.Load())
}

// Node is anything allocated from a Context.
type Node interface {
	Release()
	Released() bool
}

type handle struct {
	ctx      *Context
	released atomic.Bool
}

func (h *handle) register(ctx *Context) {
	h.ctx = ctx
	ctx.live.Add(1)
}

// Release frees the node. Calling it more than once is a no-op.
func (h *handle) Release() {
	if h.released.CompareAndSwap(false, true) {
		h.ctx.live.Add(-1)
	}
}

// Released reports whether Release has been called.
func (h *handle) Released() bool {
	return h.released.Load()
}

// Arena owns a set of nodes that are released together.
type Arena struct {
	nodes []Node
}

// Track adds n to the arena and returns it.
func Track[N Node](a *Arena, n N) N {
	a.nodes = append(a.nodes, n)
	return n
}

// Len returns the number of nodes the arena holds.
func (a *Arena) Len() int { return len(a.nodes) }

// Release releases every node in the arena and empties it.
func (a *Arena) Release() int {
	n := len(a.nodes)
	for _, node := range a.nodes {
		node.Release()
	}
	a.nodes = nil
	return n
}

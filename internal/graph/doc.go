// Package graph holds the audio-context primitives the synthesis engine is
// built from: a sample clock, lock-free parameter automation, oscillators,
// noise generators, filters, a stereo panner, a limiter and an analysis tap.
//
// Every node is registered with its Context when created and must be
// released exactly once. Context.LiveNodes reports how many are still held,
// which is how callers prove that a teardown left nothing behind.
//
// Threading: control code creates nodes and schedules Param automation;
// the render path only reads. Nothing in the render path takes a lock that
// control code can hold for longer than a slice copy.
package graph

// File: api/buffer.go
// Package api defines Buffer and BufferPool, the receive-buffer contract
// shared by the message-I/O layers.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// Buffer is a pooled byte slice. The Pool reference lets a Buffer travel
// away from the pool that produced it and still find its way back.
type Buffer struct {
	Data []byte
	NUMA int
	Pool Releaser
}

// Releaser decouples Buffer from the concrete pool type.
type Releaser interface {
	Put(Buffer)
}

// Bytes returns the byte slice backing this Buffer.
func (b Buffer) Bytes() []byte { return b.Data }

// NUMANode returns the NUMA node the buffer was allocated on, or -1 when
// the pool has no placement policy.
func (b Buffer) NUMANode() int { return b.NUMA }

// Copy returns an owned copy of the buffer data, for callers that need the
// bytes to outlive Release.
func (b Buffer) Copy() []byte {
	dup := make([]byte, len(b.Data))
	copy(dup, b.Data)
	return dup
}

// Release returns the buffer to its pool. Safe on a zero Buffer.
func (b Buffer) Release() {
	if b.Pool != nil {
		b.Pool.Put(b)
	}
}

// Capacity returns the capacity of the underlying slice.
func (b Buffer) Capacity() int {
	return cap(b.Data)
}

// BufferPool allocates receive buffers, optionally NUMA-aware.
type BufferPool interface {
	Get(size int, numaPreferred int) Buffer
	Put(b Buffer)
	Stats() BufferPoolStats
}

// BufferPoolStats summarizes pool usage.
type BufferPoolStats struct {
	TotalAlloc int64
	TotalFree  int64
	InUse      int64
}

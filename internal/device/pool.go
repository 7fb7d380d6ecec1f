package device

import "sync"

// SizeClass is a buffer size category of a Pool.
type SizeClass int

const (
	// SmallBuffer for allocations < 4KB.
	SmallBuffer SizeClass = iota
	// MediumBuffer for allocations 4KB-1MB.
	MediumBuffer
	// LargeBuffer for allocations > 1MB.
	LargeBuffer

	numClasses
)

const (
	smallThreshold  = 4 * 1024    // 4KB
	mediumThreshold = 1024 * 1024 // 1MB

	// DefaultPoolLimit is the number of idle buffers kept per size class.
	DefaultPoolLimit = 100
)

// Classify returns the size class of an allocation.
func Classify(size uint64) SizeClass {
	if size < smallThreshold {
		return SmallBuffer
	}
	if size < mediumThreshold {
		return MediumBuffer
	}
	return LargeBuffer
}

type pooled[B any] struct {
	buf      B
	capacity uint64
}

// Pool recycles device allocations of type B, bucketed by size class.
// Idle buffers are reused for requests they can hold.
type Pool[B any] struct {
	create  func(size uint64) (B, error)
	destroy func(B)
	limit   int

	mu   sync.Mutex
	idle [numClasses][]pooled[B]

	hits, misses uint64
}

// NewPool creates a pool. create allocates a fresh buffer, destroy frees one
// that is dropped from the pool. limit bounds the idle buffers per size class;
// zero or less selects DefaultPoolLimit.
func NewPool[B any](create func(size uint64) (B, error), destroy func(B), limit int) *Pool[B] {
	if limit <= 0 {
		limit = DefaultPoolLimit
	}
	return &Pool[B]{create: create, destroy: destroy, limit: limit}
}

// Acquire returns a buffer holding at least size bytes and its real capacity.
func (p *Pool[B]) Acquire(size uint64) (B, uint64, error) {
	p.mu.Lock()
	class := Classify(size)
	bucket := p.idle[class]
	for i, pb := range bucket {
		if pb.capacity >= size {
			p.idle[class] = append(bucket[:i], bucket[i+1:]...)
			p.hits++
			p.mu.Unlock()
			return pb.buf, pb.capacity, nil
		}
	}
	p.misses++
	p.mu.Unlock()

	buf, err := p.create(size)
	if err != nil {
		var zero B
		return zero, 0, err
	}
	return buf, size, nil
}

// Release returns a buffer of the given capacity to the pool, or destroys it
// if its size class is full.
func (p *Pool[B]) Release(buf B, capacity uint64) {
	p.mu.Lock()
	class := Classify(capacity)
	if len(p.idle[class]) >= p.limit {
		p.mu.Unlock()
		p.destroy(buf)
		return
	}
	p.idle[class] = append(p.idle[class], pooled[B]{buf: buf, capacity: capacity})
	p.mu.Unlock()
}

// Clear destroys every idle buffer.
func (p *Pool[B]) Clear() {
	p.mu.Lock()
	var drop []B
	for class := range p.idle {
		for _, pb := range p.idle[class] {
			drop = append(drop, pb.buf)
		}
		p.idle[class] = nil
	}
	p.mu.Unlock()

	for _, buf := range drop {
		p.destroy(buf)
	}
}

// Stats returns hit and miss counts and the number of idle buffers.
func (p *Pool[B]) Stats() (hits, misses uint64, idle int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for class := range p.idle {
		idle += len(p.idle[class])
	}
	return p.hits, p.misses, idle
}

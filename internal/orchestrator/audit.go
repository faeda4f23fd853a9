package orchestrator

import "sync"

// DefaultAuditCapacity is the number of decisions kept in memory.
const DefaultAuditCapacity = 1000

// AuditLog is a bounded ring of decisions. Every appended decision gets a
// monotonically increasing Seq starting at 1; evictions are counted.
type AuditLog struct {
	mu      sync.RWMutex
	buf     []Decision
	start   int
	size    int
	nextSeq uint64
	evicted uint64
}

// NewAuditLog creates a ring of the given capacity.
func NewAuditLog(capacity int) *AuditLog {
	if capacity <= 0 {
		capacity = DefaultAuditCapacity
	}
	return &AuditLog{buf: make([]Decision, capacity), nextSeq: 1}
}

// Append stores d, assigning its Seq, and returns the stored copy.
func (l *AuditLog) Append(d Decision) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	d.Seq = l.nextSeq
	l.nextSeq++
	l.put(d)
	return d
}

func (l *AuditLog) put(d Decision) {
	capacity := len(l.buf)
	if l.size < capacity {
		l.buf[(l.start+l.size)%capacity] = d
		l.size++
		return
	}
	l.buf[l.start] = d
	l.start = (l.start + 1) % capacity
	l.evicted++
}

// Restore loads previously persisted decisions, oldest first. Seq values
// are kept and the next Seq continues after the highest one seen.
func (l *AuditLog) Restore(entries []Decision) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, d := range entries {
		l.put(d)
		if d.Seq >= l.nextSeq {
			l.nextSeq = d.Seq + 1
		}
	}
}

// Since returns retained decisions with Seq >= seq, oldest first, and how
// many decisions in that range were already evicted.
func (l *AuditLog) Since(seq uint64) ([]Decision, uint64) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if seq == 0 {
		seq = 1
	}
	oldest := l.nextSeq
	if l.size > 0 {
		oldest = l.buf[l.start].Seq
	}
	var dropped uint64
	if seq < oldest {
		dropped = oldest - seq
	}

	out := make([]Decision, 0, l.size)
	for i := 0; i < l.size; i++ {
		d := l.buf[(l.start+i)%len(l.buf)]
		if d.Seq >= seq {
			out = append(out, d)
		}
	}
	return out, dropped
}

// Last returns up to n most recent decisions, oldest first.
func (l *AuditLog) Last(n int) []Decision {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n <= 0 || n > l.size {
		n = l.size
	}
	out := make([]Decision, 0, n)
	for i := l.size - n; i < l.size; i++ {
		out = append(out, l.buf[(l.start+i)%len(l.buf)])
	}
	return out
}

// Len returns the number of retained decisions.
func (l *AuditLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.size
}

// Evicted returns the number of decisions dropped from the ring.
func (l *AuditLog) Evicted() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.evicted
}

// Capacity returns the ring size.
func (l *AuditLog) Capacity() int { return len(l.buf) }

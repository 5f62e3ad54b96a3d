package mapper

// Operational store capacity bounds, enforced by the config layer. The
// default keeps a full room scan at typical sample rates; small capacities
// suit constrained displays.
const (
	MinStoreCapacity     = 2000
	MaxStoreCapacity     = 150000
	DefaultStoreCapacity = 150000
)

// PointStore is a fixed-capacity ring buffer of points with strict FIFO
// eviction: inserting into a full store drops the oldest point. Insertion
// order is preserved and is the eviction order.
//
// PointStore is not safe for concurrent use. The pipeline scheduler is the
// sole writer; all other consumers read through Snapshot copies.
type PointStore struct {
	buf  []Point
	head int // index of oldest point
	size int
}

// NewPointStore allocates a store with the given capacity. Zero or negative
// capacity selects the default.
func NewPointStore(capacity int) *PointStore {
	if capacity <= 0 {
		capacity = DefaultStoreCapacity
	}
	return &PointStore{buf: make([]Point, capacity)}
}

// Cap returns the store capacity.
func (s *PointStore) Cap() int { return len(s.buf) }

// Len returns the number of stored points. Always <= Cap.
func (s *PointStore) Len() int { return s.size }

// Insert appends one point, evicting the oldest point when full.
func (s *PointStore) Insert(p Point) {
	tail := (s.head + s.size) % len(s.buf)
	s.buf[tail] = p
	if s.size < len(s.buf) {
		s.size++
	} else {
		// Full: the slot we just wrote was the oldest point.
		s.head = (s.head + 1) % len(s.buf)
	}
}

// InsertBatch appends points in order. Each insertion is independently
// eligible for eviction, so a batch larger than the remaining capacity
// evicts points from earlier batches; recency, not batch boundaries,
// governs retention.
func (s *PointStore) InsertBatch(batch Batch) {
	for _, p := range batch {
		s.Insert(p)
	}
}

// Snapshot returns a copy of the stored points in insertion order. The copy
// is safe to hold and read from other goroutines across scheduler ticks.
func (s *PointStore) Snapshot() []Point {
	out := make([]Point, s.size)
	n := copy(out, s.buf[s.head:min(s.head+s.size, len(s.buf))])
	copy(out[n:], s.buf[:s.size-n])
	return out
}

// Clear empties the store.
func (s *PointStore) Clear() {
	s.head = 0
	s.size = 0
}

// Refilter drops stored points that no longer pass the filter, preserving
// the order of the survivors. This makes filter changes retroactive without
// re-scanning: the operator narrows the view and the history shrinks to
// match. Returns the number of points removed.
func (s *PointStore) Refilter(cfg FilterConfig) int {
	kept := s.Snapshot()
	s.Clear()
	removed := 0
	for _, p := range kept {
		if cfg.Accepts(p) {
			s.Insert(p)
		} else {
			removed++
		}
	}
	return removed
}

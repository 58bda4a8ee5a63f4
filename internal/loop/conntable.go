package loop

import "sync"

// ConnTable hands out generation-checked weak references to Conns. A
// Request outlives the handling of the frame that produced it by the time
// it reaches a broker worker goroutine, and the underlying connection may
// have already been torn down by the time the worker gets to reply; a
// ConnRef lets the worker discover that instead of writing to a dead or,
// worse, reused slot.
type ConnTable struct {
	mu    sync.Mutex
	slots []connSlot
	free  []int
}

type connSlot struct {
	conn *Conn
	gen  uint64
}

// ConnRef is a weak reference into a ConnTable: a slot index plus the
// generation it was issued for. Get fails once the slot has been Removed
// and, possibly, reused by a later Insert.
type ConnRef struct {
	table *ConnTable
	slot  int
	gen   uint64
}

// NewConnTable returns an empty table.
func NewConnTable() *ConnTable {
	return &ConnTable{}
}

// Insert registers c and returns a reference to it, reusing a freed slot
// (whose generation Remove has already bumped) when one is available.
func (t *ConnTable) Insert(c *Conn) ConnRef {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n := len(t.free); n > 0 {
		idx := t.free[n-1]
		t.free = t.free[:n-1]
		t.slots[idx].conn = c
		return ConnRef{table: t, slot: idx, gen: t.slots[idx].gen}
	}

	t.slots = append(t.slots, connSlot{conn: c})
	return ConnRef{table: t, slot: len(t.slots) - 1, gen: 0}
}

// Remove invalidates ref's slot and frees it for reuse by a later Insert.
// It is a no-op if ref is already stale.
func (t *ConnTable) Remove(ref ConnRef) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ref.slot >= len(t.slots) || t.slots[ref.slot].gen != ref.gen {
		return
	}
	t.slots[ref.slot].conn = nil
	t.slots[ref.slot].gen++
	t.free = append(t.free, ref.slot)
}

// Get resolves the reference, returning (nil, false) if the slot has since
// been removed or reused for a different connection.
func (r ConnRef) Get() (*Conn, bool) {
	r.table.mu.Lock()
	defer r.table.mu.Unlock()

	if r.slot >= len(r.table.slots) {
		return nil, false
	}
	slot := r.table.slots[r.slot]
	if slot.gen != r.gen || slot.conn == nil {
		return nil, false
	}
	return slot.conn, true
}

package rediscluster

import "strconv"

// SlotMap is a dense mapping from slot index (0..16383) to a
// non-empty ordered list of endpoint keys, primary first (spec §3,
// SlotMap). Owned by the Controller's executor; no internal locking.
type SlotMap struct {
	slots [TotalSlots][]string
}

func newSlotMap() *SlotMap {
	return &SlotMap{}
}

// Get returns the ordered endpoint-key list for slot, or nil if
// unmapped.
func (m *SlotMap) Get(slot int) []string {
	if slot < 0 || slot >= TotalSlots {
		return nil
	}
	return m.slots[slot]
}

// SetRange writes keys to every slot in [start, end]. A later
// SetRange call wins over an earlier overlapping one (spec §4.B).
func (m *SlotMap) SetRange(start, end int, keys []string) {
	for i := start; i <= end && i < TotalSlots; i++ {
		m.slots[i] = keys
	}
}

// SetPrimary overwrites only the primary (index 0) of slot's key
// list, used by the MOVED handler's eager local update (spec §4.E.1).
// If the slot is not yet mapped, a single-element list is created.
func (m *SlotMap) SetPrimary(slot int, key string) {
	if slot < 0 || slot >= TotalSlots {
		return
	}
	cur := m.slots[slot]
	if len(cur) == 0 {
		m.slots[slot] = []string{key}
		return
	}
	next := make([]string, len(cur))
	copy(next, cur)
	next[0] = key
	m.slots[slot] = next
}

// ReplaceAll swaps the whole table atomically with respect to any
// other executor-owned operation (the executor already serializes
// this; ReplaceAll just expresses the intent of "one refresh, one
// write").
func (m *SlotMap) ReplaceAll(ranges map[[2]int][]string) {
	var fresh [TotalSlots][]string
	for r, keys := range ranges {
		for i := r[0]; i <= r[1] && i < TotalSlots; i++ {
			fresh[i] = keys
		}
	}
	m.slots = fresh
}

// VerboseSlotMapping returns a human-readable dump of the current
// table, grounded on the teacher's ClusterPool.VerbosSlotMapping.
func (m *SlotMap) VerboseSlotMapping() string {
	var b []byte
	start := -1
	var prev []string
	flush := func(end int) {
		if start < 0 {
			return
		}
		b = append(b, []byte(formatRange(start, end, prev))...)
	}
	for i := 0; i < TotalSlots; i++ {
		cur := m.slots[i]
		if !sameKeys(cur, prev) {
			flush(i - 1)
			start = i
			prev = cur
		}
	}
	flush(TotalSlots - 1)
	return string(b)
}

func sameKeys(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func formatRange(start, end int, keys []string) string {
	if len(keys) == 0 {
		return ""
	}
	s := "slots " + strconv.Itoa(start) + "-" + strconv.Itoa(end) + ": "
	for i, k := range keys {
		if i > 0 {
			s += ", "
		}
		if i == 0 {
			s += k + " (master)"
		} else {
			s += k
		}
	}
	return s + "\n"
}

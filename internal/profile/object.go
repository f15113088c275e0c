package profile

import (
	"sort"

	"github.com/arthurfait/perfgrind/internal/addrspace"
)

type (
	// SymbolData is what the profile knows about one function symbol.
	SymbolData struct {
		Name string `json:"name"`
	}

	// Symbol is a resolved function symbol over a runtime address range.
	Symbol struct {
		Range addrspace.Range
		Name  string
	}

	// EntryData accumulates hits for one sampled instruction address
	// within one memory object, plus the outgoing branches observed
	// from that address.
	EntryData struct {
		Count    uint64
		Branches map[uint64]uint64
	}

	// MemoryObjectData describes one loaded image and the entries
	// attributed to it. PageOffset is recorded from the mmap record
	// but not used for address arithmetic.
	MemoryObjectData struct {
		FileName   string
		PageOffset uint64
		Entries    map[uint64]*EntryData
	}
)

func newMemoryObjectData(fileName string, pageOffset uint64) *MemoryObjectData {
	return &MemoryObjectData{
		FileName:   fileName,
		PageOffset: pageOffset,
		Entries:    make(map[uint64]*EntryData),
	}
}

func (e *EntryData) appendBranch(address, count uint64) {
	if e.Branches == nil {
		e.Branches = make(map[uint64]uint64)
	}
	e.Branches[address] += count
}

func (d *MemoryObjectData) appendEntry(address, count uint64) *EntryData {
	entry, ok := d.Entries[address]
	if !ok {
		entry = &EntryData{}
		d.Entries[address] = entry
	}
	entry.Count += count
	return entry
}

func (d *MemoryObjectData) appendBranch(from, to, count uint64) {
	// The "from" address was seen as a caller frame, not as a sampled
	// hit, hence the zero count.
	d.appendEntry(from, 0).appendBranch(to, count)
}

// SortedAddresses returns the entry addresses in ascending order.
func (d *MemoryObjectData) SortedAddresses() []uint64 {
	addrs := make([]uint64, 0, len(d.Entries))
	for addr := range d.Entries {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	return addrs
}

// fixupBranches rewrites every branch target to the first address of
// the function containing it, so edges into the same callee can be
// grouped. Weights of targets that collide after rewriting are summed.
func (d *MemoryObjectData) fixupBranches(symbols *addrspace.RangeMap[SymbolData]) {
	for _, entry := range d.Entries {
		if len(entry.Branches) == 0 {
			continue
		}
		fixed := make(map[uint64]uint64, len(entry.Branches))
		for target, count := range entry.Branches {
			if rng, _, ok := symbols.Find(target); ok {
				fixed[rng.Start] += count
			} else {
				fixed[target] += count
			}
		}
		entry.Branches = fixed
	}
}

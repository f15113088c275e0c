package profile

import (
	"errors"
	"io"

	"github.com/rs/zerolog/log"

	"github.com/arthurfait/perfgrind/internal/addrspace"
	"github.com/arthurfait/perfgrind/internal/perfevent"
)

// Mode selects how much of each sample is aggregated.
type Mode int

const (
	// Flat aggregates instruction-pointer hits only.
	Flat Mode = iota
	// CallGraph additionally aggregates caller->callee edges from the
	// sample call chains.
	CallGraph
)

// Profile aggregates a perf record stream into per-object entry and
// branch counts, keyed by runtime address ranges. It is not reentrant:
// one Load at a time.
type Profile struct {
	objects addrspace.RangeMap[*MemoryObjectData]
	symbols addrspace.RangeMap[SymbolData]

	mmapEventCount   uint64
	goodSamplesCount uint64
	badSamplesCount  uint64
}

func New() *Profile {
	return &Profile{}
}

// Load consumes events from the stream until end-of-stream or a read
// failure, then drops memory objects that accumulated no entries.
// The profile stays valid and partially populated on failure.
func (p *Profile) Load(r io.Reader, mode Mode) error {
	reader := perfevent.NewReader(r)
	var err error
	for {
		var record perfevent.Record
		record, err = reader.Next()
		if err != nil {
			break
		}
		switch event := record.(type) {
		case perfevent.Mmap:
			p.processMmapEvent(event)
		case perfevent.Sample:
			p.processSampleEvent(event, mode)
		}
	}
	p.dropEmptyObjects()
	if errors.Is(err, io.EOF) {
		return nil
	}
	log.Debug().Err(err).Msg("event stream terminated early")
	return err
}

func (p *Profile) processMmapEvent(event perfevent.Mmap) {
	rng := addrspace.NewRange(event.Address, event.Address+event.Length)
	data := newMemoryObjectData(event.FileName, event.PageOffset)
	if existing, existingData, ok := p.objects.Insert(rng, data); !ok {
		// First insertion wins.
		log.Debug().
			Stringer("range", rng).
			Str("file", event.FileName).
			Stringer("existing_range", existing).
			Str("existing_file", existingData.FileName).
			Msg("memory object was not inserted")
	}
	p.mmapEventCount++
}

func (p *Profile) processSampleEvent(event perfevent.Sample, mode Mode) {
	depth := uint64(len(event.Callchain))
	if depth < 2 || depth > perfevent.MaxStackDepth || event.Callchain[0] != perfevent.ContextUser {
		p.badSamplesCount++
		return
	}

	_, object, ok := p.objects.Find(event.IP)
	if !ok {
		p.badSamplesCount++
		return
	}

	object.appendEntry(event.IP, 1)
	p.goodSamplesCount++

	if mode != CallGraph {
		return
	}

	skipFrame := false
	callTo := event.IP
	for i := uint64(2); i < depth; i++ {
		callFrom := event.Callchain[i]
		if perfevent.IsContextMarker(callFrom) {
			// Context switch, and we want only user level.
			skipFrame = callFrom != perfevent.ContextUser
			continue
		}
		if skipFrame || callFrom == callTo {
			continue
		}

		_, object, ok = p.objects.Find(callFrom)
		if !ok {
			continue
		}
		object.appendBranch(callFrom, callTo, 1)

		callTo = callFrom
	}
}

func (p *Profile) dropEmptyObjects() {
	var empty []addrspace.Range
	p.objects.Each(func(r addrspace.Range, data *MemoryObjectData) bool {
		if len(data.Entries) == 0 {
			empty = append(empty, r)
		}
		return true
	})
	for _, r := range empty {
		p.objects.Delete(r)
	}
}

// Symbolizer resolves the symbols covering a set of sampled addresses
// within one memory object mapped at loadBase.
type Symbolizer interface {
	Resolve(addrs []uint64, loadBase uint64) []Symbol
}

// OpenSymbolizerFunc builds a symbolizer for one object file.
type OpenSymbolizerFunc func(fileName string, objectSize uint64) (Symbolizer, error)

// Symbolize resolves symbols for every remaining memory object and
// merges them into the profile's symbol map. It must run after Load
// and before FixupBranches.
func (p *Profile) Symbolize(open OpenSymbolizerFunc) {
	p.objects.Each(func(r addrspace.Range, data *MemoryObjectData) bool {
		symbolizer, err := open(data.FileName, r.Length())
		if err != nil {
			log.Debug().Err(err).Str("file", data.FileName).Msg("can't open symbolizer")
			return true
		}
		for _, symbol := range symbolizer.Resolve(data.SortedAddresses(), r.Start) {
			p.AddSymbol(symbol)
		}
		return true
	})
}

// AddSymbol merges one resolved symbol into the global symbol map.
// The first symbol inserted for a range wins.
func (p *Profile) AddSymbol(symbol Symbol) {
	p.symbols.Insert(symbol.Range, SymbolData{Name: symbol.Name})
}

// FixupBranches normalizes every branch target to the start address of
// its enclosing symbol. Requires the symbol map to be complete, i.e.
// Symbolize must have run.
func (p *Profile) FixupBranches() {
	p.objects.Each(func(_ addrspace.Range, data *MemoryObjectData) bool {
		data.fixupBranches(&p.symbols)
		return true
	})
}

func (p *Profile) MemoryObjects() *addrspace.RangeMap[*MemoryObjectData] {
	return &p.objects
}

func (p *Profile) Symbols() *addrspace.RangeMap[SymbolData] {
	return &p.symbols
}

func (p *Profile) MmapEventCount() uint64 {
	return p.mmapEventCount
}

func (p *Profile) GoodSamplesCount() uint64 {
	return p.goodSamplesCount
}

func (p *Profile) BadSamplesCount() uint64 {
	return p.badSamplesCount
}

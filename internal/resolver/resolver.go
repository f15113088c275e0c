package resolver

import (
	"debug/elf"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/ianlancetaylor/demangle"
	"github.com/rs/zerolog/log"

	"github.com/arthurfait/perfgrind/internal/addrspace"
	"github.com/arthurfait/perfgrind/internal/errorutil"
	"github.com/arthurfait/perfgrind/internal/profile"
)

// debugFileRoot is where distributions install detached debug symbol
// files, keyed by the path of the stripped binary. Variable so tests
// can point it at a fixture tree.
var debugFileRoot = "/usr/lib/debug"

// symbolData is the per-symbol state tracked while parsing the object
// file. A zero size denotes an assembly label which is later stretched
// to cover the gap to the next symbol. An empty name denotes a
// synthesized gap symbol, named func_<hex start> at resolve time.
type symbolData struct {
	name    string
	size    uint64
	binding elf.SymBind
}

// strongerThan orders colliding symbols: a sized function beats an
// assembly label, then the higher binding wins.
func (d symbolData) strongerThan(o symbolData) bool {
	if (d.size > 0) != (o.size > 0) {
		return d.size > 0
	}
	return d.binding > o.binding
}

// Resolver maps addresses inside one executable object file to
// function symbols. It is built once per file, produces symbols in the
// file's base coordinate system, and holds no file handles afterwards.
type Resolver struct {
	fileName   string
	objectSize uint64

	// base is the virtual address of the first LOAD segment of the
	// file on disk; origBase is the same address before a prelink
	// rewrite, recovered from .gnu.prelink_undo when present.
	base     uint64
	origBase uint64

	hasDebugInfo bool

	symbols addrspace.RangeMap[symbolData]
}

// New parses the object file's symbol metadata. It fails only when
// the file cannot be opened; an object without a usable symbol table
// still gets the synthetic coverage from the fake-symbol pass.
func New(fileName string, objectSize uint64) (*Resolver, error) {
	f, err := elf.Open(fileName)
	if err != nil {
		return nil, fmt.Errorf("open object file: %w", err)
	}
	defer f.Close()

	r := &Resolver{fileName: fileName, objectSize: objectSize}
	r.base = firstLoadAddress(f)
	r.origBase = r.base

	symTab := sectionByType(f, elf.SHT_SYMTAB)
	dynSym := sectionByType(f, elf.SHT_DYNSYM)
	debugLink := f.Section(".gnu_debuglink")
	prelinkUndo := f.Section(".gnu.prelink_undo")
	r.hasDebugInfo = f.Section(".debug_info") != nil

	symTabLoaded := false
	var loadErr error
	switch {
	case symTab != nil:
		loadErr = r.loadSymbols(f, elf.SHT_SYMTAB)
		symTabLoaded = loadErr == nil
	case dynSym != nil:
		loadErr = r.loadSymbols(f, elf.SHT_DYNSYM)
	default:
		loadErr = errorutil.ErrNoSymbols
	}
	if loadErr != nil {
		log.Debug().Err(loadErr).Str("file", fileName).Msg("no usable symbols in object file")
	}

	if prelinkUndo != nil && debugLink != nil {
		if data, err := prelinkUndo.Data(); err != nil {
			log.Debug().Err(err).Str("file", fileName).Msg("can't read prelink undo section")
		} else if origBase, err := parsePrelinkUndo(data, f.ByteOrder); err != nil {
			log.Debug().Err(err).Str("file", fileName).Msg("can't parse prelink undo section")
		} else {
			r.origBase = origBase
		}
	}

	if debugLink != nil && !symTabLoaded {
		// The hard-coded debug root mirrors the conventional layout;
		// the debug link payload name and CRC are not consulted.
		debugFileName := debugFileRoot + fileName + ".debug"
		if df, err := elf.Open(debugFileName); err != nil {
			log.Debug().Err(err).Str("file", debugFileName).Msg("can't open debug companion")
		} else {
			if err := r.loadSymbols(df, elf.SHT_SYMTAB); err != nil {
				log.Debug().Err(err).Str("file", debugFileName).Msg("can't load debug companion symbols")
			}
			df.Close()
		}
	}

	r.constructFakeSymbols(filepath.Base(fileName))
	return r, nil
}

// Resolve maps the sorted sampled addresses of one memory object,
// mapped at loadBase, to symbols shifted into runtime coordinates.
// Consecutive addresses falling inside one symbol range coalesce into
// a single emission.
func (r *Resolver) Resolve(addrs []uint64, loadBase uint64) []profile.Symbol {
	adjust := loadBase - r.base
	var out []profile.Symbol
	for i := 0; i < len(addrs); {
		addr := addrs[i] - adjust
		rng, data, ok := r.symbols.Find(addr)
		if !ok {
			log.Debug().
				Uint64("address", addr).
				Uint64("load_base", loadBase).
				Str("file", r.fileName).
				Msg("can't resolve symbol for address")
			i++
			continue
		}
		name := data.name
		if name == "" {
			name = fakeSymbolName(rng.Start)
		}
		out = append(out, profile.Symbol{
			Range: addrspace.NewRange(rng.Start+adjust, rng.End+adjust),
			Name:  name,
		})
		for i++; i < len(addrs) && addrs[i]-adjust < rng.End; i++ {
		}
	}
	return out
}

// HasDebugInfo reports whether the object carries a .debug_info
// section. Source-line resolution is not implemented; the section is
// only located.
func (r *Resolver) HasDebugInfo() bool {
	return r.hasDebugInfo
}

// loadSymbols replaces the symbol set with the function symbols of one
// table. It reports errorutil.ErrNoSymbols when the table is absent or
// holds no function symbols; an absent table leaves the previous set
// intact.
func (r *Resolver) loadSymbols(f *elf.File, typ elf.SectionType) error {
	var (
		syms []elf.Symbol
		err  error
	)
	if typ == elf.SHT_SYMTAB {
		syms, err = f.Symbols()
	} else {
		syms, err = f.DynamicSymbols()
	}
	if err != nil {
		if errors.Is(err, elf.ErrNoSymbols) {
			return errorutil.ErrNoSymbols
		}
		return err
	}

	r.symbols = addrspace.RangeMap[symbolData]{}
	loaded := 0
	for _, sym := range syms {
		if elf.ST_TYPE(sym.Info) != elf.STT_FUNC || sym.Section == elf.SHN_UNDEF {
			continue
		}
		data := symbolData{
			name:    demangle.Filter(sym.Name),
			size:    sym.Size,
			binding: elf.ST_BIND(sym.Info),
		}
		r.insertSymbol(r.symbolRange(sym.Value, sym.Size), data)
		loaded++
	}
	if loaded == 0 {
		return errorutil.ErrNoSymbols
	}
	return nil
}

// symbolRange normalizes a file-encoded symbol value into the current
// file's base coordinate system. When the file was prelinked, the
// encoded value is relative to the original base recovered from
// .gnu.prelink_undo. Zero-sized symbols get a one-byte range until the
// fake-symbol pass stretches them.
func (r *Resolver) symbolRange(value, size uint64) addrspace.Range {
	start := value - r.origBase + r.base
	end := start + size
	if size == 0 {
		end = start + 1
	}
	return addrspace.NewRange(start, end)
}

// insertSymbol applies the collision policy: when several names alias
// one address range, the stronger (sized, higher-binding) symbol
// survives.
func (r *Resolver) insertSymbol(rng addrspace.Range, data symbolData) {
	existingRange, existing, ok := r.symbols.Insert(rng, data)
	if ok {
		return
	}
	if data.strongerThan(existing) {
		r.symbols.Delete(existingRange)
		r.symbols.Insert(rng, data)
	}
}

// constructFakeSymbols post-processes the parsed symbols so that the
// whole [base, base+objectSize) interval is covered: gaps of four
// bytes or more get a synthetic nameless symbol, and zero-sized
// assembly labels are stretched to the start of the next symbol and
// tagged with the file's base name.
func (r *Resolver) constructFakeSymbols(baseName string) {
	var out addrspace.RangeMap[symbolData]
	prevEnd := r.base
	n := r.symbols.Len()
	for i := 0; i < n; i++ {
		rng, data := r.symbols.At(i)
		if rng.Start >= prevEnd+4 {
			out.Insert(addrspace.NewRange(prevEnd, rng.Start), symbolData{size: rng.Start - prevEnd})
		}
		if data.size == 0 {
			end := r.base + r.objectSize
			if i+1 < n {
				next, _ := r.symbols.At(i + 1)
				end = next.Start
			}
			if end <= rng.Start {
				end = rng.Start + 1
			}
			expanded := symbolData{
				name: data.name + "@" + baseName,
				size: end - rng.Start,
			}
			out.Insert(addrspace.NewRange(rng.Start, end), expanded)
			prevEnd = end
		} else {
			out.Insert(rng, data)
			prevEnd = rng.End
		}
	}
	if r.base+r.objectSize >= prevEnd+4 {
		out.Insert(addrspace.NewRange(prevEnd, r.base+r.objectSize),
			symbolData{size: r.base + r.objectSize - prevEnd})
	}
	r.symbols = out
}

func fakeSymbolName(address uint64) string {
	return fmt.Sprintf("func_%x", address)
}

func firstLoadAddress(f *elf.File) uint64 {
	for _, prog := range f.Progs {
		if prog.Type == elf.PT_LOAD {
			return prog.Vaddr
		}
	}
	return 0
}

func sectionByType(f *elf.File, typ elf.SectionType) *elf.Section {
	for _, section := range f.Sections {
		if section.Type == typ {
			return section
		}
	}
	return nil
}

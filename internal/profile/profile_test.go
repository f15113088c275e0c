package profile

import (
	"bytes"
	"testing"

	"github.com/arthurfait/perfgrind/internal/addrspace"
	"github.com/arthurfait/perfgrind/internal/perfevent"
	"github.com/arthurfait/perfgrind/internal/testutil"
)

func appendMmap(stream []byte, address, length uint64, fileName string) []byte {
	return testutil.AppendMmapRecord(stream, perfevent.RecordTypeMmap, address, length, 0, fileName)
}

func appendSample(stream []byte, ip uint64, callchain []uint64) []byte {
	return testutil.AppendSampleRecord(stream, perfevent.RecordTypeSample, ip, callchain)
}

func load(t *testing.T, stream []byte, mode Mode) *Profile {
	t.Helper()
	p := New()
	if err := p.Load(bytes.NewReader(stream), mode); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return p
}

func TestLoadSingleHit(t *testing.T) {
	var stream []byte
	stream = appendMmap(stream, 0x1000, 0x1000, "a.out")
	stream = appendSample(stream, 0x1120, []uint64{perfevent.ContextUser, 0x1120})

	p := load(t, stream, Flat)

	if p.MmapEventCount() != 1 || p.GoodSamplesCount() != 1 || p.BadSamplesCount() != 0 {
		t.Fatalf("counters: mmap %d good %d bad %d, want 1 1 0",
			p.MmapEventCount(), p.GoodSamplesCount(), p.BadSamplesCount())
	}

	rng, object, ok := p.MemoryObjects().Find(0x1120)
	if !ok {
		t.Fatal("sampled address not attributed to the object")
	}
	if rng != addrspace.NewRange(0x1000, 0x2000) || object.FileName != "a.out" {
		t.Fatalf("object: got %v %q", rng, object.FileName)
	}
	want := map[uint64]*EntryData{0x1120: {Count: 1}}
	if diff := testutil.Diff(want, object.Entries); diff != "" {
		t.Fatalf("Entries mismatch: %v", diff)
	}
}

func TestSampleValidation(t *testing.T) {
	longChain := make([]uint64, perfevent.MaxStackDepth+1)
	longChain[0] = perfevent.ContextUser
	for i := 1; i < len(longChain); i++ {
		longChain[i] = 0x1100 + uint64(i)
	}

	tests := []struct {
		name      string
		ip        uint64
		callchain []uint64
		wantGood  uint64
		wantBad   uint64
	}{
		{
			name:      "valid sample",
			ip:        0x1500,
			callchain: []uint64{perfevent.ContextUser, 0x1500},
			wantGood:  1,
		},
		{
			name:      "first entry is not the user context marker",
			ip:        0x1500,
			callchain: []uint64{0x1500, 0x1500},
			wantBad:   1,
		},
		{
			name:      "callchain too short",
			ip:        0x1500,
			callchain: []uint64{perfevent.ContextUser},
			wantBad:   1,
		},
		{
			name:      "callchain too deep",
			ip:        0x1500,
			callchain: longChain,
			wantBad:   1,
		},
		{
			name:      "instruction pointer outside any object",
			ip:        0x9000,
			callchain: []uint64{perfevent.ContextUser, 0x9000},
			wantBad:   1,
		},
		{
			name:      "instruction pointer at the last byte of the object",
			ip:        0x1fff,
			callchain: []uint64{perfevent.ContextUser, 0x1fff},
			wantGood:  1,
		},
		{
			name:      "instruction pointer one past the object",
			ip:        0x2000,
			callchain: []uint64{perfevent.ContextUser, 0x2000},
			wantBad:   1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stream []byte
			stream = appendMmap(stream, 0x1000, 0x1000, "a.out")
			stream = appendSample(stream, tt.ip, tt.callchain)

			p := load(t, stream, Flat)

			if p.GoodSamplesCount() != tt.wantGood || p.BadSamplesCount() != tt.wantBad {
				t.Fatalf("counters: good %d bad %d, want %d %d",
					p.GoodSamplesCount(), p.BadSamplesCount(), tt.wantGood, tt.wantBad)
			}
			if got := p.GoodSamplesCount() + p.BadSamplesCount(); got != 1 {
				t.Fatalf("good + bad = %d, want the number of sample records", got)
			}
		})
	}
}

func TestMmapFirstInsertionWins(t *testing.T) {
	var stream []byte
	stream = appendMmap(stream, 0x1000, 0x1000, "first")
	stream = appendMmap(stream, 0x1800, 0x1000, "second")
	stream = appendSample(stream, 0x1100, []uint64{perfevent.ContextUser, 0x1100})

	p := load(t, stream, Flat)

	if p.MmapEventCount() != 2 {
		t.Fatalf("mmap event count: got %d, want 2", p.MmapEventCount())
	}
	_, object, ok := p.MemoryObjects().Find(0x1100)
	if !ok || object.FileName != "first" {
		t.Fatalf("object at %#x: got %+v, want the first mapping", 0x1100, object)
	}
}

func TestDropEmptyObjects(t *testing.T) {
	var stream []byte
	stream = appendMmap(stream, 0x1000, 0x1000, "hit")
	stream = appendMmap(stream, 0x5000, 0x1000, "never-sampled")
	stream = appendSample(stream, 0x1100, []uint64{perfevent.ContextUser, 0x1100})

	p := load(t, stream, Flat)

	if p.MemoryObjects().Len() != 1 {
		t.Fatalf("object count after load: got %d, want 1", p.MemoryObjects().Len())
	}
	if _, _, ok := p.MemoryObjects().Find(0x5100); ok {
		t.Fatal("entry-less object survived the load")
	}
}

func TestCallGraphWalk(t *testing.T) {
	kernelMarker := perfevent.ContextMax + 1

	var stream []byte
	stream = appendMmap(stream, 0x1000, 0x1000, "a.out")
	stream = appendMmap(stream, 0x4000, 0x1000, "libfoo.so")
	// Frame layout: marker, ip, caller frames. The kernel-context
	// frame 0x4444 must be skipped, 0x7777 is unmapped, and the
	// repeated 0x1108 must not produce a self edge.
	stream = appendSample(stream, 0x1108, []uint64{
		perfevent.ContextUser,
		0x1108,
		0x1108,
		0x1900,
		kernelMarker,
		0x4444,
		perfevent.ContextUser,
		0x7777,
		0x4100,
	})

	p := load(t, stream, CallGraph)

	if p.GoodSamplesCount() != 1 || p.BadSamplesCount() != 0 {
		t.Fatalf("counters: good %d bad %d", p.GoodSamplesCount(), p.BadSamplesCount())
	}

	_, aout, ok := p.MemoryObjects().Find(0x1108)
	if !ok {
		t.Fatal("a.out object missing")
	}
	wantAout := map[uint64]*EntryData{
		0x1108: {Count: 1},
		0x1900: {Count: 0, Branches: map[uint64]uint64{0x1108: 1}},
	}
	if diff := testutil.Diff(wantAout, aout.Entries); diff != "" {
		t.Fatalf("a.out entries mismatch: %v", diff)
	}

	_, libfoo, ok := p.MemoryObjects().Find(0x4100)
	if !ok {
		t.Fatal("libfoo.so object missing")
	}
	wantLibfoo := map[uint64]*EntryData{
		0x4100: {Count: 0, Branches: map[uint64]uint64{0x1900: 1}},
	}
	if diff := testutil.Diff(wantLibfoo, libfoo.Entries); diff != "" {
		t.Fatalf("libfoo.so entries mismatch: %v", diff)
	}
}

type stubSymbolizer struct {
	symbols []Symbol
}

func (s stubSymbolizer) Resolve(_ []uint64, _ uint64) []Symbol {
	return s.symbols
}

func TestSymbolizeAndFixupBranches(t *testing.T) {
	var stream []byte
	stream = appendMmap(stream, 0x1000, 0x1000, "a.out")
	stream = appendSample(stream, 0x1108, []uint64{perfevent.ContextUser, 0x1108, 0x1900})

	p := load(t, stream, CallGraph)

	p.Symbolize(func(fileName string, objectSize uint64) (Symbolizer, error) {
		if fileName != "a.out" || objectSize != 0x1000 {
			t.Fatalf("symbolizer opened for %q size %#x", fileName, objectSize)
		}
		return stubSymbolizer{symbols: []Symbol{
			{Range: addrspace.NewRange(0x1100, 0x1140), Name: "callee"},
		}}, nil
	})
	p.FixupBranches()

	_, object, ok := p.MemoryObjects().Find(0x1900)
	if !ok {
		t.Fatal("caller object missing")
	}
	want := map[uint64]uint64{0x1100: 1}
	if diff := testutil.Diff(want, object.Entries[0x1900].Branches); diff != "" {
		t.Fatalf("branches mismatch: %v", diff)
	}

	// Running the fixup again must not change anything.
	p.FixupBranches()
	if diff := testutil.Diff(want, object.Entries[0x1900].Branches); diff != "" {
		t.Fatalf("branches not stable under a second fixup: %v", diff)
	}
}

func TestFixupBranchesSumsRewrittenTargets(t *testing.T) {
	var stream []byte
	stream = appendMmap(stream, 0x1000, 0x1000, "a.out")
	// Two samples whose caller 0x1900 branches to two addresses
	// inside the same callee.
	stream = appendSample(stream, 0x1108, []uint64{perfevent.ContextUser, 0x1108, 0x1900})
	stream = appendSample(stream, 0x1110, []uint64{perfevent.ContextUser, 0x1110, 0x1900})

	p := load(t, stream, CallGraph)
	p.AddSymbol(Symbol{Range: addrspace.NewRange(0x1100, 0x1140), Name: "callee"})
	p.FixupBranches()

	_, object, _ := p.MemoryObjects().Find(0x1900)
	want := map[uint64]uint64{0x1100: 2}
	if diff := testutil.Diff(want, object.Entries[0x1900].Branches); diff != "" {
		t.Fatalf("branches mismatch: %v", diff)
	}
}

func TestFixupBranchesKeepsUnresolvedTargets(t *testing.T) {
	var stream []byte
	stream = appendMmap(stream, 0x1000, 0x1000, "a.out")
	stream = appendSample(stream, 0x1108, []uint64{perfevent.ContextUser, 0x1108, 0x1900})

	p := load(t, stream, CallGraph)
	p.FixupBranches()

	_, object, _ := p.MemoryObjects().Find(0x1900)
	want := map[uint64]uint64{0x1108: 1}
	if diff := testutil.Diff(want, object.Entries[0x1900].Branches); diff != "" {
		t.Fatalf("branches mismatch: %v", diff)
	}
}

func TestLoadConcatenatedStreams(t *testing.T) {
	var first []byte
	first = appendMmap(first, 0x1000, 0x1000, "a.out")
	first = appendSample(first, 0x1100, []uint64{perfevent.ContextUser, 0x1100})

	var second []byte
	second = appendSample(second, 0x1100, []uint64{perfevent.ContextUser, 0x1100})
	second = appendSample(second, 0x1200, []uint64{perfevent.ContextUser, 0x1200})

	p := load(t, append(append([]byte{}, first...), second...), Flat)

	if p.GoodSamplesCount() != 3 {
		t.Fatalf("good samples: got %d, want 3", p.GoodSamplesCount())
	}
	_, object, _ := p.MemoryObjects().Find(0x1100)
	want := map[uint64]*EntryData{
		0x1100: {Count: 2},
		0x1200: {Count: 1},
	}
	if diff := testutil.Diff(want, object.Entries); diff != "" {
		t.Fatalf("Entries mismatch: %v", diff)
	}
}

func TestLoadTruncatedStreamKeepsPartialResults(t *testing.T) {
	var stream []byte
	stream = appendMmap(stream, 0x1000, 0x1000, "a.out")
	stream = appendSample(stream, 0x1100, []uint64{perfevent.ContextUser, 0x1100})
	stream = append(stream, 0x9, 0x0) // torn header

	p := New()
	if err := p.Load(bytes.NewReader(stream), Flat); err == nil {
		t.Fatal("Load on a torn stream reported no error")
	}
	if p.GoodSamplesCount() != 1 {
		t.Fatalf("good samples after torn stream: got %d, want 1", p.GoodSamplesCount())
	}
	if _, _, ok := p.MemoryObjects().Find(0x1100); !ok {
		t.Fatal("partial results dropped after torn stream")
	}
}

// Package pprofutil converts an aggregated profile into the pprof
// profile.proto format.
package pprofutil

import (
	"io"

	pprofprofile "github.com/google/pprof/profile"

	"github.com/arthurfait/perfgrind/internal/addrspace"
	"github.com/arthurfait/perfgrind/internal/profile"
)

// Build converts the aggregated profile into a flat pprof profile: one
// sample per sampled address carrying its hit count, locations bound
// to the enclosing symbol and memory object. Caller-only entries
// (count zero) carry no samples and are skipped.
func Build(p *profile.Profile) *pprofprofile.Profile {
	out := &pprofprofile.Profile{
		SampleType: []*pprofprofile.ValueType{{Type: "samples", Unit: "count"}},
		PeriodType: &pprofprofile.ValueType{Type: "cpu", Unit: "nanoseconds"},
	}

	functions := make(map[string]*pprofprofile.Function)
	addFunction := func(name string) *pprofprofile.Function {
		if fn, ok := functions[name]; ok {
			return fn
		}
		fn := &pprofprofile.Function{
			ID:   uint64(len(out.Function) + 1),
			Name: name,
		}
		functions[name] = fn
		out.Function = append(out.Function, fn)
		return fn
	}

	p.MemoryObjects().Each(func(objRange addrspace.Range, object *profile.MemoryObjectData) bool {
		mapping := &pprofprofile.Mapping{
			ID:           uint64(len(out.Mapping) + 1),
			Start:        objRange.Start,
			Limit:        objRange.End,
			Offset:       object.PageOffset,
			File:         object.FileName,
			HasFunctions: true,
		}
		out.Mapping = append(out.Mapping, mapping)

		for _, addr := range object.SortedAddresses() {
			entry := object.Entries[addr]
			if entry.Count == 0 {
				continue
			}
			fn := addFunction(symbolName(p, addr))
			location := &pprofprofile.Location{
				ID:      uint64(len(out.Location) + 1),
				Mapping: mapping,
				Address: addr,
				Line:    []pprofprofile.Line{{Function: fn}},
			}
			out.Location = append(out.Location, location)
			out.Sample = append(out.Sample, &pprofprofile.Sample{
				Value:    []int64{int64(entry.Count)},
				Location: []*pprofprofile.Location{location},
			})
		}
		return true
	})

	return out
}

// Write builds the pprof profile and writes it gzip-compressed.
func Write(w io.Writer, p *profile.Profile) error {
	return Build(p).Write(w)
}

func symbolName(p *profile.Profile, addr uint64) string {
	if _, data, ok := p.Symbols().Find(addr); ok {
		return data.Name
	}
	return ""
}

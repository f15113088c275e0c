// Package callgrind renders an aggregated profile in the callgrind
// text format understood by KCachegrind and callgrind_annotate.
package callgrind

import (
	"bufio"
	"fmt"
	"io"
	"sort"

	"github.com/arthurfait/perfgrind/internal/addrspace"
	"github.com/arthurfait/perfgrind/internal/profile"
)

// Write renders the profile. Costs are attributed to instruction
// addresses; one cost event, "Samples". Branches must have been fixed
// up beforehand so that every call target is a function entry point.
func Write(w io.Writer, p *profile.Profile) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintln(bw, "# callgrind format")
	fmt.Fprintln(bw, "version: 1")
	fmt.Fprintln(bw, "creator: perfgrind")
	fmt.Fprintln(bw, "positions: instr")
	fmt.Fprintln(bw, "events: Samples")

	p.MemoryObjects().Each(func(objRange addrspace.Range, object *profile.MemoryObjectData) bool {
		fmt.Fprintf(bw, "\nob=%s\n", object.FileName)

		currentFn := ""
		for _, addr := range object.SortedAddresses() {
			entry := object.Entries[addr]

			fn := functionName(p, addr)
			if fn != currentFn {
				fmt.Fprintf(bw, "fn=%s\n", fn)
				currentFn = fn
			}
			fmt.Fprintf(bw, "%#x %d\n", addr, entry.Count)

			for _, target := range sortedTargets(entry.Branches) {
				weight := entry.Branches[target]
				if targetObjRange, targetObject, ok := p.MemoryObjects().Find(target); ok && targetObjRange != objRange {
					fmt.Fprintf(bw, "cob=%s\n", targetObject.FileName)
				}
				fmt.Fprintf(bw, "cfn=%s\n", functionName(p, target))
				fmt.Fprintf(bw, "calls=%d %#x\n", weight, target)
				fmt.Fprintf(bw, "%#x %d\n", addr, weight)
			}
		}
		return true
	})

	return bw.Flush()
}

func functionName(p *profile.Profile, addr uint64) string {
	if _, data, ok := p.Symbols().Find(addr); ok {
		return data.Name
	}
	return fmt.Sprintf("%#x", addr)
}

func sortedTargets(branches map[uint64]uint64) []uint64 {
	targets := make([]uint64, 0, len(branches))
	for target := range branches {
		targets = append(targets, target)
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i] < targets[j] })
	return targets
}

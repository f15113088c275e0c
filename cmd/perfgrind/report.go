package main

import (
	"sort"

	"github.com/arthurfait/perfgrind/internal/addrspace"
	"github.com/arthurfait/perfgrind/internal/profile"
)

type (
	ReportBranch struct {
		To    uint64 `json:"to"`
		Count uint64 `json:"count"`
	}

	ReportEntry struct {
		Address  uint64         `json:"address"`
		Count    uint64         `json:"count"`
		Branches []ReportBranch `json:"branches,omitempty"`
	}

	ReportObject struct {
		Range   addrspace.Range `json:"range"`
		File    string          `json:"file"`
		Entries []ReportEntry   `json:"entries"`
	}

	ReportSymbol struct {
		Range addrspace.Range `json:"range"`
		Name  string          `json:"name"`
	}

	Report struct {
		Objects     []ReportObject `json:"objects"`
		Symbols     []ReportSymbol `json:"symbols"`
		MmapEvents  uint64         `json:"mmap_events"`
		GoodSamples uint64         `json:"good_samples"`
		BadSamples  uint64         `json:"bad_samples"`
	}
)

func buildReport(p *profile.Profile) Report {
	report := Report{
		MmapEvents:  p.MmapEventCount(),
		GoodSamples: p.GoodSamplesCount(),
		BadSamples:  p.BadSamplesCount(),
	}
	p.MemoryObjects().Each(func(r addrspace.Range, object *profile.MemoryObjectData) bool {
		reportObject := ReportObject{Range: r, File: object.FileName}
		for _, addr := range object.SortedAddresses() {
			entry := object.Entries[addr]
			reportEntry := ReportEntry{Address: addr, Count: entry.Count}
			for to, count := range entry.Branches {
				reportEntry.Branches = append(reportEntry.Branches, ReportBranch{To: to, Count: count})
			}
			sort.Slice(reportEntry.Branches, func(i, j int) bool {
				return reportEntry.Branches[i].To < reportEntry.Branches[j].To
			})
			reportObject.Entries = append(reportObject.Entries, reportEntry)
		}
		report.Objects = append(report.Objects, reportObject)
		return true
	})
	p.Symbols().Each(func(r addrspace.Range, data profile.SymbolData) bool {
		report.Symbols = append(report.Symbols, ReportSymbol{Range: r, Name: data.Name})
		return true
	})
	return report
}

package perfevent

import (
	"golang.org/x/sys/unix"
)

const (
	// RecordTypeMmap and RecordTypeSample are the only record types the
	// aggregator consumes; every other type is skipped.
	RecordTypeMmap   = unix.PERF_RECORD_MMAP
	RecordTypeSample = unix.PERF_RECORD_SAMPLE

	// MaxStackDepth bounds the number of call-chain entries a sample
	// may carry.
	MaxStackDepth = unix.PERF_MAX_STACK_DEPTH
)

// Call-chain context markers. The kernel encodes them as huge values
// above ContextMax, tagging the privilege domain of subsequent frames.
const (
	ContextUser = uint64(1<<64 + unix.PERF_CONTEXT_USER)
	ContextMax  = uint64(1<<64 + unix.PERF_CONTEXT_MAX)
)

// Header prefixes every record in the stream.
type Header struct {
	Type uint32
	Misc uint16
	Size uint16
}

const headerSize = 8

// Record is either a Mmap or a Sample.
type Record interface {
	recordType() uint32
}

// Mmap notifies that a file was mapped into the sampled address space.
type Mmap struct {
	PID        uint32
	TID        uint32
	Address    uint64
	Length     uint64
	PageOffset uint64
	FileName   string
}

func (Mmap) recordType() uint32 { return RecordTypeMmap }

// Sample carries one instruction-pointer hit and its call chain.
// Callchain entries are either return addresses or context markers.
type Sample struct {
	IP        uint64
	Callchain []uint64
}

func (Sample) recordType() uint32 { return RecordTypeSample }

// IsContextMarker reports whether a call-chain entry is a privilege
// context marker rather than an address.
func IsContextMarker(entry uint64) bool {
	return entry > ContextMax
}

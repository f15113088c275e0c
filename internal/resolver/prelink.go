package resolver

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"

	"github.com/arthurfait/perfgrind/internal/errorutil"
)

// parsePrelinkUndo recovers the object's original base address from
// the raw .gnu.prelink_undo section. The section holds a serialized
// copy of the pre-prelink ELF header followed by its program headers;
// both are decoded with the file's declared byte order, with the
// 32/64-bit class taken from the embedded identification bytes. The
// first LOAD entry's p_vaddr is the original base.
func parsePrelinkUndo(data []byte, order binary.ByteOrder) (uint64, error) {
	if len(data) < elf.EI_NIDENT {
		return 0, fmt.Errorf("%w: prelink undo section of %d bytes", errorutil.ErrDataIntegrity, len(data))
	}

	rd := bytes.NewReader(data)
	switch elf.Class(data[elf.EI_CLASS]) {
	case elf.ELFCLASS32:
		var hdr elf.Header32
		if err := binary.Read(rd, order, &hdr); err != nil {
			return 0, fmt.Errorf("prelink undo header: %w", err)
		}
		for i := 0; i < int(hdr.Phnum); i++ {
			var phdr elf.Prog32
			if err := binary.Read(rd, order, &phdr); err != nil {
				return 0, fmt.Errorf("prelink undo program header %d: %w", i, err)
			}
			if elf.ProgType(phdr.Type) == elf.PT_LOAD {
				return uint64(phdr.Vaddr), nil
			}
		}
	case elf.ELFCLASS64:
		var hdr elf.Header64
		if err := binary.Read(rd, order, &hdr); err != nil {
			return 0, fmt.Errorf("prelink undo header: %w", err)
		}
		for i := 0; i < int(hdr.Phnum); i++ {
			var phdr elf.Prog64
			if err := binary.Read(rd, order, &phdr); err != nil {
				return 0, fmt.Errorf("prelink undo program header %d: %w", i, err)
			}
			if elf.ProgType(phdr.Type) == elf.PT_LOAD {
				return phdr.Vaddr, nil
			}
		}
	default:
		return 0, fmt.Errorf("%w: unknown ELF class %#x", errorutil.ErrDataIntegrity, data[elf.EI_CLASS])
	}
	return 0, fmt.Errorf("%w: no LOAD program header", errorutil.ErrDataIntegrity)
}

package perfevent

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/arthurfait/perfgrind/internal/errorutil"
)

// Reader decodes kernel perf records from a raw byte stream. Records
// are produced in stream order; record types other than MMAP and
// SAMPLE are consumed and discarded. The stream is host byte order.
type Reader struct {
	r     io.Reader
	order binary.ByteOrder
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r, order: binary.NativeEndian}
}

// Next returns the next MMAP or SAMPLE record. It returns io.EOF at a
// clean end of stream and io.ErrUnexpectedEOF when the stream stops
// mid-record.
func (d *Reader) Next() (Record, error) {
	var buf [headerSize]byte
	for {
		if _, err := io.ReadFull(d.r, buf[:]); err != nil {
			return nil, err
		}
		hdr := Header{
			Type: d.order.Uint32(buf[0:4]),
			Misc: d.order.Uint16(buf[4:6]),
			Size: d.order.Uint16(buf[6:8]),
		}
		if hdr.Size < headerSize {
			return nil, fmt.Errorf("%w: record size %d below header size", errorutil.ErrDataIntegrity, hdr.Size)
		}
		body := make([]byte, int(hdr.Size)-headerSize)
		if _, err := io.ReadFull(d.r, body); err != nil {
			if err == io.EOF {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}

		switch hdr.Type {
		case RecordTypeMmap:
			return d.parseMmap(body)
		case RecordTypeSample:
			return d.parseSample(body)
		default:
			// Not a record we aggregate, skip its body.
		}
	}
}

func (d *Reader) parseMmap(body []byte) (Record, error) {
	const fixed = 32
	if len(body) < fixed {
		return nil, fmt.Errorf("%w: short mmap record body (%d bytes)", errorutil.ErrDataIntegrity, len(body))
	}
	m := Mmap{
		PID:        d.order.Uint32(body[0:4]),
		TID:        d.order.Uint32(body[4:8]),
		Address:    d.order.Uint64(body[8:16]),
		Length:     d.order.Uint64(body[16:24]),
		PageOffset: d.order.Uint64(body[24:32]),
	}
	m.FileName = cString(body[fixed:])
	return m, nil
}

func (d *Reader) parseSample(body []byte) (Record, error) {
	const fixed = 16
	if len(body) < fixed {
		return nil, fmt.Errorf("%w: short sample record body (%d bytes)", errorutil.ErrDataIntegrity, len(body))
	}
	s := Sample{IP: d.order.Uint64(body[0:8])}
	depth := d.order.Uint64(body[8:16])
	avail := uint64(len(body)-fixed) / 8
	if depth > avail {
		// A lying callchain size; decode what the record really holds.
		// The sample is not marked as truncated: validation sees only
		// the decoded chain.
		depth = avail
	}
	s.Callchain = make([]uint64, depth)
	for i := range s.Callchain {
		s.Callchain[i] = d.order.Uint64(body[fixed+i*8 : fixed+i*8+8])
	}
	return s, nil
}

func cString(bs []byte) string {
	for i := 0; i < len(bs); i++ {
		if bs[i] == 0 {
			return string(bs[:i])
		}
	}
	return string(bs)
}

package testutil

import "encoding/binary"

// AppendRecord frames one perf record for tests: the 8-byte header
// {type, misc, size} followed by the body, in host byte order.
func AppendRecord(stream []byte, recordType uint32, body []byte) []byte {
	stream = binary.NativeEndian.AppendUint32(stream, recordType)
	stream = binary.NativeEndian.AppendUint16(stream, 0)
	stream = binary.NativeEndian.AppendUint16(stream, uint16(8+len(body)))
	return append(stream, body...)
}

// AppendMmapRecord frames an MMAP record.
func AppendMmapRecord(stream []byte, recordType uint32, address, length, pageOffset uint64, fileName string) []byte {
	var body []byte
	body = binary.NativeEndian.AppendUint32(body, 1)
	body = binary.NativeEndian.AppendUint32(body, 1)
	body = binary.NativeEndian.AppendUint64(body, address)
	body = binary.NativeEndian.AppendUint64(body, length)
	body = binary.NativeEndian.AppendUint64(body, pageOffset)
	body = append(body, fileName...)
	body = append(body, 0)
	return AppendRecord(stream, recordType, body)
}

// AppendSampleRecord frames a SAMPLE record.
func AppendSampleRecord(stream []byte, recordType uint32, ip uint64, callchain []uint64) []byte {
	var body []byte
	body = binary.NativeEndian.AppendUint64(body, ip)
	body = binary.NativeEndian.AppendUint64(body, uint64(len(callchain)))
	for _, entry := range callchain {
		body = binary.NativeEndian.AppendUint64(body, entry)
	}
	return AppendRecord(stream, recordType, body)
}

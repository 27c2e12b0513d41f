package record

import (
	"encoding/binary"
)

// fixture builds raw records the way the kernel lays them out
type fixture struct {
	body []byte
}

func (f *fixture) u8(v uint8) *fixture {
	f.body = append(f.body, v)
	return f
}

func (f *fixture) u16(v uint16) *fixture {
	f.body = binary.NativeEndian.AppendUint16(f.body, v)
	return f
}

func (f *fixture) u32(v uint32) *fixture {
	f.body = binary.NativeEndian.AppendUint32(f.body, v)
	return f
}

func (f *fixture) u64(vals ...uint64) *fixture {
	for _, v := range vals {
		f.body = binary.NativeEndian.AppendUint64(f.body, v)
	}
	return f
}

func (f *fixture) raw(b []byte) *fixture {
	f.body = append(f.body, b...)
	return f
}

// str appends a NUL terminated string padded to 8 bytes
func (f *fixture) str(s string) *fixture {
	f.body = append(f.body, s...)
	f.body = append(f.body, 0)
	for len(f.body)%8 != 0 {
		f.body = append(f.body, 0)
	}
	return f
}

func (f *fixture) record(t Type, misc uint16) []byte {
	rec := make([]byte, headerSize, headerSize+len(f.body))
	binary.NativeEndian.PutUint32(rec[0:], uint32(t))
	binary.NativeEndian.PutUint16(rec[4:], misc)
	binary.NativeEndian.PutUint16(rec[6:], uint16(headerSize+len(f.body)))
	return append(rec, f.body...)
}

package record

import "fmt"

// ReadFormat is the read_format of a perf event, it determines the layout of counter values returned by read(2)
// and of read records and samples.
type ReadFormat uint64

const (
	// FormatTotalTimeEnabled PERF_FORMAT_TOTAL_TIME_ENABLED
	FormatTotalTimeEnabled ReadFormat = 1 << iota
	// FormatTotalTimeRunning PERF_FORMAT_TOTAL_TIME_RUNNING
	FormatTotalTimeRunning
	// FormatID PERF_FORMAT_ID
	FormatID
	// FormatGroup PERF_FORMAT_GROUP
	FormatGroup
	// FormatLost PERF_FORMAT_LOST, since linux 6.0
	FormatLost
)

// Has returns true if all given flags are set
func (rf ReadFormat) Has(flags ReadFormat) bool {
	return rf&flags == flags
}

// ReadValues are counter values in read_format layout. Without FormatGroup there is exactly one value.
type ReadValues struct {
	TimeEnabled uint64
	TimeRunning uint64
	Values      []ReadValue
}

// ReadValue is the value of one counter
type ReadValue struct {
	Value uint64
	// ID is the kernel assigned event ID, only set with FormatID
	ID uint64
	// Lost is the number of lost samples, only set with FormatLost
	Lost uint64
}

func decodeReadValues(c *cursor, rf ReadFormat) ReadValues {
	var rv ReadValues

	if !rf.Has(FormatGroup) {
		var v ReadValue
		v.Value = c.u64()
		if rf.Has(FormatTotalTimeEnabled) {
			rv.TimeEnabled = c.u64()
		}
		if rf.Has(FormatTotalTimeRunning) {
			rv.TimeRunning = c.u64()
		}
		if rf.Has(FormatID) {
			v.ID = c.u64()
		}
		if rf.Has(FormatLost) {
			v.Lost = c.u64()
		}
		rv.Values = []ReadValue{v}
		return rv
	}

	nr := c.u64()
	if rf.Has(FormatTotalTimeEnabled) {
		rv.TimeEnabled = c.u64()
	}
	if rf.Has(FormatTotalTimeRunning) {
		rv.TimeRunning = c.u64()
	}

	stride := uint64(8)
	if rf.Has(FormatID) {
		stride += 8
	}
	if rf.Has(FormatLost) {
		stride += 8
	}
	if nr > uint64(c.remaining())/stride {
		c.take(c.remaining() + 1)
		return rv
	}

	rv.Values = make([]ReadValue, nr)
	for i := range rv.Values {
		rv.Values[i].Value = c.u64()
		if rf.Has(FormatID) {
			rv.Values[i].ID = c.u64()
		}
		if rf.Has(FormatLost) {
			rv.Values[i].Lost = c.u64()
		}
	}

	return rv
}

// DecodeReadFormat decodes the buffer filled by read(2) on a perf event fd with the given read format.
// It fails if 'b' does not contain exactly one read_format structure.
func DecodeReadFormat(rf ReadFormat, b []byte) (ReadValues, error) {
	c := newCursor(b)
	rv := decodeReadValues(c, rf)
	if c.want != 0 || c.off != len(b) {
		consumed := c.off
		if c.want != 0 {
			consumed = c.want
		}
		return ReadValues{}, fmt.Errorf("%w: read_format of %d bytes, decoder consumed %d", ErrRecordSize, len(b), consumed)
	}
	return rv, nil
}

// ReadFormatSize returns the size of the read_format structure for 'members' counters
func ReadFormatSize(rf ReadFormat, members int) int {
	entry := 8
	if rf.Has(FormatID) {
		entry += 8
	}
	if rf.Has(FormatLost) {
		entry += 8
	}

	size := 0
	if rf.Has(FormatGroup) {
		size += 8
	} else {
		members = 1
	}
	if rf.Has(FormatTotalTimeEnabled) {
		size += 8
	}
	if rf.Has(FormatTotalTimeRunning) {
		size += 8
	}

	return size + entry*members
}

// Read is a PERF_RECORD_READ record, written when inherit_stat is set and a child task exits
type Read struct {
	Header
	Pid    uint32
	Tid    uint32
	Values ReadValues
	trailer
}

func decodeRead(c *cursor, h Header, f Format) Record {
	r := &Read{Header: h}
	r.Pid = c.u32()
	r.Tid = c.u32()
	r.Values = decodeReadValues(c, f.ReadFormat)
	return r
}

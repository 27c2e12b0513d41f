// Package ringbuf reads records from the memory mapped ring buffer of a perf event.
//
// The mapping consists of one metadata page (struct perf_event_mmap_page) followed by 2^n data pages. The kernel
// advances data_head when it writes records, the reader advances data_tail once a record has been copied out.
package ringbuf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/dylandreimerink/perfevent/internal/syscall"
	"golang.org/x/sys/unix"
)

// headerSize is the size of struct perf_event_header
const headerSize = 8

// ErrCorrupt is returned when a record header in the ring is inconsistent with the amount of data available
var ErrCorrupt = errors.New("ring buffer contains a corrupt record header")

// ValidPages returns true if a ring buffer of 'pages' pages can be mapped, which is the case if pages = 1 + 2^n
func ValidPages(pages int) bool {
	if pages < 2 {
		return false
	}
	data := pages - 1
	return data&(data-1) == 0
}

// Ring is a mapped perf ring buffer. A Ring is not safe for concurrent use.
type Ring struct {
	// The whole mapping, nil if the ring is not backed by mmap
	mem  []byte
	meta *unix.PerfEventMmapPage
	data []byte
}

// Map maps 'pages' pages of the ring buffer of the perf event 'fd'.
func Map(fd int, pages int) (*Ring, error) {
	if !ValidPages(pages) {
		return nil, fmt.Errorf("ring buffer page count %d is not 1+2^n", pages)
	}

	pageSize := unix.Getpagesize()
	mem, err := unix.Mmap(fd, 0, pages*pageSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		if errno, ok := err.(unix.Errno); ok {
			return nil, fmt.Errorf("mmap ring buffer: %w", &syscall.Error{
				Errno: errno,
				Err: map[unix.Errno]string{
					unix.EPERM:  "The mmap size exceeds the perf_event_mlock_kb limit",
					unix.EINVAL: "The page count is not 1+2^n or the event can't be mapped",
					unix.ENOMEM: "Not enough memory to map the ring buffer",
				}[errno],
			})
		}
		return nil, fmt.Errorf("mmap ring buffer: %w", err)
	}

	meta := (*unix.PerfEventMmapPage)(unsafe.Pointer(&mem[0]))

	// Since linux 4.1 the kernel reports the location of the data area, before that it always follows the
	// metadata page.
	offset := uint64(pageSize)
	size := uint64(len(mem) - pageSize)
	if meta.Data_size != 0 {
		offset = meta.Data_offset
		size = meta.Data_size
	}

	ring := newRing(meta, mem[offset:offset+size])
	ring.mem = mem
	return ring, nil
}

func newRing(meta *unix.PerfEventMmapPage, data []byte) *Ring {
	return &Ring{
		meta: meta,
		data: data,
	}
}

// Next copies the next record, including its header, out of the ring and releases its space to the kernel.
// If the ring is empty, false is returned.
func (r *Ring) Next() ([]byte, bool, error) {
	if r.meta == nil {
		return nil, false, errors.New("ring buffer is closed")
	}

	head := atomic.LoadUint64(&r.meta.Data_head)
	tail := atomic.LoadUint64(&r.meta.Data_tail)
	if head == tail {
		return nil, false, nil
	}

	// Head and tail only ever grow, positions in the data area are taken modulo its size.
	// Records are 8 byte aligned so a header never wraps.
	ringSize := uint64(len(r.data))
	start := tail % ringSize
	size := uint64(binary.NativeEndian.Uint16(r.data[start+6:]))
	if size < headerSize || size > head-tail {
		return nil, false, fmt.Errorf("%w: size %d, %d bytes available", ErrCorrupt, size, head-tail)
	}

	raw := make([]byte, size)
	n := copy(raw, r.data[start:])
	if uint64(n) < size {
		copy(raw[n:], r.data[:size-uint64(n)])
	}

	atomic.StoreUint64(&r.meta.Data_tail, tail+size)

	return raw, true, nil
}

// Pending returns the amount of bytes written by the kernel which have not been consumed yet
func (r *Ring) Pending() uint64 {
	if r.meta == nil {
		return 0
	}
	return atomic.LoadUint64(&r.meta.Data_head) - atomic.LoadUint64(&r.meta.Data_tail)
}

// Close unmaps the ring buffer. Calling Close more than once is a no-op.
func (r *Ring) Close() error {
	r.meta = nil
	r.data = nil

	if r.mem == nil {
		return nil
	}

	mem := r.mem
	r.mem = nil
	if err := unix.Munmap(mem); err != nil {
		return fmt.Errorf("munmap ring buffer: %w", err)
	}

	return nil
}

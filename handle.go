package perfevent

import (
	"fmt"
	"unsafe"

	"github.com/dylandreimerink/perfevent/internal/syscall"
	"github.com/dylandreimerink/perfevent/ringbuf"
)

// kernelHandle is an open perf event. Sessions only talk to the kernel through it.
type kernelHandle interface {
	enable(group bool) error
	disable(group bool) error
	reset(group bool) error
	id() (uint64, error)
	read(buf []byte) (int, error)
	fd() int
	close() error
}

// opener opens a perf event for 'attr', 'groupFD' is -1 for events without a group leader
type opener func(attr *Attr, pid, cpu, groupFD int) (kernelHandle, error)

// recordRing is a mapped ring buffer
type recordRing interface {
	Next() ([]byte, bool, error)
	Close() error
}

// ringMapper maps the ring buffer of a sampling event
type ringMapper func(h kernelHandle, pages int) (recordRing, error)

func openHandle(attr *Attr, pid, cpu, groupFD int) (kernelHandle, error) {
	// The kernel overwrites the size field on E2BIG, so it gets a copy
	raw := attr.raw
	fd, err := syscall.PerfEventOpen(&raw, pid, cpu, groupFD, syscall.PerfEventOpenFDCloseOnExit, attr.target)
	if err != nil {
		return nil, err
	}
	return fdHandle(fd), nil
}

func mapRing(h kernelHandle, pages int) (recordRing, error) {
	r, err := ringbuf.Map(h.fd(), pages)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// fdHandle is a perf event file descriptor
type fdHandle int

func ioctlArg(group bool) uintptr {
	if group {
		return syscall.PerfIOCFlagGroup
	}
	return 0
}

func (h fdHandle) enable(group bool) error {
	return syscall.IOCtl(int(h), syscall.PerfEventIOCEnable, ioctlArg(group))
}

func (h fdHandle) disable(group bool) error {
	return syscall.IOCtl(int(h), syscall.PerfEventIOCDisable, ioctlArg(group))
}

func (h fdHandle) reset(group bool) error {
	return syscall.IOCtl(int(h), syscall.PerfEventIOCReset, ioctlArg(group))
}

func (h fdHandle) id() (uint64, error) {
	var id uint64
	err := syscall.IOCtl(int(h), syscall.PerfEventIOCID, uintptr(unsafe.Pointer(&id)))
	if err != nil {
		return 0, fmt.Errorf("ioctl id: %w", err)
	}
	return id, nil
}

func (h fdHandle) read(buf []byte) (int, error) {
	return syscall.Read(int(h), buf)
}

func (h fdHandle) fd() int {
	return int(h)
}

func (h fdHandle) close() error {
	return syscall.Close(int(h))
}

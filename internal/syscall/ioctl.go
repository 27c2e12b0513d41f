package syscall

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// Perf event ioctl request codes
const (
	PerfEventIOCEnable  = uint(unix.PERF_EVENT_IOC_ENABLE)
	PerfEventIOCDisable = uint(unix.PERF_EVENT_IOC_DISABLE)
	PerfEventIOCReset   = uint(unix.PERF_EVENT_IOC_RESET)
	PerfEventIOCID      = uint(unix.PERF_EVENT_IOC_ID)
)

// PerfIOCFlagGroup makes enable, disable and reset apply to all events in the group of the given leader fd
const PerfIOCFlagGroup = 1

func IOCtl(fd int, req uint, arg uintptr) (err error) {
	_, _, e1 := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(req), arg)
	if e1 != 0 {
		err = &Error{
			Errno: e1,
			Err:   ioctlErrors[e1],
		}
	}
	return
}

var ioctlErrors = map[syscall.Errno]string{
	unix.EBADF:  "fd is not a valid file descriptor",
	unix.EFAULT: "argp references an inaccessible memory area",
	unix.EINVAL: "request or argp is not valid",
	unix.ENOTTY: "fd is not associated with a perf event",
}

// Read reads up to len(buf) bytes from fd, interrupted reads are not retried.
func Read(fd int, buf []byte) (int, error) {
	n, err := unix.Read(fd, buf)
	if err != nil {
		errno, ok := err.(unix.Errno)
		if !ok {
			return n, err
		}
		return n, &Error{
			Errno: errno,
			Err: map[syscall.Errno]string{
				unix.EBADF:  "fd is not a valid file descriptor or is not open for reading",
				unix.EINTR:  "The call was interrupted by a signal before any data was read",
				unix.ENOSPC: "The buffer is too small to hold the requested read_format",
			}[errno],
		}
	}

	return n, nil
}

// Close closes a file descriptor
func Close(fd int) error {
	_, _, errno := unix.Syscall(unix.SYS_CLOSE, uintptr(fd), 0, 0)
	if errno != 0 {
		return &Error{
			Errno: errno,
			Err: map[syscall.Errno]string{
				unix.EBADF: "fd isn't a valid open file descriptor",
				unix.EINTR: "The Close() call was interrupted by a signal; see signal(7)",
				unix.EIO:   "An I/O error occurred",
			}[errno],
		}
	}

	return nil
}

package perfevent

import (
	"errors"
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"
)

// This file contains sysfs and tracefs related code to discover dynamic PMUs and tracepoint IDs.

var (
	eventSourcePath = "/sys/bus/event_source/devices"
	// tracefs is mounted at /sys/kernel/tracing since linux 4.1, older systems only have it inside debugfs
	tracefsPaths = []string{"/sys/kernel/tracing", "/sys/kernel/debug/tracing"}
)

// dynamicPMU describes a PMU of which the type is assigned at boot time
type dynamicPMU struct {
	Type        uint32
	RetprobeBit uint8
}

// readDynamicPMU reads the type and retprobe bit of the PMU called 'name'.
// If the function returns os.ErrNotExist the kernel doesn't have the PMU.
func readDynamicPMU(name string) (dynamicPMU, error) {
	var pmu dynamicPMU

	typeBytes, err := os.ReadFile(path.Join(eventSourcePath, name, "type"))
	if err != nil {
		return pmu, fmt.Errorf("read %s pmu type: %w", name, err)
	}

	typ, err := strconv.ParseUint(strings.TrimSpace(string(typeBytes)), 10, 32)
	if err != nil {
		return pmu, fmt.Errorf("parse %s pmu type: %w", name, err)
	}
	pmu.Type = uint32(typ)

	// The format file looks like "config:0"
	formatBytes, err := os.ReadFile(path.Join(eventSourcePath, name, "format", "retprobe"))
	if err != nil {
		return pmu, fmt.Errorf("read %s retprobe format: %w", name, err)
	}

	format := strings.TrimSpace(string(formatBytes))
	bitStr := strings.TrimPrefix(format, "config:")
	if bitStr == format {
		return pmu, fmt.Errorf("unexpected %s retprobe format '%s'", name, format)
	}

	bit, err := strconv.ParseUint(bitStr, 10, 6)
	if err != nil {
		return pmu, fmt.Errorf("parse %s retprobe bit: %w", name, err)
	}
	pmu.RetprobeBit = uint8(bit)

	return pmu, nil
}

// NewKprobeEvent returns a kprobe on 'fn' plus 'offset', or a kretprobe on 'fn' if 'retprobe' is true.
func NewKprobeEvent(fn string, offset uint64, retprobe bool) (KprobeEvent, error) {
	if fn == "" {
		return KprobeEvent{}, errors.New("kprobe function name is required")
	}

	pmu, err := readDynamicPMU("kprobe")
	if err != nil {
		return KprobeEvent{}, err
	}

	return KprobeEvent{
		PMUType:     pmu.Type,
		RetprobeBit: pmu.RetprobeBit,
		Retprobe:    retprobe,
		Func:        fn,
		Offset:      offset,
	}, nil
}

// NewKprobeAddrEvent returns a kprobe on a kernel address
func NewKprobeAddrEvent(addr uint64, retprobe bool) (KprobeEvent, error) {
	pmu, err := readDynamicPMU("kprobe")
	if err != nil {
		return KprobeEvent{}, err
	}

	return KprobeEvent{
		PMUType:     pmu.Type,
		RetprobeBit: pmu.RetprobeBit,
		Retprobe:    retprobe,
		Addr:        addr,
	}, nil
}

// NewUprobeEvent returns a uprobe at 'offset' in the file at 'binPath'
func NewUprobeEvent(binPath string, offset uint64, retprobe bool) (UprobeEvent, error) {
	if binPath == "" {
		return UprobeEvent{}, errors.New("uprobe path is required")
	}

	pmu, err := readDynamicPMU("uprobe")
	if err != nil {
		return UprobeEvent{}, err
	}

	return UprobeEvent{
		PMUType:     pmu.Type,
		RetprobeBit: pmu.RetprobeBit,
		Retprobe:    retprobe,
		Path:        binPath,
		Offset:      offset,
	}, nil
}

// NewTracepointEvent returns the tracepoint 'category:name'.
// If the function returns permission errors the program is not being run a user with the correct permissions.
// If the function returns os.ErrNotExist the given tracepoint doesn't exist
func NewTracepointEvent(category, name string) (TracepointEvent, error) {
	var lastErr error
	for _, tracefs := range tracefsPaths {
		contents, err := os.ReadFile(path.Join(tracefs, "events", category, name, "id"))
		if err != nil {
			lastErr = err
			continue
		}

		id, err := strconv.ParseUint(strings.TrimSpace(string(contents)), 10, 64)
		if err != nil {
			return TracepointEvent{}, fmt.Errorf("parse tracepoint id: %w", err)
		}

		return TracepointEvent{ID: id}, nil
	}

	return TracepointEvent{}, fmt.Errorf("read tracepoint id of %s:%s: %w", category, name, lastErr)
}

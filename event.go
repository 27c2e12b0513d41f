package perfevent

import "fmt"

// PMU types with a fixed value, the type of dynamic PMUs like kprobe and uprobe is read from sysfs
const (
	TypeHardware   uint32 = 0
	TypeSoftware   uint32 = 1
	TypeTracepoint uint32 = 2
	TypeHWCache    uint32 = 3
	TypeRaw        uint32 = 4
	TypeBreakpoint uint32 = 5
)

// Event is the source of a perf event. It is one of HardwareEvent, HardwareCacheEvent, SoftwareEvent, RawEvent,
// TracepointEvent, KprobeEvent or UprobeEvent.
type Event interface {
	// Encode returns the type and config values of the event
	Encode() EventEncoding
	isEvent()
}

// EventEncoding is an Event as perf_event_attr fields
type EventEncoding struct {
	Type   uint32
	Config uint64
	// Config2 is the probe offset or address of kprobe and uprobe events
	Config2 uint64
	// Target is the function or path of kprobe and uprobe events, which is passed by pointer in config1
	Target string
}

// HardwareEvent is a generalized hardware event (PERF_TYPE_HARDWARE)
type HardwareEvent uint64

const (
	HardwareCPUCycles HardwareEvent = iota
	HardwareInstructions
	HardwareCacheReferences
	HardwareCacheMisses
	HardwareBranchInstructions
	HardwareBranchMisses
	HardwareBusCycles
	HardwareStalledCyclesFrontend
	HardwareStalledCyclesBackend
	HardwareRefCPUCycles

	hardwareMax
)

var hardwareEventNames = map[HardwareEvent]string{
	HardwareCPUCycles:             "cpu-cycles",
	HardwareInstructions:          "instructions",
	HardwareCacheReferences:       "cache-references",
	HardwareCacheMisses:           "cache-misses",
	HardwareBranchInstructions:    "branch-instructions",
	HardwareBranchMisses:          "branch-misses",
	HardwareBusCycles:             "bus-cycles",
	HardwareStalledCyclesFrontend: "stalled-cycles-frontend",
	HardwareStalledCyclesBackend:  "stalled-cycles-backend",
	HardwareRefCPUCycles:          "ref-cycles",
}

func (e HardwareEvent) String() string {
	if name, ok := hardwareEventNames[e]; ok {
		return name
	}
	return fmt.Sprintf("hardware(%d)", uint64(e))
}

func (e HardwareEvent) Encode() EventEncoding {
	return EventEncoding{Type: TypeHardware, Config: uint64(e)}
}

func (HardwareEvent) isEvent() {}

// SoftwareEvent is an event implemented by the kernel (PERF_TYPE_SOFTWARE)
type SoftwareEvent uint64

const (
	SoftwareCPUClock SoftwareEvent = iota
	SoftwareTaskClock
	SoftwarePageFaults
	SoftwareContextSwitches
	SoftwareCPUMigrations
	SoftwarePageFaultsMin
	SoftwarePageFaultsMaj
	SoftwareAlignmentFaults
	SoftwareEmulationFaults
	SoftwareDummy
	SoftwareBPFOutput
	SoftwareCgroupSwitches

	softwareMax
)

var softwareEventNames = map[SoftwareEvent]string{
	SoftwareCPUClock:        "cpu-clock",
	SoftwareTaskClock:       "task-clock",
	SoftwarePageFaults:      "page-faults",
	SoftwareContextSwitches: "context-switches",
	SoftwareCPUMigrations:   "cpu-migrations",
	SoftwarePageFaultsMin:   "minor-faults",
	SoftwarePageFaultsMaj:   "major-faults",
	SoftwareAlignmentFaults: "alignment-faults",
	SoftwareEmulationFaults: "emulation-faults",
	SoftwareDummy:           "dummy",
	SoftwareBPFOutput:       "bpf-output",
	SoftwareCgroupSwitches:  "cgroup-switches",
}

func (e SoftwareEvent) String() string {
	if name, ok := softwareEventNames[e]; ok {
		return name
	}
	return fmt.Sprintf("software(%d)", uint64(e))
}

func (e SoftwareEvent) Encode() EventEncoding {
	return EventEncoding{Type: TypeSoftware, Config: uint64(e)}
}

func (SoftwareEvent) isEvent() {}

// CacheID selects the cache of a HardwareCacheEvent
type CacheID uint8

const (
	CacheL1D CacheID = iota
	CacheL1I
	CacheLL
	CacheDTLB
	CacheITLB
	CacheBPU
	CacheNode
)

// CacheOp selects the operation of a HardwareCacheEvent
type CacheOp uint8

const (
	CacheOpRead CacheOp = iota
	CacheOpWrite
	CacheOpPrefetch
)

// CacheResult selects whether accesses or misses are counted
type CacheResult uint8

const (
	CacheResultAccess CacheResult = iota
	CacheResultMiss
)

// HardwareCacheEvent is a hardware cache event (PERF_TYPE_HW_CACHE)
type HardwareCacheEvent struct {
	Cache  CacheID
	Op     CacheOp
	Result CacheResult
}

func (e HardwareCacheEvent) Encode() EventEncoding {
	return EventEncoding{
		Type:   TypeHWCache,
		Config: uint64(e.Cache) | uint64(e.Op)<<8 | uint64(e.Result)<<16,
	}
}

func (HardwareCacheEvent) isEvent() {}

// RawEvent is a CPU specific event (PERF_TYPE_RAW), Config is passed to the PMU as is
type RawEvent struct {
	Config uint64
}

func (e RawEvent) Encode() EventEncoding {
	return EventEncoding{Type: TypeRaw, Config: e.Config}
}

func (RawEvent) isEvent() {}

// TracepointEvent is a kernel tracepoint (PERF_TYPE_TRACEPOINT) identified by its tracefs ID
type TracepointEvent struct {
	ID uint64
}

func (e TracepointEvent) Encode() EventEncoding {
	return EventEncoding{Type: TypeTracepoint, Config: e.ID}
}

func (TracepointEvent) isEvent() {}

// KprobeEvent is a kprobe created through the kprobe PMU, available since linux 4.17. Use NewKprobeEvent to
// discover the PMU type.
type KprobeEvent struct {
	PMUType uint32
	// RetprobeBit is the config bit which turns the probe into a kretprobe
	RetprobeBit uint8
	Retprobe    bool
	// Func is the probed kernel function, if empty Addr is probed
	Func   string
	Offset uint64
	Addr   uint64
}

func (e KprobeEvent) Encode() EventEncoding {
	enc := EventEncoding{
		Type:    e.PMUType,
		Target:  e.Func,
		Config2: e.Offset,
	}
	if e.Func == "" {
		enc.Config2 = e.Addr
	}
	if e.Retprobe {
		enc.Config = 1 << e.RetprobeBit
	}
	return enc
}

func (KprobeEvent) isEvent() {}

// UprobeEvent is a uprobe created through the uprobe PMU, available since linux 4.17. Use NewUprobeEvent to
// discover the PMU type.
type UprobeEvent struct {
	PMUType     uint32
	RetprobeBit uint8
	Retprobe    bool
	// Path of the probed binary
	Path string
	// Offset of the probed instruction in the file
	Offset uint64
}

func (e UprobeEvent) Encode() EventEncoding {
	enc := EventEncoding{
		Type:    e.PMUType,
		Target:  e.Path,
		Config2: e.Offset,
	}
	if e.Retprobe {
		enc.Config = 1 << e.RetprobeBit
	}
	return enc
}

func (UprobeEvent) isEvent() {}

// DecodeEvent turns a type and config pair of a fixed type PMU back into an Event. Dynamic PMU events can only be
// decoded from an Attr, since their type is not fixed and their target is passed by pointer.
func DecodeEvent(typ uint32, config uint64) (Event, error) {
	switch typ {
	case TypeHardware:
		if config >= uint64(hardwareMax) {
			return nil, fmt.Errorf("%w: hardware config %d", ErrUnknownEvent, config)
		}
		return HardwareEvent(config), nil

	case TypeSoftware:
		if config >= uint64(softwareMax) {
			return nil, fmt.Errorf("%w: software config %d", ErrUnknownEvent, config)
		}
		return SoftwareEvent(config), nil

	case TypeHWCache:
		if config>>24 != 0 {
			return nil, fmt.Errorf("%w: hw cache config 0x%x", ErrUnknownEvent, config)
		}
		return HardwareCacheEvent{
			Cache:  CacheID(config),
			Op:     CacheOp(config >> 8),
			Result: CacheResult(config >> 16),
		}, nil

	case TypeRaw:
		return RawEvent{Config: config}, nil

	case TypeTracepoint:
		return TracepointEvent{ID: config}, nil
	}

	return nil, fmt.Errorf("%w: type %d", ErrUnknownEvent, typ)
}

// ParseEventName returns the hardware or software event with the given perf tool name, like "cpu-cycles"
func ParseEventName(name string) (Event, error) {
	for e, n := range hardwareEventNames {
		if n == name {
			return e, nil
		}
	}
	for e, n := range softwareEventNames {
		if n == name {
			return e, nil
		}
	}
	return nil, fmt.Errorf("%w: '%s'", ErrUnknownEvent, name)
}

package perfevent

import (
	"bytes"
	"errors"
	"fmt"
	"unsafe"

	"github.com/dylandreimerink/perfevent/internal/cstr"
	"github.com/dylandreimerink/perfevent/internal/syscall"
	"github.com/dylandreimerink/perfevent/kernelsupport"
	"github.com/dylandreimerink/perfevent/record"
)

// Mode is the kind of session an Attr is built for
type Mode int

const (
	// ModeCounting attrs only count events, they can be used with BuildCounting and CountingGroup.AddMember
	ModeCounting Mode = iota + 1
	// ModeSampling attrs write records to a ring buffer, they can be used with BuildSampling
	ModeSampling
)

func (m Mode) String() string {
	switch m {
	case ModeCounting:
		return "counting"
	case ModeSampling:
		return "sampling"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

type probeKind uint8

const (
	probeNone probeKind = iota
	probeKprobe
	probeUprobe
)

// Attr is an immutable perf_event_attr. Construct it with NewCountingAttr or NewSamplingAttr.
type Attr struct {
	raw  syscall.PerfEventAttr
	mode Mode

	// target is the NUL terminated kprobe function or uprobe path, config1 points to it
	target      []byte
	probe       probeKind
	retprobeBit uint8
}

// newAttr sets the fields shared by counting and sampling attrs
func newAttr(caps kernelsupport.CapabilitySet, event Event, scopes EventScope, mode Mode) *Attr {
	enc := event.Encode()

	a := &Attr{
		mode: mode,
		raw: syscall.PerfEventAttr{
			Type:    enc.Type,
			Size:    caps.AttrSize(),
			Config:  enc.Config,
			Config2: enc.Config2,
			// Counters always start disabled so the caller controls when counting starts
			Flags: syscall.PerfAttrFlagsDisabled | scopes.excludeFlags(),
		},
	}

	if enc.Target != "" {
		a.target = cstr.StringToCStrBytes(enc.Target)
		a.raw.Config1 = uint64(uintptr(unsafe.Pointer(&a.target[0])))
	}

	switch e := event.(type) {
	case KprobeEvent:
		a.probe = probeKprobe
		a.retprobeBit = e.RetprobeBit
	case UprobeEvent:
		a.probe = probeUprobe
		a.retprobeBit = e.RetprobeBit
	}

	return a
}

// groupReadFormat is the read_format of counting attrs and of sampling attrs which sample counter values
func groupReadFormat(caps kernelsupport.CapabilitySet) record.ReadFormat {
	rf := record.FormatTotalTimeEnabled | record.FormatTotalTimeRunning | record.FormatID | record.FormatGroup
	if caps.Has(kernelsupport.KFeatPerfFormatLost) {
		rf |= record.FormatLost
	}
	return rf
}

func (a *Attr) setFlag(flag syscall.PerfAttrFlags, set bool) {
	if set {
		a.raw.Flags |= flag
	}
}

func (a *Attr) hasFlag(flag syscall.PerfAttrFlags) bool {
	return a.raw.Flags&flag == flag
}

// Mode returns whether the attr is for counting or sampling
func (a *Attr) Mode() Mode {
	return a.mode
}

// Size returns the size of the attr in bytes, which depends on the capability set it was built with
func (a *Attr) Size() uint32 {
	return a.raw.Size
}

// Type returns the PMU type of the event
func (a *Attr) Type() uint32 {
	return a.raw.Type
}

// Config returns the config value of the event
func (a *Attr) Config() uint64 {
	return a.raw.Config
}

// SampleType returns the selector mask of the fields in sample records
func (a *Attr) SampleType() record.SampleType {
	return record.SampleType(a.raw.SampleType)
}

// ReadFormat returns the layout of counter values
func (a *Attr) ReadFormat() record.ReadFormat {
	return record.ReadFormat(a.raw.ReadFormat)
}

// SampleIDAll returns true if non sample records carry a SampleID
func (a *Attr) SampleIDAll() bool {
	return a.hasFlag(syscall.PerfAttrFlagsSampleIDAll)
}

// Scopes returns the domains the event is counted in
func (a *Attr) Scopes() EventScope {
	return scopeFromFlags(a.raw.Flags)
}

// Disabled returns true if the event starts disabled
func (a *Attr) Disabled() bool {
	return a.hasFlag(syscall.PerfAttrFlagsDisabled)
}

// ProbeTarget returns the kprobe function or uprobe path, or an empty string for other events
func (a *Attr) ProbeTarget() string {
	return cstr.BytesToString(a.target)
}

// RecordFormat returns the Format needed to decode records of events opened with this attr
func (a *Attr) RecordFormat() record.Format {
	return record.Format{
		SampleType:       a.SampleType(),
		ReadFormat:       a.ReadFormat(),
		SampleIDAll:      a.SampleIDAll(),
		RegsUser:         a.raw.SampleRegsUser,
		RegsIntr:         a.raw.SampleRegsIntr,
		BranchSampleType: a.raw.BranchSampleType,
	}
}

// Bytes returns the raw perf_event_attr as it is passed to the kernel
func (a *Attr) Bytes() []byte {
	return a.raw.Bytes()
}

// Event decodes the type and config of the attr back into an Event
func (a *Attr) Event() (Event, error) {
	target := a.ProbeTarget()
	retprobe := a.raw.Config&(1<<a.retprobeBit) != 0

	switch a.probe {
	case probeKprobe:
		e := KprobeEvent{
			PMUType:     a.raw.Type,
			RetprobeBit: a.retprobeBit,
			Retprobe:    retprobe,
			Func:        target,
		}
		if target == "" {
			e.Addr = a.raw.Config2
		} else {
			e.Offset = a.raw.Config2
		}
		return e, nil

	case probeUprobe:
		return UprobeEvent{
			PMUType:     a.raw.Type,
			RetprobeBit: a.retprobeBit,
			Retprobe:    retprobe,
			Path:        target,
			Offset:      a.raw.Config2,
		}, nil
	}

	return DecodeEvent(a.raw.Type, a.raw.Config)
}

// minAttrSize is PERF_ATTR_SIZE_VER0
const minAttrSize = 64

// AttrFromBytes creates an Attr from a raw perf_event_attr. It is meant for callers which need fields this package
// does not expose. Pointers in the raw attr, like config1 of kprobes, must stay valid for as long as the Attr is used.
// The mode is sampling if a sample type or period is set, counting otherwise.
func AttrFromBytes(b []byte) (*Attr, error) {
	if len(b) < minAttrSize {
		return nil, fmt.Errorf("perf_event_attr of %d bytes is smaller than %d", len(b), minAttrSize)
	}
	given := uint32(len(b))
	if len(b) > int(syscall.MaxAttrSize) {
		if len(bytes.Trim(b[syscall.MaxAttrSize:], "\x00")) != 0 {
			return nil, errors.New("perf_event_attr has unknown non zero fields")
		}
		b = b[:syscall.MaxAttrSize]
	}

	a := &Attr{
		raw:  syscall.AttrFromBytes(b),
		mode: ModeCounting,
	}

	// The kernel reads 'size' bytes from the raw attr, which must not go past what we hold.
	switch {
	case a.raw.Size == 0:
		a.raw.Size = uint32(len(b))
	case a.raw.Size < minAttrSize:
		return nil, fmt.Errorf("perf_event_attr size field %d is smaller than %d", a.raw.Size, minAttrSize)
	case a.raw.Size > given:
		return nil, fmt.Errorf("perf_event_attr size field %d is larger than the %d bytes given", a.raw.Size, given)
	case a.raw.Size > syscall.MaxAttrSize:
		// Only zeros past MaxAttrSize, checked above
		a.raw.Size = syscall.MaxAttrSize
	}
	if a.raw.SampleType != 0 || a.raw.SamplePeriodFreq != 0 {
		a.mode = ModeSampling
	}

	return a, nil
}

// Package record decodes the records the kernel writes into the ring buffer of a perf event.
//
// Records carry no schema. Which optional fields are present in a record is determined by the sample_type,
// read_format and sample_id_all settings of the perf event that produced it, passed to Decode as a Format.
package record

import (
	"fmt"
	"io"
)

// Type is the type of a record, the 'type' field of struct perf_event_header
type Type uint32

// Known record types
const (
	TypeMmap          Type = 1
	TypeLost          Type = 2
	TypeComm          Type = 3
	TypeExit          Type = 4
	TypeThrottle      Type = 5
	TypeUnthrottle    Type = 6
	TypeFork          Type = 7
	TypeRead          Type = 8
	TypeSample        Type = 9
	TypeMmap2         Type = 10
	TypeAux           Type = 11
	TypeItraceStart   Type = 12
	TypeLostSamples   Type = 13
	TypeSwitch        Type = 14
	TypeSwitchCPUWide Type = 15
	TypeNamespaces    Type = 16
	TypeKsymbol       Type = 17
	TypeBPFEvent      Type = 18
	TypeCgroup        Type = 19
	TypeTextPoke      Type = 20
	TypeAuxOutputHwID Type = 21
)

var typeToString = map[Type]string{
	TypeMmap:          "mmap",
	TypeLost:          "lost",
	TypeComm:          "comm",
	TypeExit:          "exit",
	TypeThrottle:      "throttle",
	TypeUnthrottle:    "unthrottle",
	TypeFork:          "fork",
	TypeRead:          "read",
	TypeSample:        "sample",
	TypeMmap2:         "mmap2",
	TypeAux:           "aux",
	TypeItraceStart:   "itrace_start",
	TypeLostSamples:   "lost_samples",
	TypeSwitch:        "switch",
	TypeSwitchCPUWide: "switch_cpu_wide",
	TypeNamespaces:    "namespaces",
	TypeKsymbol:       "ksymbol",
	TypeBPFEvent:      "bpf_event",
	TypeCgroup:        "cgroup",
	TypeTextPoke:      "text_poke",
	TypeAuxOutputHwID: "aux_output_hw_id",
}

func (t Type) String() string {
	str, ok := typeToString[t]
	if !ok {
		return fmt.Sprintf("unknown(%d)", uint32(t))
	}
	return str
}

// Bits of the 'misc' header field
const (
	MiscCPUModeMask = 0b111
	// MiscMmapData is set on mmap records of non executable mappings
	MiscMmapData = 1 << 13
	// MiscCommExec is set on comm records caused by an exec
	MiscCommExec = 1 << 13
	// MiscSwitchOut is set on switch records when switching away from the task
	MiscSwitchOut = 1 << 13
	// MiscExactIP is set on sample records of which the IP points to the actual instruction
	MiscExactIP = 1 << 14
	// MiscSwitchOutPreempt is set on switch records if the task was preempted
	MiscSwitchOutPreempt = 1 << 14
	// MiscMmapBuildID is set on mmap2 records which carry a build id instead of the device and inode
	MiscMmapBuildID = 1 << 14
)

// CPUMode is the mode the CPU was in when the record was generated
type CPUMode uint8

// Known CPU modes
const (
	CPUModeUnknown     CPUMode = 0
	CPUModeKernel      CPUMode = 1
	CPUModeUser        CPUMode = 2
	CPUModeHypervisor  CPUMode = 3
	CPUModeGuestKernel CPUMode = 4
	CPUModeGuestUser   CPUMode = 5
)

var cpuModeToString = map[CPUMode]string{
	CPUModeUnknown:     "unknown",
	CPUModeKernel:      "kernel",
	CPUModeUser:        "user",
	CPUModeHypervisor:  "hypervisor",
	CPUModeGuestKernel: "guest-kernel",
	CPUModeGuestUser:   "guest-user",
}

func (m CPUMode) String() string {
	if str, ok := cpuModeToString[m]; ok {
		return str
	}
	return fmt.Sprintf("cpu mode(%d)", uint8(m))
}

// headerSize is the size of struct perf_event_header
const headerSize = 8

// Header is the header at the start of every record
type Header struct {
	Type Type
	Misc uint16
	Size uint16
}

// RecordHeader returns the header itself, so every record embedding a Header implements part of Record.
func (h Header) RecordHeader() Header {
	return h
}

// CPUMode returns the CPU mode encoded in the misc field
func (h Header) CPUMode() CPUMode {
	return CPUMode(h.Misc & MiscCPUModeMask)
}

func (h Header) isRecord() {}

// Record is a decoded record. It is one of *Mmap, *Lost, *Comm, *Exit, *Throttle, *Unthrottle, *Fork, *Read,
// *Sample, *Mmap2, *Aux, *ItraceStart, *LostSamples, *Switch, *SwitchCPUWide, *Namespaces, *Ksymbol, *BPFEvent,
// *Cgroup, *TextPoke, *AuxOutputHwID or *Unknown.
type Record interface {
	RecordHeader() Header
	isRecord()
}

// Format describes the perf event settings which determine the layout of records
type Format struct {
	SampleType  SampleType
	ReadFormat  ReadFormat
	SampleIDAll bool
	// RegsUser is the sample_regs_user mask
	RegsUser uint64
	// RegsIntr is the sample_regs_intr mask
	RegsIntr uint64
	// BranchSampleType is the branch_sample_type mask
	BranchSampleType uint64
}

// BranchSampleHWIndex is PERF_SAMPLE_BRANCH_HW_INDEX, if set in branch_sample_type the branch stack starts with
// the hardware index
const BranchSampleHWIndex = 1 << 17

// Decode decodes one raw record, including its header. Slices in the returned record point into 'raw'.
// If the header size does not match the length of 'raw', or the body does not exactly fill the declared size,
// a *SizeError is returned.
func Decode(f Format, raw []byte) (Record, error) {
	if len(raw) < headerSize {
		return nil, fmt.Errorf("decode record header: %w", io.ErrUnexpectedEOF)
	}

	h := Header{
		Type: Type(nativeEndian.Uint32(raw[0:])),
		Misc: nativeEndian.Uint16(raw[4:]),
		Size: nativeEndian.Uint16(raw[6:]),
	}
	if int(h.Size) != len(raw) {
		return nil, &SizeError{Type: h.Type, Declared: int(h.Size), Consumed: len(raw)}
	}

	c := newCursor(raw[headerSize:])

	decodeBody, known := bodyDecoders[h.Type]
	if !known {
		return &Unknown{Header: h, Data: c.rest()}, nil
	}

	rec := decodeBody(c, h, f)
	if t, ok := rec.(trailed); ok && f.SampleIDAll {
		t.setSampleID(decodeSampleID(c, f.SampleType))
	}

	if err := c.finish(h); err != nil {
		return nil, err
	}

	return rec, nil
}

type bodyDecoder func(c *cursor, h Header, f Format) Record

var bodyDecoders = map[Type]bodyDecoder{
	TypeMmap:          decodeMmap,
	TypeLost:          decodeLost,
	TypeComm:          decodeComm,
	TypeExit:          decodeExit,
	TypeThrottle:      decodeThrottle,
	TypeUnthrottle:    decodeUnthrottle,
	TypeFork:          decodeFork,
	TypeRead:          decodeRead,
	TypeSample:        decodeSample,
	TypeMmap2:         decodeMmap2,
	TypeAux:           decodeAux,
	TypeItraceStart:   decodeItraceStart,
	TypeLostSamples:   decodeLostSamples,
	TypeSwitch:        decodeSwitch,
	TypeSwitchCPUWide: decodeSwitchCPUWide,
	TypeNamespaces:    decodeNamespaces,
	TypeKsymbol:       decodeKsymbol,
	TypeBPFEvent:      decodeBPFEvent,
	TypeCgroup:        decodeCgroup,
	TypeTextPoke:      decodeTextPoke,
	TypeAuxOutputHwID: decodeAuxOutputHwID,
}

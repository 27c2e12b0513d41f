package perfevent

import (
	"github.com/dylandreimerink/perfevent/internal/syscall"
	"github.com/dylandreimerink/perfevent/kernelsupport"
	"github.com/dylandreimerink/perfevent/record"
)

// OverflowBy decides when a sampling event overflows and writes a sample. It is one of Period or Freq.
type OverflowBy interface {
	isOverflowBy()
}

// Period overflows after every N events
type Period uint64

func (Period) isOverflowBy() {}

// Freq overflows N times per second, the kernel adjusts the period to reach the frequency
type Freq uint64

func (Freq) isOverflowBy() {}

// WeightRepr selects how the sample weight is reported
type WeightRepr int

const (
	// WeightReprFull reports the weight as one 64 bit value
	WeightReprFull WeightRepr = iota
	// WeightReprVars reports the weight as separate components, requires linux-5.12.
	// On older kernels no weight is sampled at all.
	WeightReprVars
)

// BranchSampleType is the perf_branch_sample_type, it selects which branches are recorded in the branch stack
type BranchSampleType uint64

const (
	BranchSampleUser BranchSampleType = 1 << iota
	BranchSampleKernel
	BranchSampleHV
	BranchSampleAny
	BranchSampleAnyCall
	BranchSampleAnyReturn
	BranchSampleIndCall
	BranchSampleAbortTX
	BranchSampleInTX
	BranchSampleNoTX
	BranchSampleCond
	BranchSampleCallStack
	BranchSampleIndJump
	BranchSampleCall
	BranchSampleNoFlags
	BranchSampleNoCycles
	BranchSampleTypeSave
	// BranchSampleHWIndex adds the hardware index to the branch stack, requires linux-5.7
	BranchSampleHWIndex
)

// SampleRecordFields selects the fields included in sample records. Pointer fields are enabled when not nil.
type SampleRecordFields struct {
	// Identifier requires linux-3.12
	Identifier bool
	IP         bool
	Tid        bool
	Time       bool
	Addr       bool
	ID         bool
	StreamID   bool
	CPU        bool
	Period     bool
	// Read includes the counter values, in the group read format
	Read bool
	// Callchain is the maximum callchain depth, the depth is only honored from linux-4.8
	Callchain *uint16
	Raw       bool
	// BranchStack selects which branches are sampled
	BranchStack *BranchSampleType
	// RegsUser is the mask of user registers to sample, see asm/perf_regs.h
	RegsUser *uint64
	// StackUser is the size in bytes of the user stack dump
	StackUser   *uint32
	Weight      *WeightRepr
	DataSrc     bool
	// Transaction requires linux-3.13
	Transaction bool
	// RegsIntr is the mask of registers to sample on interrupt, requires linux-3.19
	RegsIntr *uint64
	// PhysAddr requires linux-4.13
	PhysAddr bool
	// Aux is the size of the AUX area snapshot, requires linux-5.5
	Aux *uint32
	// Cgroup requires linux-5.7
	Cgroup bool
	// DataPageSize and CodePageSize require linux-5.11
	DataPageSize bool
	CodePageSize bool
}

func (f SampleRecordFields) apply(caps kernelsupport.CapabilitySet, a *Attr) {
	var st record.SampleType
	set := func(flag record.SampleType, enabled bool) {
		if enabled {
			st |= flag
		}
	}

	set(record.SampleTypeIdentifier, f.Identifier && caps.Has(kernelsupport.KFeatPerfSampleIdentifier))
	set(record.SampleTypeIP, f.IP)
	set(record.SampleTypeTID, f.Tid)
	set(record.SampleTypeTime, f.Time)
	set(record.SampleTypeAddr, f.Addr)
	set(record.SampleTypeID, f.ID)
	set(record.SampleTypeStreamID, f.StreamID)
	set(record.SampleTypeCPU, f.CPU)
	set(record.SampleTypePeriod, f.Period)
	set(record.SampleTypeRaw, f.Raw)
	set(record.SampleTypeDataSrc, f.DataSrc)
	set(record.SampleTypeTransaction, f.Transaction && caps.Has(kernelsupport.KFeatPerfSampleTransaction))
	set(record.SampleTypePhysAddr, f.PhysAddr && caps.Has(kernelsupport.KFeatPerfPhysAddr))
	set(record.SampleTypeCgroup, f.Cgroup && caps.Has(kernelsupport.KFeatPerfCgroup))
	set(record.SampleTypeDataPageSize, f.DataPageSize && caps.Has(kernelsupport.KFeatPerfPageSize))
	set(record.SampleTypeCodePageSize, f.CodePageSize && caps.Has(kernelsupport.KFeatPerfPageSize))

	if f.Read {
		st |= record.SampleTypeRead
		a.raw.ReadFormat = uint64(groupReadFormat(caps))
	}

	if f.Callchain != nil {
		st |= record.SampleTypeCallchain
		if caps.Has(kernelsupport.KFeatPerfSampleMaxStack) {
			a.raw.SampleMaxStack = *f.Callchain
		}
	}

	if f.BranchStack != nil {
		st |= record.SampleTypeBranchStack
		bst := *f.BranchStack
		if !caps.Has(kernelsupport.KFeatPerfBranchHWIndex) {
			bst &^= BranchSampleHWIndex
		}
		a.raw.BranchSampleType = uint64(bst)
	}

	if f.RegsUser != nil {
		st |= record.SampleTypeRegsUser
		a.raw.SampleRegsUser = *f.RegsUser
	}

	if f.StackUser != nil {
		st |= record.SampleTypeStackUser
		a.raw.SampleStackUser = *f.StackUser
	}

	if f.Weight != nil {
		switch *f.Weight {
		case WeightReprFull:
			st |= record.SampleTypeWeight
		case WeightReprVars:
			set(record.SampleTypeWeightStruct, caps.Has(kernelsupport.KFeatPerfWeightStruct))
		}
	}

	if f.RegsIntr != nil && caps.Has(kernelsupport.KFeatPerfRegsIntr) {
		st |= record.SampleTypeRegsIntr
		a.raw.SampleRegsIntr = *f.RegsIntr
	}

	if f.Aux != nil && caps.Has(kernelsupport.KFeatPerfAuxSample) {
		st |= record.SampleTypeAux
		a.raw.AUXSampleSize = *f.Aux
	}

	a.raw.SampleType = uint64(st)
}

// SamplingConfig holds the attr settings of sampling events. Settings which the capability set does not support
// are dropped.
type SamplingConfig struct {
	CountingConfig

	// SampleIDAll adds a SampleID trailer to non sample records
	SampleIDAll bool
	// Mmap emits records for executable mmaps
	Mmap bool
	// MmapData emits records for non executable mmaps
	MmapData bool
	// Comm emits records for comm changes
	Comm bool
	// Task emits fork and exit records
	Task bool
	// Mmap2 emits mmap2 records instead of mmap records, requires linux-3.12
	Mmap2 bool
	// CommExec flags comm records caused by an exec, requires linux-3.16
	CommExec bool
	// ContextSwitch emits switch records, requires linux-4.3
	ContextSwitch bool
	// Namespaces emits namespaces records, requires linux-4.12
	Namespaces bool
	// Ksymbol emits ksymbol records, requires linux-5.1
	Ksymbol bool
	// BPFEvent emits BPF program load and unload records, requires linux-5.1
	BPFEvent bool
	// AuxOutput makes the event output to the AUX area of its group leader, requires linux-5.4
	AuxOutput bool
	// CgroupRecords emits cgroup records, requires linux-5.7
	CgroupRecords bool
	// TextPoke emits text poke records, requires linux-5.9
	TextPoke bool
	// BuildID reports build ids instead of inodes in mmap2 records, requires linux-5.12
	BuildID bool

	// PreciseIP is the skid constraint from 0 (arbitrary skid) to 3 (zero skid)
	PreciseIP uint8
	// WakeupEvents wakes up readers after this many samples
	WakeupEvents uint32
	// WakeupWatermark wakes up readers after this many bytes, it takes precedence over WakeupEvents
	WakeupWatermark uint32
	// ClockID selects the clock of the time fields, requires linux-4.1
	ClockID *int32
	// Sigtrap sends a synchronous SIGTRAP with SigData on overflow, requires linux-5.13.
	// It implies RemoveOnExec since the kernel does not allow one without the other.
	Sigtrap bool
	SigData uint64

	Fields SampleRecordFields
}

// NewSamplingAttr creates an attr which samples 'event' in the domains of 'scopes' every time it overflows.
// A nil 'overflow' is a period of 0, which never overflows.
func NewSamplingAttr(
	caps kernelsupport.CapabilitySet,
	event Event,
	scopes EventScope,
	overflow OverflowBy,
	cfg SamplingConfig,
) *Attr {
	a := newAttr(caps, event, scopes, ModeSampling)

	switch o := overflow.(type) {
	case Freq:
		a.raw.Flags |= syscall.PerfAttrFlagsFreq
		a.raw.SamplePeriodFreq = uint64(o)
	case Period:
		a.raw.SamplePeriodFreq = uint64(o)
	}

	cfg.CountingConfig.apply(caps, a)

	a.setFlag(syscall.PerfAttrFlagsSampleIDAll, cfg.SampleIDAll)
	a.setFlag(syscall.PerfAttrFlagsMmap, cfg.Mmap)
	a.setFlag(syscall.PerfAttrFlagsMmapData, cfg.MmapData)
	a.setFlag(syscall.PerfAttrFlagsComm, cfg.Comm)
	a.setFlag(syscall.PerfAttrFlagsTask, cfg.Task)

	type gated struct {
		flag    syscall.PerfAttrFlags
		feature kernelsupport.PerfSupport
		enabled bool
	}
	for _, g := range []gated{
		{flag: syscall.PerfAttrFlagsMmap2, feature: kernelsupport.KFeatPerfMmap2, enabled: cfg.Mmap2},
		{flag: syscall.PerfAttrFlagsCommExec, feature: kernelsupport.KFeatPerfCommExec, enabled: cfg.CommExec},
		{flag: syscall.PerfAttrFlagsContextSwitch, feature: kernelsupport.KFeatPerfContextSwitch, enabled: cfg.ContextSwitch},
		{flag: syscall.PerfAttrFlagsNamespaces, feature: kernelsupport.KFeatPerfNamespaces, enabled: cfg.Namespaces},
		{flag: syscall.PerfAttrFlagsKsymbol, feature: kernelsupport.KFeatPerfKsymbol, enabled: cfg.Ksymbol},
		{flag: syscall.PerfAttrFlagsBpfEvent, feature: kernelsupport.KFeatPerfBPFEvent, enabled: cfg.BPFEvent},
		{flag: syscall.PerfAttrFlagsAuxOutput, feature: kernelsupport.KFeatPerfAuxOutput, enabled: cfg.AuxOutput},
		{flag: syscall.PerfAttrFlagsCgroup, feature: kernelsupport.KFeatPerfCgroup, enabled: cfg.CgroupRecords},
		{flag: syscall.PerfAttrFlagsTextPoke, feature: kernelsupport.KFeatPerfTextPoke, enabled: cfg.TextPoke},
		// build_id only has meaning for mmap2 records
		{flag: syscall.PerfAttrFlagsBuildID, feature: kernelsupport.KFeatPerfBuildID, enabled: cfg.BuildID && cfg.Mmap2},
	} {
		a.setFlag(g.flag, g.enabled && caps.Has(g.feature))
	}

	precise := cfg.PreciseIP
	if precise > 3 {
		precise = 3
	}
	a.raw.Flags |= syscall.PerfAttrFlags(precise) << syscall.PerfAttrPreciseIPShift

	if cfg.WakeupWatermark > 0 {
		a.raw.Flags |= syscall.PerfAttrFlagsWatermark
		a.raw.WakeupEventsWatermark = cfg.WakeupWatermark
	} else {
		a.raw.WakeupEventsWatermark = cfg.WakeupEvents
	}

	if cfg.ClockID != nil && caps.Has(kernelsupport.KFeatPerfClockID) {
		a.raw.Flags |= syscall.PerfAttrFlagsUseClockid
		a.raw.ClockID = *cfg.ClockID
	}

	if cfg.Sigtrap && caps.Has(kernelsupport.KFeatPerfSigtrap) {
		a.raw.Flags |= syscall.PerfAttrFlagsSigtrap | syscall.PerfAttrFlagsRemoveOnExec
		a.raw.SigData = cfg.SigData
	}

	cfg.Fields.apply(caps, a)

	return a
}

// OverflowBy returns the overflow condition of a sampling attr, nil for counting attrs
func (a *Attr) OverflowBy() OverflowBy {
	if a.mode != ModeSampling {
		return nil
	}
	if a.hasFlag(syscall.PerfAttrFlagsFreq) {
		return Freq(a.raw.SamplePeriodFreq)
	}
	return Period(a.raw.SamplePeriodFreq)
}

// PreciseIP returns the skid constraint of the attr
func (a *Attr) PreciseIP() uint8 {
	return uint8((a.raw.Flags & syscall.PerfAttrPreciseIPMask) >> syscall.PerfAttrPreciseIPShift)
}

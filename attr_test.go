package perfevent

import (
	"encoding/binary"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dylandreimerink/perfevent/internal/syscall"
	"github.com/dylandreimerink/perfevent/kernelsupport"
	"github.com/dylandreimerink/perfevent/record"
)

func capsFor(t *testing.T, major, patch int) kernelsupport.CapabilitySet {
	t.Helper()

	cs, err := kernelsupport.Resolve(kernelsupport.KernelVersion{Major: major, Patch: patch}, nil, nil)
	require.NoError(t, err)
	return cs
}

func TestNewCountingAttr(t *testing.T) {
	tests := []struct {
		name       string
		caps       kernelsupport.CapabilitySet
		size       uint32
		readFormat record.ReadFormat
	}{
		{
			name:       "baseline",
			caps:       capsFor(t, 3, 10),
			size:       96,
			readFormat: record.FormatTotalTimeEnabled | record.FormatTotalTimeRunning | record.FormatID | record.FormatGroup,
		},
		{
			name:       "format lost",
			caps:       capsFor(t, 6, 1),
			size:       128,
			readFormat: record.FormatTotalTimeEnabled | record.FormatTotalTimeRunning | record.FormatID | record.FormatGroup | record.FormatLost,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewCountingAttr(tt.caps, SoftwareCPUClock, ScopeUser, CountingConfig{Inherit: true})

			assert.Equal(t, ModeCounting, a.Mode())
			assert.Equal(t, tt.size, a.Size())
			assert.Len(t, a.Bytes(), int(tt.size))
			assert.Equal(t, tt.readFormat, a.ReadFormat())
			assert.Equal(t, TypeSoftware, a.Type())
			assert.Equal(t, uint64(SoftwareCPUClock), a.Config())

			assert.True(t, a.Disabled())
			assert.True(t, a.hasFlag(syscall.PerfAttrFlagsInherit))
			assert.Zero(t, a.SampleType())
			assert.Zero(t, a.raw.SamplePeriodFreq)
			assert.Nil(t, a.OverflowBy())
			assert.False(t, a.SampleIDAll())

			assert.Equal(t, ScopeUser, a.Scopes())
			assert.False(t, a.hasFlag(syscall.PerfAttrFlagsExcludeUser))
			assert.True(t, a.hasFlag(syscall.PerfAttrFlagsExcludeKernel|syscall.PerfAttrFlagsExcludeHV))
		})
	}
}

func TestCountingConfigGating(t *testing.T) {
	cfg := CountingConfig{InheritThread: true, RemoveOnExec: true}

	old := NewCountingAttr(capsFor(t, 5, 12), HardwareInstructions, ScopeAll, cfg)
	assert.False(t, old.hasFlag(syscall.PerfAttrFlagsInheritThread))
	assert.False(t, old.hasFlag(syscall.PerfAttrFlagsRemoveOnExec))

	cur := NewCountingAttr(capsFor(t, 5, 13), HardwareInstructions, ScopeAll, cfg)
	assert.True(t, cur.hasFlag(syscall.PerfAttrFlagsInheritThread))
	assert.True(t, cur.hasFlag(syscall.PerfAttrFlagsRemoveOnExec))
}

func ptr[T any](v T) *T {
	return &v
}

func samplingTestConfig() SamplingConfig {
	return SamplingConfig{
		SampleIDAll:     true,
		Mmap2:           true,
		BuildID:         true,
		CgroupRecords:   true,
		Sigtrap:         true,
		SigData:         9,
		PreciseIP:       5,
		WakeupWatermark: 4096,
		ClockID:         ptr(int32(1)),
		Fields: SampleRecordFields{
			IP:          true,
			Tid:         true,
			Time:        true,
			Read:        true,
			Cgroup:      true,
			Callchain:   ptr(uint16(6)),
			BranchStack: ptr(BranchSampleAny | BranchSampleHWIndex),
			Weight:      ptr(WeightReprVars),
		},
	}
}

func TestNewSamplingAttr(t *testing.T) {
	base := record.SampleTypeIP | record.SampleTypeTID | record.SampleTypeTime | record.SampleTypeRead |
		record.SampleTypeCallchain | record.SampleTypeBranchStack

	tests := []struct {
		name        string
		caps        kernelsupport.CapabilitySet
		size        uint32
		sampleType  record.SampleType
		maxStack    uint16
		branchType  BranchSampleType
		setFlags    syscall.PerfAttrFlags
		unsetFlags  syscall.PerfAttrFlags
		wantClockID int32
		sigData     uint64
	}{
		{
			name:       "4.7 drops max stack and everything newer",
			caps:       capsFor(t, 4, 7),
			size:       112,
			sampleType: base,
			branchType: BranchSampleAny,
			setFlags:   syscall.PerfAttrFlagsMmap2 | syscall.PerfAttrFlagsUseClockid,
			unsetFlags: syscall.PerfAttrFlagsBuildID | syscall.PerfAttrFlagsCgroup | syscall.PerfAttrFlagsSigtrap |
				syscall.PerfAttrFlagsRemoveOnExec,
			wantClockID: 1,
		},
		{
			name:        "4.19 has max stack",
			caps:        capsFor(t, 4, 19),
			size:        112,
			sampleType:  base,
			maxStack:    6,
			branchType:  BranchSampleAny,
			setFlags:    syscall.PerfAttrFlagsMmap2,
			unsetFlags:  syscall.PerfAttrFlagsBuildID | syscall.PerfAttrFlagsCgroup | syscall.PerfAttrFlagsSigtrap,
			wantClockID: 1,
		},
		{
			name:       "6.3 has everything",
			caps:       capsFor(t, 6, 3),
			size:       136,
			sampleType: base | record.SampleTypeWeightStruct | record.SampleTypeCgroup,
			maxStack:   6,
			branchType: BranchSampleAny | BranchSampleHWIndex,
			setFlags: syscall.PerfAttrFlagsMmap2 | syscall.PerfAttrFlagsBuildID | syscall.PerfAttrFlagsCgroup |
				syscall.PerfAttrFlagsSigtrap | syscall.PerfAttrFlagsRemoveOnExec,
			wantClockID: 1,
			sigData:     9,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewSamplingAttr(tt.caps, HardwareCPUCycles, ScopeAll, Freq(4000), samplingTestConfig())

			assert.Equal(t, ModeSampling, a.Mode())
			assert.Equal(t, tt.size, a.Size())
			assert.Equal(t, tt.sampleType, a.SampleType(), "got %s", a.SampleType())
			assert.Equal(t, tt.maxStack, a.raw.SampleMaxStack)
			assert.Equal(t, uint64(tt.branchType), a.raw.BranchSampleType)
			assert.True(t, a.hasFlag(tt.setFlags))
			assert.Zero(t, a.raw.Flags&tt.unsetFlags)
			assert.Equal(t, tt.wantClockID, a.raw.ClockID)
			assert.Equal(t, tt.sigData, a.raw.SigData)

			assert.True(t, a.Disabled())
			assert.True(t, a.SampleIDAll())
			assert.Equal(t, uint8(3), a.PreciseIP())
			assert.True(t, a.hasFlag(syscall.PerfAttrFlagsWatermark))
			assert.Equal(t, uint32(4096), a.raw.WakeupEventsWatermark)
			assert.Equal(t, Freq(4000), a.OverflowBy())
			assert.Equal(t, ScopeAll, a.Scopes())

			rf := groupReadFormat(tt.caps)
			assert.Equal(t, rf, a.ReadFormat())

			f := a.RecordFormat()
			assert.Equal(t, tt.sampleType, f.SampleType)
			assert.Equal(t, rf, f.ReadFormat)
			assert.True(t, f.SampleIDAll)
			assert.Equal(t, uint64(tt.branchType), f.BranchSampleType)
		})
	}
}

func TestNewSamplingAttrPeriod(t *testing.T) {
	caps := capsFor(t, 5, 15)

	a := NewSamplingAttr(caps, SoftwareTaskClock, ScopeUser, Period(100000), SamplingConfig{
		WakeupEvents: 16,
		Fields: SampleRecordFields{
			Weight: ptr(WeightReprFull),
		},
	})
	assert.False(t, a.hasFlag(syscall.PerfAttrFlagsFreq))
	assert.False(t, a.hasFlag(syscall.PerfAttrFlagsWatermark))
	assert.Equal(t, uint32(16), a.raw.WakeupEventsWatermark)
	assert.Equal(t, Period(100000), a.OverflowBy())
	assert.Equal(t, record.SampleTypeWeight, a.SampleType())
	assert.Zero(t, a.ReadFormat())

	// Without an overflow the event never overflows
	never := NewSamplingAttr(caps, SoftwareDummy, ScopeAll, nil, SamplingConfig{Mmap: true})
	assert.Equal(t, Period(0), never.OverflowBy())
	assert.Equal(t, ModeSampling, never.Mode())
}

func TestSampleRecordFieldsGating(t *testing.T) {
	fields := SampleRecordFields{
		Identifier:   true,
		Transaction:  true,
		RegsIntr:     ptr(uint64(0xff)),
		PhysAddr:     true,
		Aux:          ptr(uint32(4096)),
		DataPageSize: true,
		CodePageSize: true,
		Weight:       ptr(WeightReprVars),
	}

	old := NewSamplingAttr(capsFor(t, 3, 10), HardwareCPUCycles, ScopeAll, Period(1), SamplingConfig{Fields: fields})
	assert.Zero(t, old.SampleType())
	assert.Zero(t, old.raw.SampleRegsIntr)
	assert.Zero(t, old.raw.AUXSampleSize)

	id := NewSamplingAttr(capsFor(t, 3, 12), HardwareCPUCycles, ScopeAll, Period(1), SamplingConfig{Fields: fields})
	assert.Equal(t, record.SampleTypeIdentifier, id.SampleType())

	tx := NewSamplingAttr(capsFor(t, 3, 13), HardwareCPUCycles, ScopeAll, Period(1), SamplingConfig{Fields: fields})
	assert.Equal(t, record.SampleTypeIdentifier|record.SampleTypeTransaction, tx.SampleType())

	cur := NewSamplingAttr(capsFor(t, 5, 12), HardwareCPUCycles, ScopeAll, Period(1), SamplingConfig{Fields: fields})
	assert.Equal(t, record.SampleTypeIdentifier|record.SampleTypeTransaction|record.SampleTypeRegsIntr|
		record.SampleTypePhysAddr|record.SampleTypeAux|record.SampleTypeDataPageSize|record.SampleTypeCodePageSize|
		record.SampleTypeWeightStruct, cur.SampleType())
	assert.Equal(t, uint64(0xff), cur.raw.SampleRegsIntr)
	assert.Equal(t, uint32(4096), cur.raw.AUXSampleSize)
}

func TestProbeAttr(t *testing.T) {
	caps := capsFor(t, 5, 4)

	kprobe := KprobeEvent{PMUType: 6, RetprobeBit: 0, Retprobe: true, Func: "do_sys_openat2", Offset: 4}
	a := NewCountingAttr(caps, kprobe, ScopeKernel, CountingConfig{})
	assert.Equal(t, "do_sys_openat2", a.ProbeTarget())
	assert.Equal(t, uint64(uintptr(unsafe.Pointer(&a.target[0]))), a.raw.Config1)
	assert.Equal(t, uint64(1), a.Config())
	assert.Equal(t, uint64(4), a.raw.Config2)

	ev, err := a.Event()
	require.NoError(t, err)
	assert.Equal(t, kprobe, ev)

	addrProbe := KprobeEvent{PMUType: 6, Addr: 0xffffffff81000000}
	a = NewCountingAttr(caps, addrProbe, ScopeKernel, CountingConfig{})
	assert.Empty(t, a.ProbeTarget())
	assert.Zero(t, a.raw.Config1)
	ev, err = a.Event()
	require.NoError(t, err)
	assert.Equal(t, addrProbe, ev)

	uprobe := UprobeEvent{PMUType: 7, RetprobeBit: 0, Path: "/bin/bash", Offset: 0x1234}
	a = NewSamplingAttr(caps, uprobe, ScopeUser, Period(1), SamplingConfig{})
	assert.Equal(t, "/bin/bash", a.ProbeTarget())
	ev, err = a.Event()
	require.NoError(t, err)
	assert.Equal(t, uprobe, ev)
}

func TestAttrEventRoundTrip(t *testing.T) {
	caps := capsFor(t, 5, 10)

	events := []Event{
		HardwareCPUCycles,
		HardwareRefCPUCycles,
		SoftwarePageFaults,
		SoftwareCgroupSwitches,
		HardwareCacheEvent{Cache: CacheLL, Op: CacheOpWrite, Result: CacheResultMiss},
		RawEvent{Config: 0x1c2},
		TracepointEvent{ID: 312},
	}
	for _, e := range events {
		a := NewCountingAttr(caps, e, ScopeAll, CountingConfig{})
		got, err := a.Event()
		require.NoError(t, err)
		assert.Equal(t, e, got)
		assert.Empty(t, a.ProbeTarget())
	}
}

func TestAttrFromBytes(t *testing.T) {
	caps := capsFor(t, 5, 13)
	a := NewSamplingAttr(caps, HardwareCPUCycles, ScopeUser, Freq(99), samplingTestConfig())

	raw := a.Bytes()
	require.Len(t, raw, 128)

	b, err := AttrFromBytes(raw)
	require.NoError(t, err)
	assert.Equal(t, ModeSampling, b.Mode())
	assert.Equal(t, a.SampleType(), b.SampleType())
	assert.Equal(t, a.RecordFormat(), b.RecordFormat())
	assert.Equal(t, raw, b.Bytes())

	c, err := AttrFromBytes(NewCountingAttr(caps, SoftwareCPUClock, ScopeAll, CountingConfig{}).Bytes())
	require.NoError(t, err)
	assert.Equal(t, ModeCounting, c.Mode())

	_, err = AttrFromBytes(make([]byte, 32))
	assert.Error(t, err)

	long := append(append([]byte(nil), raw...), make([]byte, 64)...)
	_, err = AttrFromBytes(long)
	assert.NoError(t, err)

	long[len(long)-1] = 1
	_, err = AttrFromBytes(long)
	assert.Error(t, err)
}

func TestAttrFromBytesSizeField(t *testing.T) {
	caps := capsFor(t, 5, 13)
	full := NewCountingAttr(caps, SoftwareCPUClock, ScopeAll, CountingConfig{}).Bytes()
	full = append(full, make([]byte, int(syscall.MaxAttrSize)-len(full))...)

	withSize := func(b []byte, size uint32) []byte {
		out := append([]byte(nil), b...)
		binary.NativeEndian.PutUint32(out[4:], size)
		return out
	}

	// Larger than the bytes we were handed
	_, err := AttrFromBytes(withSize(full, 4096))
	assert.Error(t, err)

	// Smaller than PERF_ATTR_SIZE_VER0
	_, err = AttrFromBytes(withSize(full, 32))
	assert.Error(t, err)

	// Zero tail past MaxAttrSize is trimmed and the size follows
	long := append(withSize(full, 512), make([]byte, 512-len(full))...)
	a, err := AttrFromBytes(long)
	require.NoError(t, err)
	assert.Equal(t, syscall.MaxAttrSize, a.Size())
	assert.Len(t, a.Bytes(), int(a.Size()))

	a, err = AttrFromBytes(withSize(full, 96))
	require.NoError(t, err)
	assert.Equal(t, uint32(96), a.Size())
	assert.Len(t, a.Bytes(), 96)

	a, err = AttrFromBytes(withSize(full, 0))
	require.NoError(t, err)
	assert.Equal(t, syscall.MaxAttrSize, a.Size())
	assert.Len(t, a.Bytes(), int(a.Size()))
}

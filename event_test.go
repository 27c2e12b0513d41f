package perfevent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEvent(t *testing.T) {
	for e := HardwareEvent(0); e < hardwareMax; e++ {
		enc := e.Encode()
		got, err := DecodeEvent(enc.Type, enc.Config)
		require.NoError(t, err)
		assert.Equal(t, e, got)
	}

	for e := SoftwareEvent(0); e < softwareMax; e++ {
		enc := e.Encode()
		got, err := DecodeEvent(enc.Type, enc.Config)
		require.NoError(t, err)
		assert.Equal(t, e, got)
	}

	cache := HardwareCacheEvent{Cache: CacheDTLB, Op: CacheOpPrefetch, Result: CacheResultAccess}
	enc := cache.Encode()
	assert.Equal(t, uint64(3|2<<8), enc.Config)
	got, err := DecodeEvent(enc.Type, enc.Config)
	require.NoError(t, err)
	assert.Equal(t, cache, got)
}

func TestDecodeEventUnknown(t *testing.T) {
	tests := []struct {
		name   string
		typ    uint32
		config uint64
	}{
		{name: "hardware config", typ: TypeHardware, config: uint64(hardwareMax)},
		{name: "software config", typ: TypeSoftware, config: 1000},
		{name: "cache config", typ: TypeHWCache, config: 1 << 24},
		{name: "breakpoint", typ: TypeBreakpoint},
		{name: "dynamic pmu", typ: 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeEvent(tt.typ, tt.config)
			assert.ErrorIs(t, err, ErrUnknownEvent)
		})
	}
}

func TestProbeEncode(t *testing.T) {
	enc := KprobeEvent{PMUType: 6, RetprobeBit: 0, Retprobe: true, Func: "vfs_read"}.Encode()
	assert.Equal(t, EventEncoding{Type: 6, Config: 1, Target: "vfs_read"}, enc)

	enc = KprobeEvent{PMUType: 6, Addr: 0xffff0000, Offset: 8}.Encode()
	assert.Equal(t, EventEncoding{Type: 6, Config2: 0xffff0000}, enc)

	enc = UprobeEvent{PMUType: 7, RetprobeBit: 3, Retprobe: true, Path: "/bin/sh", Offset: 0x40}.Encode()
	assert.Equal(t, EventEncoding{Type: 7, Config: 1 << 3, Config2: 0x40, Target: "/bin/sh"}, enc)
}

func TestParseEventName(t *testing.T) {
	e, err := ParseEventName("cpu-cycles")
	require.NoError(t, err)
	assert.Equal(t, HardwareCPUCycles, e)

	e, err = ParseEventName("task-clock")
	require.NoError(t, err)
	assert.Equal(t, SoftwareTaskClock, e)

	_, err = ParseEventName("not-an-event")
	assert.ErrorIs(t, err, ErrUnknownEvent)
}

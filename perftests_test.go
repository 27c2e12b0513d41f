//go:build perftests

package perfevent

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/dylandreimerink/perfevent/kernelsupport"
	"github.com/dylandreimerink/perfevent/record"
)

// runningCaps resolves the capabilities of the running kernel. The testsuite sets PERFEVENT_FEATURE_VERSION to run
// the same tests with the features of older kernels.
func runningCaps(t *testing.T) kernelsupport.CapabilitySet {
	t.Helper()

	kernel, err := kernelsupport.RunningKernel()
	require.NoError(t, err)

	var override *kernelsupport.FeatureVersion
	if env := os.Getenv("PERFEVENT_FEATURE_VERSION"); env != "" {
		fv, err := kernelsupport.ParseFeatureVersion(env)
		require.NoError(t, err)
		override = &fv
	}

	caps, err := kernelsupport.Resolve(kernel, override, nil)
	require.NoError(t, err)
	return caps
}

var spinSink uint64

// spin keeps the CPU busy for 'd'
func spin(d time.Duration) {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		for i := 0; i < 10000; i++ {
			spinSink += uint64(i) * 31
		}
	}
}

func TestPerfCountingCPUClock(t *testing.T) {
	caps := runningCaps(t)

	attr := NewCountingAttr(caps, SoftwareCPUClock, ScopeUser|ScopeHost, CountingConfig{})
	counting, err := NewBuilder().
		CallingProcess().
		AnyCPU().
		BuildCounting(attr)
	require.NoError(t, err)
	defer counting.Close()

	res, err := counting.Result()
	require.NoError(t, err)
	assert.Zero(t, res.EventCount, "count before enable")

	// Disabling a counter which was never enabled changes nothing
	require.NoError(t, counting.Disable())
	spin(5 * time.Millisecond)
	still, err := counting.Result()
	require.NoError(t, err)
	assert.Equal(t, res.EventCount, still.EventCount, "count changed after disable while disabled")

	require.NoError(t, counting.Enable())
	spin(20 * time.Millisecond)
	require.NoError(t, counting.Disable())

	frozen, err := counting.Result()
	require.NoError(t, err)
	assert.NotZero(t, frozen.EventCount)
	assert.NotZero(t, frozen.TimeEnabled)

	again, err := counting.Result()
	require.NoError(t, err)
	assert.Equal(t, frozen.EventCount, again.EventCount, "count changed while disabled")

	require.NoError(t, counting.Enable())
	spin(5 * time.Millisecond)

	running, err := counting.Result()
	require.NoError(t, err)
	assert.NotEqual(t, frozen.EventCount, running.EventCount)
}

func TestPerfCountingGroup(t *testing.T) {
	caps := runningCaps(t)

	group, err := NewBuilder().
		CallingProcess().
		AnyCPU().
		BuildCountingGroup()
	require.NoError(t, err)
	defer group.Close()

	events := []Event{SoftwareTaskClock, SoftwarePageFaults, SoftwareContextSwitches}
	var members []*GroupMember
	for _, event := range events {
		gm, err := group.AddMember(NewCountingAttr(caps, event, ScopeUser|ScopeKernel, CountingConfig{}))
		require.NoError(t, err)
		members = append(members, gm)
	}

	require.NoError(t, group.Enable())

	spin(10 * time.Millisecond)
	// Touch fresh memory to fault in pages
	buf := make([]byte, 1<<20)
	for i := 0; i < len(buf); i += 4096 {
		buf[i] = 1
	}
	time.Sleep(time.Millisecond)

	require.NoError(t, group.Disable())

	res, err := group.Result()
	require.NoError(t, err)
	require.Len(t, res.Members, len(events))
	assert.NotZero(t, res.TimeEnabled)

	taskClock, ok := res.Member(members[0])
	require.True(t, ok)
	assert.NotZero(t, taskClock.EventCount)

	faults, ok := res.Member(members[1])
	require.True(t, ok)
	assert.NotZero(t, faults.EventCount)

	require.NoError(t, group.Reset())
	res, err = group.Result()
	require.NoError(t, err)
	taskClock, _ = res.Member(members[0])
	assert.Zero(t, taskClock.EventCount, "count after reset")
}

// samplingSession opens a task-clock sampling session of the calling process and collects all records after
// spinning for 'd'
func samplingSession(t *testing.T, cfg SamplingConfig, d time.Duration) []*record.Sample {
	t.Helper()

	caps := runningCaps(t)
	attr := NewSamplingAttr(caps, SoftwareTaskClock, ScopeUser|ScopeKernel, Period(1000), cfg)

	sampling, err := NewBuilder().
		CallingProcess().
		AnyCPU().
		RingBufferPages(65).
		BuildSampling(attr)
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, sampling.Close())
	})

	require.NoError(t, sampling.Enable())
	spin(d)
	require.NoError(t, sampling.Disable())

	var samples []*record.Sample
	for rec, err := range sampling.Records() {
		require.NoError(t, err)
		if sample, ok := rec.(*record.Sample); ok {
			samples = append(samples, sample)
		}
	}

	return samples
}

func TestPerfSamplingCallchainTimestamps(t *testing.T) {
	for depth := uint16(1); depth <= 7; depth++ {
		t.Run(fmt.Sprintf("depth %d", depth), func(t *testing.T) {
			cfg := SamplingConfig{
				Fields: SampleRecordFields{
					IP:        true,
					Tid:       true,
					Time:      true,
					Callchain: &depth,
				},
			}
			clock := int32(unix.CLOCK_MONOTONIC)
			cfg.ClockID = &clock

			samples := samplingSession(t, cfg, 10*time.Millisecond)
			require.NotEmpty(t, samples)

			caps := runningCaps(t)
			var last uint64
			for _, sample := range samples {
				assert.GreaterOrEqual(t, sample.Time, last, "timestamps are not monotonic")
				last = sample.Time

				assert.NotEmpty(t, sample.Callchain)
				if caps.Has(kernelsupport.KFeatPerfSampleMaxStack) {
					// The callchain starts with a context marker like PERF_CONTEXT_USER which is not counted
					assert.LessOrEqual(t, len(sample.Callchain), int(depth)+2)
				}
			}
		})
	}
}

func TestPerfSamplingWeight(t *testing.T) {
	tests := []struct {
		name    string
		repr    WeightRepr
		feature kernelsupport.PerfSupport
		check   func(t *testing.T, w record.Weight)
	}{
		{
			name: "full",
			repr: WeightReprFull,
			check: func(t *testing.T, w record.Weight) {
				assert.IsType(t, record.WeightFull(0), w)
			},
		},
		{
			name:    "vars",
			repr:    WeightReprVars,
			feature: kernelsupport.KFeatPerfWeightStruct,
			check: func(t *testing.T, w record.Weight) {
				assert.IsType(t, record.WeightVars{}, w)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !runningCaps(t).Has(tt.feature) {
				t.Skip("skipping, selected feature version doesn't support this weight representation")
			}

			repr := tt.repr
			samples := samplingSession(t, SamplingConfig{
				Fields: SampleRecordFields{
					IP:     true,
					Weight: &repr,
				},
			}, 10*time.Millisecond)
			require.NotEmpty(t, samples)

			for _, sample := range samples {
				require.NotNil(t, sample.Weight)
				tt.check(t, sample.Weight)
			}
		})
	}
}

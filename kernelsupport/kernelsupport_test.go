package kernelsupport

import (
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_KernelVersion_AtLeast(t *testing.T) {
	tests := []struct {
		name string
		a    KernelVersion
		b    KernelVersion
		want bool
	}{
		{
			name: "2.0.0 >= 1.0.0 - major",
			a:    KernelVersion{Major: 2},
			b:    KernelVersion{Major: 1},
			want: true,
		},
		{
			name: "2.1.0 >= 2.0.0 - patch",
			a:    KernelVersion{Major: 2, Patch: 1},
			b:    KernelVersion{Major: 2},
			want: true,
		},
		{
			name: "2.1.1 >= 2.1.0 - sublevel",
			a:    KernelVersion{Major: 2, Patch: 1, Sublevel: 1},
			b:    KernelVersion{Major: 2, Patch: 1},
			want: true,
		},
		{
			name: "2.2.2 >= 2.2.2 - exact",
			a:    KernelVersion{Major: 2, Patch: 2, Sublevel: 2},
			b:    KernelVersion{Major: 2, Patch: 2, Sublevel: 2},
			want: true,
		},
		{
			name: "1.1.0 >= 2.0.0 - major false",
			a:    KernelVersion{Major: 1, Patch: 1},
			b:    KernelVersion{Major: 2},
			want: false,
		},
		{
			name: "2.1.0 >= 2.2.0 - patch false",
			a:    KernelVersion{Major: 2, Patch: 1},
			b:    KernelVersion{Major: 2, Patch: 2},
			want: false,
		},
		{
			name: "2.2.0 >= 2.2.1 - sublevel false",
			a:    KernelVersion{Major: 2, Patch: 2},
			b:    KernelVersion{Major: 2, Patch: 2, Sublevel: 1},
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.AtLeast(tt.b))
		})
	}
}

func TestParseRelease(t *testing.T) {
	tests := []struct {
		release string
		want    KernelVersion
	}{
		{release: "5.15.0-91-generic", want: KernelVersion{Major: 5, Patch: 15}},
		{release: "6.8.12", want: KernelVersion{Major: 6, Patch: 8, Sublevel: 12}},
		{release: "4.18.0+", want: KernelVersion{Major: 4, Patch: 18}},
		{release: "5.4.3_rc1", want: KernelVersion{Major: 5, Patch: 4, Sublevel: 3}},
		{release: "6.1", want: KernelVersion{Major: 6, Patch: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.release, func(t *testing.T) {
			got, err := ParseRelease(tt.release)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseRelease("linux")
	require.Error(t, err)
}

func TestResolve_AutoSelect(t *testing.T) {
	tests := []struct {
		name     string
		kernel   KernelVersion
		selected FeatureVersion
		has      PerfSupport
		hasNot   PerfSupport
		attrSize uint32
	}{
		{
			name:     "baseline",
			kernel:   KernelVersion{Major: 3, Patch: 10},
			has:      0,
			hasNot:   KFeatPerfMmap2,
			attrSize: 96,
		},
		{
			name:     "4.8 includes max stack but not namespaces",
			kernel:   KernelVersion{Major: 4, Patch: 8, Sublevel: 3},
			selected: FeatureVersion{Major: 4, Patch: 8},
			has:      KFeatPerfMmap2 | KFeatPerfContextSwitch | KFeatPerfSampleMaxStack,
			hasNot:   KFeatPerfNamespaces,
			attrSize: 112,
		},
		{
			name:     "5.12 has weight struct but not sigtrap",
			kernel:   KernelVersion{Major: 5, Patch: 12},
			selected: FeatureVersion{Major: 5, Patch: 12},
			has:      KFeatPerfWeightStruct | KFeatPerfBuildID | KFeatPerfAuxSample,
			hasNot:   KFeatPerfSigtrap,
			attrSize: 120,
		},
		{
			name:     "higher major enables all lower majors",
			kernel:   KernelVersion{Major: 6, Patch: 1},
			selected: FeatureVersion{Major: 6, Patch: 0},
			has:      KFeatPerfFormatLost | KFeatPerfRemoveOnExec | KFeatPerfMmap2,
			hasNot:   KFeatPerfConfig3,
			attrSize: 128,
		},
		{
			name:     "newest",
			kernel:   KernelVersion{Major: 6, Patch: 8},
			selected: FeatureVersion{Major: 6, Patch: 3},
			has:      KFeatPerfConfig3,
			attrSize: 136,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs, err := Resolve(tt.kernel, nil, nil)
			require.NoError(t, err)

			assert.False(t, cs.UserSelected)
			assert.Nil(t, cs.Mismatch)
			assert.Equal(t, tt.selected, cs.Selected)
			assert.True(t, cs.Has(tt.has), "missing %s", tt.has)
			if tt.hasNot != 0 {
				assert.False(t, cs.Has(tt.hasNot), "unexpected %s", tt.hasNot)
			}
			assert.Equal(t, tt.attrSize, cs.AttrSize())
		})
	}
}

func TestResolve_Override(t *testing.T) {
	log, hook := test.NewNullLogger()

	override := FeatureVersion{Major: 5, Patch: 1}
	cs, err := Resolve(KernelVersion{Major: 6, Patch: 5}, &override, log)
	require.NoError(t, err)

	assert.True(t, cs.UserSelected)
	assert.Equal(t, override, cs.Selected)
	assert.True(t, cs.Has(KFeatPerfBPFEvent|KFeatPerfKsymbol))
	assert.False(t, cs.Has(KFeatPerfCgroup))

	require.NotNil(t, cs.Mismatch)
	assert.Contains(t, cs.Mismatch.String(), "linux-5.1")

	require.Len(t, hook.Entries, 1)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestResolve_OverrideMatches(t *testing.T) {
	log, hook := test.NewNullLogger()

	override := FeatureVersion{Major: 5, Patch: 13}
	cs, err := Resolve(KernelVersion{Major: 5, Patch: 13, Sublevel: 9}, &override, log)
	require.NoError(t, err)

	assert.Nil(t, cs.Mismatch)
	assert.Empty(t, hook.Entries)
	assert.True(t, cs.Has(KFeatPerfSigtrap))
}

func TestResolve_OverrideNewerThanKernel(t *testing.T) {
	override := FeatureVersion{Major: 6, Patch: 3}
	cs, err := Resolve(KernelVersion{Major: 4, Patch: 19}, &override, logrus.New())
	require.NoError(t, err)

	// The override wins, the user is responsible for the mismatch
	assert.True(t, cs.Has(KFeatPerfConfig3))
	assert.NotNil(t, cs.Mismatch)
}

func TestResolve_Errors(t *testing.T) {
	_, err := Resolve(KernelVersion{Major: 3, Patch: 2}, nil, nil)
	assert.ErrorIs(t, err, ErrKernelTooOld)

	override := FeatureVersion{Major: 5, Patch: 2}
	_, err = Resolve(KernelVersion{Major: 5, Patch: 2}, &override, nil)
	assert.ErrorIs(t, err, ErrUnknownFeatureVersion)
}

func TestParseFeatureVersion(t *testing.T) {
	fv, err := ParseFeatureVersion("linux-5.13")
	require.NoError(t, err)
	assert.Equal(t, FeatureVersion{Major: 5, Patch: 13}, fv)
	assert.Equal(t, "linux-5.13", fv.String())

	fv, err = ParseFeatureVersion("4.8")
	require.NoError(t, err)
	assert.Equal(t, FeatureVersion{Major: 4, Patch: 8}, fv)

	_, err = ParseFeatureVersion("linux-5")
	require.Error(t, err)
}

func TestFeatureVersionsSorted(t *testing.T) {
	versions := FeatureVersions()
	require.NotEmpty(t, versions)
	for i := 1; i < len(versions); i++ {
		prev := KernelVersion{Major: versions[i-1].Major, Patch: versions[i-1].Patch}
		cur := KernelVersion{Major: versions[i].Major, Patch: versions[i].Patch}
		assert.True(t, cur.AtLeast(prev) && cur != prev, "%s after %s", versions[i], versions[i-1])
	}
}

func TestFeatureVersionFeatures(t *testing.T) {
	assert.Equal(t, KFeatPerfKsymbol|KFeatPerfBPFEvent, FeatureVersion{Major: 5, Patch: 1}.Features())
	assert.Zero(t, FeatureVersion{Major: 5, Patch: 2}.Features())
	assert.Equal(t, KFeatPerfMmap2|KFeatPerfSampleIdentifier, FeatureVersion{Major: 3, Patch: 12}.Features())
	assert.Equal(t, KFeatPerfSampleTransaction, FeatureVersion{Major: 3, Patch: 13}.Features())

	var all PerfSupport
	for _, fv := range FeatureVersions() {
		all |= fv.Features()
	}
	assert.Equal(t, kFeatPerfMax-1, all)
}

func TestPerfSupportString(t *testing.T) {
	assert.Equal(t, "No support", PerfSupport(0).String())
	assert.Equal(t, "Mmap2", KFeatPerfMmap2.String())
	assert.True(t, strings.Contains((KFeatPerfMmap2 | KFeatPerfCgroup).String(), "Cgroup"))
}

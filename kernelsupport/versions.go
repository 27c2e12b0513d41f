package kernelsupport

import (
	"fmt"
	"strconv"
	"strings"
)

// FeatureVersion identifies a kernel release (major.patch) which introduced one or more perf features.
// The sublevel is never relevant for feature availability.
type FeatureVersion struct {
	Major int
	Patch int
}

func (fv FeatureVersion) String() string {
	return fmt.Sprintf("linux-%d.%d", fv.Major, fv.Patch)
}

// ParseFeatureVersion parses a feature version in the "linux-M.P" notation, the "linux-" prefix is optional.
func ParseFeatureVersion(str string) (FeatureVersion, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(str), "linux-")
	parts := strings.Split(trimmed, ".")
	if len(parts) != 2 {
		return FeatureVersion{}, fmt.Errorf("feature version '%s' is not in the 'linux-M.P' format", str)
	}

	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return FeatureVersion{}, fmt.Errorf("error while parsing major of feature version '%s': %w", str, err)
	}

	patch, err := strconv.Atoi(parts[1])
	if err != nil {
		return FeatureVersion{}, fmt.Errorf("error while parsing patch of feature version '%s': %w", str, err)
	}

	return FeatureVersion{Major: major, Patch: patch}, nil
}

// enabledBy returns true if a kernel with version 'kv' has all features of 'fv'
func (fv FeatureVersion) enabledBy(kv KernelVersion) bool {
	return (kv.Major == fv.Major && kv.Patch >= fv.Patch) || kv.Major > fv.Major
}

type kernelFeatureVersion struct {
	version  FeatureVersion
	features PerfSupport
	// attrSize is the size of perf_event_attr in bytes from this version forward, 0 if the layout did not change
	attrSize uint32
}

// MinimumVersion is the oldest kernel this library supports. Every perf feature up to and including this version
// (the VER3 perf_event_attr layout, sample_id_all, exclude_host/guest, exclude_callchain_*) is assumed present.
var MinimumVersion = KernelVersion{Major: 3, Patch: 10}

// attrSizeVer3 is PERF_ATTR_SIZE_VER3, the layout of the minimum supported kernel
const attrSizeVer3 = 96

// a list of perf kernel features which are available from a given kernel version forward, sorted by version.
// based on include/uapi/linux/perf_event.h history and perf_event_open(2)
var featureMinVersion = []kernelFeatureVersion{
	{
		version:  FeatureVersion{Major: 3, Patch: 12},
		features: KFeatPerfMmap2 | KFeatPerfSampleIdentifier,
	},
	{
		version:  FeatureVersion{Major: 3, Patch: 13},
		features: KFeatPerfSampleTransaction,
	},
	{
		version:  FeatureVersion{Major: 3, Patch: 16},
		features: KFeatPerfCommExec,
	},
	{
		// PERF_ATTR_SIZE_VER4
		version:  FeatureVersion{Major: 3, Patch: 19},
		features: KFeatPerfRegsIntr,
		attrSize: 104,
	},
	{
		// PERF_ATTR_SIZE_VER5
		version:  FeatureVersion{Major: 4, Patch: 1},
		features: KFeatPerfClockID | KFeatPerfAuxWatermark,
		attrSize: 112,
	},
	{
		version:  FeatureVersion{Major: 4, Patch: 3},
		features: KFeatPerfContextSwitch,
	},
	{
		version:  FeatureVersion{Major: 4, Patch: 7},
		features: KFeatPerfWriteBackward,
	},
	{
		version:  FeatureVersion{Major: 4, Patch: 8},
		features: KFeatPerfSampleMaxStack,
	},
	{
		version:  FeatureVersion{Major: 4, Patch: 12},
		features: KFeatPerfNamespaces,
	},
	{
		version:  FeatureVersion{Major: 4, Patch: 13},
		features: KFeatPerfPhysAddr,
	},
	{
		version:  FeatureVersion{Major: 4, Patch: 17},
		features: KFeatPerfDynamicPMU,
	},
	{
		version:  FeatureVersion{Major: 5, Patch: 1},
		features: KFeatPerfKsymbol | KFeatPerfBPFEvent,
	},
	{
		version:  FeatureVersion{Major: 5, Patch: 4},
		features: KFeatPerfAuxOutput,
	},
	{
		// PERF_ATTR_SIZE_VER6
		version:  FeatureVersion{Major: 5, Patch: 5},
		features: KFeatPerfAuxSample,
		attrSize: 120,
	},
	{
		version:  FeatureVersion{Major: 5, Patch: 7},
		features: KFeatPerfCgroup | KFeatPerfBranchHWIndex,
	},
	{
		version:  FeatureVersion{Major: 5, Patch: 9},
		features: KFeatPerfTextPoke,
	},
	{
		version:  FeatureVersion{Major: 5, Patch: 11},
		features: KFeatPerfPageSize,
	},
	{
		version:  FeatureVersion{Major: 5, Patch: 12},
		features: KFeatPerfBuildID | KFeatPerfWeightStruct,
	},
	{
		// PERF_ATTR_SIZE_VER7
		version:  FeatureVersion{Major: 5, Patch: 13},
		features: KFeatPerfSigtrap | KFeatPerfInheritThread | KFeatPerfRemoveOnExec,
		attrSize: 128,
	},
	{
		version:  FeatureVersion{Major: 6, Patch: 0},
		features: KFeatPerfFormatLost,
	},
	{
		// PERF_ATTR_SIZE_VER8
		version:  FeatureVersion{Major: 6, Patch: 3},
		features: KFeatPerfConfig3,
		attrSize: 136,
	},
}

// FeatureVersions returns all known feature versions in ascending order.
func FeatureVersions() []FeatureVersion {
	versions := make([]FeatureVersion, len(featureMinVersion))
	for i, kfv := range featureMinVersion {
		versions[i] = kfv.version
	}
	return versions
}

func knownFeatureVersion(fv FeatureVersion) bool {
	for _, kfv := range featureMinVersion {
		if kfv.version == fv {
			return true
		}
	}
	return false
}

// Features returns the perf features introduced in 'fv', zero if 'fv' is not a known feature version
func (fv FeatureVersion) Features() PerfSupport {
	for _, kfv := range featureMinVersion {
		if kfv.version == fv {
			return kfv.features
		}
	}
	return 0
}

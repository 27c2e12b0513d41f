package kernelsupport

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

var (
	// ErrKernelTooOld is returned when resolving capabilities for a kernel older than MinimumVersion
	ErrKernelTooOld = errors.New("kernel version is below the minimum supported version")
	// ErrUnknownFeatureVersion is returned when an override names a version which is not in the feature table
	ErrUnknownFeatureVersion = errors.New("unknown feature version")
)

// CapabilitySet describes which optional perf features may be used. It is resolved once, before any perf event
// attribute is built, and passed by value to every attribute constructor.
type CapabilitySet struct {
	// Kernel is the detected kernel version
	Kernel KernelVersion
	// Selected is the highest enabled feature version, zero if no feature version is enabled
	Selected FeatureVersion
	// UserSelected is true if Selected was chosen by an override rather than derived from Kernel
	UserSelected bool
	// Perf is the set of enabled perf features
	Perf PerfSupport
	// Mismatch is non-nil if the user selected feature version does not match the detected kernel
	Mismatch *VersionMismatch

	attrSize uint32
}

// VersionMismatch describes an override which does not match the detected kernel. It is a warning, not an error.
type VersionMismatch struct {
	Selected FeatureVersion
	Kernel   KernelVersion
}

func (vm *VersionMismatch) String() string {
	return fmt.Sprintf("selected feature '%s' may not be compatible with linux version '%s'", vm.Selected, vm.Kernel)
}

// Has returns true if all of the given perf features are enabled
func (cs CapabilitySet) Has(flags PerfSupport) bool {
	return cs.Perf.Has(flags)
}

// AttrSize returns the size of perf_event_attr in bytes as expected by the kernel for the enabled feature set.
func (cs CapabilitySet) AttrSize() uint32 {
	if cs.attrSize == 0 {
		return attrSizeVer3
	}
	return cs.attrSize
}

// Resolve computes the capability set for the 'detected' kernel version. If 'override' is nil, every feature
// version at or below the detected version is enabled. If 'override' is not nil, exactly the features at or below
// the override are enabled regardless of the detected version, a mismatch is logged as a warning to 'log'.
func Resolve(detected KernelVersion, override *FeatureVersion, log logrus.FieldLogger) (CapabilitySet, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	if !detected.AtLeast(MinimumVersion) {
		return CapabilitySet{}, fmt.Errorf("%w: %s < %s", ErrKernelTooOld, detected, MinimumVersion)
	}

	cs := CapabilitySet{
		Kernel: detected,
	}

	limit := KernelVersion{Major: detected.Major, Patch: detected.Patch}
	if override != nil {
		if !knownFeatureVersion(*override) {
			return CapabilitySet{}, fmt.Errorf("%w: %s", ErrUnknownFeatureVersion, *override)
		}

		cs.UserSelected = true
		limit = KernelVersion{Major: override.Major, Patch: override.Patch}

		if override.Major != detected.Major || override.Patch != detected.Patch {
			cs.Mismatch = &VersionMismatch{
				Selected: *override,
				Kernel:   detected,
			}
			log.WithFields(logrus.Fields{
				"component": "kernelsupport",
				"selected":  override.String(),
				"kernel":    detected.String(),
			}).Warn("Selected feature version does not match the detected kernel version")
		}
	}

	for _, kfv := range featureMinVersion {
		if !kfv.version.enabledBy(limit) {
			continue
		}

		cs.Perf = cs.Perf | kfv.features
		cs.Selected = kfv.version
		if kfv.attrSize != 0 {
			cs.attrSize = kfv.attrSize
		}
	}

	return cs, nil
}

// Detect resolves the capability set of the kernel the current program is running on.
func Detect(log logrus.FieldLogger) (CapabilitySet, error) {
	version, err := RunningKernel()
	if err != nil {
		return CapabilitySet{}, err
	}

	return Resolve(version, nil, log)
}

// RunningKernel returns the version of the kernel the current program is running on.
func RunningKernel() (KernelVersion, error) {
	var utsname unix.Utsname
	err := unix.Uname(&utsname)
	if err != nil {
		return KernelVersion{}, fmt.Errorf("error while calling unix.Uname: %w", err)
	}

	return ParseRelease(unix.ByteSliceToString(utsname.Release[:]))
}

// KernelVersion is a linux kernel version in the major.patch.sublevel scheme used by linux/version.h
type KernelVersion struct {
	Major    int
	Patch    int
	Sublevel int
}

func (kv KernelVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", kv.Major, kv.Patch, kv.Sublevel)
}

// AtLeast returns true if the 'kv' version is equal to or higher than the 'cmp' version
func (kv KernelVersion) AtLeast(cmp KernelVersion) bool {
	if kv.Major > cmp.Major {
		return true
	}
	if kv.Major < cmp.Major {
		return false
	}

	// Majors are equal

	if kv.Patch > cmp.Patch {
		return true
	}
	if kv.Patch < cmp.Patch {
		return false
	}

	// Patches are equal

	return kv.Sublevel >= cmp.Sublevel
}

// ParseRelease parses a uname release string like "5.15.0-91-generic"
func ParseRelease(release string) (version KernelVersion, err error) {
	parts := strings.Split(release, "-")

	// The base version is before the -, discard anything after the -
	base := parts[0]
	baseParts := strings.Split(base, ".")
	if len(baseParts) > 2 {
		// Some distros append non numeric suffixes like "4.18.0+" or "5.4.0_rc1"
		sub := baseParts[2]
		if i := strings.IndexFunc(sub, func(r rune) bool { return r < '0' || r > '9' }); i != -1 {
			sub = sub[:i]
		}
		version.Sublevel, err = strconv.Atoi(sub)
		if err != nil {
			return version, fmt.Errorf("error while parsing kernel sublevel '%s': %w", baseParts[2], err)
		}
	}

	if len(baseParts) > 1 {
		version.Patch, err = strconv.Atoi(baseParts[1])
		if err != nil {
			return version, fmt.Errorf("error while parsing kernel patch level '%s': %w", baseParts[1], err)
		}
	}

	version.Major, err = strconv.Atoi(baseParts[0])
	if err != nil {
		return version, fmt.Errorf("error while parsing kernel major version '%s': %w", baseParts[0], err)
	}

	return version, nil
}

package perfevent

import (
	"github.com/dylandreimerink/perfevent/internal/syscall"
	"github.com/dylandreimerink/perfevent/kernelsupport"
)

// CountingConfig holds the attr flags shared by counting and sampling attrs.
// Flags which the capability set does not support are dropped.
type CountingConfig struct {
	// Inherit makes child tasks created after the event is opened count as well
	Inherit bool
	// Pinned makes the event always be on the PMU, if it can't be the event goes into an error state
	Pinned bool
	// Exclusive makes the group the only group on the PMU while it is scheduled
	Exclusive bool
	// InheritStat saves the counts of inherited tasks when they exit
	InheritStat bool
	// EnableOnExec enables the event on the next exec of the target
	EnableOnExec bool
	// InheritThread only inherits to threads created with CLONE_THREAD, requires linux-5.13
	InheritThread bool
	// RemoveOnExec closes the event in the target on exec, requires linux-5.13
	RemoveOnExec bool
}

func (cc CountingConfig) apply(caps kernelsupport.CapabilitySet, a *Attr) {
	a.setFlag(syscall.PerfAttrFlagsInherit, cc.Inherit)
	a.setFlag(syscall.PerfAttrFlagsPinned, cc.Pinned)
	a.setFlag(syscall.PerfAttrFlagsExclusive, cc.Exclusive)
	a.setFlag(syscall.PerfAttrFlagsInheritStat, cc.InheritStat)
	a.setFlag(syscall.PerfAttrFlagsEnableOnExec, cc.EnableOnExec)
	a.setFlag(syscall.PerfAttrFlagsInheritThread, cc.InheritThread && caps.Has(kernelsupport.KFeatPerfInheritThread))
	a.setFlag(syscall.PerfAttrFlagsRemoveOnExec, cc.RemoveOnExec && caps.Has(kernelsupport.KFeatPerfRemoveOnExec))
}

// NewCountingAttr creates an attr which counts 'event' in the domains of 'scopes'. The counter values are read with
// the group read format so single counters and group members decode the same way.
func NewCountingAttr(caps kernelsupport.CapabilitySet, event Event, scopes EventScope, cfg CountingConfig) *Attr {
	a := newAttr(caps, event, scopes, ModeCounting)
	a.raw.ReadFormat = uint64(groupReadFormat(caps))
	cfg.apply(caps, a)
	return a
}

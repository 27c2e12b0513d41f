package kernelsupport

import (
	"fmt"
	"strings"
)

// PerfSupport is a flagset which describes which optional perf_event_attr fields, flags and record types are
// supported by the kernel.
type PerfSupport uint64

const (
	// KFeatPerfMmap2 indicates the kernel supports the mmap2 attr flag and PERF_RECORD_MMAP2
	KFeatPerfMmap2 PerfSupport = 1 << iota
	// KFeatPerfCommExec indicates the kernel supports the comm_exec attr flag
	KFeatPerfCommExec
	// KFeatPerfRegsIntr indicates the kernel supports sample_regs_intr and PERF_SAMPLE_REGS_INTR
	KFeatPerfRegsIntr
	// KFeatPerfClockID indicates the kernel supports use_clockid and the clockid attr field
	KFeatPerfClockID
	// KFeatPerfAuxWatermark indicates the kernel supports the aux_watermark attr field
	KFeatPerfAuxWatermark
	// KFeatPerfContextSwitch indicates the kernel supports context_switch and PERF_RECORD_SWITCH(_CPU_WIDE)
	KFeatPerfContextSwitch
	// KFeatPerfWriteBackward indicates the kernel supports the write_backward attr flag.
	// https://github.com/torvalds/linux/commit/9ecda41acb971ebd07c8fb35faf24005c0baea12
	KFeatPerfWriteBackward
	// KFeatPerfSampleMaxStack indicates the kernel honors sample_max_stack
	KFeatPerfSampleMaxStack
	// KFeatPerfNamespaces indicates the kernel supports the namespaces flag and PERF_RECORD_NAMESPACES
	KFeatPerfNamespaces
	// KFeatPerfPhysAddr indicates the kernel supports PERF_SAMPLE_PHYS_ADDR
	KFeatPerfPhysAddr
	// KFeatPerfDynamicPMU indicates the kernel exposes the kprobe and uprobe PMUs
	KFeatPerfDynamicPMU
	// KFeatPerfKsymbol indicates the kernel supports the ksymbol flag and PERF_RECORD_KSYMBOL
	KFeatPerfKsymbol
	// KFeatPerfBPFEvent indicates the kernel supports the bpf_event flag and PERF_RECORD_BPF_EVENT
	KFeatPerfBPFEvent
	// KFeatPerfAuxOutput indicates the kernel supports the aux_output flag
	KFeatPerfAuxOutput
	// KFeatPerfAuxSample indicates the kernel supports aux_sample_size and PERF_SAMPLE_AUX
	KFeatPerfAuxSample
	// KFeatPerfCgroup indicates the kernel supports the cgroup flag, PERF_RECORD_CGROUP and PERF_SAMPLE_CGROUP
	KFeatPerfCgroup
	// KFeatPerfTextPoke indicates the kernel supports the text_poke flag and PERF_RECORD_TEXT_POKE
	KFeatPerfTextPoke
	// KFeatPerfPageSize indicates the kernel supports PERF_SAMPLE_DATA_PAGE_SIZE and PERF_SAMPLE_CODE_PAGE_SIZE
	KFeatPerfPageSize
	// KFeatPerfBuildID indicates the kernel supports the build_id flag for mmap2 records
	KFeatPerfBuildID
	// KFeatPerfWeightStruct indicates the kernel supports PERF_SAMPLE_WEIGHT_STRUCT
	KFeatPerfWeightStruct
	// KFeatPerfSigtrap indicates the kernel supports sigtrap and the sig_data attr field
	KFeatPerfSigtrap
	// KFeatPerfInheritThread indicates the kernel supports the inherit_thread attr flag
	KFeatPerfInheritThread
	// KFeatPerfRemoveOnExec indicates the kernel supports the remove_on_exec attr flag
	KFeatPerfRemoveOnExec
	// KFeatPerfFormatLost indicates the kernel supports PERF_FORMAT_LOST
	KFeatPerfFormatLost
	// KFeatPerfConfig3 indicates the kernel supports the config3 attr field
	KFeatPerfConfig3
	// KFeatPerfBranchHWIndex indicates the kernel supports PERF_SAMPLE_BRANCH_HW_INDEX
	KFeatPerfBranchHWIndex
	// KFeatPerfSampleIdentifier indicates the kernel supports PERF_SAMPLE_IDENTIFIER
	KFeatPerfSampleIdentifier
	// KFeatPerfSampleTransaction indicates the kernel supports PERF_SAMPLE_TRANSACTION
	KFeatPerfSampleTransaction

	// An end marker for enumeration, not an actual feature flag
	kFeatPerfMax //nolint:revive // leading k is used to stay consistent with exported vars
)

// Has returns true if 'ps' has all the specified flags
func (ps PerfSupport) Has(flags PerfSupport) bool {
	return ps&flags == flags
}

var perfSupportToString = map[PerfSupport]string{
	KFeatPerfMmap2:             "Mmap2",
	KFeatPerfCommExec:          "Comm exec",
	KFeatPerfRegsIntr:          "Interrupt registers",
	KFeatPerfClockID:           "Clock ID",
	KFeatPerfAuxWatermark:      "AUX watermark",
	KFeatPerfContextSwitch:     "Context switch",
	KFeatPerfWriteBackward:     "Write backward",
	KFeatPerfSampleMaxStack:    "Sample max stack",
	KFeatPerfNamespaces:        "Namespaces",
	KFeatPerfPhysAddr:          "Physical address",
	KFeatPerfDynamicPMU:        "Dynamic PMU (kprobe/uprobe)",
	KFeatPerfKsymbol:           "Ksymbol",
	KFeatPerfBPFEvent:          "BPF event",
	KFeatPerfAuxOutput:         "AUX output",
	KFeatPerfAuxSample:         "AUX sample",
	KFeatPerfCgroup:            "Cgroup",
	KFeatPerfTextPoke:          "Text poke",
	KFeatPerfPageSize:          "Data/code page size",
	KFeatPerfBuildID:           "Build ID",
	KFeatPerfWeightStruct:      "Weight struct",
	KFeatPerfSigtrap:           "Sigtrap",
	KFeatPerfInheritThread:     "Inherit thread",
	KFeatPerfRemoveOnExec:      "Remove on exec",
	KFeatPerfFormatLost:        "Format lost",
	KFeatPerfConfig3:           "Config3",
	KFeatPerfBranchHWIndex:     "Branch HW index",
	KFeatPerfSampleIdentifier:  "Sample identifier",
	KFeatPerfSampleTransaction: "Sample transaction",
}

func (ps PerfSupport) String() string {
	var feats []string
	for i := PerfSupport(1); i < kFeatPerfMax; i = i << 1 {
		// If this flag is set
		if ps&i > 0 {
			featStr := perfSupportToString[i]
			if featStr == "" {
				featStr = fmt.Sprintf("missing perf str(%d)", i)
			}
			feats = append(feats, featStr)
		}
	}

	if len(feats) == 0 {
		return "No support"
	}

	if len(feats) == 1 {
		return feats[0]
	}

	return strings.Join(feats, ", ")
}

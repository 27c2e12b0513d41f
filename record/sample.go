package record

import (
	"math/bits"
	"strings"
)

// SampleType is the sample_type of a perf event, it selects the fields present in samples
type SampleType uint64

const (
	// SampleTypeIP PERF_SAMPLE_IP
	SampleTypeIP SampleType = 1 << iota
	// SampleTypeTID PERF_SAMPLE_TID
	SampleTypeTID
	// SampleTypeTime PERF_SAMPLE_TIME
	SampleTypeTime
	// SampleTypeAddr PERF_SAMPLE_ADDR
	SampleTypeAddr
	// SampleTypeRead PERF_SAMPLE_READ
	SampleTypeRead
	// SampleTypeCallchain PERF_SAMPLE_CALLCHAIN
	SampleTypeCallchain
	// SampleTypeID PERF_SAMPLE_ID
	SampleTypeID
	// SampleTypeCPU PERF_SAMPLE_CPU
	SampleTypeCPU
	// SampleTypePeriod PERF_SAMPLE_PERIOD
	SampleTypePeriod
	// SampleTypeStreamID PERF_SAMPLE_STREAM_ID
	SampleTypeStreamID
	// SampleTypeRaw PERF_SAMPLE_RAW
	SampleTypeRaw
	// SampleTypeBranchStack PERF_SAMPLE_BRANCH_STACK
	SampleTypeBranchStack
	// SampleTypeRegsUser PERF_SAMPLE_REGS_USER
	SampleTypeRegsUser
	// SampleTypeStackUser PERF_SAMPLE_STACK_USER
	SampleTypeStackUser
	// SampleTypeWeight PERF_SAMPLE_WEIGHT
	SampleTypeWeight
	// SampleTypeDataSrc PERF_SAMPLE_DATA_SRC
	SampleTypeDataSrc
	// SampleTypeIdentifier PERF_SAMPLE_IDENTIFIER
	SampleTypeIdentifier
	// SampleTypeTransaction PERF_SAMPLE_TRANSACTION
	SampleTypeTransaction
	// SampleTypeRegsIntr PERF_SAMPLE_REGS_INTR
	SampleTypeRegsIntr
	// SampleTypePhysAddr PERF_SAMPLE_PHYS_ADDR
	SampleTypePhysAddr
	// SampleTypeAux PERF_SAMPLE_AUX
	SampleTypeAux
	// SampleTypeCgroup PERF_SAMPLE_CGROUP
	SampleTypeCgroup
	// SampleTypeDataPageSize PERF_SAMPLE_DATA_PAGE_SIZE
	SampleTypeDataPageSize
	// SampleTypeCodePageSize PERF_SAMPLE_CODE_PAGE_SIZE
	SampleTypeCodePageSize
	// SampleTypeWeightStruct PERF_SAMPLE_WEIGHT_STRUCT
	SampleTypeWeightStruct
)

// Has returns true if all given flags are set
func (st SampleType) Has(flags SampleType) bool {
	return st&flags == flags
}

var sampleTypeNames = []string{
	"ip", "tid", "time", "addr", "read", "callchain", "id", "cpu", "period", "stream_id", "raw", "branch_stack",
	"regs_user", "stack_user", "weight", "data_src", "identifier", "transaction", "regs_intr", "phys_addr", "aux",
	"cgroup", "data_page_size", "code_page_size", "weight_struct",
}

func (st SampleType) String() string {
	var names []string
	for i, name := range sampleTypeNames {
		if st&(1<<i) != 0 {
			names = append(names, name)
		}
	}
	return strings.Join(names, "|")
}

// BranchEntry is one entry of a branch stack
type BranchEntry struct {
	From  uint64
	To    uint64
	Flags uint64
}

// BranchStack is the last branch record of a sample
type BranchStack struct {
	// HWIndex is the low level index of the raw branch records, only set if BranchSampleHWIndex was requested
	HWIndex uint64
	Entries []BranchEntry
}

// Regs is a register dump
type Regs struct {
	// ABI is PERF_SAMPLE_REGS_ABI_NONE (0), _32 (1) or _64 (2), registers are only present if it isn't NONE
	ABI uint64
	// Values of the registers in the sample mask, ordered by bit
	Values []uint64
}

// StackUser is a dump of the user stack
type StackUser struct {
	Data []byte
	// DynSize is the amount of valid bytes in Data
	DynSize uint64
}

// Sample is a PERF_RECORD_SAMPLE record. Fields are only populated if the corresponding sample type was requested.
type Sample struct {
	Header

	Identifier  uint64
	IP          uint64
	Pid         uint32
	Tid         uint32
	Time        uint64
	Addr        uint64
	ID          uint64
	StreamID    uint64
	CPU         uint32
	Res         uint32
	Period      uint64
	Read        *ReadValues
	Callchain   []uint64
	Raw         []byte
	BranchStack *BranchStack
	RegsUser    *Regs
	StackUser   *StackUser
	// Weight is nil unless SampleTypeWeight or SampleTypeWeightStruct was requested
	Weight       Weight
	DataSrc      uint64
	Transaction  uint64
	RegsIntr     *Regs
	PhysAddr     uint64
	Cgroup       uint64
	DataPageSize uint64
	CodePageSize uint64
	Aux          []byte
}

// ExactIP returns true if IP points to the instruction which caused the sample
func (s *Sample) ExactIP() bool {
	return s.Misc&MiscExactIP != 0
}

func decodeRegs(c *cursor, mask uint64) *Regs {
	regs := &Regs{ABI: c.u64()}
	if regs.ABI != 0 {
		regs.Values = c.u64s(uint64(bits.OnesCount64(mask)))
	}
	return regs
}

// decodeSample reads the sample fields in the order the kernel writes them (perf_output_sample), which is not
// the bit order for identifier, weight and the fields added after PERF_SAMPLE_REGS_INTR.
func decodeSample(c *cursor, h Header, f Format) Record {
	st := f.SampleType
	s := &Sample{Header: h}

	if st.Has(SampleTypeIdentifier) {
		s.Identifier = c.u64()
	}
	if st.Has(SampleTypeIP) {
		s.IP = c.u64()
	}
	if st.Has(SampleTypeTID) {
		s.Pid = c.u32()
		s.Tid = c.u32()
	}
	if st.Has(SampleTypeTime) {
		s.Time = c.u64()
	}
	if st.Has(SampleTypeAddr) {
		s.Addr = c.u64()
	}
	if st.Has(SampleTypeID) {
		s.ID = c.u64()
	}
	if st.Has(SampleTypeStreamID) {
		s.StreamID = c.u64()
	}
	if st.Has(SampleTypeCPU) {
		s.CPU = c.u32()
		s.Res = c.u32()
	}
	if st.Has(SampleTypePeriod) {
		s.Period = c.u64()
	}
	if st.Has(SampleTypeRead) {
		rv := decodeReadValues(c, f.ReadFormat)
		s.Read = &rv
	}
	if st.Has(SampleTypeCallchain) {
		s.Callchain = c.u64s(c.u64())
	}
	if st.Has(SampleTypeRaw) {
		s.Raw = c.bytes(uint64(c.u32()))
	}
	if st.Has(SampleTypeBranchStack) {
		bs := &BranchStack{}
		nr := c.u64()
		if f.BranchSampleType&BranchSampleHWIndex != 0 {
			bs.HWIndex = c.u64()
		}
		if nr > uint64(c.remaining())/24 {
			c.take(c.remaining() + 1)
		} else {
			bs.Entries = make([]BranchEntry, nr)
			for i := range bs.Entries {
				bs.Entries[i] = BranchEntry{
					From:  c.u64(),
					To:    c.u64(),
					Flags: c.u64(),
				}
			}
		}
		s.BranchStack = bs
	}
	if st.Has(SampleTypeRegsUser) {
		s.RegsUser = decodeRegs(c, f.RegsUser)
	}
	if st.Has(SampleTypeStackUser) {
		size := c.u64()
		stack := &StackUser{Data: c.bytes(size)}
		if size != 0 {
			stack.DynSize = c.u64()
		}
		s.StackUser = stack
	}
	if st&(SampleTypeWeight|SampleTypeWeightStruct) != 0 {
		s.Weight = decodeWeight(c, st)
	}
	if st.Has(SampleTypeDataSrc) {
		s.DataSrc = c.u64()
	}
	if st.Has(SampleTypeTransaction) {
		s.Transaction = c.u64()
	}
	if st.Has(SampleTypeRegsIntr) {
		s.RegsIntr = decodeRegs(c, f.RegsIntr)
	}
	if st.Has(SampleTypePhysAddr) {
		s.PhysAddr = c.u64()
	}
	if st.Has(SampleTypeCgroup) {
		s.Cgroup = c.u64()
	}
	if st.Has(SampleTypeDataPageSize) {
		s.DataPageSize = c.u64()
	}
	if st.Has(SampleTypeCodePageSize) {
		s.CodePageSize = c.u64()
	}
	if st.Has(SampleTypeAux) {
		s.Aux = c.bytes(c.u64())
	}

	return s
}

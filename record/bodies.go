package record

// Mmap is a PERF_RECORD_MMAP record, it describes a PROT_EXEC mapping (or any mapping with mmap_data)
type Mmap struct {
	Header
	Pid        uint32
	Tid        uint32
	Addr       uint64
	Len        uint64
	PageOffset uint64
	Filename   string
	trailer
}

// Executable returns true if the mapping is executable
func (m *Mmap) Executable() bool {
	return m.Misc&MiscMmapData == 0
}

func decodeMmap(c *cursor, h Header, _ Format) Record {
	return &Mmap{
		Header:     h,
		Pid:        c.u32(),
		Tid:        c.u32(),
		Addr:       c.u64(),
		Len:        c.u64(),
		PageOffset: c.u64(),
		Filename:   c.string(),
	}
}

// Lost is a PERF_RECORD_LOST record, the kernel dropped records because the ring buffer was full
type Lost struct {
	Header
	ID   uint64
	Lost uint64
	trailer
}

func decodeLost(c *cursor, h Header, _ Format) Record {
	return &Lost{
		Header: h,
		ID:     c.u64(),
		Lost:   c.u64(),
	}
}

// Comm is a PERF_RECORD_COMM record, the process name changed
type Comm struct {
	Header
	Pid  uint32
	Tid  uint32
	Comm string
	trailer
}

// WasExec returns true if the name change was caused by an exec, only reported with comm_exec
func (cr *Comm) WasExec() bool {
	return cr.Misc&MiscCommExec != 0
}

func decodeComm(c *cursor, h Header, _ Format) Record {
	return &Comm{
		Header: h,
		Pid:    c.u32(),
		Tid:    c.u32(),
		Comm:   c.string(),
	}
}

// Exit is a PERF_RECORD_EXIT record
type Exit struct {
	Header
	Pid  uint32
	Ppid uint32
	Tid  uint32
	Ptid uint32
	Time uint64
	trailer
}

func decodeExit(c *cursor, h Header, _ Format) Record {
	return &Exit{
		Header: h,
		Pid:    c.u32(),
		Ppid:   c.u32(),
		Tid:    c.u32(),
		Ptid:   c.u32(),
		Time:   c.u64(),
	}
}

// Fork is a PERF_RECORD_FORK record
type Fork struct {
	Header
	Pid  uint32
	Ppid uint32
	Tid  uint32
	Ptid uint32
	Time uint64
	trailer
}

func decodeFork(c *cursor, h Header, _ Format) Record {
	return &Fork{
		Header: h,
		Pid:    c.u32(),
		Ppid:   c.u32(),
		Tid:    c.u32(),
		Ptid:   c.u32(),
		Time:   c.u64(),
	}
}

// Throttle is a PERF_RECORD_THROTTLE record, the kernel started throttling interrupts of the event
type Throttle struct {
	Header
	Time     uint64
	ID       uint64
	StreamID uint64
	trailer
}

func decodeThrottle(c *cursor, h Header, _ Format) Record {
	return &Throttle{
		Header:   h,
		Time:     c.u64(),
		ID:       c.u64(),
		StreamID: c.u64(),
	}
}

// Unthrottle is a PERF_RECORD_UNTHROTTLE record
type Unthrottle struct {
	Header
	Time     uint64
	ID       uint64
	StreamID uint64
	trailer
}

func decodeUnthrottle(c *cursor, h Header, _ Format) Record {
	return &Unthrottle{
		Header:   h,
		Time:     c.u64(),
		ID:       c.u64(),
		StreamID: c.u64(),
	}
}

// BuildIDSize is the size of the build id buffer in mmap2 records
const BuildIDSize = 20

// Mmap2 is a PERF_RECORD_MMAP2 record. It carries either the device and inode of the mapped file or, if
// HasBuildID returns true, its build id.
type Mmap2 struct {
	Header
	Pid        uint32
	Tid        uint32
	Addr       uint64
	Len        uint64
	PageOffset uint64
	MajorID    uint32
	MinorID    uint32
	Inode      uint64
	InodeGen   uint64
	BuildID    []byte
	Prot       uint32
	Flags      uint32
	Filename   string
	trailer
}

// HasBuildID returns true if the record carries a build id instead of device and inode
func (m *Mmap2) HasBuildID() bool {
	return m.Misc&MiscMmapBuildID != 0
}

// Executable returns true if the mapping is executable
func (m *Mmap2) Executable() bool {
	return m.Misc&MiscMmapData == 0
}

func decodeMmap2(c *cursor, h Header, _ Format) Record {
	m := &Mmap2{Header: h}
	m.Pid = c.u32()
	m.Tid = c.u32()
	m.Addr = c.u64()
	m.Len = c.u64()
	m.PageOffset = c.u64()

	if m.HasBuildID() {
		size := c.u8()
		// reserved
		c.u8()
		c.u16()
		id := c.bytes(BuildIDSize)
		if int(size) <= len(id) {
			m.BuildID = id[:size]
		}
	} else {
		m.MajorID = c.u32()
		m.MinorID = c.u32()
		m.Inode = c.u64()
		m.InodeGen = c.u64()
	}

	m.Prot = c.u32()
	m.Flags = c.u32()
	m.Filename = c.string()
	return m
}

// Aux is a PERF_RECORD_AUX record, new data is available in the AUX area
type Aux struct {
	Header
	Offset uint64
	Size   uint64
	Flags  uint64
	trailer
}

func decodeAux(c *cursor, h Header, _ Format) Record {
	return &Aux{
		Header: h,
		Offset: c.u64(),
		Size:   c.u64(),
		Flags:  c.u64(),
	}
}

// ItraceStart is a PERF_RECORD_ITRACE_START record
type ItraceStart struct {
	Header
	Pid uint32
	Tid uint32
	trailer
}

func decodeItraceStart(c *cursor, h Header, _ Format) Record {
	return &ItraceStart{
		Header: h,
		Pid:    c.u32(),
		Tid:    c.u32(),
	}
}

// LostSamples is a PERF_RECORD_LOST_SAMPLES record, samples were dropped by hardware tracing
type LostSamples struct {
	Header
	Lost uint64
	trailer
}

func decodeLostSamples(c *cursor, h Header, _ Format) Record {
	return &LostSamples{
		Header: h,
		Lost:   c.u64(),
	}
}

// Switch is a PERF_RECORD_SWITCH record, it has no body of its own
type Switch struct {
	Header
	trailer
}

// Out returns true if the task switched out
func (s *Switch) Out() bool {
	return s.Misc&MiscSwitchOut != 0
}

// Preempted returns true if the task was preempted when switching out
func (s *Switch) Preempted() bool {
	return s.Misc&MiscSwitchOutPreempt != 0
}

func decodeSwitch(_ *cursor, h Header, _ Format) Record {
	return &Switch{Header: h}
}

// SwitchCPUWide is a PERF_RECORD_SWITCH_CPU_WIDE record
type SwitchCPUWide struct {
	Header
	// NextPrevPid is the pid of the next task when switching out, or of the previous task when switching in
	NextPrevPid uint32
	NextPrevTid uint32
	trailer
}

// Out returns true if the task switched out
func (s *SwitchCPUWide) Out() bool {
	return s.Misc&MiscSwitchOut != 0
}

// Preempted returns true if the task was preempted when switching out
func (s *SwitchCPUWide) Preempted() bool {
	return s.Misc&MiscSwitchOutPreempt != 0
}

func decodeSwitchCPUWide(c *cursor, h Header, _ Format) Record {
	return &SwitchCPUWide{
		Header:      h,
		NextPrevPid: c.u32(),
		NextPrevTid: c.u32(),
	}
}

// NamespaceLink identifies one namespace
type NamespaceLink struct {
	Dev   uint64
	Inode uint64
}

// Namespaces is a PERF_RECORD_NAMESPACES record
type Namespaces struct {
	Header
	Pid        uint32
	Tid        uint32
	Namespaces []NamespaceLink
	trailer
}

func decodeNamespaces(c *cursor, h Header, _ Format) Record {
	n := &Namespaces{Header: h}
	n.Pid = c.u32()
	n.Tid = c.u32()

	nr := c.u64()
	if nr > uint64(c.remaining())/16 {
		c.take(c.remaining() + 1)
		return n
	}

	n.Namespaces = make([]NamespaceLink, nr)
	for i := range n.Namespaces {
		n.Namespaces[i] = NamespaceLink{Dev: c.u64(), Inode: c.u64()}
	}
	return n
}

// Ksymbol is a PERF_RECORD_KSYMBOL record, a kernel symbol was registered or unregistered
type Ksymbol struct {
	Header
	Addr  uint64
	Len   uint32
	Type  uint16
	Flags uint16
	Name  string
	trailer
}

// KsymbolFlagUnregister is set in Ksymbol.Flags if the symbol was unregistered
const KsymbolFlagUnregister = 1 << 0

func decodeKsymbol(c *cursor, h Header, _ Format) Record {
	return &Ksymbol{
		Header: h,
		Addr:   c.u64(),
		Len:    c.u32(),
		Type:   c.u16(),
		Flags:  c.u16(),
		Name:   c.string(),
	}
}

// BPFEventType is the kind of a BPF event record
type BPFEventType uint16

const (
	// BPFEventUnknown PERF_BPF_EVENT_UNKNOWN
	BPFEventUnknown BPFEventType = iota
	// BPFEventProgLoad PERF_BPF_EVENT_PROG_LOAD
	BPFEventProgLoad
	// BPFEventProgUnload PERF_BPF_EVENT_PROG_UNLOAD
	BPFEventProgUnload
)

// BPFTagSize is BPF_TAG_SIZE
const BPFTagSize = 8

// BPFEvent is a PERF_RECORD_BPF_EVENT record, a BPF program was loaded or unloaded
type BPFEvent struct {
	Header
	Type  BPFEventType
	Flags uint16
	ID    uint32
	Tag   [BPFTagSize]byte
	trailer
}

func decodeBPFEvent(c *cursor, h Header, _ Format) Record {
	b := &BPFEvent{Header: h}
	b.Type = BPFEventType(c.u16())
	b.Flags = c.u16()
	b.ID = c.u32()
	copy(b.Tag[:], c.bytes(BPFTagSize))
	return b
}

// Cgroup is a PERF_RECORD_CGROUP record, a cgroup was created
type Cgroup struct {
	Header
	ID   uint64
	Path string
	trailer
}

func decodeCgroup(c *cursor, h Header, _ Format) Record {
	return &Cgroup{
		Header: h,
		ID:     c.u64(),
		Path:   c.string(),
	}
}

// TextPoke is a PERF_RECORD_TEXT_POKE record, kernel text was modified
type TextPoke struct {
	Header
	Addr     uint64
	OldBytes []byte
	NewBytes []byte
	trailer
}

func decodeTextPoke(c *cursor, h Header, _ Format) Record {
	t := &TextPoke{Header: h}
	t.Addr = c.u64()
	oldLen := c.u16()
	newLen := c.u16()
	t.OldBytes = c.bytes(uint64(oldLen))
	t.NewBytes = c.bytes(uint64(newLen))
	c.align()
	return t
}

// AuxOutputHwID is a PERF_RECORD_AUX_OUTPUT_HW_ID record
type AuxOutputHwID struct {
	Header
	HwID uint64
	trailer
}

func decodeAuxOutputHwID(c *cursor, h Header, _ Format) Record {
	return &AuxOutputHwID{
		Header: h,
		HwID:   c.u64(),
	}
}

// Unknown is a record of a type this package does not know, Data is the undecoded body
type Unknown struct {
	Header
	Data []byte
}

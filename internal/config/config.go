// Package config contains the yaml configuration of the perfevent command.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/dylandreimerink/perfevent"
	"github.com/dylandreimerink/perfevent/kernelsupport"
	"github.com/dylandreimerink/perfevent/ringbuf"
)

// Config is the top-level configuration of the perfevent command.
type Config struct {
	// LogLevel sets the logging verbosity (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// FeatureVersion overrides the detected kernel version when resolving capabilities, like "linux-5.4".
	FeatureVersion string `yaml:"feature_version"`

	// HeadersPath is the root of the kernel headers, its include/linux/version.h is compared with the running
	// kernel. Defaults to $LINUX_HEADERS_PATH or /usr.
	HeadersPath string `yaml:"headers_path"`

	// KernelSource is where the kernel version capabilities are resolved against comes from. "uname" uses the
	// running kernel, "headers" uses the version.h below HeadersPath. Defaults to uname.
	KernelSource string `yaml:"kernel_source"`

	// Target selects the task and CPU to count or sample.
	Target TargetConfig `yaml:"target"`

	// Events are the events to count, sampling only uses the first event.
	Events []EventConfig `yaml:"events"`

	// Scopes are the domains events are counted in. Defaults to user.
	Scopes []string `yaml:"scopes"`

	// Interval between counter reads of stat. Defaults to 1s.
	Interval time.Duration `yaml:"interval"`

	Sampling SamplingConfig `yaml:"sampling"`

	Exporter ExporterConfig `yaml:"exporter"`
}

// Kernel version sources
const (
	KernelSourceUname   = "uname"
	KernelSourceHeaders = "headers"
)

// TargetConfig selects what is measured.
type TargetConfig struct {
	// Pid of the task, 0 is the calling process and -1 is any process.
	Pid int `yaml:"pid"`
	// CPU to measure on, -1 is any CPU.
	CPU int `yaml:"cpu"`
}

// Event kinds
const (
	// KindNamed events are generic hardware and software events like "cpu-cycles"
	KindNamed      = "named"
	KindRaw        = "raw"
	KindTracepoint = "tracepoint"
	KindKprobe     = "kprobe"
	KindUprobe     = "uprobe"
)

// EventConfig describes one event.
type EventConfig struct {
	// Name is the event name for named events, "category:name" for tracepoints, the function for kprobes and the
	// binary path for uprobes.
	Name string `yaml:"name"`
	// Kind is one of named, raw, tracepoint, kprobe or uprobe. Defaults to named.
	Kind string `yaml:"kind"`
	// Config is the raw config for raw events and the offset for kprobes and uprobes.
	Config uint64 `yaml:"config"`
	// Retprobe turns kprobes and uprobes into return probes.
	Retprobe bool `yaml:"retprobe"`
}

// SamplingConfig configures the record command.
type SamplingConfig struct {
	// Period samples every N events, mutually exclusive with Freq.
	Period uint64 `yaml:"period"`
	// Freq samples N times per second. Defaults to DefaultFreq if Period is not set either.
	Freq uint64 `yaml:"freq"`
	// RingPages is the number of ring buffer pages, it must be 1+2^n. Defaults to 9.
	RingPages int `yaml:"ring_pages"`
	// CallchainDepth is the maximum callchain depth, callchains are only sampled if the callchain field is set.
	CallchainDepth uint16 `yaml:"callchain_depth"`
	// Fields are the sample fields, like ip, tid, time or callchain.
	Fields []string `yaml:"fields"`
	// Records are the extra record kinds to emit, like mmap, comm, task or context_switch.
	Records []string `yaml:"records"`
}

// ExporterConfig configures the prometheus exporter of the stat command.
type ExporterConfig struct {
	// Addr is the listen address, the exporter is disabled if empty.
	Addr string `yaml:"addr"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Target: TargetConfig{
			Pid: 0,
			CPU: -1,
		},
		Events: []EventConfig{
			{Name: "task-clock"},
		},
		Scopes:   []string{"user"},
		Interval: time.Second,
		Sampling: SamplingConfig{
			RingPages: 9,
			Fields:    []string{"ip", "tid", "time"},
		},
	}
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	cfg := Default()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for required fields and consistency.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}

	if _, err := c.Override(); err != nil {
		return err
	}

	switch c.KernelSource {
	case "", KernelSourceUname, KernelSourceHeaders:
	default:
		return fmt.Errorf("kernel_source must be '%s' or '%s', got '%s'", KernelSourceUname, KernelSourceHeaders,
			c.KernelSource)
	}

	if c.Target.Pid < -1 {
		return fmt.Errorf("target.pid must be -1 or larger, got %d", c.Target.Pid)
	}
	if c.Target.CPU < -1 {
		return fmt.Errorf("target.cpu must be -1 or larger, got %d", c.Target.CPU)
	}
	if c.Target.Pid == -1 && c.Target.CPU == -1 {
		return errors.New("target.pid and target.cpu can't both be -1")
	}

	if len(c.Events) == 0 {
		return errors.New("at least one event is required")
	}
	for i, ec := range c.Events {
		if err := ec.validate(); err != nil {
			return fmt.Errorf("events[%d]: %w", i, err)
		}
	}

	if _, err := c.EventScope(); err != nil {
		return err
	}

	if c.Interval <= 0 {
		return errors.New("interval must be positive")
	}

	return c.Sampling.validate()
}

// Override returns the parsed feature version override, nil if none is configured
func (c *Config) Override() (*kernelsupport.FeatureVersion, error) {
	if c.FeatureVersion == "" {
		return nil, nil
	}

	fv, err := kernelsupport.ParseFeatureVersion(c.FeatureVersion)
	if err != nil {
		return nil, fmt.Errorf("feature_version: %w", err)
	}
	return &fv, nil
}

// VersionHeaderPath returns the path of linux/version.h to read the headers version from
func (c *Config) VersionHeaderPath() string {
	if c.HeadersPath == "" {
		return kernelsupport.VersionHeaderPath()
	}
	return filepath.Join(c.HeadersPath, "include", "linux", "version.h")
}

// KernelVersion returns the kernel version to resolve capabilities against, read from the kernel headers if
// kernel_source is headers and from uname otherwise.
func (c *Config) KernelVersion() (kernelsupport.KernelVersion, error) {
	if c.KernelSource != KernelSourceHeaders {
		return kernelsupport.RunningKernel()
	}

	kv, err := kernelsupport.ReadVersionHeader(c.VersionHeaderPath())
	if err != nil {
		return kernelsupport.KernelVersion{}, fmt.Errorf("kernel_source headers: %w", err)
	}
	return kv, nil
}

// EventScope combines the configured scopes
func (c *Config) EventScope() (perfevent.EventScope, error) {
	var scopes perfevent.EventScope
	for _, name := range c.Scopes {
		s, err := perfevent.ParseScope(strings.TrimSpace(name))
		if err != nil {
			return 0, fmt.Errorf("scopes: %w", err)
		}
		scopes |= s
	}
	return scopes, nil
}

func (ec EventConfig) kind() string {
	if ec.Kind == "" {
		return KindNamed
	}
	return ec.Kind
}

func (ec EventConfig) validate() error {
	switch ec.kind() {
	case KindNamed:
		_, err := perfevent.ParseEventName(ec.Name)
		return err
	case KindRaw:
		return nil
	case KindTracepoint:
		if _, _, ok := strings.Cut(ec.Name, ":"); !ok {
			return fmt.Errorf("tracepoint '%s' is not in the 'category:name' format", ec.Name)
		}
		return nil
	case KindKprobe, KindUprobe:
		if ec.Name == "" {
			return fmt.Errorf("%s needs a name", ec.kind())
		}
		return nil
	}

	return fmt.Errorf("unknown event kind '%s'", ec.Kind)
}

// Label returns a name for the event which is unique enough to be used in output and metric labels
func (ec EventConfig) Label() string {
	switch ec.kind() {
	case KindRaw:
		return "raw:0x" + strconv.FormatUint(ec.Config, 16)
	case KindKprobe, KindUprobe:
		label := ec.kind() + ":" + ec.Name
		if ec.Config != 0 {
			label += "+0x" + strconv.FormatUint(ec.Config, 16)
		}
		if ec.Retprobe {
			label += ":return"
		}
		return label
	case KindTracepoint:
		return "tracepoint:" + ec.Name
	}
	return ec.Name
}

// Event resolves the event, this reads sysfs or tracefs for tracepoints and probes
func (ec EventConfig) Event() (perfevent.Event, error) {
	switch ec.kind() {
	case KindRaw:
		return perfevent.RawEvent{Config: ec.Config}, nil
	case KindTracepoint:
		category, name, _ := strings.Cut(ec.Name, ":")
		return perfevent.NewTracepointEvent(category, name)
	case KindKprobe:
		return perfevent.NewKprobeEvent(ec.Name, ec.Config, ec.Retprobe)
	case KindUprobe:
		return perfevent.NewUprobeEvent(ec.Name, ec.Config, ec.Retprobe)
	}
	return perfevent.ParseEventName(ec.Name)
}

var sampleFieldSetters = map[string]func(f *perfevent.SampleRecordFields, depth uint16){
	"identifier":     func(f *perfevent.SampleRecordFields, _ uint16) { f.Identifier = true },
	"ip":             func(f *perfevent.SampleRecordFields, _ uint16) { f.IP = true },
	"tid":            func(f *perfevent.SampleRecordFields, _ uint16) { f.Tid = true },
	"time":           func(f *perfevent.SampleRecordFields, _ uint16) { f.Time = true },
	"addr":           func(f *perfevent.SampleRecordFields, _ uint16) { f.Addr = true },
	"id":             func(f *perfevent.SampleRecordFields, _ uint16) { f.ID = true },
	"stream_id":      func(f *perfevent.SampleRecordFields, _ uint16) { f.StreamID = true },
	"cpu":            func(f *perfevent.SampleRecordFields, _ uint16) { f.CPU = true },
	"period":         func(f *perfevent.SampleRecordFields, _ uint16) { f.Period = true },
	"read":           func(f *perfevent.SampleRecordFields, _ uint16) { f.Read = true },
	"callchain":      func(f *perfevent.SampleRecordFields, depth uint16) { f.Callchain = &depth },
	"raw":            func(f *perfevent.SampleRecordFields, _ uint16) { f.Raw = true },
	"data_src":       func(f *perfevent.SampleRecordFields, _ uint16) { f.DataSrc = true },
	"transaction":    func(f *perfevent.SampleRecordFields, _ uint16) { f.Transaction = true },
	"phys_addr":      func(f *perfevent.SampleRecordFields, _ uint16) { f.PhysAddr = true },
	"cgroup":         func(f *perfevent.SampleRecordFields, _ uint16) { f.Cgroup = true },
	"data_page_size": func(f *perfevent.SampleRecordFields, _ uint16) { f.DataPageSize = true },
	"code_page_size": func(f *perfevent.SampleRecordFields, _ uint16) { f.CodePageSize = true },
	"weight": func(f *perfevent.SampleRecordFields, _ uint16) {
		w := perfevent.WeightReprFull
		f.Weight = &w
	},
	"weight_struct": func(f *perfevent.SampleRecordFields, _ uint16) {
		w := perfevent.WeightReprVars
		f.Weight = &w
	},
}

var recordSetters = map[string]func(sc *perfevent.SamplingConfig){
	"mmap":           func(sc *perfevent.SamplingConfig) { sc.Mmap = true },
	"mmap_data":      func(sc *perfevent.SamplingConfig) { sc.MmapData = true },
	"mmap2":          func(sc *perfevent.SamplingConfig) { sc.Mmap2 = true },
	"build_id":       func(sc *perfevent.SamplingConfig) { sc.BuildID = true },
	"comm":           func(sc *perfevent.SamplingConfig) { sc.Comm = true },
	"comm_exec":      func(sc *perfevent.SamplingConfig) { sc.CommExec = true },
	"task":           func(sc *perfevent.SamplingConfig) { sc.Task = true },
	"context_switch": func(sc *perfevent.SamplingConfig) { sc.ContextSwitch = true },
	"namespaces":     func(sc *perfevent.SamplingConfig) { sc.Namespaces = true },
	"ksymbol":        func(sc *perfevent.SamplingConfig) { sc.Ksymbol = true },
	"bpf_event":      func(sc *perfevent.SamplingConfig) { sc.BPFEvent = true },
	"cgroup":         func(sc *perfevent.SamplingConfig) { sc.CgroupRecords = true },
	"text_poke":      func(sc *perfevent.SamplingConfig) { sc.TextPoke = true },
}

func (sc SamplingConfig) validate() error {
	if sc.Period != 0 && sc.Freq != 0 {
		return errors.New("sampling.period and sampling.freq are mutually exclusive")
	}
	if !ringbuf.ValidPages(sc.RingPages) {
		return fmt.Errorf("sampling.ring_pages: %w: got %d", perfevent.ErrInvalidRingBufferPages, sc.RingPages)
	}
	for _, field := range sc.Fields {
		if _, ok := sampleFieldSetters[field]; !ok {
			return fmt.Errorf("sampling.fields: unknown field '%s'", field)
		}
	}
	for _, rec := range sc.Records {
		if _, ok := recordSetters[rec]; !ok {
			return fmt.Errorf("sampling.records: unknown record '%s'", rec)
		}
	}
	return nil
}

// DefaultFreq is the sampling frequency if neither a period nor a frequency is configured
const DefaultFreq = 99

// OverflowBy returns the configured period or frequency
func (sc SamplingConfig) OverflowBy() perfevent.OverflowBy {
	if sc.Period != 0 {
		return perfevent.Period(sc.Period)
	}
	if sc.Freq != 0 {
		return perfevent.Freq(sc.Freq)
	}
	return perfevent.Freq(DefaultFreq)
}

// AttrConfig converts the sampling config into the attr settings. Unknown names are ignored, Validate reports them.
func (sc SamplingConfig) AttrConfig() perfevent.SamplingConfig {
	cfg := perfevent.SamplingConfig{
		SampleIDAll: len(sc.Records) > 0,
	}
	for _, rec := range sc.Records {
		if set, ok := recordSetters[rec]; ok {
			set(&cfg)
		}
	}
	for _, field := range sc.Fields {
		if set, ok := sampleFieldSetters[field]; ok {
			set(&cfg.Fields, sc.CallchainDepth)
		}
	}
	return cfg
}

package perfevent

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/dylandreimerink/perfevent/ringbuf"
)

// Builder opens perf events for a target task and CPU. Both a pid and a CPU target must be set before building,
// there are no defaults.
type Builder struct {
	pid   *int
	cpu   *int
	pages int
	log   logrus.FieldLogger

	open    opener
	mapRing ringMapper
}

// NewBuilder creates a builder without target and ring buffer size
func NewBuilder() *Builder {
	return &Builder{
		log:     logrus.StandardLogger(),
		open:    openHandle,
		mapRing: mapRing,
	}
}

func (b *Builder) setPid(pid int) *Builder {
	b.pid = &pid
	return b
}

func (b *Builder) setCPU(cpu int) *Builder {
	b.cpu = &cpu
	return b
}

// CallingProcess targets the process which opens the events
func (b *Builder) CallingProcess() *Builder {
	return b.setPid(0)
}

// Pid targets the task with the given pid
func (b *Builder) Pid(pid int) *Builder {
	return b.setPid(pid)
}

// AnyProcess targets all tasks, this requires a specific CPU
func (b *Builder) AnyProcess() *Builder {
	return b.setPid(-1)
}

// AnyCPU counts the target on all CPUs
func (b *Builder) AnyCPU() *Builder {
	return b.setCPU(-1)
}

// CPU only counts the target while it runs on the given CPU
func (b *Builder) CPU(cpu int) *Builder {
	return b.setCPU(cpu)
}

// RingBufferPages sets the number of pages mapped for sampling sessions, it must be 1+2^n
func (b *Builder) RingBufferPages(pages int) *Builder {
	b.pages = pages
	return b
}

// WithLogger sets the logger of the sessions created by the builder
func (b *Builder) WithLogger(log logrus.FieldLogger) *Builder {
	b.log = log
	return b
}

func (b *Builder) target() (pid, cpu int, err error) {
	if b.pid == nil || b.cpu == nil {
		return 0, 0, ErrTargetNotSet
	}
	return *b.pid, *b.cpu, nil
}

func (b *Builder) logger(component string, pid, cpu int) logrus.FieldLogger {
	return b.log.WithFields(logrus.Fields{
		"component": component,
		"pid":       pid,
		"cpu":       cpu,
	})
}

// BuildCounting opens a counting session for a counting attr. The counter starts disabled.
func (b *Builder) BuildCounting(attr *Attr) (*Counting, error) {
	pid, cpu, err := b.target()
	if err != nil {
		return nil, err
	}
	if attr.Mode() != ModeCounting {
		return nil, fmt.Errorf("%w: BuildCounting needs a counting attr, got %s", ErrAttrMode, attr.Mode())
	}

	h, err := b.open(attr, pid, cpu, -1)
	if err != nil {
		return nil, fmt.Errorf("open counting event: %w", err)
	}

	log := b.logger("counting", pid, cpu)
	log.WithField("fd", h.fd()).Debug("Opened counting event")

	return newCounting(h, attr.ReadFormat(), log), nil
}

// BuildCountingGroup creates an empty counting group, events are opened when members are added
func (b *Builder) BuildCountingGroup() (*CountingGroup, error) {
	pid, cpu, err := b.target()
	if err != nil {
		return nil, err
	}

	return &CountingGroup{
		pid:  pid,
		cpu:  cpu,
		open: b.open,
		log:  b.logger("counting_group", pid, cpu),
	}, nil
}

// BuildSampling opens a sampling session for a sampling attr and maps its ring buffer. The event starts disabled.
func (b *Builder) BuildSampling(attr *Attr) (*Sampling, error) {
	pid, cpu, err := b.target()
	if err != nil {
		return nil, err
	}
	if attr.Mode() != ModeSampling {
		return nil, fmt.Errorf("%w: BuildSampling needs a sampling attr, got %s", ErrAttrMode, attr.Mode())
	}
	if !ringbuf.ValidPages(b.pages) {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidRingBufferPages, b.pages)
	}

	h, err := b.open(attr, pid, cpu, -1)
	if err != nil {
		return nil, fmt.Errorf("open sampling event: %w", err)
	}

	ring, err := b.mapRing(h, b.pages)
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("map ring buffer: %w", err), h.close())
	}

	log := b.logger("sampling", pid, cpu)
	log.WithFields(logrus.Fields{
		"fd":    h.fd(),
		"pages": b.pages,
	}).Debug("Opened sampling event")

	return &Sampling{
		h:          h,
		ring:       ring,
		format:     attr.RecordFormat(),
		readFormat: attr.ReadFormat(),
		log:        log,
	}, nil
}

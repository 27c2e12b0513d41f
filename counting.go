package perfevent

import (
	"errors"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/dylandreimerink/perfevent/record"
)

// CountingResult is the value of a counter
type CountingResult struct {
	EventCount uint64
	// TimeEnabled is the time in nanoseconds the event was enabled
	TimeEnabled uint64
	// TimeRunning is the time in nanoseconds the event was actually on the PMU
	TimeRunning uint64
	// Lost is the number of lost samples, only reported from linux-6.0
	Lost uint64
}

// Scaled estimates the count as if the event was on the PMU the whole time it was enabled. It returns 0 if the
// event never ran.
func (cr CountingResult) Scaled() uint64 {
	if cr.TimeRunning == 0 {
		return 0
	}
	if cr.TimeRunning >= cr.TimeEnabled {
		return cr.EventCount
	}

	scaled := float64(cr.EventCount) * (float64(cr.TimeEnabled) / float64(cr.TimeRunning))
	if scaled >= math.MaxUint64 {
		return math.MaxUint64
	}
	return uint64(scaled)
}

func resultFromValues(rv record.ReadValues, v record.ReadValue) CountingResult {
	return CountingResult{
		EventCount:  v.Value,
		TimeEnabled: rv.TimeEnabled,
		TimeRunning: rv.TimeRunning,
		Lost:        v.Lost,
	}
}

// readValues reads and decodes the counter values of 'h'
func readValues(h kernelHandle, rf record.ReadFormat, members int) (record.ReadValues, error) {
	buf := make([]byte, record.ReadFormatSize(rf, members))
	n, err := h.read(buf)
	if err != nil {
		return record.ReadValues{}, fmt.Errorf("read counter: %w", err)
	}

	rv, err := record.DecodeReadFormat(rf, buf[:n])
	if err != nil {
		return record.ReadValues{}, fmt.Errorf("decode counter: %w", err)
	}
	if len(rv.Values) == 0 {
		return record.ReadValues{}, errors.New("decode counter: no values")
	}

	return rv, nil
}

// Counting is a session which counts a single event
type Counting struct {
	h          kernelHandle
	readFormat record.ReadFormat
	log        logrus.FieldLogger
	closed     bool
}

func newCounting(h kernelHandle, rf record.ReadFormat, log logrus.FieldLogger) *Counting {
	return &Counting{
		h:          h,
		readFormat: rf,
		log:        log,
	}
}

// Enable starts counting
func (c *Counting) Enable() error {
	if c.closed {
		return ErrClosed
	}
	if err := c.h.enable(false); err != nil {
		return fmt.Errorf("enable counter: %w", err)
	}
	return nil
}

// Disable stops counting, the value is kept
func (c *Counting) Disable() error {
	if c.closed {
		return ErrClosed
	}
	if err := c.h.disable(false); err != nil {
		return fmt.Errorf("disable counter: %w", err)
	}
	return nil
}

// Reset sets the counter to zero
func (c *Counting) Reset() error {
	if c.closed {
		return ErrClosed
	}
	if err := c.h.reset(false); err != nil {
		return fmt.Errorf("reset counter: %w", err)
	}
	return nil
}

// ID returns the kernel assigned ID of the event
func (c *Counting) ID() (uint64, error) {
	if c.closed {
		return 0, ErrClosed
	}
	return c.h.id()
}

// Result reads the current counter value
func (c *Counting) Result() (CountingResult, error) {
	if c.closed {
		return CountingResult{}, ErrClosed
	}

	rv, err := readValues(c.h, c.readFormat, 1)
	if err != nil {
		return CountingResult{}, err
	}

	return resultFromValues(rv, rv.Values[0]), nil
}

// Close closes the event, closing twice is a no-op
func (c *Counting) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	if err := c.h.close(); err != nil {
		return fmt.Errorf("close counter: %w", err)
	}
	c.log.Debug("Closed counting event")
	return nil
}

package perfevent

import (
	"fmt"
	"iter"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/dylandreimerink/perfevent/record"
)

// Sampling is a session which samples a single event into a ring buffer. It starts disabled, Enable and Disable
// switch between the two states.
type Sampling struct {
	h          kernelHandle
	ring       recordRing
	format     record.Format
	readFormat record.ReadFormat
	log        logrus.FieldLogger

	enabled bool
	closed  bool
	lost    uint64
}

// Enable starts sampling
func (s *Sampling) Enable() error {
	if s.closed {
		return ErrClosed
	}
	if err := s.h.enable(false); err != nil {
		return fmt.Errorf("enable sampling: %w", err)
	}
	s.enabled = true
	return nil
}

// Disable stops sampling, records already in the ring buffer can still be read
func (s *Sampling) Disable() error {
	if s.closed {
		return ErrClosed
	}
	if err := s.h.disable(false); err != nil {
		return fmt.Errorf("disable sampling: %w", err)
	}
	s.enabled = false
	return nil
}

// Enabled returns true if the session is sampling
func (s *Sampling) Enabled() bool {
	return s.enabled
}

// Format returns the format records of this session are decoded with
func (s *Sampling) Format() record.Format {
	return s.format
}

// Lost returns the number of records and samples the kernel reported as lost so far
func (s *Sampling) Lost() uint64 {
	return s.lost
}

// Next decodes the next record in the ring buffer. It does not block, false is returned if the buffer is empty.
// Lost and LostSamples records are returned like any other record and are also added to Lost.
func (s *Sampling) Next() (record.Record, bool, error) {
	if s.closed {
		return nil, false, ErrClosed
	}

	raw, ok, err := s.ring.Next()
	if err != nil {
		return nil, false, fmt.Errorf("read ring buffer: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	rec, err := record.Decode(s.format, raw)
	if err != nil {
		return nil, false, err
	}

	switch r := rec.(type) {
	case *record.Lost:
		s.lost += r.Lost
		s.log.WithFields(logrus.Fields{
			"lost":  r.Lost,
			"total": s.lost,
		}).Debug("Kernel lost records")
	case *record.LostSamples:
		s.lost += r.Lost
		s.log.WithFields(logrus.Fields{
			"lost":  r.Lost,
			"total": s.lost,
		}).Debug("Kernel lost samples")
	}

	return rec, true, nil
}

// Records iterates over the records currently in the ring buffer. Iteration stops at the first error.
func (s *Sampling) Records() iter.Seq2[record.Record, error] {
	return func(yield func(record.Record, error) bool) {
		for {
			rec, ok, err := s.Next()
			if err != nil {
				yield(nil, err)
				return
			}
			if !ok {
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// Result reads the counter value of the sampled event
func (s *Sampling) Result() (CountingResult, error) {
	if s.closed {
		return CountingResult{}, ErrClosed
	}

	rv, err := readValues(s.h, s.readFormat, 1)
	if err != nil {
		return CountingResult{}, err
	}

	return resultFromValues(rv, rv.Values[0]), nil
}

// Close unmaps the ring buffer and closes the event. A closed session can't be used again.
func (s *Sampling) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.enabled = false

	var err error
	if rerr := s.ring.Close(); rerr != nil {
		err = multierr.Append(err, fmt.Errorf("unmap ring buffer: %w", rerr))
	}
	if cerr := s.h.close(); cerr != nil {
		err = multierr.Append(err, fmt.Errorf("close sampling event: %w", cerr))
	}

	s.log.WithField("lost", s.lost).Debug("Closed sampling event")
	return err
}

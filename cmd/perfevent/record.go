package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/dylandreimerink/perfevent"
	"github.com/dylandreimerink/perfevent/record"
)

var flagPrint bool

// pollInterval is how often the ring buffer is drained
const pollInterval = 100 * time.Millisecond

func recordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Sample the first configured event",
		Long: `record samples the first configured event into a ring buffer and decodes
the records. A summary of the record types is printed when done.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd)
			if err != nil {
				return err
			}

			return runRecord(s)
		},
	}
	addTargetFlags(cmd)
	cmd.Flags().BoolVar(&flagPrint, "print", false, "print every sample")

	return cmd
}

func runRecord(s *session) (err error) {
	scopes, err := s.cfg.EventScope()
	if err != nil {
		return err
	}

	ec := s.cfg.Events[0]
	event, err := ec.Event()
	if err != nil {
		return fmt.Errorf("event '%s': %w", ec.Label(), err)
	}

	attr := perfevent.NewSamplingAttr(s.caps, event, scopes, s.cfg.Sampling.OverflowBy(), s.cfg.Sampling.AttrConfig())

	sampling, err := s.builder().
		RingBufferPages(s.cfg.Sampling.RingPages).
		BuildSampling(attr)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, sampling.Close())
	}()

	ctx, cancel := runContext(flagDuration)
	defer cancel()

	if err := sampling.Enable(); err != nil {
		return err
	}

	s.log.WithFields(logrus.Fields{
		"event":       ec.Label(),
		"sample_type": attr.SampleType(),
	}).Info("Sampling started")

	counts := make(map[record.Type]uint64)
	drain := func() error {
		for rec, err := range sampling.Records() {
			if err != nil {
				return err
			}

			counts[rec.RecordHeader().Type]++
			if sample, ok := rec.(*record.Sample); ok && flagPrint {
				printSample(sample)
			}
		}
		return nil
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			if err := drain(); err != nil {
				return err
			}
		}
	}

	if err := sampling.Disable(); err != nil {
		return err
	}
	if err := drain(); err != nil {
		return err
	}

	res, err := sampling.Result()
	if err != nil {
		return err
	}

	printRecordSummary(counts, sampling.Lost(), res)
	return nil
}

func printSample(sample *record.Sample) {
	fmt.Printf("%d/%d\t%d\t0x%x\t%s\n", sample.Pid, sample.Tid, sample.Time, sample.IP, sample.CPUMode())
	for _, ip := range sample.Callchain {
		fmt.Printf("\t0x%x\n", ip)
	}
}

func printRecordSummary(counts map[record.Type]uint64, lost uint64, res perfevent.CountingResult) {
	types := make([]record.Type, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RECORD\tCOUNT")
	for _, t := range types {
		fmt.Fprintf(w, "%s\t%d\n", t, counts[t])
	}
	w.Flush()

	fmt.Printf("\nevent count: %d, lost records: %d\n", res.EventCount, lost)
}

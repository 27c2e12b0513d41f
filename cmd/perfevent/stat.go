package main

import (
	"fmt"
	"os"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/dylandreimerink/perfevent"
	"github.com/dylandreimerink/perfevent/internal/exporter"
)

var flagListen string

func statCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stat",
		Short: "Count events in a group",
		Long: `stat opens all configured events as one counting group and prints the
counts every interval. If exporter.addr is configured the counts are also
served as prometheus metrics.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd)
			if err != nil {
				return err
			}

			return runStat(s)
		},
	}
	addTargetFlags(cmd)
	cmd.Flags().StringVar(&flagListen, "listen", "", "serve prometheus metrics on this address, like ':9100'")

	return cmd
}

// statMember is an opened group member and the label it is printed with
type statMember struct {
	label  string
	member *perfevent.GroupMember
}

func runStat(s *session) (err error) {
	scopes, err := s.cfg.EventScope()
	if err != nil {
		return err
	}

	group, err := s.builder().BuildCountingGroup()
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, group.Close())
	}()

	var members []statMember
	for _, ec := range s.cfg.Events {
		event, err := ec.Event()
		if err != nil {
			return fmt.Errorf("event '%s': %w", ec.Label(), err)
		}

		attr := perfevent.NewCountingAttr(s.caps, event, scopes, perfevent.CountingConfig{})
		gm, err := group.AddMember(attr)
		if err != nil {
			return fmt.Errorf("event '%s': %w", ec.Label(), err)
		}

		members = append(members, statMember{label: ec.Label(), member: gm})
	}

	// The exporter reads concurrently with the interval loop
	var mu sync.Mutex
	read := func() (perfevent.CountingGroupResult, error) {
		mu.Lock()
		defer mu.Unlock()
		return group.Result()
	}

	ctx, cancel := runContext(flagDuration)
	defer cancel()

	if flagListen != "" {
		s.cfg.Exporter.Addr = flagListen
	}
	if s.cfg.Exporter.Addr != "" {
		counters := make([]exporter.Counter, len(members))
		for i, m := range members {
			counters[i] = exporter.Counter{Name: m.label, ID: m.member.ID()}
		}

		srv, err := exporter.NewServer(s.log, s.cfg.Exporter.Addr, exporter.NewCollector(s.log, read, counters))
		if err != nil {
			return err
		}
		if err := srv.Start(ctx); err != nil {
			return err
		}
		defer srv.Stop()
	}

	if err := group.Enable(); err != nil {
		return err
	}

	s.log.WithField("events", len(members)).Info("Counting started")

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			res, err := read()
			if err != nil {
				return err
			}
			printStat(members, res)
			return nil

		case <-ticker.C:
			res, err := read()
			if err != nil {
				return err
			}
			printStat(members, res)
		}
	}
}

func printStat(members []statMember, res perfevent.CountingGroupResult) {
	running := 100.0
	if res.TimeEnabled > 0 {
		running = float64(res.TimeRunning) / float64(res.TimeEnabled) * 100
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
	for _, m := range members {
		v, ok := res.Member(m.member)
		if !ok {
			fmt.Fprintf(w, "<not counted>\t\t%s\t\n", m.label)
			continue
		}
		fmt.Fprintf(w, "%d\t%d\t%s\t(%.2f%%)\t\n", v.EventCount, v.Scaled(), m.label, running)
	}
	w.Flush()
	fmt.Println()
}

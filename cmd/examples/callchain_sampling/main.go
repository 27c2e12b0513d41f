package main

import (
	"fmt"
	"os"
	"os/signal"
	"sort"
	"time"

	"github.com/dylandreimerink/perfevent"
	"github.com/dylandreimerink/perfevent/kernelsupport"
	"github.com/dylandreimerink/perfevent/record"
)

// This example samples the kernel callchains of all processes on CPU 0 at 99Hz and prints the most frequently
// sampled kernel addresses when interrupted. Addresses can be resolved with /proc/kallsyms.

func main() {
	caps, err := kernelsupport.Detect(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error while detecting kernel features: %s\n", err.Error())
		os.Exit(1)
	}

	depth := uint16(16)
	attr := perfevent.NewSamplingAttr(
		caps,
		perfevent.SoftwareCPUClock,
		perfevent.ScopeKernel,
		perfevent.Freq(99),
		perfevent.SamplingConfig{
			Fields: perfevent.SampleRecordFields{
				IP:        true,
				Tid:       true,
				Callchain: &depth,
			},
		},
	)

	sampling, err := perfevent.NewBuilder().
		AnyProcess().
		CPU(0).
		RingBufferPages(17).
		BuildSampling(attr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error while building sampling session: %s\n", err.Error())
		os.Exit(1)
	}
	defer sampling.Close()

	err = sampling.Enable()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error while enabling sampling: %s\n", err.Error())
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)

	hits := make(map[uint64]int)
	ticker := time.Tick(100 * time.Millisecond)
	for {
		select {
		case <-ticker:
			for rec, err := range sampling.Records() {
				if err != nil {
					fmt.Fprintf(os.Stderr, "error while reading records: %s\n", err.Error())
					os.Exit(1)
				}

				sample, ok := rec.(*record.Sample)
				if !ok {
					continue
				}

				for _, ip := range sample.Callchain {
					// Skip the context markers, they are in the top 4095 addresses
					if ip >= ^uint64(4095) {
						continue
					}
					hits[ip]++
				}
			}

		case <-sigChan:
			printTop(hits, 20)
			fmt.Printf("%d records lost\n", sampling.Lost())
			return
		}
	}
}

func printTop(hits map[uint64]int, n int) {
	addrs := make([]uint64, 0, len(hits))
	for addr := range hits {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return hits[addrs[i]] > hits[addrs[j]] })

	if len(addrs) > n {
		addrs = addrs[:n]
	}
	for _, addr := range addrs {
		fmt.Printf("%6d 0x%x\n", hits[addr], addr)
	}
}

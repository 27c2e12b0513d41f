package main

import (
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/dylandreimerink/perfevent"
	"github.com/dylandreimerink/perfevent/kernelsupport"
)

// This example counts the cycles and instructions of a process as one group, so both counters are scheduled on the
// PMU at the same time, and prints the instructions per cycle every second.
// Usage: counting_group {pid}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "usage: %s {pid}\n", os.Args[0])
		os.Exit(1)
	}

	var pid int
	if _, err := fmt.Sscan(os.Args[1], &pid); err != nil {
		fmt.Fprintf(os.Stderr, "invalid pid '%s': %s\n", os.Args[1], err.Error())
		os.Exit(1)
	}

	caps, err := kernelsupport.Detect(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error while detecting kernel features: %s\n", err.Error())
		os.Exit(1)
	}

	group, err := perfevent.NewBuilder().
		Pid(pid).
		AnyCPU().
		BuildCountingGroup()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error while building group: %s\n", err.Error())
		os.Exit(1)
	}
	defer group.Close()

	cycles, err := group.AddMember(perfevent.NewCountingAttr(
		caps,
		perfevent.HardwareCPUCycles,
		perfevent.ScopeUser,
		perfevent.CountingConfig{},
	))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error while opening cycles counter: %s\n", err.Error())
		os.Exit(1)
	}

	instructions, err := group.AddMember(perfevent.NewCountingAttr(
		caps,
		perfevent.HardwareInstructions,
		perfevent.ScopeUser,
		perfevent.CountingConfig{},
	))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error while opening instructions counter: %s\n", err.Error())
		os.Exit(1)
	}

	err = group.Enable()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error while enabling group: %s\n", err.Error())
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)

	ticker := time.Tick(1 * time.Second)
	for {
		select {
		case <-ticker:
			res, err := group.Result()
			if err != nil {
				fmt.Fprintf(os.Stderr, "error while reading group: %s\n", err.Error())
				os.Exit(1)
			}

			c, _ := res.Member(cycles)
			i, _ := res.Member(instructions)
			if c.Scaled() == 0 {
				fmt.Println("no cycles counted yet")
				continue
			}

			fmt.Printf("%d cycles, %d instructions, %.2f IPC\n",
				c.Scaled(), i.Scaled(), float64(i.Scaled())/float64(c.Scaled()))

		case <-sigChan:
			fmt.Println("Closing counters and stopping")
			return
		}
	}
}

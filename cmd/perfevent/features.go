package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dylandreimerink/perfevent/internal/config"
	"github.com/dylandreimerink/perfevent/kernelsupport"
)

func featuresCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "features",
		Short: "Show the perf features of the running kernel",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd)
			if err != nil {
				return err
			}

			printFeatures(s.caps)
			if s.cfg.KernelSource == config.KernelSourceHeaders {
				fmt.Printf("\nKernel version read from %s\n", s.cfg.VersionHeaderPath())
				return nil
			}

			// The headers only matter for building programs against this kernel, a missing header is not an error
			headers, err := kernelsupport.ReadVersionHeader(s.cfg.VersionHeaderPath())
			if err != nil {
				s.log.WithError(err).Debug("Unable to read kernel headers version")
				return nil
			}
			fmt.Printf("\nHeaders:          %s (%s)\n", headers, s.cfg.VersionHeaderPath())
			if headers.Major != s.caps.Kernel.Major || headers.Patch != s.caps.Kernel.Patch {
				fmt.Println("Warning:          headers don't match the running kernel")
			}
			return nil
		},
	}
}

func printFeatures(caps kernelsupport.CapabilitySet) {
	fmt.Printf("Kernel:           %s\n", caps.Kernel)
	selected := caps.Selected.String()
	if caps.Selected == (kernelsupport.FeatureVersion{}) {
		selected = "baseline (linux-3.10)"
	}
	if caps.UserSelected {
		selected += " (override)"
	}
	fmt.Printf("Feature version:  %s\n", selected)
	fmt.Printf("Attr size:        %d bytes\n", caps.AttrSize())
	if caps.Mismatch != nil {
		fmt.Printf("Warning:          %s\n", caps.Mismatch)
	}
	fmt.Println()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tENABLED\tFEATURES")
	for _, fv := range kernelsupport.FeatureVersions() {
		feats := fv.Features()
		enabled := "no"
		if caps.Has(feats) {
			enabled = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", fv, enabled, feats)
	}
	w.Flush()
}

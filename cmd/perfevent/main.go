package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dylandreimerink/perfevent"
	"github.com/dylandreimerink/perfevent/internal/config"
	"github.com/dylandreimerink/perfevent/internal/version"
	"github.com/dylandreimerink/perfevent/kernelsupport"
)

var (
	cfgFile        string
	logLevel       string
	featureVersion string
	fromHeaders    bool

	flagPid      int
	flagCPU      int
	flagEvents   []string
	flagDuration time.Duration
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "perfevent",
		Short: "Count and sample linux perf events",
		Long: `perfevent opens perf events for a task or CPU, counts them or
samples them into a ring buffer, and decodes the records the kernel writes.
Options the running kernel doesn't support are left out automatically.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	f := cmd.PersistentFlags()
	f.StringVar(&cfgFile, "config", "", "path to config file, defaults are used if not set")
	f.StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	f.StringVar(&featureVersion, "feature-version", "",
		"use the features of the given kernel version instead of the detected one, like 'linux-5.4'")
	f.BoolVar(&fromHeaders, "from-headers", false,
		"detect the kernel version from linux/version.h of the kernel headers instead of uname")

	cmd.AddCommand(
		featuresCmd(),
		statCmd(),
		recordCmd(),
		versionCmd(),
	)

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.FullWithPlatform())
		},
	}
}

// addTargetFlags adds the flags which override the target and events of the config
func addTargetFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.IntVarP(&flagPid, "pid", "p", 0, "pid to measure, 0 is this process and -1 is any process")
	f.IntVarP(&flagCPU, "cpu", "c", -1, "cpu to measure on, -1 is any cpu")
	f.StringArrayVarP(&flagEvents, "event", "e", nil,
		"event to measure, like 'cpu-cycles', 'raw:0x1c2', 'tracepoint:sched:sched_switch' or 'kprobe:vfs_read'")
	f.DurationVarP(&flagDuration, "duration", "d", 0, "stop after this long, runs until interrupted if 0")
}

// parseEventFlag parses the value of an --event flag in 'kind:name' notation, names without a known kind are
// named events.
func parseEventFlag(value string) (config.EventConfig, error) {
	kind, rest, ok := strings.Cut(value, ":")
	if !ok {
		return config.EventConfig{Name: value}, nil
	}

	switch kind {
	case config.KindRaw:
		raw, err := parseUint(rest)
		if err != nil {
			return config.EventConfig{}, fmt.Errorf("raw event '%s': %w", value, err)
		}
		return config.EventConfig{Kind: kind, Name: value, Config: raw}, nil
	case config.KindTracepoint:
		return config.EventConfig{Kind: kind, Name: rest}, nil
	case config.KindKprobe, config.KindUprobe:
		return config.EventConfig{Kind: kind, Name: rest}, nil
	}

	return config.EventConfig{Name: value}, nil
}

// session is everything a command needs to open events
type session struct {
	log  *logrus.Logger
	cfg  *config.Config
	caps kernelsupport.CapabilitySet
}

func newSession(cmd *cobra.Command) (*session, error) {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	cfg := config.Default()
	if cfgFile != "" {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
	}

	// CLI flags override the config file.
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if featureVersion != "" {
		cfg.FeatureVersion = featureVersion
	}
	if fromHeaders {
		cfg.KernelSource = config.KernelSourceHeaders
	}
	if f := cmd.Flags().Lookup("pid"); f != nil && f.Changed {
		cfg.Target.Pid = flagPid
	}
	if f := cmd.Flags().Lookup("cpu"); f != nil && f.Changed {
		cfg.Target.CPU = flagCPU
	}
	if len(flagEvents) > 0 {
		cfg.Events = nil
		for _, value := range flagEvents {
			ec, err := parseEventFlag(value)
			if err != nil {
				return nil, err
			}
			cfg.Events = append(cfg.Events, ec)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("parsing log level %q: %w", cfg.LogLevel, err)
	}
	log.SetLevel(level)

	override, err := cfg.Override()
	if err != nil {
		return nil, err
	}

	kernel, err := cfg.KernelVersion()
	if err != nil {
		return nil, err
	}

	caps, err := kernelsupport.Resolve(kernel, override, log)
	if err != nil {
		return nil, fmt.Errorf("resolving capabilities: %w", err)
	}

	log.WithFields(logrus.Fields{
		"kernel":   kernel.String(),
		"source":   cfg.KernelSource,
		"features": caps.Selected.String(),
	}).Debug("Resolved capabilities")

	return &session{
		log:  log,
		cfg:  cfg,
		caps: caps,
	}, nil
}

func (s *session) builder() *perfevent.Builder {
	return perfevent.NewBuilder().
		Pid(s.cfg.Target.Pid).
		CPU(s.cfg.Target.CPU).
		WithLogger(s.log)
}

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dylandreimerink/perfevent/internal/config"
	"github.com/dylandreimerink/perfevent/kernelsupport"
)

func TestParseEventFlag(t *testing.T) {
	tests := []struct {
		value string
		want  config.EventConfig
	}{
		{value: "cpu-cycles", want: config.EventConfig{Name: "cpu-cycles"}},
		{value: "raw:0x1c2", want: config.EventConfig{Kind: config.KindRaw, Name: "raw:0x1c2", Config: 0x1c2}},
		{
			value: "tracepoint:sched:sched_switch",
			want:  config.EventConfig{Kind: config.KindTracepoint, Name: "sched:sched_switch"},
		},
		{value: "kprobe:vfs_read", want: config.EventConfig{Kind: config.KindKprobe, Name: "vfs_read"}},
		{value: "uprobe:/bin/bash", want: config.EventConfig{Kind: config.KindUprobe, Name: "/bin/bash"}},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			got, err := parseEventFlag(tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := parseEventFlag("raw:zz")
	require.Error(t, err)
}

func TestRootCmd(t *testing.T) {
	cmd := rootCmd()

	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.ElementsMatch(t, []string{"features", "stat", "record", "version"}, names)

	stat, _, err := cmd.Find([]string{"stat"})
	require.NoError(t, err)
	assert.NotNil(t, stat.Flags().Lookup("listen"))
	assert.NotNil(t, stat.Flags().Lookup("pid"))
}

func TestSessionFromHeaders(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "include", "linux"), 0o755))
	header := `#define LINUX_VERSION_CODE 264192
#define KERNEL_VERSION(a,b,c) (((a) << 16) + ((b) << 8) + ((c) > 255 ? 255 : (c)))
`
	require.NoError(t, os.WriteFile(filepath.Join(root, "include", "linux", "version.h"), []byte(header), 0o644))
	t.Setenv(kernelsupport.HeadersPathEnv, root)
	t.Cleanup(func() { fromHeaders = false })

	cmd := rootCmd()
	require.NoError(t, cmd.PersistentFlags().Parse([]string{"--from-headers"}))

	s, err := newSession(cmd)
	require.NoError(t, err)
	assert.Equal(t, config.KernelSourceHeaders, s.cfg.KernelSource)
	// 4.8.0
	assert.Equal(t, kernelsupport.KernelVersion{Major: 4, Patch: 8}, s.caps.Kernel)
	assert.Equal(t, kernelsupport.FeatureVersion{Major: 4, Patch: 8}, s.caps.Selected)
}

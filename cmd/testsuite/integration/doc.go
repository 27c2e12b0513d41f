// Package integration contains test scenarios which combine perf events with other kernel subsystems, they are
// only built with the perftests tag.
package integration

package perfevent

import (
	"fmt"
	"strings"

	"github.com/dylandreimerink/perfevent/internal/syscall"
)

// EventScope is a set of domains in which an event is counted. A domain which is not in the set is excluded, so
// the empty set counts nothing.
type EventScope uint8

const (
	ScopeUser EventScope = 1 << iota
	ScopeKernel
	ScopeHypervisor
	ScopeIdle
	ScopeHost
	ScopeGuest
	ScopeCallchainUser
	ScopeCallchainKernel

	// ScopeAll contains every domain
	ScopeAll = ScopeUser | ScopeKernel | ScopeHypervisor | ScopeIdle | ScopeHost | ScopeGuest |
		ScopeCallchainUser | ScopeCallchainKernel
)

var scopeExcludeFlags = []struct {
	scope EventScope
	flag  syscall.PerfAttrFlags
	name  string
}{
	{scope: ScopeUser, flag: syscall.PerfAttrFlagsExcludeUser, name: "user"},
	{scope: ScopeKernel, flag: syscall.PerfAttrFlagsExcludeKernel, name: "kernel"},
	{scope: ScopeHypervisor, flag: syscall.PerfAttrFlagsExcludeHV, name: "hypervisor"},
	{scope: ScopeIdle, flag: syscall.PerfAttrFlagsExcludeIdle, name: "idle"},
	{scope: ScopeHost, flag: syscall.PerfAttrFlagsExcludeHost, name: "host"},
	{scope: ScopeGuest, flag: syscall.PerfAttrFlagsExcludeGuest, name: "guest"},
	{scope: ScopeCallchainUser, flag: syscall.PerfAttrFlagsExcludeCallchainUser, name: "callchain_user"},
	{scope: ScopeCallchainKernel, flag: syscall.PerfAttrFlagsExcludeCallchainKernel, name: "callchain_kernel"},
}

// Has returns true if all given scopes are in the set
func (s EventScope) Has(scopes EventScope) bool {
	return s&scopes == scopes
}

// excludeFlags returns the exclude bits for every domain not in the set
func (s EventScope) excludeFlags() syscall.PerfAttrFlags {
	var flags syscall.PerfAttrFlags
	for _, sef := range scopeExcludeFlags {
		if !s.Has(sef.scope) {
			flags |= sef.flag
		}
	}
	return flags
}

// scopeFromFlags is the inverse of excludeFlags
func scopeFromFlags(flags syscall.PerfAttrFlags) EventScope {
	var s EventScope
	for _, sef := range scopeExcludeFlags {
		if flags&sef.flag == 0 {
			s |= sef.scope
		}
	}
	return s
}

func (s EventScope) String() string {
	var names []string
	for _, sef := range scopeExcludeFlags {
		if s.Has(sef.scope) {
			names = append(names, sef.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ",")
}

// ParseScope parses a scope name as returned by String, like "user" or "callchain_kernel"
func ParseScope(name string) (EventScope, error) {
	for _, sef := range scopeExcludeFlags {
		if sef.name == name {
			return sef.scope, nil
		}
	}
	return 0, fmt.Errorf("unknown event scope '%s'", name)
}

// Scopes combines a list of scopes into one set
func Scopes(scopes ...EventScope) EventScope {
	var s EventScope
	for _, scope := range scopes {
		s |= scope
	}
	return s
}

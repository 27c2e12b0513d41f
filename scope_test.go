package perfevent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScopeExcludeFlagsComplement(t *testing.T) {
	for i := 0; i <= int(ScopeAll); i++ {
		s := EventScope(i)
		flags := s.excludeFlags()

		for _, sef := range scopeExcludeFlags {
			excluded := flags&sef.flag != 0
			assert.Equal(t, !s.Has(sef.scope), excluded, "scope %s flag %s", s, sef.name)
		}

		assert.Equal(t, s, scopeFromFlags(flags))
	}
}

func TestScopeString(t *testing.T) {
	assert.Equal(t, "none", EventScope(0).String())
	assert.Equal(t, "user,kernel", Scopes(ScopeKernel, ScopeUser).String())
	assert.Equal(t, "user,kernel,hypervisor,idle,host,guest,callchain_user,callchain_kernel", ScopeAll.String())
}

func TestParseScope(t *testing.T) {
	for _, sef := range scopeExcludeFlags {
		s, err := ParseScope(sef.name)
		require.NoError(t, err)
		assert.Equal(t, sef.scope, s)
	}

	_, err := ParseScope("userspace")
	assert.Error(t, err)
}

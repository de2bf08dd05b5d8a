//go:build windows

package logging

import (
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAuditorWritesToFallback(t *testing.T) {
	logger, hook := test.NewNullLogger()

	NewAuditor("ssh-access-granting-service", logger).Record([]string{"revoke-ssh-access", "alice"})

	require.Len(t, hook.Entries, 1)
	assert.Equal(t, "revoke-ssh-access alice", hook.LastEntry().Message)
}

package token

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ssh-access-granting-service/internal/jwt"
)

func TestTokenIsSignedForAudience(t *testing.T) {
	logger, _ := test.NewNullLogger()
	dir := t.TempDir()

	signer := jwt.NewManager("host-a", "", logger)
	require.NoError(t, signer.GenerateKeyPair(dir))

	load := func() (*jwt.Manager, error) {
		m := jwt.NewManager("host-a", "", logger)
		return m, m.LoadKey(dir)
	}

	var out bytes.Buffer
	require.NoError(t, runToken(&out, logger, dir, "https://keys.example.org", time.Minute, load))

	claims, err := signer.Verify(strings.TrimSpace(out.String()), "https://keys.example.org")
	require.NoError(t, err)
	assert.Equal(t, "host-a", claims.Subject)
}

func TestTokenRequiresKeyPath(t *testing.T) {
	logger, _ := test.NewNullLogger()
	load := func() (*jwt.Manager, error) {
		t.Fatal("keys must not be loaded")
		return nil, nil
	}

	err := runToken(&bytes.Buffer{}, logger, "", "https://keys.example.org", time.Minute, load)
	assert.ErrorContains(t, err, "key_path")

	err = runToken(&bytes.Buffer{}, logger, "/keys", "https://keys.example.org", 0, load)
	assert.ErrorContains(t, err, "expiration")
}

package keygen

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ssh-access-granting-service/internal/jwt"
)

func TestKeygenRefusesToOverwriteWithoutForce(t *testing.T) {
	dir := t.TempDir()

	var out bytes.Buffer
	require.NoError(t, runKeygen(context.Background(), &out, false, "", dir, false))
	assert.Contains(t, out.String(), filepath.Join(dir, jwt.PublicKeyFile))
	assert.Contains(t, out.String(), `"crv": "P-384"`)

	first, err := os.ReadFile(filepath.Join(dir, jwt.PublicKeyFile))
	require.NoError(t, err)

	err = runKeygen(context.Background(), &out, false, "", dir, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "keys already exist")

	require.NoError(t, runKeygen(context.Background(), &out, false, "", dir, true))
	second, err := os.ReadFile(filepath.Join(dir, jwt.PublicKeyFile))
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

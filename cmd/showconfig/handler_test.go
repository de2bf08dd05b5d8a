package showconfig

import (
	"bytes"
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"ssh-access-granting-service/internal/config"
	"ssh-access-granting-service/types"
)

func TestWriteConfigShowsEffectiveValues(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/sags.yaml", []byte(`
ssh_access_granting_service_url: https://keys.example.org/
allowed_remote_networks: [10.0.0.0/9, 10.128.0.0/9]
`), 0644))

	cfg, err := (&config.Loader{Fs: fs}).Load(context.Background(), "/etc/sags.yaml")
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, writeConfig(&out, cfg))

	var shown types.Config
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &shown))
	assert.Equal(t, "https://keys.example.org", shown.ServiceURL)
	assert.Equal(t, []string{"adm"}, shown.UserGroups)
	assert.Equal(t, "/root/.ssh/authorized_keys", shown.FallbackKeysFile)
	assert.NotContains(t, out.String(), "allowednetworks")
}

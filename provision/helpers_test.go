package provision

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"ssh-access-granting-service/internal/osplugins"
	"ssh-access-granting-service/types"
)

const (
	testMaterial = "AAAAC3NzaC1lZDI1NTE5AAAAIOMqqnkVzrm0SdG6UOoqKLsabgH5C9okWi0dh2l9GKJl"
	testKeyText  = "ssh-ed25519 " + testMaterial + " someone@laptop\n"
)

var testNow = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

type keyServer struct {
	*httptest.Server
	hits atomic.Int32
}

// newKeyServer serves keys[name] at /public-keys/<name>/sshkey.pub and 404 otherwise
func newKeyServer(t *testing.T, keys map[string]string) *keyServer {
	t.Helper()

	ks := &keyServer{}
	ks.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ks.hits.Add(1)
		name := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/public-keys/"), "/sshkey.pub")
		key, ok := keys[name]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(key))
	}))
	t.Cleanup(ks.Close)
	return ks
}

type fakeResolver map[string][]netip.Addr

func (r fakeResolver) LookupNetIP(_ context.Context, _, host string) ([]netip.Addr, error) {
	addrs, ok := r[host]
	if !ok {
		return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
	}
	return addrs, nil
}

type delegateCall struct {
	Command types.Command
	User    string
	Host    string
}

type recordingDelegate struct {
	calls []delegateCall
	err   error
}

func (d *recordingDelegate) Delegate(_ context.Context, command types.Command, user, host string) error {
	d.calls = append(d.calls, delegateCall{Command: command, User: user, Host: host})
	return d.err
}

type testEnv struct {
	cfg        *types.Config
	system     *osplugins.MemoryPlugin
	keys       *keyServer
	remote     *recordingDelegate
	controller *Controller
	hook       *test.Hook
	sleeps     []time.Duration
}

func newTestEnv(t *testing.T, keys map[string]string) *testEnv {
	t.Helper()

	logger, hook := test.NewNullLogger()

	cfg := &types.Config{
		UserGroups:       []string{"adm"},
		FallbackUser:     "root",
		FallbackKeysFile: "/root/.ssh/authorized_keys",
		TempDir:          "/run/shm",
		AllowedNetworks:  []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")},
	}

	system := osplugins.NewMemoryPlugin()
	system.AddAccount("root", "/root")
	require.NoError(t, system.Fs().MkdirAll("/run/shm", 0o1777))

	env := &testEnv{
		cfg:    cfg,
		system: system,
		keys:   newKeyServer(t, keys),
		remote: &recordingDelegate{},
		hook:   hook,
	}

	resolver := fakeResolver{
		"peer.internal":    {netip.MustParseAddr("10.1.2.3")},
		"evil.example.com": {netip.MustParseAddr("192.168.1.1")},
	}

	c := NewControllerWithSystem(cfg, system, NewFetcher(env.keys.URL, nil, logger), env.remote, resolver, logger)
	fixed := func() time.Time { return testNow }
	c.now = fixed
	c.provisioner.now = fixed
	c.enforcer.now = fixed
	c.enforcer.sessions.sleep = func(_ context.Context, d time.Duration) {
		env.sleeps = append(env.sleeps, d)
	}
	env.controller = c

	return env
}

func (e *testEnv) read(t *testing.T, path string) string {
	t.Helper()
	content, err := e.system.ReadCredentialFile(context.Background(), path)
	require.NoError(t, err)
	return string(content)
}

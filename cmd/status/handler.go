package status

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"ssh-access-granting-service/internal/config"
	"ssh-access-granting-service/internal/jwt"
	"ssh-access-granting-service/internal/logging"
	"ssh-access-granting-service/internal/osplugins"
	"ssh-access-granting-service/types"
)

const (
	mountsPath          = "/proc/mounts"
	serviceCheckTimeout = 10 * time.Second
)

func NewStatusCommand(verbose *bool, configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check configuration and system status",
		Long: `Validate the installation:
- Configuration file or instance metadata
- Temporary key staging directory (must be on tmpfs)
- Fallback credential directory
- JWT key presence, when key_path is set
- Key service reachability`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.SetupLogger(*verbose, "", "")
			logger.WithField("config_path", *configPath).Debug("🔍 Status check")

			cfg, cfgErr := config.Load(cmd.Context(), *configPath)
			c := &checker{
				fs:     afero.NewOsFs(),
				system: osplugins.Detect(true, logger),
				http:   &http.Client{Timeout: serviceCheckTimeout},
				logger: logger,
			}
			return c.run(cmd.Context(), cmd.OutOrStdout(), cfg, cfgErr)
		},
	}

	cmd.Flags().StringVarP(configPath, "config", "c", config.DefaultConfigPath, "Path to configuration file")

	return cmd
}

type checker struct {
	fs     afero.Fs
	system osplugins.OSPlugin
	http   *http.Client
	logger *logrus.Logger
}

type check struct {
	name string
	run  func() error
}

func (c *checker) run(ctx context.Context, out io.Writer, cfg *types.Config, cfgErr error) error {
	fmt.Fprintln(out, "🔍 SSH Access Granting Service Status Check")
	fmt.Fprintln(out, strings.Repeat("=", 44))

	if c.system != nil {
		info := c.system.GetSystemInfo()
		c.logger.WithField("system_info", info).Debug("System information")
		fmt.Fprintf(out, "🖥️  OS plugin: %s (shell %s", c.system.GetName(), c.system.DefaultShell())
		if distribution := info["distribution"]; distribution != "" {
			fmt.Fprintf(out, ", %s", distribution)
		}
		fmt.Fprintln(out, ")")
	}

	checks := []check{{"Configuration", func() error { return cfgErr }}}
	if cfg != nil {
		checks = append(checks,
			check{"Temporary directory", func() error { return c.checkTempDir(cfg.TempDir) }},
			check{"Fallback credential directory", func() error { return c.checkDir(path.Dir(cfg.FallbackKeysFile)) }},
			check{"JWT keys", func() error { return c.checkJWTKeys(cfg.KeyPath) }},
			check{"Key service", func() error { return c.checkService(ctx, cfg.ServiceURL) }},
		)
	}

	failed := 0
	for _, chk := range checks {
		if err := chk.run(); err != nil {
			failed++
			c.logger.WithError(err).WithField("check", chk.name).Debug("Check failed")
			fmt.Fprintf(out, "❌ %s: %v\n", chk.name, err)
			continue
		}
		fmt.Fprintf(out, "✅ %s\n", chk.name)
	}

	fmt.Fprintln(out, strings.Repeat("=", 44))

	if failed > 0 {
		fmt.Fprintln(out, "⚠️  Some checks failed. Please review the issues above.")
		return fmt.Errorf("%d of %d status checks failed", failed, len(checks))
	}
	fmt.Fprintln(out, "🎉 All checks passed!")
	return nil
}

func (c *checker) checkDir(dir string) error {
	info, err := c.fs.Stat(dir)
	if err != nil {
		return fmt.Errorf("cannot access %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	return nil
}

func (c *checker) checkTempDir(dir string) error {
	if err := c.checkDir(dir); err != nil {
		return err
	}

	data, err := afero.ReadFile(c.fs, mountsPath)
	if err != nil {
		return fmt.Errorf("cannot read %s: %w", mountsPath, err)
	}

	fsType := mountType(data, dir)
	if fsType != "tmpfs" {
		return fmt.Errorf("%s is on %q, not tmpfs", dir, fsType)
	}
	return nil
}

// mountType returns the filesystem type of the longest mount point containing dir
func mountType(mounts []byte, dir string) string {
	dir = filepath.Clean(dir)

	best, fsType := "", ""
	scanner := bufio.NewScanner(bytes.NewReader(mounts))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		point := fields[1]
		if !containsPath(point, dir) || len(point) < len(best) {
			continue
		}
		best, fsType = point, fields[2]
	}
	return fsType
}

func containsPath(mountPoint, dir string) bool {
	if mountPoint == "/" || mountPoint == dir {
		return true
	}
	return strings.HasPrefix(dir, mountPoint+"/")
}

func (c *checker) checkJWTKeys(keyPath string) error {
	if keyPath == "" {
		c.logger.Debug("No key path configured, requests are unsigned")
		return nil
	}

	for _, name := range []string{jwt.PrivateKeyFile, jwt.PublicKeyFile} {
		file := filepath.Join(keyPath, name)
		if _, err := c.fs.Stat(file); err != nil {
			return fmt.Errorf("%s: %w", file, err)
		}
	}
	return nil
}

func (c *checker) checkService(ctx context.Context, serviceURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, serviceURL, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("key service unreachable: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("key service returned status %d", resp.StatusCode)
	}
	return nil
}

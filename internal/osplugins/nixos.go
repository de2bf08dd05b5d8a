package osplugins

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// NixOSPlugin manages accounts imperatively; it requires users.mutableUsers = true
type NixOSPlugin struct {
	*LinuxPlugin
}

// NewNixOSPlugin creates a new NixOS plugin instance
func NewNixOSPlugin(runner *Runner, logger *logrus.Logger) *NixOSPlugin {
	linux := NewLinuxPlugin(runner, logger)
	linux.shell = "/run/current-system/sw/bin/bash"
	return &NixOSPlugin{LinuxPlugin: linux}
}

func (p *NixOSPlugin) GetName() string {
	return "nixos"
}

func (p *NixOSPlugin) Detect() bool {
	_, err := os.Stat("/etc/NIXOS")
	return err == nil
}

func (p *NixOSPlugin) GetSystemInfo() map[string]string {
	info := make(map[string]string)
	info["os"] = "nixos"
	info["package_manager"] = "nix"
	info["config_method"] = "declarative"

	if content, err := os.ReadFile("/etc/nixos/version"); err == nil {
		info["version"] = strings.TrimSpace(string(content))
	}

	return info
}

package osplugins

import (
	"github.com/sirupsen/logrus"
)

// Detect returns the plugin for the current system: NixOS when detected, Linux otherwise
func Detect(dryRun bool, logger *logrus.Logger) OSPlugin {
	runner := NewRunner(dryRun, logger)

	candidates := []OSPlugin{
		NewNixOSPlugin(runner, logger),
	}

	for _, plugin := range candidates {
		if plugin.Detect() {
			logger.WithField("os_plugin", plugin.GetName()).Debug("Detected OS plugin")
			return plugin
		}
	}

	logger.WithField("os_plugin", "linux").Debug("Using Linux plugin as fallback")
	return NewLinuxPlugin(runner, logger)
}

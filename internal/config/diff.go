package config

import "reflect"

// ConfigDiff describes what changed between two configs. Only the log level
// and the policy file can be applied without a restart; every other changed
// section is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	PolicyChanged bool
	NewPolicy     PolicyConfig

	// RestartRequired names the top-level sections that changed but are only
	// read at startup.
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.PolicyChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Policy != new.Policy {
		d.PolicyChanged = true
		d.NewPolicy = new.Policy
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	sections := []struct {
		name     string
		old, new any
	}{
		{"providers", old.Providers, new.Providers},
		{"agent", old.Agent, new.Agent},
		{"capabilities", old.Capabilities, new.Capabilities},
		{"mcp", old.MCP, new.MCP},
		{"sessions", old.Sessions, new.Sessions},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	return d
}

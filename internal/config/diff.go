package config

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// TrackerChanged is true if any tracker tuning changed. The app rebuilds
	// the tracker, which discards the current window.
	TrackerChanged bool

	// DialogueChanged is true if the endpoint or settle delay changed.
	// Takes effect at the next session start.
	DialogueChanged bool

	// RestartRequired lists fields that changed but are only read at startup.
	RestartRequired []string
}

// Changed reports whether d holds any difference.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.TrackerChanged || d.DialogueChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.TrackerChanged = old.Tracker != new.Tracker

	if old.Dialogue.URL != new.Dialogue.URL || old.Dialogue.SettleDelay != new.Dialogue.SettleDelay {
		d.DialogueChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if old.Dialogue.ReadLimitBytes != new.Dialogue.ReadLimitBytes {
		d.RestartRequired = append(d.RestartRequired, "dialogue.read_limit_bytes")
	}
	if old.Frames != new.Frames {
		d.RestartRequired = append(d.RestartRequired, "frames.interval")
	}
	if old.Report != new.Report {
		d.RestartRequired = append(d.RestartRequired, "report")
	}

	return d
}

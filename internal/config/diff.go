package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be applied without a restart are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ChannelChanged is true if any channel setting changed. Channel changes
	// take effect at the next session start.
	ChannelChanged bool
	Channel        ChannelDiff

	// RestartRequired lists sections whose changes are ignored until the
	// process restarts.
	RestartRequired []string
}

// ChannelDiff describes which channel settings changed.
type ChannelDiff struct {
	ProviderChanged     bool // name, api_key or base_url
	ModelChanged        bool
	VoiceChanged        bool
	InstructionsChanged bool // assistant_name or instructions_file
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.Channel = diffChannel(&old.Channel, &new.Channel)
	d.ChannelChanged = d.Channel != ChannelDiff{}

	if old.Server.ListenAddr != new.Server.ListenAddr || !sameTLS(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !sameAudio(&old.Audio, &new.Audio) {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if old.History != new.History {
		d.RestartRequired = append(d.RestartRequired, "history")
	}
	return d
}

// diffChannel compares two channel configs.
func diffChannel(old, new *ChannelConfig) ChannelDiff {
	var cd ChannelDiff
	if old.Name != new.Name || old.APIKey != new.APIKey || old.BaseURL != new.BaseURL ||
		!slices.Equal(old.Fallbacks, new.Fallbacks) {
		cd.ProviderChanged = true
	}
	if old.Model != new.Model {
		cd.ModelChanged = true
	}
	if old.Voice != new.Voice {
		cd.VoiceChanged = true
	}
	if old.AssistantName != new.AssistantName || old.InstructionsFile != new.InstructionsFile {
		cd.InstructionsChanged = true
	}
	return cd
}

func sameTLS(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func sameAudio(a, b *AudioConfig) bool {
	return a.Backend == b.Backend &&
		a.InputDevice == b.InputDevice &&
		a.OutputDevice == b.OutputDevice &&
		a.FrameSize == b.FrameSize &&
		sameBool(a.EchoCancellation, b.EchoCancellation) &&
		sameBool(a.NoiseSuppression, b.NoiseSuppression) &&
		sameBool(a.AutoGainControl, b.AutoGainControl)
}

func sameBool(a, b *bool) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

package config

// Sanitize returns a deep copy with secrets masked, safe for display.
func Sanitize(cfg *Config) *Config {
	out := *cfg
	out.Providers = make(map[string]ProviderConfig, len(cfg.Providers))
	for name, pc := range cfg.Providers {
		pc.APIKey = maskSecret(pc.APIKey)
		out.Providers[name] = pc
	}
	out.Channels.Telegram.Token = maskSecret(cfg.Channels.Telegram.Token)
	return &out
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

package config

import "encoding/json"

const secretMask = "***"

// MaskedCopy returns a deep copy of the config with secret fields
// masked, suitable for printing or serving without exposing keys.
func (c *Config) MaskedCopy() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// Deep copy via JSON round-trip
	data, err := json.Marshal(c)
	if err != nil {
		return Default()
	}
	cp := Default()
	if err := json.Unmarshal(data, cp); err != nil {
		return Default()
	}

	maskNonEmpty(&cp.Provider.APIKey)
	return cp
}

// StripMaskedSecrets strips only fields that still contain the mask
// value. Real values the user put in the file are preserved.
func (c *Config) StripMaskedSecrets() {
	if c.Provider.APIKey == secretMask {
		c.Provider.APIKey = ""
	}
}

func maskNonEmpty(s *string) {
	if *s != "" {
		*s = secretMask
	}
}

package config

import (
	"fmt"
)

// KeyInfo describes a config key for display purposes.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
}

// ShowAll returns all config key/value pairs from the current config.
func ShowAll(cfg Config) []KeyInfo {
	var result []KeyInfo
	for _, s := range specs {
		if s.secret {
			continue
		}
		result = append(result, KeyInfo{
			Key:    s.key,
			EnvVar: s.env,
			Value:  fmt.Sprintf("%v", s.extract(cfg)),
		})
	}
	return result
}

// SetKey writes a config key to the config file.
func SetKey(key, value string) error {
	return setKey(newFileBackend(ConfigFilePath()), key, value)
}

// UnsetKey removes a key from the config file so its default applies again.
func UnsetKey(key string) error {
	s, err := lookup(key)
	if err != nil {
		return err
	}
	return newFileBackend(ConfigFilePath()).Delete(s.key)
}

func setKey(b ConfigBackend, key, value string) error {
	s, err := lookup(key)
	if err != nil {
		return err
	}
	v, err := parseValue(s.typ, value)
	if err != nil {
		return fmt.Errorf("invalid %s value for %s: %w", typeName(s.typ), key, err)
	}

	// Reject values that would make the stored config fail to load.
	cfg := defaults()
	if err := applyBackend(&cfg, b); err != nil {
		return err
	}
	s.apply(&cfg, v)
	if err := cfg.Validate(); err != nil {
		return err
	}

	if s.typ == kInt {
		return b.SetInt(key, v.(int))
	}
	return b.SetString(key, value)
}

func lookup(key string) (keySpec, error) {
	for _, s := range specs {
		if s.key != key {
			continue
		}
		if s.secret {
			return keySpec{}, fmt.Errorf("cannot set secret %q via config; use environment variable %s", key, s.env)
		}
		return s, nil
	}
	return keySpec{}, fmt.Errorf("unknown config key: %q", key)
}

// ValidKeys returns the list of valid non-secret config key names.
func ValidKeys() []string {
	var keys []string
	for _, s := range specs {
		if !s.secret {
			keys = append(keys, s.key)
		}
	}
	return keys
}

package config

import (
	"fmt"
	"os"
)

// KeyInfo is one row of `freightdocs config show`.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
	// FromEnv is true when the environment variable overrides the file.
	FromEnv bool
}

// ShowAll lists every key with its effective value. Secret values are
// never printed, only whether one is configured.
func ShowAll(cfg Config) []KeyInfo {
	result := make([]KeyInfo, 0, len(specs))
	for _, s := range specs {
		v := fmt.Sprint(s.extract(cfg))
		if s.secret {
			v = "(unset)"
			if s.extract(cfg) != "" {
				v = "(set)"
			}
		}
		result = append(result, KeyInfo{
			Key:     s.key,
			EnvVar:  s.env,
			Value:   v,
			FromEnv: s.env != "" && os.Getenv(s.env) != "",
		})
	}
	return result
}

// SetKey validates value for key and persists it. Secrets go to the
// owner-only secrets file, everything else to the config file.
func SetKey(key, value string) error {
	return setKeyWith(newFileBackend(configFilePath()), secretsFile{path: secretsFilePath()}, key, value)
}

func setKeyWith(b ConfigBackend, secrets secretsFile, key, value string) error {
	s, ok := lookupSpec(key)
	if !ok {
		return fmt.Errorf("unknown config key: %q", key)
	}
	v, err := s.parse(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	switch {
	case s.secret:
		return secrets.Set(key, value)
	case s.typ == kInt:
		return b.SetInt(key, v.(int))
	}
	return b.SetString(key, value)
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

// ValidKeys returns every config key name.
func ValidKeys() []string {
	keys := make([]string, 0, len(specs))
	for _, s := range specs {
		keys = append(keys, s.key)
	}
	return keys
}

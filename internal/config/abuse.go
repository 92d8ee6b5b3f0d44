package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/AnshRaj112/abuseguard/internal/abuse"
	"gopkg.in/yaml.v3"
)

// LoadThresholds returns the built-in thresholds overlaid with the YAML file
// at path, if any. Keys missing from the file keep their defaults. The result
// is validated; a bad file is a *abuse.ConfigurationError.
func LoadThresholds(path string) (abuse.Thresholds, error) {
	th := abuse.DefaultThresholds()
	if path == "" {
		return th, th.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return th, &abuse.ConfigurationError{Key: "ABUSE_CONFIG_FILE", Reason: err.Error()}
	}
	if err := ParseThresholds(data, &th); err != nil {
		return th, err
	}
	return th, th.Validate()
}

// ParseThresholds decodes YAML onto th. Unknown keys are rejected.
func ParseThresholds(data []byte, th *abuse.Thresholds) error {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return &abuse.ConfigurationError{Key: "ABUSE_CONFIG_FILE", Reason: err.Error()}
	}
	if len(doc.Content) == 0 {
		return nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return &abuse.ConfigurationError{Key: "ABUSE_CONFIG_FILE", Reason: "expected a mapping of threshold keys"}
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		key := root.Content[i].Value
		if !knownKey(key) {
			return &abuse.ConfigurationError{Key: key, Reason: "unknown threshold key"}
		}
	}
	if err := root.Decode(th); err != nil {
		var te *yaml.TypeError
		if errors.As(err, &te) {
			return &abuse.ConfigurationError{Key: "ABUSE_CONFIG_FILE", Reason: fmt.Sprint(te.Errors)}
		}
		return &abuse.ConfigurationError{Key: "ABUSE_CONFIG_FILE", Reason: err.Error()}
	}
	return nil
}

// ThresholdKeys lists the recognised configuration keys.
var ThresholdKeys = []string{
	"rate_limit",
	"episode_inactivity_minutes",
	"sensitive_cap_per_episode",
	"points_decay_hours",
	"permanent_ban_threshold",
	"captcha_threshold",
	"cooldown_ladder",
}

func knownKey(key string) bool {
	for _, k := range ThresholdKeys {
		if k == key {
			return true
		}
	}
	return false
}

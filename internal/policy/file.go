// internal/policy/file.go
package policy

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// File représente la configuration statique optionnelle chargée depuis un
// fichier. Elle prime sur les policies persistées pour les channels couverts.
type File struct {
	Channels []FileChannel `yaml:"channels"`
}

type FileChannel struct {
	Pattern     string   `yaml:"pattern"`
	SlowMode    string   `yaml:"slow_mode"`
	ExemptUsers []string `yaml:"exempt_users"`
	ExemptRoles []string `yaml:"exempt_roles"`
}

func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse policy file: %w", err)
	}

	return &f, nil
}

// match returns the most specific entry whose pattern covers channelID.
func (f *File) match(channelID string) *FileChannel {
	var best *FileChannel
	bestLen := -1

	for i := range f.Channels {
		ch := &f.Channels[i]
		if ch.Pattern == "" {
			continue
		}
		if matchesPattern(ch.Pattern, channelID) && len(ch.Pattern) > bestLen {
			best = ch
			bestLen = len(ch.Pattern)
		}
	}

	return best
}

func (fc *FileChannel) slowMode() time.Duration {
	if fc.SlowMode == "" {
		return 0
	}
	dur, err := time.ParseDuration(fc.SlowMode)
	if err != nil {
		return 0
	}
	return dur
}

func containsWildcard(pattern string) bool {
	return strings.Contains(pattern, "*")
}

func matchesPattern(pattern, channelID string) bool {
	if containsWildcard(pattern) {
		// simple prefix match on the first '*'
		prefix := pattern[:strings.Index(pattern, "*")]
		return strings.HasPrefix(channelID, prefix)
	}
	return pattern == channelID
}

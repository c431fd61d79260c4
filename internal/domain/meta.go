package domain

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

// ErrNoVersion is returned when a meta file declares no version.
var ErrNoVersion = errors.New("meta file has no version")

// packageMeta covers both layouts seen in distribution repositories:
// a top-level version, or one nested under a package section.
type packageMeta struct {
	Version string `yaml:"version"`
	Package struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"package"`
}

// ParseMetaVersion reads the version from a YAML or JSON meta document.
func ParseMetaVersion(data []byte) (string, error) {
	var meta packageMeta
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return "", fmt.Errorf("failed to parse meta file: %w", err)
	}
	if meta.Version != "" {
		return meta.Version, nil
	}
	if meta.Package.Version != "" {
		return meta.Package.Version, nil
	}
	return "", ErrNoVersion
}

package config

import (
	"bytes"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Configuration is the global YAML configuration object, loaded once at
// startup and overridable per-invocation by CLI flags.
type Configuration struct {
	// BaseDir is the default vault base directory, used when --basedir is
	// not given.
	BaseDir string `yaml:"basedir"`
	// HashAlgorithm is the default hash algorithm name.
	HashAlgorithm string `yaml:"hash"`
	// MinSize and MaxSize are the default scan-profile size bounds.
	MinSize ByteSize `yaml:"min-size"`
	MaxSize ByteSize `yaml:"max-size"`
	// MinParitySize and MaxParitySize are the default parity-profile size
	// bounds.
	MinParitySize ByteSize `yaml:"min-parity-size"`
	MaxParitySize ByteSize `yaml:"max-parity-size"`
	// ParityOptions is the pass-through option string given to the parity
	// tool's create invocation.
	ParityOptions string `yaml:"parity-options"`
	// Delay is the default thermal-pacing multiplier.
	Delay float64 `yaml:"delay"`
	// Sequential forces sequential parity pipeline mode by default.
	Sequential bool `yaml:"sequential"`
	// SingleCharFix enables the single-character-name workaround by
	// default.
	SingleCharFix bool `yaml:"singlecharfix"`
	// NiceLevel is the default I/O priority level, with the same meaning as
	// the --nice flag.
	NiceLevel int `yaml:"nice"`
}

// Load reads and strictly decodes the YAML configuration file at path,
// rejecting unknown keys so a typo doesn't silently disable a setting. A
// missing file is not an error: Load returns a zero-value Configuration.
func Load(path string) (*Configuration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Configuration{}, nil
		}
		return nil, errors.Wrap(err, "unable to read configuration file")
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	result := &Configuration{}
	if err := decoder.Decode(result); err != nil {
		return nil, errors.Wrap(err, "unable to decode configuration file")
	}
	return result, nil
}

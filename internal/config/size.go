// Package config implements the vault's global YAML configuration file,
// holding per-user defaults that individual invocations override with
// flags.
package config

import (
	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// ByteSize is a uint64 that unmarshals from both human-friendly string
// representations ("4k", "1G") and bare numeric strings.
type ByteSize uint64

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *ByteSize) UnmarshalYAML(node *yaml.Node) error {
	var text string
	if err := node.Decode(&text); err != nil {
		return err
	}
	value, err := humanize.ParseBytes(text)
	if err != nil {
		return err
	}
	*s = ByteSize(value)
	return nil
}

package config

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// globalConfigurationName is the global configuration file's name within
// the user's home directory.
const globalConfigurationName = ".pardatabase.yaml"

// GlobalConfigurationPath returns the path of the YAML-based global
// configuration file. It does not verify that the file exists.
func GlobalConfigurationPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "unable to compute path to home directory")
	}
	return filepath.Join(home, globalConfigurationName), nil
}

package appconfig

import (
	"os"
	"path/filepath"
	"strconv"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion     int      `mapstructure:"config_version" yaml:"config_version"`
	StartupCommand    []string `mapstructure:"startup_command" yaml:"startup_command"`
	FactorioDirectory string   `mapstructure:"factorio_directory" yaml:"factorio_directory"`
	SaveName          string   `mapstructure:"save_name" yaml:"save_name"`
	Port              int      `mapstructure:"port" yaml:"port"`
	ServerSettings    string   `mapstructure:"server_settings" yaml:"server_settings"`
	ArchiveDir        string   `mapstructure:"archive_dir" yaml:"archive_dir"`
	WatchAutosaves    bool     `mapstructure:"watch_autosaves" yaml:"watch_autosaves"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}
	return Config{
		ConfigVersion:     CurrentConfigVersion,
		StartupCommand:    []string{},
		FactorioDirectory: filepath.Join(home, "factorio"),
		SaveName:          "world",
		Port:              34197,
		ServerSettings:    "server-settings.json",
		ArchiveDir:        "",
		WatchAutosaves:    false,
	}, nil
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".factorioctl", "config.yaml"), nil
}

// SavePath returns the authoritative save file the engine plays on.
func (c Config) SavePath() string {
	return filepath.Join(c.EngineSaveDir(), c.SaveName+".zip")
}

// EngineSaveDir returns the directory the engine writes saves and
// autosaves to.
func (c Config) EngineSaveDir() string {
	return filepath.Join(c.FactorioDirectory, "saves")
}

// ArchivePath returns the archive directory, defaulting to a directory
// named after the save inside the engine save directory.
func (c Config) ArchivePath() string {
	if c.ArchiveDir != "" {
		return c.ArchiveDir
	}
	return filepath.Join(c.EngineSaveDir(), c.SaveName)
}

// Command returns the child process argv. An explicit startup_command
// wins; otherwise the command is assembled from the structured fields.
func (c Config) Command() []string {
	if len(c.StartupCommand) > 0 {
		return c.StartupCommand
	}
	return []string{
		filepath.Join(c.FactorioDirectory, "bin", "x64", "factorio"),
		"--port", strconv.Itoa(c.Port),
		"--start-server", c.SavePath(),
		"--server-settings", filepath.Join(c.FactorioDirectory, "data", c.ServerSettings),
	}
}

// Package config resolves key-smtmgr's configuration file and the paths
// derived from it.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Name is used for the config and data directories.
const Name = "key-smtmgr"

const (
	DefaultStableRepoURL  = "https://raw.githubusercontent.com/wadoon/key-smtmgr/main/repo.json"
	DefaultNightlyRepoURL = "https://raw.githubusercontent.com/wadoon/key-smtmgr/nightly/repo.json"
)

// Config is the user-editable config.json.
type Config struct {
	StableRepoURL  string `json:"stableRepoUrl"`
	NightlyRepoURL string `json:"nightlyRepoUrl"`
	NightlyChannel bool   `json:"nightlyChannel"`
	// InstallationDirname is resolved under the data directory unless it
	// is absolute after variable expansion.
	InstallationDirname string `json:"installationDirname"`
	// RepositoryCache and Journal are resolved under the config directory.
	RepositoryCache string `json:"repositoryCache"`
	KeySettingsFile string `json:"keySettingsFile"`
	Journal         string `json:"journal"`
}

// Default returns the configuration written on first use.
func Default() Config {
	return Config{
		StableRepoURL:       DefaultStableRepoURL,
		NightlyRepoURL:      DefaultNightlyRepoURL,
		InstallationDirname: Name,
		RepositoryCache:     "repository.cache.json",
		KeySettingsFile:     "$HOME/.key/proofIndependentSettings.props",
		Journal:             "history.db",
	}
}

// RepoURL returns the catalog URL of the selected channel.
func (c Config) RepoURL() string {
	if c.NightlyChannel {
		return c.NightlyRepoURL
	}
	return c.StableRepoURL
}

// Paths are the resolved locations used by one invocation.
type Paths struct {
	ConfigHome   string
	ConfigFile   string
	DataHome     string
	InstallBase  string
	RecordFile   string
	CacheFile    string
	SettingsFile string
	JournalFile  string
}

// Context bundles the loaded configuration with its resolved paths. It is
// created once per command and handed to the components that need it.
type Context struct {
	Config Config
	Paths  Paths
	// Created is set when config.json did not exist and was just written.
	Created bool
}

// Dir returns the key-smtmgr config directory, respecting XDG_CONFIG_HOME.
// Defaults to ~/.config/key-smtmgr if XDG_CONFIG_HOME is not set.
func Dir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, Name), nil
}

// DataDir returns the base directory for installed solvers, respecting
// XDG_DATA_HOME and falling back to the platform's application data folder.
func DataDir() (string, error) {
	if base := os.Getenv("XDG_DATA_HOME"); base != "" {
		return base, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("detect user home: %w", err)
	}

	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support"), nil
	case "windows":
		if localAppData := os.Getenv("LOCALAPPDATA"); localAppData != "" {
			return localAppData, nil
		}
		return filepath.Join(home, "AppData", "Local"), nil
	default:
		return filepath.Join(home, ".local", "share"), nil
	}
}

// Load reads config.json from the config directory, writing the defaults
// there first if it does not exist yet.
func Load() (*Context, error) {
	configHome, err := Dir()
	if err != nil {
		return nil, fmt.Errorf("failed to determine config directory: %w", err)
	}
	dataHome, err := DataDir()
	if err != nil {
		return nil, fmt.Errorf("failed to determine data directory: %w", err)
	}
	return LoadFrom(configHome, dataHome)
}

// LoadFrom is Load with explicit config and data directories.
func LoadFrom(configHome, dataHome string) (*Context, error) {
	if err := os.MkdirAll(configHome, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	ctx := &Context{Config: Default()}
	configFile := filepath.Join(configHome, "config.json")

	data, err := os.ReadFile(configFile)
	switch {
	case errors.Is(err, os.ErrNotExist):
		slog.Info("creating new configuration file", "path", configFile)
		if err := save(configFile, ctx.Config); err != nil {
			return nil, err
		}
		ctx.Created = true
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		// Fields missing from the file keep their defaults.
		if err := json.Unmarshal(data, &ctx.Config); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", configFile, err)
		}
	}

	paths, err := resolve(ctx.Config, configHome, dataHome)
	if err != nil {
		return nil, err
	}
	paths.ConfigFile = configFile
	ctx.Paths = paths
	return ctx, nil
}

func resolve(cfg Config, configHome, dataHome string) (Paths, error) {
	home, _ := os.UserHomeDir()

	p := Paths{ConfigHome: configHome, DataHome: dataHome}
	p.InstallBase = under(dataHome, Expand(cfg.InstallationDirname))
	p.RecordFile = filepath.Join(p.InstallBase, "info.json")
	p.CacheFile = under(configHome, Expand(cfg.RepositoryCache))
	p.JournalFile = under(configHome, Expand(cfg.Journal))

	settings := Expand(cfg.KeySettingsFile)
	if settings == "" {
		return p, errors.New("keySettingsFile must not be empty")
	}
	p.SettingsFile = under(home, settings)
	return p, nil
}

func under(base, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(base, p)
}

// Expand replaces $VAR and ${VAR} references with environment values and a
// leading "~/" with the home directory.
func Expand(s string) string {
	if s == "~" || strings.HasPrefix(s, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			s = home + s[1:]
		}
	}
	return os.ExpandEnv(s)
}

func save(path string, cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

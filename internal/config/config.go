// Package config manages opvc configuration and the .opvc directory
// structure.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/kilupskalvis/opvc/internal/repo"
)

const (
	Dir             = ".opvc"
	ConfigFile      = "config"
	RepoDir         = "repo"
	WorkingCopyDir  = "working_copy"
	DefaultBackend  = "local"
	DefaultOpStore  = "bolt"
	DefaultOpHeads  = "simple"
	configFilePerms = 0644
)

// ErrNotARepo is returned when no .opvc directory is found.
var ErrNotARepo = errors.New("not an opvc repository (or any parent up to root)")

// Config is the repository configuration stored in .opvc/config.
type Config struct {
	Backend      string    `toml:"backend"`
	OpStore      string    `toml:"op_store"`
	OpHeadsStore string    `toml:"op_heads_store"`
	User         User      `toml:"user"`
	Operation    Operation `toml:"operation"`
	Debug        Debug     `toml:"debug"`

	path string // path to the .opvc directory
}

// User is recorded as author and committer of new commits.
type User struct {
	Name  string `toml:"name"`
	Email string `toml:"email"`
}

// Operation overrides the host and user recorded on operations.
type Operation struct {
	Hostname string `toml:"hostname,omitempty"`
	Username string `toml:"username,omitempty"`
}

// Debug holds settings for reproducible runs.
type Debug struct {
	RandomnessSeed *int64 `toml:"randomness_seed,omitempty"`
}

// Default returns a config using the on-disk store implementations.
func Default() *Config {
	return &Config{
		Backend:      DefaultBackend,
		OpStore:      DefaultOpStore,
		OpHeadsStore: DefaultOpHeads,
	}
}

// FindRoot finds the .opvc directory by walking up from the current
// directory.
func FindRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return findRootFrom(dir)
}

func findRootFrom(dir string) (string, error) {
	for {
		path := filepath.Join(dir, Dir)
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			return path, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", ErrNotARepo
		}
		dir = parent
	}
}

// Load finds the .opvc directory and reads its config.
func Load() (*Config, error) {
	path, err := FindRoot()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom reads the config of the .opvc directory at path.
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Join(path, ConfigFile))
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.path = path
	return cfg, nil
}

// Save writes the config to disk.
func (c *Config) Save() error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(filepath.Join(c.path, ConfigFile), data, configFilePerms)
}

// Path returns the .opvc directory.
func (c *Config) Path() string { return c.path }

// RepoPath returns the directory holding the stores.
func (c *Config) RepoPath() string { return filepath.Join(c.path, RepoDir) }

// WorkingCopyPath returns the directory holding the working-copy state.
func (c *Config) WorkingCopyPath() string { return filepath.Join(c.path, WorkingCopyDir) }

// StoreTypes returns the store implementations the repo was created with.
func (c *Config) StoreTypes() repo.StoreTypes {
	return repo.StoreTypes{Backend: c.Backend, OpStore: c.OpStore, OpHeads: c.OpHeadsStore}
}

// Settings returns the identity recorded on commits and operations. Host
// and user fall back to the environment.
func (c *Config) Settings() repo.Settings {
	s := repo.DefaultSettings()
	s.UserName = c.User.Name
	s.UserEmail = c.User.Email
	if c.Operation.Hostname != "" {
		s.Hostname = c.Operation.Hostname
	}
	if c.Operation.Username != "" {
		s.Username = c.Operation.Username
	}
	s.RandomnessSeed = c.Debug.RandomnessSeed
	return s
}

// Initialize creates dir/.opvc and writes cfg into it.
func Initialize(dir string, cfg *Config) (*Config, error) {
	path := filepath.Join(dir, Dir)
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("opvc repository already exists in %s", dir)
	}
	for _, sub := range []string{path, filepath.Join(path, RepoDir), filepath.Join(path, WorkingCopyDir)} {
		if err := os.MkdirAll(sub, 0755); err != nil {
			return nil, fmt.Errorf("create %s: %w", sub, err)
		}
	}

	cfg.path = path
	if err := cfg.Save(); err != nil {
		// Cleanup on failure
		os.RemoveAll(path)
		return nil, err
	}
	return cfg, nil
}

// Package cliconfig stores the terminal client's settings in
// ~/.kubelens/config.yaml.
package cliconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

const (
	configDirName  = ".kubelens"
	configFileName = "config.yaml"
	configFileMode = 0600 // Owner read/write only
	configDirMode  = 0700 // Owner read/write/execute only

	// Environment overrides
	envServer = "KUBELENS_SERVER"
	envToken  = "KUBELENS_TOKEN"

	defaultServer   = "http://localhost:8080"
	defaultPageSize = 20
	defaultRetries  = 3
)

// Config is the terminal client configuration.
type Config struct {
	Server    string   `yaml:"server"`
	Token     string   `yaml:"token,omitempty"`
	Username  string   `yaml:"username,omitempty"`
	Clusters  []string `yaml:"clusters,omitempty"`
	Namespace string   `yaml:"namespace,omitempty"`
	PageSize  int      `yaml:"page_size,omitempty"`
	Retries   *int     `yaml:"retries,omitempty"`
}

// Manager handles reading and writing the config file
type Manager struct {
	mu         sync.RWMutex
	configPath string
	config     *Config
}

// DefaultPath returns ~/.kubelens/config.yaml.
func DefaultPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, configDirName, configFileName)
}

// NewManager creates a manager for path, DefaultPath when empty, and loads
// the file if it exists.
func NewManager(path string) (*Manager, error) {
	if path == "" {
		path = DefaultPath()
	}
	m := &Manager{configPath: path, config: &Config{}}
	if err := m.Load(); err != nil {
		return nil, err
	}
	return m, nil
}

// Path returns the config file location.
func (m *Manager) Path() string {
	return m.configPath
}

// Load reads the config from disk
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			m.config = &Config{}
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	m.config = &config
	return nil
}

// Save writes the config to disk with secure permissions
func (m *Manager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, configDirMode); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(m.config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, configFileMode); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Update applies fn to the config under the lock. Call Save to persist.
func (m *Manager) Update(fn func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m.config)
}

// Get returns a copy of the stored config.
func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c := *m.config
	c.Clusters = append([]string(nil), m.config.Clusters...)
	return c
}

// Server returns the server URL (env var takes precedence)
func (m *Manager) Server() string {
	if v := os.Getenv(envServer); v != "" {
		return v
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.config.Server != "" {
		return m.config.Server
	}
	return defaultServer
}

// Token returns the bearer token (env var takes precedence)
func (m *Manager) Token() string {
	if v := os.Getenv(envToken); v != "" {
		return v
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.Token
}

// PageSize returns the configured page size or the default.
func (m *Manager) PageSize() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.config.PageSize > 0 {
		return m.config.PageSize
	}
	return defaultPageSize
}

// Retries returns how often GET requests are retried.
func (m *Manager) Retries() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.config.Retries != nil && *m.config.Retries >= 0 {
		return *m.config.Retries
	}
	return defaultRetries
}

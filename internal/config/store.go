package config

import (
	"fmt"
	"os"
	"sync"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Store is the file-backed config store. Reads return a copy of the current
// value; Update validates, persists atomically, and replaces it
// (last-writer-wins).
type Store struct {
	mu   sync.RWMutex
	path string
	cfg  AppConfig
}

// NewStore loads the config from path, falling back to (and writing out)
// defaults when the file does not exist yet.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		s.cfg = Default()
		if err := s.write(s.cfg); err != nil {
			return nil, err
		}
		log.Infof("Wrote default config to %s", path)
	case err != nil:
		return nil, fmt.Errorf("read config file: %w", err)
	default:
		cfg := Default()
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		s.cfg = cfg
	}

	return s, nil
}

// Get returns the current configuration.
func (s *Store) Get() AppConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Update validates cfg, persists it, and makes it the current value. On any
// failure the stored value is unchanged.
func (s *Store) Update(cfg AppConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.write(cfg); err != nil {
		return err
	}
	s.cfg = cfg
	log.Infof("Config updated: %d concurrent downloads, dir %s", cfg.MaxConcurrentDownloads, cfg.DownloadDir)
	return nil
}

// write persists cfg via a temp file and rename so a crash mid-write never
// leaves a truncated config behind.
func (s *Store) write(cfg AppConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("rename config file: %w", err)
	}
	return nil
}

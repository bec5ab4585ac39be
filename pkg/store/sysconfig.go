package store

import (
	"github.com/kawanishi0117/agent-company-sub001/pkg/config"
)

// SaveSystemConfig persists the system configuration (config.json).
func (s *Store) SaveSystemConfig(cfg *config.SystemConfig) error {
	return writeJSON(s.configPath(), cfg)
}

// LoadSystemConfig loads the persisted system configuration.
// Returns (nil, false, nil) when none has been saved.
func (s *Store) LoadSystemConfig() (*config.SystemConfig, bool, error) {
	var cfg config.SystemConfig
	ok, err := readJSON(s.configPath(), &cfg)
	if err != nil || !ok {
		return nil, false, err
	}
	return &cfg, true, nil
}

package board

import (
	"fmt"

	"github.com/marcushq/marcus/internal/config"
)

// New creates the provider selected by cfg.Provider, wrapped with transient
// retry. The set of backends is fixed: planka, github, linear, memory.
func New(cfg *config.Config) (Provider, error) {
	var p Provider
	switch cfg.Provider {
	case "planka":
		p = NewPlankaBoard(cfg.Planka.BaseURL, cfg.Planka.Email, cfg.Planka.Password, cfg.Planka.BoardID)
	case "github":
		p = NewGitHubBoard(cfg.GitHub.Token, cfg.GitHub.Owner, cfg.GitHub.Repo)
	case "linear":
		p = NewLinearBoard(cfg.Linear.APIKey, cfg.Linear.TeamID)
	case "memory":
		mb := NewMemoryBoard()
		if cfg.Memory.SeedFile != "" {
			if err := mb.LoadSeedFile(cfg.Memory.SeedFile); err != nil {
				return nil, err
			}
		}
		p = mb
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
	return WithRetry(p), nil
}

package commands

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"teamer/config"
	"teamer/swarm/session"
)

// RunInit writes a default config. A non-empty partyPassword is stored as a bcrypt
// hash for the party server.
func RunInit(ctx context.Context, cfg *config.Config, partyPassword string) error {
	if partyPassword != "" {
		hash, err := session.HashPassword(partyPassword)
		if err != nil {
			return fmt.Errorf("failed to hash party password: %w", err)
		}
		cfg.Party.PasswordHash = string(hash)
	}

	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	log.Infof("Wrote default config to %s", cfg.File())
	return nil
}

package repository

import (
	"github.com/rs/zerolog/log"

	"github.com/navikt/breakouts/internal/config"
	"github.com/navikt/breakouts/internal/repository/memory"
	"github.com/navikt/breakouts/internal/repository/redis"
)

// NewRepository returns the Redis repository when enabled, the in-memory one otherwise
func NewRepository(cfg config.RedisConfig) (Repository, error) {
	if !cfg.Enabled {
		log.Info().Str("module", "repository").Msg("using in-memory repository")
		return memory.NewRepository(), nil
	}

	repo, err := redis.NewRepository(cfg)
	if err != nil {
		return nil, err
	}
	log.Info().Str("module", "repository").Str("key_prefix", cfg.KeyPrefix).Msg("using redis repository")
	return repo, nil
}

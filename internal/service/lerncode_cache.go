package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/engelbrain-go-api/pkg/klausurenweb"
)

const defaultLerncodeCacheTTL = 10 * time.Minute

// LerncodeValidator validates lerncodes, possibly from a cache.
type LerncodeValidator interface {
	Validate(ctx context.Context, client GradingClient, apiKey, code string) (klausurenweb.ValidationResult, error)
}

type lerncodeValidator struct {
	cache  *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewLerncodeValidator caches definitive validation results in redis. A nil client disables caching.
func NewLerncodeValidator(cache *redis.Client, ttl time.Duration, logger zerolog.Logger) LerncodeValidator {
	if ttl <= 0 {
		ttl = defaultLerncodeCacheTTL
	}
	return &lerncodeValidator{
		cache:  cache,
		ttl:    ttl,
		logger: logger.With().Str("component", "lerncode_validator").Logger(),
	}
}

func (v *lerncodeValidator) Validate(ctx context.Context, client GradingClient, apiKey, code string) (klausurenweb.ValidationResult, error) {
	cacheKey := lerncodeCacheKey(apiKey, code)

	if v.cache != nil {
		if cached, err := v.cache.Get(ctx, cacheKey).Result(); err == nil {
			var result klausurenweb.ValidationResult
			if unmarshalErr := json.Unmarshal([]byte(cached), &result); unmarshalErr == nil {
				v.logger.Debug().Str("lerncode", code).Msg("lerncode cache hit")
				return result, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			v.logger.Warn().Err(err).Msg("failed to read lerncode cache")
		}
	}

	result, err := client.ValidateCode(ctx, code)
	if err != nil {
		return klausurenweb.ValidationResult{}, err
	}

	if v.cache != nil {
		payload, err := json.Marshal(result)
		if err == nil {
			if err := v.cache.Set(ctx, cacheKey, payload, v.ttl).Err(); err != nil {
				v.logger.Warn().Err(err).Msg("failed to store lerncode cache")
			}
		}
	}

	return result, nil
}

// The key hash keeps the secret out of redis while separating tenants.
func lerncodeCacheKey(apiKey, code string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return fmt.Sprintf("engelbrain:lerncode:%s:%s", hex.EncodeToString(sum[:])[:12], code)
}

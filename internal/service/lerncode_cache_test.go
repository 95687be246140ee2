package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/engelbrain-go-api/pkg/klausurenweb"
)

func TestLerncodeValidatorCachesDefinitiveResults(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	client := &fakeGradingClient{validation: klausurenweb.ValidationResult{Valid: false, Message: "expired"}}
	validator := NewLerncodeValidator(rdb, time.Minute, testLogger())

	for i := 0; i < 3; i++ {
		result, err := validator.Validate(context.Background(), client, "school", "BIO-1")
		require.NoError(t, err)
		require.False(t, result.Valid)
		require.Equal(t, "expired", result.Message)
	}
	require.Equal(t, 1, client.validateCalls)

	key := lerncodeCacheKey("school", "BIO-1")
	require.True(t, mr.Exists(key))
	require.NotContains(t, key, "school")

	_, err = validator.Validate(context.Background(), client, "other", "BIO-1")
	require.NoError(t, err)
	require.Equal(t, 2, client.validateCalls)

	mr.FastForward(2 * time.Minute)
	_, err = validator.Validate(context.Background(), client, "school", "BIO-1")
	require.NoError(t, err)
	require.Equal(t, 3, client.validateCalls)
}

func TestLerncodeValidatorDoesNotCacheErrors(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	client := &fakeGradingClient{validateErr: &klausurenweb.Error{Kind: klausurenweb.KindConnection, Op: "validate_code", Err: errors.New("refused")}}
	validator := NewLerncodeValidator(rdb, time.Minute, testLogger())

	_, err = validator.Validate(context.Background(), client, "school", "BIO-1")
	require.Error(t, err)
	_, err = validator.Validate(context.Background(), client, "school", "BIO-1")
	require.Error(t, err)
	require.Equal(t, 2, client.validateCalls)
	require.False(t, mr.Exists(lerncodeCacheKey("school", "BIO-1")))
}

func TestLerncodeValidatorSurvivesRedisOutage(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	mr.Close()

	client := &fakeGradingClient{validation: klausurenweb.ValidationResult{Valid: true}}
	validator := NewLerncodeValidator(rdb, time.Minute, testLogger())

	result, err := validator.Validate(context.Background(), client, "school", "BIO-1")
	require.NoError(t, err)
	require.True(t, result.Valid)
}

func TestLerncodeValidatorWithoutRedisPassesThrough(t *testing.T) {
	client := &fakeGradingClient{validation: klausurenweb.ValidationResult{Valid: true}}
	validator := NewLerncodeValidator(nil, 0, testLogger())

	for i := 0; i < 2; i++ {
		_, err := validator.Validate(context.Background(), client, "school", "BIO-1")
		require.NoError(t, err)
	}
	require.Equal(t, 2, client.validateCalls)
}

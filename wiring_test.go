package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storefront/checkout-api/internal/cache"
	"github.com/storefront/checkout-api/internal/events"
	"github.com/storefront/checkout-api/internal/metrics"
	"github.com/storefront/checkout-api/internal/store/memstore"
	"github.com/storefront/checkout-api/pkg/config"
)

func TestOpenStoreMemory(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Driver = "memory"
	st, err := openStore(context.Background(), cfg, metrics.NewNoop())
	require.NoError(t, err)
	assert.IsType(t, &memstore.Store{}, st)

	cfg.Store.Driver = "sqlite"
	_, err = openStore(context.Background(), cfg, metrics.NewNoop())
	assert.Error(t, err)
}

func TestNewLockerFallsBackToMemory(t *testing.T) {
	cfg := config.Default()
	locker, closeFn, err := newLocker(context.Background(), cfg)
	require.NoError(t, err)
	defer closeFn()
	assert.IsType(t, &cache.MemoryLocker{}, locker)
}

func TestNewPublisher(t *testing.T) {
	cfg := config.Default()
	p, err := newPublisher(cfg)
	require.NoError(t, err)
	assert.IsType(t, &events.LogPublisher{}, p)

	cfg.Events.Driver = "sns"
	_, err = newPublisher(cfg)
	assert.Error(t, err)
}

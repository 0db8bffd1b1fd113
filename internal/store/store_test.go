package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qrattend/internal/config"
)

func TestOpenRedis_TimeoutsFromConfig(t *testing.T) {
	cfg := config.App{RedisAddr: "localhost:6379", RedisTimeout: 4 * time.Second}

	r := OpenRedis(cfg)
	require.NotNil(t, r.Client)
	opts := r.Client.Options()
	assert.Equal(t, "localhost:6379", opts.Addr)
	assert.Equal(t, 4*time.Second, opts.DialTimeout)
	assert.Equal(t, 2*time.Second, opts.ReadTimeout)
	assert.Equal(t, 2*time.Second, opts.WriteTimeout)
}

func TestHealthy_NilReceivers(t *testing.T) {
	ctx := context.Background()

	var p *Postgres
	assert.False(t, p.Healthy(ctx))
	assert.NoError(t, p.Close())

	var r *Redis
	assert.False(t, r.Healthy(ctx))
}

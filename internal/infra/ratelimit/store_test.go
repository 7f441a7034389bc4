package ratelimit

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	memoryStorage "github.com/gofiber/storage/memory/v2"
	redisStorage "github.com/gofiber/storage/redis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStore_EmptyAddrUsesMemory(t *testing.T) {
	store := NewStore(RedisConfig{})
	_, ok := store.(*memoryStorage.Storage)
	assert.True(t, ok)
}

func TestNewStore_UnreachableRedisFallsBackToMemory(t *testing.T) {
	srv := miniredis.RunT(t)
	addr := srv.Addr()
	srv.Close()

	store := NewStore(RedisConfig{Addr: addr})
	_, ok := store.(*memoryStorage.Storage)
	assert.True(t, ok)
}

func TestNewStore_Redis(t *testing.T) {
	srv := miniredis.RunT(t)

	store := NewStore(RedisConfig{Addr: srv.Addr(), DB: 0})
	_, ok := store.(*redisStorage.Storage)
	require.True(t, ok)

	require.NoError(t, store.Set("window", []byte("1"), time.Minute))
	got, err := store.Get("window")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), got)
}

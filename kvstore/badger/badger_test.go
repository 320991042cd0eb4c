package badger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequiresDataDir(t *testing.T) {
	_, err := New(&Config{})
	assert.Error(t, err)
}

func TestPutGetDelete(t *testing.T) {
	ctx := context.Background()

	s, err := New(&Config{DataDir: t.TempDir()})
	require.NoError(t, err)
	defer s.Close()

	key := []byte{0x1e, 0x20, 0x02}

	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, got, "missing keys read as nil")

	require.NoError(t, s.Put(ctx, key, []byte("block bytes")))

	got, err = s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("block bytes"), got)

	require.NoError(t, s.Delete(ctx, key))
	got, err = s.Get(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, got)

}

func TestInMemory(t *testing.T) {
	ctx := context.Background()

	s, err := New(&Config{InMemory: true})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put(ctx, []byte("k"), []byte("v")))
	got, err := s.Get(ctx, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
}

package artifacts

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "agreement:1/artifact:9", Key("agreement:1", "artifact:9"))
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	digest, err := s.Put(ctx, "agreement:1/artifact:9", []byte("payload"))
	require.NoError(t, err)
	assert.Contains(t, digest, "sha256:")

	got, err := s.Get(ctx, "agreement:1/artifact:9")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)

	ok, err := s.Exists(ctx, "agreement:1/artifact:9")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Exists(ctx, "absent")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Get(ctx, "absent")
	assert.Error(t, err)
}

func TestMemoryStoreCopiesData(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	data := []byte("original")
	_, err := s.Put(ctx, "k", data)
	require.NoError(t, err)
	data[0] = 'X'

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), got)
}

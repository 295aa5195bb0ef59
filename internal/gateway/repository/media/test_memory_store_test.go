package media

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tcmdiag/internal/diagnosis"
)

func TestMemoryStore_PutGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	ref, err := s.Put(ctx, "sess-1", "image/png; charset=binary", []byte{0x89, 'P', 'N', 'G'})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ref.Key, "sess-1/"))
	assert.Equal(t, "image/png", ref.ContentType)
	assert.Equal(t, int64(4), ref.Size)

	data, ct, err := s.Get(ctx, ref.Key)
	require.NoError(t, err)
	assert.Equal(t, "image/png", ct)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, data)
}

func TestMemoryStore_MissingKeyMatchesDomainNotFound(t *testing.T) {
	_, _, err := NewMemoryStore().Get(context.Background(), "sess-1/nope.png")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(err, diagnosis.ErrNotFound))
}

func TestMemoryStore_RejectsBadUploads(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_, err := s.Put(ctx, "", "image/png", []byte{1})
	assert.ErrorIs(t, err, ErrInvalidUpload)
	_, err = s.Put(ctx, "sess", "application/pdf", []byte{1})
	assert.ErrorIs(t, err, ErrInvalidUpload)
	_, err = s.Put(ctx, "sess", "audio/wav", nil)
	assert.ErrorIs(t, err, ErrInvalidUpload)
	_, err = s.Put(ctx, "sess", "audio/wav", make([]byte, MaxUploadBytes+1))
	assert.ErrorIs(t, err, ErrInvalidUpload)
}

package fs

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"partnercore/internal/blob/core"
)

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := New(t.TempDir(), "")
	require.NoError(t, err)
	assert.Equal(t, core.DriverFilesystem, s.Driver())

	key := "t1/intervention/i1/partners_intervention_signed_pd/h1"
	info, err := s.Put(ctx, key, strings.NewReader("signed"), core.PutOptions{ContentType: "application/pdf", Metadata: map[string]string{"filename": "pd.pdf"}})
	require.NoError(t, err)
	assert.Equal(t, int64(6), info.Size)
	assert.Equal(t, "http://local.blob/"+key, info.URL)

	head, err := s.Head(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "pd.pdf", head.Metadata["filename"])
	assert.Equal(t, info.ETag, head.ETag)

	_, rc, err := s.Get(ctx, key)
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "signed", string(body))

	_, err = s.Put(ctx, key, strings.NewReader("x"), core.PutOptions{})
	require.ErrorIs(t, err, core.ErrExists)

	list, err := s.List(ctx, "t1/intervention/")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, key, list[0].Key)

	existed, err := s.Delete(ctx, key)
	require.NoError(t, err)
	assert.True(t, existed)
	_, err = os.Stat(filepath.Join(s.Root(), filepath.FromSlash(key)+metaSuffix))
	assert.True(t, os.IsNotExist(err))
	existed, err = s.Delete(ctx, key)
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestStoreRejectsBadKeys(t *testing.T) {
	ctx := context.Background()
	s, err := New(t.TempDir(), "https://files.example.org/")
	require.NoError(t, err)
	for _, key := range []string{"", "/abs", "a/../b", "x.meta"} {
		_, err := s.Put(ctx, key, strings.NewReader("x"), core.PutOptions{})
		assert.Error(t, err, key)
	}
	_, err = s.Head(ctx, "missing")
	require.ErrorIs(t, err, core.ErrNotFound)
	_, _, err = s.Get(ctx, "missing")
	require.ErrorIs(t, err, core.ErrNotFound)

	url, err := s.PresignURL(ctx, "a/b", core.SignedURLOptions{})
	require.NoError(t, err)
	assert.Equal(t, "https://files.example.org/a/b", url)
	_, err = s.PresignURL(ctx, "a/b", core.SignedURLOptions{Method: "PUT"})
	require.ErrorIs(t, err, core.ErrUnsupported)
}

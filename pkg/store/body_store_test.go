package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBodyStorePutGet(t *testing.T) {
	bs := NewBodyStore(t.TempDir())
	body := []byte(`{"method":"submit"}`)

	digest, err := bs.Put(body)
	require.NoError(t, err)
	require.Len(t, digest, 64)

	got, err := bs.Get(digest)
	require.NoError(t, err)
	require.Equal(t, body, got)
}

func TestBodyStorePutIdempotent(t *testing.T) {
	root := t.TempDir()
	bs := NewBodyStore(root)
	body := []byte("same content")

	d1, err := bs.Put(body)
	require.NoError(t, err)
	d2, err := bs.Put(body)
	require.NoError(t, err)
	require.Equal(t, d1, d2)

	// One blob, fanned out by first two hex chars.
	path := filepath.Join(root, "sha256", d1[:2], d1+".blob")
	_, err = os.Stat(path)
	require.NoError(t, err)
}

func TestBodyStoreGetMissing(t *testing.T) {
	bs := NewBodyStore(t.TempDir())
	got, err := bs.Get("ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestExchangeContentDigestExcludesTimestamp(t *testing.T) {
	d1, err := ExchangeContentDigest("req", "resp")
	require.NoError(t, err)
	d2, err := ExchangeContentDigest("req", "resp")
	require.NoError(t, err)
	require.Equal(t, d1, d2)
}

func TestExchangeStoreRecordIdempotent(t *testing.T) {
	s := newTestStore(t)
	xs := NewExchangeStore(s)
	ctx := t.Context()

	r1, err := xs.Record(ctx, "rq1", "rs1", time.Now())
	require.NoError(t, err)
	r2, err := xs.Record(ctx, "rq1", "rs1", time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, r1.ContentDigest, r2.ContentDigest)

	got, err := xs.Get(ctx, r1.ContentDigest)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "rq1", got.RequestDigest)
}

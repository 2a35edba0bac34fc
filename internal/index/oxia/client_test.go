package oxia

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	oxiaclient "github.com/oxia-db/oxia/oxia"

	"github.com/reclaim-io/reclaim/internal/index"
)

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{Namespace: "default"})
	assert.ErrorContains(t, err, "service address is required")

	_, err = New(Config{ServiceAddress: "localhost:6648"})
	assert.ErrorContains(t, err, "namespace is required")
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want index.Status
	}{
		{oxiaclient.ErrKeyNotFound, index.StatusNotFound},
		{fmt.Errorf("wrapped: %w", oxiaclient.ErrKeyNotFound), index.StatusNotFound},
		{status.Error(codes.Unavailable, "down"), index.StatusTransient},
		{status.Error(codes.PermissionDenied, "no"), index.StatusFatal},
		{context.DeadlineExceeded, index.StatusTransient},
		{errors.New("mystery"), index.StatusTransient},
	}
	for _, tc := range cases {
		err := classify(index.OpGet, "IDX", "k", tc.err)
		assert.Equal(t, tc.want, index.StatusOf(err), "error %v", tc.err)
	}
}

func TestKeyLayout(t *testing.T) {
	c := &Client{prefix: DefaultKeyPrefix}
	assert.Equal(t, "/reclaim/v1/indexes/IDX-1/", c.indexPrefix("IDX-1"))
	assert.Equal(t, "/reclaim/v1/indexes/IDX-1/bucket%2Fobj", c.oxiaKey("IDX-1", "bucket/obj"))
}

func newIntegrationClient(t *testing.T) *Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping Oxia integration test in short mode")
	}
	c, err := New(Config{
		ServiceAddress: startTestServer(t),
		Namespace:      "default",
		RequestTimeout: 10 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestIntegration_CRUD(t *testing.T) {
	c := newIntegrationClient(t)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "IDX-1", "bucket/obj", `{"mero_oid":"OID-1"}`))
	v, err := c.Get(ctx, "IDX-1", "bucket/obj")
	require.NoError(t, err)
	assert.Equal(t, `{"mero_oid":"OID-1"}`, v)

	_, err = c.Get(ctx, "IDX-1", "other")
	assert.True(t, index.IsNotFound(err), "got %v", err)

	require.NoError(t, c.Delete(ctx, "IDX-1", "bucket/obj"))
	_, err = c.Get(ctx, "IDX-1", "bucket/obj")
	assert.True(t, index.IsNotFound(err))
}

func TestIntegration_ListPagination(t *testing.T) {
	c := newIntegrationClient(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, c.Put(ctx, "PD", fmt.Sprintf("OID-%d", i), "v"))
	}
	require.NoError(t, c.Put(ctx, "OTHER", "OID-x", "v"))

	page, err := c.List(ctx, "PD", 2, "")
	require.NoError(t, err)
	require.Len(t, page.Keys, 2)
	assert.True(t, page.IsTruncated)
	assert.Equal(t, "OID-0", page.Keys[0].Key)
	assert.Equal(t, "OID-1", page.NextMarker)

	all, err := index.ListAll(ctx, c, "PD", 2)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, "OID-4", all[4].Key)
}

func TestIntegration_Closed(t *testing.T) {
	c := newIntegrationClient(t)
	require.NoError(t, c.Close())
	_, err := c.Get(context.Background(), "IDX", "k")
	assert.ErrorIs(t, err, index.ErrClosed)
}

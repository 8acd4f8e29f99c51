package client_test

import (
	"testing"

	"github.com/flint-kv/flintkv"
	"github.com/flint-kv/flintkv/internal/transport"
	"github.com/flint-kv/flintkv/pkg/client"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T) string {
	t.Helper()
	db, err := flintkv.Open(t.TempDir(), nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	srv, err := transport.NewServer("127.0.0.1:0", db, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })
	go srv.Serve()

	return srv.Addr().String()
}

func dial(t *testing.T, addr string) *client.Client {
	t.Helper()
	c, err := client.Dial(addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClient_PutGetDelete(t *testing.T) {
	c := dial(t, startServer(t))

	require.NoError(t, c.Put([]byte("foo"), []byte("bar")))

	val, err := c.Get([]byte("foo"))
	require.NoError(t, err)
	require.Equal(t, []byte("bar"), val)

	require.NoError(t, c.Delete([]byte("foo")))

	_, err = c.Get([]byte("foo"))
	require.ErrorIs(t, err, client.ErrKeyNotFound)
}

func TestClient_GetMissingKey(t *testing.T) {
	c := dial(t, startServer(t))
	_, err := c.Get([]byte("absent"))
	require.ErrorIs(t, err, client.ErrKeyNotFound)
}

func TestClient_BatchPutAndRange(t *testing.T) {
	c := dial(t, startServer(t))

	require.NoError(t, c.BatchPut([]client.KV{
		{Key: []byte("a"), Value: []byte("1")},
		{Key: []byte("b"), Value: []byte("2")},
		{Key: []byte("c"), Value: []byte("3")},
	}))

	kvs, err := c.Range([]byte("a"), []byte("b"))
	require.NoError(t, err)
	require.Len(t, kvs, 2)
	require.Equal(t, []byte("a"), kvs[0].Key)
	require.Equal(t, []byte("1"), kvs[0].Value)
}

func TestClient_Ping(t *testing.T) {
	c := dial(t, startServer(t))
	require.NoError(t, c.Ping())
}

func TestClient_ReusesConnectionAcrossCalls(t *testing.T) {
	c := dial(t, startServer(t))

	for i := 0; i < 5; i++ {
		require.NoError(t, c.Put([]byte("k"), []byte("v")))
		val, err := c.Get([]byte("k"))
		require.NoError(t, err)
		require.Equal(t, []byte("v"), val)
	}
}

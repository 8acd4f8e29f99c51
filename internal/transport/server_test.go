package transport_test

import (
	"bufio"
	"encoding/json"
	"net"
	"testing"

	"github.com/flint-kv/flintkv"
	"github.com/flint-kv/flintkv/internal/transport"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T) (*transport.Server, net.Conn) {
	t.Helper()
	db, err := flintkv.Open(t.TempDir(), nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	srv, err := transport.NewServer("127.0.0.1:0", db, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	go srv.Serve()

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return srv, conn
}

func roundTrip(t *testing.T, conn net.Conn, req transport.Request) transport.Response {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)
	_, err = conn.Write(append(body, '\n'))
	require.NoError(t, err)

	reader := bufio.NewReader(conn)
	line, err := reader.ReadBytes('\n')
	require.NoError(t, err)

	var resp transport.Response
	require.NoError(t, json.Unmarshal(line, &resp))
	return resp
}

func TestServer_PingPong(t *testing.T) {
	_, conn := startServer(t)
	resp := roundTrip(t, conn, transport.Request{Command: transport.CommandPing})
	require.Equal(t, transport.StatusOK, resp.Status)
	require.Equal(t, "pong", resp.Message)
}

func TestServer_PutThenGet(t *testing.T) {
	_, conn := startServer(t)

	resp := roundTrip(t, conn, transport.Request{
		Command: transport.CommandPut,
		Key:     []byte("foo"),
		Value:   []byte("bar"),
	})
	require.Equal(t, transport.StatusOK, resp.Status)

	resp = roundTrip(t, conn, transport.Request{Command: transport.CommandGet, Key: []byte("foo")})
	require.Equal(t, transport.StatusOK, resp.Status)
	require.True(t, resp.Found)
	require.Equal(t, []byte("bar"), resp.Value)
}

func TestServer_GetMissingKeyIsNotFound(t *testing.T) {
	_, conn := startServer(t)
	resp := roundTrip(t, conn, transport.Request{Command: transport.CommandGet, Key: []byte("absent")})
	require.Equal(t, transport.StatusNotFound, resp.Status)
}

func TestServer_DeleteThenGetIsNotFound(t *testing.T) {
	_, conn := startServer(t)

	roundTrip(t, conn, transport.Request{Command: transport.CommandPut, Key: []byte("k"), Value: []byte("v")})
	resp := roundTrip(t, conn, transport.Request{Command: transport.CommandDelete, Key: []byte("k")})
	require.Equal(t, transport.StatusOK, resp.Status)

	resp = roundTrip(t, conn, transport.Request{Command: transport.CommandGet, Key: []byte("k")})
	require.Equal(t, transport.StatusNotFound, resp.Status)
}

func TestServer_BatchPutThenRange(t *testing.T) {
	_, conn := startServer(t)

	resp := roundTrip(t, conn, transport.Request{
		Command: transport.CommandBatchPut,
		Entries: []transport.KV{
			{Key: []byte("a"), Value: []byte("1")},
			{Key: []byte("b"), Value: []byte("2")},
			{Key: []byte("c"), Value: []byte("3")},
		},
	})
	require.Equal(t, transport.StatusOK, resp.Status)

	resp = roundTrip(t, conn, transport.Request{
		Command:  transport.CommandRange,
		StartKey: []byte("a"),
		EndKey:   []byte("b"),
	})
	require.Equal(t, transport.StatusOK, resp.Status)
	require.Len(t, resp.Entries, 2)
	require.Equal(t, []byte("a"), resp.Entries[0].Key)
	require.Equal(t, []byte("b"), resp.Entries[1].Key)
}

func TestServer_UnknownCommandIsError(t *testing.T) {
	_, conn := startServer(t)
	resp := roundTrip(t, conn, transport.Request{Command: "frobnicate"})
	require.Equal(t, transport.StatusError, resp.Status)
}

func TestServer_PutWithoutKeyIsError(t *testing.T) {
	_, conn := startServer(t)
	resp := roundTrip(t, conn, transport.Request{Command: transport.CommandPut, Value: []byte("v")})
	require.Equal(t, transport.StatusError, resp.Status)
}

func TestServer_MultipleConnections(t *testing.T) {
	db, err := flintkv.Open(t.TempDir(), nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	srv, err := transport.NewServer("127.0.0.1:0", db, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })
	go srv.Serve()

	conn1, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn1.Close()
	conn2, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn2.Close()

	roundTrip(t, conn1, transport.Request{Command: transport.CommandPut, Key: []byte("shared"), Value: []byte("v1")})
	resp := roundTrip(t, conn2, transport.Request{Command: transport.CommandGet, Key: []byte("shared")})
	require.Equal(t, transport.StatusOK, resp.Status)
	require.Equal(t, []byte("v1"), resp.Value)
}

// Package client is a thin Go client for the flintkv line protocol
// server: dial an address, send newline-delimited JSON requests, read
// newline-delimited JSON responses.
package client

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/flint-kv/flintkv/internal/transport"
)

// ErrKeyNotFound is returned by Get when the server reports a "not
// found" status.
var ErrKeyNotFound = errors.New("client: key not found")

// KV is a key-value pair returned by Range.
type KV struct {
	Key   []byte
	Value []byte
}

// Client is a connection to a single flintkv server. It is safe for
// concurrent use: requests are serialized over the one underlying
// connection.
type Client struct {
	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
}

// Dial connects to a flintkv server at addr.
func Dial(addr string) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", addr, err)
	}
	return &Client{conn: conn, reader: bufio.NewReader(conn)}, nil
}

// DialTimeout connects to a flintkv server at addr, failing if the
// connection isn't established within timeout.
func DialTimeout(addr string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", addr, err)
	}
	return &Client{conn: conn, reader: bufio.NewReader(conn)}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) sendRequest(req transport.Request) (transport.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	body, err := json.Marshal(req)
	if err != nil {
		return transport.Response{}, fmt.Errorf("client: encode request: %w", err)
	}
	body = append(body, '\n')
	if _, err := c.conn.Write(body); err != nil {
		return transport.Response{}, fmt.Errorf("client: write request: %w", err)
	}

	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		return transport.Response{}, fmt.Errorf("client: read response: %w", err)
	}

	var resp transport.Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return transport.Response{}, fmt.Errorf("client: decode response: %w", err)
	}
	if resp.Status == transport.StatusError {
		return transport.Response{}, fmt.Errorf("client: server error: %s", resp.Message)
	}
	return resp, nil
}

// Put writes key to value.
func (c *Client) Put(key, value []byte) error {
	_, err := c.sendRequest(transport.Request{Command: transport.CommandPut, Key: key, Value: value})
	return err
}

// Get retrieves the value for key. Returns ErrKeyNotFound if the key
// is absent or was deleted.
func (c *Client) Get(key []byte) ([]byte, error) {
	resp, err := c.sendRequest(transport.Request{Command: transport.CommandGet, Key: key})
	if err != nil {
		return nil, err
	}
	if resp.Status == transport.StatusNotFound {
		return nil, ErrKeyNotFound
	}
	return resp.Value, nil
}

// Delete removes key.
func (c *Client) Delete(key []byte) error {
	_, err := c.sendRequest(transport.Request{Command: transport.CommandDelete, Key: key})
	return err
}

// BatchPut writes every pair in kvs as a single atomic unit.
func (c *Client) BatchPut(kvs []KV) error {
	entries := make([]transport.KV, len(kvs))
	for i, kv := range kvs {
		entries[i] = transport.KV{Key: kv.Key, Value: kv.Value}
	}
	_, err := c.sendRequest(transport.Request{Command: transport.CommandBatchPut, Entries: entries})
	return err
}

// Range returns every live key-value pair with lo <= key <= hi,
// ascending.
func (c *Client) Range(lo, hi []byte) ([]KV, error) {
	resp, err := c.sendRequest(transport.Request{Command: transport.CommandRange, StartKey: lo, EndKey: hi})
	if err != nil {
		return nil, err
	}
	kvs := make([]KV, len(resp.Entries))
	for i, e := range resp.Entries {
		kvs[i] = KV{Key: e.Key, Value: e.Value}
	}
	return kvs, nil
}

// Ping checks server liveness.
func (c *Client) Ping() error {
	_, err := c.sendRequest(transport.Request{Command: transport.CommandPing})
	return err
}

package transport

import (
	"bufio"
	"encoding/json"
	"net"
	"sync"

	"github.com/flint-kv/flintkv"
	"github.com/sirupsen/logrus"
)

// Server accepts TCP connections and serves the line protocol against
// a single flintkv.DB, one goroutine per connection.
type Server struct {
	listener net.Listener
	db       *flintkv.DB
	log      *logrus.Logger

	wg       sync.WaitGroup
	closeMu  sync.Mutex
	closed   bool
	conns    map[net.Conn]struct{}
	connsMu  sync.Mutex
}

// NewServer binds addr and returns a Server ready to Serve.
func NewServer(addr string, db *flintkv.DB, log *logrus.Logger) (*Server, error) {
	if log == nil {
		log = logrus.New()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		listener: ln,
		db:       db,
		log:      log,
		conns:    make(map[net.Conn]struct{}),
	}, nil
}

// Addr returns the address the server is listening on.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve accepts connections until the listener is closed, handling
// each on its own goroutine. It always returns a non-nil error; a
// clean shutdown via Close reports net.ErrClosed.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return err
		}
		s.connsMu.Lock()
		s.conns[conn] = struct{}{}
		s.connsMu.Unlock()

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// Close stops accepting new connections, closes every open connection,
// and waits for their handler goroutines to return.
func (s *Server) Close() error {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return nil
	}
	s.closed = true
	s.closeMu.Unlock()

	err := s.listener.Close()

	s.connsMu.Lock()
	for c := range s.conns {
		_ = c.Close()
	}
	s.connsMu.Unlock()

	s.wg.Wait()
	return err
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.connsMu.Lock()
		delete(s.conns, conn)
		s.connsMu.Unlock()
		_ = conn.Close()
	}()

	remote := conn.RemoteAddr().String()
	s.log.WithField("remote", remote).Debug("client connected")

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	writer := bufio.NewWriter(conn)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		resp := s.dispatch(line)

		encoded, err := json.Marshal(resp)
		if err != nil {
			s.log.WithError(err).Error("failed to encode response")
			return
		}
		if _, err := writer.Write(encoded); err != nil {
			return
		}
		if err := writer.WriteByte('\n'); err != nil {
			return
		}
		if err := writer.Flush(); err != nil {
			return
		}
	}

	if err := scanner.Err(); err != nil {
		s.log.WithError(err).WithField("remote", remote).Debug("connection read error")
	}
	s.log.WithField("remote", remote).Debug("client disconnected")
}

func (s *Server) dispatch(line []byte) Response {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return Response{Status: StatusError, Message: "invalid request: " + err.Error()}
	}

	switch req.Command {
	case CommandPut:
		return s.handlePut(req)
	case CommandGet:
		return s.handleGet(req)
	case CommandDelete:
		return s.handleDelete(req)
	case CommandBatchPut:
		return s.handleBatchPut(req)
	case CommandRange:
		return s.handleRange(req)
	case CommandPing:
		return Response{Status: StatusOK, Message: "pong"}
	default:
		return Response{Status: StatusError, Message: "unknown command: " + req.Command}
	}
}

func (s *Server) handlePut(req Request) Response {
	if len(req.Key) == 0 {
		return Response{Status: StatusError, Message: "key is required"}
	}
	if err := s.db.Set(req.Key, req.Value); err != nil {
		return Response{Status: StatusError, Message: err.Error()}
	}
	return Response{Status: StatusOK}
}

func (s *Server) handleGet(req Request) Response {
	if len(req.Key) == 0 {
		return Response{Status: StatusError, Message: "key is required"}
	}
	val, found := s.db.Get(req.Key)
	if !found {
		return Response{Status: StatusNotFound}
	}
	return Response{Status: StatusOK, Value: val, Found: true}
}

func (s *Server) handleDelete(req Request) Response {
	if len(req.Key) == 0 {
		return Response{Status: StatusError, Message: "key is required"}
	}
	if err := s.db.Delete(req.Key); err != nil {
		return Response{Status: StatusError, Message: err.Error()}
	}
	return Response{Status: StatusOK}
}

func (s *Server) handleBatchPut(req Request) Response {
	if len(req.Entries) == 0 {
		return Response{Status: StatusError, Message: "entries is required"}
	}
	kvs := make([]flintkv.KV, len(req.Entries))
	for i, e := range req.Entries {
		if len(e.Key) == 0 {
			return Response{Status: StatusError, Message: "entry key is required"}
		}
		kvs[i] = flintkv.KV{Key: e.Key, Value: e.Value}
	}
	if err := s.db.SetBatch(kvs); err != nil {
		return Response{Status: StatusError, Message: err.Error()}
	}
	return Response{Status: StatusOK}
}

func (s *Server) handleRange(req Request) Response {
	if len(req.StartKey) == 0 || len(req.EndKey) == 0 {
		return Response{Status: StatusError, Message: "start_key and end_key are required"}
	}
	kvs, err := s.db.Range(req.StartKey, req.EndKey)
	if err != nil {
		return Response{Status: StatusError, Message: err.Error()}
	}
	entries := make([]KV, len(kvs))
	for i, kv := range kvs {
		entries[i] = KV{Key: kv.Key, Value: kv.Value}
	}
	return Response{Status: StatusOK, Entries: entries}
}

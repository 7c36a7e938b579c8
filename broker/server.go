package broker

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"net"
	"os"
	"sync"

	"github.com/natefinch/atomic"
	"go.uber.org/zap"
)

// Server is the reference broker (SPEC_FULL.md's supplemented
// feature): an in-memory name→Binding registry served over a Unix
// domain socket, authoritative for name→secret binding per spec §4.6.
// It is not required to run pylabhub itself — producers and consumers
// can exchange name/secret out of band — but it is the natural home
// for the protocol this package defines.
type Server struct {
	path        string
	persistPath string
	log         *zap.Logger

	mu        sync.Mutex
	bindings  map[string]Binding
	listener  net.Listener
	closeOnce sync.Once
}

// NewServer constructs a broker bound to a Unix socket path. The
// socket file is removed first if stale. If persistPath is non-empty,
// the registry is loaded from it at startup (if present) and
// rewritten there, atomically, after every register/unregister — so a
// restarted broker does not forget channels producers already
// registered.
func NewServer(path, persistPath string, log *zap.Logger) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}
	_ = os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	s := &Server{
		path:        path,
		persistPath: persistPath,
		log:         log,
		bindings:    make(map[string]Binding),
		listener:    ln,
	}
	if persistPath != "" {
		if err := s.loadPersisted(); err != nil {
			log.Warn("broker: failed to load persisted registry", zap.Error(err))
		}
	}
	return s, nil
}

func (s *Server) loadPersisted() error {
	raw, err := os.ReadFile(s.persistPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var bindings map[string]Binding
	if err := json.Unmarshal(raw, &bindings); err != nil {
		return err
	}
	s.mu.Lock()
	s.bindings = bindings
	s.mu.Unlock()
	return nil
}

// persistLocked rewrites the registry file atomically; caller holds s.mu.
func (s *Server) persistLocked() {
	if s.persistPath == "" {
		return
	}
	raw, err := json.Marshal(s.bindings)
	if err != nil {
		s.log.Error("broker: encode registry for persistence", zap.Error(err))
		return
	}
	if err := atomic.WriteFile(s.persistPath, bytes.NewReader(raw)); err != nil {
		s.log.Error("broker: persist registry", zap.Error(err))
	}
}

// Serve accepts connections until Close is called. It is meant to run
// in its own goroutine.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	rd := bufio.NewReader(conn)
	for {
		line, err := rd.ReadBytes('\n')
		if err != nil {
			return
		}
		var env Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			s.log.Warn("broker: malformed request envelope", zap.Error(err))
			return
		}
		reply := s.dispatch(env)
		out, err := json.Marshal(Envelope{ID: env.ID, Type: TypeReply, Payload: mustMarshal(reply)})
		if err != nil {
			s.log.Error("broker: encode reply", zap.Error(err))
			return
		}
		out = append(out, '\n')
		if _, err := conn.Write(out); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(env Envelope) Reply {
	switch env.Type {
	case TypeRegister:
		var req RegisterRequest
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			return errReply(err)
		}
		return s.register(req)
	case TypeDiscover:
		var req DiscoverRequest
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			return errReply(err)
		}
		return s.discover(req)
	case TypeUnregister:
		var req UnregisterRequest
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			return errReply(err)
		}
		return s.unregister(req)
	default:
		return Reply{Status: StatusError, Error: "unknown message type: " + env.Type}
	}
}

func (s *Server) register(req RegisterRequest) Reply {
	b := Binding{
		ShmName:          req.Name,
		SlotCount:        req.SlotCount,
		SlotSize:         req.SlotSize,
		FlexibleZoneSize: req.FlexibleZoneSize,
		Secret:           req.Secret,
		FlexZoneHash:     req.FlexZoneHash,
		DataBlockHash:    req.DataBlockHash,
		SchemaValidation: req.SchemaValidation,
	}
	s.mu.Lock()
	s.bindings[req.Name] = b
	s.persistLocked()
	s.mu.Unlock()
	s.log.Info("broker: registered channel", zap.String("name", req.Name))
	return Reply{Status: StatusOK, Binding: mustMarshal(b)}
}

func (s *Server) discover(req DiscoverRequest) Reply {
	s.mu.Lock()
	b, ok := s.bindings[req.Name]
	s.mu.Unlock()
	if !ok {
		return Reply{Status: StatusError, Error: "not found: " + req.Name}
	}
	return Reply{Status: StatusOK, Binding: mustMarshal(b)}
}

func (s *Server) unregister(req UnregisterRequest) Reply {
	s.mu.Lock()
	delete(s.bindings, req.Name)
	s.persistLocked()
	s.mu.Unlock()
	s.log.Info("broker: unregistered channel", zap.String("name", req.Name))
	return Reply{Status: StatusOK}
}

func mustMarshal(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		// Binding and Reply are plain structs of fixed-size fields and
		// strings; marshalling them cannot fail.
		panic("broker: marshal: " + err.Error())
	}
	return raw
}

func errReply(err error) Reply {
	return Reply{Status: StatusError, Error: err.Error()}
}

// Close stops accepting connections and removes the socket file.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.listener.Close()
		_ = os.Remove(s.path)
	})
	return err
}

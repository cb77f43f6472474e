// Package server accepts TCP connections and runs one session per
// connection against a storage backend fronted by the result cache.
package server

import (
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/riorita/go-riorita/cache"
	"github.com/riorita/go-riorita/store"
	"github.com/riorita/go-riorita/store/types"
)

var log = logging.Logger("riorita/server")

// DefaultLifetime is applied to wire puts, which carry no lifetime of
// their own.
const DefaultLifetime = types.Timestamp(1000000000)

// AllowList is a union of IPv4 CIDR blocks. An empty list allows every
// peer.
type AllowList struct {
	nets []*net.IPNet
}

// ParseAllowList parses a semicolon-separated list of `ip` or
// `ip/prefix` entries. A bare ip denotes a /32.
func ParseAllowList(allowed string) (*AllowList, error) {
	list := &AllowList{}
	for _, entry := range strings.Split(allowed, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			entry += "/32"
		}
		_, ipNet, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, fmt.Errorf("bad allow-list entry %q: %w", entry, err)
		}
		if ipNet.IP.To4() == nil {
			return nil, fmt.Errorf("allow-list entry %q is not IPv4", entry)
		}
		list.nets = append(list.nets, ipNet)
	}
	return list, nil
}

// Allows reports whether the address is admitted.
func (l *AllowList) Allows(ip net.IP) bool {
	if len(l.nets) == 0 {
		return true
	}
	ip = ip.To4()
	if ip == nil {
		return false
	}
	for _, ipNet := range l.nets {
		if ipNet.Contains(ip) {
			return true
		}
	}
	return false
}

type serverConfig struct {
	allowList *AllowList
	lifetime  types.Timestamp
}

type ServerOption func(*serverConfig)

// WithAllowList restricts accepted peers to the given CIDR union.
func WithAllowList(list *AllowList) ServerOption {
	return func(c *serverConfig) {
		c.allowList = list
	}
}

// WithLifetime sets the lifetime applied to wire puts.
func WithLifetime(lifetime types.Timestamp) ServerOption {
	return func(c *serverConfig) {
		c.lifetime = lifetime
	}
}

// Server owns the listening socket and spawns sessions. The storage
// and cache are shared by all sessions; the explicit dependencies are
// created by the bootstrap and passed in.
type Server struct {
	storage   store.Storage
	cache     *cache.ResultCache
	allowList *AllowList
	lifetime  types.Timestamp

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool

	sessions sync.WaitGroup
	nextID   uint64
}

func New(storage store.Storage, resultCache *cache.ResultCache, options ...ServerOption) *Server {
	cfg := serverConfig{
		allowList: &AllowList{},
		lifetime:  DefaultLifetime,
	}
	for _, opt := range options {
		opt(&cfg)
	}
	return &Server{
		storage:   storage,
		cache:     resultCache,
		allowList: cfg.allowList,
		lifetime:  cfg.lifetime,
		conns:     make(map[net.Conn]struct{}),
	}
}

// ListenAndServe binds the address and serves until Close. It returns
// nil after a clean Close.
func (s *Server) ListenAndServe(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("cannot listen on %s: %w", addr, err)
	}
	return s.Serve(listener)
}

// Serve accepts connections on the listener until Close.
func (s *Server) Serve(listener net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		listener.Close()
		return nil
	}
	s.listener = listener
	s.mu.Unlock()

	log.Infow("Listening", "addr", listener.Addr())
	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				time.Sleep(5 * time.Millisecond)
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}

		if !s.allowed(conn) {
			log.Warnw("Connection denied by allow-list", "remote", conn.RemoteAddr())
			conn.Close()
			continue
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return nil
		}
		s.nextID++
		id := s.nextID
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		sess := &session{
			conn:     conn,
			storage:  s.storage,
			cache:    s.cache,
			lifetime: s.lifetime,
			id:       id,
		}
		s.sessions.Add(1)
		go func() {
			defer s.sessions.Done()
			sess.run()
			s.mu.Lock()
			delete(s.conns, conn)
			s.mu.Unlock()
		}()
	}
}

func (s *Server) allowed(conn net.Conn) bool {
	addr, ok := conn.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return len(s.allowList.nets) == 0
	}
	return s.allowList.Allows(addr.IP)
}

// Addr returns the bound address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close stops accepting, closes every open connection, and waits for
// the running sessions to return. It does not close the storage or the
// cache; the bootstrap that created them owns them.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	listener := s.listener
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	var err error
	if listener != nil {
		err = listener.Close()
	}
	s.sessions.Wait()
	return err
}

package server

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"time"

	"github.com/riorita/go-riorita/cache"
	"github.com/riorita/go-riorita/protocol"
	"github.com/riorita/go-riorita/store"
	"github.com/riorita/go-riorita/store/types"
)

// session drives one connection through the request loop:
// read size → read body → process → write response → read size. Any
// read or write error, malformed request, or fatal storage error
// closes the connection. One goroutine per session keeps the chain
// serialized.
type session struct {
	conn     net.Conn
	storage  store.Storage
	cache    *cache.ResultCache
	lifetime types.Timestamp
	id       uint64
}

func (s *session) run() {
	defer s.conn.Close()
	log.Debugw("New connection", "session", s.id, "remote", s.conn.RemoteAddr())

	sizeBuf := make([]byte, protocol.SizePrefixSize)
	for {
		if _, err := io.ReadFull(s.conn, sizeBuf); err != nil {
			if err != io.EOF {
				log.Debugw("Connection closed", "session", s.id, "err", err)
			}
			return
		}
		total := int64(int32(binary.LittleEndian.Uint32(sizeBuf)))
		if total < protocol.MinDeclaredLength || total > protocol.MaxFrameSize {
			log.Warnw("Request size out of bounds", "session", s.id, "size", total)
			return
		}

		body := make([]byte, total-protocol.SizePrefixSize)
		if _, err := io.ReadFull(s.conn, body); err != nil {
			log.Warnw("Cannot read request body", "session", s.id, "err", err)
			return
		}

		req, err := protocol.ParseRequest(body)
		if err != nil {
			log.Warnw("Cannot parse request", "session", s.id, "err", err)
			return
		}

		resp, err := s.process(req)
		if err != nil {
			log.Errorw("Cannot process request", "session", s.id, "type", req.Type, "err", err)
			return
		}
		if _, err = s.conn.Write(resp); err != nil {
			log.Warnw("Cannot write response", "session", s.id, "err", err)
			return
		}
	}
}

// splitKey maps a wire key to (section, name) at the first '/'. A key
// without a separator lands in the empty section.
func splitKey(key []byte) (section, name []byte) {
	if i := bytes.IndexByte(key, '/'); i >= 0 {
		return key[:i], key[i+1:]
	}
	return nil, key
}

// process dispatches one request to the cache and storage and builds
// the response. A returned error is fatal to the session; per-record
// corruption is reported to the client as a false verdict instead.
func (s *session) process(req *protocol.Request) ([]byte, error) {
	if req.Type == protocol.Ping {
		return protocol.NewResponse(req, true, true, nil), nil
	}

	section, name := splitKey(req.Key)
	cacheKey := string(req.Key)
	now := types.Timestamp(time.Now().UnixMilli())

	switch req.Type {
	case protocol.Has:
		verdict := s.cache.Has(cacheKey) || s.storage.Has(section, name, now)
		return protocol.NewResponse(req, true, verdict, nil), nil

	case protocol.Get:
		if value, ok := s.cache.Get(cacheKey); ok {
			return protocol.NewResponse(req, true, true, value), nil
		}
		value, found, err := s.storage.Get(section, name, now)
		if err != nil {
			if errors.Is(err, types.ErrCorruptRecord) {
				log.Errorw("Corrupt record", "session", s.id, "err", err)
				return protocol.NewResponse(req, true, false, nil), nil
			}
			return nil, err
		}
		if found {
			s.cache.Put(cacheKey, value)
		}
		return protocol.NewResponse(req, true, found, value), nil

	case protocol.Put:
		stored, err := s.storage.Put(section, name, req.Value, now, s.lifetime, true)
		if err != nil {
			return nil, err
		}
		if stored {
			s.cache.Put(cacheKey, req.Value)
		}
		return protocol.NewResponse(req, true, stored, nil), nil

	case protocol.Delete:
		s.cache.Erase(cacheKey)
		if _, err := s.storage.Erase(section, name, now); err != nil {
			return nil, err
		}
		return protocol.NewResponse(req, true, true, nil), nil
	}

	return nil, protocol.ErrMalformedRequest
}

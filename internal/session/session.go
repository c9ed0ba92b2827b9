// Package session runs one daemon connection's read/dispatch/write loop
// on a goroutine of its own, over a blocking net.Conn.
package session

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync/atomic"

	"k8s.io/klog/v2"

	"github.com/cu-fleet/curmd/internal/catalogue"
	"github.com/cu-fleet/curmd/internal/dispatch"
	"github.com/cu-fleet/curmd/internal/wire"
)

// bufferSize is the session's minimum read/write buffer size.
const bufferSize = 128 * 1024

// Session owns one accepted connection.
type Session struct {
	conn   net.Conn
	d      *dispatch.Dispatcher
	r      *bufio.Reader
	w      *bufio.Writer
	client atomic.Uint64 // the client id this connection owns, 0 until recorded
	pid    atomic.Int64
}

// New wraps an accepted connection.
func New(conn net.Conn, d *dispatch.Dispatcher) *Session {
	return &Session{
		conn: conn,
		d:    d,
		r:    bufio.NewReaderSize(conn, bufferSize),
		w:    bufio.NewWriterSize(conn, bufferSize),
	}
}

// Serve reads requests until the connection closes or ctx is canceled,
// dispatching each one and writing back its response. On exit it recycles
// whatever client id this session ever claimed.
func (s *Session) Serve(ctx context.Context) {
	defer s.conn.Close()
	defer s.recycleIfClaimed()

	for {
		if ctx.Err() != nil {
			return
		}
		body, err := wire.ReadFrame(s.r)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				klog.V(3).InfoS("session read error, closing", "remote", s.conn.RemoteAddr(), "err", err)
			}
			return
		}
		if len(body) == 0 {
			// A zero-length read is benign; keep reading.
			continue
		}

		resp := s.handle(ctx, body)
		if err := wire.WriteResponse(s.w, resp); err != nil {
			klog.V(3).InfoS("session write error, closing", "remote", s.conn.RemoteAddr(), "err", err)
			return
		}
		if err := s.w.Flush(); err != nil {
			klog.V(3).InfoS("session flush error, closing", "remote", s.conn.RemoteAddr(), "err", err)
			return
		}
	}
}

// handle turns one frame body into one response. A body that does not
// parse gets the legacy failed response carrying the parse error and the
// raw input; the connection stays open. A request missing its name or its
// requestId is answered with invalid argument.
func (s *Session) handle(ctx context.Context, body []byte) wire.Response {
	req, err := wire.ParseRequest(body)
	if err != nil {
		klog.V(3).InfoS("unparseable request", "remote", s.conn.RemoteAddr(), "err", err)
		return wire.NewLegacyFailedResponse(err.Error(), string(body))
	}
	var ids struct {
		Request struct {
			RequestID *int64 `json:"requestId"`
		} `json:"request"`
	}
	if req.Name == "" || json.Unmarshal(body, &ids) != nil || ids.Request.RequestID == nil {
		return wire.NewErrorResponse(req.Name, req.RequestID,
			catalogue.ErrInvalidArgument)
	}

	s.trackContext(req)

	resp := s.d.Dispatch(ctx, req)
	s.trackContextFromResponse(req, resp)
	return resp
}

// trackContext captures the client id and process id this connection is
// responsible for, signalled by the recordClientId parameter, so the
// disconnect path knows what to recycle.
func (s *Session) trackContext(req wire.Request) {
	if _, ok := req.Params["recordClientId"]; !ok {
		return
	}
	if v, ok := req.Params["clientId"]; ok {
		if n, ok := v.(float64); ok && n > 0 {
			s.client.Store(uint64(n))
		}
	}
	if v, ok := req.Params["processId"]; ok {
		if n, ok := v.(float64); ok {
			s.pid.Store(int64(n))
		}
	}
}

// trackContextFromResponse captures the daemon-assigned client id a
// createContext call just minted, since the client does not know it until
// this response arrives.
func (s *Session) trackContextFromResponse(req wire.Request, resp wire.Response) {
	if req.Name != "createContext" || !resp.OK() {
		return
	}
	if v, ok := resp.Data["clientId"]; ok {
		if id, ok := v.(uint64); ok && id > 0 {
			s.client.Store(id)
		}
	}
}

func (s *Session) recycleIfClaimed() {
	clientID := s.client.Load()
	if clientID == 0 {
		return
	}
	klog.V(2).InfoS("session closed, recycling client", "client", clientID)
	s.d.Alloc.RecycleClient(clientID)
}

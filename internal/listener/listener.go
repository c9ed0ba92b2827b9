// Package listener runs the daemon's TCP accept loop, spawning one
// session per accepted connection.
package listener

import (
	"context"
	"errors"
	"fmt"
	"net"

	"k8s.io/klog/v2"

	"github.com/cu-fleet/curmd/internal/dispatch"
	"github.com/cu-fleet/curmd/internal/session"
)

// DefaultPort is the daemon's fixed, loopback-local TCP port.
const DefaultPort = 9763

// Listener accepts connections and spawns one Session per connection.
type Listener struct {
	ln net.Listener
	d  *dispatch.Dispatcher
}

// New binds addr (host:port, typically "127.0.0.1:9763") and returns a
// Listener ready to Serve.
func New(addr string, d *dispatch.Dispatcher) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listener: listen %q: %w", addr, err)
	}
	return &Listener{ln: ln, d: d}, nil
}

// Addr returns the bound address, useful when addr was passed as
// ":0" for an ephemeral port (tests).
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Close stops accepting new connections.
func (l *Listener) Close() error {
	return l.ln.Close()
}

// Serve accepts connections until ctx is canceled or the listener is
// closed, spawning a goroutine running session.Serve for each one.
func (l *Listener) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		l.ln.Close()
	}()

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			klog.ErrorS(err, "accept failed, continuing")
			continue
		}
		sess := session.New(conn, l.d)
		go sess.Serve(ctx)
	}
}

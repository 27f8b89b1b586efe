// Package transport carries host control protocol frames over a single
// WebSocket connection. It is deliberately thin: framing and message
// semantics live in internal/wire, this package only owns the
// connection lifecycle (accept exactly one client, read/write frames,
// report when the peer goes away).
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/net/netutil"
)

// ErrClosed is returned by Send once the connection has been marked
// closed, either locally or because a read or write failed. Receive
// reports a failed read with the wrapped websocket error instead.
var ErrClosed = errors.New("transport: connection closed")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Conn wraps one accepted WebSocket connection with the frame-level
// send/receive surface host.Host needs. A Conn is safe for concurrent
// use by at most one reader goroutine and any number of writer
// goroutines (gorilla/websocket requires serialized writes, which
// writeMu enforces).
type Conn struct {
	ws *websocket.Conn

	writeMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
}

func newConn(ws *websocket.Conn) *Conn {
	ws.SetReadLimit(16 * 1024 * 1024)
	return &Conn{ws: ws, closed: make(chan struct{})}
}

// Send writes a single frame. Safe to call concurrently with itself and
// with Receive.
func (c *Conn) Send(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		c.markClosed()
		return fmt.Errorf("transport: send: %w", err)
	}
	return nil
}

// Receive blocks for the next frame. Only one goroutine may call
// Receive at a time — the host's single I/O-worker goroutine owns it.
func (c *Conn) Receive() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		c.markClosed()
		return nil, fmt.Errorf("transport: receive: %w", err)
	}
	return data, nil
}

// Closed reports a channel that is closed once the peer has
// disconnected or Close has been called, letting the engine goroutine's
// inner loop select on disconnection without calling Receive itself.
func (c *Conn) Closed() <-chan struct{} {
	return c.closed
}

func (c *Conn) markClosed() {
	c.closeOnce.Do(func() { close(c.closed) })
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	c.markClosed()
	return c.ws.Close()
}

// Listener accepts exactly one client connection at a time, matching
// the host's single-client non-goal: while one connection is open, a
// second dialer's TCP connection is never accepted by the server, so
// its WebSocket handshake cannot complete.
type Listener struct {
	addr     string
	logger   *slog.Logger
	ln       net.Listener
	srv      *http.Server
	accepted chan *Conn

	boundOnce sync.Once
	bound     chan string
}

// New creates a Listener bound to addr (host:port). It does not start
// accepting connections until Serve is called. addr may use port 0 to
// let the kernel choose a free port; call Addr after Serve has started
// to learn the address actually bound.
func New(addr string, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{
		addr:     addr,
		logger:   logger,
		accepted: make(chan *Conn),
		bound:    make(chan string, 1),
	}
}

// Addr blocks until Serve has bound its listening socket and returns
// its address. Mainly useful in tests that bind to port 0.
func (l *Listener) Addr(ctx context.Context) (string, error) {
	select {
	case addr := <-l.bound:
		l.bound <- addr
		return addr, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Serve listens on the configured address and upgrades WebSocket
// handshakes, handing each accepted Conn to Accept. It blocks until ctx
// is cancelled or the listener fails, and always returns a non-nil
// error (context.Canceled on a clean shutdown).
func (l *Listener) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return fmt.Errorf("transport: listen: %w", err)
	}
	l.ln = netutil.LimitListener(ln, 1)
	l.boundOnce.Do(func() { l.bound <- ln.Addr().String() })

	mux := http.NewServeMux()
	mux.HandleFunc("/", l.handleUpgrade)
	l.srv = &http.Server{Handler: mux}

	l.logger.Info("transport listening", "addr", l.addr)

	errCh := make(chan error, 1)
	go func() { errCh <- l.srv.Serve(l.ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = l.srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return fmt.Errorf("transport: serve: %w", err)
	}
}

func (l *Listener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	l.logger.Info("client connected", "remote", r.RemoteAddr)
	l.accepted <- newConn(ws)
}

// Accept blocks until the single permitted client connects, or ctx is
// cancelled.
func (l *Listener) Accept(ctx context.Context) (*Conn, error) {
	select {
	case conn := <-l.accepted:
		return conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Dial is the client-side counterpart of Listener: it connects out to
// a host already waiting, the connect_to_server direction.
func Dial(ctx context.Context, url string) (*Conn, error) {
	dialer := websocket.Dialer{}
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: dial: %w", err)
	}
	return newConn(ws), nil
}

package cluster

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

// writeTimeout bounds a single websocket write when ctx has no deadline.
const writeTimeout = 10 * time.Second

// wsConn carries the worker protocol as JSON text frames over one websocket.
// A remote worker process sends Hello first, then alternates Report and
// Broadcast with the coordinator exactly like an in-process Pipe.
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	readMu  sync.Mutex
}

func (c *wsConn) write(ctx context.Context, v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(writeTimeout)
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return translate(ctx, err)
	}
	return translate(ctx, c.conn.WriteJSON(v))
}

func (c *wsConn) read(ctx context.Context, v any) error {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	deadline, _ := ctx.Deadline()
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return translate(ctx, err)
	}
	// Unblock the read when ctx is cancelled without a deadline.
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	return translate(ctx, c.conn.ReadJSON(v))
}

func (c *wsConn) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.conn.Close()
}

// translate maps websocket failures onto ctx errors and ErrClosed so callers
// see the same errors as with a Pipe.
func translate(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return context.DeadlineExceeded
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
		errors.Is(err, net.ErrClosed) || errors.Is(err, websocket.ErrCloseSent) {
		return ErrClosed
	}
	// A peer that closed without a close frame.
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return ErrClosed
	}
	return err
}

type wsCoordinatorConn struct{ *wsConn }

// NewWSCoordinatorConn wraps an established websocket as the coordinator's
// end of a worker channel.
func NewWSCoordinatorConn(conn *websocket.Conn) CoordinatorConn {
	return &wsCoordinatorConn{&wsConn{conn: conn}}
}

func (c *wsCoordinatorConn) Send(ctx context.Context, b Broadcast) error {
	return c.write(ctx, b)
}

func (c *wsCoordinatorConn) Recv(ctx context.Context) (Report, error) {
	var r Report
	if err := c.read(ctx, &r); err != nil {
		return Report{}, err
	}
	return r, nil
}

type wsWorkerConn struct{ *wsConn }

// NewWSWorkerConn wraps an established websocket as the worker's end of a
// worker channel.
func NewWSWorkerConn(conn *websocket.Conn) WorkerConn {
	return &wsWorkerConn{&wsConn{conn: conn}}
}

func (c *wsWorkerConn) Send(ctx context.Context, r Report) error {
	return c.write(ctx, r)
}

func (c *wsWorkerConn) Recv(ctx context.Context) (Broadcast, error) {
	var b Broadcast
	if err := c.read(ctx, &b); err != nil {
		return Broadcast{}, err
	}
	return b, nil
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Workers are processes, not browsers.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// AcceptWorker upgrades an HTTP request to a worker channel and reads the
// worker's Hello.
//
// Parameters:
//   - ctx: Bounds the wait for Hello
//   - w, r: The HTTP exchange to upgrade
//
// Returns:
//   - The coordinator's end of the channel
//   - The worker's Hello
//   - Error if the upgrade fails or Hello is malformed
func AcceptWorker(ctx context.Context, w http.ResponseWriter, r *http.Request) (CoordinatorConn, Hello, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, Hello{}, fmt.Errorf("websocket upgrade: %w", err)
	}
	c := &wsCoordinatorConn{&wsConn{conn: conn}}

	var hello Hello
	if err := c.read(ctx, &hello); err != nil {
		_ = c.Close()
		return nil, Hello{}, fmt.Errorf("failed to read hello: %w", err)
	}
	if len(hello.Variables) == 0 {
		_ = c.Close()
		return nil, Hello{}, fmt.Errorf("worker %q announced no variables", hello.Name)
	}
	return c, hello, nil
}

// DialWorker connects a remote worker to the coordinator hub at url
// (ws:// or wss://) and sends hello.
func DialWorker(ctx context.Context, url string, hello Hello) (WorkerConn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial coordinator: %w", err)
	}
	c := &wsWorkerConn{&wsConn{conn: conn}}
	if err := c.write(ctx, hello); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to send hello: %w", err)
	}
	return c, nil
}

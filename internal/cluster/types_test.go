package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/consensus/internal/problem"
)

// TestReportJSON verifies the wire shape of a Report
func TestReportJSON(t *testing.T) {
	r := Report{
		Status: problem.StatusOptimal,
		Values: problem.Values{"x": {1.5}},
	}
	data, err := json.Marshal(r)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "optimal", m["status"])
	assert.Contains(t, m, "values")
	assert.NotContains(t, m, "duals", "empty duals are omitted")
	assert.NotContains(t, m, "error")

	var decoded Report
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, r, decoded)
}

func TestMessageClone(t *testing.T) {
	b := Broadcast{Round: 3, Average: problem.Values{"x": {1}}, Duals: problem.Values{"x": {2}}}
	cp := b.Clone()
	cp.Average["x"][0] = 10
	cp.Duals["x"][0] = 20
	assert.Equal(t, 1.0, b.Average["x"][0])
	assert.Equal(t, 2.0, b.Duals["x"][0])
	assert.Equal(t, 3, cp.Round)

	r := Report{Status: problem.StatusOptimal, Values: problem.Values{"x": {1}}}
	rc := r.Clone()
	rc.Values["x"][0] = 5
	assert.Equal(t, 1.0, r.Values["x"][0])
}

func TestPipe(t *testing.T) {
	ctx := context.Background()

	t.Run("round trip", func(t *testing.T) {
		coord, work := Pipe()
		defer coord.Close()

		require.NoError(t, work.Send(ctx, Report{Status: problem.StatusOptimal, Values: problem.Values{"x": {2}}}))
		r, err := coord.Recv(ctx)
		require.NoError(t, err)
		assert.Equal(t, []float64{2}, r.Values["x"])

		require.NoError(t, coord.Send(ctx, Broadcast{Round: 0, Average: problem.Values{"x": {3}}}))
		b, err := work.Recv(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, b.Round)
		assert.Equal(t, []float64{3}, b.Average["x"])
	})

	t.Run("sender keeps its own copy", func(t *testing.T) {
		coord, work := Pipe()
		defer coord.Close()

		avg := problem.Values{"x": {1}}
		require.NoError(t, coord.Send(ctx, Broadcast{Average: avg}))
		avg["x"][0] = 42

		b, err := work.Recv(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1.0, b.Average["x"][0])
	})

	t.Run("one pending message per direction", func(t *testing.T) {
		coord, work := Pipe()
		defer coord.Close()

		require.NoError(t, work.Send(ctx, Report{Status: problem.StatusOptimal}))

		tctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		err := work.Send(tctx, Report{Status: problem.StatusOptimal})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("close releases both ends", func(t *testing.T) {
		coord, work := Pipe()

		done := make(chan error, 1)
		go func() {
			_, err := work.Recv(ctx)
			done <- err
		}()

		require.NoError(t, coord.Close())
		select {
		case err := <-done:
			assert.ErrorIs(t, err, ErrClosed)
		case <-time.After(time.Second):
			t.Fatal("worker Recv did not return after Close")
		}

		assert.ErrorIs(t, coord.Send(ctx, Broadcast{}), ErrClosed)
		assert.ErrorIs(t, work.Send(ctx, Report{}), ErrClosed)
		_, err := coord.Recv(ctx)
		assert.ErrorIs(t, err, ErrClosed)

		// Closing twice is harmless.
		assert.NoError(t, work.Close())
	})

	t.Run("context cancellation", func(t *testing.T) {
		coord, _ := Pipe()
		defer coord.Close()

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := coord.Recv(cctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

// wsPair starts a hub that accepts one worker and returns both ends.
func wsPair(t *testing.T, hello Hello) (CoordinatorConn, Hello, WorkerConn) {
	t.Helper()

	type accepted struct {
		conn  CoordinatorConn
		hello Hello
		err   error
	}
	ch := make(chan accepted, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, h, err := AcceptWorker(r.Context(), w, r)
		ch <- accepted{conn, h, err}
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	work, err := DialWorker(ctx, url, hello)
	require.NoError(t, err)
	t.Cleanup(func() { work.Close() })

	select {
	case a := <-ch:
		require.NoError(t, a.err)
		return a.conn, a.hello, work
	case <-ctx.Done():
		t.Fatal("hub did not accept the worker")
		return nil, Hello{}, nil
	}
}

func TestWebsocketConn(t *testing.T) {
	hello := Hello{Name: "left", Variables: []problem.Variable{{ID: "x", Size: 1}}}
	coord, got, work := wsPair(t, hello)
	defer coord.Close()

	assert.Equal(t, hello, got)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, work.Send(ctx, Report{Status: problem.StatusOptimal, Values: problem.Values{"x": {0.5}}}))
	r, err := coord.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, problem.StatusOptimal, r.Status)
	assert.Equal(t, []float64{0.5}, r.Values["x"])

	require.NoError(t, coord.Send(ctx, Broadcast{Round: 7, Average: problem.Values{"x": {1.25}}}))
	b, err := work.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, b.Round)
	assert.Equal(t, []float64{1.25}, b.Average["x"])
}

func TestWebsocketRecvHonoursContext(t *testing.T) {
	hello := Hello{Name: "idle", Variables: []problem.Variable{{ID: "x", Size: 1}}}
	coord, _, _ := wsPair(t, hello)
	defer coord.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := coord.Recv(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWebsocketPeerClose(t *testing.T) {
	hello := Hello{Name: "leaver", Variables: []problem.Variable{{ID: "x", Size: 1}}}
	coord, _, work := wsPair(t, hello)
	defer coord.Close()

	require.NoError(t, work.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := coord.Recv(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestAcceptWorkerRejectsEmptyHello(t *testing.T) {
	errs := make(chan error, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _, err := AcceptWorker(r.Context(), w, r)
		errs <- err
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	work, err := DialWorker(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), Hello{Name: "empty"})
	require.NoError(t, err)
	defer work.Close()

	select {
	case err := <-errs:
		assert.Error(t, err)
	case <-ctx.Done():
		t.Fatal("hub never answered")
	}
}

func TestPostJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/echo":
			var in map[string]int
			_ = json.NewDecoder(r.Body).Decode(&in)
			in["n"]++
			_ = json.NewEncoder(w).Encode(in)
		case "/fail":
			http.Error(w, "problem is infeasible", http.StatusUnprocessableEntity)
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer srv.Close()
	ctx := context.Background()

	var out map[string]int
	require.NoError(t, PostJSON(ctx, srv.URL+"/echo", map[string]int{"n": 1}, &out))
	assert.Equal(t, 2, out["n"])

	assert.NoError(t, PostJSON(ctx, srv.URL+"/none", map[string]int{}, nil))

	err := PostJSON(ctx, srv.URL+"/fail", map[string]int{}, nil)
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusUnprocessableEntity, statusErr.Code)
	assert.Equal(t, "problem is infeasible", statusErr.Message)
	assert.Contains(t, err.Error(), "422")
}

func TestGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	var out struct {
		OK bool `json:"ok"`
	}
	require.NoError(t, GetJSON(context.Background(), srv.URL+"/", &out))
	assert.True(t, out.OK)

	err := GetJSON(context.Background(), srv.URL+"/missing", &out)
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.Code)
	assert.Empty(t, statusErr.Message)
}

// TestTranslate tests how transport failures map onto channel errors
func TestTranslate(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	other := errors.New("boom")

	tests := []struct {
		name string
		ctx  context.Context
		err  error
		want error
	}{
		{"nil", context.Background(), nil, nil},
		{"context wins", cancelled, other, context.Canceled},
		{"eof", context.Background(), io.EOF, ErrClosed},
		{"unexpected eof", context.Background(), io.ErrUnexpectedEOF, ErrClosed},
		{"reset", context.Background(), &net.OpError{Op: "read", Err: os.NewSyscallError("read", syscall.ECONNRESET)}, ErrClosed},
		{"broken pipe", context.Background(), &net.OpError{Op: "write", Err: os.NewSyscallError("write", syscall.EPIPE)}, ErrClosed},
		{"closed locally", context.Background(), net.ErrClosed, ErrClosed},
		{"other", context.Background(), other, other},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := translate(tt.ctx, tt.err)
			if tt.want == nil {
				assert.NoError(t, got)
				return
			}
			assert.ErrorIs(t, got, tt.want)
		})
	}
}

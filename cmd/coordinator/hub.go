package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dreamware/consensus/internal/cluster"
	"github.com/dreamware/consensus/internal/config"
	"github.com/dreamware/consensus/internal/coordinator"
	"github.com/dreamware/consensus/internal/logging"
	"github.com/dreamware/consensus/internal/problem"
)

func newHubCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hub",
		Short: "Run consensus over remote workers",
		Long: `Hub listens for remote workers on ws://<hub-addr>/worker, waits until
the configured number have joined and then drives them through a
consensus run. The final averages are printed as JSON.`,
		Args: cobra.NoArgs,
		RunE: runHub,
	}
	cmd.Flags().String("hub-addr", "", "websocket listen address")
	cmd.Flags().Int("workers", 0, "number of workers to wait for")
	cmd.Flags().Duration("join-timeout", 0, "how long to wait for workers (0 waits forever)")
	consensusFlags(cmd.Flags())
	return cmd
}

func runHub(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log, err := newLogger(cmd, cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", cfg.Server.HubAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	log.Info("hub listening", "addr", ln.Addr().String(), "workers", cfg.Server.Workers)

	res, err := newHub(cfg, log).serve(ctx, ln)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// joined is a worker that completed the websocket handshake.
type joined struct {
	conn  cluster.CoordinatorConn
	hello cluster.Hello
}

type hub struct {
	cfg    *config.Config
	log    *logging.Logger
	joined chan joined

	mu   sync.Mutex
	full bool // set once gather returns; later joiners are refused
}

func newHub(cfg *config.Config, log *logging.Logger) *hub {
	return &hub{
		cfg: cfg,
		log: log,
		// Extra workers beyond the configured count are refused by handleWorker.
		joined: make(chan joined, cfg.Server.Workers),
	}
}

// serve accepts workers on ln, runs consensus over them and closes ln.
func (h *hub) serve(ctx context.Context, ln net.Listener) (*coordinator.Result, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/worker", func(w http.ResponseWriter, r *http.Request) {
		h.handleWorker(ctx, w, r)
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	httpSrv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.log.Error("hub server failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	conns, vars, err := h.gather(ctx)
	if err != nil {
		return nil, err
	}

	opts, err := h.cfg.CoordinatorOptions(h.log)
	if err != nil {
		return nil, err
	}
	h.log.Info("consensus run starting", "workers", len(conns), "mode", opts.Mode.String())
	res, err := coordinator.RunConns(ctx, conns, vars, opts)
	if err != nil {
		h.log.Error("consensus run failed", "error", err)
		return nil, fmt.Errorf("consensus run failed: %w", err)
	}
	h.log.Info("consensus run finished", "rounds", res.Rounds, "elapsed", res.Elapsed)
	return res, nil
}

func (h *hub) handleWorker(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	conn, hello, err := cluster.AcceptWorker(ctx, w, r)
	if err != nil {
		h.log.Warn("worker handshake failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.full {
		select {
		case h.joined <- joined{conn: conn, hello: hello}:
			h.log.Info("worker joined", "name", hello.Name, "variables", len(hello.Variables))
			return
		default:
		}
	}
	h.log.Warn("worker refused, hub is full", "name", hello.Name)
	_ = conn.Close()
}

// seal refuses every later joiner and closes workers that joined after
// gather stopped taking them.
func (h *hub) seal() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.full = true
	for {
		select {
		case j := <-h.joined:
			h.log.Warn("worker refused, hub is full", "name", j.hello.Name)
			_ = j.conn.Close()
		default:
			return
		}
	}
}

// gather waits for the configured number of workers. Workers are indexed in
// join order.
func (h *hub) gather(ctx context.Context) ([]cluster.CoordinatorConn, [][]problem.Variable, error) {
	defer h.seal()
	if t := h.cfg.Server.JoinTimeout; t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}

	n := h.cfg.Server.Workers
	conns := make([]cluster.CoordinatorConn, 0, n)
	vars := make([][]problem.Variable, 0, n)
	for len(conns) < n {
		select {
		case j := <-h.joined:
			conns = append(conns, j.conn)
			vars = append(vars, j.hello.Variables)
		case <-ctx.Done():
			for _, c := range conns {
				_ = c.Close()
			}
			return nil, nil, fmt.Errorf("%d of %d workers joined: %w", len(conns), n, ctx.Err())
		}
	}
	return conns, vars, nil
}

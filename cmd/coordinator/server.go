package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dreamware/consensus/internal/config"
	"github.com/dreamware/consensus/internal/logging"
	"github.com/dreamware/consensus/internal/problem"
	"github.com/dreamware/consensus/internal/storage"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve consensus runs over HTTP",
		Long: `Serve accepts problem sets on POST /runs, solves each one with
in-process workers and keeps the outcome for GET /runs/{id}.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
	cmd.Flags().String("addr", "", "HTTP listen address")
	consensusFlags(cmd.Flags())
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
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

	srv := newServer(ctx, cfg, storage.NewMemoryStore(), log)
	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("coordinator listening", "addr", cfg.Server.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	srv.wait()
	log.Info("coordinator stopped")
	return nil
}

// RunRequest is the body of POST /runs. Zero-valued overrides keep the
// service configuration.
type RunRequest struct {
	Spectral   *bool          `json:"spectral,omitempty"`
	Mode       string         `json:"mode,omitempty"`
	Problems   []problem.Spec `json:"problems"`
	RhoInit    []float64      `json:"rho_init,omitempty"`
	Iterations int            `json:"iterations,omitempty"`
}

// apply returns a copy of cfg with the request's overrides.
func (req RunRequest) apply(cfg *config.Config) (*config.Config, error) {
	c := *cfg
	if req.Iterations != 0 {
		c.Consensus.MaxIterations = req.Iterations
	}
	if req.Mode != "" {
		c.Consensus.Mode = req.Mode
	}
	if req.Spectral != nil {
		c.Consensus.Spectral = *req.Spectral
	}
	if req.RhoInit != nil {
		c.Consensus.RhoInit = req.RhoInit
	}
	if errs := c.Validate(); len(errs) > 0 {
		return nil, config.ValidationErrors(errs)
	}
	return &c, nil
}

type server struct {
	ctx   context.Context // parent of every asynchronous run
	cfg   *config.Config
	store storage.Store
	log   *logging.Logger
	wg    sync.WaitGroup
	seq   atomic.Uint64
}

func newServer(ctx context.Context, cfg *config.Config, store storage.Store, log *logging.Logger) *server {
	return &server{
		ctx:   ctx,
		cfg:   cfg,
		store: store,
		log:   log,
	}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /runs", s.handleSubmit)
	mux.HandleFunc("GET /runs", s.handleListRuns)
	mux.HandleFunc("GET /runs/{id}", s.handleGetRun)
	mux.HandleFunc("DELETE /runs/{id}", s.handleDeleteRun)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// wait blocks until every asynchronous run has finished.
func (s *server) wait() {
	s.wg.Wait()
}

func (s *server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if len(req.Problems) == 0 {
		http.Error(w, "no problems", http.StatusBadRequest)
		return
	}
	cfg, err := req.apply(s.cfg)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	set := &problem.SetSpec{Problems: req.Problems}
	if _, err := set.Build(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	id := fmt.Sprintf("run-%d", s.seq.Add(1))
	names := make([]string, len(req.Problems))
	for i, p := range req.Problems {
		names[i] = p.Name
	}
	if err := s.store.Create(storage.Run{
		ID:        id,
		State:     storage.StateRunning,
		Mode:      cfg.Consensus.Mode,
		Problems:  names,
		Submitted: time.Now(),
	}); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	log := s.log.WithRun(id)
	if r.URL.Query().Get("wait") == "true" {
		s.execute(r.Context(), id, set, cfg, log)
		s.writeRun(w, id, http.StatusOK)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(s.ctx, id, set, cfg, log)
	}()
	s.writeRun(w, id, http.StatusAccepted)
}

// execute solves set and records the outcome under id.
func (s *server) execute(ctx context.Context, id string, set *problem.SetSpec, cfg *config.Config, log *logging.Logger) {
	res, err := solveSet(ctx, set, cfg, log)
	finished := time.Now()
	updateErr := s.store.Update(id, func(run *storage.Run) {
		run.Finished = finished
		if err != nil {
			run.State = storage.StateFailed
			run.Error = err.Error()
			return
		}
		run.State = storage.StateSucceeded
		run.Averages = res.Averages
		run.Rounds = res.Rounds
		run.Elapsed = res.Elapsed
	})
	if updateErr != nil {
		log.Warn("failed to record run outcome", "error", updateErr)
	}
}

func (s *server) writeRun(w http.ResponseWriter, id string, code int) {
	run, err := s.store.Get(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(run)
}

func (s *server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Runs []storage.Run `json:"runs"`
	}{Runs: s.store.List()})
}

func (s *server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.store.Get(id); errors.Is(err, storage.ErrRunNotFound) {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	s.writeRun(w, id, http.StatusOK)
}

func (s *server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.Get(r.PathValue("id"))
	if errors.Is(err, storage.ErrRunNotFound) {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	if run.State == storage.StateRunning {
		http.Error(w, "run still in progress", http.StatusConflict)
		return
	}
	_ = s.store.Delete(run.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.store.Stats())
}

package main

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/consensus/internal/cluster"
	"github.com/dreamware/consensus/internal/config"
	"github.com/dreamware/consensus/internal/coordinator"
	"github.com/dreamware/consensus/internal/logging"
	"github.com/dreamware/consensus/internal/problem"
	"github.com/dreamware/consensus/internal/worker"
)

func hubConfig(workers int, join time.Duration) *config.Config {
	cfg := config.Default()
	cfg.Consensus.MaxIterations = 50
	cfg.Server.Workers = workers
	cfg.Server.JoinTimeout = join
	return cfg
}

type hubResult struct {
	res *coordinator.Result
	err error
}

func startHub(t *testing.T, cfg *config.Config) (string, <-chan hubResult) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan hubResult, 1)
	ctx := testContext(t)
	go func() {
		res, err := newHub(cfg, logging.NopLogger()).serve(ctx, ln)
		done <- hubResult{res, err}
	}()
	return "ws://" + ln.Addr().String() + "/worker", done
}

// TestHubRun tests a run over remote workers joined through the hub
func TestHubRun(t *testing.T) {
	url, done := startHub(t, hubConfig(2, 5*time.Second))
	ctx := testContext(t)

	specs := quadraticSpecs()
	for _, spec := range specs {
		p, err := spec.Build()
		require.NoError(t, err)
		w, err := worker.New(p, worker.Config{Rho: 1})
		require.NoError(t, err)

		conn, err := cluster.DialWorker(ctx, url, cluster.Hello{Name: spec.Name, Variables: w.Variables()})
		require.NoError(t, err)
		go func() { _ = w.Run(ctx, conn) }()
	}

	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.InDelta(t, 3.0, r.res.Averages["x"][0], 1e-3)
		assert.Equal(t, 50, r.res.Rounds)
	case <-ctx.Done():
		t.Fatal("hub did not finish")
	}
}

// TestHubJoinTimeout tests that the hub gives up when workers do not join
func TestHubJoinTimeout(t *testing.T) {
	url, done := startHub(t, hubConfig(2, 500*time.Millisecond))
	ctx := testContext(t)

	w, err := worker.New(mustBuild(t, quadraticSpecs()[0]), worker.Config{Rho: 1})
	require.NoError(t, err)
	conn, err := cluster.DialWorker(ctx, url, cluster.Hello{Name: "only", Variables: w.Variables()})
	require.NoError(t, err)
	defer conn.Close()

	r := <-done
	require.Error(t, r.err)
	assert.Contains(t, r.err.Error(), "1 of 2 workers joined")
}

// TestHubRefusesLateWorker tests that a worker joining a full hub is
// disconnected instead of left waiting for a run it is not part of
func TestHubRefusesLateWorker(t *testing.T) {
	cfg := hubConfig(1, 5*time.Second)
	cfg.Consensus.MaxIterations = 1
	cfg.Consensus.Mode = "push"
	url, done := startHub(t, cfg)
	ctx := testContext(t)

	w, err := worker.New(mustBuild(t, quadraticSpecs()[0]), worker.Config{Rho: 1, Ownership: worker.CoordinatorOwned})
	require.NoError(t, err)
	hello := cluster.Hello{Name: "left", Variables: w.Variables()}

	first, err := cluster.DialWorker(ctx, url, hello)
	require.NoError(t, err)
	defer first.Close()

	// In push mode the hub speaks first, so a broadcast means the run has
	// started with this worker.
	b, err := first.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, b.Round)

	late, err := cluster.DialWorker(ctx, url, cluster.Hello{Name: "late", Variables: w.Variables()})
	require.NoError(t, err)
	defer late.Close()

	recvCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err = late.Recv(recvCtx)
	assert.ErrorIs(t, err, cluster.ErrClosed)

	require.NoError(t, first.Send(ctx, cluster.Report{
		Status: problem.StatusOptimal,
		Values: problem.Values{"x": {3}},
		Duals:  problem.Values{"x": {0}},
		Rho:    1,
	}))
	r := <-done
	require.NoError(t, r.err)
	assert.Equal(t, 3.0, r.res.Averages["x"][0])
}

func mustBuild(t *testing.T, spec problem.Spec) problem.Problem {
	t.Helper()
	p, err := spec.Build()
	require.NoError(t, err)
	return p
}

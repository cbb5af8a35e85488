package coordinator

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/consensus/internal/cluster"
	"github.com/dreamware/consensus/internal/problem"
)

func TestRoundMonitorPending(t *testing.T) {
	mon := NewRoundMonitor(3)
	assert.Equal(t, []int{0, 1, 2}, mon.Pending(), "every worker is pending before the first round")
	assert.Empty(t, NewRoundMonitor(0).Pending())

	mon.BeginRound(0)
	mon.Record(1, 0, cluster.Report{Status: problem.StatusOptimal, Rho: 2})
	assert.Equal(t, []int{0, 2}, mon.Pending())

	mon.Record(0, 0, cluster.Report{Status: problem.StatusOptimal, Rho: 1})
	mon.Record(2, 0, cluster.Report{Status: problem.StatusInfeasible})
	assert.Empty(t, mon.Pending())

	mon.BeginRound(1)
	assert.Equal(t, []int{0, 1, 2}, mon.Pending(), "a new round resets the barrier")

	mon.Record(9, 1, cluster.Report{})
	mon.Record(-1, 1, cluster.Report{})
	assert.Len(t, mon.Pending(), 3)
}

func TestRoundMonitorProgress(t *testing.T) {
	mon := NewRoundMonitor(2)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mon.now = func() time.Time { return now }

	assert.Nil(t, mon.Get(2))
	p := mon.Get(0)
	require.NotNil(t, p)
	assert.Equal(t, -1, p.Round)

	mon.BeginRound(0)
	now = now.Add(3 * time.Second)
	mon.Record(0, 0, cluster.Report{Status: problem.StatusOptimal, Rho: 1.5})

	p = mon.Get(0)
	assert.Equal(t, 0, p.Round)
	assert.Equal(t, 1, p.Reports)
	assert.Equal(t, problem.StatusOptimal, p.Status)
	assert.Equal(t, 1.5, p.Rho)
	assert.Equal(t, now, p.LastReport)
	assert.Equal(t, 3*time.Second, mon.RoundElapsed())

	p.Rho = 99
	assert.Equal(t, 1.5, mon.Get(0).Rho, "Get returns a copy")

	all := mon.All()
	require.Len(t, all, 2)
	assert.Equal(t, 1, all[1].Worker)
	assert.Equal(t, 0, all[1].Reports)
}

func TestRoundMonitorRhoRange(t *testing.T) {
	mon := NewRoundMonitor(3)
	lo, hi := mon.RhoRange()
	assert.Zero(t, lo)
	assert.Zero(t, hi)

	mon.BeginRound(0)
	mon.Record(0, 0, cluster.Report{Rho: 2})
	mon.Record(1, 0, cluster.Report{Rho: 0.5})
	mon.Record(2, 0, cluster.Report{})

	lo, hi = mon.RhoRange()
	assert.Equal(t, 0.5, lo)
	assert.Equal(t, 2.0, hi)
}

func TestRoundMonitorConcurrent(t *testing.T) {
	mon := NewRoundMonitor(20)
	mon.BeginRound(4)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			mon.Record(i, 4, cluster.Report{Status: problem.StatusOptimal, Rho: float64(i + 1)})
			_ = mon.Pending()
			_, _ = mon.RhoRange()
		}(i)
	}
	wg.Wait()

	assert.Empty(t, mon.Pending())
	lo, hi := mon.RhoRange()
	assert.Equal(t, 1.0, lo)
	assert.Equal(t, 20.0, hi)
}

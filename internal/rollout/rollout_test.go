package rollout

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"nlo/internal/config"
	"nlo/internal/opserr"
	"nlo/internal/workload"

	"github.com/juju/clock"
	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fleet is a Controller whose services turn healthy a fixed clock duration
// after being recreated, or never when absent from healthyAfter.
type fleet struct {
	clock        clock.Clock
	services     []string
	healthyAfter map[string]time.Duration
	noHealth     map[string]bool
	probeErrors  map[string]int

	mu         sync.Mutex
	tags       map[string]string
	recreated  map[string]time.Time
	recreates  []string
	healthTags map[string]string
}

func newFleet(c clock.Clock, services ...string) *fleet {
	return &fleet{
		clock:        c,
		services:     services,
		healthyAfter: map[string]time.Duration{},
		noHealth:     map[string]bool{},
		probeErrors:  map[string]int{},
		tags:         map[string]string{},
		recreated:    map[string]time.Time{},
		healthTags:   map[string]string{},
	}
}

func (f *fleet) Services(context.Context, config.Env) ([]string, error) {
	return f.services, nil
}

func (f *fleet) Recreate(_ context.Context, svc string, env config.Env) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tags[svc] = env.Get("NODE_IMAGE")
	f.recreated[svc] = f.clock.Now()
	f.recreates = append(f.recreates, svc)
	return nil
}

func (f *fleet) Health(_ context.Context, svc string, env config.Env) (workload.Health, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.healthTags[svc] = env.Get("NODE_IMAGE")
	if f.probeErrors[svc] > 0 {
		f.probeErrors[svc]--
		return workload.HealthUnknown, assert.AnError
	}
	if f.noHealth[svc] {
		return workload.HealthNone, nil
	}
	after, ok := f.healthyAfter[svc]
	if ok && f.clock.Now().Sub(f.recreated[svc]) >= after {
		return workload.HealthHealthy, nil
	}
	return workload.HealthStarting, nil
}

func (f *fleet) Up(context.Context, config.Env) error   { return nil }
func (f *fleet) Down(context.Context, config.Env) error { return nil }

func basePlan() Plan {
	return Plan{
		FromTag:        "v1",
		ToTag:          "v2",
		ImageEnvVar:    "NODE_IMAGE",
		RequireHealthy: true,
		WaitBetween:    5 * time.Second,
		HealthTimeout:  5 * time.Second,
		PollInterval:   1500 * time.Millisecond,
	}
}

func TestRunStopsAtUnhealthyService(t *testing.T) {
	clk := testclock.NewDilatedWallClock(time.Millisecond)
	f := newFleet(clk, "boot", "validator-a", "validator-b", "validator-c")
	f.healthyAfter["boot"] = 2 * time.Second
	f.healthyAfter["validator-a"] = time.Second

	plan := basePlan()
	plan.Services = []string{"boot", "validator-a", "validator-b", "validator-c"}

	seq := &Sequencer{Controller: f, Clock: clk}
	upgraded, err := seq.Run(context.Background(), plan, config.NewEnv(map[string]string{"NODE_IMAGE": "v1"}))

	var healthErr *opserr.HealthTimeoutError
	require.ErrorAs(t, err, &healthErr)
	assert.Equal(t, "validator-b", healthErr.Service)
	assert.ErrorIs(t, err, opserr.ErrTimeout)

	var partial *opserr.PartialUpgradeError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, []string{"boot", "validator-a"}, partial.Upgraded)
	assert.Equal(t, []string{"validator-c"}, partial.Remaining)

	assert.Equal(t, []string{"boot", "validator-a"}, upgraded)
	assert.Equal(t, map[string]string{"boot": "v2", "validator-a": "v2", "validator-b": "v2"}, f.tags)
	assert.Equal(t, []string{"boot", "validator-a", "validator-b"}, f.recreates)
}

func TestRunDiscoversAndFilters(t *testing.T) {
	clk := testclock.NewDilatedWallClock(time.Millisecond)
	f := newFleet(clk, "boot", "validator-a", "validator-b", "indexer")
	f.noHealth["boot"] = true
	f.healthyAfter["validator-a"] = 0
	f.healthyAfter["validator-b"] = 0
	f.probeErrors["validator-b"] = 2

	plan := basePlan()
	plan.Exclude = regexp.MustCompile(`^indexer$`)

	upgraded, err := (&Sequencer{Controller: f, Clock: clk}).Run(context.Background(), plan, config.NewEnv(nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"boot", "validator-a", "validator-b"}, upgraded)
	assert.Equal(t, "v2", f.healthTags["validator-b"])

	plan.Include = regexp.MustCompile(`^validator-`)
	f.recreates = nil
	upgraded, err = (&Sequencer{Controller: f, Clock: clk}).Run(context.Background(), plan, config.NewEnv(nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"validator-a", "validator-b"}, upgraded)
}

func TestRunNoServices(t *testing.T) {
	f := newFleet(clock.WallClock)
	_, err := New(f).Run(context.Background(), basePlan(), config.NewEnv(nil))
	assert.ErrorIs(t, err, opserr.ErrPrecondition)
}

func TestRunWithoutHealthGate(t *testing.T) {
	clk := testclock.NewDilatedWallClock(time.Millisecond)
	f := newFleet(clk, "boot", "validator-a")

	plan := basePlan()
	plan.RequireHealthy = false

	start := clk.Now()
	upgraded, err := (&Sequencer{Controller: f, Clock: clk}).Run(context.Background(), plan, config.NewEnv(nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"boot", "validator-a"}, upgraded)
	assert.Empty(t, f.healthTags)
	assert.GreaterOrEqual(t, clk.Now().Sub(start), 10*time.Second)
}

func TestRunCancelled(t *testing.T) {
	f := newFleet(clock.WallClock, "boot")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	plan := basePlan()
	plan.HealthTimeout = time.Hour
	_, err := New(f).Run(ctx, plan, config.NewEnv(nil))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTagsFromEnv(t *testing.T) {
	from, to, err := TagsFromEnv(config.NewEnv(map[string]string{EnvFromTag: "v1", EnvToTag: "v2"}))
	require.NoError(t, err)
	assert.Equal(t, "v1", from)
	assert.Equal(t, "v2", to)

	_, _, err = TagsFromEnv(config.NewEnv(map[string]string{EnvFromTag: "v1"}))
	assert.ErrorIs(t, err, opserr.ErrPrecondition)
	_, _, err = TagsFromEnv(config.NewEnv(nil))
	assert.ErrorIs(t, err, opserr.ErrPrecondition)
}

// Package rollout swaps the image tag of a fleet one service at a time,
// gating each step on the service's health.
package rollout

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"nlo/internal/config"
	"nlo/internal/opserr"
	"nlo/internal/workload"

	"github.com/juju/clock"
)

const (
	EnvFromTag = "NODE_IMAGE"
	EnvToTag   = "NEW_NODE_IMAGE"

	defaultPollInterval = 1500 * time.Millisecond
)

type Plan struct {
	// Services is the upgrade order; empty means every service of the fleet.
	Services []string
	Include  *regexp.Regexp
	Exclude  *regexp.Regexp

	FromTag     string
	ToTag       string
	ImageEnvVar string

	RequireHealthy bool
	WaitBetween    time.Duration
	HealthTimeout  time.Duration
	PollInterval   time.Duration
}

// TagsFromEnv reads the current and target image tags.
func TagsFromEnv(env config.Env) (from, to string, err error) {
	from = env.Get(EnvFromTag)
	if from == "" {
		return "", "", opserr.Precondition("%s is required; pass a flag or set the env var", EnvFromTag)
	}
	to = env.Get(EnvToTag)
	if to == "" {
		return "", "", opserr.Precondition("%s is required; pass a flag or set the env var", EnvToTag)
	}
	return from, to, nil
}

type Sequencer struct {
	Controller workload.Controller
	Clock      clock.Clock
}

func New(controller workload.Controller) *Sequencer {
	return &Sequencer{Controller: controller, Clock: clock.WallClock}
}

// Run upgrades the services in order and returns the ones now on the new
// tag. A health timeout stops the rollout; upgraded services are not
// rolled back.
func (s *Sequencer) Run(ctx context.Context, plan Plan, env config.Env) ([]string, error) {
	base := env.With(plan.ImageEnvVar, plan.FromTag)

	services, err := s.resolveServices(ctx, plan, base)
	if err != nil {
		return nil, err
	}

	slog.Info("Rolling services", "from", plan.FromTag, "to", plan.ToTag, "var", plan.ImageEnvVar, "order", services)

	upgraded := make([]string, 0, len(services))
	for i, svc := range services {
		slog.Info("Upgrading service", "service", svc)
		svcEnv := base.With(plan.ImageEnvVar, plan.ToTag)

		if err := s.Controller.Recreate(ctx, svc, svcEnv); err != nil {
			return upgraded, &opserr.PartialUpgradeError{
				Failed: svc, Upgraded: upgraded, Remaining: services[i+1:], Err: err,
			}
		}

		if plan.RequireHealthy {
			if err := s.waitHealthy(ctx, svc, svcEnv, plan); err != nil {
				return upgraded, &opserr.PartialUpgradeError{
					Failed: svc, Upgraded: upgraded, Remaining: services[i+1:], Err: err,
				}
			}
		} else if plan.WaitBetween > 0 {
			if err := s.sleep(ctx, plan.WaitBetween); err != nil {
				return upgraded, err
			}
		}

		upgraded = append(upgraded, svc)
		slog.Info("Service upgraded", "service", svc, "tag", plan.ToTag)
	}

	slog.Info("Rollout complete", "tag", plan.ToTag, "services", len(upgraded))
	return upgraded, nil
}

func (s *Sequencer) resolveServices(ctx context.Context, plan Plan, env config.Env) ([]string, error) {
	services := plan.Services
	if len(services) == 0 {
		discovered, err := s.Controller.Services(ctx, env)
		if err != nil {
			return nil, err
		}
		services = discovered
	}

	filtered := make([]string, 0, len(services))
	for _, svc := range services {
		if plan.Include != nil && !plan.Include.MatchString(svc) {
			continue
		}
		if plan.Exclude != nil && plan.Exclude.MatchString(svc) {
			continue
		}
		filtered = append(filtered, svc)
	}
	if len(filtered) == 0 {
		return nil, opserr.Precondition("no services to roll out; pass --services or check the network file")
	}
	return filtered, nil
}

// waitHealthy polls until the service reports healthy. Services without a
// health check pass immediately. Probe errors count as not yet healthy.
func (s *Sequencer) waitHealthy(ctx context.Context, svc string, env config.Env, plan Plan) error {
	slog.Info("Waiting for service health", "service", svc, "timeout", plan.HealthTimeout)
	interval := plan.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	deadline := s.Clock.Now().Add(plan.HealthTimeout)
	last := string(workload.HealthUnknown)

	for {
		h, err := s.Controller.Health(ctx, svc, env)
		switch {
		case err != nil:
			slog.Debug("Health probe failed", "service", svc, "error", err)
			last = fmt.Sprintf("probe error: %v", err)
		case h == workload.HealthHealthy:
			return nil
		case h == workload.HealthNone:
			slog.Info("Service has no health check, treating as healthy", "service", svc)
			return nil
		default:
			last = string(h)
		}

		if !s.Clock.Now().Before(deadline) {
			return &opserr.HealthTimeoutError{Service: svc, Timeout: plan.HealthTimeout, LastStatus: last}
		}
		if err := s.sleep(ctx, interval); err != nil {
			return err
		}
	}
}

func (s *Sequencer) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.Clock.After(d):
		return nil
	}
}

package workload

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"nlo/internal/config"
	"nlo/internal/execx"
)

const healthFormat = "{{if .State.Health}}{{.State.Health.Status}}{{else}}NOHEALTH{{end}}"

// Compose runs docker compose against a single network file.
type Compose struct {
	Runner   execx.Runner
	File     string
	Profiles []string
}

func (c *Compose) cmd(env config.Env, args ...string) execx.Cmd {
	if len(c.Profiles) > 0 {
		env = env.With("COMPOSE_PROFILES", strings.Join(c.Profiles, ","))
	}
	return execx.Cmd{
		Name: "docker",
		Args: append([]string{"compose", "-f", c.File}, args...),
		Env:  env.Environ(),
	}
}

func (c *Compose) Services(ctx context.Context, env config.Env) ([]string, error) {
	out, err := c.Runner.Run(ctx, c.cmd(env, "config", "--services"))
	if err != nil {
		return nil, fmt.Errorf("failed to list services of %s: %w", c.File, err)
	}
	return lines(out), nil
}

func (c *Compose) Recreate(ctx context.Context, service string, env config.Env) error {
	slog.Info("Recreating service", "service", service)
	if _, err := c.Runner.Run(ctx, c.cmd(env, "up", "-d", "--no-deps", service)); err != nil {
		return fmt.Errorf("failed to recreate service %s: %w", service, err)
	}
	return nil
}

// Health folds the status of every container of a service. No containers
// yet reads as starting; a failed inspect reads as unknown.
func (c *Compose) Health(ctx context.Context, service string, env config.Env) (Health, error) {
	out, err := c.Runner.Run(ctx, c.cmd(env, "ps", "--format", "{{.Name}}", service))
	if err != nil {
		return HealthUnknown, fmt.Errorf("failed to list containers of %s: %w", service, err)
	}
	names := lines(out)
	if len(names) == 0 {
		return HealthStarting, nil
	}

	result := HealthNone
	for _, name := range names {
		status, err := c.containerHealth(ctx, name, env)
		if err != nil {
			slog.Debug("Health probe failed", "container", name, "error", err)
			return HealthUnknown, nil
		}
		switch status {
		case HealthNone:
		case HealthHealthy:
			result = HealthHealthy
		default:
			return status, nil
		}
	}
	return result, nil
}

func (c *Compose) containerHealth(ctx context.Context, container string, env config.Env) (Health, error) {
	out, err := c.Runner.Run(ctx, execx.Cmd{
		Name: "docker",
		Args: []string{"inspect", "--format", healthFormat, container},
		Env:  env.Environ(),
	})
	if err != nil {
		return HealthUnknown, err
	}
	switch s := strings.TrimSpace(string(out)); s {
	case "NOHEALTH":
		return HealthNone, nil
	case "healthy", "starting", "unhealthy":
		return Health(s), nil
	default:
		return HealthUnknown, nil
	}
}

func (c *Compose) Up(ctx context.Context, env config.Env) error {
	slog.Info("Starting network", "file", c.File, "profiles", c.Profiles)
	if _, err := c.Runner.Run(ctx, c.cmd(env, "up", "-d")); err != nil {
		return fmt.Errorf("failed to start network %s: %w", c.File, err)
	}
	return nil
}

func (c *Compose) Down(ctx context.Context, env config.Env) error {
	slog.Info("Stopping network", "file", c.File)
	if _, err := c.Runner.Run(ctx, c.cmd(env, "down")); err != nil {
		return fmt.Errorf("failed to stop network %s: %w", c.File, err)
	}
	return nil
}

func lines(out []byte) []string {
	var res []string
	for _, l := range strings.Split(string(out), "\n") {
		if l = strings.TrimSpace(l); l != "" {
			res = append(res, l)
		}
	}
	return res
}

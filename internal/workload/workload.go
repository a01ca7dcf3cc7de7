// Package workload drives the container workload controllers: docker compose
// for local fleets and Kubernetes for cluster workloads.
package workload

import (
	"context"
	"time"

	"nlo/internal/config"

	corev1 "k8s.io/api/core/v1"
)

type Health string

const (
	HealthStarting  Health = "starting"
	HealthHealthy   Health = "healthy"
	HealthUnhealthy Health = "unhealthy"
	HealthUnknown   Health = "unknown"
	// HealthNone means the service declares no health check.
	HealthNone Health = "none"
)

// Controller manages the services of one compose-style fleet.
type Controller interface {
	Services(ctx context.Context, env config.Env) ([]string, error)
	// Recreate restarts only the named service, never its dependencies.
	Recreate(ctx context.Context, service string, env config.Env) error
	Health(ctx context.Context, service string, env config.Env) (Health, error)
	Up(ctx context.Context, env config.Env) error
	Down(ctx context.Context, env config.Env) error
}

// Cluster is the namespaced Kubernetes surface used by snapshot capture.
type Cluster interface {
	Replicas(ctx context.Context, statefulSet string) (int32, error)
	Scale(ctx context.Context, statefulSet string, replicas int32) error
	WaitForDeletion(ctx context.Context, pod string, timeout time.Duration) error
	WaitForRolloutReady(ctx context.Context, statefulSet string, timeout time.Duration) error
	ListClaims(ctx context.Context) ([]string, error)
	ApplySecret(ctx context.Context, secret *corev1.Secret) error
	ApplyPod(ctx context.Context, pod *corev1.Pod) error
	PodPhase(ctx context.Context, pod string) (corev1.PodPhase, error)
	Logs(ctx context.Context, pod string) (string, error)
	DeletePod(ctx context.Context, pod string) error
	DeleteSecret(ctx context.Context, secret string) error
}

// PodExec reads from running pods.
type PodExec interface {
	ListPods(ctx context.Context, selector string) ([]string, error)
	Exec(ctx context.Context, pod string, command ...string) (string, error)
}

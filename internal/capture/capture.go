// Package capture archives the persistent volume of a Kubernetes statefulset
// to object storage by pausing the workload and running a one-shot pod
// against its claim.
package capture

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"nlo/internal/credentials"
	"nlo/internal/opserr"
	"nlo/internal/workload"

	"github.com/juju/clock"
	corev1 "k8s.io/api/core/v1"
)

//go:embed snapshot.sh
var defaultScript string

const (
	defaultPollInterval = 5 * time.Second
	podLabelName        = "midnight-node-snapshotper"
)

type Options struct {
	StatefulSet string
	// PVC overrides claim discovery when set.
	PVC            string
	Image          string
	URI            string
	ScriptFile     string
	Timeout        time.Duration
	RolloutTimeout time.Duration
	PollInterval   time.Duration
	Credentials    credentials.Credentials
}

func (o Options) PodName() string {
	return o.StatefulSet + "-snapshot"
}

func (o Options) SecretName() string {
	return o.PodName() + "-aws-credentials"
}

func (o Options) primaryPod() string {
	return o.StatefulSet + "-0"
}

type Capturer struct {
	Cluster workload.Cluster
	Clock   clock.Clock
}

func New(cluster workload.Cluster) *Capturer {
	return &Capturer{Cluster: cluster, Clock: clock.WallClock}
}

// Capture runs the snapshot pod to completion. Whatever happens after the
// credentials secret exists, the pod and secret are removed and the
// statefulset is scaled back to the replica count it had on entry.
func (c *Capturer) Capture(ctx context.Context, opts Options) error {
	if opts.URI == "" {
		return opserr.Precondition("no snapshot destination URI; pass --s3-uri or set %s", credentials.EnvSnapshotBaseURI)
	}
	if opts.StatefulSet == "" {
		return opserr.Precondition("no statefulset to snapshot")
	}
	script, err := loadScript(opts.ScriptFile)
	if err != nil {
		return err
	}

	slog.Info("Creating snapshot", "statefulset", opts.StatefulSet, "uri", opts.URI)

	replicas, err := c.Cluster.Replicas(ctx, opts.StatefulSet)
	if err != nil {
		return err
	}

	s := &session{cluster: c.Cluster, opts: opts, replicas: replicas}
	defer s.teardown(context.WithoutCancel(ctx))

	if err := c.Cluster.ApplySecret(ctx, SecretManifest(opts)); err != nil {
		return err
	}
	s.secretCreated = true

	s.scaledDown = true
	if err := c.Cluster.Scale(ctx, opts.StatefulSet, 0); err != nil {
		return err
	}

	if err := c.Cluster.WaitForDeletion(ctx, opts.primaryPod(), opts.Timeout); err != nil {
		return err
	}

	pvc := opts.PVC
	if pvc == "" {
		claims, err := c.Cluster.ListClaims(ctx)
		if err != nil {
			return err
		}
		if pvc, err = MatchClaim(claims, opts.StatefulSet); err != nil {
			return err
		}
	}

	slog.Info("Creating snapshot pod", "pod", opts.PodName(), "pvc", pvc)

	if err := c.Cluster.DeletePod(ctx, opts.PodName()); err != nil {
		return err
	}
	if err := c.Cluster.ApplyPod(ctx, PodManifest(opts, pvc, script)); err != nil {
		return err
	}
	s.podCreated = true

	if err := c.waitForCompletion(ctx, opts); err != nil {
		return err
	}

	slog.Info("Snapshot pod completed", "pod", opts.PodName())
	return nil
}

func (c *Capturer) waitForCompletion(ctx context.Context, opts Options) error {
	interval := opts.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	pod := opts.PodName()
	deadline := c.Clock.Now().Add(opts.Timeout)

	for {
		phase, err := c.Cluster.PodPhase(ctx, pod)
		switch {
		case err != nil:
			slog.Warn("Failed to read snapshot pod phase", "pod", pod, "error", err)
		case phase == corev1.PodSucceeded:
			return nil
		case phase == corev1.PodFailed:
			return &opserr.SnapshotPodFailedError{Pod: pod, Logs: c.logs(ctx, pod)}
		default:
			slog.Debug("Snapshot pod running", "pod", pod, "phase", phase)
		}

		if !c.Clock.Now().Before(deadline) {
			return &opserr.SnapshotTimeoutError{Pod: pod, Timeout: opts.Timeout, Logs: c.logs(ctx, pod)}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.Clock.After(interval):
		}
	}
}

func (c *Capturer) logs(ctx context.Context, pod string) string {
	logs, err := c.Cluster.Logs(context.WithoutCancel(ctx), pod)
	if err != nil {
		slog.Warn("Failed to fetch snapshot pod logs", "pod", pod, "error", err)
		return err.Error()
	}
	return logs
}

// MatchClaim picks the one claim whose name contains the statefulset name.
func MatchClaim(claims []string, statefulSet string) (string, error) {
	var matches []string
	for _, name := range claims {
		if strings.Contains(name, statefulSet) {
			matches = append(matches, name)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("failed to resolve PVC for %s: no matching claim; pass --pvc", statefulSet)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("failed to resolve PVC for %s: ambiguous claims %s; pass --pvc",
			statefulSet, strings.Join(matches, ", "))
	}
}

func loadScript(path string) (string, error) {
	if path == "" {
		return defaultScript, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", opserr.Precondition("snapshot script %s is not readable: %v", path, err)
	}
	return string(data), nil
}

type session struct {
	cluster  workload.Cluster
	opts     Options
	replicas int32

	secretCreated bool
	scaledDown    bool
	podCreated    bool
}

func (s *session) teardown(ctx context.Context) {
	if s.podCreated {
		if err := s.cluster.DeletePod(ctx, s.opts.PodName()); err != nil {
			slog.Warn("Failed to delete snapshot pod", "pod", s.opts.PodName(), "error", err)
		}
	}
	if s.secretCreated {
		if err := s.cluster.DeleteSecret(ctx, s.opts.SecretName()); err != nil {
			slog.Warn("Failed to delete credentials secret", "secret", s.opts.SecretName(), "error", err)
		}
	}
	if !s.scaledDown {
		return
	}

	slog.Info("Restoring statefulset replicas", "statefulset", s.opts.StatefulSet, "replicas", s.replicas)
	if err := s.cluster.Scale(ctx, s.opts.StatefulSet, s.replicas); err != nil {
		slog.Warn("Failed to restore statefulset replicas", "statefulset", s.opts.StatefulSet, "error", err)
		return
	}
	timeout := s.opts.RolloutTimeout
	if timeout <= 0 {
		timeout = s.opts.Timeout
	}
	if err := s.cluster.WaitForRolloutReady(ctx, s.opts.StatefulSet, timeout); err != nil {
		slog.Warn("Statefulset not ready after snapshot", "statefulset", s.opts.StatefulSet, "error", err)
	}
}

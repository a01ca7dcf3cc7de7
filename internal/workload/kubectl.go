package workload

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"nlo/internal/execx"

	corev1 "k8s.io/api/core/v1"
	"sigs.k8s.io/yaml"
)

// Kubectl implements Cluster and PodExec by running kubectl.
type Kubectl struct {
	Runner     execx.Runner
	Namespace  string
	Kubeconfig string
	Context    string
}

func (k *Kubectl) run(ctx context.Context, stdin []byte, args ...string) (string, error) {
	full := []string{"-n", k.Namespace}
	if k.Kubeconfig != "" {
		full = append(full, "--kubeconfig", k.Kubeconfig)
	}
	if k.Context != "" {
		full = append(full, "--context", k.Context)
	}
	cmd := execx.Cmd{Name: "kubectl", Args: append(full, args...)}
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	out, err := k.Runner.Run(ctx, cmd)
	return strings.TrimSpace(string(out)), err
}

func timeoutFlag(d time.Duration) string {
	return "--timeout=" + strconv.Itoa(int(d.Seconds())) + "s"
}

func (k *Kubectl) Replicas(ctx context.Context, name string) (int32, error) {
	out, err := k.run(ctx, nil, "get", "statefulset", name, "-o", "jsonpath={.spec.replicas}")
	if err != nil {
		return 0, fmt.Errorf("failed to get statefulset %s: %w", name, err)
	}
	if out == "" {
		return 1, nil
	}
	n, err := strconv.ParseInt(out, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("unexpected replica count %q for statefulset %s", out, name)
	}
	return int32(n), nil
}

func (k *Kubectl) Scale(ctx context.Context, name string, replicas int32) error {
	slog.Info("Scaling statefulset", "statefulset", name, "replicas", replicas)
	if _, err := k.run(ctx, nil, "scale", "statefulset", name, "--replicas="+strconv.Itoa(int(replicas))); err != nil {
		return fmt.Errorf("failed to scale statefulset %s to %d: %w", name, replicas, err)
	}
	return nil
}

func (k *Kubectl) WaitForDeletion(ctx context.Context, pod string, timeout time.Duration) error {
	if _, err := k.run(ctx, nil, "wait", "--for=delete", "pod/"+pod, timeoutFlag(timeout)); err != nil {
		if strings.Contains(err.Error(), "NotFound") || strings.Contains(err.Error(), "not found") {
			return nil
		}
		return fmt.Errorf("failed to wait for deletion of pod %s: %w", pod, err)
	}
	return nil
}

func (k *Kubectl) WaitForRolloutReady(ctx context.Context, name string, timeout time.Duration) error {
	if _, err := k.run(ctx, nil, "rollout", "status", "statefulset/"+name, timeoutFlag(timeout)); err != nil {
		return fmt.Errorf("failed to wait for rollout of statefulset %s: %w", name, err)
	}
	return nil
}

func (k *Kubectl) ListClaims(ctx context.Context) ([]string, error) {
	out, err := k.run(ctx, nil, "get", "pvc", "-o", "jsonpath={.items[*].metadata.name}")
	if err != nil {
		return nil, fmt.Errorf("failed to list persistent volume claims: %w", err)
	}
	return strings.Fields(out), nil
}

func (k *Kubectl) apply(ctx context.Context, kind, name string, obj any) error {
	manifest, err := yaml.Marshal(obj)
	if err != nil {
		return fmt.Errorf("failed to render %s %s: %w", kind, name, err)
	}
	if _, err := k.run(ctx, manifest, "apply", "-f", "-"); err != nil {
		return fmt.Errorf("failed to apply %s %s: %w", kind, name, err)
	}
	return nil
}

func (k *Kubectl) ApplySecret(ctx context.Context, secret *corev1.Secret) error {
	s := secret.DeepCopy()
	s.APIVersion, s.Kind = "v1", "Secret"
	return k.apply(ctx, "secret", s.Name, s)
}

func (k *Kubectl) ApplyPod(ctx context.Context, pod *corev1.Pod) error {
	p := pod.DeepCopy()
	p.APIVersion, p.Kind = "v1", "Pod"
	return k.apply(ctx, "pod", p.Name, p)
}

func (k *Kubectl) PodPhase(ctx context.Context, pod string) (corev1.PodPhase, error) {
	out, err := k.run(ctx, nil, "get", "pod", pod, "-o", "jsonpath={.status.phase}")
	if err != nil {
		return "", fmt.Errorf("failed to get pod %s: %w", pod, err)
	}
	return corev1.PodPhase(out), nil
}

func (k *Kubectl) Logs(ctx context.Context, pod string) (string, error) {
	out, err := k.run(ctx, nil, "logs", pod)
	if err != nil {
		return "", fmt.Errorf("failed to fetch logs of pod %s: %w", pod, err)
	}
	return out, nil
}

func (k *Kubectl) DeletePod(ctx context.Context, pod string) error {
	if _, err := k.run(ctx, nil, "delete", "pod", pod, "--ignore-not-found"); err != nil {
		return fmt.Errorf("failed to delete pod %s: %w", pod, err)
	}
	return nil
}

func (k *Kubectl) DeleteSecret(ctx context.Context, secret string) error {
	if _, err := k.run(ctx, nil, "delete", "secret", secret, "--ignore-not-found"); err != nil {
		return fmt.Errorf("failed to delete secret %s: %w", secret, err)
	}
	return nil
}

func (k *Kubectl) ListPods(ctx context.Context, selector string) ([]string, error) {
	out, err := k.run(ctx, nil, "get", "pods", "-l", selector, "-o", "jsonpath={.items[*].metadata.name}")
	if err != nil {
		return nil, fmt.Errorf("failed to list pods with selector %s: %w", selector, err)
	}
	return strings.Fields(out), nil
}

func (k *Kubectl) Exec(ctx context.Context, pod string, command ...string) (string, error) {
	out, err := k.run(ctx, nil, append([]string{"exec", pod, "--"}, command...)...)
	if err != nil {
		return "", fmt.Errorf("failed to exec in pod %s: %w", pod, err)
	}
	return out, nil
}

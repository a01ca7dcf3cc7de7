package workload

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"nlo/internal/opserr"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/tools/remotecommand"
	"k8s.io/client-go/util/retry"
)

// Kube implements Cluster and PodExec with client-go against one namespace.
type Kube struct {
	Client       kubernetes.Interface
	Namespace    string
	PollInterval time.Duration

	restConfig *rest.Config
}

// NewKube loads the kubeconfig (default loading rules when path is empty)
// and selects kubeContext when given.
func NewKube(kubeconfig, kubeContext, namespace string) (*Kube, error) {
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if kubeconfig != "" {
		rules.ExplicitPath = kubeconfig
	}
	overrides := &clientcmd.ConfigOverrides{CurrentContext: kubeContext}

	restConfig, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides).ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load kubeconfig: %w", err)
	}

	client, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}

	return &Kube{Client: client, Namespace: namespace, restConfig: restConfig}, nil
}

func (k *Kube) interval() time.Duration {
	if k.PollInterval > 0 {
		return k.PollInterval
	}
	return 2 * time.Second
}

func (k *Kube) Replicas(ctx context.Context, name string) (int32, error) {
	sts, err := k.Client.AppsV1().StatefulSets(k.Namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return 0, fmt.Errorf("failed to get statefulset %s: %w", name, err)
	}
	if sts.Spec.Replicas == nil {
		return 1, nil
	}
	return *sts.Spec.Replicas, nil
}

func (k *Kube) Scale(ctx context.Context, name string, replicas int32) error {
	slog.Info("Scaling statefulset", "statefulset", name, "replicas", replicas)
	err := retry.RetryOnConflict(retry.DefaultRetry, func() error {
		sts, err := k.Client.AppsV1().StatefulSets(k.Namespace).Get(ctx, name, metav1.GetOptions{})
		if err != nil {
			return err
		}
		sts.Spec.Replicas = &replicas
		_, err = k.Client.AppsV1().StatefulSets(k.Namespace).Update(ctx, sts, metav1.UpdateOptions{})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to scale statefulset %s to %d: %w", name, replicas, err)
	}
	return nil
}

func (k *Kube) WaitForDeletion(ctx context.Context, pod string, timeout time.Duration) error {
	slog.Info("Waiting for pod deletion", "pod", pod, "timeout", timeout)
	err := wait.PollUntilContextTimeout(ctx, k.interval(), timeout, true, func(ctx context.Context) (bool, error) {
		_, err := k.Client.CoreV1().Pods(k.Namespace).Get(ctx, pod, metav1.GetOptions{})
		if apierrors.IsNotFound(err) {
			return true, nil
		}
		return false, err
	})
	if err != nil {
		if wait.Interrupted(err) {
			return &opserr.TimeoutError{Operation: "deletion of pod " + pod, Timeout: timeout}
		}
		return fmt.Errorf("failed to wait for deletion of pod %s: %w", pod, err)
	}
	return nil
}

func (k *Kube) WaitForRolloutReady(ctx context.Context, name string, timeout time.Duration) error {
	slog.Info("Waiting for statefulset rollout", "statefulset", name, "timeout", timeout)
	err := wait.PollUntilContextTimeout(ctx, k.interval(), timeout, true, func(ctx context.Context) (bool, error) {
		sts, err := k.Client.AppsV1().StatefulSets(k.Namespace).Get(ctx, name, metav1.GetOptions{})
		if err != nil {
			return false, err
		}
		want := int32(1)
		if sts.Spec.Replicas != nil {
			want = *sts.Spec.Replicas
		}
		return sts.Status.ObservedGeneration >= sts.Generation && sts.Status.ReadyReplicas >= want, nil
	})
	if err != nil {
		if wait.Interrupted(err) {
			return &opserr.TimeoutError{Operation: "rollout of statefulset " + name, Timeout: timeout}
		}
		return fmt.Errorf("failed to wait for rollout of statefulset %s: %w", name, err)
	}
	return nil
}

func (k *Kube) ListClaims(ctx context.Context) ([]string, error) {
	list, err := k.Client.CoreV1().PersistentVolumeClaims(k.Namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list persistent volume claims: %w", err)
	}
	names := make([]string, 0, len(list.Items))
	for _, pvc := range list.Items {
		names = append(names, pvc.Name)
	}
	return names, nil
}

func (k *Kube) ApplySecret(ctx context.Context, secret *corev1.Secret) error {
	secrets := k.Client.CoreV1().Secrets(k.Namespace)
	_, err := secrets.Create(ctx, secret, metav1.CreateOptions{})
	if apierrors.IsAlreadyExists(err) {
		_, err = secrets.Update(ctx, secret, metav1.UpdateOptions{})
	}
	if err != nil {
		return fmt.Errorf("failed to apply secret %s: %w", secret.Name, err)
	}
	return nil
}

func (k *Kube) ApplyPod(ctx context.Context, pod *corev1.Pod) error {
	if _, err := k.Client.CoreV1().Pods(k.Namespace).Create(ctx, pod, metav1.CreateOptions{}); err != nil {
		return fmt.Errorf("failed to create pod %s: %w", pod.Name, err)
	}
	return nil
}

func (k *Kube) PodPhase(ctx context.Context, pod string) (corev1.PodPhase, error) {
	p, err := k.Client.CoreV1().Pods(k.Namespace).Get(ctx, pod, metav1.GetOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to get pod %s: %w", pod, err)
	}
	return p.Status.Phase, nil
}

func (k *Kube) Logs(ctx context.Context, pod string) (string, error) {
	raw, err := k.Client.CoreV1().Pods(k.Namespace).GetLogs(pod, &corev1.PodLogOptions{}).DoRaw(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to fetch logs of pod %s: %w", pod, err)
	}
	return string(raw), nil
}

func (k *Kube) DeletePod(ctx context.Context, pod string) error {
	err := k.Client.CoreV1().Pods(k.Namespace).Delete(ctx, pod, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("failed to delete pod %s: %w", pod, err)
	}
	return nil
}

func (k *Kube) DeleteSecret(ctx context.Context, secret string) error {
	err := k.Client.CoreV1().Secrets(k.Namespace).Delete(ctx, secret, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("failed to delete secret %s: %w", secret, err)
	}
	return nil
}

func (k *Kube) ListPods(ctx context.Context, selector string) ([]string, error) {
	list, err := k.Client.CoreV1().Pods(k.Namespace).List(ctx, metav1.ListOptions{LabelSelector: selector})
	if err != nil {
		return nil, fmt.Errorf("failed to list pods with selector %s: %w", selector, err)
	}
	names := make([]string, 0, len(list.Items))
	for _, p := range list.Items {
		names = append(names, p.Name)
	}
	return names, nil
}

func (k *Kube) Exec(ctx context.Context, pod string, command ...string) (string, error) {
	if k.restConfig == nil {
		return "", fmt.Errorf("exec into pod %s requires a kubeconfig-backed client", pod)
	}

	req := k.Client.CoreV1().RESTClient().Post().
		Resource("pods").
		Namespace(k.Namespace).
		Name(pod).
		SubResource("exec").
		VersionedParams(&corev1.PodExecOptions{
			Command: command,
			Stdout:  true,
			Stderr:  true,
		}, scheme.ParameterCodec)

	executor, err := remotecommand.NewSPDYExecutor(k.restConfig, "POST", req.URL())
	if err != nil {
		return "", fmt.Errorf("failed to create executor for pod %s: %w", pod, err)
	}

	var stdout, stderr bytes.Buffer
	if err := executor.StreamWithContext(ctx, remotecommand.StreamOptions{Stdout: &stdout, Stderr: &stderr}); err != nil {
		return "", &opserr.ExternalProcessError{Command: "exec", Args: append([]string{pod, "--"}, command...), ExitCode: -1, Stderr: stderr.String(), Err: err}
	}
	return stdout.String(), nil
}

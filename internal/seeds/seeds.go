// Package seeds reads node seed phrases out of running authority pods so a
// local fleet can reuse the keys of a cluster deployment.
package seeds

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"nlo/internal/workload"
)

// Pod environment variables read from each authority pod. The *_FILE
// variables point at files inside the pod holding the actual seed.
var podFields = []string{"SEED_PHRASE", "AURA_SEED_FILE", "GRANDPA_SEED_FILE", "CROSS_CHAIN_SEED_FILE"}

var fileSuffixes = map[string]string{
	"AURA_SEED_FILE":        "_AURA_SEED",
	"GRANDPA_SEED_FILE":     "_GRANDPA_SEED",
	"CROSS_CHAIN_SEED_FILE": "_CROSS_CHAIN_SEED",
}

// EnvPrefix turns a pod name into the prefix of its seed variables.
func EnvPrefix(pod string) string {
	return strings.ToUpper(strings.ReplaceAll(pod, "-", "_"))
}

// FromCluster lists the pods matching selector and returns their seeds as
// environment entries. A seed file that cannot be read is skipped with a
// warning.
func FromCluster(ctx context.Context, pods workload.PodExec, selector string) (map[string]string, error) {
	names, err := pods.ListPods(ctx, selector)
	if err != nil {
		return nil, err
	}
	slog.Info("Reading seeds from cluster", "selector", selector, "pods", len(names))

	env := make(map[string]string)
	for _, pod := range names {
		values, err := readFields(ctx, pods, pod)
		if err != nil {
			return nil, err
		}
		prefix := EnvPrefix(pod)

		if seed := values["SEED_PHRASE"]; seed != "" {
			env[prefix+"_SEED"] = seed
		}
		for field, suffix := range fileSuffixes {
			path := values[field]
			if path == "" {
				continue
			}
			seed, err := pods.Exec(ctx, pod, "cat", path)
			if err != nil {
				slog.Warn("Failed to read seed file", "pod", pod, "file", path, "error", err)
				continue
			}
			if seed = strings.TrimSpace(seed); seed != "" {
				env[prefix+suffix] = seed
			}
		}
	}
	return env, nil
}

func readFields(ctx context.Context, pods workload.PodExec, pod string) (map[string]string, error) {
	exprs := make([]string, len(podFields))
	for i, f := range podFields {
		exprs[i] = "$" + f
	}
	out, err := pods.Exec(ctx, pod, "sh", "-c", fmt.Sprintf(`echo "%s"`, strings.Join(exprs, "|")))
	if err != nil {
		return nil, fmt.Errorf("failed to read seed variables from pod %s: %w", pod, err)
	}

	values := make(map[string]string, len(podFields))
	out = strings.TrimSpace(out)
	if out == "" {
		slog.Warn("Pod returned no seed variables", "pod", pod)
		return values, nil
	}
	parts := strings.Split(out, "|")
	for i, f := range podFields {
		if i < len(parts) {
			values[f] = strings.TrimSpace(parts[i])
		}
	}
	return values, nil
}

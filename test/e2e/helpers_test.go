//go:build e2e

package e2e

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	fromImage = "nginx:1.27-alpine"
	toImage   = "nginx:1.28-alpine"
)

// Services carry a health check so the rolling upgrade has something to gate on.
const networkFile = `
services:
  boot:
    image: ${NODE_IMAGE}
    volumes:
      - ./data/node-1:/node
    healthcheck:
      test: ["CMD", "wget", "-q", "-O", "/dev/null", "http://127.0.0.1/"]
      interval: 1s
      retries: 30
  validator-a:
    image: ${NODE_IMAGE}
    volumes:
      - ./data/node-2:/node
    healthcheck:
      test: ["CMD", "wget", "-q", "-O", "/dev/null", "http://127.0.0.1/"]
      interval: 1s
      retries: 30
`

type harness struct {
	bin  string
	root string
	ns   string
	cfg  string
}

func requireDocker(t *testing.T) {
	t.Helper()
	if err := exec.Command("docker", "compose", "version").Run(); err != nil {
		t.Skip("docker compose not available")
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	requireDocker(t)

	root := t.TempDir()
	bin := filepath.Join(root, "nlo")
	build := exec.Command("go", "build", "-o", bin, "../../cmd/nlo")
	out, err := build.CombinedOutput()
	require.NoError(t, err, "failed to build nlo: %s", out)

	ns := "e2e-" + time.Now().Format("150405")
	dir := filepath.Join(root, "networks", ns)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "data", "node-1"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "data", "node-2"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ns+".network.yaml"), []byte(networkFile), 0o644))

	chainSpecs := filepath.Join(root, "chain-specs", ns)
	require.NoError(t, os.MkdirAll(chainSpecs, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(chainSpecs, "chain-spec-raw.json"), []byte(`{"id":"e2e_chain"}`), 0o644))

	cfg := filepath.Join(root, "nlo_config.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte(`
networks_dir: `+filepath.Join(root, "networks")+`
chain_spec_dir: `+filepath.Join(root, "chain-specs")+`
log_dir: `+filepath.Join(root, "logs")+`
image_upgrade:
  wait_between: 1s
  health_timeout: 90s
`), 0o644))

	h := &harness{bin: bin, root: root, ns: ns, cfg: cfg}
	t.Cleanup(func() {
		_, _ = h.run(context.Background(), []string{"NODE_IMAGE=" + fromImage}, "stop", ns)
	})
	return h
}

func (h *harness) run(ctx context.Context, env []string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	full := append([]string{args[0], "--config", h.cfg}, args[1:]...)
	cmd := exec.CommandContext(ctx, h.bin, full...)
	cmd.Env = append(os.Environ(), env...)
	out, err := cmd.CombinedOutput()
	return strings.TrimSpace(string(out)), err
}

func (h *harness) mustRun(t *testing.T, env []string, args ...string) string {
	t.Helper()
	out, err := h.run(context.Background(), env, args...)
	require.NoError(t, err, "nlo %s failed: %s", strings.Join(args, " "), out)
	return out
}

// serviceImage reads the image of the running container of a compose service.
func (h *harness) serviceImage(t *testing.T, service string) string {
	t.Helper()
	file := filepath.Join(h.root, "networks", h.ns, h.ns+".network.yaml")
	id, err := exec.Command("docker", "compose", "-f", file, "ps", "-q", service).Output()
	require.NoError(t, err)
	out, err := exec.Command("docker", "inspect", "-f", "{{.Config.Image}}", strings.TrimSpace(string(id))).Output()
	require.NoError(t, err)
	return strings.TrimSpace(string(out))
}

package workload

import (
	"context"
	"io"
	"testing"
	"time"

	"nlo/internal/execx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

type stdinRunner struct {
	cmds   []execx.Cmd
	stdins []string
	out    string
}

func (r *stdinRunner) Run(_ context.Context, c execx.Cmd) ([]byte, error) {
	r.cmds = append(r.cmds, c)
	in := ""
	if c.Stdin != nil {
		data, _ := io.ReadAll(c.Stdin)
		in = string(data)
	}
	r.stdins = append(r.stdins, in)
	return []byte(r.out), nil
}

func TestKubectlCommands(t *testing.T) {
	r := &stdinRunner{out: "3\n"}
	k := &Kubectl{Runner: r, Namespace: ns, Context: "staging"}
	ctx := context.Background()

	replicas, err := k.Replicas(ctx, "boot-01")
	require.NoError(t, err)
	assert.Equal(t, int32(3), replicas)
	assert.Equal(t, []string{"-n", ns, "--context", "staging", "get", "statefulset", "boot-01", "-o", "jsonpath={.spec.replicas}"}, r.cmds[0].Args)

	require.NoError(t, k.Scale(ctx, "boot-01", 0))
	assert.Equal(t, "--replicas=0", r.cmds[1].Args[len(r.cmds[1].Args)-1])

	require.NoError(t, k.WaitForRolloutReady(ctx, "boot-01", 90*time.Second))
	assert.Contains(t, r.cmds[2].Args, "--timeout=90s")

	pod := &corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "boot-01-snapshot"}}
	require.NoError(t, k.ApplyPod(ctx, pod))
	assert.Contains(t, r.stdins[3], "kind: Pod")
	assert.Contains(t, r.stdins[3], "name: boot-01-snapshot")
	assert.Empty(t, pod.Kind)
}

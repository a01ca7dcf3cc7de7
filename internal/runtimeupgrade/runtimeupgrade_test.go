package runtimeupgrade

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"nlo/internal/chain"
	"nlo/internal/config"
	"nlo/internal/opserr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNode struct {
	height   uint64
	heads    []uint64
	statuses []chain.Status
	events   map[string][]chain.Event

	mu sync.Mutex
	// last head delivered before submission
	submittedAt uint64
	delivered   uint64
	submitted   []byte
	sudoURI     string
	closed      bool
}

func (f *fakeNode) CurrentHeight(context.Context) (uint64, error) {
	return f.height, nil
}

func (f *fakeNode) SubscribeHeads(context.Context) (*chain.Subscription[chain.Header], error) {
	values := make(chan chain.Header)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, h := range f.heads {
			select {
			case values <- chain.Header{Number: h}:
				f.mu.Lock()
				f.delivered = h
				f.mu.Unlock()
			case <-stop:
				return
			}
		}
	}()
	return chain.NewSubscription(values, nil, func() {
		close(stop)
		<-done
	}), nil
}

func (f *fakeNode) SubmitSudoSetCode(_ context.Context, code []byte, sudoURI string) (*chain.Submission, error) {
	f.mu.Lock()
	f.submittedAt = f.delivered
	f.submitted = code
	f.sudoURI = sudoURI
	f.mu.Unlock()

	values := make(chan chain.Status, len(f.statuses))
	for _, st := range f.statuses {
		values <- st
	}
	close(values)
	return &chain.Submission{Statuses: chain.NewSubscription(values, nil, nil), Extrinsic: "0xabcd"}, nil
}

func (f *fakeNode) ExtrinsicEvents(_ context.Context, blockHash, extrinsic string) ([]chain.Event, error) {
	return f.events[blockHash], nil
}

func (f *fakeNode) Close() error {
	f.closed = true
	return nil
}

func writeWasm(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "runtime.wasm")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func upgraderFor(node *fakeNode) *Upgrader {
	return &Upgrader{Dial: func(context.Context, string) (Node, error) { return node, nil }}
}

var finalizedStatuses = []chain.Status{
	{State: chain.StatusReady},
	{State: chain.StatusInBlock, BlockHash: "0xb1"},
	{State: chain.StatusFinalized, BlockHash: "0xb1"},
}

func TestRunWaitsForTargetHeight(t *testing.T) {
	node := &fakeNode{
		height:   100,
		heads:    []uint64{101, 115, 129, 130, 131},
		statuses: finalizedStatuses,
		events: map[string][]chain.Event{
			"0xb1": {{Pallet: "System", Name: "CodeUpdated"}, {Pallet: "Sudo", Name: "Sudid"}},
		},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	block, err := upgraderFor(node).Run(ctx, Options{
		WasmPath:    writeWasm(t, []byte{0x00, 0x61, 0x73, 0x6d}),
		SudoURI:     "//Alice",
		DelayBlocks: 30,
		SkipRun:     true,
	})
	require.NoError(t, err)
	assert.Equal(t, "0xb1", block)
	assert.Equal(t, uint64(130), node.submittedAt)
	assert.Equal(t, []byte{0x00, 0x61, 0x73, 0x6d}, node.submitted)
	assert.True(t, node.closed)
}

func TestRunNotConfirmedWithoutCodeUpdated(t *testing.T) {
	node := &fakeNode{
		height:   100,
		heads:    []uint64{130},
		statuses: finalizedStatuses,
		events: map[string][]chain.Event{
			"0xb1": {{Pallet: "Sudo", Name: "Sudid"}, {Pallet: "System", Name: "ExtrinsicSuccess"}},
		},
	}

	_, err := upgraderFor(node).Run(context.Background(), Options{
		WasmPath:    writeWasm(t, []byte("wasm")),
		DelayBlocks: 30,
		SkipRun:     true,
	})
	var notConfirmed *opserr.UpgradeNotConfirmedError
	require.ErrorAs(t, err, &notConfirmed)
	assert.Equal(t, "0xb1", notConfirmed.BlockHash)
}

func TestRunDispatchError(t *testing.T) {
	dispatch := &opserr.DispatchError{Module: "System", Name: "FailedToExtractRuntimeVersion"}
	node := &fakeNode{
		height:   5,
		statuses: finalizedStatuses,
		events: map[string][]chain.Event{
			"0xb1": {{Pallet: "Sudo", Name: "Sudid", Err: dispatch}},
		},
	}

	_, err := upgraderFor(node).Run(context.Background(), Options{
		WasmPath: writeWasm(t, []byte("wasm")),
		SkipRun:  true,
	})
	var got *opserr.DispatchError
	require.ErrorAs(t, err, &got)
	assert.Equal(t, "FailedToExtractRuntimeVersion", got.Name)
	assert.Zero(t, node.submittedAt)
}

func TestRunTerminalStatus(t *testing.T) {
	tests := []struct {
		state chain.StatusState
		want  string
	}{
		{state: chain.StatusDropped, want: "dropped"},
		{state: chain.StatusInvalid, want: "invalid"},
		{state: chain.StatusUsurped, want: "usurped"},
		{state: chain.StatusFinalityTimeout, want: "finalityTimeout"},
	}
	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			node := &fakeNode{statuses: []chain.Status{{State: chain.StatusReady}, {State: tt.state}}}

			_, err := upgraderFor(node).Run(context.Background(), Options{
				WasmPath: writeWasm(t, []byte("wasm")),
				SkipRun:  true,
			})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRunRetractedKeepsWaiting(t *testing.T) {
	node := &fakeNode{
		statuses: []chain.Status{
			{State: chain.StatusRetracted, BlockHash: "0xa0"},
			{State: chain.StatusFinalized, BlockHash: "0xb1"},
		},
		events: map[string][]chain.Event{"0xb1": {{Pallet: "System", Name: "CodeUpdated"}}},
	}

	block, err := upgraderFor(node).Run(context.Background(), Options{
		WasmPath: writeWasm(t, []byte("wasm")),
		SkipRun:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, "0xb1", block)
}

func TestRunBringUp(t *testing.T) {
	node := &fakeNode{
		statuses: finalizedStatuses,
		events:   map[string][]chain.Event{"0xb1": {{Pallet: "System", Name: "CodeUpdated"}}},
	}
	broughtUp := false
	u := upgraderFor(node)
	u.BringUp = func(context.Context) error {
		broughtUp = true
		return nil
	}

	_, err := u.Run(context.Background(), Options{WasmPath: writeWasm(t, []byte("wasm"))})
	require.NoError(t, err)
	assert.True(t, broughtUp)

	u.BringUp = func(context.Context) error { return assert.AnError }
	_, err = u.Run(context.Background(), Options{WasmPath: writeWasm(t, []byte("wasm"))})
	assert.ErrorIs(t, err, assert.AnError)
}

func TestRunPreconditions(t *testing.T) {
	u := &Upgrader{Dial: func(context.Context, string) (Node, error) {
		t.Fatal("must not dial")
		return nil, nil
	}}

	tests := []struct {
		name string
		opts Options
	}{
		{name: "missing wasm", opts: Options{WasmPath: filepath.Join(t.TempDir(), "none.wasm"), SkipRun: true}},
		{name: "empty wasm", opts: Options{WasmPath: writeWasm(t, nil), SkipRun: true}},
		{name: "negative delay", opts: Options{WasmPath: writeWasm(t, []byte("wasm")), DelayBlocks: -1, SkipRun: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := u.Run(context.Background(), tt.opts)
			assert.ErrorIs(t, err, opserr.ErrPrecondition)
		})
	}
}

func TestResolveSudoURI(t *testing.T) {
	cfg := &config.Config{}
	cfg.RuntimeUpgrade.SudoURI = "//Bob"
	env := config.NewEnv(map[string]string{EnvSudoURI: "//Charlie"})

	assert.Equal(t, "//Dave", ResolveSudoURI("//Dave", env, cfg))
	assert.Equal(t, "//Charlie", ResolveSudoURI("", env, cfg))
	assert.Equal(t, "//Bob", ResolveSudoURI("", config.NewEnv(nil), cfg))
	assert.Equal(t, DefaultSudoURI, ResolveSudoURI("", config.NewEnv(nil), nil))
}

func TestLoadWasmHash(t *testing.T) {
	w, err := LoadWasm(writeWasm(t, []byte("wasm")))
	require.NoError(t, err)
	assert.Len(t, w.Hash, 66)
	assert.Equal(t, "0x", w.Hash[:2])
}

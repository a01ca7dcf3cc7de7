// Package runtimeupgrade replaces the on-chain runtime through a sudo
// wrapped set_code extrinsic once the chain has advanced a set number of
// blocks.
package runtimeupgrade

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"nlo/internal/chain"
	"nlo/internal/config"
	"nlo/internal/crypto"
	"nlo/internal/opserr"
)

const (
	DefaultSudoURI = "//Alice"
	EnvSudoURI     = "SUDO_URI"
)

// Node is the chain connection an upgrade needs.
type Node interface {
	CurrentHeight(ctx context.Context) (uint64, error)
	SubscribeHeads(ctx context.Context) (*chain.Subscription[chain.Header], error)
	SubmitSudoSetCode(ctx context.Context, code []byte, sudoURI string) (*chain.Submission, error)
	ExtrinsicEvents(ctx context.Context, blockHash, extrinsic string) ([]chain.Event, error)
	Close() error
}

type Dialer func(ctx context.Context, url string) (Node, error)

type Options struct {
	WasmPath    string
	RPCURL      string
	SudoURI     string
	DelayBlocks int
	// SkipRun assumes the network is already up.
	SkipRun bool
}

type Upgrader struct {
	Dial Dialer
	// BringUp starts the network unless SkipRun is set.
	BringUp func(ctx context.Context) error
}

type Wasm struct {
	Path string
	Code []byte
	Hash string
}

func LoadWasm(path string) (*Wasm, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	code, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, opserr.Precondition("unable to find runtime wasm at %s", abs)
		}
		return nil, fmt.Errorf("failed to read runtime wasm %s: %w", abs, err)
	}
	if len(code) == 0 {
		return nil, opserr.Precondition("runtime wasm at %s is empty", abs)
	}
	return &Wasm{Path: abs, Code: code, Hash: crypto.Blake2b256(code)}, nil
}

// ResolveSudoURI picks the signer: explicit value, then SUDO_URI, then the
// configured URI, then the development key.
func ResolveSudoURI(explicit string, env config.Env, cfg *config.Config) string {
	if explicit != "" {
		return explicit
	}
	if v := env.Get(EnvSudoURI); v != "" {
		return v
	}
	if cfg != nil && cfg.RuntimeUpgrade.SudoURI != "" {
		return cfg.RuntimeUpgrade.SudoURI
	}
	return DefaultSudoURI
}

// Run submits the upgrade and returns the hash of the block in which the
// new code was confirmed. A stalled chain blocks the height wait until ctx
// is done.
func (u *Upgrader) Run(ctx context.Context, opts Options) (string, error) {
	if opts.DelayBlocks < 0 {
		return "", opserr.Precondition("delay blocks cannot be negative: %d", opts.DelayBlocks)
	}
	wasm, err := LoadWasm(opts.WasmPath)
	if err != nil {
		return "", err
	}
	slog.Info("Loaded runtime wasm", "path", wasm.Path, "bytes", len(wasm.Code), "hash", wasm.Hash)

	if opts.SkipRun {
		slog.Info("Skipping network bring-up")
	} else if u.BringUp != nil {
		slog.Info("Ensuring network is running before applying upgrade")
		if err := u.BringUp(ctx); err != nil {
			return "", fmt.Errorf("failed to bring up network: %w", err)
		}
	}

	slog.Info("Connecting to node", "url", opts.RPCURL)
	node, err := u.Dial(ctx, opts.RPCURL)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := node.Close(); err != nil {
			slog.Warn("Failed to close node connection", "error", err)
		}
	}()

	if err := waitForDelay(ctx, node, opts.DelayBlocks); err != nil {
		return "", err
	}

	slog.Info("Submitting sudo runtime upgrade extrinsic")
	sub, err := node.SubmitSudoSetCode(ctx, wasm.Code, opts.SudoURI)
	if err != nil {
		return "", err
	}

	final, err := sub.Statuses.Await(ctx, func(st chain.Status) (bool, error) {
		switch st.State {
		case chain.StatusInBlock:
			slog.Info("Upgrade included in block", "block", st.BlockHash)
			events, err := node.ExtrinsicEvents(ctx, st.BlockHash, sub.Extrinsic)
			if err != nil {
				slog.Warn("Failed to read events of inclusion block", "block", st.BlockHash, "error", err)
				return false, nil
			}
			return false, firstDispatchError(events)
		case chain.StatusFinalized:
			return true, nil
		}
		if st.State.Terminal() {
			return false, fmt.Errorf("upgrade extrinsic %s", st.State)
		}
		slog.Debug("Upgrade extrinsic status", "status", st.State)
		return false, nil
	})
	if err != nil {
		return "", fmt.Errorf("runtime upgrade failed: %w", err)
	}

	slog.Info("Upgrade finalized", "block", final.BlockHash)
	events, err := node.ExtrinsicEvents(ctx, final.BlockHash, sub.Extrinsic)
	if err != nil {
		return "", err
	}
	if err := firstDispatchError(events); err != nil {
		return "", fmt.Errorf("runtime upgrade failed: %w", err)
	}
	for _, e := range events {
		if e.Is("System", "CodeUpdated") {
			slog.Info("Runtime upgrade completed", "block", final.BlockHash)
			return final.BlockHash, nil
		}
	}
	return "", &opserr.UpgradeNotConfirmedError{BlockHash: final.BlockHash}
}

func waitForDelay(ctx context.Context, node Node, delay int) error {
	current, err := node.CurrentHeight(ctx)
	if err != nil {
		return err
	}
	if delay == 0 {
		slog.Info("No block delay requested, submitting immediately", "current", current)
		return nil
	}

	target := current + uint64(delay)
	slog.Info("Waiting for target block", "target", target, "current", current, "delay", delay)

	sub, err := node.SubscribeHeads(ctx)
	if err != nil {
		return err
	}
	h, err := sub.Await(ctx, func(h chain.Header) (bool, error) {
		return h.Number >= target, nil
	})
	if err != nil {
		return fmt.Errorf("failed waiting for block %d: %w", target, err)
	}
	slog.Info("Reached block", "block", h.Number, "target", target)
	return nil
}

func firstDispatchError(events []chain.Event) error {
	for _, e := range events {
		if e.Err != nil {
			return e.Err
		}
	}
	return nil
}

// Package network brings a namespace's fleet up and down on the local
// workload controller, optionally seeding it from a snapshot first.
package network

import (
	"context"
	"fmt"
	"log/slog"

	"nlo/internal/config"
	"nlo/internal/credentials"
	"nlo/internal/keystore"
	"nlo/internal/objstore"
	"nlo/internal/restore"
	"nlo/internal/topology"
	"nlo/internal/workload"
)

type SnapshotRestorer interface {
	Restore(ctx context.Context, req restore.Request) ([]string, error)
}

// Network is one namespace resolved to its network file.
type Network struct {
	Namespace  string
	Config     *config.Config
	Topology   *topology.File
	Controller workload.Controller
	// NewRestorer is called only when a snapshot is requested, so the
	// object-store credentials are needed only then.
	NewRestorer func(ctx context.Context, env config.Env) (SnapshotRestorer, error)
}

// Open resolves and parses the namespace's network file.
func Open(cfg *config.Config, namespace string) (*Network, error) {
	path, err := topology.Resolve(cfg.NetworksRoot(), namespace)
	if err != nil {
		return nil, err
	}
	file, err := topology.Load(path)
	if err != nil {
		return nil, err
	}
	slog.Debug("Resolved network file", "namespace", namespace, "file", path)
	return &Network{Namespace: namespace, Config: cfg, Topology: file}, nil
}

type UpOptions struct {
	// Snapshot is an object URI or an id under the snapshot base URI.
	Snapshot string
	Env      config.Env
}

// Up restores the snapshot when given, writes the keystore, then starts
// every service.
func (n *Network) Up(ctx context.Context, opts UpOptions) error {
	slog.Info("Starting network", "namespace", n.Namespace, "file", n.Topology.Path)

	if opts.Snapshot != "" {
		if err := n.Restore(ctx, opts.Snapshot, opts.Env); err != nil {
			return err
		}
	}

	if err := n.PrepareKeystore(opts.Env); err != nil {
		return err
	}

	if err := n.Controller.Up(ctx, opts.Env); err != nil {
		return fmt.Errorf("failed to start network %s: %w", n.Namespace, err)
	}
	slog.Info("Network started", "namespace", n.Namespace, "services", n.Topology.ServiceNames())
	return nil
}

func (n *Network) Down(ctx context.Context, env config.Env) error {
	slog.Info("Stopping network", "namespace", n.Namespace)
	if err := n.Controller.Down(ctx, env); err != nil {
		return fmt.Errorf("failed to stop network %s: %w", n.Namespace, err)
	}
	return nil
}

// Restore downloads the snapshot and unpacks it into every data mount.
func (n *Network) Restore(ctx context.Context, snapshot string, env config.Env) error {
	if _, err := credentials.FromEnv(env); err != nil {
		return err
	}
	uri, err := objstore.ResolveSnapshotURI(snapshot, credentials.SnapshotBaseURI(env, n.Config.Snapshot.BaseURI))
	if err != nil {
		return err
	}
	r, err := n.NewRestorer(ctx, env)
	if err != nil {
		return err
	}
	mounts, err := r.Restore(ctx, restore.Request{Namespace: n.Namespace, SnapshotURI: uri, Topology: n.Topology})
	if err != nil {
		return fmt.Errorf("failed to restore snapshot %s into %s: %w", uri, n.Namespace, err)
	}
	slog.Info("Snapshot restored", "namespace", n.Namespace, "mounts", len(mounts))
	return nil
}

// PrepareKeystore writes the key files of every node seed found in env.
func (n *Network) PrepareKeystore(env config.Env) error {
	if len(keystore.ParseSeeds(env)) == 0 {
		slog.Info("No node seeds in environment, skipping keystore", "namespace", n.Namespace)
		return nil
	}
	chainID, err := keystore.ResolveChainID(n.Config, n.Namespace)
	if err != nil {
		return err
	}
	written, err := keystore.Run(keystore.Options{
		Namespace:  n.Namespace,
		NetworkDir: n.Topology.Dir(),
		ChainID:    chainID,
		Env:        env,
	})
	if err != nil {
		return fmt.Errorf("failed to prepare keystore for %s: %w", n.Namespace, err)
	}
	slog.Info("Keystore prepared", "namespace", n.Namespace, "chain", chainID, "files", len(written))
	return nil
}

package check

import (
	"context"
	"fmt"
	"io"

	"nlo/internal/config"
	"nlo/internal/execx"
	"nlo/internal/objstore"
	"nlo/internal/topology"
)

type Options struct {
	Config *config.Config
	// Namespace, when set, must resolve to a network file.
	Namespace string
	// Store, when set, gets its credential check against StoreURI.
	Store    objstore.Store
	StoreURI string
	Out      io.Writer
	// LookPath defaults to execx.LookPath.
	LookPath func(names ...string) error
}

// Binaries lists the commands the configured drivers shell out to.
func Binaries(cfg *config.Config) []string {
	bins := []string{"docker"}
	if cfg.KubeDriver() == "kubectl" {
		bins = append(bins, "kubectl")
	}
	if cfg.ObjectStore() == "cli" {
		bins = append(bins, "aws")
	}
	if cfg.ArchiveCodec() == "cli" {
		bins = append(bins, "tar", "zstd")
	}
	return bins
}

func Run(ctx context.Context, opts Options) error {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	fmt.Fprintln(opts.Out, "config: OK")

	lookPath := opts.LookPath
	if lookPath == nil {
		lookPath = execx.LookPath
	}
	for _, bin := range Binaries(cfg) {
		if err := lookPath(bin); err != nil {
			return fmt.Errorf("binary %s: %w", bin, err)
		}
		fmt.Fprintf(opts.Out, "binary %s: OK\n", bin)
	}

	if opts.Namespace != "" {
		path, err := topology.Resolve(cfg.NetworksRoot(), opts.Namespace)
		if err != nil {
			return fmt.Errorf("network %s: %w", opts.Namespace, err)
		}
		if _, err := topology.Load(path); err != nil {
			return fmt.Errorf("network %s: %w", opts.Namespace, err)
		}
		fmt.Fprintf(opts.Out, "network %s file %s: OK\n", opts.Namespace, path)
	}

	if opts.Store != nil {
		if err := opts.Store.Check(ctx, opts.StoreURI); err != nil {
			return fmt.Errorf("object store credentials: %w", err)
		}
		fmt.Fprintf(opts.Out, "object store %s: OK\n", opts.StoreURI)
	}

	fmt.Fprintln(opts.Out, "all checks passed")
	return nil
}

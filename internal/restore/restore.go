// Package restore fans a snapshot archive out into every data mount of a
// namespace.
package restore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"nlo/internal/archive"
	"nlo/internal/crypto"
	"nlo/internal/objstore"
	"nlo/internal/opserr"
	"nlo/internal/topology"

	"filippo.io/age"
)

type Restorer struct {
	Store objstore.Store
	Codec archive.Codec
	// Identity decrypts .age archives. Nil rejects them.
	Identity age.Identity
	// Aliases maps a chains/<name> directory to extra names it is copied under.
	Aliases map[string][]string
	// TempDir is where the staging directory is created. Empty means os.TempDir.
	TempDir string
}

type Request struct {
	Namespace   string
	SnapshotURI string
	Topology    *topology.File
}

// Restore returns the mounts that were replaced.
func (r *Restorer) Restore(ctx context.Context, req Request) ([]string, error) {
	slog.Info("Restoring snapshot", "namespace", req.Namespace, "uri", req.SnapshotURI)

	name := objstore.ArchiveName(req.SnapshotURI)
	innerName := name
	encrypted := strings.HasSuffix(strings.ToLower(name), ".age")
	if encrypted {
		if r.Identity == nil {
			return nil, opserr.Precondition("snapshot %s is age encrypted but no identity file is configured", req.SnapshotURI)
		}
		innerName = name[:len(name)-len(".age")]
	}
	if _, err := archive.Detect(innerName); err != nil {
		return nil, err
	}

	if err := r.Store.Check(ctx, req.SnapshotURI); err != nil {
		return nil, err
	}

	stagingDir, err := os.MkdirTemp(r.TempDir, "nlo-snapshot-")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer func() {
		slog.Debug("Cleaning up staging directory", "path", stagingDir)
		if err := os.RemoveAll(stagingDir); err != nil {
			slog.Warn("Failed to remove staging directory", "path", stagingDir, "error", err)
		}
	}()

	archivePath := filepath.Join(stagingDir, name)
	info, err := r.Store.Download(ctx, req.SnapshotURI, archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to download snapshot %s: %w", req.SnapshotURI, err)
	}

	if info != nil && info.Blake3 != "" {
		if err := crypto.VerifyBLAKE3(archivePath, info.Blake3); err != nil {
			return nil, fmt.Errorf("snapshot %s failed integrity check: %w", req.SnapshotURI, err)
		}
		slog.Info("BLAKE3 verified", "hash", info.Blake3)
	}

	if encrypted {
		plainPath := filepath.Join(stagingDir, innerName)
		if err := crypto.Decrypt(archivePath, plainPath, r.Identity); err != nil {
			return nil, fmt.Errorf("failed to decrypt snapshot %s: %w", req.SnapshotURI, err)
		}
		if err := os.Remove(archivePath); err != nil {
			slog.Warn("Failed to remove encrypted archive", "path", archivePath, "error", err)
		}
		archivePath = plainPath
	}

	extractDir := filepath.Join(stagingDir, "extracted")
	if err := os.Mkdir(extractDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create extraction directory: %w", err)
	}
	if err := r.Codec.Extract(ctx, archivePath, extractDir); err != nil {
		return nil, fmt.Errorf("failed to extract snapshot %s: %w", req.SnapshotURI, err)
	}

	mounts, err := req.Topology.DataMounts()
	if err != nil {
		return nil, err
	}
	if len(mounts) == 0 {
		slog.Warn("No data directories declared under the data root, skipping restore",
			"namespace", req.Namespace, "file", req.Topology.Path, "dataRoot", req.Topology.DataRoot())
		return nil, nil
	}

	if err := Replicate(extractDir, mounts, r.Aliases); err != nil {
		return nil, err
	}

	slog.Info("Restored snapshot", "namespace", req.Namespace, "mounts", len(mounts))
	return mounts, nil
}

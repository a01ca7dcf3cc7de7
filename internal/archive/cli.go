package archive

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"nlo/internal/execx"
)

// CLI decompresses with the zstd binary and unpacks with tar.
type CLI struct {
	Runner execx.Runner
}

func (c CLI) Extract(ctx context.Context, archivePath, dest string) error {
	compression, err := Detect(archivePath)
	if err != nil {
		return err
	}

	tarPath := archivePath
	if compression == Zstd {
		if err := execx.LookPath("zstd"); err != nil {
			return err
		}
		tarPath = strings.TrimSuffix(archivePath, ".zst")
		if tarPath == archivePath {
			tarPath = archivePath + ".tar"
		}
		slog.Info("Decompressing archive with zstd", "archive", archivePath)
		if _, err := c.Runner.Run(ctx, execx.Cmd{Name: "zstd", Args: []string{"-d", "--force", "-o", tarPath, archivePath}}); err != nil {
			return fmt.Errorf("failed to decompress %s: %w", archivePath, err)
		}
	}

	args := []string{"-xf", tarPath, "-C", dest}
	if compression == Gzip {
		args = []string{"-xzf", tarPath, "-C", dest}
	}

	slog.Info("Extracting archive with tar", "archive", tarPath, "dest", dest)
	if _, err := c.Runner.Run(ctx, execx.Cmd{Name: "tar", Args: args}); err != nil {
		return fmt.Errorf("failed to extract %s: %w", tarPath, err)
	}
	return nil
}

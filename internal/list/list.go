// Package list prints the snapshot archives stored under a base URI.
package list

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"nlo/internal/archive"
	"nlo/internal/objstore"
	"nlo/internal/opserr"
)

type Info struct {
	ID          string `json:"id"`
	URI         string `json:"uri"`
	Compression string `json:"compression"`
	Encrypted   bool   `json:"encrypted"`
	SizeBytes   int64  `json:"size_bytes"`
	Modified    int64  `json:"modified"`
	ModifiedStr string `json:"modified_str"`
}

type Output struct {
	BaseURI   string `json:"base_uri"`
	Snapshots []Info `json:"snapshots"`
	Summary   struct {
		TotalSnapshots int   `json:"total_snapshots"`
		TotalSizeBytes int64 `json:"total_size_bytes"`
		Skipped        int   `json:"skipped"`
	} `json:"summary"`
}

// Collect lists baseURI and keeps only objects with a supported archive
// suffix, newest first.
func Collect(ctx context.Context, lister objstore.Lister, baseURI string) (*Output, error) {
	if baseURI == "" {
		return nil, opserr.Precondition("no snapshot base URI; pass --uri or set MN_SNAPSHOT_S3_URI")
	}
	objects, err := lister.List(ctx, baseURI)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots under %s: %w", baseURI, err)
	}

	output := &Output{BaseURI: baseURI, Snapshots: []Info{}}
	for _, obj := range objects {
		name := objstore.ArchiveName(obj.URI)
		encrypted := strings.HasSuffix(strings.ToLower(name), ".age")
		compression, err := archive.Detect(strings.TrimSuffix(name, ".age"))
		if err != nil {
			slog.Debug("Skipping object with unsupported suffix", "uri", obj.URI)
			output.Summary.Skipped++
			continue
		}
		output.Snapshots = append(output.Snapshots, Info{
			ID:          name,
			URI:         obj.URI,
			Compression: string(compression),
			Encrypted:   encrypted,
			SizeBytes:   obj.Size,
			Modified:    obj.LastModified.Unix(),
			ModifiedStr: obj.LastModified.UTC().Format(time.DateTime),
		})
	}

	sort.SliceStable(output.Snapshots, func(i, j int) bool {
		return output.Snapshots[i].Modified > output.Snapshots[j].Modified
	})

	output.Summary.TotalSnapshots = len(output.Snapshots)
	for _, s := range output.Snapshots {
		output.Summary.TotalSizeBytes += s.SizeBytes
	}
	return output, nil
}

func Run(ctx context.Context, lister objstore.Lister, baseURI string, w io.Writer) error {
	output, err := Collect(ctx, lister, baseURI)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(output); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}

	return nil
}

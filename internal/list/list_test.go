package list

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"nlo/internal/objstore"
	"nlo/internal/opserr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLister struct {
	prefix  string
	objects []objstore.Object
	err     error
}

func (f *fakeLister) List(_ context.Context, prefixURI string) ([]objstore.Object, error) {
	f.prefix = prefixURI
	return f.objects, f.err
}

func TestCollect(t *testing.T) {
	day := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	lister := &fakeLister{objects: []objstore.Object{
		{URI: "s3://snap/devnet/boot-01-old.tar.gz", Size: 100, LastModified: day},
		{URI: "s3://snap/devnet/notes.txt", Size: 5, LastModified: day},
		{URI: "s3://snap/devnet/boot-01-new.tar.zst.age", Size: 200, LastModified: day.Add(24 * time.Hour)},
		{URI: "s3://snap/devnet/raw.tar", Size: 50, LastModified: day.Add(-time.Hour)},
	}}

	out, err := Collect(context.Background(), lister, "s3://snap/devnet/")
	require.NoError(t, err)
	assert.Equal(t, "s3://snap/devnet/", lister.prefix)

	ids := make([]string, 0, len(out.Snapshots))
	for _, s := range out.Snapshots {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []string{"boot-01-new.tar.zst.age", "boot-01-old.tar.gz", "raw.tar"}, ids)
	assert.True(t, out.Snapshots[0].Encrypted)
	assert.Equal(t, "zst", out.Snapshots[0].Compression)
	assert.Equal(t, "none", out.Snapshots[2].Compression)
	assert.Equal(t, "2026-03-01 12:00:00", out.Snapshots[1].ModifiedStr)

	assert.Equal(t, 3, out.Summary.TotalSnapshots)
	assert.Equal(t, int64(350), out.Summary.TotalSizeBytes)
	assert.Equal(t, 1, out.Summary.Skipped)
}

func TestCollectErrors(t *testing.T) {
	_, err := Collect(context.Background(), &fakeLister{}, "")
	assert.ErrorIs(t, err, opserr.ErrPrecondition)

	_, err = Collect(context.Background(), &fakeLister{err: assert.AnError}, "s3://snap/")
	assert.ErrorIs(t, err, assert.AnError)
}

func TestRunWritesJSON(t *testing.T) {
	lister := &fakeLister{objects: []objstore.Object{
		{URI: "s3://snap/a.tgz", Size: 7, LastModified: time.Unix(0, 0)},
	}}
	var buf bytes.Buffer
	require.NoError(t, Run(context.Background(), lister, "s3://snap/", &buf))

	var decoded Output
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded.Snapshots, 1)
	assert.Equal(t, "gz", decoded.Snapshots[0].Compression)
	assert.Equal(t, 1, decoded.Summary.TotalSnapshots)
}

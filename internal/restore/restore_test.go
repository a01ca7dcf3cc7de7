package restore

import (
	"archive/tar"
	"bytes"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"nlo/internal/archive"
	"nlo/internal/objstore"
	"nlo/internal/opserr"
	"nlo/internal/topology"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const networkFile = `
services:
  node-1:
    volumes:
      - ./data/node-1:/node
  node-2:
    volumes:
      - type: bind
        source: ./data/node-2
        target: /node
  sidecar:
    volumes:
      - ../outside:/outside
`

type fakeStore struct {
	archives map[string][]byte
	blake3   string
	checked  int
}

func (f *fakeStore) Check(context.Context, string) error {
	f.checked++
	return nil
}

func (f *fakeStore) Download(_ context.Context, uri, localPath string) (*objstore.ObjectInfo, error) {
	data, ok := f.archives[uri]
	if !ok {
		return nil, os.ErrNotExist
	}
	if err := os.WriteFile(localPath, data, 0o644); err != nil {
		return nil, err
	}
	return &objstore.ObjectInfo{Size: int64(len(data)), Blake3: f.blake3}, nil
}

func snapshotTar(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for name, body := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

func zstdBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	_, err = zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

type fixture struct {
	networks string
	nsDir    string
	outside  string
	staging  string
	topo     *topology.File
}

func newFixture(t *testing.T, namespace string) fixture {
	t.Helper()
	networks := t.TempDir()
	nsDir := filepath.Join(networks, namespace)
	require.NoError(t, os.MkdirAll(filepath.Join(nsDir, "data"), 0o755))
	path := filepath.Join(nsDir, namespace+".network.yaml")
	require.NoError(t, os.WriteFile(path, []byte(networkFile), 0o644))

	outside := filepath.Join(networks, "outside")
	require.NoError(t, os.MkdirAll(outside, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(outside, "keep.txt"), []byte("keep"), 0o644))

	topo, err := topology.Load(path)
	require.NoError(t, err)

	return fixture{networks: networks, nsDir: nsDir, outside: outside, staging: t.TempDir(), topo: topo}
}

func (f fixture) restorer(store objstore.Store) *Restorer {
	return &Restorer{
		Store:   store,
		Codec:   archive.Native{},
		Aliases: map[string][]string{"devnet": {"qanet"}},
		TempDir: f.staging,
	}
}

func snapshotFiles(t *testing.T, root string) map[string]string {
	t.Helper()
	out := make(map[string]string)
	require.NoError(t, filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		require.NoError(t, err)
		if d.IsDir() {
			return nil
		}
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		rel, _ := filepath.Rel(root, path)
		out[filepath.ToSlash(rel)] = string(data)
		return nil
	}))
	return out
}

func TestRestoreAliasesDevnetChain(t *testing.T) {
	f := newFixture(t, "node-dev-01")
	uri := "s3://bucket/snapshots/node-dev-01.tar.zst"
	store := &fakeStore{archives: map[string][]byte{
		uri: zstdBytes(t, snapshotTar(t, map[string]string{
			"chains/devnet/x.db":                   "blocks",
			"chains/devnet/keystore/61757261aa":    `"secret"`,
			"chains/devnet/network/secret_ed25519": "nodekey",
		})),
	}}

	mounts, err := f.restorer(store).Restore(context.Background(), Request{Namespace: "node-dev-01", SnapshotURI: uri, Topology: f.topo})
	require.NoError(t, err)
	require.Len(t, mounts, 2)
	assert.Equal(t, 1, store.checked)

	for _, m := range mounts {
		devnet, err := os.ReadFile(filepath.Join(m, "chains", "devnet", "x.db"))
		require.NoError(t, err)
		qanet, err := os.ReadFile(filepath.Join(m, "chains", "qanet", "x.db"))
		require.NoError(t, err)
		assert.Equal(t, "blocks", string(devnet))
		assert.Equal(t, devnet, qanet)

		assert.NoDirExists(t, filepath.Join(m, "chains", "devnet", "keystore"))
		assert.NoDirExists(t, filepath.Join(m, "chains", "qanet", "keystore"))
	}

	assert.FileExists(t, filepath.Join(f.outside, "keep.txt"))
	assert.NoFileExists(t, filepath.Join(f.outside, "chains", "devnet", "x.db"))

	staged, err := os.ReadDir(f.staging)
	require.NoError(t, err)
	assert.Empty(t, staged)
}

func TestRestoreIsIdempotent(t *testing.T) {
	f := newFixture(t, "devnet")
	uri := "s3://bucket/snap.tar"
	store := &fakeStore{archives: map[string][]byte{
		uri: snapshotTar(t, map[string]string{"chains/devnet/db/1.sst": "a", "node.txt": "b", "keystore/x": "k"}),
	}}
	r := f.restorer(store)
	req := Request{Namespace: "devnet", SnapshotURI: uri, Topology: f.topo}

	_, err := r.Restore(context.Background(), req)
	require.NoError(t, err)
	first := snapshotFiles(t, filepath.Join(f.nsDir, "data"))

	require.NoError(t, os.WriteFile(filepath.Join(f.nsDir, "data", "node-1", "stale.txt"), []byte("stale"), 0o644))

	_, err = r.Restore(context.Background(), req)
	require.NoError(t, err)
	second := snapshotFiles(t, filepath.Join(f.nsDir, "data"))

	assert.Equal(t, first, second)
	assert.NotContains(t, second, "node-1/keystore/x")
	assert.Contains(t, second, "node-2/chains/qanet/db/1.sst")
}

func TestRestoreFailures(t *testing.T) {
	t.Run("unsupported archive rejected before download", func(t *testing.T) {
		f := newFixture(t, "devnet")
		store := &fakeStore{}
		_, err := f.restorer(store).Restore(context.Background(), Request{SnapshotURI: "s3://b/snap.rar", Topology: f.topo})
		var ue *opserr.UnsupportedArchiveError
		assert.ErrorAs(t, err, &ue)
		assert.Equal(t, 0, store.checked)
	})

	t.Run("encrypted archive without identity", func(t *testing.T) {
		f := newFixture(t, "devnet")
		_, err := f.restorer(&fakeStore{}).Restore(context.Background(), Request{SnapshotURI: "s3://b/snap.tar.age", Topology: f.topo})
		assert.ErrorIs(t, err, opserr.ErrPrecondition)
	})

	t.Run("integrity mismatch leaves mounts untouched", func(t *testing.T) {
		f := newFixture(t, "devnet")
		existing := filepath.Join(f.nsDir, "data", "node-1", "db")
		require.NoError(t, os.MkdirAll(filepath.Dir(existing), 0o755))
		require.NoError(t, os.WriteFile(existing, []byte("live"), 0o644))

		uri := "s3://b/snap.tar"
		store := &fakeStore{archives: map[string][]byte{uri: snapshotTar(t, map[string]string{"a": "b"})}, blake3: "00"}
		_, err := f.restorer(store).Restore(context.Background(), Request{SnapshotURI: uri, Topology: f.topo})
		assert.ErrorContains(t, err, "BLAKE3 mismatch")
		assert.FileExists(t, existing)

		staged, err := os.ReadDir(f.staging)
		require.NoError(t, err)
		assert.Empty(t, staged)
	})
}

func TestReplicateKeepsArchiveAlias(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "chains", "devnet"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(src, "chains", "qanet"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "chains", "devnet", "f"), []byte("devnet"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "chains", "qanet", "f"), []byte("qanet"), 0o644))
	require.NoError(t, os.Symlink("f", filepath.Join(src, "chains", "devnet", "link")))

	target := filepath.Join(t.TempDir(), "mount")
	require.NoError(t, Replicate(src, []string{target}, map[string][]string{"devnet": {"qanet"}}))

	data, err := os.ReadFile(filepath.Join(target, "chains", "qanet", "f"))
	require.NoError(t, err)
	assert.Equal(t, "qanet", string(data))

	link, err := os.Readlink(filepath.Join(target, "chains", "devnet", "link"))
	require.NoError(t, err)
	assert.Equal(t, "f", link)
}

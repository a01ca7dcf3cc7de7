// Package keystore writes node keystore files derived from seed variables.
package keystore

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"nlo/internal/config"
	"nlo/internal/opserr"

	"github.com/vedhavyas/go-subkey/v2"
	"github.com/vedhavyas/go-subkey/v2/ecdsa"
	"github.com/vedhavyas/go-subkey/v2/ed25519"
	"github.com/vedhavyas/go-subkey/v2/sr25519"
)

// KeyType is a four byte key type id with its signature scheme.
type KeyType struct {
	ID       string
	Scheme   subkey.Scheme
	Category Category
}

var KeyTypes = []KeyType{
	{ID: "aura", Scheme: sr25519.Scheme{}, Category: Aura},
	{ID: "gran", Scheme: ed25519.Scheme{}, Category: Grandpa},
	{ID: "crch", Scheme: ecdsa.Scheme{}, Category: CrossChain},
}

func DerivePublicKey(scheme subkey.Scheme, seed string) ([]byte, error) {
	kp, err := subkey.DeriveKeyPair(scheme, strings.TrimSpace(seed))
	if err != nil {
		return nil, err
	}
	return kp.Public(), nil
}

func FileName(typeID string, publicKey []byte) string {
	return hex.EncodeToString([]byte(typeID)) + hex.EncodeToString(publicKey)
}

// fileContent is the seed as a JSON string literal, without HTML escaping.
func fileContent(seed string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(seed); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// ResolveChainID uses the namespace override if one exists, otherwise the
// id field of chain-spec-raw.json and then chain-spec.json under specDir/namespace.
func ResolveChainID(cfg *config.Config, namespace string) (string, error) {
	if id, ok := cfg.ChainIDOverride(namespace); ok {
		slog.Info("Using chain id override", "namespace", namespace, "chainID", id)
		return id, nil
	}

	candidates := []string{
		filepath.Join(cfg.ChainSpecRoot(), namespace, "chain-spec-raw.json"),
		filepath.Join(cfg.ChainSpecRoot(), namespace, "chain-spec.json"),
	}
	for _, candidate := range candidates {
		f, err := os.Open(candidate)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return "", fmt.Errorf("failed to open chain spec %s: %w", candidate, err)
		}
		var spec struct {
			ID string `json:"id"`
		}
		err = json.NewDecoder(f).Decode(&spec)
		f.Close()
		if err != nil {
			return "", fmt.Errorf("failed to parse chain spec %s: %w", candidate, err)
		}
		if spec.ID != "" {
			return spec.ID, nil
		}
	}

	return "", opserr.Precondition("unable to determine chain id for namespace %s; checked %s", namespace, strings.Join(candidates, ", "))
}

type Options struct {
	Namespace string
	// NetworkDir is the namespace directory holding data/.
	NetworkDir string
	ChainID    string
	Env        config.Env
}

type Written struct {
	Node    string
	KeyType string
	Source  Category
	Path    string
}

// Run writes one file per node and key type with a usable seed.
func Run(opts Options) ([]Written, error) {
	if _, err := os.Stat(opts.NetworkDir); err != nil {
		return nil, opserr.Precondition("network directory missing for namespace %s at %s", opts.Namespace, opts.NetworkDir)
	}

	dataPath := filepath.Join(opts.NetworkDir, "data")
	if err := os.MkdirAll(dataPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	nodes := ParseSeeds(opts.Env)
	if len(nodes) == 0 {
		slog.Warn("No node seeds found, skipping keystore preparation", "namespace", opts.Namespace)
		return nil, nil
	}

	var written []Written
	for _, node := range nodes {
		keystoreDir := filepath.Join(dataPath, node.Dir(), "chains", opts.ChainID, "keystore")
		if err := os.MkdirAll(keystoreDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create keystore for %s: %w", node.Dir(), err)
		}

		for _, kt := range KeyTypes {
			seed, source, ok := node.SeedFor(kt.Category)
			if !ok {
				slog.Warn("Missing seed, skipping key", "node", node.Dir(), "keyType", kt.ID, "category", kt.Category)
				continue
			}

			pub, err := DerivePublicKey(kt.Scheme, seed)
			if err != nil {
				return nil, fmt.Errorf("failed to derive %s key for %s from %s seed: %w", kt.ID, node.Dir(), source, err)
			}

			content, err := fileContent(seed)
			if err != nil {
				return nil, err
			}

			path := filepath.Join(keystoreDir, FileName(kt.ID, pub))
			if err := os.WriteFile(path, content, 0o600); err != nil {
				return nil, fmt.Errorf("failed to write %s key for %s: %w", kt.ID, node.Dir(), err)
			}

			slog.Info("Wrote keystore file", "node", node.Dir(), "keyType", kt.ID, "source", source, "file", filepath.Base(path))
			written = append(written, Written{Node: node.Dir(), KeyType: kt.ID, Source: source, Path: path})
		}
	}

	slog.Info("Prepared keystore files", "namespace", opts.Namespace, "nodes", len(nodes), "files", len(written))
	return written, nil
}

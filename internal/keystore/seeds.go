package keystore

import (
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"nlo/internal/config"
)

type Category string

const (
	Aura       Category = "aura"
	Grandpa    Category = "grandpa"
	CrossChain Category = "crossChain"
	Legacy     Category = "legacy"
)

var (
	categoryRe = regexp.MustCompile(`^MIDNIGHT_NODE_(\d+)(?:_[0-9]+)?_(AURA|GRANDPA|CROSS_CHAIN)_SEED$`)
	legacyRe   = regexp.MustCompile(`^MIDNIGHT_NODE_(\d+)(?:_[0-9]+)?_SEED$`)

	suffixCategory = map[string]Category{
		"AURA":        Aura,
		"GRANDPA":     Grandpa,
		"CROSS_CHAIN": CrossChain,
	}
)

// NodeSeeds holds the seeds found for one node index. Empty means absent.
type NodeSeeds struct {
	Index int
	Seeds map[Category]string
}

func (n NodeSeeds) Dir() string {
	return "node-" + strconv.Itoa(n.Index)
}

// SeedFor returns the dedicated seed of a category, else the legacy seed.
// The second value names the category the seed came from.
func (n NodeSeeds) SeedFor(c Category) (string, Category, bool) {
	if s := n.Seeds[c]; s != "" {
		return s, c, true
	}
	if s := n.Seeds[Legacy]; s != "" {
		return s, Legacy, true
	}
	return "", "", false
}

// ParseSeeds collects node seed variables from env, ordered by node index.
func ParseSeeds(env config.Env) []NodeSeeds {
	nodes := make(map[int]*NodeSeeds)
	node := func(index int) *NodeSeeds {
		n, ok := nodes[index]
		if !ok {
			n = &NodeSeeds{Index: index, Seeds: make(map[Category]string)}
			nodes[index] = n
		}
		return n
	}

	for _, key := range env.Keys() {
		if !strings.HasPrefix(key, "MIDNIGHT_NODE_") || !strings.HasSuffix(key, "_SEED") {
			continue
		}

		value := strings.TrimSpace(env.Get(key))
		if value == "" {
			slog.Warn("Seed variable is empty, skipping", "var", key)
			continue
		}

		if m := categoryRe.FindStringSubmatch(key); m != nil {
			index, err := strconv.Atoi(m[1])
			if err != nil {
				slog.Warn("Seed variable has unusable node index, skipping", "var", key)
				continue
			}
			category := suffixCategory[m[2]]
			n := node(index)
			n.Seeds[category] = value
			slog.Debug("Captured seed", "node", n.Dir(), "category", category, "var", key)
			continue
		}

		if m := legacyRe.FindStringSubmatch(key); m != nil {
			index, err := strconv.Atoi(m[1])
			if err != nil {
				slog.Warn("Seed variable has unusable node index, skipping", "var", key)
				continue
			}
			n := node(index)
			n.Seeds[Legacy] = value
			slog.Debug("Captured seed", "node", n.Dir(), "category", Legacy, "var", key)
		}
	}

	out := make([]NodeSeeds, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// Package topology reads the compose-style workload descriptor of a namespace.
package topology

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"nlo/internal/opserr"

	"gopkg.in/yaml.v3"
)

const fileSuffix = ".network.yaml"

type Service struct {
	Name    string
	Image   string
	Volumes []Volume
}

// Volume is one declared mount. Source is relative to the descriptor
// directory unless absolute.
type Volume struct {
	Source string
	Target string
}

type File struct {
	Path     string
	Services []Service
}

type rawFile struct {
	Services map[string]rawService `yaml:"services"`
}

type rawService struct {
	Image   string      `yaml:"image"`
	Volumes []yaml.Node `yaml:"volumes"`
}

type rawVolume struct {
	Type   string `yaml:"type"`
	Source string `yaml:"source"`
	Target string `yaml:"target"`
}

// Resolve finds the descriptor for a namespace under networksDir,
// preferring <namespace>.network.yaml over any other *.network.yaml.
func Resolve(networksDir, namespace string) (string, error) {
	pattern := filepath.Join(networksDir, namespace, "*"+fileSuffix)
	candidates, err := filepath.Glob(pattern)
	if err != nil {
		return "", fmt.Errorf("failed to search for network file: %w", err)
	}
	if len(candidates) == 0 {
		return "", opserr.Precondition("no %s file found for namespace %s in %s", fileSuffix, namespace, filepath.Join(networksDir, namespace))
	}
	sort.Strings(candidates)

	for _, c := range candidates {
		if filepath.Base(c) == namespace+fileSuffix {
			return c, nil
		}
	}
	return candidates[0], nil
}

func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read network file %s: %w", path, err)
	}

	var raw rawFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse network file %s: %w", path, err)
	}

	f := &File{Path: path}
	for name, svc := range raw.Services {
		s := Service{Name: name, Image: svc.Image}
		for i := range svc.Volumes {
			v, ok, err := parseVolume(&svc.Volumes[i])
			if err != nil {
				return nil, fmt.Errorf("service %s volume %d: %w", name, i, err)
			}
			if ok {
				s.Volumes = append(s.Volumes, v)
			}
		}
		f.Services = append(f.Services, s)
	}
	sort.Slice(f.Services, func(i, j int) bool { return f.Services[i].Name < f.Services[j].Name })

	return f, nil
}

func parseVolume(node *yaml.Node) (Volume, bool, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		host, target, _ := strings.Cut(node.Value, ":")
		host = strings.TrimSpace(host)
		if host == "" {
			return Volume{}, false, nil
		}
		target, _, _ = strings.Cut(target, ":")
		return Volume{Source: host, Target: target}, true, nil
	case yaml.MappingNode:
		var rv rawVolume
		if err := node.Decode(&rv); err != nil {
			return Volume{}, false, err
		}
		src := strings.TrimSpace(rv.Source)
		if src == "" {
			return Volume{}, false, nil
		}
		return Volume{Source: src, Target: rv.Target}, true, nil
	default:
		return Volume{}, false, nil
	}
}

func (f *File) Dir() string {
	return filepath.Dir(f.Path)
}

// DataRoot is the only directory tree restores may write into.
func (f *File) DataRoot() string {
	return filepath.Join(f.Dir(), "data")
}

func (f *File) ServiceNames() []string {
	names := make([]string, 0, len(f.Services))
	for _, s := range f.Services {
		names = append(names, s.Name)
	}
	return names
}

// DataMounts returns the sorted, de-duplicated host paths of every declared
// volume whose real path is the data root or nested under it.
func (f *File) DataMounts() ([]string, error) {
	root, err := realPath(f.DataRoot())
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data root: %w", err)
	}

	seen := make(map[string]struct{})
	var mounts []string
	for _, s := range f.Services {
		for _, v := range s.Volumes {
			host := v.Source
			if !filepath.IsAbs(host) {
				host = filepath.Join(f.Dir(), host)
			}
			real, err := realPath(host)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve volume %s of service %s: %w", v.Source, s.Name, err)
			}
			if !Within(real, root) {
				continue
			}
			if _, ok := seen[real]; ok {
				continue
			}
			seen[real] = struct{}{}
			mounts = append(mounts, real)
		}
	}
	sort.Strings(mounts)
	return mounts, nil
}

// Within reports whether path equals root or is nested under it.
// Both must be clean absolute paths.
func Within(path, root string) bool {
	if path == root {
		return true
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}

// realPath resolves symlinks in the deepest existing ancestor of p and
// appends the remaining, not yet existing, components.
func realPath(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}

	var rest []string
	cur := abs
	for {
		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			for i := len(rest) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, rest[i])
			}
			return resolved, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return abs, nil
		}
		rest = append(rest, filepath.Base(cur))
		cur = parent
	}
}

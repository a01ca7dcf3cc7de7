package config

import (
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/joho/godotenv"
)

// Env is an immutable set of environment variables handed down an operation.
// With returns a modified copy and never touches the receiver.
type Env struct {
	vars map[string]string
}

func NewEnv(vars map[string]string) Env {
	m := make(map[string]string, len(vars))
	for k, v := range vars {
		m[k] = v
	}
	return Env{vars: m}
}

// LoadEnv merges the process environment with the given dotenv files.
// Later files win over earlier ones and over the process environment.
// A missing file is logged and skipped.
func LoadEnv(files ...string) (Env, error) {
	vars := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			vars[k] = v
		}
	}

	for _, f := range files {
		fileVars, err := godotenv.Read(f)
		if err != nil {
			if os.IsNotExist(err) {
				slog.Warn("Env file not found, skipping", "file", f)
				continue
			}
			return Env{}, err
		}
		slog.Debug("Loaded env file", "file", f, "vars", len(fileVars))
		for k, v := range fileVars {
			vars[k] = v
		}
	}

	return Env{vars: vars}, nil
}

func (e Env) Get(key string) string {
	return e.vars[key]
}

func (e Env) Lookup(key string) (string, bool) {
	v, ok := e.vars[key]
	return v, ok
}

func (e Env) With(key, value string) Env {
	m := make(map[string]string, len(e.vars)+1)
	for k, v := range e.vars {
		m[k] = v
	}
	m[key] = value
	return Env{vars: m}
}

// Merge returns a copy with every entry of other applied on top.
func (e Env) Merge(other map[string]string) Env {
	m := make(map[string]string, len(e.vars)+len(other))
	for k, v := range e.vars {
		m[k] = v
	}
	for k, v := range other {
		m[k] = v
	}
	return Env{vars: m}
}

func (e Env) Keys() []string {
	keys := make([]string, 0, len(e.vars))
	for k := range e.vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Environ renders the variables as KEY=VALUE pairs for exec.Cmd.Env.
func (e Env) Environ() []string {
	out := make([]string, 0, len(e.vars))
	for _, k := range e.Keys() {
		out = append(out, k+"="+e.vars[k])
	}
	return out
}

package objstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"nlo/internal/credentials"
	"nlo/internal/execx"
	"nlo/internal/opserr"
)

// CLI drives the aws binary with credentials passed through the environment.
type CLI struct {
	Runner execx.Runner
	Creds  credentials.Credentials
	Env    []string
}

func (c *CLI) env() []string {
	base := c.Env
	if base == nil {
		base = os.Environ()
	}
	env := append([]string{}, base...)
	env = append(env,
		credentials.EnvAccessKeyID+"="+c.Creds.AccessKeyID,
		credentials.EnvSecretAccessKey+"="+c.Creds.SecretAccessKey,
	)
	if c.Creds.SessionToken != "" {
		env = append(env, credentials.EnvSessionToken+"="+c.Creds.SessionToken)
	}
	return env
}

func (c *CLI) run(ctx context.Context, args ...string) ([]byte, error) {
	return c.Runner.Run(ctx, execx.Cmd{Name: "aws", Args: args, Env: c.env()})
}

func (c *CLI) Check(ctx context.Context, _ string) error {
	if _, err := c.Runner.Run(ctx, execx.Cmd{Name: "aws", Args: []string{"--version"}, Env: c.env()}); err != nil {
		return opserr.Precondition("AWS CLI is required to restore snapshots; install it or put it on PATH (%v)", err)
	}
	return nil
}

func (c *CLI) Download(ctx context.Context, uri, localPath string) (*ObjectInfo, error) {
	info := &ObjectInfo{}
	if loc, err := ParseURI(uri); err == nil {
		out, err := c.run(ctx, "s3api", "head-object", "--endpoint-url", c.Creds.EndpointURL,
			"--bucket", loc.Bucket, "--key", loc.Key, "--output", "json")
		if err != nil {
			slog.Warn("Failed to read object metadata, skipping integrity check", "uri", uri, "error", err)
		} else {
			var head struct {
				ContentLength int64             `json:"ContentLength"`
				Metadata      map[string]string `json:"Metadata"`
			}
			if err := json.Unmarshal(out, &head); err == nil {
				info.Size = head.ContentLength
				info.Blake3 = head.Metadata["blake3"]
			}
		}
	}

	slog.Info("Downloading snapshot archive", "uri", uri, "dest", localPath)
	if _, err := c.run(ctx, "s3", "cp", "--endpoint-url", c.Creds.EndpointURL, uri, localPath); err != nil {
		return nil, fmt.Errorf("failed to download snapshot from %s: %w", uri, err)
	}
	return info, nil
}

func (c *CLI) List(ctx context.Context, prefixURI string) ([]Object, error) {
	if !strings.HasSuffix(prefixURI, "/") {
		prefixURI += "/"
	}
	out, err := c.run(ctx, "s3", "ls", "--endpoint-url", c.Creds.EndpointURL, prefixURI)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", prefixURI, err)
	}
	return parseListing(prefixURI, string(out)), nil
}

// parseListing reads `aws s3 ls` lines of the form "2024-01-15 10:30:00  1234 name".
func parseListing(prefixURI, out string) []Object {
	var objects []Object
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 4 || fields[0] == "PRE" {
			continue
		}
		var size int64
		if _, err := fmt.Sscan(fields[2], &size); err != nil {
			continue
		}
		modified, _ := time.Parse("2006-01-02 15:04:05", fields[0]+" "+fields[1])
		objects = append(objects, Object{
			URI:          prefixURI + strings.Join(fields[3:], " "),
			Size:         size,
			LastModified: modified,
		})
	}
	return objects
}

// Package credentials reads the object-store access credentials used by
// snapshot capture and restore.
package credentials

import (
	"strings"

	"nlo/internal/config"
	"nlo/internal/opserr"
)

const (
	EnvEndpointURL     = "MN_SNAPSHOT_S3_ENDPOINT_URL"
	EnvAccessKeyID     = "AWS_ACCESS_KEY_ID"
	EnvSecretAccessKey = "AWS_SECRET_ACCESS_KEY"
	EnvSessionToken    = "AWS_SESSION_TOKEN"
	EnvSnapshotBaseURI = "MN_SNAPSHOT_S3_URI"
)

type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	EndpointURL     string
}

// FromEnv returns the credentials or a PreconditionError naming the first
// missing required variable. Values are trimmed.
func FromEnv(env config.Env) (Credentials, error) {
	required := func(key string) (string, error) {
		v := strings.TrimSpace(env.Get(key))
		if v == "" {
			return "", opserr.Precondition("%s must be set", key)
		}
		return v, nil
	}

	endpoint, err := required(EnvEndpointURL)
	if err != nil {
		return Credentials{}, err
	}
	accessKey, err := required(EnvAccessKeyID)
	if err != nil {
		return Credentials{}, err
	}
	secretKey, err := required(EnvSecretAccessKey)
	if err != nil {
		return Credentials{}, err
	}

	return Credentials{
		AccessKeyID:     accessKey,
		SecretAccessKey: secretKey,
		SessionToken:    strings.TrimSpace(env.Get(EnvSessionToken)),
		EndpointURL:     endpoint,
	}, nil
}

// SnapshotBaseURI returns the snapshot prefix: MN_SNAPSHOT_S3_URI when set,
// else the configured base.
func SnapshotBaseURI(env config.Env, configured string) string {
	if v := strings.TrimSpace(env.Get(EnvSnapshotBaseURI)); v != "" {
		return v
	}
	return configured
}

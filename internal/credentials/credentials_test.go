package credentials

import (
	"testing"

	"nlo/internal/config"
	"nlo/internal/opserr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv(t *testing.T) {
	full := map[string]string{
		EnvEndpointURL:     " https://s3.example.com ",
		EnvAccessKeyID:     "AKIA",
		EnvSecretAccessKey: "secret",
	}

	t.Run("all required present", func(t *testing.T) {
		creds, err := FromEnv(config.NewEnv(full))
		require.NoError(t, err)
		assert.Equal(t, "https://s3.example.com", creds.EndpointURL)
		assert.Equal(t, "AKIA", creds.AccessKeyID)
		assert.Empty(t, creds.SessionToken)
	})

	t.Run("session token optional", func(t *testing.T) {
		creds, err := FromEnv(config.NewEnv(full).With(EnvSessionToken, "tok"))
		require.NoError(t, err)
		assert.Equal(t, "tok", creds.SessionToken)
	})

	for _, key := range []string{EnvEndpointURL, EnvAccessKeyID, EnvSecretAccessKey} {
		t.Run("missing "+key, func(t *testing.T) {
			_, err := FromEnv(config.NewEnv(full).With(key, "  "))
			assert.ErrorIs(t, err, opserr.ErrPrecondition)
			assert.ErrorContains(t, err, key)
		})
	}
}

func TestSnapshotBaseURI(t *testing.T) {
	assert.Equal(t, "s3://env/", SnapshotBaseURI(config.NewEnv(map[string]string{EnvSnapshotBaseURI: " s3://env/ "}), "s3://cfg/"))
	assert.Equal(t, "s3://cfg/", SnapshotBaseURI(config.NewEnv(nil), "s3://cfg/"))
	assert.Empty(t, SnapshotBaseURI(config.NewEnv(nil), ""))
}

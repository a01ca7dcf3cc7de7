package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerFansOutByLevel(t *testing.T) {
	var file, console bytes.Buffer
	logger := slog.New(NewHandler(&file, &console, slog.LevelInfo)).With("namespace", "devnet")

	logger.Debug("Polling health", "service", "boot")
	logger.Info("Service upgraded", "service", "boot")

	lines := bytes.Split(bytes.TrimSpace(file.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &rec))
	assert.Equal(t, "Polling health", rec["msg"])
	assert.Equal(t, "devnet", rec["namespace"])

	assert.NotContains(t, console.String(), "Polling health")
	assert.Contains(t, console.String(), "Service upgraded")
}

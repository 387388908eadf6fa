package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupJSON(t *testing.T) {
	t.Cleanup(func() {
		logrus.SetOutput(os.Stderr)
		logrus.SetFormatter(&logrus.TextFormatter{})
		logrus.SetLevel(logrus.InfoLevel)
	})

	var buf bytes.Buffer
	require.NoError(t, Setup("debug", "json", &buf))
	logrus.WithField("user", "alice").Debug("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "hello", entry["msg"])
	assert.Equal(t, "alice", entry["user"])
	assert.Equal(t, "debug", entry["level"])
}

func TestSetupRejectsBadInput(t *testing.T) {
	assert.Error(t, Setup("loud", "text", nil))
	assert.Error(t, Setup("info", "yaml", nil))
}

package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithOutputWritesJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewWithOutput("debug", buf)
	logger.WithField("user_id", "user_000001").Debug("credits added")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "credits added", line["msg"])
	assert.Equal(t, "user_000001", line["user_id"])
}

func TestUnknownLevelFallsBackToInfo(t *testing.T) {
	assert.Equal(t, logrus.InfoLevel, NewWithOutput("loud", &bytes.Buffer{}).Level)
	assert.Equal(t, logrus.WarnLevel, NewWithOutput("warn", &bytes.Buffer{}).Level)
}

package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComponentLevelInheritance(t *testing.T) {
	Configure("text", LogLevelWarn, map[string]LogLevel{"tunnel": LogLevelDebug})
	t.Cleanup(func() { Configure("text", LogLevelInfo, nil) })

	var buf bytes.Buffer
	SetOutput(&buf)

	Get("tunnel.vxlan").Debug("encapsulated")
	Get(FIB).Info("suppressed")

	out := buf.String()
	assert.Contains(t, out, "[tunnel.vxlan] encapsulated")
	assert.NotContains(t, out, "suppressed")
}

func TestJSONFormatAddsComponent(t *testing.T) {
	Configure("json", LogLevelInfo, nil)
	t.Cleanup(func() { Configure("text", LogLevelInfo, nil) })

	var buf bytes.Buffer
	SetOutput(&buf)

	Get(Pipeline).Info("drop", "reason", "lookup-miss")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec))
	assert.Equal(t, "pipeline", rec["component"])
	assert.Equal(t, "lookup-miss", rec["reason"])
}

func TestWithPath(t *testing.T) {
	Configure("text", LogLevelInfo, nil)
	var buf bytes.Buffer
	SetOutput(&buf)

	WithPath(Get(Pipeline), PathAttrs{SPI: 291, SI: 5, Device: "nsh0"}).Info("bound")

	line := strings.TrimSpace(buf.String())
	assert.Contains(t, line, "spi=291")
	assert.Contains(t, line, "si=5")
	assert.Contains(t, line, "device=nsh0")
	assert.NotContains(t, line, "vni=")
}

func TestSetComponentLevel(t *testing.T) {
	Configure("text", LogLevelInfo, nil)
	SetComponentLevel(Device, LogLevelError)
	assert.Equal(t, LogLevelError, GetComponentLevels()[Device])

	ClearComponentLevel(Device)
	_, ok := GetComponentLevels()[Device]
	assert.False(t, ok)
	assert.Equal(t, LogLevelInfo, GetDefaultLevel())
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestDecode_Empty(t *testing.T) {
	cfg, err := Decode(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestDecode_Full(t *testing.T) {
	cfg, err := Decode(strings.NewReader(`
listen: ":9090"
database: flow.db
definition: defs/store-info.yaml
flow_id: merchant-42
log_level: debug
action_timeout: 5s
api:
  base_url: https://api.example.com
  timeout: 2s
mqtt:
  broker: tcp://localhost:1883
  qos: 1
plugins:
  - name: enrich
    script: plugins/enrich.js
`))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, "merchant-42", cfg.FlowID)
	assert.Equal(t, 5*time.Second, cfg.ActionTimeout)
	assert.Equal(t, 2*time.Second, cfg.API.Timeout)
	require.NotNil(t, cfg.MQTT)
	assert.Equal(t, "flowrt-merchant-42", cfg.MQTT.ClientID)
	assert.Equal(t, "flowrt/merchant-42", cfg.MQTT.Topic)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)
	require.Len(t, cfg.Plugins, 1)
}

func TestDecode_RejectsUnknownFields(t *testing.T) {
	_, err := Decode(strings.NewReader("listen: \":1\"\nlisten_addr: x\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen_addr")
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Listen = ""
	cfg.LogLevel = "loud"
	cfg.MQTT = &MQTTConfig{QoS: 3}
	cfg.Plugins = []PluginConfig{{Name: "a", Script: "a.js"}, {Name: "a"}}

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"listen", "log_level", "mqtt.broker", "mqtt.qos", "duplicate plugin", "script is required"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestLoad_ResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flowrt.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database: state/flow.db
definition: /abs/def.yaml
plugins:
  - name: enrich
    script: enrich.js
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "state", "flow.db"), cfg.Database)
	assert.Equal(t, "/abs/def.yaml", cfg.Definition)
	assert.Equal(t, filepath.Join(dir, "enrich.js"), cfg.Plugins[0].Script)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

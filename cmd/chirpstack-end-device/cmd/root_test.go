package cmd

import (
	"bytes"
	"os"
	"testing"
	"text/template"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/brocaar/chirpstack-end-device/internal/config"
)

func TestViperBindEnvs(t *testing.T) {
	assert := require.New(t)

	os.Setenv("DEVICE__BAND", "US915")
	os.Setenv("PROVISIONING__MQTT__COMMAND_TOPIC", "devices/command")
	defer os.Unsetenv("DEVICE__BAND")
	defer os.Unsetenv("PROVISIONING__MQTT__COMMAND_TOPIC")

	viperBindEnvs(config.C)

	assert.Equal("US915", viper.GetString("device.band"))
	assert.Equal("devices/command", viper.GetString("provisioning.mqtt.command_topic"))
}

func TestConfigTemplate(t *testing.T) {
	assert := require.New(t)

	var c config.Config
	c.Storage.Type = "redis"
	c.Storage.Redis.Servers = []string{"localhost:6379", "localhost:6380"}
	c.Device.EnabledChannels = []int{8, 9}

	var buf bytes.Buffer
	tmpl := template.Must(template.New("config").Parse(configTemplate))
	assert.NoError(tmpl.Execute(&buf, &c))

	out := buf.String()
	assert.Contains(out, `type="redis"`)
	assert.Contains(out, `servers=["localhost:6379", "localhost:6380"]`)
	assert.Contains(out, `enabled_channels=[8, 9]`)
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
deviceName: pump-1
recipients: "+1234567890, +44 20 7946"
whatsapp:
  apiURL: https://graph.example.test/v19.0/
  phoneNumberID: "1055"
  accessToken: from-file
  timeout: 10s
thresholds:
  - tagName: sensors.temperature
    operator: ">"
    thresholdValue: 100
    cooldownMinutes: 5
  - tagName: battery
storage:
  driver: sqlite
  dsn: /tmp/tags.db
scheduler:
  heartbeatCron: "0 */5 * * * *"
`

func TestParse(t *testing.T) {
	t.Setenv("WHATSAPP_ACCESS_TOKEN", "")
	t.Setenv("LOG_LEVEL", "")

	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	assert.True(t, cfg.IsEnabled())
	assert.Equal(t, "pump-1", cfg.DeviceName)
	assert.Equal(t, DefaultMessagePrefix, cfg.MessagePrefix())
	assert.Equal(t, "https://graph.example.test/v19.0", cfg.WhatsApp.APIURL)
	assert.Equal(t, "from-file", cfg.WhatsApp.AccessToken)
	assert.Equal(t, 10*time.Second, cfg.WhatsApp.GetTimeout())
	assert.Equal(t, "whatsapp", cfg.Dispatch.Channel)
	assert.Equal(t, "UTC", cfg.Scheduler.Timezone)
	assert.Equal(t, DefaultHistoryIndex, cfg.Elasticsearch.Index)
	assert.Equal(t, ":8080", cfg.Web.Listen)
	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, 30*time.Second, cfg.Storage.GetTimeout())

	require.Len(t, cfg.Thresholds, 2)
	first := cfg.Thresholds[0]
	assert.Equal(t, ">", first.GetOperator())
	assert.Equal(t, 100.0, first.GetThresholdValue())
	assert.Equal(t, 5, first.GetCooldownMinutes())
	assert.Equal(t, DefaultMessageTemplate, first.GetMessageTemplate())

	second := cfg.Thresholds[1]
	assert.Equal(t, DefaultOperator, second.GetOperator())
	assert.Equal(t, 0.0, second.GetThresholdValue())
	assert.Equal(t, DefaultCooldownMinutes, second.GetCooldownMinutes())
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv("WHATSAPP_ACCESS_TOKEN", "from-env")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.WhatsApp.AccessToken)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestParse_ExplicitValues(t *testing.T) {
	cfg, err := Parse([]byte(`
enabled: false
defaultMessagePrefix: ""
thresholds:
  - tagName: x
    cooldownMinutes: -4
    messageTemplate: ""
`))
	require.NoError(t, err)
	assert.False(t, cfg.IsEnabled())
	assert.Equal(t, "", cfg.MessagePrefix())
	assert.Equal(t, 0, cfg.Thresholds[0].GetCooldownMinutes())
	assert.Equal(t, "", cfg.Thresholds[0].GetMessageTemplate())
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad yaml", "thresholds: [", "unmarshal yaml"},
		{"channel", "dispatch: {channel: pigeon}", "unknown dispatch channel"},
		{"webhook url", "dispatch: {channel: webhook}", "dispatch.webhook.url"},
		{"driver", "storage: {driver: redis}", "unknown storage driver"},
		{"dsn", "storage: {driver: mysql}", "storage.dsn"},
		{"mqtt broker", "mqtt: {topic: t}", "mqtt.broker"},
		{"mqtt qos", "mqtt: {broker: tcp://x:1883, qos: 3}", "mqtt.qos"},
		{"kafka brokers", "kafka: {topic: t}", "kafka.brokers"},
		{"es addresses", "elasticsearch: {enabled: true}", "elasticsearch.addresses"},
		{"timezone", "scheduler: {timezone: Mars/Base}", "scheduler.timezone"},
		{"strict operator", "strictOperators: true\nthresholds: [{tagName: x, operator: '=>'}]", "unknown operator"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParse_LenientOperator(t *testing.T) {
	cfg, err := Parse([]byte("thresholds: [{tagName: x, operator: '=>'}]"))
	require.NoError(t, err)
	assert.Equal(t, "=>", cfg.Thresholds[0].GetOperator())
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "pump-1", cfg.DeviceName)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config")
}

func TestParseDurationDefault(t *testing.T) {
	assert.Equal(t, time.Minute, ParseDurationDefault("", time.Minute))
	assert.Equal(t, time.Minute, ParseDurationDefault("soon", time.Minute))
	assert.Equal(t, 3*time.Second, ParseDurationDefault("3s", time.Minute))
}

func TestLoad_SampleConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "config.yaml"))
	require.NoError(t, err)
	assert.Len(t, cfg.Thresholds, 2)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "0 */5 * * * *", cfg.Scheduler.HeartbeatCron)
}

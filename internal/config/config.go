package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultWhatsAppAPIURL  = "https://graph.facebook.com/v18.0"
	DefaultMessagePrefix   = "[Doover Alert]"
	DefaultMessageTemplate = "Alert: {tag_name} is {value}"
	DefaultOperator        = ">"
	DefaultCooldownMinutes = 15
	DefaultHistoryIndex    = "threshold-alerts"
)

type Config struct {
	Enabled              *bool               `yaml:"enabled"`
	DeviceName           string              `yaml:"deviceName"`
	DefaultMessagePrefix *string             `yaml:"defaultMessagePrefix"`
	StrictOperators      bool                `yaml:"strictOperators"`
	WhatsApp             WhatsAppConfig      `yaml:"whatsapp"`
	Recipients           string              `yaml:"recipients"`
	Thresholds           []ThresholdConfig   `yaml:"thresholds"`
	Dispatch             DispatchConfig      `yaml:"dispatch"`
	Storage              StorageConfig       `yaml:"storage"`
	MQTT                 MQTTConfig          `yaml:"mqtt"`
	Kafka                KafkaConfig         `yaml:"kafka"`
	Scheduler            SchedulerConfig     `yaml:"scheduler"`
	Elasticsearch        ElasticsearchConfig `yaml:"elasticsearch"`
	Web                  WebConfig           `yaml:"web"`
	Logging              LoggingConfig       `yaml:"logging"`
}

// IsEnabled reports the global alerting switch; an absent value means enabled.
func (c *Config) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// MessagePrefix returns the banner prepended to every alert. An explicit
// empty string disables it.
func (c *Config) MessagePrefix() string {
	if c.DefaultMessagePrefix == nil {
		return DefaultMessagePrefix
	}
	return *c.DefaultMessagePrefix
}

// ThresholdConfig is one rule as written in YAML. Pointer fields distinguish
// "absent" from zero so defaults can be applied.
type ThresholdConfig struct {
	TagName         string   `yaml:"tagName"`
	Operator        *string  `yaml:"operator"`
	ThresholdValue  *float64 `yaml:"thresholdValue"`
	MessageTemplate *string  `yaml:"messageTemplate"`
	CooldownMinutes *int     `yaml:"cooldownMinutes"`
}

func (t ThresholdConfig) GetOperator() string {
	if t.Operator == nil {
		return DefaultOperator
	}
	return *t.Operator
}

func (t ThresholdConfig) GetThresholdValue() float64 {
	if t.ThresholdValue == nil {
		return 0
	}
	return *t.ThresholdValue
}

func (t ThresholdConfig) GetMessageTemplate() string {
	if t.MessageTemplate == nil {
		return DefaultMessageTemplate
	}
	return *t.MessageTemplate
}

// GetCooldownMinutes returns the configured cooldown, clamping negatives to 0.
func (t ThresholdConfig) GetCooldownMinutes() int {
	if t.CooldownMinutes == nil {
		return DefaultCooldownMinutes
	}
	if *t.CooldownMinutes < 0 {
		return 0
	}
	return *t.CooldownMinutes
}

type WhatsAppConfig struct {
	APIURL        string `yaml:"apiURL"`
	PhoneNumberID string `yaml:"phoneNumberID"`
	AccessToken   string `yaml:"accessToken"`
	Timeout       string `yaml:"timeout"`
}

func (w WhatsAppConfig) GetTimeout() time.Duration {
	return ParseDurationDefault(w.Timeout, 30*time.Second)
}

type DispatchConfig struct {
	// Channel 可选 whatsapp | console | webhook，默认 whatsapp
	Channel string        `yaml:"channel"`
	Webhook WebhookConfig `yaml:"webhook"`
}

type WebhookConfig struct {
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
	Timeout string            `yaml:"timeout"`
}

type StorageConfig struct {
	Driver  string `yaml:"driver"` // memory | sqlite | mysql
	DSN     string `yaml:"dsn"`
	Timeout string `yaml:"timeout"`
}

func (s StorageConfig) GetTimeout() time.Duration {
	return ParseDurationDefault(s.Timeout, 30*time.Second)
}

type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"clientID"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	Topic       string `yaml:"topic"`
	QoS         byte   `yaml:"qos"`
	MarkerTopic string `yaml:"markerTopic"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"groupID"`
}

type SchedulerConfig struct {
	Timezone      string `yaml:"timezone"`
	HeartbeatCron string `yaml:"heartbeatCron"`
}

type ElasticsearchConfig struct {
	Enabled          bool     `yaml:"enabled"`
	Addresses        []string `yaml:"addresses"`
	Username         string   `yaml:"username"`
	Password         string   `yaml:"password"`
	CloudID          string   `yaml:"cloudId"`
	APIKey           string   `yaml:"apiKey"`
	TLSSkipVerify    bool     `yaml:"tlsSkipVerify"`
	RequestTimeout   string   `yaml:"requestTimeout"`
	Provider         string   `yaml:"provider"` // elasticsearch | opensearch
	SkipProductCheck bool     `yaml:"skipProductCheck"`
	Index            string   `yaml:"index"`
}

func (e ElasticsearchConfig) GetRequestTimeout() time.Duration {
	return ParseDurationDefault(e.RequestTimeout, 30*time.Second)
}

// WebConfig 控制内置 HTTP 服务（健康检查、指标、手动触发）
type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// ParseDurationDefault parses s, returning def when s is empty or malformed.
func ParseDurationDefault(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config bytes, applies defaults and environment
// overrides, then validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.WhatsApp.APIURL == "" {
		c.WhatsApp.APIURL = DefaultWhatsAppAPIURL
	}
	c.WhatsApp.APIURL = strings.TrimRight(c.WhatsApp.APIURL, "/")
	if c.DeviceName == "" {
		if host, err := os.Hostname(); err == nil {
			c.DeviceName = host
		}
	}
	if c.Dispatch.Channel == "" {
		c.Dispatch.Channel = "whatsapp"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Scheduler.Timezone == "" {
		c.Scheduler.Timezone = "UTC"
	}
	if c.Elasticsearch.Provider == "" {
		c.Elasticsearch.Provider = "elasticsearch"
	}
	if c.Elasticsearch.Index == "" {
		c.Elasticsearch.Index = DefaultHistoryIndex
	}
	if c.Web.Listen == "" {
		c.Web.Listen = ":8080"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "INFO"
	}
	// 环境变量优先级高于配置文件
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("WHATSAPP_ACCESS_TOKEN"); v != "" {
		c.WhatsApp.AccessToken = v
	}
}

var validOperators = map[string]bool{">": true, "<": true, ">=": true, "<=": true, "==": true, "!=": true}

// Validate checks the parts of the config that would otherwise fail late.
// Missing WhatsApp credentials are not an error here: dispatch refuses to
// send and logs instead, so rule evaluation still runs.
func (c *Config) Validate() error {
	var errs []error
	switch c.Dispatch.Channel {
	case "whatsapp", "console":
	case "webhook":
		if c.Dispatch.Webhook.URL == "" {
			errs = append(errs, errors.New("dispatch.webhook.url is required for the webhook channel"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown dispatch channel %q", c.Dispatch.Channel))
	}
	switch c.Storage.Driver {
	case "memory":
	case "sqlite", "mysql":
		if c.Storage.DSN == "" {
			errs = append(errs, fmt.Errorf("storage.dsn is required for driver %q", c.Storage.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}
	if c.MQTT.Topic != "" && c.MQTT.Broker == "" {
		errs = append(errs, errors.New("mqtt.broker is required when mqtt.topic is set"))
	}
	if c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS))
	}
	if c.Kafka.Topic != "" && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers is required when kafka.topic is set"))
	}
	if c.Elasticsearch.Enabled && len(c.Elasticsearch.Addresses) == 0 && c.Elasticsearch.CloudID == "" {
		errs = append(errs, errors.New("elasticsearch.addresses or cloudId is required when history is enabled"))
	}
	if c.StrictOperators {
		for i, t := range c.Thresholds {
			if !validOperators[strings.TrimSpace(t.GetOperator())] {
				errs = append(errs, fmt.Errorf("thresholds[%d].operator: unknown operator %q", i, t.GetOperator()))
			}
		}
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Package config provides configuration types and loading for cadence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration struct.
type Config struct {
	Agent     AgentConfig      `json:"agent"`
	Sources   []SourceConfig   `json:"sources"`
	Sinks     []SinkConfig     `json:"sinks"`
	Reactions []ReactionConfig `json:"reactions"`
	Relays    []RelayConfig    `json:"relays,omitempty"`
	Provider  ProviderConfig   `json:"provider"`
	Transport TransportConfig  `json:"transport"`
	Scheduler SchedulerConfig  `json:"scheduler"`
	Timeline  TimelineConfig   `json:"timeline"`
	Log       LogConfig        `json:"log"`
	Slack     SlackConfig      `json:"slack"`
}

// ---------------------------------------------------------------------------
// Agent – identity and hooks
// ---------------------------------------------------------------------------

// Hook names accepted in AgentConfig.
const (
	HookPassthrough = "passthrough"
	HookTrim        = "trim"
	HookJSON        = "json"
	HookFenced      = "fenced"
)

// AgentConfig describes the agent the process runs.
type AgentConfig struct {
	Name           string            `json:"name" envconfig:"NAME"`
	DisplayName    string            `json:"displayName" envconfig:"DISPLAY_NAME"`
	TemplateVars   map[string]string `json:"templateVars" envconfig:"TEMPLATE_VARS"`
	SyntheticDepth int               `json:"syntheticDepth" envconfig:"SYNTHETIC_DEPTH"`
	PreHook        string            `json:"preHook" envconfig:"PRE_HOOK"`
	PostHook       string            `json:"postHook" envconfig:"POST_HOOK"`
}

// SourceConfig declares an inbound source. History is the retained depth.
type SourceConfig struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	History     int    `json:"history"`
}

// SinkConfig declares a reply sink and its optional loop.
type SinkConfig struct {
	Name                 string         `json:"name"`
	Options              map[string]any `json:"options"`
	IntervalSeconds      float64        `json:"intervalSeconds,omitempty"`
	FixedIntervalSeconds float64        `json:"fixedIntervalSeconds,omitempty"`
}

// Interval returns the periodic interval, zero if none.
func (s SinkConfig) Interval() time.Duration {
	return time.Duration(s.IntervalSeconds * float64(time.Second))
}

// FixedInterval returns the fixed interval, zero if none.
func (s SinkConfig) FixedInterval() time.Duration {
	return time.Duration(s.FixedIntervalSeconds * float64(time.Second))
}

// ReactionConfig wires a source to a sink.
type ReactionConfig struct {
	Source string `json:"source"`
	Sink   string `json:"sink"`
}

// Relay kinds.
const (
	RelaySlack = "slack"
)

// RelayConfig forwards every reply published on Sink to a chat channel.
type RelayConfig struct {
	Sink    string `json:"sink"`
	Kind    string `json:"kind"`
	Channel string `json:"channel"`
}

// SlackConfig holds the bot credentials used by Slack relays.
type SlackConfig struct {
	BotToken string `json:"botToken,omitempty" envconfig:"BOT_TOKEN"`
	APIBase  string `json:"apiBase,omitempty" envconfig:"API_BASE"`
}

// ---------------------------------------------------------------------------
// Provider – generation backend
// ---------------------------------------------------------------------------

// Provider kinds.
const (
	ProviderOpenAI   = "openai"
	ProviderXAI      = "xai"
	ProviderLlamaCpp = "llamacpp"
)

// ProviderConfig configures the generation backend.
type ProviderConfig struct {
	Kind        string  `json:"kind" envconfig:"KIND"`
	APIKey      string  `json:"apiKey" envconfig:"API_KEY"`
	APIBase     string  `json:"apiBase" envconfig:"API_BASE"`
	Model       string  `json:"model" envconfig:"MODEL"`
	MaxTokens   int     `json:"maxTokens" envconfig:"MAX_TOKENS"`
	Temperature float64 `json:"temperature" envconfig:"TEMPERATURE"`
	Workers     int     `json:"workers" envconfig:"WORKERS"`
}

// ---------------------------------------------------------------------------
// Transport – message bus
// ---------------------------------------------------------------------------

// Transport kinds.
const (
	TransportInProc = "inproc"
	TransportKafka  = "kafka"
)

// TransportConfig configures the message transport.
type TransportConfig struct {
	Kind          string `json:"kind" envconfig:"KIND"`
	Brokers       string `json:"brokers" envconfig:"BROKERS"`
	ConsumerGroup string `json:"consumerGroup" envconfig:"CONSUMER_GROUP"`
	ClientID      string `json:"clientId" envconfig:"CLIENT_ID"`
}

// ---------------------------------------------------------------------------
// Scheduler, timeline, logging
// ---------------------------------------------------------------------------

// SchedulerConfig configures loop timing and the process lock.
type SchedulerConfig struct {
	PendingBackoffMs int    `json:"pendingBackoffMs" envconfig:"PENDING_BACKOFF_MS"`
	LockPath         string `json:"lockPath" envconfig:"LOCK_PATH"`
}

// PendingBackoff returns the periodic loop's backoff while generations are
// in flight.
func (s SchedulerConfig) PendingBackoff() time.Duration {
	return time.Duration(s.PendingBackoffMs) * time.Millisecond
}

// TimelineConfig configures the SQLite run log.
type TimelineConfig struct {
	Enabled bool   `json:"enabled" envconfig:"ENABLED"`
	DBPath  string `json:"dbPath" envconfig:"DB_PATH"`
}

// LogConfig configures slog output.
type LogConfig struct {
	Level  string `json:"level" envconfig:"LEVEL"`
	Format string `json:"format" envconfig:"FORMAT"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			Name:           "cadence",
			DisplayName:    "Cadence",
			SyntheticDepth: 1,
			PreHook:        HookTrim,
			PostHook:       HookPassthrough,
		},
		Provider: ProviderConfig{
			Kind:    ProviderOpenAI,
			Workers: 1,
		},
		Transport: TransportConfig{
			Kind:          TransportInProc,
			Brokers:       "localhost:9092",
			ConsumerGroup: "cadence",
			ClientID:      "cadence",
		},
		Scheduler: SchedulerConfig{
			PendingBackoffMs: 1000,
			LockPath:         "~/" + ConfigDir + "/scheduler.lock",
		},
		Timeline: TimelineConfig{
			Enabled: true,
			DBPath:  "~/" + ConfigDir + "/timeline.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks names are unique and every reference resolves.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Agent.Name) == "" {
		errs = append(errs, errors.New("agent.name is required"))
	}
	switch c.Agent.PreHook {
	case "", HookPassthrough, HookTrim:
	default:
		errs = append(errs, fmt.Errorf("agent.preHook: unknown hook %q", c.Agent.PreHook))
	}
	switch c.Agent.PostHook {
	case "", HookPassthrough, HookJSON, HookFenced:
	default:
		errs = append(errs, fmt.Errorf("agent.postHook: unknown hook %q", c.Agent.PostHook))
	}

	sources := make(map[string]bool, len(c.Sources))
	for i, s := range c.Sources {
		switch {
		case s.Name == "":
			errs = append(errs, fmt.Errorf("sources[%d]: name is required", i))
		case sources[s.Name]:
			errs = append(errs, fmt.Errorf("sources[%d]: duplicate source %q", i, s.Name))
		}
		sources[s.Name] = true
	}

	sinks := make(map[string]bool, len(c.Sinks))
	for i, s := range c.Sinks {
		switch {
		case s.Name == "":
			errs = append(errs, fmt.Errorf("sinks[%d]: name is required", i))
		case sinks[s.Name]:
			errs = append(errs, fmt.Errorf("sinks[%d]: duplicate sink %q", i, s.Name))
		}
		sinks[s.Name] = true
		if s.IntervalSeconds < 0 || s.FixedIntervalSeconds < 0 {
			errs = append(errs, fmt.Errorf("sinks[%d]: intervals must not be negative", i))
		}
		if s.IntervalSeconds > 0 && s.FixedIntervalSeconds > 0 {
			errs = append(errs, fmt.Errorf("sinks[%d]: set intervalSeconds or fixedIntervalSeconds, not both", i))
		}
	}

	for i, r := range c.Reactions {
		if !sources[r.Source] {
			errs = append(errs, fmt.Errorf("reactions[%d]: unknown source %q", i, r.Source))
		}
		if !sinks[r.Sink] {
			errs = append(errs, fmt.Errorf("reactions[%d]: unknown sink %q", i, r.Sink))
		}
		if r.Source == r.Sink {
			errs = append(errs, fmt.Errorf("reactions[%d]: %q would react to its own replies", i, r.Source))
		}
	}

	for i, r := range c.Relays {
		if !sinks[r.Sink] {
			errs = append(errs, fmt.Errorf("relays[%d]: unknown sink %q", i, r.Sink))
		}
		if r.Kind != RelaySlack {
			errs = append(errs, fmt.Errorf("relays[%d]: unknown relay kind %q", i, r.Kind))
		}
		if strings.TrimSpace(r.Channel) == "" {
			errs = append(errs, fmt.Errorf("relays[%d]: channel is required", i))
		}
	}

	switch c.Provider.Kind {
	case ProviderOpenAI, ProviderXAI, ProviderLlamaCpp:
	default:
		errs = append(errs, fmt.Errorf("provider.kind: unknown provider %q", c.Provider.Kind))
	}
	switch c.Transport.Kind {
	case TransportInProc:
	case TransportKafka:
		if strings.TrimSpace(c.Transport.Brokers) == "" {
			errs = append(errs, errors.New("transport.brokers is required for kafka"))
		}
	default:
		errs = append(errs, fmt.Errorf("transport.kind: unknown transport %q", c.Transport.Kind))
	}
	return errors.Join(errs...)
}

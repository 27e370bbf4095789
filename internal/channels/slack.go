package channels

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/KafClaw/cadence/internal/bus"
	"github.com/slack-go/slack"
)

const defaultSlackAPIBase = "https://slack.com/api"

// SlackConfig configures a SlackChannel.
type SlackConfig struct {
	BotToken string
	APIBase  string
	Channel  string
	Client   *http.Client
}

// SlackChannel posts replies into one Slack conversation.
type SlackChannel struct {
	api        *slack.Client
	channel    string
	retryDelay time.Duration
}

// NewSlackChannel validates cfg and builds a client for it.
func NewSlackChannel(cfg SlackConfig) (*SlackChannel, error) {
	token := strings.TrimSpace(cfg.BotToken)
	if token == "" {
		return nil, errors.New("missing slack bot token")
	}
	channel := strings.TrimSpace(cfg.Channel)
	if channel == "" {
		return nil, errors.New("missing slack channel")
	}
	base := strings.TrimSpace(cfg.APIBase)
	if base == "" {
		base = defaultSlackAPIBase
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	api := slack.New(token,
		slack.OptionHTTPClient(client),
		slack.OptionAPIURL(strings.TrimRight(base, "/")+"/"),
	)
	return &SlackChannel{api: api, channel: channel, retryDelay: 200 * time.Millisecond}, nil
}

// Name implements Channel.
func (s *SlackChannel) Name() string { return "slack:" + s.channel }

// Deliver implements Channel.
func (s *SlackChannel) Deliver(ctx context.Context, env *bus.Envelope) error {
	text := strings.TrimSpace(env.Content)
	return withRetry(ctx, 3, s.retryDelay, func() (bool, time.Duration, error) {
		_, _, err := s.api.PostMessageContext(ctx, s.channel, slack.MsgOptionText(text, false))
		return slackRetryDecision(err)
	})
}

// slackRetryDecision retries rate-limited calls, waiting the advertised delay.
func slackRetryDecision(err error) (bool, time.Duration, error) {
	if err == nil {
		return false, 0, nil
	}
	var rle *slack.RateLimitedError
	if errors.As(err, &rle) && rle != nil {
		return true, rle.RetryAfter, err
	}
	return false, 0, err
}

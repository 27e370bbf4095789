package agent

import (
	"fmt"

	"github.com/KafClaw/cadence/internal/config"
	"github.com/KafClaw/cadence/internal/hooks"
)

// PreHookFor returns the pre-hook named in the agent config.
func PreHookFor(cfg config.AgentConfig) (hooks.PreHook, error) {
	switch cfg.PreHook {
	case "", config.HookPassthrough:
		return hooks.Passthrough{}, nil
	case config.HookTrim:
		return hooks.TrimSpace, nil
	default:
		return nil, fmt.Errorf("unknown pre-hook %q", cfg.PreHook)
	}
}

// PostHookFor returns the post-hook named in the agent config. Reply hooks
// record the agent's own messages under its display name.
func PostHookFor(cfg config.AgentConfig) (hooks.PostHook, error) {
	name := cfg.DisplayName
	if name == "" {
		name = cfg.Name
	}
	switch cfg.PostHook {
	case "", config.HookPassthrough:
		return hooks.Passthrough{}, nil
	case config.HookJSON:
		return hooks.NewJSONReply(name), nil
	case config.HookFenced:
		return hooks.NewFencedReply(name), nil
	default:
		return nil, fmt.Errorf("unknown post-hook %q", cfg.PostHook)
	}
}

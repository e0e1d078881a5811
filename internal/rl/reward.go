package rl

// Outcome is the raw signal the orchestrator (C8) observes when a delegated
// task completes, from which Reward computes the scalar reward fed to the
// policy (§4.7).
type Outcome struct {
	Success        bool
	TokensUsed     float64
	MaxTokens      float64
	DurationMillis float64
	MaxDuration    float64
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// Reward computes r = (success ? 1.0 : -0.5)
//
//	+ 0.2 * clamp01(1 - tokens_used/max_tokens)
//	+ 0.1 * clamp01(1 - duration_ms/max_duration_ms),
//
// per §4.7. A zero MaxTokens/MaxDuration is treated as "no budget to
// compare against" and contributes nothing for that term.
func Reward(o Outcome) float64 {
	r := -0.5
	if o.Success {
		r = 1.0
	}
	if o.MaxTokens > 0 {
		r += 0.2 * clamp01(1-o.TokensUsed/o.MaxTokens)
	}
	if o.MaxDuration > 0 {
		r += 0.1 * clamp01(1-o.DurationMillis/o.MaxDuration)
	}
	return r
}

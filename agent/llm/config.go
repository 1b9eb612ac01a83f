package llm

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/legal-lead-agents/agent/contract"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = time.Second
	defaultCallTimeout = 15 * time.Second
)

// InvokerConfig controls the retry discipline around each model call.
type InvokerConfig struct {
	MaxAttempts int           `split_words:"true" default:"3"`
	BaseDelay   time.Duration `split_words:"true" default:"1s"`
	MaxDelay    time.Duration `split_words:"true" default:"8s"`
	Jitter      time.Duration `split_words:"true" default:"0s"`
	CallTimeout time.Duration `split_words:"true" default:"15s"`
	MaxTokens   int           `split_words:"true" default:"1200"`
}

func (c InvokerConfig) Validate() error {
	if c.MaxAttempts < 1 || c.MaxAttempts > 10 {
		return fmt.Errorf("%w: max attempts must be within [1,10], got %d", contractx.ErrValidation, c.MaxAttempts)
	}
	if c.BaseDelay < 0 || c.MaxDelay < 0 || c.Jitter < 0 {
		return fmt.Errorf("%w: backoff durations must be >= 0", contractx.ErrValidation)
	}
	if c.CallTimeout <= 0 {
		return fmt.Errorf("%w: call timeout must be > 0", contractx.ErrValidation)
	}
	return nil
}

func (c InvokerConfig) normalized() InvokerConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = defaultBaseDelay
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = defaultCallTimeout
	}
	return c
}

// WorstCaseLatency bounds a single agent invocation: every attempt times out and
// every backoff delay is paid in full.
func (c InvokerConfig) WorstCaseLatency() time.Duration {
	c = c.normalized()
	total := time.Duration(c.MaxAttempts) * c.CallTimeout
	delay := c.BaseDelay
	for i := 1; i < c.MaxAttempts; i++ {
		d := delay
		if c.MaxDelay > 0 && d > c.MaxDelay {
			d = c.MaxDelay
		}
		total += d + c.Jitter
		delay *= 2
	}
	return total
}

// ModelDefaults are applied when a persona does not pin its own model or temperature.
type ModelDefaults struct {
	Model       string
	Temperature float32
	MaxTokens   int
}

// resolveModel picks the model name and temperature for a persona call.
func (d ModelDefaults) resolve(persona contractx.Persona, override *float32) (string, *float32) {
	modelName := strings.TrimSpace(d.Model)
	if v := strings.TrimSpace(persona.Model); v != "" {
		modelName = v
	}

	temp := d.Temperature
	if persona.Temperature != nil && *persona.Temperature >= 0 {
		temp = *persona.Temperature
	}
	if override != nil && *override >= 0 {
		temp = *override
	}
	return modelName, &temp
}

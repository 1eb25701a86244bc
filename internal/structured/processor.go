// Package structured turns a message and its context into a validated
// StructuredAIResponse. Generator output is untrusted: every step
// degrades to a safe default instead of failing the request.
package structured

import (
	"context"
	"time"

	"github.com/quantumlife/companion/internal/clock"
	"github.com/quantumlife/companion/internal/core"
	"github.com/quantumlife/companion/internal/llm"
	"github.com/quantumlife/companion/internal/logging"
)

// DefaultTimeout bounds one generation call.
const DefaultTimeout = 30 * time.Second

// Result is the processed response and how it was obtained.
type Result struct {
	Response *core.StructuredAIResponse `json:"response"`
	Mode     Mode                       `json:"mode"`
	Degraded bool                       `json:"degraded"`
	Reason   string                     `json:"reason,omitempty"`
	Prompt   string                     `json:"-"`
	Raw      string                     `json:"-"`
}

// Processor calls the generator and parses its output.
type Processor struct {
	gen     llm.Generator
	clock   clock.Clock
	timeout time.Duration
	log     *logging.Logger
}

// NewProcessor creates a processor. A nil generator means demo mode.
func NewProcessor(gen llm.Generator, clk clock.Clock, timeout time.Duration) *Processor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Processor{
		gen:     gen,
		clock:   clk,
		timeout: timeout,
		log:     logging.Component("structured"),
	}
}

// Process produces a response for message. It never returns nil.
func (p *Processor) Process(ctx context.Context, message string, intent *core.MessageIntent, ectx *core.EnhancedContext, user *UserData) *Result {
	if intent == nil {
		intent = &core.MessageIntent{PrimaryIntent: core.IntentGeneralChat}
	}
	if ectx == nil {
		ectx = core.NewEnhancedContext()
	}
	now := p.clock.Now()
	prompt := BuildPrompt(now, message, intent, ectx, user)

	if p.gen == nil || !p.gen.IsConfigured() {
		return &Result{
			Response: Demo(message, intent, now),
			Mode:     ModeDemo,
			Reason:   "no generator configured",
			Prompt:   prompt,
		}
	}

	genCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	raw, err := p.gen.Chat(genCtx, SystemPrompt, prompt)
	if err != nil {
		p.log.WithFields(map[string]interface{}{
			"error":    err,
			"duration": time.Since(start).String(),
		}).Warn("generation failed, using demo response")
		return &Result{
			Response: Demo(message, intent, now),
			Mode:     ModeDemo,
			Degraded: true,
			Reason:   err.Error(),
			Prompt:   prompt,
		}
	}

	resp, mode, reason := Parse(raw, now)
	res := &Result{
		Response: resp,
		Mode:     mode,
		Degraded: mode == ModeSalvaged || mode == ModeFallback,
		Reason:   reason,
		Prompt:   prompt,
		Raw:      raw,
	}
	if res.Degraded {
		p.log.WithFields(map[string]interface{}{
			"mode":   string(mode),
			"reason": reason,
			"length": len(raw),
		}).Warn("generator output did not match the contract")
	} else {
		p.log.Debug("structured response: mode=%s actions=%d", mode, resp.ActionCount())
	}
	return res
}

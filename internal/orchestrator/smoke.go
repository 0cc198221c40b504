package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/randomizedcoder/go-llama-supervisor/internal/completion"
	"github.com/randomizedcoder/go-llama-supervisor/internal/process"
)

// smokePrompt is sent to the wrapper in check mode.
const smokePrompt = "Reply with the single word: ready"

// smokeTest waits for the wrapper to accept connections and sends it one
// chat completion. The completion is recorded on the session's collector.
func (o *Orchestrator) smokeTest(ctx context.Context, baseURL, addr string) error {
	if err := process.WaitForListener(ctx, addr, probeInterval); err != nil {
		return err
	}

	backoff := completion.DefaultBackoffConfig()
	client, err := completion.New(completion.Config{
		BaseURL:  baseURL,
		Model:    completion.DefaultModel,
		Endpoint: completion.EndpointChat,
		Budget:   completion.DefaultRetryBudget(),
		Backoff:  &backoff,
		Logger:   o.logger,
		Recorder: o.metrics,
	})
	if err != nil {
		return fmt.Errorf("check: %w", err)
	}

	start := time.Now()
	text, err := client.Complete(ctx, []completion.Message{completion.NewUserMessage(smokePrompt)})
	if err != nil {
		return fmt.Errorf("check: completion via %s: %w", client.URL(), err)
	}

	o.logger.Info("check_passed",
		"url", client.URL(),
		"duration", time.Since(start).Round(time.Millisecond).String(),
		"reply", text,
	)
	o.recent.Add("[check] completion ok: " + text)
	return nil
}

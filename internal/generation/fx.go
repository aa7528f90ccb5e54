package generation

import (
	"context"

	"github.com/glidestudio/glide/internal/config"
	"github.com/glidestudio/glide/internal/dispatch"
	"github.com/glidestudio/glide/pkg/ai"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("generation",
	fx.Provide(newGenerator),
	fx.Provide(NewWorker),
	fx.Invoke(startConsumers),
)

// newGenerator assembles the prioritized backend list from configuration.
// Order is priority order; unconfigured backends are skipped.
func newGenerator(cfg config.Config, log *zap.Logger) (ai.TextGenerator, error) {
	var backends []ai.TextGenerator

	if cfg.Models.OpenAIBaseURL != "" && cfg.Models.OpenAIModel != "" {
		backends = append(backends, ai.NewOpenAICompatGenerator(
			cfg.Models.OpenAIBaseURL, cfg.Models.OpenAIAPIKey, cfg.Models.OpenAIModel,
		))
	}
	if cfg.Models.GeminiAPIKey != "" {
		gemini, err := ai.NewGeminiGenerator(cfg.Models.GeminiAPIKey, cfg.Models.GeminiModel)
		if err != nil {
			return nil, err
		}
		backends = append(backends, gemini)
	}
	if cfg.Models.OllamaBaseURL != "" && cfg.Models.OllamaModel != "" {
		backends = append(backends, ai.NewOllamaGenerator(
			cfg.Models.OllamaBaseURL, cfg.Models.OllamaModel,
		))
	}

	names := make([]string, 0, len(backends))
	for _, b := range backends {
		names = append(names, b.Name())
	}
	log.Info("generation backends configured", zap.Strings("backends", names))

	return ai.NewFallbackGenerator(backends...)
}

func startConsumers(lc fx.Lifecycle, cfg config.Config, queue *dispatch.Queue, worker *Worker) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			queue.OnExhausted(worker.HandleExhausted)
			queue.Start(ctx, cfg.Jobs.Concurrency, worker.Handle)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

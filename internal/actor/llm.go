package actor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"storyline/internal/config"
	"storyline/internal/parser"
)

// LLM invokes a langchaingo model with a single prompt per sub-task.
type LLM struct {
	Model   llms.Model
	Limiter *rate.Limiter
	Options []llms.CallOption
	Logger  *zap.Logger
}

func (l *LLM) Invoke(ctx context.Context, req Request) (Response, error) {
	if l.Limiter != nil {
		if err := l.Limiter.Wait(ctx); err != nil {
			return Response{}, &InvocationError{Task: req.Task, Err: err}
		}
	}
	raw, err := llms.GenerateFromSinglePrompt(ctx, l.Model, req.Prompt(), l.Options...)
	if err != nil {
		return Response{}, &InvocationError{Task: req.Task, Err: err}
	}
	if strings.TrimSpace(raw) == "" {
		return Response{}, &InvocationError{Task: req.Task, Err: ErrEmptyReply}
	}
	resp := Response{Task: req.Task, Raw: raw}
	if req.Schema != "" {
		if js := parser.ExtractJSON(raw); js != "" && json.Valid([]byte(js)) {
			resp.Payload = json.RawMessage(js)
		} else if l.Logger != nil {
			l.Logger.Debug("no structured payload in reply", zap.String("task", req.Task), zap.String("schema", req.Schema))
		}
	}
	return resp, nil
}

// New builds the binding named by cfg.Provider. The scripted provider
// replays cfg.Script when set and is otherwise empty for the caller to load.
func New(cfg config.Actor, logger *zap.Logger) (Actor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		model llms.Model
		err   error
	)
	switch cfg.Provider {
	case "", "scripted":
		if cfg.Script != "" {
			return LoadScriptFile(cfg.Script)
		}
		return NewScripted(), nil
	case "openai":
		opts := []openai.Option{openai.WithToken(cfg.APIKey())}
		if cfg.Model != "" {
			opts = append(opts, openai.WithModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		model, err = openai.New(opts...)
	case "ollama":
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		model, err = ollama.New(opts...)
	case "anthropic":
		opts := []anthropic.Option{anthropic.WithToken(cfg.APIKey())}
		if cfg.Model != "" {
			opts = append(opts, anthropic.WithModel(cfg.Model))
		}
		model, err = anthropic.New(opts...)
	default:
		return nil, fmt.Errorf("unknown actor provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s model: %w", cfg.Provider, err)
	}
	l := &LLM{Model: model, Logger: logger}
	if cfg.Temperature > 0 {
		l.Options = append(l.Options, llms.WithTemperature(cfg.Temperature))
	}
	if cfg.MaxTokens > 0 {
		l.Options = append(l.Options, llms.WithMaxTokens(cfg.MaxTokens))
	}
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		l.Limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return l, nil
}

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/harun/seance/internal/observability"
	"github.com/harun/seance/internal/tracing"
	"github.com/harun/seance/pkg/llm"
	"github.com/harun/seance/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	DefaultMaxRounds     = 5
	DefaultHistoryWindow = 10
	DefaultResultLimit   = 8000

	resultSeparator = "\n\n---\n\n"
)

// ModelStreamer streams one model call, see llm.Client.
type ModelStreamer interface {
	Stream(ctx context.Context, model string, messages []llm.Message, tools []llm.Tool, caps *llm.Capabilities, emit func(string) error) (llm.StreamResult, error)
}

// ToolBox lists and invokes external tools, see toolexecutor.Registry.
type ToolBox interface {
	ListTools(ctx context.Context) []toolexecutor.ToolSpec
	Invoke(ctx context.Context, name string, args map[string]any) (string, error)
}

// Runner drives the round loop of a chat turn.
type Runner struct {
	model         ModelStreamer
	tools         ToolBox
	extractor     *Extractor
	maxRounds     int
	historyWindow int
	resultLimit   int
	directive     string
	queryArg      string
	logger        zerolog.Logger
}

// Config holds runner configuration
type Config struct {
	Model     ModelStreamer
	Tools     ToolBox
	Extractor *Extractor
	Logger    zerolog.Logger

	MaxRounds     int
	HistoryWindow int
	// ResultLimit caps each folded tool result, in characters. Negative disables.
	ResultLimit int
	// Directive is appended to the last user message on the first round only.
	Directive string
	// QueryArgument is the argument shown in previews.
	QueryArgument string
}

// NewRunner creates a new round controller
func NewRunner(cfg Config) (*Runner, error) {
	observability.EnsureRegistered()

	if cfg.Model == nil {
		return nil, fmt.Errorf("model streamer is required")
	}
	if cfg.Tools == nil {
		return nil, fmt.Errorf("tool box is required")
	}
	if cfg.Extractor == nil {
		return nil, fmt.Errorf("extractor is required")
	}
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = DefaultMaxRounds
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = DefaultHistoryWindow
	}
	if cfg.ResultLimit == 0 {
		cfg.ResultLimit = DefaultResultLimit
	}
	if cfg.QueryArgument == "" {
		cfg.QueryArgument = "search_query"
	}

	return &Runner{
		model:         cfg.Model,
		tools:         cfg.Tools,
		extractor:     cfg.Extractor,
		maxRounds:     cfg.MaxRounds,
		historyWindow: cfg.HistoryWindow,
		resultLimit:   cfg.ResultLimit,
		directive:     cfg.Directive,
		queryArg:      cfg.QueryArgument,
		logger:        cfg.Logger.With().Str("component", "runner").Logger(),
	}, nil
}

// RunTurn answers one user turn. It streams model text and tool previews to
// sink and loops while the model keeps asking for tools, up to MaxRounds.
// Reaching the cap ends the turn normally.
func (r *Runner) RunTurn(ctx context.Context, model string, messages []Message, sink Sink) (TurnResult, error) {
	ctx, span := tracing.StartSpan(ctx, "seance.agent", "agent.turn",
		attribute.String("model", model),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, r.logger).With().Str("model", model).Logger()

	result := TurnResult{Model: model}
	schema := toolexecutor.ToModelSchema(r.tools.ListTools(ctx))

	working := make([]Message, len(messages))
	copy(working, messages)

	for round := 0; round < r.maxRounds; round++ {
		working = Trim(working, r.historyWindow)
		view := working
		if round == 0 {
			view = WithDirective(working, r.directive)
		}

		caps := llm.NewCapabilities()
		out, err := r.model.Stream(ctx, model, view, schema, caps, sink.Text)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return result, fmt.Errorf("round %d: %w", round+1, err)
		}

		rnd := Round{Index: round, Text: out.Text, Retried: out.Retried}
		rnd.Calls, rnd.Strategy = out.ToolCalls, StrategyNative
		if len(rnd.Calls) == 0 {
			rnd.Calls, rnd.Strategy = r.extractor.Extract(out.Text)
		}

		if len(rnd.Calls) == 0 {
			rnd.Strategy = ""
			result.Rounds = append(result.Rounds, rnd)
			break
		}
		observability.RecordExtraction(rnd.Strategy)
		logger.Info().
			Int("round", round+1).
			Int("calls", len(rnd.Calls)).
			Str("strategy", rnd.Strategy).
			Msg("Tool calls detected")

		rnd.Results, err = r.execute(ctx, round, rnd.Calls, sink)
		result.Rounds = append(result.Rounds, rnd)
		if err != nil {
			span.RecordError(err)
			return result, err
		}

		working = append(working,
			Message{Role: RoleAssistant, Content: out.Text},
			Message{Role: RoleUser, Content: r.fold(round, rnd.Results)},
		)
	}

	span.SetAttributes(attribute.Int("rounds", len(result.Rounds)))
	span.SetStatus(codes.Ok, "completed")
	return result, nil
}

// execute runs calls sequentially. Only a sink failure aborts; tool
// failures become result text.
func (r *Runner) execute(ctx context.Context, round int, calls []ToolCall, sink Sink) ([]ToolResult, error) {
	logger := tracing.LoggerFromContext(ctx, r.logger)
	results := make([]ToolResult, 0, len(calls))

	for _, call := range calls {
		if err := sink.Preview(call.Name, r.previewArgument(call.Arguments)); err != nil {
			return results, err
		}

		start := time.Now()
		text, err := r.tools.Invoke(ctx, call.Name, call.Arguments)
		if err != nil {
			logger.Error().Err(err).Int("round", round+1).Str("tool", call.Name).Msg("Tool execution failed")
			text = fmt.Sprintf("Error executing tool: %v", err)
		} else {
			logger.Info().
				Int("round", round+1).
				Str("tool", call.Name).
				Int("chars", len(text)).
				Dur("duration", time.Since(start)).
				Msg("Tool returned")
		}

		results = append(results, ToolResult{
			Tool:      call.Name,
			Arguments: call.Arguments,
			Text:      text,
			Err:       err,
		})
	}
	return results, nil
}

func (r *Runner) previewArgument(args map[string]any) string {
	if v, ok := args[r.queryArg]; ok {
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprint(v)
	}
	return formatArguments(args)
}

// fold renders a round's results as the user turn fed back to the model.
func (r *Runner) fold(round int, results []ToolResult) string {
	parts := make([]string, 0, len(results))
	for _, res := range results {
		parts = append(parts, fmt.Sprintf("[%s(%s)]\n%s", res.Tool, formatArguments(res.Arguments), Truncate(res.Text, r.resultLimit)))
	}

	return fmt.Sprintf("[TOOL RESULTS — %d queries executed]\n%s\n\n"+
		"[Analyze ALL results above. If data answers the user's question, present it clearly. "+
		"If not, try different search approaches. Round %d of %d.]",
		len(results), strings.Join(parts, resultSeparator), round+1, r.maxRounds)
}

// Truncate caps text at limit characters and says how much was dropped.
// A non-positive limit disables truncation.
func Truncate(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return fmt.Sprintf("%s\n[truncated %d characters]", string(runes[:limit]), len(runes)-limit)
}

// FormatPreview renders the inline notice sent before a tool runs.
func FormatPreview(tool, argument string) string {
	return fmt.Sprintf("\n\n_`%s` → `%s`_\n\n", tool, argument)
}

func formatArguments(args map[string]any) string {
	if args == nil {
		return "{}"
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprint(args)
	}
	return string(data)
}

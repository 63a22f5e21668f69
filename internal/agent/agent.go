// Package agent runs the conversation loop: one user message in, tool
// rounds against the tracker, one spoken reply out.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nugget/cradle-ai-agent/internal/convlog"
	"github.com/nugget/cradle-ai-agent/internal/huckleberry"
	"github.com/nugget/cradle-ai-agent/internal/llm"
	"github.com/nugget/cradle-ai-agent/internal/prompts"
	"github.com/nugget/cradle-ai-agent/internal/session"
	"github.com/nugget/cradle-ai-agent/internal/tools"
)

// Result is the outcome of handling one message.
type Result struct {
	Reply     string
	Done      bool
	TurnCount int
}

// Loop drives conversations for the message endpoint.
type Loop struct {
	llm      llm.Client
	registry *tools.Registry
	sessions *session.Store
	hb       *huckleberry.Client
	log      *convlog.Store // nil disables transcript logging

	model           string
	classifierModel string
	maxToolRounds   int
	messageTimeout  time.Duration

	logger *slog.Logger
}

// Config carries the Loop's collaborators and tuning.
type Config struct {
	LLM      llm.Client
	Registry *tools.Registry
	Sessions *session.Store
	HB       *huckleberry.Client
	ConvLog  *convlog.Store

	Model           string
	ClassifierModel string
	MaxToolRounds   int
	MessageTimeout  time.Duration

	Logger *slog.Logger
}

// New creates a conversation loop.
func New(cfg Config) *Loop {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxRounds := cfg.MaxToolRounds
	if maxRounds <= 0 {
		maxRounds = 10
	}
	timeout := cfg.MessageTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	classifier := cfg.ClassifierModel
	if classifier == "" {
		classifier = cfg.Model
	}
	return &Loop{
		llm:             cfg.LLM,
		registry:        cfg.Registry,
		sessions:        cfg.Sessions,
		hb:              cfg.HB,
		log:             cfg.ConvLog,
		model:           cfg.Model,
		classifierModel: classifier,
		maxToolRounds:   maxRounds,
		messageTimeout:  timeout,
		logger:          logger,
	}
}

// HandleMessage runs one conversation turn. The session's stored
// history advances only if the turn completes; a timeout or LLM
// failure leaves the session exactly as it was.
func (l *Loop) HandleMessage(ctx context.Context, sessionID, text string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, l.messageTimeout)
	defer cancel()

	var result *Result
	err := l.sessions.WithSession(ctx, sessionID, func(s *session.Session) error {
		turn, err := l.runTurn(ctx, s, text)
		if err != nil {
			return err
		}
		result = turn
		return nil
	})
	if err != nil {
		return nil, err
	}

	if l.log != nil {
		rec := convlog.Record{
			SessionID: sessionID,
			Turn:      result.TurnCount,
			UserText:  text,
			Reply:     result.Reply,
			Done:      result.Done,
		}
		// Logging is best-effort; the reply already happened.
		logCtx, logCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer logCancel()
		if err := l.log.Append(logCtx, rec); err != nil {
			l.logger.Error("conversation log append failed", "error", err)
		}
	}

	return result, nil
}

// runTurn executes the tool-calling loop on a working copy of the
// session history and commits the copy only on success.
func (l *Loop) runTurn(ctx context.Context, s *session.Session, text string) (*Result, error) {
	working := l.systemMessages()
	working = append(working, s.History...)
	working = append(working, llm.Message{Role: "user", Content: text})

	start := time.Now()
	var final llm.Message
	answered := false

	for round := range l.maxToolRounds {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := l.llm.Chat(ctx, l.model, working, l.registry.List())
		if err != nil {
			return nil, fmt.Errorf("llm call failed (round %d): %w", round, err)
		}

		l.logger.Debug("llm response",
			"session_id", s.ID,
			"round", round,
			"tool_calls", len(resp.Message.ToolCalls),
		)

		if len(resp.Message.ToolCalls) == 0 {
			// An empty reply (e.g. a truncated completion) is not an
			// answer; fall through to the forced text call below.
			if resp.Message.Content == "" {
				break
			}
			working = append(working, resp.Message)
			final = resp.Message
			answered = true
			break
		}

		working = append(working, resp.Message)
		for _, tc := range resp.Message.ToolCalls {
			content, err := l.executeTool(ctx, s.ID, tc)
			if err != nil {
				return nil, err
			}
			working = append(working, llm.Message{
				Role:       "tool",
				Content:    content,
				ToolCallID: tc.ID,
			})
		}
	}

	if !answered {
		// No text answer arrived within the tool rounds. One last call
		// with tools withheld forces the model to speak.
		l.logger.Warn("no text answer from model, forcing text reply",
			"session_id", s.ID,
			"max_rounds", l.maxToolRounds,
		)
		resp, err := l.llm.Chat(ctx, l.model, working, nil)
		if err != nil {
			return nil, fmt.Errorf("forced text reply failed: %w", err)
		}
		working = append(working, resp.Message)
		final = resp.Message
	}

	done := l.classifyDone(ctx, text, final.Content)

	// Commit: everything after the regenerated system messages becomes
	// the new stored history.
	s.History = working[len(l.systemMessages()):]
	s.TurnCount++

	l.logger.Info("turn complete",
		"session_id", s.ID,
		"turn", s.TurnCount,
		"done", done,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)

	return &Result{
		Reply:     final.Content,
		Done:      done,
		TurnCount: s.TurnCount,
	}, nil
}

// executeTool runs one tool call. Auth failures abort the turn; every
// other failure becomes a structured tool result the model can react to.
func (l *Loop) executeTool(ctx context.Context, sessionID string, tc llm.ToolCall) (string, error) {
	l.logger.Info("tool exec", "session_id", sessionID, "tool", tc.Function.Name)

	result, err := l.registry.ExecuteArgs(ctx, tc.Function.Name, tc.Function.Arguments)
	if err != nil {
		var authErr *huckleberry.AuthError
		if errors.As(err, &authErr) {
			return "", authErr
		}
		l.logger.Warn("tool exec failed",
			"session_id", sessionID,
			"tool", tc.Function.Name,
			"error", err,
		)
		return tools.FailureContent(err), nil
	}
	return result, nil
}

// systemMessages builds the per-turn system context: behavior rules
// plus the live state block. Regenerated every turn so the model never
// sees stale state from earlier in the conversation.
func (l *Loop) systemMessages() []llm.Message {
	msgs := []llm.Message{
		{Role: "system", Content: prompts.SystemPrompt(l.hb.ChildName())},
	}

	state, err := l.hb.Status()
	if err != nil {
		msgs = append(msgs, llm.Message{Role: "system", Content: prompts.StateUnavailable})
	} else {
		msgs = append(msgs, llm.Message{
			Role:    "system",
			Content: prompts.CurrentState(state.Summary(l.hb.Timezone())),
		})
	}
	return msgs
}

// classifyDone asks the cheap model whether the session should close.
// Any failure or odd answer keeps the conversation open: cutting off a
// parent mid-thought is worse than an extra listening window.
func (l *Loop) classifyDone(ctx context.Context, userText, reply string) bool {
	msgs := []llm.Message{
		{Role: "system", Content: prompts.DoneClassifier()},
		{Role: "user", Content: prompts.DoneClassifierTurn(userText, reply)},
	}

	resp, err := l.llm.Chat(ctx, l.classifierModel, msgs, nil)
	if err != nil {
		l.logger.Warn("done classification failed", "error", err)
		return false
	}

	answer := strings.ToUpper(strings.TrimSpace(resp.Message.Content))
	return strings.HasPrefix(answer, "YES")
}

// Package tools defines the tools available to the agent.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nugget/cradle-ai-agent/internal/huckleberry"
)

// Tool represents a callable tool.
type Tool struct {
	Name        string                                                          `json:"name"`
	Description string                                                          `json:"description"`
	Parameters  map[string]any                                                  `json:"parameters"`
	Handler     func(ctx context.Context, args map[string]any) (string, error) `json:"-"`
}

// Registry holds the fixed tool set exposed to the model.
type Registry struct {
	tools  map[string]*Tool
	order  []string
	hb     *huckleberry.Client
	logger *slog.Logger
}

// NewRegistry creates a tool registry bound to the tracking client.
func NewRegistry(hb *huckleberry.Client, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		tools:  make(map[string]*Tool),
		hb:     hb,
		logger: logger,
	}
	r.registerBuiltins()
	return r
}

func (r *Registry) registerBuiltins() {
	r.Register(&Tool{
		Name:        "get_current_status",
		Description: "Get the baby's current tracked state: whether she is asleep, whether a nursing session is running and on which side, and the most recent diaper and bottle.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: r.handleGetCurrentStatus,
	})

	r.Register(&Tool{
		Name:        "start_sleep",
		Description: "Start a sleep session. Use when the baby falls asleep or goes down for a nap.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: r.handleStartSleep,
	})

	r.Register(&Tool{
		Name:        "pause_sleep",
		Description: "Pause the current sleep session. Use when the baby stirs or briefly wakes but the session should stay open.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: r.handlePauseSleep,
	})

	r.Register(&Tool{
		Name:        "resume_sleep",
		Description: "Resume a paused sleep session. Use when the baby settles back down.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: r.handleResumeSleep,
	})

	r.Register(&Tool{
		Name:        "complete_sleep",
		Description: "End the current sleep session and save it. Use when the baby wakes up.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: r.handleCompleteSleep,
	})

	r.Register(&Tool{
		Name:        "cancel_sleep",
		Description: "Discard the current sleep session without saving it. Use when a sleep was started by mistake.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: r.handleCancelSleep,
	})

	r.Register(&Tool{
		Name:        "start_feeding",
		Description: "Start a nursing session. Optionally specify which side; defaults to left.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"side": map[string]any{
					"type":        "string",
					"enum":        []string{"left", "right"},
					"description": "Which side to start on",
				},
			},
		},
		Handler: r.handleStartFeeding,
	})

	r.Register(&Tool{
		Name:        "pause_feeding",
		Description: "Pause the current nursing session without ending it. Use for a burp break or interruption.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: r.handlePauseFeeding,
	})

	r.Register(&Tool{
		Name:        "resume_feeding",
		Description: "Resume a paused nursing session on the same side.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: r.handleResumeFeeding,
	})

	r.Register(&Tool{
		Name:        "switch_feeding_side",
		Description: "Switch the active nursing session to the other side. Takes no arguments; the current side is known.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: r.handleSwitchFeedingSide,
	})

	r.Register(&Tool{
		Name:        "complete_feeding",
		Description: "End the current nursing session and save it.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: r.handleCompleteFeeding,
	})

	r.Register(&Tool{
		Name:        "cancel_feeding",
		Description: "Discard the current nursing session without saving it.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: r.handleCancelFeeding,
	})

	r.Register(&Tool{
		Name:        "log_bottle_feeding",
		Description: "Log a completed bottle feeding with the amount consumed.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"amount": map[string]any{
					"type":        "number",
					"description": "Amount consumed",
				},
				"source": map[string]any{
					"type":        "string",
					"enum":        []string{"Breast Milk", "Formula", "Mixed"},
					"description": "What was in the bottle",
				},
				"units": map[string]any{
					"type":        "string",
					"enum":        []string{"oz", "ml"},
					"description": "Unit of the amount",
				},
			},
			"required": []string{"amount", "source", "units"},
		},
		Handler: r.handleLogBottle,
	})

	r.Register(&Tool{
		Name:        "log_diaper",
		Description: "Log a diaper change. Mode is required; amounts and stool details are optional.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"mode": map[string]any{
					"type":        "string",
					"enum":        []string{"pee", "poo", "both", "dry"},
					"description": "What was in the diaper",
				},
				"pee_amount": map[string]any{
					"type":        "string",
					"enum":        []string{"little", "medium", "big"},
					"description": "How much pee",
				},
				"poo_amount": map[string]any{
					"type":        "string",
					"enum":        []string{"little", "medium", "big"},
					"description": "How much poo",
				},
				"color": map[string]any{
					"type":        "string",
					"enum":        []string{"yellow", "brown", "green", "black", "red"},
					"description": "Stool color",
				},
				"consistency": map[string]any{
					"type":        "string",
					"enum":        []string{"runny", "soft", "solid", "hard"},
					"description": "Stool consistency",
				},
			},
			"required": []string{"mode"},
		},
		Handler: r.handleLogDiaper,
	})

	r.Register(&Tool{
		Name:        "log_growth",
		Description: "Log a growth measurement. Provide at least one of weight, height, or head circumference.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"weight": map[string]any{
					"type":        "number",
					"description": "Weight (lbs for imperial, kg for metric)",
				},
				"height": map[string]any{
					"type":        "number",
					"description": "Height (inches for imperial, cm for metric)",
				},
				"head": map[string]any{
					"type":        "number",
					"description": "Head circumference (inches for imperial, cm for metric)",
				},
				"units": map[string]any{
					"type":        "string",
					"enum":        []string{"imperial", "metric"},
					"description": "Measurement system. Defaults to imperial.",
				},
			},
		},
		Handler: r.handleLogGrowth,
	})

	r.Register(&Tool{
		Name:        "get_growth_data",
		Description: "Get the baby's recorded growth measurements over time.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: r.handleGetGrowthData,
	})

	r.Register(&Tool{
		Name:        "get_history",
		Description: "Get tracked events for a day. Defaults to today; optionally filter by event types.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"date": map[string]any{
					"type":        "string",
					"description": "Day to fetch, YYYY-MM-DD. Defaults to today.",
				},
				"event_types": map[string]any{
					"type":        "array",
					"description": "Optional filter, e.g. [\"sleep\", \"diaper\"]",
					"items": map[string]any{
						"type": "string",
						"enum": []string{"sleep", "feeding", "bottle", "diaper"},
					},
				},
			},
		},
		Handler: r.handleGetHistory,
	})
}

// Register adds a tool to the registry.
func (r *Registry) Register(t *Tool) {
	if _, exists := r.tools[t.Name]; !exists {
		r.order = append(r.order, t.Name)
	}
	r.tools[t.Name] = t
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// List returns all tools for the LLM in registration order.
func (r *Registry) List() []map[string]any {
	var result []map[string]any
	for _, name := range r.order {
		t := r.tools[name]
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return result
}

// Execute runs a tool by name with JSON-encoded arguments.
func (r *Registry) Execute(ctx context.Context, name string, argsJSON string) (string, error) {
	if r.tools[name] == nil {
		return "", &ErrToolUnavailable{ToolName: name}
	}

	args := map[string]any{}
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return "", &InvalidArgumentsError{ToolName: name, Reason: "arguments are not valid JSON"}
		}
	}
	return r.ExecuteArgs(ctx, name, args)
}

// ExecuteArgs runs a tool with already-parsed arguments. Arguments are
// validated against the tool's schema before the handler runs, so a
// malformed call never reaches the tracking service.
func (r *Registry) ExecuteArgs(ctx context.Context, name string, args map[string]any) (string, error) {
	tool := r.tools[name]
	if tool == nil {
		return "", &ErrToolUnavailable{ToolName: name}
	}
	if args == nil {
		args = map[string]any{}
	}

	if err := validateArgs(tool, args); err != nil {
		return "", err
	}

	r.logger.Debug("executing tool", "tool", name)
	return tool.Handler(ctx, args)
}

// Tool handlers

func jsonResult(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal result: %w", err)
	}
	return string(data), nil
}

func (r *Registry) handleGetCurrentStatus(ctx context.Context, args map[string]any) (string, error) {
	state, err := r.hb.Status()
	if err != nil {
		return "", err
	}
	return state.Summary(r.hb.Timezone()), nil
}

func (r *Registry) handleStartSleep(ctx context.Context, args map[string]any) (string, error) {
	if err := r.hb.StartSleep(ctx); err != nil {
		return "", err
	}
	return jsonResult(map[string]string{"sleep": "started"})
}

func (r *Registry) handlePauseSleep(ctx context.Context, args map[string]any) (string, error) {
	if err := r.hb.PauseSleep(ctx); err != nil {
		return "", err
	}
	return jsonResult(map[string]string{"sleep": "paused"})
}

func (r *Registry) handleResumeSleep(ctx context.Context, args map[string]any) (string, error) {
	if err := r.hb.ResumeSleep(ctx); err != nil {
		return "", err
	}
	return jsonResult(map[string]string{"sleep": "resumed"})
}

func (r *Registry) handleCompleteSleep(ctx context.Context, args map[string]any) (string, error) {
	if err := r.hb.CompleteSleep(ctx); err != nil {
		return "", err
	}
	return jsonResult(map[string]string{"sleep": "completed"})
}

func (r *Registry) handleCancelSleep(ctx context.Context, args map[string]any) (string, error) {
	if err := r.hb.CancelSleep(ctx); err != nil {
		return "", err
	}
	return jsonResult(map[string]string{"sleep": "cancelled"})
}

func (r *Registry) handleStartFeeding(ctx context.Context, args map[string]any) (string, error) {
	side, _ := args["side"].(string)
	if err := r.hb.StartFeeding(ctx, side); err != nil {
		return "", err
	}
	if side == "" {
		side = "left"
	}
	return jsonResult(map[string]string{"feeding": "started", "side": side})
}

func (r *Registry) handlePauseFeeding(ctx context.Context, args map[string]any) (string, error) {
	if err := r.hb.PauseFeeding(ctx); err != nil {
		return "", err
	}
	return jsonResult(map[string]string{"feeding": "paused"})
}

func (r *Registry) handleResumeFeeding(ctx context.Context, args map[string]any) (string, error) {
	if err := r.hb.ResumeFeeding(ctx); err != nil {
		return "", err
	}
	return jsonResult(map[string]string{"feeding": "resumed"})
}

func (r *Registry) handleSwitchFeedingSide(ctx context.Context, args map[string]any) (string, error) {
	side, err := r.hb.SwitchFeedingSide(ctx)
	if err != nil {
		return "", err
	}
	return jsonResult(map[string]string{"feeding": "switched", "side": side})
}

func (r *Registry) handleCompleteFeeding(ctx context.Context, args map[string]any) (string, error) {
	if err := r.hb.CompleteFeeding(ctx); err != nil {
		return "", err
	}
	return jsonResult(map[string]string{"feeding": "completed"})
}

func (r *Registry) handleCancelFeeding(ctx context.Context, args map[string]any) (string, error) {
	if err := r.hb.CancelFeeding(ctx); err != nil {
		return "", err
	}
	return jsonResult(map[string]string{"feeding": "cancelled"})
}

func (r *Registry) handleLogBottle(ctx context.Context, args map[string]any) (string, error) {
	amount := args["amount"].(float64)
	source := args["source"].(string)
	units := args["units"].(string)

	if err := r.hb.LogBottle(ctx, amount, source, units); err != nil {
		return "", err
	}
	return jsonResult(map[string]any{
		"bottle": "logged",
		"amount": amount,
		"units":  units,
		"source": source,
	})
}

func (r *Registry) handleLogDiaper(ctx context.Context, args map[string]any) (string, error) {
	entry := huckleberry.DiaperEntry{
		Mode: args["mode"].(string),
	}
	if v, ok := args["pee_amount"].(string); ok {
		entry.PeeAmount = v
	}
	if v, ok := args["poo_amount"].(string); ok {
		entry.PooAmount = v
	}
	if v, ok := args["color"].(string); ok {
		entry.Color = v
	}
	if v, ok := args["consistency"].(string); ok {
		entry.Consistency = v
	}

	if err := r.hb.LogDiaper(ctx, entry); err != nil {
		return "", err
	}
	return jsonResult(map[string]string{"diaper": "logged", "mode": entry.Mode})
}

func (r *Registry) handleLogGrowth(ctx context.Context, args map[string]any) (string, error) {
	entry := huckleberry.GrowthEntry{Units: "imperial"}
	if v, ok := args["units"].(string); ok && v != "" {
		entry.Units = v
	}
	if v, ok := args["weight"].(float64); ok {
		entry.Weight = &v
	}
	if v, ok := args["height"].(float64); ok {
		entry.Height = &v
	}
	if v, ok := args["head"].(float64); ok {
		entry.Head = &v
	}
	if entry.Weight == nil && entry.Height == nil && entry.Head == nil {
		return "", &InvalidArgumentsError{
			ToolName: "log_growth",
			Reason:   "at least one of weight, height, or head is required",
		}
	}

	if err := r.hb.LogGrowth(ctx, entry); err != nil {
		return "", err
	}

	result := map[string]any{"growth": "logged", "units": entry.Units}
	if entry.Weight != nil {
		result["weight"] = *entry.Weight
	}
	if entry.Height != nil {
		result["height"] = *entry.Height
	}
	if entry.Head != nil {
		result["head"] = *entry.Head
	}
	return jsonResult(result)
}

func (r *Registry) handleGetGrowthData(ctx context.Context, args map[string]any) (string, error) {
	records, err := r.hb.GrowthData(ctx)
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		return "No growth measurements recorded yet.", nil
	}

	loc := r.hb.Timezone()
	var b strings.Builder
	fmt.Fprintf(&b, "%d growth measurement(s):\n", len(records))
	for _, rec := range records {
		fmt.Fprintf(&b, "- %s (%s):", rec.At.In(loc).Format("2006-01-02"), rec.Units)
		if rec.Weight != nil {
			fmt.Fprintf(&b, " weight=%g", *rec.Weight)
		}
		if rec.Height != nil {
			fmt.Fprintf(&b, " height=%g", *rec.Height)
		}
		if rec.Head != nil {
			fmt.Fprintf(&b, " head=%g", *rec.Head)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (r *Registry) handleGetHistory(ctx context.Context, args map[string]any) (string, error) {
	loc := r.hb.Timezone()

	day := time.Now().In(loc)
	if raw, ok := args["date"].(string); ok && raw != "" {
		parsed, err := time.ParseInLocation("2006-01-02", raw, loc)
		if err != nil {
			return "", &InvalidArgumentsError{
				ToolName: "get_history",
				Reason:   fmt.Sprintf("date %q is not YYYY-MM-DD", raw),
			}
		}
		day = parsed
	}

	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
	end := start.Add(24 * time.Hour)

	events, err := r.hb.History(ctx, start, end)
	if err != nil {
		return "", err
	}

	if filterRaw, ok := args["event_types"].([]any); ok && len(filterRaw) > 0 {
		want := make(map[string]bool, len(filterRaw))
		for _, f := range filterRaw {
			if s, ok := f.(string); ok {
				want[s] = true
			}
		}
		filtered := events[:0]
		for _, ev := range events {
			if want[ev.Type] {
				filtered = append(filtered, ev)
			}
		}
		events = filtered
	}

	if len(events) == 0 {
		return fmt.Sprintf("No events recorded on %s.", start.Format("2006-01-02")), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d event(s) on %s:\n", len(events), start.Format("2006-01-02"))
	for _, ev := range events {
		fmt.Fprintf(&b, "- %s at %s", ev.Type, ev.Start.In(loc).Format("3:04 PM"))
		if ev.End != nil {
			fmt.Fprintf(&b, " until %s", ev.End.In(loc).Format("3:04 PM"))
		}
		for k, v := range ev.Details {
			fmt.Fprintf(&b, ", %s=%v", k, v)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

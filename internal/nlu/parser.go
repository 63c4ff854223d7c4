// Package nlu turns transcripts into structured actions with an LLM.
package nlu

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/khanflow/voice-assistant/internal/llm"
	"github.com/khanflow/voice-assistant/internal/model"
	"github.com/khanflow/voice-assistant/pkg/logger"
	"github.com/khanflow/voice-assistant/pkg/metrics"
)

const systemPrompt = `You convert one utterance from a productivity assistant user into a single JSON object. Output only the object.

Fields:
- kind: one of "create_task", "create_event", "create_structured_intent", "clarification_required"
- confident: true only if you are sure of the kind and its fields
- missing: names of needed fields you could not determine, from "title", "date", "time", "duration", "category", "list"
- question: a short follow-up question when something is missing, else ""
- options: optional [{"id": "...", "label": "..."}] choices for the question
- title, description
- date: "YYYY-MM-DD", resolved against the current date below
- time: "HH:MM" in 24 hour form
- duration_minutes
- priority, urgency: "low", "medium" or "high"
- list_id (tasks), list_ids and category_id (structured intents)
- recurrence: {"frequency": "DAILY|WEEKLY|MONTHLY|YEARLY", "interval": n, "days_of_week": ["MO"], "day_of_month": n, "until": "YYYY-MM-DD", "count": n} or null

Meetings and anything at a fixed time with others are events. To-dos are tasks. Goals filed under a life area are structured intents.
Only fill fields the user stated or that follow from the conversation so far; leave the rest empty.`

// Parser is an LLM backed NLU parser. It is stateless: all context comes in
// with each call.
type Parser struct {
	client llm.Client
	model  string
	logger *logger.Logger
}

// NewParser creates a parser using client. An empty model uses the client's
// default.
func NewParser(client llm.Client, model string, log *logger.Logger) *Parser {
	return &Parser{client: client, model: model, logger: log.Named("nlu")}
}

// Parse converts transcript into a ParsedAction.
func (p *Parser) Parse(ctx context.Context, transcript string, pc model.ParseContext) (model.ParsedAction, error) {
	start := time.Now()
	status := "ok"
	defer func() {
		metrics.RecordNLU(p.client.Name(), status, time.Since(start).Seconds())
	}()

	resp, err := p.client.Complete(ctx, &llm.CompletionRequest{
		Model:    p.model,
		System:   systemPrompt + "\n\n" + contextBlock(pc),
		Messages: []llm.ChatMessage{{Role: "user", Content: transcript}},
		JSON:     true,
	})
	if err != nil {
		status = "error"
		return nil, fmt.Errorf("nlu completion: %w", err)
	}

	action, warnings, err := Decode(resp.Content)
	if err != nil {
		status = "unparseable"
		p.logger.Warn("unparseable nlu response",
			logger.Provider(p.client.Name()),
			zap.String("stop_reason", resp.StopReason),
			zap.Error(err),
		)
		return nil, err
	}
	for _, w := range warnings {
		p.logger.Warn("dropped part of nlu response", zap.String("warning", w))
	}

	p.logger.Debug("parsed transcript",
		logger.Kind(action.Kind()),
		zap.Bool("confident", action.Meta().Confident),
		zap.Int("tokens_in", resp.TokensIn),
		zap.Int("tokens_out", resp.TokensOut),
		zap.Int64("latency_ms", resp.LatencyMs),
	)
	return action, nil
}

// contextBlock renders the running conversation context for the prompt.
func contextBlock(pc model.ParseContext) string {
	loc := pc.Location
	if loc == nil {
		loc = time.UTC
	}
	now := pc.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.In(loc)

	var b strings.Builder
	fmt.Fprintf(&b, "Current date and time: %s (%s, %s).\n", now.Format("2006-01-02 15:04"), now.Weekday(), loc)

	if pc.Previous.Kind != "" {
		prev, _ := json.Marshal(pc.Previous)
		fmt.Fprintf(&b, "Details gathered so far: %s\n", prev)
	}
	if len(pc.PendingFields) > 0 {
		names := make([]string, len(pc.PendingFields))
		for i, f := range pc.PendingFields {
			names[i] = f.String()
		}
		fmt.Fprintf(&b, "The assistant just asked for: %s\n", strings.Join(names, ", "))
	}
	if len(pc.History) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, m := range pc.History {
			fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
		}
	}
	return b.String()
}

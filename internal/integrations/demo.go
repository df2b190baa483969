package integrations

import (
	"companion-backend/internal/models"
	"context"
	"fmt"
	"strings"
)

// Ensure DemoCompletion implements the Provider interface.
var _ Provider = (*DemoCompletion)(nil)

// DemoCompletion answers locally when no completion provider key is configured,
// so the chat loop stays usable in development.
type DemoCompletion struct{}

// NewDemoCompletion creates the offline completion fallback.
func NewDemoCompletion() *DemoCompletion { return &DemoCompletion{} }

// Name returns the provider identifier.
func (d *DemoCompletion) Name() string { return "demo" }

// Configured is always true; the demo needs no credentials.
func (d *DemoCompletion) Configured() bool { return true }

// Complete returns a canned supportive reply signed with the persona's name.
func (d *DemoCompletion) Complete(ctx context.Context, msgs []models.Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &models.CompletionError{Provider: d.Name(), Err: err}
	}
	if len(msgs) == 0 || msgs[0].Role != models.RoleSystem {
		return "", &models.CompletionError{Provider: d.Name(), Err: fmt.Errorf("conversation must start with a system message")}
	}
	return fmt.Sprintf("(demo) %s: I hear you. Tell me more about how you're feeling.", personaNameFromPreamble(msgs[0].Content)), nil
}

// personaNameFromPreamble extracts X from a preamble starting "You are X,".
func personaNameFromPreamble(preamble string) string {
	rest, ok := strings.CutPrefix(strings.TrimSpace(preamble), "You are ")
	if !ok {
		return "Companion"
	}
	if i := strings.IndexAny(rest, ",."); i > 0 {
		return rest[:i]
	}
	return "Companion"
}

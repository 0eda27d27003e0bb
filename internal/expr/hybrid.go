package expr

import (
	"fmt"
	"strings"

	"github.com/l0p7/pluginrt/internal/templates"
)

// HybridEvaluator evaluates a property expression as a template when it
// contains "{{" and as CEL otherwise.
type HybridEvaluator struct {
	celEnv   *Environment
	renderer *templates.Renderer
}

// NewHybridEvaluator pairs a CEL environment with renderer.
func NewHybridEvaluator(renderer *templates.Renderer) (*HybridEvaluator, error) {
	celEnv, err := NewEnvironment()
	if err != nil {
		return nil, fmt.Errorf("hybrid: create CEL environment: %w", err)
	}
	if renderer == nil {
		renderer = templates.NewRenderer(nil)
	}
	return &HybridEvaluator{celEnv: celEnv, renderer: renderer}, nil
}

// Environment exposes the CEL environment for callers that need booleans.
func (h *HybridEvaluator) Environment() *Environment { return h.celEnv }

// Evaluate runs expression against data. Blank expressions yield "".
func (h *HybridEvaluator) Evaluate(expression string, data map[string]any) (any, error) {
	trimmed := strings.TrimSpace(expression)
	if trimmed == "" {
		return "", nil
	}
	if IsTemplate(trimmed) {
		return h.evaluateTemplate(trimmed, data)
	}
	prog, err := h.celEnv.CompileValue(trimmed)
	if err != nil {
		return nil, fmt.Errorf("hybrid: compile CEL: %w", err)
	}
	result, err := prog.Eval(data)
	if err != nil {
		return nil, fmt.Errorf("hybrid: evaluate CEL: %w", err)
	}
	return result, nil
}

// IsTemplate reports whether expression uses template syntax.
func IsTemplate(expression string) bool {
	return strings.Contains(expression, "{{")
}

func (h *HybridEvaluator) evaluateTemplate(source string, data map[string]any) (string, error) {
	tmpl, err := h.renderer.CompileInline("expression", source)
	if err != nil {
		return "", fmt.Errorf("hybrid: compile template: %w", err)
	}
	result, err := tmpl.Render(data)
	if err != nil {
		return "", fmt.Errorf("hybrid: render template: %w", err)
	}
	return result, nil
}

package assemble

import (
	"errors"
	"fmt"
	"strings"
)

// Preprocessor directives recognized in header templates. Each occupies a
// whole line and selects template blocks by boolean flags before any
// placeholder substitution happens.
const (
	directiveIf    = "#if "
	directiveElse  = "#else"
	directiveEndif = "#endif"
	notPrefix      = "not "
)

var (
	// ErrUnknownFlag is returned when an #if names a flag absent from the
	// flag map.
	ErrUnknownFlag = errors.New("unknown template flag")

	// ErrUnbalancedConditional is returned for #if/#else/#endif nesting
	// errors in the template.
	ErrUnbalancedConditional = errors.New("unbalanced template conditional")
)

// preprocess resolves #if/#else/#endif blocks in template text against
// the given flags. Directive lines themselves never appear in the output.
// Conditionals nest; an inner block is only evaluated when every
// enclosing block is selected.
func preprocess(template string, flags map[string]bool) (string, error) {
	var (
		out   strings.Builder
		stack []condState
	)

	for i, line := range strings.Split(template, "\n") {
		trimmed := strings.TrimSpace(line)

		switch {
		case strings.HasPrefix(trimmed, directiveIf):
			selected, err := evalFlag(strings.TrimSpace(strings.TrimPrefix(trimmed, directiveIf)), flags)
			if err != nil {
				return "", fmt.Errorf("line %d: %w", i+1, err)
			}

			stack = append(stack, condState{selected: selected})
		case trimmed == directiveElse:
			if len(stack) == 0 {
				return "", fmt.Errorf("line %d: %w: #else without #if", i+1, ErrUnbalancedConditional)
			}

			stack[len(stack)-1].selected = !stack[len(stack)-1].selected
			stack[len(stack)-1].inElse = true
		case trimmed == directiveEndif:
			if len(stack) == 0 {
				return "", fmt.Errorf("line %d: %w: #endif without #if", i+1, ErrUnbalancedConditional)
			}

			stack = stack[:len(stack)-1]
		default:
			if allSelected(stack) {
				out.WriteString(line)
				out.WriteString("\n")
			}
		}
	}

	if len(stack) != 0 {
		return "", fmt.Errorf("%w: unterminated #if", ErrUnbalancedConditional)
	}

	// The split/join cycle above appends one trailing newline; drop it
	// when the template itself carried none.
	rendered := out.String()
	if !strings.HasSuffix(template, "\n") {
		rendered = strings.TrimSuffix(rendered, "\n")
	}

	return rendered, nil
}

// condState tracks one open #if block.
type condState struct {
	selected bool
	inElse   bool
}

// allSelected reports whether every enclosing conditional is selected.
func allSelected(stack []condState) bool {
	for _, s := range stack {
		if !s.selected {
			return false
		}
	}

	return true
}

// evalFlag evaluates a flag expression: a flag name with optional "not".
func evalFlag(expr string, flags map[string]bool) (bool, error) {
	negate := false
	if strings.HasPrefix(expr, notPrefix) {
		negate = true
		expr = strings.TrimSpace(strings.TrimPrefix(expr, notPrefix))
	}

	value, ok := flags[expr]
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownFlag, expr)
	}

	return value != negate, nil
}

package pipeline

import (
	"fmt"
	"strings"
)

type condFrame struct {
	parentActive bool
	active       bool
	sawElse      bool
}

// Preprocess resolves #ifdef, #ifndef, #else and #endif lines against
// defines. Directive lines are dropped; lines inside inactive blocks are
// dropped. Blocks nest. Any other line starting with '#' is an error, as are
// unbalanced blocks.
func Preprocess(src string, defines map[string]bool) (string, error) {
	var out strings.Builder
	out.Grow(len(src))

	var stack []condFrame
	active := true
	for n, line := range strings.Split(src, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "#") {
			if active {
				out.WriteString(line)
				out.WriteByte('\n')
			}
			continue
		}

		directive, arg, _ := strings.Cut(trimmed, " ")
		arg = strings.TrimSpace(arg)
		lineNo := n + 1
		switch directive {
		case "#ifdef", "#ifndef":
			if arg == "" {
				return "", fmt.Errorf("%w: line %d: %s needs a name", ErrDirective, lineNo, directive)
			}
			cond := defines[arg]
			if directive == "#ifndef" {
				cond = !cond
			}
			stack = append(stack, condFrame{parentActive: active, active: cond})
			active = active && cond
		case "#else":
			if len(stack) == 0 {
				return "", fmt.Errorf("%w: line %d: #else without #ifdef", ErrDirective, lineNo)
			}
			top := &stack[len(stack)-1]
			if top.sawElse {
				return "", fmt.Errorf("%w: line %d: duplicate #else", ErrDirective, lineNo)
			}
			top.sawElse = true
			top.active = !top.active
			active = top.parentActive && top.active
		case "#endif":
			if len(stack) == 0 {
				return "", fmt.Errorf("%w: line %d: #endif without #ifdef", ErrDirective, lineNo)
			}
			active = stack[len(stack)-1].parentActive
			stack = stack[:len(stack)-1]
		default:
			return "", fmt.Errorf("%w: line %d: unknown directive %q", ErrDirective, lineNo, directive)
		}
	}
	if len(stack) != 0 {
		return "", fmt.Errorf("%w: %d unterminated #ifdef", ErrDirective, len(stack))
	}
	return strings.TrimSuffix(out.String(), "\n"), nil
}

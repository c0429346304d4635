package dispatch

import (
	"regexp"
	"slices"
	"strings"

	"github.com/MrWong99/cherry/internal/action"
)

// tagPattern matches "[NAME]" and "[NAME: argument]" with an upper-case
// NAME. The argument ends at the first closing bracket.
var tagPattern = regexp.MustCompile(`\[\s*([A-Z]+)\s*(:\s*([^\]]*))?\]`)

// Match is one recognised directive in a text reply.
type Match struct {
	Action *action.Action

	// Arg is the trimmed argument of parameterized directives.
	Arg string

	// Start and End delimit the directive in the scanned text.
	Start, End int
}

// Scan finds every directive of text that names a registered action in the
// form its kind requires. Unknown or malformed bracket text is skipped.
func Scan(text string, actions *action.Registry) []Match {
	var out []Match
	for _, loc := range tagPattern.FindAllStringSubmatchIndex(text, -1) {
		a, ok := actions.ByTag(text[loc[2]:loc[3]])
		if !ok {
			continue
		}
		hasArg := loc[4] >= 0
		if hasArg != (a.Kind == action.KindParameterized) {
			continue
		}
		m := Match{Action: a, Start: loc[0], End: loc[1]}
		if hasArg {
			m.Arg = strings.TrimSpace(text[loc[6]:loc[7]])
		}
		out = append(out, m)
	}
	return out
}

// step is one action execution planned from a scan.
type step struct {
	action *action.Action
	arg    string
}

// plan decides which matches are consumed and which actions run, in action
// registration order. Argument-free directives are all consumed and run
// once; parameterized directives consume and run their first occurrence.
func plan(matches []Match, actions *action.Registry) (steps []step, consumed []Match) {
	for _, a := range actions.All() {
		first := true
		for _, m := range matches {
			if m.Action != a {
				continue
			}
			if first {
				steps = append(steps, step{action: a, arg: m.Arg})
			}
			if first || a.Kind != action.KindParameterized {
				consumed = append(consumed, m)
			}
			first = false
		}
	}
	slices.SortFunc(consumed, func(x, y Match) int { return x.Start - y.Start })
	return steps, consumed
}

// rebuild removes the consumed spans from text, closing the gap a removal
// leaves between two spaces, and appends the extra sentences.
func rebuild(text string, consumed []Match, extra []string) string {
	var b strings.Builder
	pos := 0
	write := func(seg string, afterRemoval bool) {
		if afterRemoval && strings.HasSuffix(b.String(), " ") {
			seg = strings.TrimLeft(seg, " \t")
		}
		b.WriteString(seg)
	}
	for i, m := range consumed {
		write(text[pos:m.Start], i > 0)
		pos = m.End
	}
	write(text[pos:], len(consumed) > 0)

	out := strings.TrimSpace(b.String())
	for _, e := range extra {
		if e = strings.TrimSpace(e); e != "" {
			out += " " + e
		}
	}
	return strings.TrimSpace(out)
}

package hostsim

import "fmt"

// Verify matches findings against the script's want expectations and returns
// one line per mismatch: an expectation no finding satisfied, or a finding no
// expectation anticipated. An empty result means the script behaved exactly
// as annotated.
func Verify(s *Script, findings []Finding) []string {
	var problems []string
	for _, w := range s.Wants {
		satisfied := false
		for _, f := range findings {
			if f.Span == w.Span && w.Pattern.MatchString(f.Message) {
				satisfied = true
				break
			}
		}
		if !satisfied {
			problems = append(problems, fmt.Sprintf("%s: want finding matching %q, got none", w.Span, w.Pattern))
		}
	}
	for _, f := range findings {
		anticipated := false
		for _, w := range s.Wants {
			if f.Span == w.Span && w.Pattern.MatchString(f.Message) {
				anticipated = true
				break
			}
		}
		if !anticipated {
			problems = append(problems, fmt.Sprintf("%s: unexpected finding %q", f.Span, f.Message))
		}
	}
	return problems
}

package internal

import (
	"strings"

	tt "github.com/veristub-labs/veristub/internal/types"
)

const skipPrefix = "//skip"

// skipScope marks one source line whose obligations are suppressed.
type skipScope struct {
	line  int
	kinds map[string]struct{} // empty => apply to all obligation kinds
}

// SkipManager collects //skip comments and decides which results to
// suppress. A trailing "//skip" suppresses the obligations minted for
// that line; "//skip:kind1,kind2" restricts the suppression to the named
// kinds. A "//skip" on a line of its own applies to the next line.
type SkipManager struct {
	scopes map[int]skipScope
}

// ParseSkipComments scans raw source lines for skip directives.
func ParseSkipComments(lines []string) *SkipManager {
	manager := SkipManager{scopes: make(map[int]skipScope)}

	for i, line := range lines {
		idx := strings.Index(line, skipPrefix)
		if idx < 0 {
			continue
		}
		directive := line[idx:]
		target := i + 1 // 1-based

		// a directive on its own line covers the line below it
		if strings.TrimSpace(line[:idx]) == "" {
			target = i + 2
		}

		manager.scopes[target] = skipScope{
			line:  target,
			kinds: parseSkipKinds(directive),
		}
	}
	return &manager
}

func parseSkipKinds(directive string) map[string]struct{} {
	rest := strings.TrimPrefix(directive, skipPrefix)
	rest = strings.TrimSpace(rest)
	if !strings.HasPrefix(rest, ":") {
		return nil
	}

	kinds := make(map[string]struct{})
	for _, kind := range strings.Split(rest[1:], ",") {
		kind = strings.TrimSpace(kind)
		if kind != "" {
			kinds[kind] = struct{}{}
		}
	}
	return kinds
}

// IsSkipped reports whether the obligation's site falls under a skip
// directive.
func (m *SkipManager) IsSkipped(ob tt.Obligation) bool {
	scope, ok := m.scopes[ob.Site.Line]
	if !ok {
		return false
	}
	if len(scope.kinds) == 0 {
		return true
	}
	_, ok = scope.kinds[ob.Kind.String()]
	return ok
}

// FilterReports drops suppressed results and returns the reports that
// still carry at least one result.
func (m *SkipManager) FilterReports(reports []Report) []Report {
	if len(m.scopes) == 0 {
		return reports
	}

	out := make([]Report, 0, len(reports))
	for _, rep := range reports {
		kept := make([]tt.Result, 0, len(rep.Results))
		for _, res := range rep.Results {
			if !m.IsSkipped(res.Obligation) {
				kept = append(kept, res)
			}
		}
		if len(kept) > 0 {
			out = append(out, Report{Target: rep.Target, Results: kept})
		}
	}
	return out
}

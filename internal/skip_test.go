package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tt "github.com/veristub-labs/veristub/internal/types"
)

func obAt(line int, kind tt.ObligationKind) tt.Obligation {
	return tt.Obligation{Kind: kind, Target: "f", Expr: "x >= 0", Site: tt.Position{Filename: "t.vst", Line: line, Column: 1}}
}

func TestSkipTrailingDirective(t *testing.T) {
	t.Parallel()

	m := ParseSkipComments([]string{
		"fn f(x int) int",
		"ensures result >= 0 //skip",
		"{",
	})

	assert.True(t, m.IsSkipped(obAt(2, tt.Postcondition)))
	assert.False(t, m.IsSkipped(obAt(1, tt.Postcondition)))
	assert.False(t, m.IsSkipped(obAt(3, tt.Postcondition)))
}

func TestSkipOwnLineCoversNextLine(t *testing.T) {
	t.Parallel()

	m := ParseSkipComments([]string{
		"//skip",
		"ensures result >= 0",
	})

	assert.False(t, m.IsSkipped(obAt(1, tt.Postcondition)))
	assert.True(t, m.IsSkipped(obAt(2, tt.Postcondition)))
}

func TestSkipKindRestriction(t *testing.T) {
	t.Parallel()

	m := ParseSkipComments([]string{
		"invariant s >= 0 //skip:inductive-step,unwinding",
	})

	assert.True(t, m.IsSkipped(obAt(1, tt.InductiveStep)))
	assert.True(t, m.IsSkipped(obAt(1, tt.Unwinding)))
	assert.False(t, m.IsSkipped(obAt(1, tt.BaseCase)))
}

func TestSkipFilterReportsDropsEmpty(t *testing.T) {
	t.Parallel()

	m := ParseSkipComments([]string{
		"ensures result >= 0 //skip",
	})

	reports := []Report{
		{Target: "f", Results: []tt.Result{{Obligation: obAt(1, tt.Postcondition), Status: tt.StatusFail}}},
		{Target: "g", Results: []tt.Result{
			{Obligation: obAt(1, tt.Postcondition), Status: tt.StatusFail},
			{Obligation: obAt(4, tt.BaseCase), Status: tt.StatusPass},
		}},
	}
	out := m.FilterReports(reports)
	require.Len(t, out, 1)
	assert.Equal(t, "g", out[0].Target)
	require.Len(t, out[0].Results, 1)
	assert.Equal(t, tt.BaseCase, out[0].Results[0].Obligation.Kind)
}

func TestSkipNoDirectivesKeepsReports(t *testing.T) {
	t.Parallel()

	m := ParseSkipComments([]string{"fn f(x int) int"})
	reports := []Report{{Target: "f", Results: []tt.Result{{Obligation: obAt(1, tt.Postcondition)}}}}
	assert.Equal(t, reports, m.FilterReports(reports))
}

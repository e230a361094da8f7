package condition

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	e, err := NewEvaluator(EvalOptions{})
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func TestCompileCollectsVars(t *testing.T) {
	e := newTestEvaluator(t)

	p, err := e.Compile(`Age >= 18 && size(Name) > 0`)
	require.NoError(t, err)
	assert.Equal(t, []string{"Age", "Name"}, p.Vars())
}

func TestCompileSkipsBuiltinsAndCallees(t *testing.T) {
	e := newTestEvaluator(t)

	p, err := e.Compile(`matches(Name, "^a.*") && now > Deadline`)
	require.NoError(t, err)
	assert.Equal(t, []string{"Name", "Deadline"}, p.Vars())
}

func TestEvaluateBasicComparison(t *testing.T) {
	e := newTestEvaluator(t)
	p, err := e.Compile(`Age >= 18`)
	require.NoError(t, err)

	ok, err := e.Evaluate(context.Background(), p, map[string]any{"Age": int64(21)})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.Evaluate(context.Background(), p, map[string]any{"Age": int64(12)})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvaluateSizeBuiltin(t *testing.T) {
	e := newTestEvaluator(t)
	p, err := e.Compile(`size(Name) > 0 && size(Tags) == 2`)
	require.NoError(t, err)

	ok, err := e.Evaluate(context.Background(), p, map[string]any{
		"Name": "admin",
		"Tags": []string{"a", "b"},
	})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluateMatchesBuiltin(t *testing.T) {
	e := newTestEvaluator(t)
	p, err := e.Compile(`matches(Name, "^adm")`)
	require.NoError(t, err)

	ok, err := e.Evaluate(context.Background(), p, map[string]any{"Name": "admin"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.Evaluate(context.Background(), p, map[string]any{"Name": "guest"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMatchesRejectsOversizedPattern(t *testing.T) {
	e := newTestEvaluator(t)
	p, err := e.Compile(`matches(Name, Pattern)`)
	require.NoError(t, err)

	ok, err := e.Evaluate(context.Background(), p, map[string]any{
		"Name":    "admin",
		"Pattern": strings.Repeat("a", MaxRegexPatternLength+1),
	})
	assert.False(t, ok)
	assert.ErrorContains(t, err, "pattern length")
}

func TestMatchesBadPatternIsError(t *testing.T) {
	e := newTestEvaluator(t)
	p, err := e.Compile(`matches(Name, "([unclosed")`)
	require.NoError(t, err)

	ok, err := e.Evaluate(context.Background(), p, map[string]any{"Name": "admin"})
	assert.False(t, ok)
	assert.Error(t, err)
}

func TestRegexAndFilterShareCacheWithoutCollision(t *testing.T) {
	e := newTestEvaluator(t)

	// A filter whose source text equals a regex pattern must not trip
	// over the cached regex entry, and vice versa.
	src := `Age > 1`
	p, err := e.Compile(`matches(Name, Pattern)`)
	require.NoError(t, err)
	ok, err := e.Evaluate(context.Background(), p, map[string]any{"Name": "Age > 1", "Pattern": src})
	require.NoError(t, err)
	assert.True(t, ok)
	time.Sleep(20 * time.Millisecond)

	p2, err := e.Compile(src)
	require.NoError(t, err)
	ok, err = e.Evaluate(context.Background(), p2, map[string]any{"Age": int64(2)})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluateNonBooleanIsError(t *testing.T) {
	e := newTestEvaluator(t)
	p, err := e.Compile(`Age + 1`)
	require.NoError(t, err)

	ok, err := e.Evaluate(context.Background(), p, map[string]any{"Age": int64(1)})
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrNotBoolean)
}

func TestEvaluateRuntimeErrorDoesNotPanic(t *testing.T) {
	e := newTestEvaluator(t)
	p, err := e.Compile(`size(Age) > 0`)
	require.NoError(t, err)

	// size() of an int raises at runtime; the caller excludes the
	// entity and moves on.
	ok, err := e.Evaluate(context.Background(), p, map[string]any{"Age": int64(7)})
	assert.False(t, ok)
	assert.Error(t, err)
}

func TestEvaluateNoVarsIsEntityIndependent(t *testing.T) {
	e := newTestEvaluator(t)
	p, err := e.Compile(`1 < 2`)
	require.NoError(t, err)
	assert.Empty(t, p.Vars())

	for _, env := range []map[string]any{nil, {"Name": "a"}, {"Name": "b"}} {
		ok, err := e.Evaluate(context.Background(), p, env)
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestCompileRejectsOversizedFilter(t *testing.T) {
	e, err := NewEvaluator(EvalOptions{MaxFilterLength: 10})
	require.NoError(t, err)
	defer e.Close()

	_, err = e.Compile(`Age >= 18 && size(Name) > 0`)
	assert.ErrorIs(t, err, ErrFilterComplexity)
}

func TestCompileRejectsInvalidSource(t *testing.T) {
	e := newTestEvaluator(t)
	_, err := e.Compile(`&&&&`)
	assert.ErrorIs(t, err, ErrInvalidExpression)
}

func TestCompileCachesBySource(t *testing.T) {
	e := newTestEvaluator(t)

	p1, err := e.Compile(`Age > 1`)
	require.NoError(t, err)
	// ristretto admits asynchronously; give the set a moment to land.
	time.Sleep(20 * time.Millisecond)
	p2, err := e.Compile(`Age > 1`)
	require.NoError(t, err)
	assert.Equal(t, p1.Source, p2.Source)
}

func TestTranslatePath(t *testing.T) {
	assert.Equal(t, "Parent->Name", TranslatePath("Parent_Name"))
	assert.Equal(t, "Name", TranslatePath("Name"))
}

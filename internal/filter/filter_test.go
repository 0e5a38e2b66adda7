package filter

import (
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Blank(t *testing.T) {
	n, err := Parse("   ")
	require.NoError(t, err)
	assert.Nil(t, n)
	assert.Empty(t, Keys(n))
	assert.Empty(t, RelationPaths(n))
}

func TestParse_Operators(t *testing.T) {
	cases := []struct {
		expr string
		op   Op
		val  any
	}{
		{`title = "Dune"`, OpEq, "Dune"},
		{`title == 'Dune'`, OpEq, "Dune"},
		{`title eq "Dune"`, OpEq, "Dune"},
		{`price != 10`, OpNeq, int64(10)},
		{`price <> 10`, OpNeq, int64(10)},
		{`price neq 10`, OpNeq, int64(10)},
		{`price > 1.5`, OpGt, 1.5},
		{`price gte -3`, OpGte, int64(-3)},
		{`price < 7`, OpLt, int64(7)},
		{`price LTE 7`, OpLte, int64(7)},
		{`title ct 'un'`, OpContains, "un"},
		{`title sw "D"`, OpStartsWith, "D"},
		{`title ew "e"`, OpEndsWith, "e"},
		{`active = true`, OpEq, true},
		{`title = 'it\'s'`, OpEq, "it's"},
	}
	for _, tc := range cases {
		t.Run(tc.expr, func(t *testing.T) {
			n, err := Parse(tc.expr)
			require.NoError(t, err)
			cmp, ok := n.(*ComparisonNode)
			require.True(t, ok)
			assert.Equal(t, tc.op, cmp.Op)
			assert.Equal(t, tc.val, cmp.Value())
		})
	}
}

func TestParse_NullAndLists(t *testing.T) {
	n, err := Parse(`author is null`)
	require.NoError(t, err)
	assert.Equal(t, OpIsNull, n.(*ComparisonNode).Op)

	n, err = Parse(`author is not null`)
	require.NoError(t, err)
	assert.Equal(t, OpNotNull, n.(*ComparisonNode).Op)

	n, err = Parse(`author = null`)
	require.NoError(t, err)
	assert.Equal(t, OpIsNull, n.(*ComparisonNode).Op)

	n, err = Parse(`status in ('a', "b", 3)`)
	require.NoError(t, err)
	cmp := n.(*ComparisonNode)
	assert.Equal(t, OpIn, cmp.Op)
	require.Len(t, cmp.Values, 3)
	assert.Equal(t, int64(3), cmp.Values[2].Value)

	n, err = Parse(`status not in ('a')`)
	require.NoError(t, err)
	assert.Equal(t, OpNotIn, n.(*ComparisonNode).Op)
}

func TestParse_Logic(t *testing.T) {
	n, err := Parse(`a = 1 or b = 2 and not (c = 3 || d = 4) && !e is null`)
	require.NoError(t, err)

	or, ok := n.(*LogicNode)
	require.True(t, ok)
	assert.Equal(t, LogicOr, or.Op)
	require.Len(t, or.Operands, 2)

	and, ok := or.Operands[1].(*LogicNode)
	require.True(t, ok)
	assert.Equal(t, LogicAnd, and.Op)
	require.Len(t, and.Operands, 3)

	_, ok = and.Operands[1].(*NotNode)
	assert.True(t, ok)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, Keys(n))
}

func TestParse_Errors(t *testing.T) {
	for _, expr := range []string{
		`title =`,
		`title "x"`,
		`= 1`,
		`(a = 1`,
		`a = 1)`,
		`a = 'open`,
		`a foo 1`,
		`a in 1`,
		`a in ()`,
		`a is maybe`,
		`a..b = 1`,
		`a. = 1`,
		`a > null`,
		`a = 1 and`,
		`a = 1 # 2`,
	} {
		t.Run(expr, func(t *testing.T) {
			_, err := Parse(expr)
			require.Error(t, err)
			var se *SyntaxError
			assert.True(t, errors.As(err, &se), "got %T", err)
		})
	}

	_, err := Parse(`a = 'x' @`)
	var se *SyntaxError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 8, se.Pos)
}

func TestRelationPaths(t *testing.T) {
	n, err := Parse(`title ct 'a' and author.name = 'X' or author.country.code = 'RU' or author.name sw 'Y' or reviews.rating > 3`)
	require.NoError(t, err)

	assert.Equal(t, []string{"author", "author.country", "reviews"}, RelationPaths(n))
	assert.Equal(t, []string{"author"}, RelationsOf([]string{"-title", "author.name"}))
}

func TestValidate(t *testing.T) {
	n, err := Parse(`title = 'a' and author.name = 'b'`)
	require.NoError(t, err)

	assert.NoError(t, Validate(n, []string{"title", "author.name"}))

	err = Validate(n, []string{"title"})
	var ke *KeyError
	require.True(t, errors.As(err, &ke))
	assert.Equal(t, "author.name", ke.Key)

	assert.NoError(t, Validate(nil, nil))
}

func TestAndHelpers(t *testing.T) {
	assert.Nil(t, And(nil, nil))

	one := Eq("a", 1)
	assert.Same(t, one, And(nil, one))

	n := And(And(Eq("a", 1), Eq("b", 2)), Eq("c", 3))
	l, ok := n.(*LogicNode)
	require.True(t, ok)
	assert.Len(t, l.Operands, 3)
	assert.Equal(t, `(a eq 1 and b eq 2 and c eq 3)`, n.String())
}

func TestFromValues(t *testing.T) {
	q := url.Values{
		"status__in":      {"Draft, Booked"},
		"amount__gte":     {"1000"},
		"author.name__sw": {"Le"},
		"title":           {"Dune"},
		"note__null":      {"false"},
		"empty":           {" "},
		"_limit":          {"10"},
	}
	n, err := FromValues(q, map[string]struct{}{"_limit": {}})
	require.NoError(t, err)

	assert.Equal(t, []string{"amount", "author.name", "note", "status", "title"}, Keys(n))
	assert.Equal(t, []string{"author"}, RelationPaths(n))

	l := n.(*LogicNode)
	in := l.Operands[3].(*ComparisonNode)
	assert.Equal(t, OpIn, in.Op)
	assert.Len(t, in.Values, 2)
	assert.Equal(t, OpNotNull, l.Operands[2].(*ComparisonNode).Op)

	_, err = FromValues(url.Values{"a__bogus": {"1"}}, nil)
	assert.Error(t, err)

	n, err = FromValues(url.Values{}, nil)
	require.NoError(t, err)
	assert.Nil(t, n)
}

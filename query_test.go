package livequery

import (
	"strings"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestQueryClauseMerge(t *testing.T) {
	query := NewQuery(
		Where(`kind == "fruit"`),
		OrderBy("rank"),
		OrderByDesc("name"),
		GroupBy("color", strings.ToUpper),
	)

	assert.Equal(t, `kind == "fruit"`, query.Filter)
	assert.Equal(t, []Order{
		{Key: "rank"},
		{Key: "name", Descending: true},
	}, query.Orders)
	assert.Equal(t, "color", query.Group.Key)
	assert.Equal(t, "RED", query.sectionLabel("red"))

	// a later Where replaces the filter
	query = NewQuery(
		Where(`kind == "fruit"`),
		Where(`kind == "vegetable"`),
	)
	assert.Equal(t, `kind == "vegetable"`, query.Filter)
}

func TestQuerySectionLabelIdentity(t *testing.T) {
	// no grouping means the raw name passes through unchanged
	query := NewQuery(OrderBy("rank"))
	assert.Equal(t, "raw", query.sectionLabel("raw"))

	// grouping without a label function is also identity
	query = NewQuery(GroupBy("color", nil))
	assert.Equal(t, "raw", query.sectionLabel("raw"))
}

func TestQueryTweakComposes(t *testing.T) {
	calls := []int{}
	query := NewQuery(
		Tweak(func(storeQuery any) {
			calls = append(calls, 1)
			storeQuery.(*MemoryQuerySpec).Limit = 10
		}),
		Tweak(func(storeQuery any) {
			calls = append(calls, 2)
			storeQuery.(*MemoryQuerySpec).Limit = 2
		}),
	)

	spec := &MemoryQuerySpec{}
	query.tweak(spec)
	// tweaks apply in clause order; the last one wins
	assert.Equal(t, []int{1, 2}, calls)
	assert.Equal(t, 2, spec.Limit)
}

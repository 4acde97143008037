package livequery

// one ordering key, evaluated by the store
type Order struct {
	Key        string
	Descending bool
}

// section grouping. items are grouped by the value at `Key`; the raw
// section name is passed through `LabelFn` (identity if nil) before it
// is exposed as a SectionId.
type Group struct {
	Key     string
	LabelFn func(rawName string) string
}

// a filter/sort/grouping definition executed by a store. immutable per
// refetch cycle; `Refetch` replaces the whole query, never patches it.
type Query struct {
	// store-evaluated filter clause. empty matches everything.
	Filter string
	Orders []Order
	Group  *Group
	// opaque escape hatch applied to the store-specific query value
	// before execution. composed when multiple Tweak clauses merge.
	TweakFn func(storeQuery any)
}

func NewQuery(clauses ...QueryClause) *Query {
	query := &Query{}
	for _, clause := range clauses {
		clause(query)
	}
	return query
}

func (self *Query) sectionLabel(rawName string) string {
	if self.Group == nil || self.Group.LabelFn == nil {
		return rawName
	}
	return self.Group.LabelFn(rawName)
}

func (self *Query) tweak(storeQuery any) {
	if self.TweakFn != nil {
		self.TweakFn(storeQuery)
	}
}

// clauses merge left to right into one query:
// - `Where` replaces the filter
// - `OrderBy`/`OrderByDesc` append an ordering key
// - `GroupBy` replaces the grouping
// - `Tweak` composes with any prior tweak
type QueryClause func(query *Query)

func Where(filter string) QueryClause {
	return func(query *Query) {
		query.Filter = filter
	}
}

func OrderBy(key string) QueryClause {
	return func(query *Query) {
		query.Orders = append(query.Orders, Order{Key: key})
	}
}

func OrderByDesc(key string) QueryClause {
	return func(query *Query) {
		query.Orders = append(query.Orders, Order{Key: key, Descending: true})
	}
}

func GroupBy(key string, labelFn func(rawName string) string) QueryClause {
	return func(query *Query) {
		query.Group = &Group{
			Key:     key,
			LabelFn: labelFn,
		}
	}
}

func Tweak(tweakFn func(storeQuery any)) QueryClause {
	return func(query *Query) {
		prevTweakFn := query.TweakFn
		query.TweakFn = func(storeQuery any) {
			if prevTweakFn != nil {
				prevTweakFn(storeQuery)
			}
			tweakFn(storeQuery)
		}
	}
}

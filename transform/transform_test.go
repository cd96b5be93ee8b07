package transform

import (
	"testing"

	"github.com/marlowe-ops/flowcraft/store"
	"github.com/marlowe-ops/flowcraft/tmpl"
	"github.com/marlowe-ops/flowcraft/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func item(s string, n float64) value.Value {
	m := value.NewMap()
	m.Set("s", value.String(s))
	m.Set("n", value.Number(n))
	return m
}

func TestFilterThenAggregateSum(t *testing.T) {
	// Mirrors the loop-filter scenario: filter(s=="a"), aggregate(n, sum) -> 4.
	list := value.List(item("a", 1), item("b", 2), item("a", 3))
	s := store.New()
	require.NoError(t, s.Put("T", list.ToInterface()))

	cfg := Config{
		InputSource: "T",
		Operations: []Operation{
			{Kind: OpFilter, Field: "s", Condition: "==", Value: "a"},
			{Kind: OpAggregate, Field: "n", Aggregate: "sum"},
		},
	}
	resolve := NewResolver(s, tmpl.Context{Store: s})
	out, err := Run(cfg, resolve)
	require.NoError(t, err)
	n, ok := out.AsNumber()
	require.True(t, ok)
	assert.Equal(t, 4.0, n)
}

func TestFilterComposesConjunctively(t *testing.T) {
	// filter(filter(x, c1), c2) == filter(x, c1 && c2) for independent
	// scalar conditions on distinct fields.
	list := value.List(item("a", 1), item("a", 2), item("b", 2))
	s := store.New()
	require.NoError(t, s.Put("T", list.ToInterface()))
	resolve := NewResolver(s, tmpl.Context{Store: s})

	chained := Config{
		InputSource: "T",
		Operations: []Operation{
			{Kind: OpFilter, Field: "s", Condition: "==", Value: "a"},
			{Kind: OpFilter, Field: "n", Condition: ">", Value: 1.0},
		},
	}
	out, err := Run(chained, resolve)
	require.NoError(t, err)
	assert.Len(t, out.AsList(), 1)
	fv, _ := out.AsList()[0].Field("n")
	n, _ := fv.AsNumber()
	assert.Equal(t, 2.0, n)
}

func TestMapReplacesKnownValuesPassesThroughUnmapped(t *testing.T) {
	list := value.List(item("a", 1), item("z", 2))
	s := store.New()
	require.NoError(t, s.Put("T", list.ToInterface()))
	resolve := NewResolver(s, tmpl.Context{Store: s})

	cfg := Config{
		InputSource: "T",
		Operations: []Operation{
			{Kind: OpMap, Field: "s", Mapping: map[string]interface{}{"a": "alpha"}},
		},
	}
	out, err := Run(cfg, resolve)
	require.NoError(t, err)
	items := out.AsList()
	v0, _ := items[0].Field("s")
	assert.Equal(t, "alpha", v0.AsString())
	v1, _ := items[1].Field("s")
	assert.Equal(t, "z", v1.AsString(), "unmapped value passes through unchanged")
}

func TestGroupByBucketsByFieldValue(t *testing.T) {
	list := value.List(item("a", 1), item("b", 2), item("a", 3))
	s := store.New()
	require.NoError(t, s.Put("T", list.ToInterface()))
	resolve := NewResolver(s, tmpl.Context{Store: s})

	cfg := Config{InputSource: "T", Operations: []Operation{{Kind: OpGroupBy, Field: "s"}}}
	out, err := Run(cfg, resolve)
	require.NoError(t, err)
	bucketA, ok := out.Field("a")
	require.True(t, ok)
	assert.Len(t, bucketA.AsList(), 2)
}

func TestSortStableAscendingAndDescending(t *testing.T) {
	list := value.List(item("x", 3), item("y", 1), item("z", 2))
	s := store.New()
	require.NoError(t, s.Put("T", list.ToInterface()))
	resolve := NewResolver(s, tmpl.Context{Store: s})

	asc := Config{InputSource: "T", Operations: []Operation{{Kind: OpSort, Field: "n", Order: "asc"}}}
	out, err := Run(asc, resolve)
	require.NoError(t, err)
	items := out.AsList()
	first, _ := items[0].Field("n")
	n, _ := first.AsNumber()
	assert.Equal(t, 1.0, n)

	desc := Config{InputSource: "T", Operations: []Operation{{Kind: OpSort, Field: "n", Order: "desc"}}}
	out, err = Run(desc, resolve)
	require.NoError(t, err)
	items = out.AsList()
	first, _ = items[0].Field("n")
	n, _ = first.AsNumber()
	assert.Equal(t, 3.0, n)
}

func TestJoinIsLeftOuter(t *testing.T) {
	left := value.List(item("a", 1), item("b", 2))
	right := value.List(item("a", 100))
	s := store.New()
	require.NoError(t, s.Put("L", left.ToInterface()))
	require.NoError(t, s.Put("R", right.ToInterface()))
	resolve := NewResolver(s, tmpl.Context{Store: s})

	cfg := Config{
		InputSource: "L",
		Operations: []Operation{
			{Kind: OpJoin, LeftField: "s", RightSource: "R", RightKey: "s"},
		},
	}
	out, err := Run(cfg, resolve)
	require.NoError(t, err)
	items := out.AsList()
	require.Len(t, items, 2, "left-outer join keeps every left row")

	joinedA, _ := items[0].Field("joined")
	assert.Len(t, joinedA.AsList(), 1)

	joinedB, _ := items[1].Field("joined")
	assert.Len(t, joinedB.AsList(), 0, "unmatched left row gets an empty joined list, not dropped")
}

func TestLazyChunkedFilterProducesSameResultAsUnchunked(t *testing.T) {
	var items []value.Value
	for i := 0; i < 250; i++ {
		items = append(items, item("a", float64(i)))
	}
	list := value.List(items...)
	s := store.New()
	require.NoError(t, s.Put("T", list.ToInterface()))
	resolve := NewResolver(s, tmpl.Context{Store: s})

	cfg := Config{
		InputSource: "T",
		Operations:  []Operation{{Kind: OpFilter, Field: "n", Condition: ">", Value: 200.0}},
		Lazy:        LazyConfig{Enabled: true},
	}
	out, err := Run(cfg, resolve)
	require.NoError(t, err)
	assert.Len(t, out.AsList(), 49)
}

func TestAggregateUniqueDedupes(t *testing.T) {
	list := value.List(item("a", 1), item("a", 2), item("b", 3))
	s := store.New()
	require.NoError(t, s.Put("T", list.ToInterface()))
	resolve := NewResolver(s, tmpl.Context{Store: s})

	cfg := Config{InputSource: "T", Operations: []Operation{{Kind: OpAggregate, Field: "s", Aggregate: "unique"}}}
	out, err := Run(cfg, resolve)
	require.NoError(t, err)
	assert.Len(t, out.AsList(), 2)
}

func TestResolverContextSource(t *testing.T) {
	s := store.New()
	tctx := tmpl.Context{Store: s, Inputs: map[string]value.Value{"items": value.List(item("a", 1))}}
	resolve := NewResolver(s, tctx)
	out, err := resolve("context:items")
	require.NoError(t, err)
	assert.Len(t, out.AsList(), 1)
}

func TestResolverPreviousResponsePattern(t *testing.T) {
	s := store.New()
	require.NoError(t, s.Put("A", map[string]interface{}{"text": "hi"}))
	resolve := NewResolver(s, tmpl.Context{Store: s})
	out, err := resolve("previous_response:A:text")
	require.NoError(t, err)
	assert.Equal(t, "hi", out.AsString())
}

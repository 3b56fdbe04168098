// Package esquery holds the boolean search-engine query that BQL compiles
// to. Queries are built with the olivere/elastic query builders, serialize
// to the Elasticsearch query DSL and can be evaluated in memory against
// plain documents.
package esquery

import (
	"encoding/json"
	"fmt"

	elastic "github.com/olivere/elastic/v7"
)

// Query is a node of a compiled search query.
type Query = elastic.Query

// Not returns a bool query whose single must_not clause is q.
func Not(q Query) *elastic.BoolQuery {
	return elastic.NewBoolQuery().MustNot(q)
}

// And returns a bool query requiring every clause.
func And(clauses ...Query) *elastic.BoolQuery {
	return elastic.NewBoolQuery().Must(clauses...)
}

// Or returns a bool query requiring at least one clause.
func Or(clauses ...Query) *elastic.BoolQuery {
	return elastic.NewBoolQuery().Should(clauses...).MinimumNumberShouldMatch(1)
}

// Source returns the DSL form of q decoded into plain JSON values: maps,
// slices, strings, float64 numbers and booleans.
func Source(q Query) (map[string]any, error) {
	raw, err := Marshal(q)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode query source: %w", err)
	}
	return out, nil
}

// Marshal encodes q in DSL form.
func Marshal(q Query) ([]byte, error) {
	src, err := q.Source()
	if err != nil {
		return nil, fmt.Errorf("build query source: %w", err)
	}
	return json.Marshal(src)
}

// MarshalIndent encodes q in indented DSL form.
func MarshalIndent(q Query) ([]byte, error) {
	src, err := q.Source()
	if err != nil {
		return nil, fmt.Errorf("build query source: %w", err)
	}
	return json.MarshalIndent(src, "", "  ")
}

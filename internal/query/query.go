// Package query compiles typed filter parameters into analytical pipelines
// for the time-series store. Pipelines are built as a structured list of
// typed stages and rendered to the store's syntax in a single step, so the
// builder stays testable without a live store.
package query

import (
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// Stage is one step of a compiled pipeline.
type Stage interface {
	Render() bson.D
}

// Pipeline is an ordered list of stages with an optional tag naming the
// sub-result it produces (the "stat" discriminator in unioned queries).
type Pipeline struct {
	Tag    string
	Stages []Stage
}

// Render produces the store's native pipeline form.
func (p Pipeline) Render() mongo.Pipeline {
	out := make(mongo.Pipeline, 0, len(p.Stages))
	for _, s := range p.Stages {
		out = append(out, s.Render())
	}
	return out
}

// Condition is one pushdown predicate inside a Match stage.
type Condition struct {
	Field string
	Op    string // "$eq", "$gte", "$lte", "$gt", "$lt"
	Value any
}

// Match restricts the scanned rows; predicates are evaluated by the store
// during the scan.
type Match struct {
	Conditions []Condition
}

func (m Match) Render() bson.D {
	filter := bson.M{}
	for _, c := range m.Conditions {
		ops, ok := filter[c.Field].(bson.M)
		if !ok {
			ops = bson.M{}
			filter[c.Field] = ops
		}
		ops[c.Op] = c.Value
	}
	return bson.D{{Key: "$match", Value: filter}}
}

// Accumulator is one aggregate computed per group.
type Accumulator struct {
	Name string
	Op   string // "$avg", "$min", "$max", "$sum", "$first", "$last"
	Expr any    // field path ("$value") or literal (1 for counts)
}

// Group buckets rows by the given keys and applies the accumulators.
// Keys maps output name to a field path; an empty map groups everything
// into a single bucket.
type Group struct {
	Keys         map[string]string
	Accumulators []Accumulator
}

func (g Group) Render() bson.D {
	var id any
	switch len(g.Keys) {
	case 0:
		id = nil
	default:
		idDoc := bson.M{}
		for name, path := range g.Keys {
			idDoc[name] = path
		}
		id = idDoc
	}

	doc := bson.M{"_id": id}
	for _, a := range g.Accumulators {
		doc[a.Name] = bson.M{a.Op: a.Expr}
	}
	return bson.D{{Key: "$group", Value: doc}}
}

// SortField orders output rows by one field.
type SortField struct {
	Field string
	Asc   bool
}

// Sort orders the pipeline output.
type Sort struct {
	Fields []SortField
}

func (s Sort) Render() bson.D {
	doc := bson.D{}
	for _, f := range s.Fields {
		dir := 1
		if !f.Asc {
			dir = -1
		}
		doc = append(doc, bson.E{Key: f.Field, Value: dir})
	}
	return bson.D{{Key: "$sort", Value: doc}}
}

// AddFields attaches literal fields to every row; used to tag unioned
// sub-results with their discriminator.
type AddFields struct {
	Fields bson.M
}

func (a AddFields) Render() bson.D {
	return bson.D{{Key: "$addFields", Value: a.Fields}}
}

// Limit truncates the result stream.
type Limit struct {
	N int64
}

func (l Limit) Render() bson.D {
	return bson.D{{Key: "$limit", Value: l.N}}
}

package query

import (
	"time"

	"github.com/EgorkaKv/sensor-gate/internal/domain"
)

// Field names in the measurement collection.
const (
	FieldTimestamp  = "timestamp"
	FieldDeviceID   = "device_id"
	FieldSensorType = "sensor_type"
	FieldValue      = "value"
	FieldLatitude   = "latitude"
	FieldLongitude  = "longitude"
)

// Discriminator values tagging unioned sub-results.
const (
	StatSensorTypes      = "sensor_types"
	StatCount            = "count"
	StatFirst            = "first"
	StatLast             = "last"
	StatLocation         = "location"
	StatDeviceCount      = "device_count"
	StatMeasurementCount = "measurement_count"
	StatValueStats       = "value_stats"
)

// aggregationOps maps an aggregation type to its store operator and the
// expression it accumulates. Count sums a literal 1; everything else folds
// the value field.
var aggregationOps = map[domain.AggregationType]Accumulator{
	domain.AggMean:  {Name: FieldValue, Op: "$avg", Expr: "$" + FieldValue},
	domain.AggMin:   {Name: FieldValue, Op: "$min", Expr: "$" + FieldValue},
	domain.AggMax:   {Name: FieldValue, Op: "$max", Expr: "$" + FieldValue},
	domain.AggCount: {Name: FieldValue, Op: "$sum", Expr: 1},
	domain.AggSum:   {Name: FieldValue, Op: "$sum", Expr: "$" + FieldValue},
	domain.AggFirst: {Name: FieldValue, Op: "$first", Expr: "$" + FieldValue},
	domain.AggLast:  {Name: FieldValue, Op: "$last", Expr: "$" + FieldValue},
}

// Base compiles the pushdown filter shared by every historical query:
// time-range restriction first, then the optional equality and range
// predicates in a fixed order. Each predicate is present iff its parameter
// was supplied.
func Base(p domain.HistoryQueryParams) Pipeline {
	conds := []Condition{
		{Field: FieldTimestamp, Op: "$gte", Value: p.Start},
		{Field: FieldTimestamp, Op: "$lte", Value: p.End},
	}

	if p.SensorType != nil {
		conds = append(conds, Condition{Field: FieldSensorType, Op: "$eq", Value: p.SensorType.String()})
	}
	if p.DeviceID != nil {
		conds = append(conds, Condition{Field: FieldDeviceID, Op: "$eq", Value: *p.DeviceID})
	}
	if p.LatitudeMin != nil {
		conds = append(conds, Condition{Field: FieldLatitude, Op: "$gte", Value: *p.LatitudeMin})
	}
	if p.LatitudeMax != nil {
		conds = append(conds, Condition{Field: FieldLatitude, Op: "$lte", Value: *p.LatitudeMax})
	}
	if p.LongitudeMin != nil {
		conds = append(conds, Condition{Field: FieldLongitude, Op: "$gte", Value: *p.LongitudeMin})
	}
	if p.LongitudeMax != nil {
		conds = append(conds, Condition{Field: FieldLongitude, Op: "$lte", Value: *p.LongitudeMax})
	}

	return Pipeline{Stages: []Stage{Match{Conditions: conds}}}
}

// Historical compiles the raw-history pipeline: base filter, rows sorted
// by timestamp ascending.
func Historical(p domain.HistoryQueryParams) Pipeline {
	base := Base(p)
	base.Stages = append(base.Stages, Sort{Fields: []SortField{{Field: FieldTimestamp, Asc: true}}})
	return base
}

// Aggregation derives the per-group aggregate pipeline from the base
// filter: group by (sensor_type, device_id) applying the requested
// function over the value field. Unknown functions fall back to mean.
// First/last are order-dependent, so those variants sort before grouping.
func Aggregation(p domain.HistoryQueryParams, agg domain.AggregationType) Pipeline {
	acc, ok := aggregationOps[agg]
	if !ok {
		agg = domain.AggMean
		acc = aggregationOps[agg]
	}

	pipe := Base(p)
	pipe.Tag = string(agg)

	if agg == domain.AggFirst || agg == domain.AggLast {
		pipe.Stages = append(pipe.Stages, Sort{Fields: []SortField{{Field: FieldTimestamp, Asc: true}}})
	}

	pipe.Stages = append(pipe.Stages, Group{
		Keys: map[string]string{
			FieldSensorType: "$" + FieldSensorType,
			FieldDeviceID:   "$" + FieldDeviceID,
		},
		Accumulators: []Accumulator{acc},
	})

	return pipe
}

// CountPipeline is the independent per-group count issued alongside every
// aggregation; its rows are joined by (sensor_type, device_id).
func CountPipeline(p domain.HistoryQueryParams) Pipeline {
	pipe := Aggregation(p, domain.AggCount)
	pipe.Tag = StatCount
	return pipe
}

func windowMatch(start, end time.Time, sensorType *domain.SensorType) Match {
	conds := []Condition{
		{Field: FieldTimestamp, Op: "$gte", Value: start},
		{Field: FieldTimestamp, Op: "$lte", Value: end},
	}
	if sensorType != nil {
		conds = append(conds, Condition{Field: FieldSensorType, Op: "$eq", Value: sensorType.String()})
	}
	return Match{Conditions: conds}
}

func tag(stat string) AddFields {
	return AddFields{Fields: map[string]any{"stat": stat}}
}

// DeviceFacets compiles the independent sub-pipelines correlated into
// DeviceInfo records: distinct sensor types, measurement count, first/last
// timestamps (a two-branch tagged union) and last known location, all
// keyed by device_id over the lookback window.
func DeviceFacets(start, end time.Time, sensorType *domain.SensorType) []Pipeline {
	match := windowMatch(start, end, sensorType)
	groupKey := map[string]string{FieldDeviceID: "$" + FieldDeviceID}

	return []Pipeline{
		{
			Tag: StatSensorTypes,
			Stages: []Stage{match, Group{
				Keys:         groupKey,
				Accumulators: []Accumulator{{Name: "types", Op: "$addToSet", Expr: "$" + FieldSensorType}},
			}, tag(StatSensorTypes)},
		},
		{
			Tag: StatCount,
			Stages: []Stage{match, Group{
				Keys:         groupKey,
				Accumulators: []Accumulator{{Name: FieldValue, Op: "$sum", Expr: 1}},
			}, tag(StatCount)},
		},
		{
			Tag: StatFirst,
			Stages: []Stage{match, Group{
				Keys:         groupKey,
				Accumulators: []Accumulator{{Name: "ts", Op: "$min", Expr: "$" + FieldTimestamp}},
			}, tag(StatFirst)},
		},
		{
			Tag: StatLast,
			Stages: []Stage{match, Group{
				Keys:         groupKey,
				Accumulators: []Accumulator{{Name: "ts", Op: "$max", Expr: "$" + FieldTimestamp}},
			}, tag(StatLast)},
		},
		{
			Tag: StatLocation,
			Stages: []Stage{
				match,
				Sort{Fields: []SortField{{Field: FieldTimestamp, Asc: true}}},
				Group{
					Keys: groupKey,
					Accumulators: []Accumulator{
						{Name: FieldLatitude, Op: "$last", Expr: "$" + FieldLatitude},
						{Name: FieldLongitude, Op: "$last", Expr: "$" + FieldLongitude},
					},
				},
				tag(StatLocation),
			},
		},
	}
}

// StatsFacets compiles the five-way union behind per-sensor-type stats:
// device count, measurement count, min/max/mean value stats, and first and
// last measurement timestamps, each branch tagged with its discriminator
// and grouped by sensor_type.
func StatsFacets(start, end time.Time) []Pipeline {
	match := windowMatch(start, end, nil)
	groupKey := map[string]string{FieldSensorType: "$" + FieldSensorType}

	return []Pipeline{
		{
			Tag: StatDeviceCount,
			Stages: []Stage{
				match,
				// Distinct devices per type: collapse to (type, device)
				// pairs, then count pairs per type.
				Group{Keys: map[string]string{
					FieldSensorType: "$" + FieldSensorType,
					FieldDeviceID:   "$" + FieldDeviceID,
				}},
				Group{
					Keys:         map[string]string{FieldSensorType: "$_id." + FieldSensorType},
					Accumulators: []Accumulator{{Name: FieldValue, Op: "$sum", Expr: 1}},
				},
				tag(StatDeviceCount),
			},
		},
		{
			Tag: StatMeasurementCount,
			Stages: []Stage{match, Group{
				Keys:         groupKey,
				Accumulators: []Accumulator{{Name: FieldValue, Op: "$sum", Expr: 1}},
			}, tag(StatMeasurementCount)},
		},
		{
			Tag: StatValueStats,
			Stages: []Stage{match, Group{
				Keys: groupKey,
				Accumulators: []Accumulator{
					{Name: "min", Op: "$min", Expr: "$" + FieldValue},
					{Name: "max", Op: "$max", Expr: "$" + FieldValue},
					{Name: "mean", Op: "$avg", Expr: "$" + FieldValue},
				},
			}, tag(StatValueStats)},
		},
		{
			Tag: StatFirst,
			Stages: []Stage{match, Group{
				Keys:         groupKey,
				Accumulators: []Accumulator{{Name: "ts", Op: "$min", Expr: "$" + FieldTimestamp}},
			}, tag(StatFirst)},
		},
		{
			Tag: StatLast,
			Stages: []Stage{match, Group{
				Keys:         groupKey,
				Accumulators: []Accumulator{{Name: "ts", Op: "$max", Expr: "$" + FieldTimestamp}},
			}, tag(StatLast)},
		},
	}
}

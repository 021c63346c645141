package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/EgorkaKv/sensor-gate/internal/domain"
)

func baseParams() domain.HistoryQueryParams {
	return domain.HistoryQueryParams{
		Start: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
	}
}

func matchConditions(t *testing.T, p Pipeline) []Condition {
	t.Helper()
	require.NotEmpty(t, p.Stages)
	m, ok := p.Stages[0].(Match)
	require.True(t, ok, "first stage must be the pushdown match")
	return m.Conditions
}

func hasCondition(conds []Condition, field, op string) bool {
	for _, c := range conds {
		if c.Field == field && c.Op == op {
			return true
		}
	}
	return false
}

func TestBaseAlwaysIncludesTimeRange(t *testing.T) {
	conds := matchConditions(t, Base(baseParams()))

	assert.True(t, hasCondition(conds, FieldTimestamp, "$gte"))
	assert.True(t, hasCondition(conds, FieldTimestamp, "$lte"))
	assert.Len(t, conds, 2, "no optional filters without parameters")
}

func TestBaseFiltersToggleIndependently(t *testing.T) {
	st := domain.SensorTemperature
	dev := int64(42)
	latMin, latMax := 10.0, 20.0

	p := baseParams()
	p.SensorType = &st
	conds := matchConditions(t, Base(p))
	assert.True(t, hasCondition(conds, FieldSensorType, "$eq"))
	assert.False(t, hasCondition(conds, FieldDeviceID, "$eq"))

	p = baseParams()
	p.DeviceID = &dev
	conds = matchConditions(t, Base(p))
	assert.True(t, hasCondition(conds, FieldDeviceID, "$eq"))
	assert.False(t, hasCondition(conds, FieldSensorType, "$eq"))

	p = baseParams()
	p.LatitudeMin, p.LatitudeMax = &latMin, &latMax
	conds = matchConditions(t, Base(p))
	assert.True(t, hasCondition(conds, FieldLatitude, "$gte"))
	assert.True(t, hasCondition(conds, FieldLatitude, "$lte"))
	assert.False(t, hasCondition(conds, FieldLongitude, "$gte"))
}

func TestHistoricalSortsByTimestampAscending(t *testing.T) {
	p := Historical(baseParams())

	last := p.Stages[len(p.Stages)-1]
	sort, ok := last.(Sort)
	require.True(t, ok)
	require.Len(t, sort.Fields, 1)
	assert.Equal(t, FieldTimestamp, sort.Fields[0].Field)
	assert.True(t, sort.Fields[0].Asc)
}

func TestAggregationGroupsByCompositeKey(t *testing.T) {
	p := Aggregation(baseParams(), domain.AggMean)

	group, ok := p.Stages[len(p.Stages)-1].(Group)
	require.True(t, ok)
	assert.Equal(t, "$"+FieldSensorType, group.Keys[FieldSensorType])
	assert.Equal(t, "$"+FieldDeviceID, group.Keys[FieldDeviceID])
	require.Len(t, group.Accumulators, 1)
	assert.Equal(t, "$avg", group.Accumulators[0].Op)
	assert.Equal(t, "$"+FieldValue, group.Accumulators[0].Expr)
}

func TestAggregationCountSumsLiteralOne(t *testing.T) {
	p := Aggregation(baseParams(), domain.AggCount)

	group := p.Stages[len(p.Stages)-1].(Group)
	assert.Equal(t, "$sum", group.Accumulators[0].Op)
	assert.Equal(t, 1, group.Accumulators[0].Expr)
}

func TestAggregationFirstLastSortBeforeGrouping(t *testing.T) {
	for _, agg := range []domain.AggregationType{domain.AggFirst, domain.AggLast} {
		p := Aggregation(baseParams(), agg)
		require.Len(t, p.Stages, 3, "%s needs an ordering stage", agg)
		_, isSort := p.Stages[1].(Sort)
		assert.True(t, isSort)
	}
}

func TestAggregationUnknownFallsBackToMean(t *testing.T) {
	p := Aggregation(baseParams(), domain.AggregationType("median"))

	assert.Equal(t, string(domain.AggMean), p.Tag)
	group := p.Stages[len(p.Stages)-1].(Group)
	assert.Equal(t, "$avg", group.Accumulators[0].Op)
}

func TestRenderMatchMergesOpsPerField(t *testing.T) {
	rendered := Base(baseParams()).Render()

	require.Len(t, rendered, 1)
	stage := rendered[0]
	assert.Equal(t, "$match", stage[0].Key)

	filter := stage[0].Value.(bson.M)
	ts := filter[FieldTimestamp].(bson.M)
	assert.Contains(t, ts, "$gte")
	assert.Contains(t, ts, "$lte")
}

func TestDeviceFacetsAreTagged(t *testing.T) {
	start := baseParams().Start
	end := baseParams().End

	facets := DeviceFacets(start, end, nil)
	require.Len(t, facets, 5)

	tags := make([]string, 0, len(facets))
	for _, f := range facets {
		tags = append(tags, f.Tag)

		add, ok := f.Stages[len(f.Stages)-1].(AddFields)
		require.True(t, ok, "facet %s must tag its rows", f.Tag)
		assert.Equal(t, f.Tag, add.Fields["stat"])
	}
	assert.ElementsMatch(t,
		[]string{StatSensorTypes, StatCount, StatFirst, StatLast, StatLocation}, tags)
}

func TestDeviceFacetsApplySensorTypeFilter(t *testing.T) {
	st := domain.SensorHumidity
	facets := DeviceFacets(baseParams().Start, baseParams().End, &st)

	for _, f := range facets {
		conds := matchConditions(t, f)
		assert.True(t, hasCondition(conds, FieldSensorType, "$eq"), "facet %s", f.Tag)
	}
}

func TestStatsFacetsCoverFiveStats(t *testing.T) {
	facets := StatsFacets(baseParams().Start, baseParams().End)
	require.Len(t, facets, 5)

	tags := make([]string, 0, len(facets))
	for _, f := range facets {
		tags = append(tags, f.Tag)
	}
	assert.ElementsMatch(t, []string{
		StatDeviceCount, StatMeasurementCount, StatValueStats, StatFirst, StatLast,
	}, tags)
}

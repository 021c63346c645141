package history

import (
	"sort"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/EgorkaKv/sensor-gate/internal/domain"
	"github.com/EgorkaKv/sensor-gate/internal/query"
)

// groupKey is the composite correlation key shared by independently
// executed sub-queries.
type groupKey struct {
	sensorType string
	deviceID   int64
}

// rowGroupKey extracts the (sensor_type, device_id) key from a grouped
// row's _id document.
func rowGroupKey(row bson.M) (groupKey, bool) {
	id, ok := asDoc(row["_id"])
	if !ok {
		return groupKey{}, false
	}

	st, ok := asString(id[query.FieldSensorType])
	if !ok {
		return groupKey{}, false
	}

	dev, ok := asInt(id[query.FieldDeviceID])
	if !ok {
		return groupKey{}, false
	}

	return groupKey{sensorType: st, deviceID: dev}, true
}

// mapHistoricalRows converts raw measurement rows to data points. Rows with
// unparseable fields are skipped individually.
func mapHistoricalRows(rows []bson.M, logger zerolog.Logger) []domain.HistoricalDataPoint {
	points := make([]domain.HistoricalDataPoint, 0, len(rows))

	for _, row := range rows {
		ts, tsOK := asTime(row[query.FieldTimestamp])
		dev, devOK := asInt(row[query.FieldDeviceID])
		stRaw, stRawOK := asString(row[query.FieldSensorType])
		value, valOK := asFloat(row[query.FieldValue])

		st, stOK := domain.ParseSensorType(stRaw)
		if !tsOK || !devOK || !stRawOK || !stOK || !valOK {
			logger.Warn().Interface("row", row).Msg("skipping unparseable data point")
			continue
		}

		lat, _ := asFloat(row[query.FieldLatitude])
		lon, _ := asFloat(row[query.FieldLongitude])

		points = append(points, domain.HistoricalDataPoint{
			Timestamp:  ts,
			DeviceID:   dev,
			SensorType: st,
			Value:      value,
			Latitude:   lat,
			Longitude:  lon,
		})
	}

	return points
}

// joinAggregates correlates the aggregate rows with the independently
// executed count rows by (sensor_type, device_id). A group missing from the
// count result gets count = 0.
func joinAggregates(aggRows, countRows []bson.M, params domain.HistoryQueryParams, logger zerolog.Logger) []domain.AggregatedDataPoint {
	counts := make(map[groupKey]int64, len(countRows))
	for _, row := range countRows {
		key, ok := rowGroupKey(row)
		if !ok {
			continue
		}
		if n, ok := asInt(row[query.FieldValue]); ok {
			counts[key] = n
		}
	}

	points := make([]domain.AggregatedDataPoint, 0, len(aggRows))
	for _, row := range aggRows {
		key, ok := rowGroupKey(row)
		if !ok {
			logger.Warn().Interface("row", row).Msg("skipping aggregated row without group key")
			continue
		}

		st, ok := domain.ParseSensorType(key.sensorType)
		if !ok {
			logger.Warn().Str("sensor_type", key.sensorType).Msg("skipping aggregated row with unknown sensor type")
			continue
		}

		value, ok := asFloat(row[query.FieldValue])
		if !ok {
			logger.Warn().Interface("row", row).Msg("skipping aggregated row with non-numeric value")
			continue
		}

		deviceID := key.deviceID
		points = append(points, domain.AggregatedDataPoint{
			SensorType:      st,
			DeviceID:        &deviceID,
			AggregationType: params.Aggregation,
			Value:           value,
			Count:           counts[key],
			Start:           params.Start,
			End:             params.End,
		})
	}

	sort.Slice(points, func(i, j int) bool {
		if points[i].SensorType != points[j].SensorType {
			return points[i].SensorType < points[j].SensorType
		}
		return *points[i].DeviceID < *points[j].DeviceID
	})

	return points
}

// foldDevices merges the tagged device facet rows into DeviceInfo records.
// Devices missing resolvable sensor types or first/last timestamps are
// dropped as "insufficient data", not reported as errors.
func foldDevices(tagged map[string][]bson.M, logger zerolog.Logger) []domain.DeviceInfo {
	type devAcc struct {
		types    []domain.SensorType
		count    int64
		first    *int64
		last     *int64
		location *domain.Location
	}

	byDevice := make(map[int64]*devAcc)
	get := func(row bson.M) (*devAcc, int64, bool) {
		id, ok := asDoc(row["_id"])
		if !ok {
			return nil, 0, false
		}
		dev, ok := asInt(id[query.FieldDeviceID])
		if !ok {
			return nil, 0, false
		}
		a := byDevice[dev]
		if a == nil {
			a = &devAcc{}
			byDevice[dev] = a
		}
		return a, dev, true
	}

	for stat, rows := range tagged {
		for _, row := range rows {
			a, dev, ok := get(row)
			if !ok {
				logger.Warn().Str("stat", stat).Interface("row", row).Msg("skipping device facet row without device id")
				continue
			}

			switch stat {
			case query.StatSensorTypes:
				raw, _ := row["types"].(bson.A)
				if raw == nil {
					if alt, ok := row["types"].([]any); ok {
						raw = alt
					}
				}
				for _, v := range raw {
					s, _ := asString(v)
					if st, ok := domain.ParseSensorType(s); ok {
						a.types = append(a.types, st)
					}
				}

			case query.StatCount:
				if n, ok := asInt(row[query.FieldValue]); ok {
					a.count = n
				}

			case query.StatFirst:
				if ts, ok := asTime(row["ts"]); ok {
					u := ts.UnixNano()
					a.first = &u
				}

			case query.StatLast:
				if ts, ok := asTime(row["ts"]); ok {
					u := ts.UnixNano()
					a.last = &u
				}

			case query.StatLocation:
				lat, latOK := asFloat(row[query.FieldLatitude])
				lon, lonOK := asFloat(row[query.FieldLongitude])
				if latOK && lonOK {
					a.location = &domain.Location{Latitude: lat, Longitude: lon}
				}

			default:
				logger.Warn().Str("stat", stat).Int64("device_id", dev).Msg("unknown device facet tag")
			}
		}
	}

	devices := make([]domain.DeviceInfo, 0, len(byDevice))
	for dev, a := range byDevice {
		if len(a.types) == 0 || a.first == nil || a.last == nil {
			continue
		}

		info := domain.DeviceInfo{
			DeviceID:          dev,
			SensorTypes:       dedupeSensorTypes(a.types),
			FirstSeen:         unixNano(*a.first),
			LastSeen:          unixNano(*a.last),
			TotalMeasurements: a.count,
		}
		if a.location != nil {
			info.LastLocation = *a.location
		}
		devices = append(devices, info)
	}

	sort.Slice(devices, func(i, j int) bool { return devices[i].DeviceID < devices[j].DeviceID })

	return devices
}

// foldStats merges the five-way tagged union into per-sensor-type stats.
// Sensor types missing a resolvable first/last measurement are excluded.
func foldStats(tagged map[string][]bson.M, logger zerolog.Logger) []domain.SensorTypeStats {
	type statAcc struct {
		deviceCount  int64
		measurements int64
		values       domain.ValueStats
		hasValues    bool
		first        *int64
		last         *int64
	}

	byType := make(map[domain.SensorType]*statAcc)
	get := func(row bson.M) (*statAcc, bool) {
		id, ok := asDoc(row["_id"])
		if !ok {
			return nil, false
		}
		raw, ok := asString(id[query.FieldSensorType])
		if !ok {
			return nil, false
		}
		st, ok := domain.ParseSensorType(raw)
		if !ok {
			return nil, false
		}
		a := byType[st]
		if a == nil {
			a = &statAcc{}
			byType[st] = a
		}
		return a, true
	}

	for stat, rows := range tagged {
		for _, row := range rows {
			a, ok := get(row)
			if !ok {
				logger.Warn().Str("stat", stat).Interface("row", row).Msg("skipping stats row with unknown sensor type")
				continue
			}

			switch stat {
			case query.StatDeviceCount:
				if n, ok := asInt(row[query.FieldValue]); ok {
					a.deviceCount = n
				}
			case query.StatMeasurementCount:
				if n, ok := asInt(row[query.FieldValue]); ok {
					a.measurements = n
				}
			case query.StatValueStats:
				min, minOK := asFloat(row["min"])
				max, maxOK := asFloat(row["max"])
				mean, meanOK := asFloat(row["mean"])
				if minOK && maxOK && meanOK {
					a.values = domain.ValueStats{Min: min, Max: max, Mean: mean}
					a.hasValues = true
				}
			case query.StatFirst:
				if ts, ok := asTime(row["ts"]); ok {
					u := ts.UnixNano()
					a.first = &u
				}
			case query.StatLast:
				if ts, ok := asTime(row["ts"]); ok {
					u := ts.UnixNano()
					a.last = &u
				}
			}
		}
	}

	stats := make([]domain.SensorTypeStats, 0, len(byType))
	for st, a := range byType {
		if a.first == nil || a.last == nil {
			continue
		}

		stats = append(stats, domain.SensorTypeStats{
			SensorType:        st,
			DeviceCount:       a.deviceCount,
			TotalMeasurements: a.measurements,
			FirstMeasurement:  unixNano(*a.first),
			LastMeasurement:   unixNano(*a.last),
			ValueStats:        a.values,
		})
	}

	sort.Slice(stats, func(i, j int) bool { return stats[i].SensorType < stats[j].SensorType })

	return stats
}

func dedupeSensorTypes(in []domain.SensorType) []domain.SensorType {
	seen := make(map[domain.SensorType]bool, len(in))
	out := make([]domain.SensorType, 0, len(in))
	for _, st := range in {
		if !seen[st] {
			seen[st] = true
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

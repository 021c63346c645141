package history

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Result rows come back as flat documents with loosely typed fields; these
// helpers normalize what the store hands us. A false return means the row
// should be skipped, never that the query fails.

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}

func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case bson.DateTime:
		return t.Time().UTC(), true
	}
	return time.Time{}, false
}

func unixNano(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// asDoc flattens an embedded document regardless of whether the decoder
// produced a map or an ordered document.
func asDoc(v any) (map[string]any, bool) {
	switch d := v.(type) {
	case bson.M:
		return d, true
	case map[string]any:
		return d, true
	case bson.D:
		out := make(map[string]any, len(d))
		for _, e := range d {
			out[e.Key] = e.Value
		}
		return out, true
	}
	return nil, false
}

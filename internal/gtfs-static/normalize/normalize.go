// Package normalize turns one raw feed row into a record ready for the
// store.
package normalize

import (
	"math"
	"strconv"
	"strings"

	"github.com/gtfsload/internal/geo"
	"github.com/gtfsload/internal/store"
)

// LocationField holds the synthesized [lon, lat] point.
const LocationField = "loc"

// IntegerFields are stored as integers whatever file they appear in.
var IntegerFields = []string{
	"monday",
	"tuesday",
	"wednesday",
	"thursday",
	"friday",
	"saturday",
	"sunday",
	"start_date",
	"end_date",
	"date",
	"exception_type",
	"shape_pt_sequence",
	"payment_method",
	"transfers",
	"transfer_duration",
	"feed_start_date",
	"feed_end_date",
	"headway_secs",
	"exact_times",
	"route_type",
	"direction_id",
	"location_type",
	"wheelchair_boarding",
	"stop_sequence",
	"pickup_type",
	"drop_off_type",
	"use_stop_sequence",
	"transfer_type",
	"min_transfer_time",
	"wheelchair_accessible",
	"bikes_allowed",
	"timepoint",
	"timetable_sequence",
}

// FloatFields are stored as floating point numbers.
var FloatFields = []string{
	"price",
	"shape_dist_traveled",
	"shape_pt_lat",
	"shape_pt_lon",
	"stop_lat",
	"stop_lon",
}

// Normalizer coerces rows for one agency.
type Normalizer struct {
	AgencyKey string
	// Projection, when set, reprojects stop coordinates. Shape points are
	// left as they are.
	Projection geo.Projection
}

// Normalize builds a record from raw. Columns absent from raw are absent
// from the record. Numeric fields that are empty or cannot be parsed are
// dropped rather than stored as text.
func (n Normalizer) Normalize(raw map[string]string) store.Record {
	rec := make(store.Record, len(raw)+2)
	for k, v := range raw {
		rec[k] = v
	}
	rec[store.AgencyKeyField] = n.AgencyKey

	for _, f := range IntegerFields {
		s, ok := raw[f]
		if !ok {
			continue
		}
		if v, ok := parseInt(s); ok {
			rec[f] = v
		} else {
			delete(rec, f)
		}
	}

	floats := make(map[string]float64, len(FloatFields))
	for _, f := range FloatFields {
		s, ok := raw[f]
		if !ok {
			continue
		}
		v := parseFloat(s)
		floats[f] = v
		if math.IsNaN(v) {
			delete(rec, f)
		} else {
			rec[f] = v
		}
	}

	if present(raw, "stop_lat") && present(raw, "stop_lon") {
		p := geo.Point{zeroNaN(floats["stop_lon"]), zeroNaN(floats["stop_lat"])}
		if n.Projection != nil {
			p = n.Projection.ToWGS84(p)
		}
		rec[LocationField] = []float64{p[0], p[1]}
		rec["stop_lon"] = p[0]
		rec["stop_lat"] = p[1]
	}

	if present(raw, "shape_pt_lat") && present(raw, "shape_pt_lon") {
		lon, lat := floats["shape_pt_lon"], floats["shape_pt_lat"]
		if !math.IsNaN(lon) && !math.IsNaN(lat) {
			rec[LocationField] = []float64{lon, lat}
		}
	}

	return rec
}

// Location returns the point synthesized on rec, if any.
func Location(rec store.Record) (geo.Point, bool) {
	loc, ok := rec[LocationField].([]float64)
	if !ok || len(loc) != 2 {
		return geo.Point{}, false
	}
	return geo.Point{loc[0], loc[1]}, true
}

func present(raw map[string]string, field string) bool {
	return strings.TrimSpace(raw[field]) != ""
}

func zeroNaN(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return v
}

// parseInt reads the leading integer of s, so "1.0" is 1 and "20240101"
// is 20240101.
func parseInt(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0, false
	}
	v, err := strconv.ParseInt(s[:end], 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// parseFloat returns NaN for anything that is not a finite number.
func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsInf(v, 0) {
		return math.NaN()
	}
	return v
}

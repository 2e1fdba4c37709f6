package entity

// Default returns the standard feed files plus the non-standard timetable
// extensions, in import order.
func Default() Set {
	s, err := NewSet(
		Descriptor{
			Name:       "agency",
			Collection: "agencies",
			NaturalKey: []string{"agency_id"},
			Required:   true,
		},
		Descriptor{
			Name:       "calendar",
			Collection: "calendars",
			NaturalKey: []string{"service_id"},
		},
		Descriptor{
			Name:       "calendar_dates",
			Collection: "calendar_dates",
			NaturalKey: []string{"service_id", "date"},
			Relationships: []Relationship{
				{Field: "service", SourceField: "service_id", Target: "calendar", TargetField: "service_id"},
			},
		},
		Descriptor{
			Name:       "routes",
			Collection: "routes",
			NaturalKey: []string{"route_id"},
			Required:   true,
			Relationships: []Relationship{
				{Field: "agency", SourceField: "agency_id", Target: "agency", TargetField: "agency_id", SkipEmpty: true},
			},
		},
		Descriptor{
			Name:       "fare_attributes",
			Collection: "fare_attributes",
			NaturalKey: []string{"fare_id"},
		},
		Descriptor{
			Name:       "fare_rules",
			Collection: "fare_rules",
			NaturalKey: []string{"fare_id"},
			Relationships: []Relationship{
				{Field: "route", SourceField: "route_id", Target: "routes", TargetField: "route_id", SkipEmpty: true},
				{Field: "fare", SourceField: "fare_id", Target: "fare_attributes", TargetField: "fare_id"},
			},
		},
		Descriptor{
			Name:       "feed_info",
			Collection: "feed_infos",
			NaturalKey: []string{"feed_publisher_name"},
		},
		Descriptor{
			Name:       "stops",
			Collection: "stops",
			NaturalKey: []string{"stop_id"},
			Required:   true,
		},
		Descriptor{
			Name:       "trips",
			Collection: "trips",
			NaturalKey: []string{"trip_id"},
			Required:   true,
			Relationships: []Relationship{
				{Field: "route", SourceField: "route_id", Target: "routes", TargetField: "route_id"},
				{Field: "service", SourceField: "service_id", Target: "calendar", TargetField: "service_id"},
			},
		},
		Descriptor{
			Name:       "stop_times",
			Collection: "stop_times",
			NaturalKey: []string{"trip_id", "stop_sequence"},
			Required:   true,
		},
		Descriptor{
			Name:       "frequencies",
			Collection: "frequencies",
			NaturalKey: []string{"trip_id"},
			Relationships: []Relationship{
				{Field: "trip", SourceField: "trip_id", Target: "trips", TargetField: "trip_id"},
			},
		},
		Descriptor{
			Name:       "shapes",
			Collection: "shapes",
			NaturalKey: []string{"shape_id"},
		},
		Descriptor{
			Name:       "transfers",
			Collection: "transfers",
			NaturalKey: []string{"from_stop_id", "to_stop_id"},
			Relationships: []Relationship{
				{Field: "from_stop", SourceField: "from_stop_id", Target: "stops", TargetField: "stop_id"},
				{Field: "to_stop", SourceField: "to_stop_id", Target: "stops", TargetField: "stop_id"},
			},
		},
		Descriptor{
			Name:        "stop_attributes",
			Collection:  "stop_attributes",
			NaturalKey:  []string{"stop_id"},
			Nonstandard: true,
			Relationships: []Relationship{
				{Field: "stop", SourceField: "stop_id", Target: "stops", TargetField: "stop_id"},
			},
		},
		Descriptor{
			Name:        "timetable_pages",
			Collection:  "timetable_pages",
			NaturalKey:  []string{"timetable_page_id"},
			Nonstandard: true,
		},
		Descriptor{
			Name:        "timetables",
			Collection:  "timetables",
			NaturalKey:  []string{"timetable_id"},
			Nonstandard: true,
			Relationships: []Relationship{
				{Field: "route", SourceField: "route_id", Target: "routes", TargetField: "route_id"},
				{Field: "timetable_page", SourceField: "timetable_page_id", Target: "timetable_pages", TargetField: "timetable_page_id", SkipEmpty: true},
			},
		},
		Descriptor{
			Name:        "timetable_stop_order",
			Collection:  "timetable_stop_orders",
			NaturalKey:  []string{"timetable_id", "stop_sequence"},
			Nonstandard: true,
			Relationships: []Relationship{
				{Field: "stop", SourceField: "stop_id", Target: "stops", TargetField: "stop_id"},
				{Field: "timetable", SourceField: "timetable_id", Target: "timetables", TargetField: "timetable_id"},
			},
		},
	)
	if err != nil {
		panic("entity: invalid default set: " + err.Error())
	}
	return s
}

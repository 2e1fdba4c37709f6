package sqlstore

import (
	"fmt"
	"strings"

	"github.com/gtfsload/internal/common/db"
)

// dialect isolates the SQL that differs between postgres (jsonb) and
// sqlite (json1).
type dialect interface {
	// setup returns statements run once before any table is created.
	setup() []string
	table(collection string) string
	createTable(table string) string
	placeholder(n int) string
	jsonField(field string) string
	mergeData(arg string) string
	// castData wraps the placeholder carrying a JSON document on insert.
	castData(arg string) string
	index(name, table string, fields []string) string
}

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case db.Postgres:
		return postgres{}, nil
	case db.SQLite:
		return sqlite{}, nil
	}
	return nil, fmt.Errorf("no store dialect for driver %q", driver)
}

func indexExpr(d dialect, field string) string {
	if field == "agency_key" {
		return "agency_key"
	}
	return "(" + d.jsonField(field) + ")"
}

type postgres struct{}

func (postgres) setup() []string {
	return []string{"CREATE SCHEMA IF NOT EXISTS gtfs"}
}

func (postgres) table(collection string) string {
	return "gtfs." + collection
}

func (postgres) createTable(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		seq BIGSERIAL,
		agency_key TEXT NOT NULL,
		data JSONB NOT NULL
	)`, table)
}

func (postgres) placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

func (postgres) jsonField(field string) string {
	return fmt.Sprintf("data->>'%s'", field)
}

func (postgres) mergeData(arg string) string {
	return "data = data || " + arg + "::jsonb"
}

func (postgres) castData(arg string) string {
	return arg + "::jsonb"
}

func (p postgres) index(name, table string, fields []string) string {
	exprs := make([]string, len(fields))
	for i, f := range fields {
		exprs[i] = indexExpr(p, f)
	}
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)", name, table, strings.Join(exprs, ", "))
}

type sqlite struct{}

func (sqlite) setup() []string {
	return nil
}

func (sqlite) table(collection string) string {
	return "gtfs_" + collection
}

func (sqlite) createTable(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		agency_key TEXT NOT NULL,
		data TEXT NOT NULL
	)`, table)
}

func (sqlite) placeholder(int) string {
	return "?"
}

func (sqlite) jsonField(field string) string {
	return fmt.Sprintf("json_extract(data, '$.%s')", field)
}

func (sqlite) mergeData(arg string) string {
	return "data = json_patch(data, " + arg + ")"
}

func (sqlite) castData(arg string) string {
	return arg
}

func (s sqlite) index(name, table string, fields []string) string {
	exprs := make([]string, len(fields))
	for i, f := range fields {
		exprs[i] = indexExpr(s, f)
	}
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)", name, table, strings.Join(exprs, ", "))
}

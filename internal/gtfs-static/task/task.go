// Package task holds the per-agency import context handed from stage to
// stage, and the error kinds an import can fail with.
package task

import (
	"strings"

	"github.com/gtfsload/internal/common/logger"
	"github.com/gtfsload/internal/geo"
)

// Task is the context of one agency import. It is owned by the driver and
// passed by pointer to each stage in turn; no two stages use it at once.
type Task struct {
	AgencyKey string
	// Dir holds the extracted feed files.
	Dir        string
	Exclude    map[string]bool
	SkipDelete bool
	// Projection reprojects stop coordinates; nil means they are WGS84.
	Projection geo.Projection
	Log        logger.Logger
}

// New builds a task with a logger scoped to the agency.
func New(agencyKey string, log logger.Logger) *Task {
	if log == nil {
		log = logger.Nop()
	}
	return &Task{
		AgencyKey: agencyKey,
		Exclude:   map[string]bool{},
		Log:       log.With("agency_key", agencyKey),
	}
}

// Excluded reports whether the file named name (without extension) was
// excluded by configuration.
func (t *Task) Excluded(name string) bool {
	return t.Exclude[name]
}

// FileKey is the agency key made safe for use in a file name.
func (t *Task) FileKey() string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', '*', ':', 0:
			return '_'
		}
		return r
	}, t.AgencyKey)
}

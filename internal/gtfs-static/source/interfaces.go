package source

import (
	"context"

	"github.com/gtfsload/internal/gtfs-static/task"
)

type Downloader interface {
	Download(ctx context.Context, url string, destPath string, log Progress) error
}

// Acquirer makes a feed's files available in a directory. workspace is an
// empty directory owned by the caller.
type Acquirer interface {
	// Fetch downloads url into workspace and returns the archive path.
	Fetch(ctx context.Context, t *task.Task, url, workspace string) (string, error)
	// Unpack returns the directory holding the feed files at path. A zip
	// archive is extracted inside workspace; a directory is used in place.
	Unpack(t *task.Task, path, workspace string) (string, error)
}

// Progress receives download progress lines.
type Progress interface {
	Progress(msg string, fields ...interface{})
}

package importer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gtfsload/internal/gtfs-static/entity"
	"github.com/gtfsload/internal/gtfs-static/task"
	"github.com/gtfsload/internal/store"
	"github.com/gtfsload/internal/store/memstore"
)

func writeFeed(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

func newTask(dir string) *task.Task {
	tk := task.New("demo", nil)
	tk.Dir = dir
	return tk
}

func TestImportLoadsFilesAndThreadsBounds(t *testing.T) {
	dir := writeFeed(t, map[string]string{
		"agency.txt": "agency_id,agency_name\nA,Demo Transit\n",
		"routes.txt": "route_id,agency_id,route_type\nR1,A,3\nR2,A,3\n",
		"stops.txt":  "stop_id,stop_lat,stop_lon\nS1,45,-123\n",
		"shapes.txt": "shape_id,shape_pt_lat,shape_pt_lon,shape_pt_sequence\nSH,46,-122,1\n",
	})
	s := memstore.New()

	res, err := NewImporter(s, entity.Default(), nil).Import(context.Background(), newTask(dir))
	require.NoError(t, err)

	assert.Len(t, res.Files, 4)
	assert.Equal(t, 5, res.Records())
	assert.NoError(t, res.Err())
	assert.Contains(t, res.Missing, "trips.txt")
	assert.Contains(t, res.Missing, "timetables.txt")

	assert.Equal(t, 2, res.Bounds.Count())
	assert.Equal(t, -123.0, res.Bounds.SW[0])
	assert.Equal(t, 46.0, res.Bounds.NE[1])

	assert.Equal(t, 2, s.Count("routes", "demo"))
	assert.Equal(t, 1, s.Count("agencies", "demo"))
}

func TestImportFollowsDescriptorOrder(t *testing.T) {
	dir := writeFeed(t, map[string]string{
		"stop_times.txt": "trip_id,stop_id,stop_sequence\nT1,S1,1\n",
		"agency.txt":     "agency_id\nA\n",
		"trips.txt":      "trip_id,route_id\nT1,R1\n",
	})

	res, err := NewImporter(memstore.New(), entity.Default(), nil).Import(context.Background(), newTask(dir))
	require.NoError(t, err)

	var files []string
	for _, f := range res.Files {
		files = append(files, f.File)
	}
	assert.Equal(t, []string{"agency.txt", "trips.txt", "stop_times.txt"}, files)
}

func TestImportSkipsExcludedFiles(t *testing.T) {
	dir := writeFeed(t, map[string]string{
		"agency.txt": "agency_id\nA\n",
		"shapes.txt": "shape_id,shape_pt_lat,shape_pt_lon\nSH,1,1\n",
	})
	s := memstore.New()
	tk := newTask(dir)
	tk.Exclude["shapes"] = true

	res, err := NewImporter(s, entity.Default(), nil).Import(context.Background(), tk)
	require.NoError(t, err)

	assert.Equal(t, []string{"shapes.txt"}, res.Skipped)
	assert.Equal(t, 0, s.Count("shapes", "demo"))
	assert.Equal(t, 0, res.Bounds.Count())
}

func TestImportStopsOnParseError(t *testing.T) {
	dir := writeFeed(t, map[string]string{
		"agency.txt": "agency_id\nA\n",
		"routes.txt": "route_id\nR1,extra\n",
		"stops.txt":  "stop_id\nS1\n",
	})
	s := memstore.New()

	_, err := NewImporter(s, entity.Default(), nil).Import(context.Background(), newTask(dir))

	var parseErr *task.ParseError
	require.True(t, errors.As(err, &parseErr))
	assert.Equal(t, "routes.txt", parseErr.File)
	assert.Equal(t, 0, s.Count("stops", "demo"))
}

func TestRemoveDataOnlyTouchesAgency(t *testing.T) {
	s := memstore.New()
	_, err := s.InsertMany(context.Background(), "routes", []store.Record{
		{"agency_key": "demo", "route_id": "R1"},
		{"agency_key": "other", "route_id": "R1"},
	})
	require.NoError(t, err)

	require.NoError(t, NewImporter(s, entity.Default(), nil).RemoveData(context.Background(), newTask("")))

	assert.Equal(t, 0, s.Count("routes", "demo"))
	assert.Equal(t, 1, s.Count("routes", "other"))
}

func TestEnsureIndexesIsIdempotent(t *testing.T) {
	s := memstore.New()
	imp := NewImporter(s, entity.Default(), nil)

	require.NoError(t, imp.EnsureIndexes(context.Background()))
	first := s.Indexes("trips")
	require.NoError(t, imp.EnsureIndexes(context.Background()))

	assert.Equal(t, first, s.Indexes("trips"))
	assert.Contains(t, first, "trips_trip_id")
	assert.Contains(t, first, "trips_route_id")
}

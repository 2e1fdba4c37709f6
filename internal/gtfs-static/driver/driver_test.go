package driver

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gtfsload/internal/common/config"
	"github.com/gtfsload/internal/common/discord"
	"github.com/gtfsload/internal/gtfs-static/entity"
	"github.com/gtfsload/internal/gtfs-static/source"
	"github.com/gtfsload/internal/gtfs-static/task"
	"github.com/gtfsload/internal/store"
	"github.com/gtfsload/internal/store/memstore"
)

var demoFeed = map[string]string{
	"agency.txt":     "agency_id,agency_name,agency_url,agency_timezone\nDT,Demo Transit,https://example.com,America/Los_Angeles\n",
	"calendar.txt":   "service_id,monday,tuesday,wednesday,thursday,friday,saturday,sunday,start_date,end_date\nWK,1,1,1,1,1,0,0,20240101,20241231\n",
	"routes.txt":     "route_id,agency_id,route_short_name,route_type\nR1,DT,1,3\nR2,DT,2,3\n",
	"stops.txt":      "stop_id,stop_name,stop_lat,stop_lon\nS1,First,45.0,-123.0\nS2,Second,46.0,-122.0\n",
	"trips.txt":      "route_id,service_id,trip_id\nR1,WK,T1\nR404,WK,T2\n",
	"stop_times.txt": "trip_id,arrival_time,departure_time,stop_id,stop_sequence\nT1,08:00:00,08:00:00,S1,1\nT1,08:10:00,08:10:00,S2,2\n",
	"transfers.txt":  "from_stop_id,to_stop_id,transfer_type\nS1,S2,0\n",
}

func writeFeed(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

func newDriver(t *testing.T, s store.Store, opts Options) *Driver {
	t.Helper()
	if opts.DownloadDir == "" {
		opts.DownloadDir = t.TempDir()
	}
	return New(s, entity.Default(), source.NewAcquirer(nil), nil, opts)
}

func find(t *testing.T, s store.Store, collection, agencyKey string) []store.Document {
	t.Helper()
	docs, err := s.Find(context.Background(), collection, agencyKey)
	require.NoError(t, err)
	return docs
}

func byField(t *testing.T, s store.Store, collection, agencyKey, field, value string) store.Document {
	t.Helper()
	for _, d := range find(t, s, collection, agencyKey) {
		if d.Record.String(field) == value {
			return d
		}
	}
	t.Fatalf("no %s with %s=%s", collection, field, value)
	return store.Document{}
}

// resolvedFields hold storage identities, which change on every import.
var resolvedFields = []string{"agency", "route", "service", "trip", "fare", "stop", "from_stop", "to_stop", "timetable", "timetable_page", "date_last_updated"}

func snapshot(t *testing.T, s store.Store, agencyKey string) map[string][]store.Record {
	t.Helper()
	out := map[string][]store.Record{}
	for _, d := range entity.Default().All() {
		var recs []store.Record
		for _, doc := range find(t, s, d.Collection, agencyKey) {
			r := doc.Record.Clone()
			for _, f := range resolvedFields {
				delete(r, f)
			}
			recs = append(recs, r)
		}
		if len(recs) > 0 {
			out[d.Collection] = recs
		}
	}
	return out
}

func TestImportAgencyResolvesAndFinalizes(t *testing.T) {
	s := memstore.New()
	rep := newDriver(t, s, Options{}).ImportAgency(context.Background(), config.Agency{
		AgencyKey: "demo",
		Path:      writeFeed(t, demoFeed),
	})
	require.NoError(t, rep.Err)
	assert.Equal(t, StateDone, rep.State)
	assert.Equal(t, 11, rep.Import.Records())
	assert.NotEmpty(t, rep.RunID)

	route := byField(t, s, "routes", "demo", "route_id", "R1")
	agency := byField(t, s, "agencies", "demo", "agency_id", "DT")
	assert.Equal(t, string(agency.ID), route.Record["agency"])

	t1 := byField(t, s, "trips", "demo", "trip_id", "T1")
	assert.Equal(t, string(route.ID), t1.Record["route"])
	t2 := byField(t, s, "trips", "demo", "trip_id", "T2")
	assert.NotContains(t, t2.Record, "route")

	s1 := byField(t, s, "stops", "demo", "stop_id", "S1")
	s2 := byField(t, s, "stops", "demo", "stop_id", "S2")
	transfer := find(t, s, "transfers", "demo")[0]
	assert.Equal(t, string(s1.ID), transfer.Record["from_stop"])
	assert.Equal(t, string(s2.ID), transfer.Record["to_stop"])

	assert.Equal(t, map[string]interface{}{
		"sw": []float64{-123, 45},
		"ne": []float64{-122, 46},
	}, agency.Record["agency_bounds"])
	assert.Equal(t, []float64{-122.5, 45.5}, agency.Record["agency_center"])
	assert.Contains(t, agency.Record, "date_last_updated")

	assert.Contains(t, s.Indexes("trips"), "trips_route_id")
}

func TestReimportIsIdempotent(t *testing.T) {
	s := memstore.New()
	d := newDriver(t, s, Options{})
	a := config.Agency{AgencyKey: "demo", Path: writeFeed(t, demoFeed)}

	require.NoError(t, d.ImportAgency(context.Background(), a).Err)
	first := snapshot(t, s, "demo")

	require.NoError(t, d.ImportAgency(context.Background(), a).Err)
	assert.Equal(t, first, snapshot(t, s, "demo"))

	// references point at the records of the second import
	route := byField(t, s, "routes", "demo", "route_id", "R1")
	assert.Equal(t, string(route.ID), byField(t, s, "trips", "demo", "trip_id", "T1").Record["route"])
}

func TestAgenciesAreIsolated(t *testing.T) {
	s := memstore.New()
	d := newDriver(t, s, Options{})
	ctx := context.Background()

	require.NoError(t, d.ImportAgency(ctx, config.Agency{AgencyKey: "a", Path: writeFeed(t, demoFeed)}).Err)
	before := snapshot(t, s, "a")
	routeA := byField(t, s, "routes", "a", "route_id", "R1")

	smaller := map[string]string{
		"agency.txt": demoFeed["agency.txt"],
		"routes.txt": "route_id,agency_id,route_type\nR1,DT,3\n",
		"trips.txt":  "route_id,service_id,trip_id\nR1,WK,T9\n",
	}
	require.NoError(t, d.ImportAgency(ctx, config.Agency{AgencyKey: "b", Path: writeFeed(t, demoFeed)}).Err)
	require.NoError(t, d.ImportAgency(ctx, config.Agency{AgencyKey: "b", Path: writeFeed(t, smaller)}).Err)

	assert.Equal(t, before, snapshot(t, s, "a"))
	assert.Equal(t, string(routeA.ID), byField(t, s, "trips", "a", "trip_id", "T1").Record["route"])

	assert.Equal(t, 1, s.Count("trips", "b"))
	assert.Equal(t, 0, s.Count("stops", "b"))
	routeB := byField(t, s, "routes", "b", "route_id", "R1")
	assert.Equal(t, string(routeB.ID), byField(t, s, "trips", "b", "trip_id", "T9").Record["route"])
}

func TestAgencyKeyWithSlash(t *testing.T) {
	s := memstore.New()
	downloads := t.TempDir()
	d := newDriver(t, s, Options{DownloadDir: downloads})

	rep := d.ImportAgency(context.Background(), config.Agency{AgencyKey: "trimet/portland", Path: writeFeed(t, demoFeed)})
	require.NoError(t, rep.Err)
	assert.Equal(t, StateDone, rep.State)
	assert.Equal(t, 11, rep.Import.Records())
	assert.Equal(t, 2, s.Count("routes", "trimet/portland"))

	entries, err := os.ReadDir(downloads)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSkipDeleteKeepsExistingRecords(t *testing.T) {
	s := memstore.New()
	d := newDriver(t, s, Options{SkipDelete: true})
	ctx := context.Background()
	a := config.Agency{AgencyKey: "demo", Path: writeFeed(t, demoFeed)}

	require.NoError(t, d.ImportAgency(ctx, a).Err)
	_, err := s.InsertMany(ctx, "routes", []store.Record{{"agency_key": "demo", "route_id": "EXTRA"}})
	require.NoError(t, err)

	require.NoError(t, d.ImportAgency(ctx, a).Err)
	byField(t, s, "routes", "demo", "route_id", "EXTRA")
}

func TestAgencySkipDeleteOverridesDefault(t *testing.T) {
	s := memstore.New()
	d := newDriver(t, s, Options{})
	ctx := context.Background()

	_, err := s.InsertMany(ctx, "routes", []store.Record{{"agency_key": "demo", "route_id": "EXTRA"}})
	require.NoError(t, err)

	var states []State
	d.OnState = func(_ string, st State) { states = append(states, st) }

	rep := d.ImportAgency(ctx, config.Agency{AgencyKey: "demo", Path: writeFeed(t, demoFeed), SkipDelete: true})
	require.NoError(t, rep.Err)
	byField(t, s, "routes", "demo", "route_id", "EXTRA")
	assert.NotContains(t, states, StateDeletingOldData)
}

func TestConfigurationErrors(t *testing.T) {
	cases := []struct {
		name   string
		agency config.Agency
		want   error
	}{
		{"missing key", config.Agency{Path: "/tmp/feed"}, task.ErrMissingAgencyKey},
		{"missing source", config.Agency{AgencyKey: "demo"}, task.ErrMissingSource},
		{"unknown projection", config.Agency{AgencyKey: "demo", Path: "/tmp/feed", Proj: "EPSG:99999"}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rep := newDriver(t, memstore.New(), Options{}).ImportAgency(context.Background(), tc.agency)

			var cfgErr *task.ConfigurationError
			require.True(t, errors.As(rep.Err, &cfgErr), "got %v", rep.Err)
			if tc.want != nil {
				assert.ErrorIs(t, rep.Err, tc.want)
			}
			assert.Equal(t, StateFailed, rep.State)
			assert.Equal(t, StatePending, rep.FailedIn)
		})
	}
}

func TestParseErrorFailsAndCleansUp(t *testing.T) {
	s := memstore.New()
	downloads := t.TempDir()
	feed := map[string]string{
		"agency.txt": demoFeed["agency.txt"],
		"routes.txt": "route_id,route_type\nR1,3,extra\n",
	}

	var states []State
	d := newDriver(t, s, Options{DownloadDir: downloads})
	d.OnState = func(_ string, st State) { states = append(states, st) }

	dir := writeFeed(t, feed)
	rep := d.ImportAgency(context.Background(), config.Agency{AgencyKey: "demo", Path: dir})

	var parseErr *task.ParseError
	require.True(t, errors.As(rep.Err, &parseErr))
	assert.Equal(t, StateFailed, rep.State)
	assert.Equal(t, StateLoadingEntities, rep.FailedIn)
	assert.Equal(t, []State{
		StatePending, StateExtracting, StateDeletingOldData, StateLoadingEntities, StateCleaningUp, StateFailed,
	}, states)

	entries, err := os.ReadDir(downloads)
	require.NoError(t, err)
	assert.Empty(t, entries)

	// a local feed directory is read in place and never removed
	assert.FileExists(t, filepath.Join(dir, "routes.txt"))
}

func TestSuccessfulStateSequence(t *testing.T) {
	var states []State
	d := newDriver(t, memstore.New(), Options{})
	d.OnState = func(_ string, st State) { states = append(states, st) }

	require.NoError(t, d.ImportAgency(context.Background(), config.Agency{AgencyKey: "demo", Path: writeFeed(t, demoFeed)}).Err)
	assert.Equal(t, []State{
		StatePending, StateExtracting, StateDeletingOldData, StateLoadingEntities,
		StateResolvingRelationships, StateIndexing, StateCleaningUp, StateDone,
	}, states)
}

type stubAcquirer struct {
	fetched []string
	dir     string
}

func (a *stubAcquirer) Fetch(_ context.Context, t *task.Task, url, workspace string) (string, error) {
	a.fetched = append(a.fetched, url)
	if url == "https://example.com/broken.zip" {
		return "", &task.AcquisitionError{AgencyKey: t.AgencyKey, Source: url, Err: errors.New("unexpected status code: 500")}
	}
	return filepath.Join(workspace, "feed.zip"), nil
}

func (a *stubAcquirer) Unpack(*task.Task, string, string) (string, error) {
	return a.dir, nil
}

func TestAcquisitionErrorLeavesPriorData(t *testing.T) {
	s := memstore.New()
	acq := &stubAcquirer{dir: writeFeed(t, demoFeed)}
	d := New(s, entity.Default(), acq, nil, Options{DownloadDir: t.TempDir()})
	ctx := context.Background()

	require.NoError(t, d.ImportAgency(ctx, config.Agency{AgencyKey: "demo", URL: "https://example.com/gtfs.zip"}).Err)
	before := snapshot(t, s, "demo")

	rep := d.ImportAgency(ctx, config.Agency{AgencyKey: "demo", URL: "https://example.com/broken.zip"})
	var acqErr *task.AcquisitionError
	require.True(t, errors.As(rep.Err, &acqErr))
	assert.Equal(t, StateDownloading, rep.FailedIn)
	assert.Equal(t, before, snapshot(t, s, "demo"))
}

type countingStore struct {
	*memstore.Store
	mu      sync.Mutex
	indexed int
}

func (s *countingStore) EnsureIndexes(ctx context.Context, collection string, indexes []store.Index) error {
	s.mu.Lock()
	s.indexed++
	s.mu.Unlock()
	return s.Store.EnsureIndexes(ctx, collection, indexes)
}

func TestRunEnsuresIndexesOnce(t *testing.T) {
	s := &countingStore{Store: memstore.New()}
	feed := writeFeed(t, demoFeed)

	reports, err := newDriver(t, s, Options{}).Run(context.Background(), []config.Agency{
		{AgencyKey: "a", Path: feed},
		{AgencyKey: "b", Path: feed},
	})
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, entity.Default().Len(), s.indexed)
}

func TestRunStopsAtFirstFailureByDefault(t *testing.T) {
	s := memstore.New()
	feed := writeFeed(t, demoFeed)

	reports, err := newDriver(t, s, Options{}).Run(context.Background(), []config.Agency{
		{AgencyKey: "broken"},
		{AgencyKey: "good", Path: feed},
	})
	assert.ErrorIs(t, err, task.ErrMissingSource)
	assert.Len(t, reports, 1)
	assert.Equal(t, 0, s.Count("routes", "good"))
}

func TestRunContinueOnError(t *testing.T) {
	s := memstore.New()
	feed := writeFeed(t, demoFeed)

	reports, err := newDriver(t, s, Options{ContinueOnError: true}).Run(context.Background(), []config.Agency{
		{AgencyKey: "broken"},
		{AgencyKey: "good", Path: feed},
		{Path: feed},
	})
	assert.ErrorIs(t, err, task.ErrMissingSource)
	assert.ErrorIs(t, err, task.ErrMissingAgencyKey)
	require.Len(t, reports, 3)
	assert.Equal(t, StateDone, reports[1].State)
	assert.Equal(t, 2, s.Count("routes", "good"))
}

type recordingNotifier struct {
	summaries []discord.ImportSummary
}

func (n *recordingNotifier) SendImportSummary(_ context.Context, s discord.ImportSummary) error {
	n.summaries = append(n.summaries, s)
	return nil
}

func TestNotifierReceivesOutcomes(t *testing.T) {
	n := &recordingNotifier{}
	d := newDriver(t, memstore.New(), Options{ContinueOnError: true}).WithNotifier(n)

	_, err := d.Run(context.Background(), []config.Agency{
		{AgencyKey: "good", Path: writeFeed(t, demoFeed)},
		{AgencyKey: "bad", Path: filepath.Join(t.TempDir(), "missing.zip")},
	})
	require.Error(t, err)

	require.Len(t, n.summaries, 2)
	sort.Slice(n.summaries, func(i, j int) bool { return n.summaries[i].AgencyKey > n.summaries[j].AgencyKey })
	assert.Equal(t, "good", n.summaries[0].AgencyKey)
	assert.Equal(t, "done", n.summaries[0].State)
	assert.Equal(t, 11, n.summaries[0].Records)
	assert.NoError(t, n.summaries[0].Err)

	assert.Equal(t, "failed while extracting", n.summaries[1].State)
	assert.Error(t, n.summaries[1].Err)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "resolving-relationships", StateResolvingRelationships.String())
	assert.Equal(t, "unknown", State(42).String())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateIndexing.Terminal())
}

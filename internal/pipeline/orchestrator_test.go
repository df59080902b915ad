package pipeline

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresuchdata/gdelt-fetch/backend-go/internal/archive"
	"github.com/andresuchdata/gdelt-fetch/backend-go/internal/domain"
	"github.com/andresuchdata/gdelt-fetch/backend-go/internal/fetcher"
	"github.com/andresuchdata/gdelt-fetch/backend-go/internal/gdelt"
	"github.com/andresuchdata/gdelt-fetch/backend-go/internal/ledger"
)

// gdeltServer serves zip archives whose single member is the archive name
// minus ".zip" (plus ".csv" for backfiles), and records every request path.
type gdeltServer struct {
	*httptest.Server
	mu       sync.Mutex
	requests []string
	fail     map[string]int
	members  map[string][]string
}

func newGDELTServer(t *testing.T) *gdeltServer {
	t.Helper()
	s := &gdeltServer{fail: map[string]int{}, members: map[string][]string{}}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

func (s *gdeltServer) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.requests = append(s.requests, r.URL.Path)
	name := path.Base(r.URL.Path)
	status, failing := s.fail[name]
	members, custom := s.members[name]
	s.mu.Unlock()

	if failing {
		w.WriteHeader(status)
		return
	}
	if !custom {
		stem := strings.TrimSuffix(name, ".zip")
		if !strings.Contains(stem, ".export.CSV") {
			stem += ".csv"
		}
		members = []string{stem}
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, m := range members {
		f, _ := zw.Create(m)
		_, _ = f.Write([]byte("content of " + m + "\n"))
	}
	_ = zw.Close()
	_, _ = w.Write(buf.Bytes())
}

func (s *gdeltServer) paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

func (s *gdeltServer) source() gdelt.Source {
	return gdelt.Source{
		DailyBaseURL:    s.URL + "/data/dailyupdates/",
		BackfileBaseURL: s.URL + "/data/backfiles/",
		DailyIndexURL:   s.URL + "/data/dailyupdates/?O=D",
		YearlyThreshold: gdelt.DefaultYearlyThreshold,
	}
}

type recordingPacer struct {
	mu    sync.Mutex
	kinds []domain.ArchiveKind
}

func (p *recordingPacer) Wait(ctx context.Context, kind domain.ArchiveKind) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.kinds = append(p.kinds, kind)
	return ctx.Err()
}

type published struct{ path, filename, bucket, folder string }

type fakePublisher struct {
	calls []published
	err   error
}

func (f *fakePublisher) Publish(_ context.Context, localPath, filename, bucket, folder string) (domain.UploadTarget, error) {
	if f.err != nil {
		return domain.UploadTarget{}, &domain.UploadError{Bucket: bucket, Key: folder + filename, Err: f.err}
	}
	f.calls = append(f.calls, published{localPath, filename, bucket, folder})
	return domain.UploadTarget{Bucket: bucket, Key: folder + filename}, nil
}

type fakeHarvester struct {
	links []string
	err   error
	index string
}

func (f *fakeHarvester) Links(_ context.Context, indexURL, _ string) ([]string, error) {
	f.index = indexURL
	return f.links, f.err
}

type fakeLedger struct {
	ledger.Noop
	mu       sync.Mutex
	modes    []string
	items    []domain.ItemResult
	totals   ledger.Totals
	finalErr error
	finished bool
}

func (l *fakeLedger) StartRun(_ context.Context, mode, _ string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.modes = append(l.modes, mode)
	return 7, nil
}

func (l *fakeLedger) RecordItem(_ context.Context, runID int64, item domain.ItemResult) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if runID != 7 {
		return errors.New("unexpected run id")
	}
	l.items = append(l.items, item)
	return nil
}

func (l *fakeLedger) FinishRun(_ context.Context, _ int64, totals ledger.Totals, runErr error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.totals = totals
	l.finalErr = runErr
	l.finished = true
	return nil
}

type fixture struct {
	srv       *gdeltServer
	pacer     *recordingPacer
	publisher *fakePublisher
	harvester *fakeHarvester
	ledger    *fakeLedger
	orch      *Orchestrator
	dir       string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		srv:       newGDELTServer(t),
		pacer:     &recordingPacer{},
		publisher: &fakePublisher{},
		harvester: &fakeHarvester{},
		ledger:    &fakeLedger{},
		dir:       t.TempDir(),
	}
	f.orch = NewOrchestrator(Deps{
		Source:    f.srv.source(),
		Fetcher:   fetcher.New(f.srv.Client(), fetcher.Config{}, zerolog.Nop(), nil),
		Extractor: archive.New(),
		Publisher: f.publisher,
		Harvester: f.harvester,
		Pacer:     f.pacer,
		Ledger:    f.ledger,
		Logger:    zerolog.Nop(),
		Now: func() time.Time {
			return time.Date(2024, time.March, 2, 10, 0, 0, 0, time.UTC)
		},
	})
	return f
}

func touch(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("existing"), 0o644))
}

func TestFetchYearBeforeThresholdRequestsOneArchive(t *testing.T) {
	f := newFixture(t)

	summary, err := f.orch.FetchYear(context.Background(), 1999, Options{Directory: f.dir, Unzip: true})
	require.NoError(t, err)

	assert.Equal(t, []string{"/data/backfiles/1999.zip"}, f.srv.paths())
	assert.Equal(t, 1, summary.Attempted)
	assert.Equal(t, 1, summary.Fetched)
	assert.FileExists(t, filepath.Join(f.dir, "1999.zip"))
	assert.FileExists(t, filepath.Join(f.dir, "1999.csv"))
	assert.Equal(t, []domain.ArchiveKind{domain.KindYearly}, f.pacer.kinds)
}

func TestFetchYearFromThresholdRequestsTwelveMonths(t *testing.T) {
	f := newFixture(t)

	summary, err := f.orch.FetchYear(context.Background(), 2013, Options{Directory: f.dir})
	require.NoError(t, err)

	paths := f.srv.paths()
	require.Len(t, paths, 12)
	for i, p := range paths {
		assert.Regexp(t, `^/data/backfiles/2013(0[1-9]|1[0-2])\.zip$`, p)
		assert.Equal(t, fmt.Sprintf("/data/backfiles/2013%02d.zip", i+1), p)
	}
	assert.Equal(t, 12, summary.Fetched)
	assert.Len(t, summary.Items, 12)
}

func TestFetchYearSkipsPresentTargetsWithoutRequests(t *testing.T) {
	f := newFixture(t)
	// Every form of skip marker counts.
	touch(t, f.dir, "200601.zip")
	touch(t, f.dir, "200602")
	for m := 3; m <= 12; m++ {
		touch(t, f.dir, fmt.Sprintf("2006%02d.csv", m))
	}

	summary, err := f.orch.FetchYear(context.Background(), 2006, Options{Directory: f.dir, Unzip: true})
	require.NoError(t, err)

	assert.Empty(t, f.srv.paths())
	assert.Empty(t, f.pacer.kinds, "skipped items are not paced")
	assert.Equal(t, 12, summary.Skipped)
	assert.Zero(t, summary.Attempted)
}

func TestFetchYearRerunIsIdempotent(t *testing.T) {
	f := newFixture(t)
	opts := Options{Directory: f.dir, Unzip: true}

	_, err := f.orch.FetchYear(context.Background(), 1999, opts)
	require.NoError(t, err)
	_, err = f.orch.FetchYear(context.Background(), 1999, opts)
	require.NoError(t, err)

	assert.Len(t, f.srv.paths(), 1)
}

func TestFetchRangeAttemptsThirteenArchives(t *testing.T) {
	f := newFixture(t)

	summary, err := f.orch.FetchRange(context.Background(), 2005, 2006, Options{Directory: f.dir})
	require.NoError(t, err)

	paths := f.srv.paths()
	require.Len(t, paths, 13)
	assert.Equal(t, "/data/backfiles/2005.zip", paths[0])
	assert.Equal(t, "/data/backfiles/200601.zip", paths[1])
	assert.Equal(t, "/data/backfiles/200612.zip", paths[12])
	assert.Equal(t, 13, summary.Attempted)

	require.Len(t, f.pacer.kinds, 13)
	assert.Equal(t, domain.KindYearly, f.pacer.kinds[0])
	for _, k := range f.pacer.kinds[1:] {
		assert.Equal(t, domain.KindMonthly, k)
	}
}

func TestBatchContinuesPastItemFailures(t *testing.T) {
	f := newFixture(t)
	f.srv.fail["200603.zip"] = http.StatusNotFound
	f.srv.members["200605.zip"] = nil // empty but valid archive

	summary, err := f.orch.FetchYear(context.Background(), 2006, Options{Directory: f.dir, Unzip: true})
	require.NoError(t, err, "batch modes log item failures and keep going")

	assert.Len(t, f.srv.paths(), 12)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 11, summary.Fetched)
	assert.NoFileExists(t, filepath.Join(f.dir, "200603.zip"))

	var failed domain.ItemResult
	for _, it := range summary.Items {
		if it.Outcome == domain.OutcomeFailed {
			failed = it
		}
	}
	assert.Equal(t, "200603.zip", failed.Ref.Filename)
	assert.Contains(t, failed.Error, "404")

	assert.True(t, f.ledger.finished)
	assert.NoError(t, f.ledger.finalErr)
	assert.Equal(t, ledger.Totals{Attempted: 12, Fetched: 11, Failed: 1}, f.ledger.totals)
	assert.Len(t, f.ledger.items, 12)
	assert.Equal(t, []string{string(ModeYear)}, f.ledger.modes)
}

func TestBatchCorruptArchiveIsItemFailure(t *testing.T) {
	f := newFixture(t)
	var (
		mu   sync.Mutex
		hits int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		_, _ = w.Write([]byte("<html>maintenance</html>"))
	}))
	defer srv.Close()
	src := f.srv.source()
	src.BackfileBaseURL = srv.URL + "/"
	f.orch.source = src
	opts := Options{Directory: f.dir, Unzip: true}

	summary, err := f.orch.FetchYear(context.Background(), 1990, opts)
	require.NoError(t, err)
	require.Len(t, summary.Items, 1)
	assert.Equal(t, domain.OutcomeFailed, summary.Items[0].Outcome)
	assert.NoFileExists(t, filepath.Join(f.dir, "1990.csv"))
	assert.NoFileExists(t, filepath.Join(f.dir, "1990.zip"))

	// The corrupt download must not count as present on the next run.
	summary, err = f.orch.FetchYear(context.Background(), 1990, opts)
	require.NoError(t, err)
	require.Len(t, summary.Items, 1)
	assert.Equal(t, domain.OutcomeFailed, summary.Items[0].Outcome)
	mu.Lock()
	assert.Equal(t, 2, hits)
	mu.Unlock()
}

type unavailableLedger struct {
	ledger.Noop
	mu    sync.Mutex
	items int
	ended bool
}

func (l *unavailableLedger) StartRun(context.Context, string, string) (int64, error) {
	return 0, errors.New("connection refused")
}

func (l *unavailableLedger) RecordItem(context.Context, int64, domain.ItemResult) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items++
	return errors.New("violates foreign key constraint")
}

func (l *unavailableLedger) FinishRun(context.Context, int64, ledger.Totals, error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ended = true
	return nil
}

func TestRunWithoutLedgerEntrySkipsItemWrites(t *testing.T) {
	f := newFixture(t)
	runs := &unavailableLedger{}
	f.orch.ledger = runs

	summary, err := f.orch.FetchYear(context.Background(), 2010, Options{Directory: f.dir})
	require.NoError(t, err)
	assert.Equal(t, 12, summary.Fetched)
	assert.Zero(t, runs.items)
	assert.False(t, runs.ended)
}

func TestFailureStage(t *testing.T) {
	assert.Equal(t, "fetch", failureStage(&domain.NetworkError{URL: "http://x/1.zip", StatusCode: 404}))
	assert.Equal(t, "extract", failureStage(fmt.Errorf("wrapped: %w", &domain.CorruptArchiveError{Path: "1.zip"})))
	assert.Equal(t, "publish", failureStage(&domain.UploadError{Bucket: "b", Key: "k"}))
	assert.Equal(t, "pipeline", failureStage(context.Canceled))
}

func TestFetchDailyDownloadsYesterday(t *testing.T) {
	f := newFixture(t)

	summary, err := f.orch.FetchDaily(context.Background(), Options{Directory: f.dir, Unzip: true})
	require.NoError(t, err)

	assert.Equal(t, []string{"/data/dailyupdates/20240301.export.CSV.zip"}, f.srv.paths())
	assert.FileExists(t, filepath.Join(f.dir, "20240301.export.CSV"))
	assert.Equal(t, 1, summary.Fetched)
}

func TestFetchDailyRefetchesEvenWhenPresent(t *testing.T) {
	f := newFixture(t)
	touch(t, f.dir, "20240301.export.CSV.zip")

	_, err := f.orch.FetchDaily(context.Background(), Options{Directory: f.dir})
	require.NoError(t, err)
	assert.Len(t, f.srv.paths(), 1)
}

func TestFetchDailyAbortsOnFailure(t *testing.T) {
	f := newFixture(t)
	f.srv.fail["20240301.export.CSV.zip"] = http.StatusInternalServerError

	summary, err := f.orch.FetchDaily(context.Background(), Options{
		Directory: f.dir,
		Unzip:     true,
		Upload:    &UploadOptions{Bucket: "bucket"},
	})
	require.Error(t, err)
	assert.True(t, domain.IsNetworkError(err))
	assert.Equal(t, 1, summary.Failed)
	assert.Empty(t, f.publisher.calls)
	assert.Error(t, f.ledger.finalErr)
}

func TestFetchDailyUploadsSingleMemberUnderStem(t *testing.T) {
	f := newFixture(t)

	summary, err := f.orch.FetchDaily(context.Background(), Options{
		Directory: f.dir,
		Unzip:     true,
		Upload:    &UploadOptions{Bucket: "gdelt-bucket", Folder: "daily/"},
	})
	require.NoError(t, err)

	require.Len(t, f.publisher.calls, 1)
	call := f.publisher.calls[0]
	assert.Equal(t, filepath.Join(f.dir, "20240301.export.CSV"), call.path)
	assert.Equal(t, "20240301.export.CSV", call.filename)
	assert.Equal(t, "gdelt-bucket", call.bucket)
	assert.Equal(t, "daily/", call.folder)
	assert.Equal(t, []domain.UploadTarget{{Bucket: "gdelt-bucket", Key: "daily/20240301.export.CSV"}}, summary.Items[0].Uploaded)
}

func TestFetchDailyUploadsEveryMember(t *testing.T) {
	f := newFixture(t)
	f.srv.members["20240301.export.CSV.zip"] = []string{"a.csv", "b.csv"}

	_, err := f.orch.FetchDaily(context.Background(), Options{
		Directory: f.dir,
		Unzip:     true,
		Upload:    &UploadOptions{Bucket: "b"},
	})
	require.NoError(t, err)

	require.Len(t, f.publisher.calls, 2)
	assert.Equal(t, "a.csv", f.publisher.calls[0].filename)
	assert.Equal(t, "b.csv", f.publisher.calls[1].filename)
}

func TestFetchDailyWithoutUnzipUploadsArchive(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.FetchDaily(context.Background(), Options{
		Directory: f.dir,
		Upload:    &UploadOptions{Bucket: "b", Folder: "raw"},
	})
	require.NoError(t, err)

	require.Len(t, f.publisher.calls, 1)
	assert.Equal(t, filepath.Join(f.dir, "20240301.export.CSV.zip"), f.publisher.calls[0].path)
	assert.Equal(t, "20240301.export.CSV.zip", f.publisher.calls[0].filename)
}

func TestFetchDailyUploadFailureAborts(t *testing.T) {
	f := newFixture(t)
	f.publisher.err = errors.New("credentials expired")

	_, err := f.orch.FetchDaily(context.Background(), Options{
		Directory: f.dir,
		Upload:    &UploadOptions{Bucket: "b"},
	})
	require.Error(t, err)
	assert.True(t, domain.IsUploadError(err))
}

func TestHarvestDailySkipsPresentAndContinues(t *testing.T) {
	f := newFixture(t)
	f.harvester.links = []string{
		"20240103.export.CSV.zip",
		"20240102.export.CSV.zip",
		"20240101.export.CSV.zip",
	}
	touch(t, f.dir, "20240102.export.CSV")
	f.srv.fail["20240101.export.CSV.zip"] = http.StatusNotFound

	summary, err := f.orch.HarvestDaily(context.Background(), Options{Directory: f.dir, Unzip: true})
	require.NoError(t, err)

	assert.Equal(t, f.srv.source().DailyIndexURL, f.harvester.index)
	assert.Equal(t, []string{
		"/data/dailyupdates/20240103.export.CSV.zip",
		"/data/dailyupdates/20240101.export.CSV.zip",
	}, f.srv.paths())
	assert.Equal(t, 1, summary.Fetched)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, summary.Failed)
	assert.FileExists(t, filepath.Join(f.dir, "20240103.export.CSV"))
}

func TestHarvestDailyListingFailure(t *testing.T) {
	f := newFixture(t)
	f.harvester.err = &domain.NetworkError{URL: "x", StatusCode: 503}

	_, err := f.orch.HarvestDaily(context.Background(), Options{Directory: f.dir})
	require.Error(t, err)
	assert.True(t, domain.IsNetworkError(err))
	assert.Empty(t, f.srv.paths())
}

func TestCancelledContextStopsBatch(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.orch.FetchRange(ctx, 2005, 2006, Options{Directory: f.dir})
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.srv.paths())
}

func TestInvalidInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.orch.FetchRange(ctx, 2010, 2005, Options{Directory: f.dir})
	assert.True(t, domain.IsInvalidInput(err))

	_, err = f.orch.FetchYear(ctx, 0, Options{Directory: f.dir})
	assert.True(t, domain.IsInvalidInput(err))

	_, err = f.orch.FetchYear(ctx, 1999, Options{})
	assert.True(t, domain.IsInvalidInput(err))

	_, err = f.orch.FetchDaily(ctx, Options{Directory: f.dir, Upload: &UploadOptions{}})
	assert.True(t, domain.IsInvalidInput(err))

	assert.Empty(t, f.srv.paths())
}

func TestUploadsFor(t *testing.T) {
	ref := domain.RemoteArchiveRef{Filename: "1999.zip"}
	arch := domain.LocalArchive{Path: "/x/1999.zip"}

	assert.Equal(t, []upload{{"/x/1999.zip", "1999.zip"}}, uploadsFor(ref, arch, nil, false))
	assert.Equal(t, []upload{{"/x/1999.csv", "1999"}},
		uploadsFor(ref, arch, []domain.ExtractedFile{{Path: "/x/1999.csv"}}, true))
	assert.Empty(t, uploadsFor(ref, arch, nil, true))
}

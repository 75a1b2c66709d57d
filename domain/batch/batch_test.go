package batch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emergent-company/pilgrimops/domain/jobs"
	"github.com/emergent-company/pilgrimops/domain/realtime"
	"github.com/emergent-company/pilgrimops/domain/tenantcache"
	"github.com/emergent-company/pilgrimops/internal/storage"
)

type fakeUploader struct {
	mu   sync.Mutex
	key  string
	body string
	opts storage.UploadOptions
	err  error
}

func (f *fakeUploader) Upload(_ context.Context, key string, data io.Reader, size int64, opts storage.UploadOptions) (*storage.UploadResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.key, f.body, f.opts = key, string(raw), opts
	return &storage.UploadResult{Key: key, Size: size}, nil
}

func (f *fakeUploader) SignedDownloadURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://files.example.com/" + key + "?sig=1", nil
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []realtime.EntityEvent
	err    error
}

func (f *fakeEmitter) Emit(_ context.Context, ev realtime.EntityEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return f.err
}

type fakeUpdater struct {
	updated []string
	failOn  string
}

func (f *fakeUpdater) UpdateStatus(_ context.Context, tenantID, entityType, entityID, status string) error {
	if entityID == f.failOn {
		return errors.New("row locked")
	}
	f.updated = append(f.updated, tenantID+"/"+entityType+"/"+entityID+"="+status)
	return nil
}

type fixture struct {
	worker   *Worker
	uploader *fakeUploader
	emitter  *fakeEmitter
	cache    *tenantcache.Cache
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	log := slog.New(slog.DiscardHandler)
	f := &fixture{
		uploader: &fakeUploader{},
		emitter:  &fakeEmitter{},
		cache:    tenantcache.New(tenantcache.NewMemoryStore(), log),
	}
	f.worker = NewWorker(f.uploader, f.emitter, f.cache, log, opts...)
	f.worker.now = func() time.Time { return time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC) }
	return f
}

func batchJob(t *testing.T, kind jobs.Kind, data any) jobs.Job {
	t.Helper()
	payload, err := jobs.NewPayload("agency-1", "user-7", data)
	require.NoError(t, err)
	return jobs.Job{ID: "job-42", Queue: jobs.QueueBatch, Kind: kind, Payload: payload}
}

func TestWorker_Mux(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.worker.Mux().Validate())
}

func TestReportExport(t *testing.T) {
	f := newFixture(t)

	var progress []int
	res, err := f.worker.Mux().Dispatch(context.Background(), batchJob(t, KindReportExport, ReportExport{
		Name:    "Pilgrims May",
		Columns: []string{"id", "name", "passport"},
		Rows: [][]string{
			{"p1", "Aisha Rahman", "A123"},
			{"p2", "Omar, Jr.", "B456"},
		},
	}), func(p int) { progress = append(progress, p) })
	require.NoError(t, err)

	out, ok := res.(ExportResult)
	require.True(t, ok)
	assert.Equal(t, 2, out.Rows)
	assert.True(t, strings.HasPrefix(out.Key, "exports/agency-1/2026-05-01/"), out.Key)
	assert.True(t, strings.HasSuffix(out.Key, "-pilgrims_may.csv"), out.Key)
	assert.Equal(t, "https://files.example.com/"+out.Key+"?sig=1", out.DownloadURL)
	assert.Equal(t, []int{90}, progress)

	assert.Equal(t, "id,name,passport\np1,Aisha Rahman,A123\np2,\"Omar, Jr.\",B456\n", f.uploader.body)
	assert.Equal(t, int64(len(f.uploader.body)), out.Size)
	assert.Equal(t, "text/csv", f.uploader.opts.ContentType)
	assert.Equal(t, "job-42", f.uploader.opts.Metadata["job-id"])
}

func TestReportExport_Errors(t *testing.T) {
	f := newFixture(t)
	mux := f.worker.Mux()

	_, err := mux.Dispatch(context.Background(), batchJob(t, KindReportExport, ReportExport{Name: "empty"}), nil)
	assert.ErrorContains(t, err, "needs columns")

	_, err = mux.Dispatch(context.Background(), batchJob(t, KindReportExport, ReportExport{
		Columns: []string{"id", "name"},
		Rows:    [][]string{{"p1"}},
	}), nil)
	assert.ErrorContains(t, err, "row 0 has 1 fields")

	f.uploader.err = storage.ErrDisabled
	_, err = mux.Dispatch(context.Background(), batchJob(t, KindReportExport, ReportExport{
		Columns: []string{"id"},
		Rows:    [][]string{{"p1"}},
	}), nil)
	assert.ErrorIs(t, err, storage.ErrDisabled)
}

func TestExportName(t *testing.T) {
	assert.Equal(t, "report.csv", exportName(""))
	assert.Equal(t, "manifest.csv", exportName("manifest"))
	assert.Equal(t, "Manifest.CSV", exportName("Manifest.CSV"))
}

func TestBulkStatusUpdate(t *testing.T) {
	updater := &fakeUpdater{}
	f := newFixture(t, WithStatusUpdater(updater))
	ctx := context.Background()

	require.NoError(t, f.cache.Set(ctx, "agency-1", "pilgrims", "page-1", []string{"p1"}, 0))
	require.NoError(t, f.cache.Set(ctx, "agency-1", "pilgrims", "page-2", []string{"p2"}, 0))
	require.NoError(t, f.cache.Set(ctx, "agency-2", "pilgrims", "page-1", []string{"x"}, 0))

	var progress []int
	res, err := f.worker.Mux().Dispatch(ctx, batchJob(t, KindBulkStatusUpdate, BulkStatusUpdate{
		EntityType: "pilgrim",
		IDs:        []string{"p2", "p1", "p2"},
		Status:     "visa_issued",
	}), func(p int) { progress = append(progress, p) })
	require.NoError(t, err)
	assert.Equal(t, BulkResult{Updated: 2, Invalidated: 2}, res)
	assert.Equal(t, []int{50, 100}, progress)

	assert.Equal(t, []string{"agency-1/pilgrim/p1=visa_issued", "agency-1/pilgrim/p2=visa_issued"}, updater.updated)

	require.Len(t, f.emitter.events, 2)
	ev := f.emitter.events[0]
	assert.Equal(t, realtime.EventPilgrimUpdated, ev.Type)
	assert.Equal(t, "agency-1", ev.TenantID)
	assert.Equal(t, "p1", ev.EntityID)
	assert.Equal(t, "user-7", ev.ActorID)
	assert.Equal(t, map[string]any{"status": "visa_issued"}, ev.Data)

	var v []string
	hit, err := f.cache.Get(ctx, "agency-1", "pilgrims", "page-1", &v)
	require.NoError(t, err)
	assert.False(t, hit)
	hit, err = f.cache.Get(ctx, "agency-2", "pilgrims", "page-1", &v)
	require.NoError(t, err)
	assert.True(t, hit)
}

func TestBulkStatusUpdate_Errors(t *testing.T) {
	updater := &fakeUpdater{failOn: "l2"}
	f := newFixture(t, WithStatusUpdater(updater))
	mux := f.worker.Mux()
	ctx := context.Background()

	_, err := mux.Dispatch(ctx, batchJob(t, KindBulkStatusUpdate, BulkStatusUpdate{EntityType: "payment", IDs: []string{"x"}, Status: "paid"}), nil)
	assert.ErrorContains(t, err, "does not support bulk status updates")

	_, err = mux.Dispatch(ctx, batchJob(t, KindBulkStatusUpdate, BulkStatusUpdate{EntityType: "lead", IDs: []string{"l1"}}), nil)
	assert.ErrorContains(t, err, "status is required")

	_, err = mux.Dispatch(ctx, batchJob(t, KindBulkStatusUpdate, BulkStatusUpdate{EntityType: "lead", IDs: []string{""}, Status: "won"}), nil)
	assert.ErrorContains(t, err, "no entity ids")

	_, err = mux.Dispatch(ctx, batchJob(t, KindBulkStatusUpdate, BulkStatusUpdate{EntityType: "lead", IDs: []string{"l1", "l2"}, Status: "won"}), nil)
	assert.ErrorContains(t, err, "row locked")
	assert.Len(t, f.emitter.events, 1)
}

func TestBulkStatusUpdate_PublishFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.emitter.err = errors.New("missing tenant")

	res, err := f.worker.Mux().Dispatch(context.Background(), batchJob(t, KindBulkStatusUpdate, BulkStatusUpdate{
		EntityType: "lead", IDs: []string{"l1"}, Status: "contacted",
	}), nil)
	require.NoError(t, err)
	assert.Equal(t, BulkResult{Updated: 1}, res)
}

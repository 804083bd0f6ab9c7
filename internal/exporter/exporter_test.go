package exporter

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"customer-auth/internal/admin"
	"customer-auth/internal/domain"
	"customer-auth/internal/repository/sqlite"
	"customer-auth/internal/service"
	"customer-auth/internal/storage"
	"customer-auth/internal/users"
)

type fakeStorage struct {
	mu      sync.Mutex
	uploads map[string][]byte
	err     error

	// when release is set, uploads report on started and wait for release
	// or cancellation
	started chan string
	release chan struct{}
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{uploads: map[string][]byte{}}
}

func (f *fakeStorage) UploadObject(ctx context.Context, body io.Reader, opts storage.UploadOptions) (string, error) {
	if f.release != nil {
		f.started <- opts.Key
		select {
		case <-f.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.err != nil {
		return "", f.err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	if opts.ProgressCallback != nil {
		opts.ProgressCallback(int64(len(data)))
	}
	f.mu.Lock()
	f.uploads[opts.Key] = data
	f.mu.Unlock()
	return "s3://" + opts.Bucket + "/" + opts.Key, nil
}

func (f *fakeStorage) ListObjects(context.Context, string, string) ([]storage.ObjectInfo, error) {
	return nil, nil
}

func (f *fakeStorage) DeletePrefix(context.Context, string, string) error {
	return nil
}

func (f *fakeStorage) GetObjectURL(_ context.Context, bucket, key string, _ time.Duration) (string, error) {
	return "https://" + bucket + ".example.com/" + key, nil
}

func (f *fakeStorage) object(key string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploads[key]
}

type fixture struct {
	site    *admin.Site
	users   service.UserService
	exports service.ExportService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "export.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	userRepo := sqlite.NewUserRepository(db)
	require.NoError(t, userRepo.Init(ctx))
	exportRepo := sqlite.NewExportJobRepository(db)
	require.NoError(t, exportRepo.Init(ctx))

	f := &fixture{
		site:    admin.NewSite("test"),
		users:   service.NewUserService(userRepo, bcrypt.MinCost),
		exports: service.NewExportService(exportRepo),
	}
	require.NoError(t, users.Register(f.site, f.users))
	return f
}

func (f *fixture) addUser(t *testing.T, email, name string, staff bool) {
	t.Helper()
	_, err := f.users.Create(context.Background(), service.CreateUserInput{
		Email:     email,
		UserName:  name,
		FirstName: "First, \"quoted\"",
		Password1: "correct horse battery",
		Password2: "correct horse battery",
		IsActive:  true,
		IsStaff:   staff,
	})
	require.NoError(t, err)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestFormatBytes(t *testing.T) {
	require.Equal(t, "512B", formatBytes(512))
	require.Equal(t, "1.5KiB", formatBytes(1536))
	require.Equal(t, "2.0MiB", formatBytes(2*1024*1024))
}

func TestFormatCell(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.FixedZone("x", 3600))
	require.Equal(t, "", formatCell(nil))
	require.Equal(t, "true", formatCell(true))
	require.Equal(t, "2024-03-01T09:00:00Z", formatCell(ts))
	require.Equal(t, "", formatCell(time.Time{}))
	require.Equal(t, "42", formatCell(int64(42)))
}

func TestWriteCSV(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "ada@example.com", "ada", true)
	f.addUser(t, "grace@example.com", "grace", false)

	reg, err := f.site.Lookup(users.ModelName)
	require.NoError(t, err)

	var buf bytes.Buffer
	n, err := WriteCSV(context.Background(), &buf, reg, map[string][]string{"o": {"email"}, "p": {"9"}})
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t,
		"Email address,User name,First name,Active,Staff status\n"+
			"ada@example.com,ada,\"First, \"\"quoted\"\"\",true,true\n"+
			"grace@example.com,grace,\"First, \"\"quoted\"\"\",true,false\n",
		buf.String())

	buf.Reset()
	n, err = WriteCSV(context.Background(), &buf, reg, map[string][]string{"is_staff__exact": {"1"}})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = WriteCSV(context.Background(), &buf, reg, map[string][]string{"bogus": {"1"}})
	require.ErrorIs(t, err, admin.ErrInvalidLookup)
}

func waitForStatus(t *testing.T, exports service.ExportService, id int64, want string) {
	t.Helper()
	require.Eventually(t, func() bool {
		job, err := exports.GetJob(context.Background(), id)
		return err == nil && string(job.Status) == want
	}, 5*time.Second, 10*time.Millisecond)
}

func TestManager_ExportUploadsCSV(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "ada@example.com", "ada", true)
	f.addUser(t, "grace@example.com", "grace", false)
	store := newFakeStorage()

	m := NewManager(Config{Bucket: "exports", KeyPrefix: "/admin-exports/", Logger: quietLogger()}, f.site, f.exports, store)
	ctx := context.Background()
	require.NoError(t, m.Start(ctx))
	defer m.Shutdown()

	job, err := f.exports.CreateJob(ctx, users.ModelName, "?is_staff__exact=1", "root@example.com")
	require.NoError(t, err)
	require.NoError(t, m.Enqueue(ctx, job.ID))
	waitForStatus(t, f.exports, job.ID, "completed")

	done, err := f.exports.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, 1, done.RowCount)
	require.Regexp(t, `^s3://exports/admin-exports/users/[0-9a-f-]{36}\.csv$`, done.Location)

	key := done.Location[len("s3://exports/"):]
	body := string(store.object(key))
	require.Contains(t, body, "ada@example.com")
	require.NotContains(t, body, "grace@example.com")
}

func TestManager_FailsJobs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		store   storage.Service
		model   string
		query   string
		wantMsg string
	}{
		{name: "storage disabled", store: nil, model: users.ModelName, wantMsg: ErrStorageDisabled.Error()},
		{name: "unknown model", store: newFakeStorage(), model: "groups", wantMsg: "model not registered"},
		{name: "bad lookup", store: newFakeStorage(), model: users.ModelName, query: "bogus=1", wantMsg: "invalid changelist parameters"},
		{name: "upload error", store: &fakeStorage{err: errors.New("bucket gone")}, model: users.ModelName, wantMsg: "bucket gone"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(Config{Bucket: "exports", Logger: quietLogger()}, f.site, f.exports, tt.store)
			require.NoError(t, m.Start(ctx))
			defer m.Shutdown()

			job, err := f.exports.CreateJob(ctx, tt.model, tt.query, "")
			require.NoError(t, err)
			require.NoError(t, m.Enqueue(ctx, job.ID))
			waitForStatus(t, f.exports, job.ID, "failed")

			failed, err := f.exports.GetJob(ctx, job.ID)
			require.NoError(t, err)
			require.Contains(t, failed.ErrorMessage, tt.wantMsg)
		})
	}
}

func TestManager_ResumeUnfinishedJobs(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "ada@example.com", "ada", true)
	ctx := context.Background()

	pending, err := f.exports.CreateJob(ctx, users.ModelName, "", "")
	require.NoError(t, err)
	finished, err := f.exports.CreateJob(ctx, users.ModelName, "", "")
	require.NoError(t, err)
	require.NoError(t, f.exports.MarkCompleted(ctx, finished.ID, "s3://exports/old.csv", 1))

	store := newFakeStorage()
	m := NewManager(Config{Bucket: "exports", Logger: quietLogger()}, f.site, f.exports, store)
	require.NoError(t, m.Start(ctx))
	require.NoError(t, m.Resume(ctx))
	waitForStatus(t, f.exports, pending.ID, "completed")
	m.Shutdown()

	old, err := f.exports.GetJob(ctx, finished.ID)
	require.NoError(t, err)
	require.Equal(t, "s3://exports/old.csv", old.Location)
}

func TestManager_EnqueueRequiresStart(t *testing.T) {
	f := newFixture(t)
	m := NewManager(Config{Bucket: "exports", Logger: quietLogger()}, f.site, f.exports, newFakeStorage())

	require.Error(t, m.Enqueue(context.Background(), 1))
	require.NoError(t, m.Start(context.Background()))
	defer m.Shutdown()

	require.ErrorIs(t, m.Enqueue(context.Background(), 404), service.ErrExportNotFound)
	require.NoError(t, m.Cancel(context.Background(), 404))
}

func blockingStorage() *fakeStorage {
	store := newFakeStorage()
	store.started = make(chan string, 8)
	store.release = make(chan struct{})
	return store
}

func waitStarted(t *testing.T, store *fakeStorage) {
	t.Helper()
	select {
	case <-store.started:
	case <-time.After(5 * time.Second):
		t.Fatal("upload did not start")
	}
}

func TestManager_CancelRunningJob(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "ada@example.com", "ada", true)
	ctx := context.Background()
	store := blockingStorage()

	m := NewManager(Config{Bucket: "exports", MaxConcurrent: 1, Logger: quietLogger()}, f.site, f.exports, store)
	require.NoError(t, m.Start(ctx))
	defer m.Shutdown()

	job, err := f.exports.CreateJob(ctx, users.ModelName, "", "")
	require.NoError(t, err)
	require.NoError(t, m.Enqueue(ctx, job.ID))
	waitStarted(t, store)

	require.NoError(t, m.Cancel(ctx, job.ID))

	_, active := m.(*manager).getJobHandle(job.ID)
	require.False(t, active)
	cancelled, err := f.exports.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, "failed", string(cancelled.Status))
	require.Equal(t, ErrExportCancelled.Error(), cancelled.ErrorMessage)
	require.Empty(t, cancelled.Location)
}

func TestManager_CancelQueuedJob(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "ada@example.com", "ada", true)
	ctx := context.Background()
	store := blockingStorage()

	m := NewManager(Config{Bucket: "exports", MaxConcurrent: 1, Logger: quietLogger()}, f.site, f.exports, store)
	require.NoError(t, m.Start(ctx))
	defer m.Shutdown()

	running, err := f.exports.CreateJob(ctx, users.ModelName, "", "")
	require.NoError(t, err)
	require.NoError(t, m.Enqueue(ctx, running.ID))
	waitStarted(t, store)

	queued, err := f.exports.CreateJob(ctx, users.ModelName, "", "")
	require.NoError(t, err)
	require.NoError(t, m.Enqueue(ctx, queued.ID))

	require.NoError(t, m.Cancel(ctx, queued.ID))
	cancelled, err := f.exports.GetJob(ctx, queued.ID)
	require.NoError(t, err)
	require.Equal(t, "failed", string(cancelled.Status))
	require.Equal(t, ErrExportCancelled.Error(), cancelled.ErrorMessage)

	unfinished, err := f.exports.ListByStatuses(ctx, domain.ExportStatusPending, domain.ExportStatusRunning, domain.ExportStatusUploading)
	require.NoError(t, err)
	require.Len(t, unfinished, 1)
	require.Equal(t, running.ID, unfinished[0].ID)

	close(store.release)
	waitForStatus(t, f.exports, running.ID, "completed")
}

func TestManager_ShutdownKeepsJobResumable(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "ada@example.com", "ada", true)
	ctx := context.Background()
	store := blockingStorage()

	m := NewManager(Config{Bucket: "exports", Logger: quietLogger()}, f.site, f.exports, store)
	require.NoError(t, m.Start(ctx))

	job, err := f.exports.CreateJob(ctx, users.ModelName, "", "")
	require.NoError(t, err)
	require.NoError(t, m.Enqueue(ctx, job.ID))
	waitStarted(t, store)
	m.Shutdown()

	interrupted, err := f.exports.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, "uploading", string(interrupted.Status))
	require.Empty(t, interrupted.ErrorMessage)

	next := NewManager(Config{Bucket: "exports", Logger: quietLogger()}, f.site, f.exports, newFakeStorage())
	require.NoError(t, next.Start(ctx))
	defer next.Shutdown()
	require.NoError(t, next.Resume(ctx))
	waitForStatus(t, f.exports, job.ID, "completed")
}

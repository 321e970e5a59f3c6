package worker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"keenscan/internal/config"
	"keenscan/internal/models"
	"keenscan/internal/service/ai"
	"keenscan/internal/service/flows"
	"keenscan/internal/service/workspace"
	"keenscan/internal/storage"
)

// scriptedCaller replies with the payload content as the extracted text, or
// fails on the file whose content matches failOn.
type scriptedCaller struct {
	mu      sync.Mutex
	failOn  string
	block   chan struct{}
	calls   int
	lastReq *ai.Request
}

func (c *scriptedCaller) Generate(ctx context.Context, creds ai.Credentials, req *ai.Request) (*ai.Response, error) {
	c.mu.Lock()
	c.calls++
	c.lastReq = req
	block := c.block
	c.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	content := string(req.Media[0].Data)
	if c.failOn != "" && content == c.failOn {
		return nil, fmt.Errorf("%w: scripted failure", ai.ErrRemote)
	}
	return &ai.Response{Text: fmt.Sprintf(`{"extractedText": %q}`, "text of "+content)}, nil
}

type runnerFixture struct {
	runner    *Runner
	workspace *workspace.Service
	caller    *scriptedCaller
	db        *sql.DB
	dir       string
}

func newRunnerFixture(t *testing.T) *runnerFixture {
	t.Helper()
	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {DSN: ":memory:"},
		},
	}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}

	ws := workspace.NewService(db)
	caller := &scriptedCaller{}
	fl := flows.NewService(caller, nil, 0)
	runner := NewRunner(fl, ws)
	t.Cleanup(runner.Stop)

	return &runnerFixture{
		runner:    runner,
		workspace: ws,
		caller:    caller,
		db:        db,
		dir:       t.TempDir(),
	}
}

// addUpload writes a payload file and records it, returning the stored record.
func (f *runnerFixture) addUpload(t *testing.T, name, content string) *models.Upload {
	t.Helper()
	path := filepath.Join(f.dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write upload: %v", err)
	}
	id, err := f.workspace.RecordUpload(context.Background(), name, path, "image/png", int64(len(content)), time.Hour)
	if err != nil {
		t.Fatalf("record upload: %v", err)
	}
	u, err := f.workspace.GetUpload(context.Background(), id)
	if err != nil {
		t.Fatalf("get upload: %v", err)
	}
	return u
}

func (f *runnerFixture) uploadCount(t *testing.T) int {
	t.Helper()
	var count int
	if err := f.db.QueryRow(`SELECT COUNT(*) FROM uploads`).Scan(&count); err != nil {
		t.Fatalf("count uploads: %v", err)
	}
	return count
}

func TestRunJoinsFilesInOrder(t *testing.T) {
	f := newRunnerFixture(t)

	uploads := []*models.Upload{
		f.addUpload(t, "a.png", "alpha"),
		f.addUpload(t, "b.png", "bravo"),
		f.addUpload(t, "c.png", "charlie"),
	}

	var progress []string
	session, err := f.runner.Run(&Batch{
		Uploads: uploads,
		Mode:    CommitNew,
		ProgressFn: func(index, total int, fileName string) {
			progress = append(progress, fmt.Sprintf("%d/%d %s", index, total, fileName))
		},
	})
	if err != nil {
		t.Fatalf("run batch: %v", err)
	}
	want := "text of alpha\n\ntext of bravo\n\ntext of charlie"
	if session.Text != want {
		t.Fatalf("joined text mismatch:\n got: %q\nwant: %q", session.Text, want)
	}
	if !strings.HasPrefix(session.Title, "Scan ") {
		t.Fatalf("unexpected session title: %q", session.Title)
	}
	wantProgress := []string{"1/3 a.png", "2/3 b.png", "3/3 c.png"}
	if len(progress) != len(wantProgress) {
		t.Fatalf("expected %d progress calls, got %d", len(wantProgress), len(progress))
	}
	for i, p := range wantProgress {
		if progress[i] != p {
			t.Fatalf("progress[%d] = %q, want %q", i, progress[i], p)
		}
	}

	// All uploads are consumed on success.
	if n := f.uploadCount(t); n != 0 {
		t.Fatalf("expected all uploads released, %d remain", n)
	}
	for _, u := range uploads {
		if _, err := os.Stat(u.StoredPath); !os.IsNotExist(err) {
			t.Fatalf("expected %s removed, got %v", u.StoredPath, err)
		}
	}

	st := f.runner.Status()
	if st.Phase != PhaseIdle || st.LastError != "" {
		t.Fatalf("expected clean idle status, got %#v", st)
	}
}

func TestRunFailureCommitsNothing(t *testing.T) {
	f := newRunnerFixture(t)
	f.caller.failOn = "bad"

	uploads := []*models.Upload{
		f.addUpload(t, "ok1.png", "fine"),
		f.addUpload(t, "boom.png", "bad"),
		f.addUpload(t, "ok2.png", "never reached"),
	}

	_, err := f.runner.Run(&Batch{Uploads: uploads, Mode: CommitNew})
	if err == nil {
		t.Fatalf("expected batch failure")
	}
	if !errors.Is(err, ai.ErrRemote) {
		t.Fatalf("expected remote error, got %v", err)
	}
	if !strings.Contains(err.Error(), "boom.png") {
		t.Fatalf("error should name the failed file, got %v", err)
	}
	// One successful file, then the failure; the third is never attempted.
	if f.caller.calls != 2 {
		t.Fatalf("expected 2 gateway calls, got %d", f.caller.calls)
	}

	sessions, err := f.workspace.ListSessions(context.Background())
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("expected no committed session, got %d", len(sessions))
	}

	// Uploads are released even on failure.
	if n := f.uploadCount(t); n != 0 {
		t.Fatalf("expected all uploads released, %d remain", n)
	}

	st := f.runner.Status()
	if st.Phase != PhaseIdle {
		t.Fatalf("expected idle phase, got %s", st.Phase)
	}
	if st.Current != 1 || st.Total != 3 {
		t.Fatalf("expected 1/3 completed at failure, got %d/%d", st.Current, st.Total)
	}
	if st.LastError == "" {
		t.Fatalf("expected last error recorded")
	}
}

func TestRunContinueAppendsToSession(t *testing.T) {
	f := newRunnerFixture(t)

	existing, err := f.workspace.CreateSession(context.Background(), "Scan earlier", "first part")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	session, err := f.runner.Run(&Batch{
		Uploads:   []*models.Upload{f.addUpload(t, "more.png", "more")},
		Mode:      CommitContinue,
		SessionID: existing.ID,
	})
	if err != nil {
		t.Fatalf("continue batch: %v", err)
	}
	want := "first part\n\ntext of more"
	if session.Text != want {
		t.Fatalf("continued text mismatch:\n got: %q\nwant: %q", session.Text, want)
	}
	stored, err := f.workspace.GetSession(context.Background(), existing.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if stored.Text != want {
		t.Fatalf("stored text mismatch: %q", stored.Text)
	}
}

func TestRunContinueIntoEmptySession(t *testing.T) {
	f := newRunnerFixture(t)

	existing, err := f.workspace.CreateSession(context.Background(), "Scan blank", "")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	session, err := f.runner.Run(&Batch{
		Uploads:   []*models.Upload{f.addUpload(t, "only.png", "solo")},
		Mode:      CommitContinue,
		SessionID: existing.ID,
	})
	if err != nil {
		t.Fatalf("continue batch: %v", err)
	}
	if session.Text != "text of solo" {
		t.Fatalf("empty session should not gain a leading separator, got %q", session.Text)
	}
}

func TestRunValidation(t *testing.T) {
	f := newRunnerFixture(t)

	if _, err := f.runner.Run(&Batch{Mode: CommitNew}); err == nil {
		t.Fatalf("expected error for empty batch")
	}
	u := f.addUpload(t, "v.png", "v")
	if _, err := f.runner.Run(&Batch{Uploads: []*models.Upload{u}, Mode: CommitMode("merge")}); err == nil {
		t.Fatalf("expected error for invalid mode")
	}
	if _, err := f.runner.Run(&Batch{Uploads: []*models.Upload{u}, Mode: CommitContinue}); err == nil {
		t.Fatalf("expected error for continue without session id")
	}
}

func TestRunRejectsConcurrentBatch(t *testing.T) {
	f := newRunnerFixture(t)
	release := make(chan struct{})
	f.caller.block = release

	first := f.addUpload(t, "slow.png", "slow")
	second := f.addUpload(t, "queued.png", "queued")

	done := make(chan error, 1)
	go func() {
		_, err := f.runner.Run(&Batch{Uploads: []*models.Upload{first}, Mode: CommitNew})
		done <- err
	}()

	// Wait for the first batch to occupy the runner.
	deadline := time.After(2 * time.Second)
	for f.runner.Status().Phase != PhaseRunning {
		select {
		case <-deadline:
			t.Fatalf("first batch never started")
		case <-time.After(5 * time.Millisecond):
		}
	}

	_, err := f.runner.Run(&Batch{Uploads: []*models.Upload{second}, Mode: CommitNew})
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first batch failed: %v", err)
	}
}

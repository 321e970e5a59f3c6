// Package worker runs extraction batches. A single goroutine consumes jobs so
// at most one gateway call is in flight systemwide and per-file progress stays
// accurate.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"keenscan/internal/models"
	"keenscan/internal/service/ai"
	"keenscan/internal/service/flows"
	"keenscan/internal/service/workspace"
)

// ErrBusy is returned when a batch is submitted while another is in flight.
var ErrBusy = errors.New("extraction already in progress")

// textSeparator joins per-file results and separates continued sessions.
const textSeparator = "\n\n"

type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseRunning    Phase = "running"
	PhaseCommitting Phase = "committing"
)

// Status is a snapshot of the runner state. Current counts completed files.
type Status struct {
	Phase     Phase  `json:"phase"`
	Current   int    `json:"current"`
	Total     int    `json:"total"`
	LastError string `json:"last_error,omitempty"`
}

type CommitMode string

const (
	CommitNew      CommitMode = "new"
	CommitContinue CommitMode = "continue"
)

// Batch is one extraction run over an ordered set of uploads.
type Batch struct {
	Context     context.Context
	Uploads     []*models.Upload
	Mode        CommitMode
	SessionID   int64
	Credentials ai.Credentials
	// ProgressFn, when set, is invoked before each file with the 1-based
	// index, the total, and the file name.
	ProgressFn func(index, total int, fileName string)
}

type job struct {
	batch    *Batch
	resultCh chan jobResult
}

type jobResult struct {
	session *models.Session
	err     error
}

type Runner struct {
	flows     *flows.Service
	workspace *workspace.Service

	jobCh  chan *job
	stopCh chan struct{}

	mu     sync.Mutex
	status Status
}

func NewRunner(fl *flows.Service, ws *workspace.Service) *Runner {
	r := &Runner{
		flows:     fl,
		workspace: ws,
		jobCh:     make(chan *job),
		stopCh:    make(chan struct{}),
		status:    Status{Phase: PhaseIdle},
	}
	go r.run()
	return r
}

// Stop terminates the runner goroutine. In-flight batches finish first.
func (r *Runner) Stop() {
	close(r.stopCh)
}

// Status returns a snapshot of the current batch state.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Run submits a batch and blocks until it commits or fails. A second caller
// while a batch is in flight receives ErrBusy immediately.
func (r *Runner) Run(b *Batch) (*models.Session, error) {
	if b == nil || len(b.Uploads) == 0 {
		return nil, errors.New("batch requires at least one upload")
	}
	switch b.Mode {
	case CommitNew:
	case CommitContinue:
		if b.SessionID <= 0 {
			return nil, errors.New("continue mode requires a session id")
		}
	default:
		return nil, fmt.Errorf("invalid commit mode: %s", b.Mode)
	}

	j := &job{batch: b, resultCh: make(chan jobResult, 1)}
	select {
	case r.jobCh <- j:
	default:
		return nil, ErrBusy
	}
	res := <-j.resultCh
	return res.session, res.err
}

func (r *Runner) run() {
	for {
		select {
		case <-r.stopCh:
			return
		case j := <-r.jobCh:
			j.resultCh <- r.process(j.batch)
		}
	}
}

func (r *Runner) process(b *Batch) jobResult {
	ctx := b.Context
	if ctx == nil {
		ctx = context.Background()
	}
	total := len(b.Uploads)
	r.setStatus(Status{Phase: PhaseRunning, Current: 0, Total: total})

	var failure error
	defer func() {
		// Uploads are consumed by exactly one attempt: release them on
		// every exit path, success or not.
		for _, u := range b.Uploads {
			if err := r.workspace.ReleaseUpload(context.Background(), u); err != nil {
				log.Printf("release upload %d: %v", u.ID, err)
			}
		}
		final := Status{Phase: PhaseIdle}
		if failure != nil {
			st := r.Status()
			final.Current = st.Current
			final.Total = st.Total
			final.LastError = failure.Error()
		}
		r.setStatus(final)
	}()

	texts := make([]string, 0, total)
	for i, u := range b.Uploads {
		if b.ProgressFn != nil {
			b.ProgressFn(i+1, total, u.FileName)
		}
		data, err := os.ReadFile(u.StoredPath)
		if err != nil {
			failure = fmt.Errorf("read upload %s: %w", u.FileName, err)
			return jobResult{err: failure}
		}
		result, err := r.flows.ExtractText(ctx, flows.ExtractRequest{
			Credentials: b.Credentials,
			MIMEType:    u.MimeType,
			Data:        data,
			IsPDF:       u.IsPDF(),
		})
		if err != nil {
			failure = fmt.Errorf("extract %s: %w", u.FileName, err)
			return jobResult{err: failure}
		}
		texts = append(texts, result.ExtractedText)
		r.setStatus(Status{Phase: PhaseRunning, Current: i + 1, Total: total})
	}

	r.setStatus(Status{Phase: PhaseCommitting, Current: total, Total: total})
	joined := strings.Join(texts, textSeparator)

	var (
		session *models.Session
		err     error
	)
	switch b.Mode {
	case CommitNew:
		title := "Scan " + time.Now().Format("2006-01-02 15:04")
		session, err = r.workspace.CreateSession(ctx, title, joined)
	case CommitContinue:
		session, err = r.appendToSession(ctx, b.SessionID, joined)
	}
	if err != nil {
		failure = err
		return jobResult{err: err}
	}
	return jobResult{session: session}
}

func (r *Runner) appendToSession(ctx context.Context, sessionID int64, text string) (*models.Session, error) {
	session, err := r.workspace.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("continue session %d: %w", sessionID, err)
	}
	combined := text
	if session.Text != "" {
		combined = session.Text + textSeparator + text
	}
	if err := r.workspace.UpdateSessionText(ctx, sessionID, combined); err != nil {
		return nil, fmt.Errorf("commit to session %d: %w", sessionID, err)
	}
	session.Text = combined
	return session, nil
}

func (r *Runner) setStatus(st Status) {
	r.mu.Lock()
	r.status = st
	r.mu.Unlock()
}

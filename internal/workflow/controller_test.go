package workflow

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/roa-designer/internal/domain"
)

type startCall struct {
	templateID string
	mods       []domain.Modification
}

type fakeJobs struct {
	mu       sync.Mutex
	starts   []startCall
	awaits   int
	startErr error
	awaitErr error
	result   string
}

func (f *fakeJobs) Start(_ context.Context, templateID string, mods []domain.Modification) (*domain.ImageJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, startCall{templateID: templateID, mods: mods})
	if f.startErr != nil {
		return nil, f.startErr
	}
	return &domain.ImageJob{UID: "job-1", Status: domain.JobStatusPending, SelfLink: "http://bb/images/job-1"}, nil
}

func (f *fakeJobs) AwaitCompletion(_ context.Context, job *domain.ImageJob) (*domain.ImageJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.awaits++
	if f.awaitErr != nil {
		return job, f.awaitErr
	}
	done := *job
	done.Status = domain.JobStatusCompleted
	done.ResultURL = f.result
	return &done, nil
}

func (f *fakeJobs) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.starts) + f.awaits
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestController(jobs JobRunner) *Controller {
	return NewController(jobs, time.Second, discardLogger())
}

func strPtr(s string) *string { return &s }

func TestFirstTemplatePickDoesNotGenerate(t *testing.T) {
	t.Parallel()

	jobs := &fakeJobs{result: "http://img/x.png"}
	c := newTestController(jobs)
	design := domain.NewDesignContext()

	out := c.Apply(context.Background(), &design, domain.Decision{
		Action:        domain.ActionModify,
		TemplateID:    "T1",
		Modifications: []domain.Modification{domain.TextModification("title", "Sale")},
		ResponseText:  "Got it!",
	})

	if out.Reply != "Got it!" {
		t.Fatalf("unexpected reply %q", out.Reply)
	}
	if out.Generated || jobs.calls() != 0 {
		t.Fatalf("first pick must not render, calls=%d", jobs.calls())
	}
	if design.TemplateID != "T1" || len(design.Modifications) != 1 {
		t.Fatalf("unexpected design %+v", design)
	}
}

func TestTemplateSwapRegeneratesWithFullSet(t *testing.T) {
	t.Parallel()

	jobs := &fakeJobs{result: "http://img/swap.png"}
	c := newTestController(jobs)
	design := domain.NewDesignContext()
	design.SetTemplate("T1")
	design.UpsertModifications([]domain.Modification{
		domain.TextModification("title", "Sale"),
		domain.ImageModification("photo", "http://up/p.png"),
	})

	out := c.Apply(context.Background(), &design, domain.Decision{
		Action:        domain.ActionModify,
		TemplateID:    "T2",
		Modifications: []domain.Modification{domain.TextModification("subtitle", "Today")},
		ResponseText:  "Switched.",
	})

	if len(jobs.starts) != 1 {
		t.Fatalf("expected exactly one start, got %d", len(jobs.starts))
	}
	call := jobs.starts[0]
	if call.templateID != "T2" {
		t.Fatalf("expected render with T2, got %q", call.templateID)
	}
	if len(call.mods) != 3 {
		t.Fatalf("expected full modification set of 3, got %d", len(call.mods))
	}
	if out.Reply != "Switched."+ImageMarkdown("http://img/swap.png") {
		t.Fatalf("unexpected reply %q", out.Reply)
	}
	if !out.CarriesImage() {
		t.Fatal("expected outcome to carry the image")
	}
}

func TestSameTemplateModifyDoesNotGenerate(t *testing.T) {
	t.Parallel()

	jobs := &fakeJobs{}
	c := newTestController(jobs)
	design := domain.NewDesignContext()
	design.SetTemplate("T1")

	c.Apply(context.Background(), &design, domain.Decision{
		Action:        domain.ActionModify,
		TemplateID:    "T1",
		Modifications: []domain.Modification{domain.TextModification("title", "New")},
		ResponseText:  "Updated.",
	})

	if jobs.calls() != 0 {
		t.Fatalf("expected no client calls, got %d", jobs.calls())
	}
	if got := design.Modifications["title"].Text; got == nil || *got != "New" {
		t.Fatalf("title not updated: %v", got)
	}
}

func TestModifyIsIdempotent(t *testing.T) {
	t.Parallel()

	c := newTestController(&fakeJobs{})
	d := domain.Decision{
		Action:     domain.ActionModify,
		TemplateID: "T1",
		Modifications: []domain.Modification{
			domain.TextModification("title", "Sale"),
			domain.ImageModification("photo", "http://up/p.png"),
		},
		ResponseText: "ok",
	}

	once := domain.NewDesignContext()
	c.Apply(context.Background(), &once, d)
	twice := once.Clone()
	c.Apply(context.Background(), &twice, d)

	if twice.TemplateID != once.TemplateID || len(twice.Modifications) != len(once.Modifications) {
		t.Fatalf("second apply changed design: %+v vs %+v", twice, once)
	}
	for name, m := range once.Modifications {
		if !twice.Modifications[name].Equal(m) {
			t.Fatalf("modification %q changed on reapply", name)
		}
	}
}

func TestGenerateWithoutTemplateMakesNoCalls(t *testing.T) {
	t.Parallel()

	jobs := &fakeJobs{}
	c := newTestController(jobs)
	design := domain.NewDesignContext()

	out := c.Apply(context.Background(), &design, domain.Decision{Action: domain.ActionGenerate, ResponseText: "Generating now..."})

	if out.Reply != ReplyMissingTemplate {
		t.Fatalf("unexpected reply %q", out.Reply)
	}
	if !errors.Is(out.Err, domain.ErrMissingTemplate) {
		t.Fatalf("expected ErrMissingTemplate, got %v", out.Err)
	}
	if jobs.calls() != 0 {
		t.Fatalf("expected zero client calls, got %d", jobs.calls())
	}
}

func TestResetClearsDesign(t *testing.T) {
	t.Parallel()

	c := newTestController(&fakeJobs{})
	design := domain.NewDesignContext()
	design.SetTemplate("T1")
	design.UpsertModifications([]domain.Modification{domain.TextModification("title", "Sale")})

	out := c.Apply(context.Background(), &design, domain.Decision{Action: domain.ActionReset, ResponseText: "Starting over."})

	if design.HasTemplate() || len(design.Modifications) != 0 {
		t.Fatalf("expected empty design, got %+v", design)
	}
	if out.Reply != "Starting over." {
		t.Fatalf("unexpected reply %q", out.Reply)
	}
}

func TestConverseLeavesDesignUntouched(t *testing.T) {
	t.Parallel()

	jobs := &fakeJobs{}
	c := newTestController(jobs)
	design := domain.NewDesignContext()
	design.SetTemplate("T1")

	out := c.Apply(context.Background(), &design, domain.Decision{
		Action:        domain.ActionConverse,
		TemplateID:    "T9",
		Modifications: []domain.Modification{domain.TextModification("title", "ignored")},
		ResponseText:  "Which color?",
	})

	if design.TemplateID != "T1" || len(design.Modifications) != 0 {
		t.Fatalf("converse mutated design: %+v", design)
	}
	if out.Reply != "Which color?" || jobs.calls() != 0 {
		t.Fatalf("unexpected outcome %+v", out)
	}
}

func TestJobStartFailureLeavesDesignUnchanged(t *testing.T) {
	t.Parallel()

	jobs := &fakeJobs{startErr: errors.New("boom")}
	c := newTestController(jobs)
	design := domain.NewDesignContext()
	design.SetTemplate("T1")
	design.UpsertModifications([]domain.Modification{domain.TextModification("title", "Sale")})
	before := design.Clone()

	out := c.Apply(context.Background(), &design, domain.Decision{Action: domain.ActionGenerate, ResponseText: "Generating now..."})

	if out.Reply != ReplyJobStartFailed {
		t.Fatalf("unexpected reply %q", out.Reply)
	}
	if !errors.Is(out.Err, domain.ErrJobStart) {
		t.Fatalf("expected ErrJobStart, got %v", out.Err)
	}
	if design.TemplateID != before.TemplateID || !design.Modifications["title"].Equal(before.Modifications["title"]) {
		t.Fatalf("design changed after start failure: %+v", design)
	}
	if jobs.awaits != 0 {
		t.Fatal("await must not run after a start failure")
	}
}

func TestRenderFailureReplies(t *testing.T) {
	t.Parallel()

	for name, awaitErr := range map[string]error{
		"failed job": domain.ErrJobFailed,
		"transport":  domain.ErrPollingTransport,
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			c := newTestController(&fakeJobs{awaitErr: awaitErr})
			design := domain.NewDesignContext()
			design.SetTemplate("T1")

			out := c.Apply(context.Background(), &design, domain.Decision{Action: domain.ActionGenerate, ResponseText: "x"})
			if out.Reply != ReplyRenderFailed {
				t.Fatalf("unexpected reply %q", out.Reply)
			}
			if !errors.Is(out.Err, awaitErr) {
				t.Fatalf("expected %v, got %v", awaitErr, out.Err)
			}
		})
	}
}

func TestCompletedWithoutURLIsRenderFailure(t *testing.T) {
	t.Parallel()

	c := newTestController(&fakeJobs{result: ""})
	design := domain.NewDesignContext()
	design.SetTemplate("T1")

	out := c.Apply(context.Background(), &design, domain.Decision{Action: domain.ActionGenerate, ResponseText: "x"})
	if out.Reply != ReplyRenderFailed || out.CarriesImage() {
		t.Fatalf("unexpected outcome %+v", out)
	}
}

func TestSwapFailureKeepsModifyMutations(t *testing.T) {
	t.Parallel()

	c := newTestController(&fakeJobs{startErr: domain.ErrJobStart})
	design := domain.NewDesignContext()
	design.SetTemplate("T1")

	c.Apply(context.Background(), &design, domain.Decision{
		Action:        domain.ActionModify,
		TemplateID:    "T2",
		Modifications: []domain.Modification{{Name: "title", Text: strPtr("Kept")}},
		ResponseText:  "Switching.",
	})

	if design.TemplateID != "T2" {
		t.Fatalf("expected swap to stick, got %q", design.TemplateID)
	}
	if got := design.Modifications["title"].Text; got == nil || *got != "Kept" {
		t.Fatal("expected modification to survive generation failure")
	}
}

func TestUnknownActionAndEmptyResponse(t *testing.T) {
	t.Parallel()

	jobs := &fakeJobs{}
	c := newTestController(jobs)
	design := domain.NewDesignContext()

	out := c.Apply(context.Background(), &design, domain.Decision{Action: "DANCE"})
	if out.Reply != ReplyNoResponseText {
		t.Fatalf("unexpected reply %q", out.Reply)
	}
	if jobs.calls() != 0 || design.HasTemplate() {
		t.Fatal("unknown action must not touch anything")
	}
}

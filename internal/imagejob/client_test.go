package imagejob

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ashureev/roa-designer/internal/domain"
)

func newTestClient(srv *httptest.Server) *Client {
	return NewClient(ClientConfig{
		BaseURL:      srv.URL,
		APIKey:       "test-key",
		PollInterval: 5 * time.Millisecond,
		HTTPClient:   srv.Client(),
	}, nil)
}

func TestStartSendsFullModificationSet(t *testing.T) {
	var got createImageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/images" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"uid":"img1","status":"pending","self":"http://example/images/img1"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv)
	job, err := c.Start(context.Background(), "flyer1", []domain.Modification{
		domain.TextModification("address", "123 Main St"),
		domain.ImageModification("photo", "http://img/p.png"),
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if job.UID != "img1" || job.Status != domain.JobStatusPending || job.SelfLink == "" {
		t.Fatalf("unexpected job %+v", job)
	}
	if got.Template != "flyer1" || len(got.Modifications) != 2 {
		t.Fatalf("unexpected payload %+v", got)
	}
	if got.Modifications[1].Text != nil {
		t.Fatalf("image-only modification gained a text field: %+v", got.Modifications[1])
	}
}

func TestStartNonSuccessIsJobStartFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"bad template"}`, http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).Start(context.Background(), "nope", nil)
	if !errors.Is(err, domain.ErrJobStart) {
		t.Fatalf("expected ErrJobStart, got %v", err)
	}
	if !IsStatus(err, http.StatusUnprocessableEntity) {
		t.Fatalf("expected status error to be preserved, got %v", err)
	}
}

func TestStartTransportErrorIsJobStartFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	c := newTestClient(srv)
	srv.Close()

	if _, err := c.Start(context.Background(), "flyer1", nil); !errors.Is(err, domain.ErrJobStart) {
		t.Fatalf("expected ErrJobStart, got %v", err)
	}
}

func TestAwaitCompletionPollsUntilCompleted(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := polls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		if n < 3 {
			_, _ = w.Write([]byte(`{"uid":"img1","status":"pending"}`))
			return
		}
		_, _ = w.Write([]byte(`{"uid":"img1","status":"completed","image_url_png":"http://img/x.png"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv)
	job, err := c.AwaitCompletion(context.Background(), &domain.ImageJob{
		UID: "img1", Status: domain.JobStatusPending, SelfLink: srv.URL + "/images/img1",
	})
	if err != nil {
		t.Fatalf("AwaitCompletion failed: %v", err)
	}
	if job.ResultURL != "http://img/x.png" {
		t.Fatalf("unexpected result url %q", job.ResultURL)
	}
	if polls.Load() != 3 {
		t.Fatalf("expected 3 polls, got %d", polls.Load())
	}
}

func TestAwaitCompletionFailedJob(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"uid":"img1","status":"failed"}`))
	}))
	defer srv.Close()

	start := &domain.ImageJob{UID: "img1", Status: domain.JobStatusPending, SelfLink: srv.URL + "/images/img1"}
	job, err := newTestClient(srv).AwaitCompletion(context.Background(), start)
	if !errors.Is(err, domain.ErrJobFailed) {
		t.Fatalf("expected ErrJobFailed, got %v", err)
	}
	if job != start || job.ResultURL != "" {
		t.Fatalf("expected the original job back without a result, got %+v", job)
	}
}

func TestAwaitCompletionTransportErrorAborts(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		polls.Add(1)
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).AwaitCompletion(context.Background(), &domain.ImageJob{
		UID: "img1", Status: domain.JobStatusPending, SelfLink: srv.URL + "/images/img1",
	})
	if !errors.Is(err, domain.ErrPollingTransport) {
		t.Fatalf("expected ErrPollingTransport, got %v", err)
	}
	if polls.Load() != 1 {
		t.Fatalf("expected a single poll before aborting, got %d", polls.Load())
	}
}

func TestAwaitCompletionHonorsDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"uid":"img1","status":"pending"}`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := newTestClient(srv).AwaitCompletion(ctx, &domain.ImageJob{
		UID: "img1", Status: domain.JobStatusPending, SelfLink: srv.URL + "/images/img1",
	})
	if !errors.Is(err, domain.ErrPollingTransport) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline-wrapped polling failure, got %v", err)
	}
}

func TestAwaitCompletionWithoutSelfLink(t *testing.T) {
	c := NewClient(ClientConfig{BaseURL: "http://unused"}, nil)
	_, err := c.AwaitCompletion(context.Background(), &domain.ImageJob{UID: "img1", Status: domain.JobStatusPending})
	if !errors.Is(err, domain.ErrPollingTransport) {
		t.Fatalf("expected ErrPollingTransport, got %v", err)
	}
}

func TestCatalogLoad(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/templates", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"uid":"t1","name":"Just Sold"},{"uid":"t2","name":"Open House"}]`))
	})
	mux.HandleFunc("/templates/t1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"uid":"t1","name":"Just Sold","available_modifications":[{"name":"address"},{"name":"price"}]}`))
	})
	mux.HandleFunc("/templates/t2", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"uid":"t2","name":"Open House","available_modifications":[{"name":"date"}]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	templates, err := NewCatalog(newTestClient(srv), nil).Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(templates) != 2 {
		t.Fatalf("expected 2 templates, got %d", len(templates))
	}
	if templates[0].ID != "t1" || len(templates[0].Layers) != 2 || templates[1].Layers[0] != "date" {
		t.Fatalf("unexpected catalog %+v", templates)
	}
}

func TestCatalogLoadDetailFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/templates", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"uid":"t1","name":"Just Sold"}]`))
	})
	mux.HandleFunc("/templates/t1", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	_, err := NewCatalog(newTestClient(srv), nil).Load(context.Background())
	if !IsStatus(err, http.StatusNotFound) {
		t.Fatalf("expected 404 status error, got %v", err)
	}
}

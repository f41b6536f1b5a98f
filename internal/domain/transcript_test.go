package domain

import (
	"strconv"
	"testing"
)

func TestRecentReturnsLastNOldestFirst(t *testing.T) {
	var tr Transcript
	for i := 0; i < 12; i++ {
		tr.Append(RoleUser, "msg-"+strconv.Itoa(i), false)
	}

	got := tr.Recent(DefaultHistoryLimit)
	if len(got) != DefaultHistoryLimit {
		t.Fatalf("expected %d entries, got %d", DefaultHistoryLimit, len(got))
	}
	if got[0].Content != "msg-4" || got[len(got)-1].Content != "msg-11" {
		t.Fatalf("unexpected window: first=%q last=%q", got[0].Content, got[len(got)-1].Content)
	}
}

func TestRecentDropsImageCarryingAssistantEntries(t *testing.T) {
	var tr Transcript
	tr.Append(RoleUser, "make a flyer", false)
	tr.Append(RoleAssistant, "Got it!", false)
	tr.Append(RoleUser, "generate", false)
	tr.Append(RoleAssistant, "Here you go\n\n![Generated Image](http://img/x.png)", true)

	got := tr.Recent(8)
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(got))
	}
	for _, e := range got {
		if e.CarriesImage {
			t.Fatalf("image-carrying entry leaked into history: %+v", e)
		}
	}
}

func TestRecentKeepsUserEntriesWithImageFlag(t *testing.T) {
	var tr Transcript
	tr.Append(RoleUser, "see attached", true)

	if got := tr.Recent(8); len(got) != 1 {
		t.Fatalf("expected user entry to survive filtering, got %d entries", len(got))
	}
}

func TestRecentNonPositive(t *testing.T) {
	var tr Transcript
	tr.Append(RoleUser, "hi", false)
	if got := tr.Recent(0); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}

func TestSessionRecordRoundTrip(t *testing.T) {
	s := NewSession("anon_1", "tab-1")
	s.Design.SetTemplate("flyer1")
	s.Design.UpsertModifications([]Modification{TextModification("address", "123 Main St")})
	s.Transcript.Append(RoleUser, "hello", false)

	rec, err := s.Record()
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	back, err := SessionFromRecord(rec)
	if err != nil {
		t.Fatalf("SessionFromRecord failed: %v", err)
	}

	if back.Design.TemplateID != "flyer1" {
		t.Fatalf("template lost: %q", back.Design.TemplateID)
	}
	if m := back.Design.Modifications["address"]; m.Text == nil || *m.Text != "123 Main St" {
		t.Fatalf("modification lost: %+v", m)
	}
	if back.Transcript.Len() != 2 || back.Transcript.Entries[0].Content != Greeting {
		t.Fatalf("unexpected transcript: %+v", back.Transcript.Entries)
	}
}

func TestParseAction(t *testing.T) {
	if a, ok := ParseAction(" modify "); !ok || a != ActionModify {
		t.Fatalf("expected MODIFY, got %q (%v)", a, ok)
	}
	if _, ok := ParseAction("DELETE"); ok {
		t.Fatal("expected unknown action to be rejected")
	}
}

func TestNormalizeJobStatus(t *testing.T) {
	cases := map[string]JobStatus{
		"completed": JobStatusCompleted,
		"FAILED":    JobStatusFailed,
		"pending":   JobStatusPending,
		"rendering": JobStatusPending,
		"":          JobStatusPending,
	}
	for raw, want := range cases {
		if got := NormalizeJobStatus(raw); got != want {
			t.Errorf("NormalizeJobStatus(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestImageJobTerminal(t *testing.T) {
	for status, want := range map[JobStatus]bool{
		JobStatusPending:   false,
		JobStatusCompleted: true,
		JobStatusFailed:    true,
	} {
		job := ImageJob{UID: "job-1", Status: status}
		if got := job.Terminal(); got != want {
			t.Errorf("Terminal() for %q = %v, want %v", status, got, want)
		}
	}
}

func TestSessionKeyMatchesRegistryKey(t *testing.T) {
	s := NewSession("anon_1", "tab-1")
	if got, want := s.Key(), SessionKey("anon_1", "tab-1"); got != want {
		t.Fatalf("Key() = %q, want %q", got, want)
	}
}

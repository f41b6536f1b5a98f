package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Greeting opens every new conversation.
const Greeting = "Hello! I'm your design assistant. Just tell me what you need to create."

// Session holds the state of one user/tab conversation. A session is owned
// by exactly one caller at a time and is never shared between users.
type Session struct {
	UserID     string
	SessionID  string
	Design     DesignContext
	Transcript Transcript
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NewSession creates an empty session seeded with the greeting.
func NewSession(userID, sessionID string) *Session {
	now := time.Now().UTC()
	s := &Session{
		UserID:    userID,
		SessionID: sessionID,
		Design:    NewDesignContext(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.Transcript.Append(RoleAssistant, Greeting, false)
	return s
}

// Key returns the registry key for the session.
func (s *Session) Key() string {
	return SessionKey(s.UserID, s.SessionID)
}

// SessionKey builds the registry key for a user/tab pair.
func SessionKey(userID, sessionID string) string {
	return userID + ":" + sessionID
}

// SessionRecord is the persisted form of a Session.
type SessionRecord struct {
	UserID         string
	SessionID      string
	DesignJSON     string
	TranscriptJSON string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Record serializes the session for storage.
func (s *Session) Record() (*SessionRecord, error) {
	design, err := json.Marshal(s.Design)
	if err != nil {
		return nil, fmt.Errorf("marshal design context: %w", err)
	}
	transcript, err := json.Marshal(s.Transcript)
	if err != nil {
		return nil, fmt.Errorf("marshal transcript: %w", err)
	}
	return &SessionRecord{
		UserID:         s.UserID,
		SessionID:      s.SessionID,
		DesignJSON:     string(design),
		TranscriptJSON: string(transcript),
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}, nil
}

// SessionFromRecord rebuilds a session from its stored form.
func SessionFromRecord(rec *SessionRecord) (*Session, error) {
	s := &Session{
		UserID:    rec.UserID,
		SessionID: rec.SessionID,
		Design:    NewDesignContext(),
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
	if rec.DesignJSON != "" {
		if err := json.Unmarshal([]byte(rec.DesignJSON), &s.Design); err != nil {
			return nil, fmt.Errorf("unmarshal design context: %w", err)
		}
		if s.Design.Modifications == nil {
			s.Design.Modifications = make(map[string]Modification)
		}
	}
	if rec.TranscriptJSON != "" {
		if err := json.Unmarshal([]byte(rec.TranscriptJSON), &s.Transcript); err != nil {
			return nil, fmt.Errorf("unmarshal transcript: %w", err)
		}
	}
	return s, nil
}

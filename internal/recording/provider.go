// Package recording drives the media provider: sessions, access tokens and
// recordings, plus the retry queues that keep starts and finalization moving
// when the provider is not ready yet.
package recording

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// Role is the connection role a token grants.
type Role string

const (
	RoleHost       Role = "HOST"
	RolePublisher  Role = "PUBLISHER"
	RoleSubscriber Role = "SUBSCRIBER"
	RoleModerator  Role = "MODERATOR"
)

// Recording statuses reported by the provider.
const (
	StatusStarting = "starting"
	StatusStarted  = "started"
	StatusStopped  = "stopped"
	StatusReady    = "ready"
	StatusFailed   = "failed"
)

// Recording is the provider's view of one recording.
type Recording struct {
	ID        string  `json:"id"`
	SessionID string  `json:"sessionId"`
	Name      string  `json:"name"`
	Status    string  `json:"status"`
	Size      int64   `json:"size"`
	Duration  float64 `json:"duration"`
	URL       string  `json:"url"`
	CreatedAt int64   `json:"createdAt"`
}

// Active reports whether the recording is still being produced.
func (r Recording) Active() bool {
	return r.Status == StatusStarting || r.Status == StatusStarted
}

// Provider is the media server the broadcasts run on.
type Provider interface {
	// CreateSession creates the session or reuses an existing one.
	CreateSession(ctx context.Context, sessionID string) (string, error)
	CreateAccessToken(ctx context.Context, sessionID string, role Role, data string) (string, error)
	StartRecording(ctx context.Context, sessionID string) error
	StopRecording(ctx context.Context, sessionID string) error
	// FindRecording returns the newest recording of the session, or nil.
	FindRecording(ctx context.Context, sessionID string) (*Recording, error)
	DeleteRecording(ctx context.Context, recordingID string) error
	CloseSession(ctx context.Context, sessionID string) error
	ForceDisconnect(ctx context.Context, sessionID, connectionID string) error
}

// AssetSource streams finished recording files.
type AssetSource interface {
	OpenRecording(ctx context.Context, recordingID string) (io.ReadCloser, int64, error)
	DeleteRecording(ctx context.Context, recordingID string) error
}

// ProviderError is a failed provider call. Status 0 means the request never
// got a response.
type ProviderError struct {
	Op     string
	Status int
	Body   string
	Err    error
}

func (e *ProviderError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("provider %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("provider %s: status %d: %s", e.Op, e.Status, e.Body)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// StartOutcome classifies a failed recording start.
type StartOutcome int

const (
	StartFatal StartOutcome = iota
	StartRetriable
	StartAlreadyActive
	StartModuleDisabled
)

func (o StartOutcome) String() string {
	switch o {
	case StartRetriable:
		return "retriable"
	case StartAlreadyActive:
		return "already_active"
	case StartModuleDisabled:
		return "module_disabled"
	default:
		return "fatal"
	}
}

// ClassifyStart decides what a recording start failure means.
func ClassifyStart(err error) StartOutcome {
	var pe *ProviderError
	if !errors.As(err, &pe) {
		return StartFatal
	}
	switch {
	case pe.Status == 0:
		return StartRetriable
	case pe.Status == http.StatusConflict:
		return StartAlreadyActive
	case pe.Status == http.StatusNotImplemented:
		return StartModuleDisabled
	case pe.Status == http.StatusNotAcceptable:
		return StartRetriable
	case pe.Status >= 500 && pe.Status < 600:
		return StartRetriable
	default:
		return StartFatal
	}
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Status
	}
	return 0
}

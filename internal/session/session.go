package session

import (
	"context"
	"time"

	"github.com/zeroremorse/scrimbot/internal/record"
)

// State is the step of the upload conversation a user is currently at.
type State string

const (
	StateAwaitUploadType   State = "AWAITING_UPLOAD_TYPE"
	StateAwaitFormat       State = "AWAITING_FORMAT"
	StateAwaitOpponent     State = "AWAITING_OPPONENT_NAME"
	StateAwaitScreenshots  State = "AWAITING_SCREENSHOTS"
	StateAwaitConfirmation State = "AWAITING_CONFIRMATION"
)

// Screenshot is one downloaded attachment held until extraction.
type Screenshot struct {
	Filename string `json:"filename"`
	Data     []byte `json:"data"`
}

// Session tracks one user's in-flight upload conversation. A user has at
// most one session; starting over replaces it.
type Session struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	State    State  `json:"state"`

	UploadType  record.UploadType  `json:"upload_type,omitempty"`
	Format      record.MatchFormat `json:"format,omitempty"`
	ClanName    string             `json:"clan_name,omitempty"`
	Screenshots []Screenshot       `json:"screenshots,omitempty"`

	// Pending holds the extracted record between extraction and the user's
	// confirm or reject. ConfirmID ties the confirmation buttons to this
	// session instance.
	Pending     *record.MatchRecord `json:"pending,omitempty"`
	DroppedMaps int                 `json:"dropped_maps,omitempty"`
	ConfirmID   string              `json:"confirm_id,omitempty"`

	// Extracting guards against double-processing while the oracle runs.
	Extracting bool `json:"extracting,omitempty"`

	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func New(userID, username string) *Session {
	now := time.Now()
	return &Session{
		UserID:    userID,
		Username:  username,
		State:     StateAwaitUploadType,
		StartedAt: now,
		UpdatedAt: now,
	}
}

func (s *Session) Touch() { s.UpdatedAt = time.Now() }

// Store persists sessions keyed by user id. Get returns (nil, nil) when the
// user has no session.
type Store interface {
	Get(ctx context.Context, userID string) (*Session, error)
	Put(ctx context.Context, sess *Session) error
	Delete(ctx context.Context, userID string) error
	// PurgeIdle drops sessions not touched within maxIdle and returns how
	// many were removed. Stores with native expiry may always return 0.
	PurgeIdle(ctx context.Context, maxIdle time.Duration) (int, error)
}

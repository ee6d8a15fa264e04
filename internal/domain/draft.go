package domain

import (
	"fmt"
	"time"
)

// State enumerates the draft lifecycle. PUBLISHING is the transient claim a
// worker holds between winning the version race and writing the publish
// record; it is never a resting state for longer than one publish attempt.
type State string

const (
	StateIngested   State = "INGESTED"
	StateInReview   State = "IN_REVIEW"
	StatePublishing State = "PUBLISHING"
	StatePublished  State = "PUBLISHED"
	StateSkipped    State = "SKIPPED"
	StateFailed     State = "FAILED"
)

// Action is an operator- or system-originated transition request.
type Action string

const (
	ActionRedraft Action = "redraft"
	ActionEdit    Action = "edit"
	ActionPublish Action = "publish"
	ActionSkip    Action = "skip"
)

// transitions is the closed table of permitted moves. Anything absent here is
// rejected; there is no implicit default. FAILED deliberately keeps a single
// exit (redraft) so an operator can retry a failed AI call.
var transitions = map[State]map[Action]State{
	StateIngested: {
		ActionRedraft: StateInReview,
		ActionEdit:    StateInReview,
		ActionSkip:    StateSkipped,
	},
	StateInReview: {
		ActionRedraft: StateInReview,
		ActionEdit:    StateInReview,
		ActionPublish: StatePublishing,
		ActionSkip:    StateSkipped,
	},
	StateFailed: {
		ActionRedraft: StateInReview,
	},
}

// Next resolves the transition table for a state/action pair.
func Next(from State, action Action) (State, bool) {
	to, ok := transitions[from][action]
	return to, ok
}

// Terminal reports whether no action may move the draft any further.
func (s State) Terminal() bool {
	return s == StatePublished || s == StateSkipped
}

// Source is one upstream feed with its ingestion cursor. The cursor is
// monotonically non-decreasing and written only by the ingestion driver.
type Source struct {
	ID           string
	Enabled      bool
	LastSeenID   int64
	Bootstrapped bool
	UpdatedAt    time.Time
}

// OriginMessage is the immutable upstream fact a draft is derived from.
// Identity is (SourceID, MessageID).
type OriginMessage struct {
	SourceID  string
	MessageID int64
	PostedAt  time.Time
	Text      string
}

// Key renders the origin identity for logs and dedup maps.
func (m OriginMessage) Key() string {
	return fmt.Sprintf("%s/%d", m.SourceID, m.MessageID)
}

// Envelope is the queue payload handed from the ingestion driver to the
// draft-creation endpoint. Delivery is at-least-once; consumers dedupe on the
// origin key.
type Envelope struct {
	SourceID  string    `json:"source_id"`
	MessageID int64     `json:"message_id"`
	PostedAt  time.Time `json:"posted_at"`
	Text      string    `json:"text"`
	TraceID   string    `json:"trace_id"`
}

// Origin extracts the origin message carried by the envelope.
func (e Envelope) Origin() OriginMessage {
	return OriginMessage{
		SourceID:  e.SourceID,
		MessageID: e.MessageID,
		PostedAt:  e.PostedAt,
		Text:      e.Text,
	}
}

// Draft tracks one origin message from ingestion to publish/skip/fail.
// Version is the optimistic-concurrency guard: every mutation reads the
// current version and writes conditionally on it being unchanged.
type Draft struct {
	ID              string
	SourceID        string
	MessageID       int64
	State           State
	Text            string
	Error           string
	ImagePrompt     string
	Model           string
	Tokens          int64
	ReviewChatID    int64
	ReviewMessageID int64
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// OriginKey renders the draft's origin identity.
func (d Draft) OriginKey() string {
	return fmt.Sprintf("%s/%d", d.SourceID, d.MessageID)
}

// Redraft is the result of one AI rewrite call. ImagePrompt describes the
// illustration to generate at publish time; it may be empty.
type Redraft struct {
	Text        string
	ImagePrompt string
	Model       string
	Tokens      int64
}

// PublishRecord is the durable proof that a draft's outbound publish side
// effect occurred. Its existence is the "already published" guard.
type PublishRecord struct {
	DraftID          string
	ChannelID        int64
	ChannelMessageID int64
	CreatedAt        time.Time
}

// Package flow is the per-user conversation state machine. A session holds
// the current step and the partially-filled draft of whatever entity the
// user is building (registration, help request, partial-claim detail,
// rating). Sessions are serialized per user: the handler for a message must
// hold the session lock for the whole exchange, so two concurrent messages
// from one user can never act on stale copies of a draft.
package flow

import (
	"sync"

	"github.com/cityduty/dutybot/internal/models"
)

// Kind identifies which multi-step flow a session is in.
type Kind int

const (
	KindNone Kind = iota
	KindRegistration
	KindNewRequest
	KindPartialDetail
	KindRating
)

// Step is the current prompt within a flow. Validation failure re-prompts
// at the same step; success merges into the draft and advances.
type Step int

const (
	StepNone Step = iota

	// Registration: role → name → phone → handle, then leaders continue
	// with season → tier while volunteers finish at the handle step.
	StepRole
	StepFullName
	StepPhone
	StepHandle
	StepSeason
	StepTier

	// New request.
	StepRequestText
	StepDates

	// Partial claim follow-up.
	StepPartialDetail

	// Rating.
	StepStars
	StepFeedback
)

// RegistrationDraft accumulates the profile under construction.
type RegistrationDraft struct {
	Role     models.Role
	FullName string
	Phone    string
	Handle   string
	Season   int
	Tier     models.Tier
}

// RequestDraft accumulates a new help request.
type RequestDraft struct {
	Text      string
	StartDate string
	EndDate   string
}

// PartialDraft remembers which request a volunteer locked with a partial
// claim while they type the detail.
type PartialDraft struct {
	RequestID int64
}

// RatingDraft remembers which request is being rated and the committed star
// value once the leader picks one.
type RatingDraft struct {
	RequestID int64
	Stars     int
}

// Session is one user's conversation state. Exactly one exists per user;
// starting a new flow overwrites whatever draft was in progress, which is
// safe because nothing is committed before a flow's terminal step.
type Session struct {
	mu sync.Mutex

	Kind         Kind
	Step         Step
	Registration RegistrationDraft
	Request      RequestDraft
	Partial      PartialDraft
	Rating       RatingDraft
}

// Begin switches the session to the first step of a flow, discarding any
// draft from a previous flow.
func (s *Session) Begin(kind Kind, step Step) {
	s.Kind = kind
	s.Step = step
	s.Registration = RegistrationDraft{}
	s.Request = RequestDraft{}
	s.Partial = PartialDraft{}
	s.Rating = RatingDraft{}
}

// Reset returns the session to idle.
func (s *Session) Reset() {
	s.Begin(KindNone, StepNone)
}

// Active reports whether a multi-step flow is open.
func (s *Session) Active() bool {
	return s.Kind != KindNone
}

// Store owns all sessions, keyed by user identity.
type Store struct {
	mu       sync.Mutex
	sessions map[int64]*Session
}

func NewStore() *Store {
	return &Store{sessions: make(map[int64]*Session)}
}

// Acquire returns the user's session with its lock held. The caller must
// call the returned release function when done with the exchange.
func (st *Store) Acquire(userID int64) (*Session, func()) {
	st.mu.Lock()
	s, ok := st.sessions[userID]
	if !ok {
		s = &Session{}
		st.sessions[userID] = s
	}
	st.mu.Unlock()

	s.mu.Lock()
	return s, s.mu.Unlock
}

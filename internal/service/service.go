// Package service is the lifecycle engine: it routes incoming messages and
// button callbacks, drives the per-user conversation flows, resolves claims
// on requests, and keeps volunteer reputation up to date. It talks to the
// chat platform only through the Notifier interface, so the whole engine
// runs and tests without a bot framework.
package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/cityduty/dutybot/internal/flow"
	"github.com/cityduty/dutybot/internal/models"
	"github.com/cityduty/dutybot/internal/store"
)

// InlineButton is a callback button attached to a message. Data follows the
// "{action}_{id}" convention.
type InlineButton struct {
	Label string
	Data  string
}

// Markup describes the keyboard accompanying an outbound message: either
// inline callback buttons, a persistent menu, or a menu removal.
type Markup struct {
	Inline     [][]InlineButton
	Menu       [][]string
	RemoveMenu bool
}

// Notifier delivers outbound messages. Delivery is best-effort: a failed
// send must never affect committed state, so Send reports nothing back.
type Notifier interface {
	Send(chatID int64, text string, markup Markup)
}

// CallbackResult is what a button press yields: a short toast for the
// pressing user and, optionally, replacement text for the message whose
// button was pressed (clearing its keyboard).
type CallbackResult struct {
	Ack  string
	Edit string
}

type Service struct {
	store    *store.Store
	flows    *flow.Store
	notifier Notifier
	dutyChat int64
}

func New(st *store.Store, notifier Notifier, dutyChat int64) *Service {
	return &Service{
		store:    st,
		flows:    flow.NewStore(),
		notifier: notifier,
		dutyChat: dutyChat,
	}
}

// HandleMessage processes one incoming text message. The user's session
// lock is held for the whole exchange, so messages from the same user are
// applied strictly one at a time.
func (s *Service) HandleMessage(ctx context.Context, userID int64, text string) error {
	sess, release := s.flows.Acquire(userID)
	defer release()

	text = strings.TrimSpace(text)

	if text == "/start" {
		return s.handleStart(ctx, sess, userID)
	}

	if sess.Active() {
		return s.handleFlowMessage(ctx, sess, userID, text)
	}

	user, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		s.notifier.Send(userID, "Please register first: send /start.", Markup{})
		return nil
	}
	if err != nil {
		return err
	}

	return s.handleIntent(ctx, sess, user, text)
}

// handleStart greets a registered user or begins registration. Any open
// flow is abandoned; nothing of it was committed.
func (s *Service) handleStart(ctx context.Context, sess *flow.Session, userID int64) error {
	sess.Reset()

	user, err := s.store.GetUser(ctx, userID)
	if err == nil {
		s.notifier.Send(userID, fmt.Sprintf("Welcome back, %s!", user.FullName), menuFor(user))
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	sess.Begin(flow.KindRegistration, flow.StepRole)
	s.notifier.Send(userID, msgWelcome, roleKeyboard())
	return nil
}

// handleIntent routes a menu selection from an idle, registered user.
func (s *Service) handleIntent(ctx context.Context, sess *flow.Session, user *models.User, text string) error {
	switch text {
	case btnNewRequest:
		return s.startNewRequest(sess, user)
	case btnMyRequests:
		return s.showMyRequests(ctx, user)
	case btnLeaveFeedback:
		return s.showRateable(ctx, user)
	case btnOpenRequests:
		return s.showOpenRequests(ctx, user)
	case btnMyClaimed:
		return s.showClaimed(ctx, user)
	case btnMyProfile:
		return s.showProfile(user)
	}

	s.notifier.Send(user.ID, "I didn't understand that. Use the menu buttons below.", menuFor(user))
	return nil
}

// HandleCallback processes an inline button press. Data is "{action}_{id}",
// where id is a request identity except for stars buttons, which carry the
// star value.
func (s *Service) HandleCallback(ctx context.Context, userID int64, data string) (CallbackResult, error) {
	action, id, err := parseCallback(data)
	if err != nil {
		return CallbackResult{Ack: "Unknown action."}, nil
	}

	sess, release := s.flows.Acquire(userID)
	defer release()

	switch action {
	case "accept":
		return s.resolveClaim(ctx, userID, id, models.ClaimAccept)
	case "reject":
		return s.resolveClaim(ctx, userID, id, models.ClaimReject)
	case "partial":
		return s.resolvePartial(ctx, sess, userID, id)
	case "feedback", "rate":
		return s.beginRating(ctx, sess, userID, id)
	case "stars":
		return s.commitStars(ctx, sess, userID, int(id))
	}

	return CallbackResult{Ack: "Unknown action."}, nil
}

func parseCallback(data string) (action string, id int64, err error) {
	sep := strings.LastIndex(data, "_")
	if sep < 1 {
		return "", 0, fmt.Errorf("malformed callback data %q", data)
	}
	id, err = strconv.ParseInt(data[sep+1:], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("malformed callback data %q", data)
	}
	return data[:sep], id, nil
}

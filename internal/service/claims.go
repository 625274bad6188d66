package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/cityduty/dutybot/internal/flow"
	"github.com/cityduty/dutybot/internal/models"
	"github.com/cityduty/dutybot/internal/store"
)

// resolveClaim settles an accept or reject button press. The store performs
// the check-and-set; whichever volunteer gets there first wins, everyone
// else is told the request was already handled.
func (s *Service) resolveClaim(ctx context.Context, userID, requestID int64, mode models.ClaimMode) (CallbackResult, error) {
	duty, res := s.claimant(ctx, userID)
	if duty == nil {
		return res, nil
	}

	req, err := s.store.ClaimRequest(ctx, requestID, userID, mode)
	if errors.Is(err, store.ErrNotFound) {
		return CallbackResult{Ack: "Request not found."}, nil
	}
	if errors.Is(err, store.ErrAlreadyResolved) {
		return CallbackResult{Ack: "This request has already been handled."}, nil
	}
	if err != nil {
		return CallbackResult{}, err
	}

	if mode == models.ClaimReject {
		s.notifier.Send(req.LeaderID,
			fmt.Sprintf("❌ Your request #%d was declined.", req.ID), Markup{})
		return CallbackResult{
			Ack:  "You declined this request.",
			Edit: fmt.Sprintf("❌ You declined request #%d", req.ID),
		}, nil
	}

	s.notifier.Send(req.LeaderID,
		"🎉 Your request was accepted!\n\n"+
			contactCard(duty)+"\n\n"+
			"Get in touch to settle the details.",
		Markup{})
	return CallbackResult{
		Ack:  "You accepted this request.",
		Edit: fmt.Sprintf("✅ You accepted request #%d", req.ID),
	}, nil
}

// resolvePartial locks the request to this volunteer at the moment of the
// button press, so nobody else can claim it while the detail is typed, then
// opens the follow-up flow that collects the detail.
func (s *Service) resolvePartial(ctx context.Context, sess *flow.Session, userID, requestID int64) (CallbackResult, error) {
	duty, res := s.claimant(ctx, userID)
	if duty == nil {
		return res, nil
	}

	req, err := s.store.ClaimRequest(ctx, requestID, userID, models.ClaimPartial)
	if errors.Is(err, store.ErrNotFound) {
		return CallbackResult{Ack: "Request not found."}, nil
	}
	if errors.Is(err, store.ErrAlreadyResolved) {
		return CallbackResult{Ack: "This request has already been handled."}, nil
	}
	if err != nil {
		return CallbackResult{}, err
	}

	sess.Begin(flow.KindPartialDetail, flow.StepPartialDetail)
	sess.Partial.RequestID = req.ID

	s.notifier.Send(userID, msgAskPartialDetail, Markup{})
	return CallbackResult{
		Ack:  "The request is locked to you.",
		Edit: fmt.Sprintf("🔄 You partially accepted request #%d", req.ID),
	}, nil
}

// claimant loads the pressing user and checks they are a registered duty
// volunteer. Returns a nil user with the result to report otherwise.
func (s *Service) claimant(ctx context.Context, userID int64) (*models.User, CallbackResult) {
	duty, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, CallbackResult{Ack: "Please register first: send /start."}
	}
	if err != nil {
		return nil, CallbackResult{Ack: "Something went wrong, try again."}
	}
	if duty.Role != models.RoleDuty {
		return nil, CallbackResult{Ack: "Only Duty volunteers can respond to requests."}
	}
	return duty, CallbackResult{}
}

// beginRating opens the rating flow for one of the leader's resolved
// requests.
func (s *Service) beginRating(ctx context.Context, sess *flow.Session, userID, requestID int64) (CallbackResult, error) {
	user, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return CallbackResult{Ack: "Please register first: send /start."}, nil
	}
	if err != nil {
		return CallbackResult{}, err
	}
	if user.Role != models.RoleLeader {
		return CallbackResult{Ack: "This is available to Leaders only."}, nil
	}

	req, err := s.store.GetRequest(ctx, requestID)
	if errors.Is(err, store.ErrNotFound) {
		return CallbackResult{Ack: "Request not found."}, nil
	}
	if err != nil {
		return CallbackResult{}, err
	}

	switch {
	case req.LeaderID != userID:
		return CallbackResult{Ack: "This request isn't yours."}, nil
	case req.Rating != nil:
		return CallbackResult{Ack: "This request has already been rated."}, nil
	case !req.Resolved():
		return CallbackResult{Ack: "This request hasn't been resolved yet."}, nil
	}

	sess.Begin(flow.KindRating, flow.StepStars)
	sess.Rating.RequestID = requestID

	s.notifier.Send(userID, msgAskStars, starButtons())
	return CallbackResult{}, nil
}

// commitStars handles a stars_{n} button press inside an open rating flow.
func (s *Service) commitStars(ctx context.Context, sess *flow.Session, userID int64, stars int) (CallbackResult, error) {
	if sess.Kind != flow.KindRating || sess.Step != flow.StepStars {
		return CallbackResult{Ack: "No rating in progress."}, nil
	}
	if stars < 1 || stars > 5 {
		return CallbackResult{Ack: "Unknown action."}, nil
	}

	ack, err := s.applyStars(ctx, sess, userID, stars)
	return CallbackResult{Ack: ack}, err
}

// applyStars commits the star value, recomputes the volunteer's reputation
// and advances the flow to the optional feedback step.
func (s *Service) applyStars(ctx context.Context, sess *flow.Session, userID int64, stars int) (string, error) {
	req, err := s.store.SetRating(ctx, sess.Rating.RequestID, userID, stars)
	switch {
	case errors.Is(err, store.ErrAlreadyRated):
		sess.Reset()
		return "This request has already been rated.", nil
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, store.ErrNotYours),
		errors.Is(err, store.ErrNotResolved):
		sess.Reset()
		return "This request can't be rated.", nil
	case err != nil:
		return "", err
	}

	if err := s.store.RecomputeRating(ctx, req.DutyID); err != nil {
		return "", err
	}

	sess.Rating.Stars = stars
	sess.Step = flow.StepFeedback

	s.notifier.Send(userID, msgAskFeedback, Markup{})
	return "Rating saved.", nil
}

package service

import (
	"context"
	"errors"
	"strings"

	"github.com/cityduty/dutybot/internal/flow"
	"github.com/cityduty/dutybot/internal/models"
	"github.com/cityduty/dutybot/internal/store"
)

// handleFlowMessage advances the user's open flow by one step. A validation
// failure re-prompts and leaves both the step and the draft untouched;
// nothing is committed before a flow reaches its terminal step.
func (s *Service) handleFlowMessage(ctx context.Context, sess *flow.Session, userID int64, text string) error {
	switch sess.Kind {
	case flow.KindRegistration:
		return s.stepRegistration(ctx, sess, userID, text)
	case flow.KindNewRequest:
		return s.stepNewRequest(ctx, sess, userID, text)
	case flow.KindPartialDetail:
		return s.stepPartialDetail(ctx, sess, userID, text)
	case flow.KindRating:
		return s.stepRating(ctx, sess, userID, text)
	}

	sess.Reset()
	return nil
}

func (s *Service) stepRegistration(ctx context.Context, sess *flow.Session, userID int64, text string) error {
	draft := &sess.Registration

	switch sess.Step {
	case flow.StepRole:
		switch text {
		case btnRoleLeader:
			draft.Role = models.RoleLeader
		case btnRoleDuty:
			draft.Role = models.RoleDuty
		default:
			s.notifier.Send(userID, "Please choose one of the options.", roleKeyboard())
			return nil
		}
		sess.Step = flow.StepFullName
		s.notifier.Send(userID, msgAskFullName, Markup{RemoveMenu: true})

	case flow.StepFullName:
		draft.FullName = text
		sess.Step = flow.StepPhone
		s.notifier.Send(userID, msgAskPhone, Markup{})

	case flow.StepPhone:
		draft.Phone = text
		sess.Step = flow.StepHandle
		s.notifier.Send(userID, msgAskHandle, Markup{})

	case flow.StepHandle:
		draft.Handle = strings.TrimPrefix(text, "@")
		if draft.Role == models.RoleLeader {
			sess.Step = flow.StepSeason
			s.notifier.Send(userID, msgAskSeason, Markup{})
			return nil
		}
		return s.commitRegistration(ctx, sess, userID, msgDutyRegistered)

	case flow.StepSeason:
		season, err := flow.ParseSeason(text)
		if err != nil {
			s.notifier.Send(userID, "Please enter a number from 1 to 5:", Markup{})
			return nil
		}
		draft.Season = season
		sess.Step = flow.StepTier
		s.notifier.Send(userID, msgAskTier, tierKeyboard())

	case flow.StepTier:
		tier, err := models.ParseTier(text)
		if err != nil {
			s.notifier.Send(userID, "Please choose one of the options.", tierKeyboard())
			return nil
		}
		draft.Tier = tier
		return s.commitRegistration(ctx, sess, userID, msgLeaderRegistered)
	}

	return nil
}

// commitRegistration writes the completed draft into the identity store and
// clears the conversation state.
func (s *Service) commitRegistration(ctx context.Context, sess *flow.Session, userID int64, done string) error {
	draft := sess.Registration
	user := &models.User{
		ID:       userID,
		FullName: draft.FullName,
		Phone:    draft.Phone,
		Handle:   draft.Handle,
		Role:     draft.Role,
		Season:   draft.Season,
		Tier:     draft.Tier,
	}

	if err := s.store.UpsertUser(ctx, user); err != nil {
		return err
	}

	sess.Reset()
	s.notifier.Send(userID, done, menuFor(user))
	return nil
}

// startNewRequest opens the request-creation flow for a leader.
func (s *Service) startNewRequest(sess *flow.Session, user *models.User) error {
	if user.Role != models.RoleLeader {
		s.notifier.Send(user.ID, "This is available to Leaders only.", menuFor(user))
		return nil
	}

	sess.Begin(flow.KindNewRequest, flow.StepRequestText)
	s.notifier.Send(user.ID, msgAskRequestText, Markup{RemoveMenu: true})
	return nil
}

func (s *Service) stepNewRequest(ctx context.Context, sess *flow.Session, userID int64, text string) error {
	switch sess.Step {
	case flow.StepRequestText:
		sess.Request.Text = text
		sess.Step = flow.StepDates
		s.notifier.Send(userID, msgAskDates, Markup{})
		return nil

	case flow.StepDates:
		start, end, err := flow.ParseDateRange(text)
		if err != nil {
			s.notifier.Send(userID, "Please enter the dates as DD.MM.YYYY-DD.MM.YYYY (end not before start).", Markup{})
			return nil
		}
		sess.Request.StartDate = start
		sess.Request.EndDate = end
		return s.commitNewRequest(ctx, sess, userID)
	}

	return nil
}

// commitNewRequest writes the request into the registry and announces it to
// the duty chat with claim buttons.
func (s *Service) commitNewRequest(ctx context.Context, sess *flow.Session, userID int64) error {
	draft := sess.Request

	leader, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}

	req, err := s.store.CreateRequest(ctx, userID, draft.StartDate, draft.EndDate, draft.Text)
	if err != nil {
		return err
	}

	sess.Reset()

	s.notifier.Send(s.dutyChat, requestCard(req, leader), claimButtons(req.ID))
	s.notifier.Send(userID, msgRequestSent, menuFor(leader))
	return nil
}

func (s *Service) stepPartialDetail(ctx context.Context, sess *flow.Session, userID int64, text string) error {
	requestID := sess.Partial.RequestID

	err := s.store.SetPartialDetail(ctx, requestID, userID, text)
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrNotYours) {
		// The request vanished from under the flow; nothing to merge.
		sess.Reset()
		s.notifier.Send(userID, "That request is no longer yours to answer.", Markup{})
		return nil
	}
	if err != nil {
		return err
	}

	duty, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}

	sess.Reset()

	s.notifier.Send(req.LeaderID,
		"🔄 Your request was partially accepted\n\n"+
			contactCard(duty)+"\n\n"+
			"They can help you with:\n"+text+"\n\n"+
			"Get in touch to settle the details.",
		Markup{})
	s.notifier.Send(userID, msgPartialForwarded, menuFor(duty))
	return nil
}

func (s *Service) stepRating(ctx context.Context, sess *flow.Session, userID int64, text string) error {
	switch sess.Step {
	case flow.StepStars:
		// Stars normally arrive as a button callback; a typed number
		// works too.
		stars, err := flow.ParseStars(text)
		if err != nil {
			s.notifier.Send(userID, "Please use the star buttons (1-5).", Markup{})
			return nil
		}
		_, err = s.applyStars(ctx, sess, userID, stars)
		return err

	case flow.StepFeedback:
		if text == "/skip" {
			return s.finishRating(ctx, sess, userID, "", msgThanksRating)
		}
		return s.finishRating(ctx, sess, userID, text, msgThanksFeedback)
	}

	return nil
}

// finishRating stores the optional feedback text and closes the flow. The
// volunteer's reputation was already recomputed when the stars committed.
func (s *Service) finishRating(ctx context.Context, sess *flow.Session, userID int64, feedback, thanks string) error {
	if feedback != "" {
		err := s.store.SetFeedback(ctx, sess.Rating.RequestID, userID, feedback)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
	}

	sess.Reset()

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	s.notifier.Send(userID, thanks, menuFor(user))
	return nil
}

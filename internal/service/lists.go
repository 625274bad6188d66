package service

import (
	"context"
	"fmt"

	"github.com/cityduty/dutybot/internal/models"
)

// Listing caps, carried over from the original announcement flow: volunteers
// see at most 5 pending requests at once, leaders pick from at most 10
// rateable ones.
const (
	maxOpenShown     = 5
	maxRateableShown = 10
)

// showOpenRequests sends a volunteer each pending request as its own card
// with claim buttons.
func (s *Service) showOpenRequests(ctx context.Context, user *models.User) error {
	if user.Role != models.RoleDuty {
		s.notifier.Send(user.ID, "This is available to Duty volunteers only.", menuFor(user))
		return nil
	}

	pending, err := s.store.PendingRequests(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		s.notifier.Send(user.ID, "No open requests at the moment.", menuFor(user))
		return nil
	}
	if len(pending) > maxOpenShown {
		pending = pending[:maxOpenShown]
	}

	for i := range pending {
		req := &pending[i]
		leader, err := s.store.GetUser(ctx, req.LeaderID)
		if err != nil {
			return err
		}
		s.notifier.Send(user.ID, requestCard(req, leader), claimButtons(req.ID))
	}
	return nil
}

// showMyRequests sends a leader each of their requests; resolved, unrated
// ones carry a button opening the rating flow.
func (s *Service) showMyRequests(ctx context.Context, user *models.User) error {
	if user.Role != models.RoleLeader {
		s.notifier.Send(user.ID, "This is available to Leaders only.", menuFor(user))
		return nil
	}

	requests, err := s.store.LeaderRequests(ctx, user.ID)
	if err != nil {
		return err
	}
	if len(requests) == 0 {
		s.notifier.Send(user.ID, "You have no requests yet.", menuFor(user))
		return nil
	}

	for i := range requests {
		req := &requests[i]

		var duty *models.User
		if req.DutyID != 0 {
			duty, err = s.store.GetUser(ctx, req.DutyID)
			if err != nil {
				return err
			}
		}

		markup := Markup{}
		if req.Rateable() {
			markup.Inline = [][]InlineButton{{{
				Label: "Leave feedback",
				Data:  fmt.Sprintf("feedback_%d", req.ID),
			}}}
		}

		s.notifier.Send(user.ID, leaderRequestCard(req, duty), markup)
	}
	return nil
}

// showRateable sends a leader a picker over their resolved, unrated
// requests.
func (s *Service) showRateable(ctx context.Context, user *models.User) error {
	if user.Role != models.RoleLeader {
		s.notifier.Send(user.ID, "This is available to Leaders only.", menuFor(user))
		return nil
	}

	rateable, err := s.store.RateableRequests(ctx, user.ID)
	if err != nil {
		return err
	}
	if len(rateable) == 0 {
		s.notifier.Send(user.ID, "You have no requests ready for rating.", menuFor(user))
		return nil
	}
	if len(rateable) > maxRateableShown {
		rateable = rateable[:maxRateableShown]
	}

	var rows [][]InlineButton
	for _, req := range rateable {
		rows = append(rows, []InlineButton{{
			Label: fmt.Sprintf("Request #%d", req.ID),
			Data:  fmt.Sprintf("rate_%d", req.ID),
		}})
	}

	s.notifier.Send(user.ID, "Choose a request to rate:", Markup{Inline: rows})
	return nil
}

// showClaimed sends a volunteer each request they have taken on, with the
// leader's rating and review once those exist.
func (s *Service) showClaimed(ctx context.Context, user *models.User) error {
	if user.Role != models.RoleDuty {
		s.notifier.Send(user.ID, "This is available to Duty volunteers only.", menuFor(user))
		return nil
	}

	requests, err := s.store.DutyRequests(ctx, user.ID)
	if err != nil {
		return err
	}
	if len(requests) == 0 {
		s.notifier.Send(user.ID, "You haven't taken on any requests yet.", menuFor(user))
		return nil
	}

	for i := range requests {
		req := &requests[i]
		leader, err := s.store.GetUser(ctx, req.LeaderID)
		if err != nil {
			return err
		}
		s.notifier.Send(user.ID, dutyRequestCard(req, leader), Markup{})
	}
	return nil
}

// showProfile sends a volunteer their own profile card.
func (s *Service) showProfile(user *models.User) error {
	if user.Role != models.RoleDuty {
		s.notifier.Send(user.ID, "This is available to Duty volunteers only.", menuFor(user))
		return nil
	}

	s.notifier.Send(user.ID, profileCard(user), Markup{})
	return nil
}

package service

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cityduty/dutybot/internal/models"
)

// Menu and keyboard labels. The intent router matches on these exactly.
const (
	btnRoleLeader = "I'm a Leader"
	btnRoleDuty   = "I'm a Duty volunteer"

	btnNewRequest    = "New request"
	btnMyRequests    = "My requests"
	btnLeaveFeedback = "Leave feedback"

	btnOpenRequests = "Open requests"
	btnMyClaimed    = "My claimed requests"
	btnMyProfile    = "My profile"
)

const (
	msgWelcome = "Welcome to the City Duty bot!\n\n" +
		"Are you a programme Leader visiting the city, or a Duty volunteer?"

	msgAskFullName = "Enter your full name:"
	msgAskPhone    = "Enter your phone number:"
	msgAskHandle   = "Enter your Telegram username (without @):"
	msgAskSeason   = "Enter the season you took part in (1-5):"
	msgAskTier     = "Choose your participation tier:"

	msgDutyRegistered   = "Registration complete! You can now take on requests from Leaders."
	msgLeaderRegistered = "Registration complete! You can now create support requests."

	msgAskRequestText = "Describe your request (what do you need help with in the city):"
	msgAskDates       = "Enter the dates of your stay (for example: 01.09.2023-05.09.2023):"
	msgRequestSent    = "Your request has been sent to the Duty volunteers. Expect offers of help!"

	msgAskPartialDetail = "Describe which parts or dates you can help with:"
	msgPartialForwarded = "The Leader has been notified of your partial acceptance."

	msgAskStars       = "Rate the Duty volunteer's help (1-5 stars):"
	msgAskFeedback    = "Write a short review of the volunteer's help (or send /skip to skip):"
	msgThanksFeedback = "Thank you for your review! It helps improve the service."
	msgThanksRating   = "Thank you for your rating!"
)

func roleKeyboard() Markup {
	return Markup{Menu: [][]string{{btnRoleLeader}, {btnRoleDuty}}}
}

func tierKeyboard() Markup {
	return Markup{Menu: [][]string{{"Semifinalist"}, {"Finalist"}, {"Winner"}}}
}

func menuFor(user *models.User) Markup {
	if user.Role == models.RoleLeader {
		return Markup{Menu: [][]string{{btnNewRequest}, {btnMyRequests}, {btnLeaveFeedback}}}
	}
	return Markup{Menu: [][]string{{btnOpenRequests}, {btnMyClaimed}, {btnMyProfile}}}
}

// claimButtons are the actions a volunteer can take on a pending request.
func claimButtons(requestID int64) Markup {
	return Markup{Inline: [][]InlineButton{{
		{Label: "Accept", Data: fmt.Sprintf("accept_%d", requestID)},
		{Label: "Decline", Data: fmt.Sprintf("reject_%d", requestID)},
		{Label: "Accept partially", Data: fmt.Sprintf("partial_%d", requestID)},
	}}}
}

func starButtons() Markup {
	row := make([]InlineButton, 0, 5)
	for i := 1; i <= 5; i++ {
		row = append(row, InlineButton{
			Label: strconv.Itoa(i),
			Data:  fmt.Sprintf("stars_%d", i),
		})
	}
	return Markup{Inline: [][]InlineButton{row}}
}

// requestCard is the announcement shown to volunteers, in the duty chat and
// in the open-requests listing.
func requestCard(req *models.Request, leader *models.User) string {
	return fmt.Sprintf(
		"📌 Request #%d from a Leader\n\n"+
			"👤 %s\n"+
			"📞 %s\n"+
			"🔹 Tier: %s\n"+
			"🔹 Season: %d\n"+
			"📅 Dates: %s - %s\n"+
			"📝 Request: %s",
		req.ID, leader.FullName, leader.Phone, leader.Tier.Label(), leader.Season,
		req.StartDate, req.EndDate, req.RequestText,
	)
}

// contactCard is the volunteer's contact block sent to the leader once a
// claim succeeds.
func contactCard(duty *models.User) string {
	return fmt.Sprintf(
		"Duty volunteer:\n"+
			"👤 %s\n"+
			"📞 %s\n"+
			"📱 @%s",
		duty.FullName, duty.Phone, duty.Handle,
	)
}

func statusEmoji(status models.RequestStatus) string {
	switch status {
	case models.StatusPending:
		return "🕒"
	case models.StatusAccepted:
		return "✅"
	case models.StatusRejected:
		return "❌"
	case models.StatusPartiallyAccepted:
		return "🔄"
	}
	return "❓"
}

// leaderRequestCard is a leader's view of their own request.
func leaderRequestCard(req *models.Request, duty *models.User) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s Request #%d\n", statusEmoji(req.Status), req.ID)
	fmt.Fprintf(&sb, "📅 Dates: %s - %s\n", req.StartDate, req.EndDate)
	fmt.Fprintf(&sb, "📝 Request: %s\n", req.RequestText)
	fmt.Fprintf(&sb, "Status: %s", req.Status)
	if duty != nil {
		fmt.Fprintf(&sb, "\n\nDuty volunteer: %s (@%s)", duty.FullName, duty.Handle)
	}
	return sb.String()
}

// dutyRequestCard is a volunteer's view of a request they took on.
func dutyRequestCard(req *models.Request, leader *models.User) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Request #%d\n", req.ID)
	fmt.Fprintf(&sb, "👤 Leader: %s\n", leader.FullName)
	fmt.Fprintf(&sb, "📅 Dates: %s - %s\n", req.StartDate, req.EndDate)
	fmt.Fprintf(&sb, "📝 Request: %s", req.RequestText)
	if req.Rating != nil {
		fmt.Fprintf(&sb, "\n⭐ Rating: %d/5", *req.Rating)
		if req.Feedback != "" {
			fmt.Fprintf(&sb, "\n📝 Review: %s", req.Feedback)
		}
	}
	return sb.String()
}

// profileCard is a volunteer's own profile summary.
func profileCard(duty *models.User) string {
	ratingLine := "⭐ Rating: no ratings yet"
	if duty.Rating != nil {
		ratingLine = fmt.Sprintf("⭐ Rating: %.1f/5", *duty.Rating)
	}
	return fmt.Sprintf(
		"👤 Your Duty profile\n\n"+
			"Name: %s\n"+
			"Phone: %s\n"+
			"Telegram: @%s\n"+
			"Leaders helped: %d\n"+
			"%s",
		duty.FullName, duty.Phone, duty.Handle, duty.HelpedCount, ratingLine,
	)
}

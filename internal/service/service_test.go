package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cityduty/dutybot/internal/models"
	"github.com/cityduty/dutybot/internal/store"
)

const testDutyChat int64 = -100500

type sentMessage struct {
	ChatID int64
	Text   string
	Markup Markup
}

// fakeNotifier records every outbound message.
type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (f *fakeNotifier) Send(chatID int64, text string, markup Markup) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{ChatID: chatID, Text: text, Markup: markup})
}

func (f *fakeNotifier) last() sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return sentMessage{}
	}
	return f.sent[len(f.sent)-1]
}

// to returns every message sent to the given chat, in order.
func (f *fakeNotifier) to(chatID int64) []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentMessage
	for _, m := range f.sent {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out
}

func newService(t *testing.T) (*Service, *store.Store, *fakeNotifier) {
	t.Helper()
	st, err := store.New()
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	n := &fakeNotifier{}
	return New(st, n, testDutyChat), st, n
}

func seedLeader(t *testing.T, st *store.Store, id int64) *models.User {
	t.Helper()
	u := &models.User{
		ID:       id,
		FullName: fmt.Sprintf("Leader %d", id),
		Phone:    "+7 900 000-00-00",
		Handle:   fmt.Sprintf("leader%d", id),
		Role:     models.RoleLeader,
		Season:   2,
		Tier:     models.TierWinner,
	}
	require.NoError(t, st.UpsertUser(context.Background(), u))
	return u
}

func seedDuty(t *testing.T, st *store.Store, id int64) *models.User {
	t.Helper()
	u := &models.User{
		ID:       id,
		FullName: fmt.Sprintf("Duty %d", id),
		Phone:    "+7 900 111-11-11",
		Handle:   fmt.Sprintf("duty%d", id),
		Role:     models.RoleDuty,
	}
	require.NoError(t, st.UpsertUser(context.Background(), u))
	return u
}

func say(t *testing.T, svc *Service, userID int64, text string) {
	t.Helper()
	require.NoError(t, svc.HandleMessage(context.Background(), userID, text))
}

func press(t *testing.T, svc *Service, userID int64, data string) CallbackResult {
	t.Helper()
	res, err := svc.HandleCallback(context.Background(), userID, data)
	require.NoError(t, err)
	return res
}

func TestUnregisteredUserIsPointedAtStart(t *testing.T) {
	svc, _, n := newService(t)

	say(t, svc, 1, "hello")
	assert.Contains(t, n.last().Text, "/start")
}

func TestLeaderRegistrationFlow(t *testing.T) {
	svc, st, n := newService(t)
	ctx := context.Background()

	say(t, svc, 1, "/start")
	assert.Contains(t, n.last().Text, "Welcome")

	say(t, svc, 1, btnRoleLeader)
	assert.Equal(t, msgAskFullName, n.last().Text)

	say(t, svc, 1, "Anna Petrova")
	say(t, svc, 1, "+7 916 123-45-67")
	say(t, svc, 1, "@annap")

	// Invalid season re-prompts and does not advance.
	say(t, svc, 1, "9")
	assert.Contains(t, n.last().Text, "1 to 5")
	say(t, svc, 1, "also not a season")
	assert.Contains(t, n.last().Text, "1 to 5")

	say(t, svc, 1, "4")
	assert.Equal(t, msgAskTier, n.last().Text)

	// Invalid tier re-prompts too.
	say(t, svc, 1, "Champion")
	assert.Contains(t, n.last().Text, "choose one of the options")

	say(t, svc, 1, "Winner")
	assert.Equal(t, msgLeaderRegistered, n.last().Text)

	u, err := st.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.RoleLeader, u.Role)
	assert.Equal(t, "Anna Petrova", u.FullName)
	assert.Equal(t, "+7 916 123-45-67", u.Phone)
	assert.Equal(t, "annap", u.Handle, "leading @ is stripped")
	assert.Equal(t, 4, u.Season)
	assert.Equal(t, models.TierWinner, u.Tier)
}

func TestDutyRegistrationSkipsLeaderSteps(t *testing.T) {
	svc, st, n := newService(t)

	say(t, svc, 2, "/start")
	say(t, svc, 2, btnRoleDuty)
	say(t, svc, 2, "Boris Ivanov")
	say(t, svc, 2, "+7 903 555-00-11")
	say(t, svc, 2, "borisiv")

	assert.Equal(t, msgDutyRegistered, n.last().Text)

	u, err := st.GetUser(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, models.RoleDuty, u.Role)
	assert.Zero(t, u.Season)
}

func TestRoleStepRejectsFreeText(t *testing.T) {
	svc, st, n := newService(t)

	say(t, svc, 3, "/start")
	say(t, svc, 3, "just let me in")
	assert.Contains(t, n.last().Text, "choose one of the options")

	exists, err := st.UserExists(context.Background(), 3)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestStartGreetsRegisteredUser(t *testing.T) {
	svc, st, n := newService(t)
	seedLeader(t, st, 1)

	say(t, svc, 1, "/start")
	assert.Contains(t, n.last().Text, "Welcome back")
	assert.NotEmpty(t, n.last().Markup.Menu)
}

func TestNewRequestFlowBroadcastsToDutyChat(t *testing.T) {
	svc, st, n := newService(t)
	leader := seedLeader(t, st, 1)

	say(t, svc, 1, btnNewRequest)
	assert.Equal(t, msgAskRequestText, n.last().Text)

	say(t, svc, 1, "need a guide")
	assert.Equal(t, msgAskDates, n.last().Text)

	// Malformed and inverted ranges re-prompt without committing.
	say(t, svc, 1, "sometime next week")
	assert.Contains(t, n.last().Text, "DD.MM.YYYY")
	say(t, svc, 1, "05.09.2023-01.09.2023")
	assert.Contains(t, n.last().Text, "DD.MM.YYYY")

	pending, err := st.PendingRequests(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending)

	say(t, svc, 1, "01.09.2023-05.09.2023")
	assert.Equal(t, msgRequestSent, n.last().Text)

	pending, err = st.PendingRequests(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "need a guide", pending[0].RequestText)

	broadcast := n.to(testDutyChat)
	require.Len(t, broadcast, 1)
	assert.Contains(t, broadcast[0].Text, "need a guide")
	assert.Contains(t, broadcast[0].Text, leader.FullName)
	assert.Contains(t, broadcast[0].Text, "01.09.2023 - 05.09.2023")
	require.NotEmpty(t, broadcast[0].Markup.Inline)
	assert.Equal(t, fmt.Sprintf("accept_%d", pending[0].ID), broadcast[0].Markup.Inline[0][0].Data)
}

func TestNewRequestIsLeaderOnly(t *testing.T) {
	svc, st, n := newService(t)
	seedDuty(t, st, 2)

	say(t, svc, 2, btnNewRequest)
	assert.Contains(t, n.last().Text, "Leaders only")
}

func TestStartAbandonsOpenFlow(t *testing.T) {
	svc, st, _ := newService(t)
	seedLeader(t, st, 1)

	say(t, svc, 1, btnNewRequest)
	say(t, svc, 1, "need a guide")
	say(t, svc, 1, "/start")

	// The dates message no longer belongs to a flow, so no request is
	// created from the abandoned draft.
	say(t, svc, 1, "01.09.2023-05.09.2023")

	pending, err := st.PendingRequests(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func createRequest(t *testing.T, svc *Service, leaderID int64) int64 {
	t.Helper()
	say(t, svc, leaderID, btnNewRequest)
	say(t, svc, leaderID, "need a guide")
	say(t, svc, leaderID, "01.09.2023-05.09.2023")

	// The broadcast carries accept_{id} as its first button.
	return requestIDFromData(t, svc, leaderID)
}

func requestIDFromData(t *testing.T, svc *Service, leaderID int64) int64 {
	t.Helper()
	n := svc.notifier.(*fakeNotifier)
	broadcast := n.to(testDutyChat)
	require.NotEmpty(t, broadcast)
	data := broadcast[len(broadcast)-1].Markup.Inline[0][0].Data
	var id int64
	_, err := fmt.Sscanf(data, "accept_%d", &id)
	require.NoError(t, err)
	return id
}

func TestAcceptClaimNotifiesLeaderWithContact(t *testing.T) {
	svc, st, n := newService(t)
	seedLeader(t, st, 1)
	duty := seedDuty(t, st, 2)

	reqID := createRequest(t, svc, 1)

	res := press(t, svc, 2, fmt.Sprintf("accept_%d", reqID))
	assert.Equal(t, "You accepted this request.", res.Ack)
	assert.Contains(t, res.Edit, fmt.Sprintf("#%d", reqID))

	req, err := st.GetRequest(context.Background(), reqID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, req.Status)
	assert.Equal(t, int64(2), req.DutyID)

	got, err := st.GetUser(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 1, got.HelpedCount)

	leaderInbox := n.to(1)
	require.NotEmpty(t, leaderInbox)
	notice := leaderInbox[len(leaderInbox)-1]
	assert.Contains(t, notice.Text, "accepted")
	assert.Contains(t, notice.Text, duty.FullName)
	assert.Contains(t, notice.Text, duty.Phone)
	assert.Contains(t, notice.Text, "@"+duty.Handle)
}

func TestRejectClaimNotifiesLeader(t *testing.T) {
	svc, st, n := newService(t)
	seedLeader(t, st, 1)
	seedDuty(t, st, 2)

	reqID := createRequest(t, svc, 1)

	res := press(t, svc, 2, fmt.Sprintf("reject_%d", reqID))
	assert.Equal(t, "You declined this request.", res.Ack)

	req, err := st.GetRequest(context.Background(), reqID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, req.Status)
	assert.Zero(t, req.DutyID)

	leaderInbox := n.to(1)
	assert.Contains(t, leaderInbox[len(leaderInbox)-1].Text, "declined")
}

func TestLateClaimSeesAlreadyHandled(t *testing.T) {
	svc, st, _ := newService(t)
	seedLeader(t, st, 1)
	seedDuty(t, st, 2)
	seedDuty(t, st, 3)

	reqID := createRequest(t, svc, 1)

	press(t, svc, 2, fmt.Sprintf("accept_%d", reqID))
	res := press(t, svc, 3, fmt.Sprintf("accept_%d", reqID))
	assert.Equal(t, "This request has already been handled.", res.Ack)
	assert.Empty(t, res.Edit)

	req, err := st.GetRequest(context.Background(), reqID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), req.DutyID, "request unchanged by the late claim")
}

func TestClaimOnMissingRequest(t *testing.T) {
	svc, st, _ := newService(t)
	seedDuty(t, st, 2)

	res := press(t, svc, 2, "accept_999")
	assert.Equal(t, "Request not found.", res.Ack)
}

func TestClaimRequiresDutyRole(t *testing.T) {
	svc, st, _ := newService(t)
	seedLeader(t, st, 1)
	reqID := createRequest(t, svc, 1)

	res := press(t, svc, 1, fmt.Sprintf("accept_%d", reqID))
	assert.Contains(t, res.Ack, "Duty volunteers")

	res = press(t, svc, 99, fmt.Sprintf("accept_%d", reqID))
	assert.Contains(t, res.Ack, "/start")
}

func TestPartialClaimFlow(t *testing.T) {
	svc, st, n := newService(t)
	seedLeader(t, st, 1)
	duty := seedDuty(t, st, 2)
	seedDuty(t, st, 3)

	reqID := createRequest(t, svc, 1)

	res := press(t, svc, 2, fmt.Sprintf("partial_%d", reqID))
	assert.Contains(t, res.Ack, "locked")
	assert.Equal(t, msgAskPartialDetail, n.last().Text)

	// Locked at button press: a second volunteer already lost the race.
	late := press(t, svc, 3, fmt.Sprintf("accept_%d", reqID))
	assert.Equal(t, "This request has already been handled.", late.Ack)

	say(t, svc, 2, "I can help on the first two days")
	assert.Equal(t, msgPartialForwarded, n.last().Text)

	req, err := st.GetRequest(context.Background(), reqID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPartiallyAccepted, req.Status)
	assert.Equal(t, "I can help on the first two days", req.Feedback)

	leaderInbox := n.to(1)
	notice := leaderInbox[len(leaderInbox)-1]
	assert.Contains(t, notice.Text, "partially accepted")
	assert.Contains(t, notice.Text, duty.FullName)
	assert.Contains(t, notice.Text, "I can help on the first two days")
}

func ratedSetup(t *testing.T) (*Service, *store.Store, *fakeNotifier, int64) {
	t.Helper()
	svc, st, n := newService(t)
	seedLeader(t, st, 1)
	seedDuty(t, st, 2)
	reqID := createRequest(t, svc, 1)
	press(t, svc, 2, fmt.Sprintf("accept_%d", reqID))
	return svc, st, n, reqID
}

func TestRatingFlowWithSkip(t *testing.T) {
	svc, st, n, reqID := ratedSetup(t)

	res := press(t, svc, 1, fmt.Sprintf("feedback_%d", reqID))
	assert.Empty(t, res.Ack)
	assert.Equal(t, msgAskStars, n.last().Text)
	require.NotEmpty(t, n.last().Markup.Inline)

	res = press(t, svc, 1, "stars_4")
	assert.Equal(t, "Rating saved.", res.Ack)
	assert.Equal(t, msgAskFeedback, n.last().Text)

	say(t, svc, 1, "/skip")
	assert.Equal(t, msgThanksRating, n.last().Text)

	req, err := st.GetRequest(context.Background(), reqID)
	require.NoError(t, err)
	require.NotNil(t, req.Rating)
	assert.Equal(t, 4, *req.Rating)
	assert.Empty(t, req.Feedback)

	duty, err := st.GetUser(context.Background(), 2)
	require.NoError(t, err)
	require.NotNil(t, duty.Rating)
	assert.InDelta(t, 4.0, *duty.Rating, 1e-9)
}

func TestRatingFlowWithFeedbackText(t *testing.T) {
	svc, st, n, reqID := ratedSetup(t)

	press(t, svc, 1, fmt.Sprintf("rate_%d", reqID))
	press(t, svc, 1, "stars_5")
	say(t, svc, 1, "Very helpful, met me at the station")

	assert.Equal(t, msgThanksFeedback, n.last().Text)

	req, err := st.GetRequest(context.Background(), reqID)
	require.NoError(t, err)
	require.NotNil(t, req.Rating)
	assert.Equal(t, 5, *req.Rating)
	assert.Equal(t, "Very helpful, met me at the station", req.Feedback)
}

func TestRatingOnlyOnce(t *testing.T) {
	svc, _, _, reqID := ratedSetup(t)

	press(t, svc, 1, fmt.Sprintf("rate_%d", reqID))
	press(t, svc, 1, "stars_3")
	say(t, svc, 1, "/skip")

	res := press(t, svc, 1, fmt.Sprintf("rate_%d", reqID))
	assert.Equal(t, "This request has already been rated.", res.Ack)
}

func TestStarsOutsideRatingFlow(t *testing.T) {
	svc, st, _ := newService(t)
	seedLeader(t, st, 1)

	res := press(t, svc, 1, "stars_4")
	assert.Equal(t, "No rating in progress.", res.Ack)
}

func TestRatingGuards(t *testing.T) {
	svc, st, _ := newService(t)
	seedLeader(t, st, 1)
	seedLeader(t, st, 5)
	seedDuty(t, st, 2)

	reqID := createRequest(t, svc, 1)

	// Pending requests cannot be rated yet.
	res := press(t, svc, 1, fmt.Sprintf("rate_%d", reqID))
	assert.Contains(t, res.Ack, "hasn't been resolved")

	press(t, svc, 2, fmt.Sprintf("accept_%d", reqID))

	// Another leader cannot rate someone else's request.
	res = press(t, svc, 5, fmt.Sprintf("rate_%d", reqID))
	assert.Equal(t, "This request isn't yours.", res.Ack)

	res = press(t, svc, 1, "rate_999")
	assert.Equal(t, "Request not found.", res.Ack)
}

func TestOpenRequestsListing(t *testing.T) {
	svc, st, n := newService(t)
	seedLeader(t, st, 1)
	seedDuty(t, st, 2)

	say(t, svc, 2, btnOpenRequests)
	assert.Contains(t, n.last().Text, "No open requests")

	createRequest(t, svc, 1)
	say(t, svc, 2, btnOpenRequests)

	last := n.last()
	assert.Contains(t, last.Text, "need a guide")
	require.NotEmpty(t, last.Markup.Inline)
	assert.True(t, strings.HasPrefix(last.Markup.Inline[0][0].Data, "accept_"))
}

func TestMyRequestsShowsRateButtonWhenRateable(t *testing.T) {
	svc, st, n := newService(t)
	seedLeader(t, st, 1)
	duty := seedDuty(t, st, 2)

	reqID := createRequest(t, svc, 1)
	press(t, svc, 2, fmt.Sprintf("accept_%d", reqID))

	say(t, svc, 1, btnMyRequests)
	last := n.last()
	assert.Contains(t, last.Text, "need a guide")
	assert.Contains(t, last.Text, duty.FullName)
	require.NotEmpty(t, last.Markup.Inline)
	assert.Equal(t, fmt.Sprintf("feedback_%d", reqID), last.Markup.Inline[0][0].Data)
}

func TestLeaveFeedbackListsRateable(t *testing.T) {
	svc, st, n := newService(t)
	seedLeader(t, st, 1)
	seedDuty(t, st, 2)

	say(t, svc, 1, btnLeaveFeedback)
	assert.Contains(t, n.last().Text, "no requests ready")

	reqID := createRequest(t, svc, 1)
	press(t, svc, 2, fmt.Sprintf("accept_%d", reqID))

	say(t, svc, 1, btnLeaveFeedback)
	last := n.last()
	assert.Contains(t, last.Text, "Choose a request")
	require.Len(t, last.Markup.Inline, 1)
	assert.Equal(t, fmt.Sprintf("rate_%d", reqID), last.Markup.Inline[0][0].Data)
}

func TestClaimedListingShowsRating(t *testing.T) {
	svc, _, n, reqID := ratedSetup(t)

	press(t, svc, 1, fmt.Sprintf("rate_%d", reqID))
	press(t, svc, 1, "stars_5")
	say(t, svc, 1, "great help")

	say(t, svc, 2, btnMyClaimed)
	last := n.last()
	assert.Contains(t, last.Text, fmt.Sprintf("Request #%d", reqID))
	assert.Contains(t, last.Text, "5/5")
	assert.Contains(t, last.Text, "great help")
}

func TestProfileCard(t *testing.T) {
	svc, _, n, reqID := ratedSetup(t)

	say(t, svc, 2, btnMyProfile)
	assert.Contains(t, n.last().Text, "Leaders helped: 1")
	assert.Contains(t, n.last().Text, "no ratings yet")

	press(t, svc, 1, fmt.Sprintf("rate_%d", reqID))
	press(t, svc, 1, "stars_4")
	say(t, svc, 1, "/skip")

	say(t, svc, 2, btnMyProfile)
	assert.Contains(t, n.last().Text, "4.0/5")
}

func TestParseCallback(t *testing.T) {
	action, id, err := parseCallback("accept_42")
	require.NoError(t, err)
	assert.Equal(t, "accept", action)
	assert.Equal(t, int64(42), id)

	action, id, err = parseCallback("stars_5")
	require.NoError(t, err)
	assert.Equal(t, "stars", action)
	assert.Equal(t, int64(5), id)

	for _, data := range []string{"", "accept", "accept_", "_42", "accept_x"} {
		_, _, err := parseCallback(data)
		assert.Error(t, err, "data %q", data)
	}
}

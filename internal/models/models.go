package models

import "fmt"

type Role string

const (
	RoleLeader Role = "leader"
	RoleDuty   Role = "duty"
)

// Tier is a leader's participation tier in the community programme.
type Tier string

const (
	TierSemifinalist Tier = "semifinalist"
	TierFinalist     Tier = "finalist"
	TierWinner       Tier = "winner"
)

// ParseTier maps a tier button label to its Tier value.
func ParseTier(label string) (Tier, error) {
	switch label {
	case "Semifinalist":
		return TierSemifinalist, nil
	case "Finalist":
		return TierFinalist, nil
	case "Winner":
		return TierWinner, nil
	}
	return "", fmt.Errorf("unknown tier %q", label)
}

func (t Tier) Label() string {
	switch t {
	case TierSemifinalist:
		return "Semifinalist"
	case TierFinalist:
		return "Finalist"
	case TierWinner:
		return "Winner"
	}
	return string(t)
}

type RequestStatus string

const (
	StatusPending           RequestStatus = "pending"
	StatusAccepted          RequestStatus = "accepted"
	StatusRejected          RequestStatus = "rejected"
	StatusPartiallyAccepted RequestStatus = "partially_accepted"
)

// ClaimMode is a volunteer's answer to a pending request.
type ClaimMode string

const (
	ClaimAccept  ClaimMode = "accept"
	ClaimReject  ClaimMode = "reject"
	ClaimPartial ClaimMode = "partial"
)

// Status returns the request status a successful claim of this mode sets.
func (m ClaimMode) Status() RequestStatus {
	switch m {
	case ClaimAccept:
		return StatusAccepted
	case ClaimReject:
		return StatusRejected
	case ClaimPartial:
		return StatusPartiallyAccepted
	}
	return ""
}

// User is a registered participant, either a leader (requester) or a duty
// volunteer. Season and Tier are set for leaders only; HelpedCount and
// Rating belong to duty volunteers.
type User struct {
	ID          int64
	FullName    string
	Phone       string
	Handle      string // platform username, stored without the leading @
	Role        Role
	Season      int
	Tier        Tier
	HelpedCount int
	Rating      *float64
}

// Request is a leader's help request. DutyID is zero until a volunteer
// resolves it; Rating is nil until the leader rates the help.
type Request struct {
	ID          int64
	LeaderID    int64
	DutyID      int64
	StartDate   string // DD.MM.YYYY
	EndDate     string // DD.MM.YYYY
	RequestText string
	Status      RequestStatus
	Feedback    string
	Rating      *int
}

// Resolved reports whether a volunteer has taken the request on.
func (r *Request) Resolved() bool {
	return r.Status == StatusAccepted || r.Status == StatusPartiallyAccepted
}

// Rateable reports whether the leader may still rate the request.
func (r *Request) Rateable() bool {
	return r.Resolved() && r.Rating == nil
}

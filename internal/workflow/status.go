package workflow

import "strings"

// Status is the canonical request status vocabulary.
type Status string

const (
	StatusSubmitted   Status = "submitted"
	StatusBrandReview Status = "brand_review"
	StatusLegalReview Status = "legal_review"
	StatusOnHold      Status = "on_hold"
	StatusCancelled   Status = "cancelled"
	StatusApproved    Status = "approved"
)

// Statuses lists every status in pipeline order.
var Statuses = []Status{
	StatusSubmitted,
	StatusBrandReview,
	StatusLegalReview,
	StatusOnHold,
	StatusCancelled,
	StatusApproved,
}

// ParseStatus accepts only the canonical spellings.
func ParseStatus(s string) (Status, bool) {
	for _, st := range Statuses {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

// Terminal statuses have no outbound transitions.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusCancelled
}

// Active statuses can be claimed by a reviewer.
func (s Status) Active() bool {
	return s == StatusSubmitted || s == StatusBrandReview || s == StatusLegalReview
}

func activeStatuses() []string {
	out := make([]string, 0, 3)
	for _, st := range Statuses {
		if st.Active() {
			out = append(out, string(st))
		}
	}
	return out
}

type Role string

const (
	RoleSubmitter Role = "submitter"
	RoleReviewer  Role = "reviewer"
	RoleAdmin     Role = "admin"
)

func ParseRole(s string) (Role, bool) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleSubmitter, RoleReviewer, RoleAdmin:
		return r, true
	default:
		return "", false
	}
}

// Actor is the user invoking an operation.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

func (a Actor) valid() bool {
	switch a.Role {
	case RoleSubmitter, RoleReviewer, RoleAdmin:
		return a.ID != ""
	}
	return false
}

package models

import "time"

// Step is a position in the booking conversation.
type Step string

// StepIdle is never stored; a missing session means idle.
const StepIdle Step = ""

const (
	StepCollectingName    Step = "collecting_name"
	StepCollectingGender  Step = "collecting_gender"
	StepCollectingYear    Step = "collecting_year"
	StepCollectingPhone   Step = "collecting_phone"
	StepCollectingEmail   Step = "collecting_email"
	StepCollectingAddress Step = "collecting_address"
	StepCollectingDate    Step = "collecting_date"
	StepCollectingTime    Step = "collecting_time"

	StepEditingName    Step = "editing_name"
	StepEditingGender  Step = "editing_gender"
	StepEditingYear    Step = "editing_year"
	StepEditingPhone   Step = "editing_phone"
	StepEditingEmail   Step = "editing_email"
	StepEditingAddress Step = "editing_address"
	StepEditingDate    Step = "editing_date"
	StepEditingTime    Step = "editing_time"
)

// IsEditing reports whether the step belongs to the edit-in-place flow.
func (s Step) IsEditing() bool {
	switch s {
	case StepEditingName, StepEditingGender, StepEditingYear, StepEditingPhone,
		StepEditingEmail, StepEditingAddress, StepEditingDate, StepEditingTime:
		return true
	default:
		return false
	}
}

// ContactFields are the identity and contact values collected from the user.
type ContactFields struct {
	FullName  string `json:"full_name"`
	Gender    string `json:"gender"`
	BirthYear int    `json:"birth_year"`
	Phone     string `json:"phone"`
	Email     string `json:"email,omitempty"`
	Address   string `json:"address"`
}

// Session is the per-user conversation state.
type Session struct {
	UserID int64         `json:"user_id"`
	Step   Step          `json:"step"`
	Fields ContactFields `json:"fields"`
	// Date is the chosen calendar day (midnight, business location).
	Date time.Time `json:"date,omitempty"`
	// Time is the chosen slot start.
	Time time.Time `json:"time,omitempty"`

	EditingEventID string `json:"editing_event_id,omitempty"`
	EditingCode    string `json:"editing_code,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Expired reports whether the session has been idle for longer than ttl.
func (s *Session) Expired(now time.Time, ttl time.Duration) bool {
	if s == nil || ttl <= 0 || s.UpdatedAt.IsZero() {
		return false
	}
	return now.Sub(s.UpdatedAt) > ttl
}

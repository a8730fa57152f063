// internal/errors/errors.go
package appErrors

import "fmt"

// ErrCampaignNotFound is a sentinel error
type ErrCampaignNotFound struct {
	CampaignID int
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %d not found", e.CampaignID)
}

// Helper constructor
func NewCampaignNotFound(id int) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

// ErrLeadNotFound is returned when a lead snapshot is missing.
type ErrLeadNotFound struct {
	LeadID int
}

func (e *ErrLeadNotFound) Error() string {
	return fmt.Sprintf("lead with ID %d not found", e.LeadID)
}

func NewLeadNotFound(id int) error {
	return &ErrLeadNotFound{LeadID: id}
}

// ErrDispatchNotFound is returned when a delivery callback references a
// dispatch record we never created, by our id or by the provider's.
type ErrDispatchNotFound struct {
	RecordID          int
	ProviderMessageID string
}

func (e *ErrDispatchNotFound) Error() string {
	if e.ProviderMessageID != "" {
		return fmt.Sprintf("no dispatch record for provider message %q", e.ProviderMessageID)
	}
	return fmt.Sprintf("dispatch record %d not found", e.RecordID)
}

func NewDispatchNotFound(id int) error {
	return &ErrDispatchNotFound{RecordID: id}
}

func NewDispatchNotFoundByProviderMessage(pmid string) error {
	return &ErrDispatchNotFound{ProviderMessageID: pmid}
}

// ErrInvalidCampaignState signals an operation not allowed in the
// campaign's current lifecycle status.
type ErrInvalidCampaignState struct {
	CampaignID int
	Status     string
	Op         string
}

func (e *ErrInvalidCampaignState) Error() string {
	return fmt.Sprintf("campaign %d cannot %s in status %q", e.CampaignID, e.Op, e.Status)
}

func NewInvalidCampaignState(id int, status, op string) error {
	return &ErrInvalidCampaignState{CampaignID: id, Status: status, Op: op}
}

// ErrInsufficientCredit is returned by bulk sends when the all-or-nothing
// reservation fails.
type ErrInsufficientCredit struct {
	UserID  int
	Channel string
	Needed  int
}

func (e *ErrInsufficientCredit) Error() string {
	return fmt.Sprintf("user %d has insufficient %s credits for %d messages", e.UserID, e.Channel, e.Needed)
}

func NewInsufficientCredit(userID int, channel string, needed int) error {
	return &ErrInsufficientCredit{UserID: userID, Channel: channel, Needed: needed}
}

package domain

import (
	"strings"
	"time"
)

type RefundReason string

const (
	ReasonWrongItem    RefundReason = "wrong_item"
	ReasonMissingItem  RefundReason = "missing_item"
	ReasonDamaged      RefundReason = "damaged"
	ReasonPoorQuality  RefundReason = "poor_quality"
	ReasonLateDelivery RefundReason = "late_delivery"
	ReasonOther        RefundReason = "other"
)

func (r RefundReason) Valid() bool {
	switch r {
	case ReasonWrongItem, ReasonMissingItem, ReasonDamaged, ReasonPoorQuality, ReasonLateDelivery, ReasonOther:
		return true
	}
	return false
}

type RefundStatus string

const (
	RefundPending  RefundStatus = "pending"
	RefundApproved RefundStatus = "approved"
	RefundRejected RefundStatus = "rejected"
)

type RefundDecision string

const (
	DecisionApprove RefundDecision = "approve"
	DecisionReject  RefundDecision = "reject"
)

func (d RefundDecision) Status() (RefundStatus, bool) {
	switch d {
	case DecisionApprove:
		return RefundApproved, true
	case DecisionReject:
		return RefundRejected, true
	}
	return "", false
}

type RefundRequest struct {
	ID            string       `json:"id"`
	OrderID       string       `json:"orderId"`
	CustomerID    string       `json:"customerId"`
	Reason        RefundReason `json:"reason"`
	Note          string       `json:"note,omitempty"`
	EvidenceImage string       `json:"evidenceImage"`
	EvidenceVideo string       `json:"evidenceVideo"`
	Status        RefundStatus `json:"status"`
	ResolvedBy    string       `json:"resolvedBy,omitempty"`
	ResolvedAt    time.Time    `json:"resolvedAt,omitempty"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}

type RefundSubmission struct {
	Reason        RefundReason `json:"reason"`
	Note          string       `json:"note"`
	EvidenceImage string       `json:"evidenceImage"`
	EvidenceVideo string       `json:"evidenceVideo"`
}

// Validate checks the submission on its own. Nothing is created unless every
// field required by the reason is present.
func (s RefundSubmission) Validate() error {
	if !s.Reason.Valid() {
		return ErrIncompleteRefundSubmission
	}
	if s.Reason == ReasonOther && strings.TrimSpace(s.Note) == "" {
		return ErrIncompleteRefundSubmission
	}
	if strings.TrimSpace(s.EvidenceImage) == "" || strings.TrimSpace(s.EvidenceVideo) == "" {
		return ErrIncompleteRefundSubmission
	}
	return nil
}

// CanRequestRefund enforces the order-level preconditions: terminal status and
// no pending request.
func (o *Order) CanRequestRefund() error {
	if !o.Status.Terminal() {
		return ErrRefundNotAllowed
	}
	if o.PendingRefund() != nil {
		return ErrRefundPending
	}
	return nil
}

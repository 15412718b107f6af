package domain

import "strings"

// VerificationState is the three-valued verification flag reported by the backend.
type VerificationState string

const (
	StateVerified VerificationState = "VERIFIED"
	StatePending  VerificationState = "PENDING"
	StateRejected VerificationState = "REJECTED"
)

// ParseVerificationState normalizes a backend value. Anything unknown is "".
func ParseVerificationState(s string) VerificationState {
	switch VerificationState(strings.ToUpper(strings.TrimSpace(s))) {
	case StateVerified:
		return StateVerified
	case StatePending:
		return StatePending
	case StateRejected:
		return StateRejected
	default:
		return ""
	}
}

// VerificationFlags are the raw backend inputs of capability derivation.
type VerificationFlags struct {
	IsVerified                  bool
	IsOrganizationEmailVerified bool
	VerificationStatus          VerificationState
	BackendVerificationStatus   VerificationState
	PassportVerificationStatus  VerificationState
	AddressVerificationStatus   VerificationState
}

// Step is the next verification step the user has to complete.
type Step string

const (
	StepNone         Step = ""
	StepOrganization Step = "organization"
	StepIdentity     Step = "identity"
	StepComplete     Step = "complete"
)

// PendingAction tags an outstanding verification task.
type PendingAction string

const (
	ActionVerifyOrganizationEmail PendingAction = "verify_organization_email"
	ActionVerifyIdentity          PendingAction = "verify_identity"
	ActionVerifyPassport          PendingAction = "verify_passport"
	ActionVerifyAddress           PendingAction = "verify_address"
)

// VerificationStatus is the derived capability set of a user.
// It is recomputed from VerificationFlags and never persisted.
type VerificationStatus struct {
	IsFullyVerified             bool            `json:"isFullyVerified"`
	IsIdentityVerified          bool            `json:"isIdentityVerified"`
	IsOrganizationEmailVerified bool            `json:"isOrganizationEmailVerified"`
	CanBuy                      bool            `json:"canBuy"`
	CanSell                     bool            `json:"canSell"`
	CanList                     bool            `json:"canList"`
	CanContact                  bool            `json:"canContact"`
	CurrentStep                 Step            `json:"currentStep"`
	PendingActions              []PendingAction `json:"pendingActions"`
}

// FullyVerifiedStatus returns a status with every capability granted.
func FullyVerifiedStatus() VerificationStatus {
	return VerificationStatus{
		IsFullyVerified:             true,
		IsIdentityVerified:          true,
		IsOrganizationEmailVerified: true,
		CanBuy:                      true,
		CanSell:                     true,
		CanList:                     true,
		CanContact:                  true,
		CurrentStep:                 StepComplete,
		PendingActions:              []PendingAction{},
	}
}

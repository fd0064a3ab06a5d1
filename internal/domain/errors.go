package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is fatal to the voice feature and is never retried.
	ErrConfiguration = errors.New("configuration error")
	// ErrMissingCredential means no provisioning API key was configured.
	ErrMissingCredential = fmt.Errorf("%w: missing provisioning credential", ErrConfiguration)

	ErrProvisioning = errors.New("provisioning failure")

	// ErrNotFound is benign: ending or querying an absent session.
	ErrNotFound = errors.New("session not found")

	// ErrSessionCancelled is returned when the session was ended while its
	// room was still being provisioned.
	ErrSessionCancelled = errors.New("session ended during provisioning")
)

// ProvisioningError carries the upstream HTTP status when there is one.
type ProvisioningError struct {
	Status int
	Err    error
}

func (e *ProvisioningError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("provisioning failure: status %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("provisioning failure: %v", e.Err)
}

func (e *ProvisioningError) Unwrap() []error { return []error{ErrProvisioning, e.Err} }

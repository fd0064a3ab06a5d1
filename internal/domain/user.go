// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"

	"github.com/google/uuid"
)

const (
	MaxOwnerIDLen = 64
)

var (
	ErrOwnerIDTooLong = errors.New("owner id too long")
	ErrOwnerIDEmpty   = errors.New("owner id empty")
)

// OwnerID identifies the user a voice session is provisioned for.
type OwnerID string

// ExternalSessionID is the id the voice agent echoes back in webhook metadata.
type ExternalSessionID string

// ParseOwnerID validates a raw owner id taken from a cookie or header.
func ParseOwnerID(raw string) (OwnerID, error) {
	if len(raw) == 0 {
		return "", ErrOwnerIDEmpty
	}
	if len(raw) > MaxOwnerIDLen {
		return "", ErrOwnerIDTooLong
	}
	return OwnerID(raw), nil
}

// NewExternalSessionID is a tiny helper to avoid ad-hoc uuid calls in adapters.
func NewExternalSessionID() ExternalSessionID {
	return ExternalSessionID(uuid.NewString())
}

package tokenly

import (
	"errors"

	"github.com/keksclan/goTokenly/internal/extract"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrInvalidConfig   = errors.New("invalid configuration")
	ErrPolicyFailed    = errors.New("token policy failed")
	ErrClaimMissing    = errors.New("required claim missing")
	ErrClaimForbidden  = errors.New("claim is forbidden")

	// ErrMatchTimeout is returned when scanning one response exceeds Extraction.MatchTimeout.
	ErrMatchTimeout = extract.ErrMatchTimeout
)

package pool

import "errors"

var (
	// ErrAlreadyInitialized is returned by a second call to Init.
	ErrAlreadyInitialized = errors.New("pool: already initialized")

	// ErrCalledBeforeInit is returned by Enter and Rebalance on a pool
	// that has not been seeded yet.
	ErrCalledBeforeInit = errors.New("pool: called before init")

	ErrZeroAmount = errors.New("pool: amount must be positive")

	// ErrDustAmount is returned when an amount is too small to be worth a
	// single claim token after fees and truncation.
	ErrDustAmount = errors.New("pool: amount too small to mint claims")

	ErrAmountTooLarge = errors.New("pool: amount exceeds maximum")
	ErrInvalidSide    = errors.New("pool: invalid side")
	ErrInvalidPrice   = errors.New("pool: price must be positive")
	ErrInvalidFee     = errors.New("pool: fee exceeds denominator")

	// ErrUnauthorized is returned when a caller without the rebalancer
	// role triggers a rebalance.
	ErrUnauthorized = errors.New("pool: caller not authorized")
)

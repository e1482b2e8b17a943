package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Caches, stores, and the gateway
// client return these (optionally wrapped) so flows can translate them into
// domain errors:
//   - ErrNotFound: the record does not exist (cache miss, unknown account)
//   - ErrExpired: a cached entry or token outlived its TTL
//   - ErrInvalidState: the resource is in the wrong state for the operation
//   - ErrUnavailable: the collaborator or store cannot be reached
var (
	ErrNotFound     = errors.New("not found")
	ErrExpired      = errors.New("expired")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)

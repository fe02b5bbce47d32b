package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores, queues and caches return
// these (optionally wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: entry does not exist (or has expired) in a store
// - ErrExpired: cached entry outlived its TTL
// - ErrBufferFull: a bounded buffer rejected a new item
// - ErrUnknownHandle: acknowledge/release for a handle that is not in flight
// - ErrClosed: the resource was closed and accepts no more work
// - ErrUnavailable: service or resource temporarily unavailable
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound      = errors.New("not found")
	ErrExpired       = errors.New("expired")
	ErrBufferFull    = errors.New("buffer full")
	ErrUnknownHandle = errors.New("unknown delivery handle")
	ErrClosed        = errors.New("closed")
	ErrUnavailable   = errors.New("unavailable")
)

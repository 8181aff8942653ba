package chainsync

import "errors"

var (
	ErrNotFound      = errors.New("chainsync: record not found")
	ErrIntegrity     = errors.New("chainsync: stored payload does not match content hash")
	ErrSyncExhausted = errors.New("chainsync: retry budget exhausted")
)

package sirixdb

import (
	"errors"

	"sirixdb/internal/page"
	"sirixdb/internal/storage"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrResourceClosed  = errors.New("resource is closed")
	ErrTrxClosed       = errors.New("transaction is closed")
	ErrNegativeKey     = errors.New("record key must be non-negative")
	ErrInvalidRevision = errors.New("revision does not exist")
	ErrNotRecordKind   = errors.New("page kind is not a record subtree")

	ErrContainerInUse = errors.New("another record-page container is staged for modification")
	ErrNoContainer    = errors.New("no record-page container is staged")

	ErrUnknownPageKind = page.ErrUnknownPageKind
	ErrCorruptPage     = page.ErrCorruptPage
	ErrCorruptBeacon   = storage.ErrCorruptBeacon
	ErrCorruptFrame    = storage.ErrCorruptFrame
)

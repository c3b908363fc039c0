package models

import "errors"

var (
	// ErrNotFound: no cached record for the key, or the provider has no match for the location.
	ErrNotFound = errors.New("not found")
	// ErrMalformedPayload: provider response is missing days or resolvedAddress.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrTranslationFailed: the resolved location name could not be translated.
	ErrTranslationFailed = errors.New("translation failed")
	// ErrCorruptRecord: a stored record could not be parsed.
	ErrCorruptRecord = errors.New("corrupt record")
	// ErrSyncFailed: any remote store operation failed.
	ErrSyncFailed = errors.New("sync failed")
)

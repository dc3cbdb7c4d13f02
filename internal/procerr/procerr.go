/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package procerr defines the error taxonomy shared by the ingestion pipeline.
package procerr

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure.
type Kind string

const (
	KindUnknown                Kind = "unknown"
	KindUnsupportedFormat      Kind = "unsupported_format"
	KindCorruptArchive         Kind = "corrupt_archive"
	KindEntryRead              Kind = "entry_read"
	KindUnsupportedImageFormat Kind = "unsupported_image_format"
	KindMalformedImage         Kind = "malformed_image"
	KindThumbnailGeneration    Kind = "thumbnail_generation"
	KindNoAcceptableContent    Kind = "no_acceptable_content"
	KindProcessingTimeout      Kind = "processing_timeout"
	KindStorageUnavailable     Kind = "storage_unavailable"
	KindArchiveMissing         Kind = "archive_missing"
)

// Sentinels for errors.Is checks against a Kind.
var (
	ErrUnsupportedFormat      = &Error{Kind: KindUnsupportedFormat}
	ErrCorruptArchive         = &Error{Kind: KindCorruptArchive}
	ErrEntryRead              = &Error{Kind: KindEntryRead}
	ErrUnsupportedImageFormat = &Error{Kind: KindUnsupportedImageFormat}
	ErrMalformedImage         = &Error{Kind: KindMalformedImage}
	ErrThumbnailGeneration    = &Error{Kind: KindThumbnailGeneration}
	ErrNoAcceptableContent    = &Error{Kind: KindNoAcceptableContent}
	ErrProcessingTimeout      = &Error{Kind: KindProcessingTimeout}
	ErrStorageUnavailable     = &Error{Kind: KindStorageUnavailable}
	ErrArchiveMissing         = &Error{Kind: KindArchiveMissing}
)

// Error is a classified pipeline error. Entry is set for per-entry failures.
type Error struct {
	Kind  Kind
	Op    string
	Entry string
	Err   error
}

// New builds a classified error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// ForEntry builds a classified error attached to an archive member.
func ForEntry(kind Kind, entry string, err error) *Error {
	return &Error{Kind: kind, Op: "entry", Entry: entry, Err: err}
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Entry != "" {
		msg += fmt.Sprintf(" (%s)", e.Entry)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, so the package sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Err == nil && t.Entry == ""
}

// KindOf reports the Kind of err. Context deadlines map to KindProcessingTimeout.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindProcessingTimeout
	}
	return KindUnknown
}

// Retryable reports whether another attempt could succeed.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindUnsupportedFormat, KindCorruptArchive, KindNoAcceptableContent, KindArchiveMissing:
		return false
	default:
		return err != nil
	}
}

// Warning is a non-fatal problem recorded on a processing result.
type Warning struct {
	Kind    Kind   `json:"kind" yaml:"kind"`
	Entry   string `json:"entry,omitempty" yaml:"entry,omitempty"`
	Size    int    `json:"size,omitempty" yaml:"size,omitempty"`
	Message string `json:"message" yaml:"message"`
}

// AsWarning converts a per-entry error into a Warning.
func AsWarning(err error) Warning {
	w := Warning{Kind: KindOf(err), Message: err.Error()}
	var pe *Error
	if errors.As(err, &pe) {
		w.Entry = pe.Entry
	}
	return w
}

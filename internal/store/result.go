package store

import (
	"github.com/zjrosen/protoreg/internal/manifest"
	"github.com/zjrosen/protoreg/internal/urn"
)

// ErrorCode classifies a failed resolution.
type ErrorCode string

const (
	CodeInvalidURNFormat    ErrorCode = "InvalidURNFormat"
	CodeManifestNotFound    ErrorCode = "ManifestNotFound"
	CodeVersionIncompatible ErrorCode = "VersionIncompatible"
	CodeFragmentNotFound    ErrorCode = "FragmentNotFound"
	CodeManifestParseError  ErrorCode = "ManifestParseError"
	// CodeSourceUnavailable covers infrastructure failures: timeouts,
	// cancelled contexts and unreachable backends.
	CodeSourceUnavailable ErrorCode = "SourceUnavailable"
)

// ResolveError is the structured failure carried by a Result.
type ResolveError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *ResolveError) Error() string {
	return string(e.Code) + ": " + e.Message
}

// Result is the outcome of resolving one URN. Failures are reported here,
// never as a Go error.
type Result struct {
	Success       bool               `json:"success"`
	Manifest      *manifest.Manifest `json:"manifest,omitempty"`
	ResolvedData  any                `json:"resolvedData,omitempty"`
	Error         *ResolveError      `json:"error,omitempty"`
	Parsed        *urn.URN           `json:"parsed,omitempty"`
	Compatibility *urn.Compatibility `json:"compatibility,omitempty"`
	Cached        bool               `json:"cached"`
	Source        string             `json:"source,omitempty"`
}

// Code returns the error code, or "" on success.
func (r *Result) Code() ErrorCode {
	if r == nil || r.Error == nil {
		return ""
	}
	return r.Error.Code
}

func failure(parsed *urn.URN, code ErrorCode, msg string) *Result {
	return &Result{Parsed: parsed, Error: &ResolveError{Code: code, Message: msg}}
}

// Validation is the outcome of ValidateURN.
type Validation struct {
	Valid      bool          `json:"valid"`
	Exists     bool          `json:"exists"`
	Compatible bool          `json:"compatible"`
	Error      *ResolveError `json:"error,omitempty"`
}

// CacheStats describes the resolution cache.
type CacheStats struct {
	Size       int    `json:"size"`
	TTLSeconds int    `json:"ttlSeconds"`
	Backend    string `json:"backend"`
	Hits       int64  `json:"hits"`
	Misses     int64  `json:"misses"`
}

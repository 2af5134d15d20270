// Package repository contains the MySQL persistence layer. Sentinel errors
// let higher layers distinguish failure scenarios without inspecting driver
// errors.
package repository

import "errors"

// ErrNotFound is returned when no credential row matches. Services
// translate it into an auth or not-found error depending on context.
var ErrNotFound = errors.New("not found")

// ErrStale is returned when a subscription update is older than the last
// one applied to the row.
var ErrStale = errors.New("stale subscription update")

// Package persistence keeps expectations outside the process.
//
// FileListener and SQLListener mirror the active expectations whenever the
// store changes. Initializer loads expectation files matched by a glob at
// startup and, optionally, reloads them when they change on disk.
package persistence

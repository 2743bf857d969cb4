// Package cli implements the mockserver command line: serve runs the server,
// the remaining commands drive a running server's control plane.
package cli

// Package engine assembles a running mock server.
//
// A Server owns the expectation store, the event log, the callback registry,
// the certificate provider and the outbound client, wires them into an
// action dispatcher and a protocol unification handler, and serves every
// configured port. The control plane (PUT /mockserver/...) and the websocket
// callback endpoint are served on the same ports as mocked traffic.
package engine

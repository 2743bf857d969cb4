// Package action turns a matched expectation into a response.
//
// Dispatcher.Handle is called once per inbound request. It looks up the
// first matching expectation, applies the action's delay, runs the action
// and writes exactly one answer to the ResponseSink: a response, a
// connection fault, or a not-found. Each request produces one entry in the
// event log no matter how it ends, including when an action panics.
//
// Supported actions are static responses, templates, in-process class
// callbacks, websocket object callbacks, forwarding (plain, templated,
// overridden or via callback) and fault injection. Unmatched requests that
// arrived as proxy traffic are forwarded to their original destination
// when proxying of unmatched requests is enabled.
package action

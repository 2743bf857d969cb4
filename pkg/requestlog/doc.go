// Package requestlog records what the server observed and decided, for user
// inspection and verification.
//
// It is distinct from operational logging, which uses log/slog. Every
// dispatcher decision produces one Entry holding the request, the response
// or error, and the expectation involved. The control plane queries the log
// to retrieve requests, request/response pairs, recorded expectations and
// messages, and to verify that requests were received.
//
//	log := requestlog.NewMemory(matcher, requestlog.WithMaxEntries(1000))
//	log.Log(&requestlog.Entry{Type: requestlog.TypeReceivedRequest, Request: req})
//	if msg := log.Verify(v); msg != "" {
//	    // not verified
//	}
package requestlog

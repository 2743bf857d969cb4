// Package expectation holds the ordered set of active expectations.
//
// Expectations are evaluated in insertion order and the first match wins.
// A match and the decrement of its remaining-use counter happen under one
// lock, so a bounded expectation is never served more often than allowed.
// Expired and exhausted expectations are evicted lazily when a lookup
// scan reaches them; there is no background sweeper.
//
// Listeners registered with the Store receive a snapshot of the whole set
// after every mutation, tagged with the Cause of the change. Persistence
// is built on top of that hook.
package expectation

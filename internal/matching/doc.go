// Package matching evaluates captured requests against expectation templates.
//
// Matching is a boolean predicate, not a score: the store walks expectations
// in insertion order and the first template that matches wins. Fields are
// evaluated cheapest first and the first failing field short-circuits:
//
//   - Method and path: exact or regex (selected per field by MatchOptions)
//   - Secure and keep-alive flags
//   - Query parameters, headers and cookies: subset semantics over multimaps
//   - Body: exact, substring, binary, JSON (STRICT or ONLY_MATCHING_FIELDS),
//     JSON schema, JSON path, regex, XML, XPath and form parameters
//
// Every string field may be negated, in which case it matches exactly when
// the underlying comparison fails.
//
// A Matcher caches compiled regular expressions, JSON schemas and paths and
// is safe for concurrent use.
package matching

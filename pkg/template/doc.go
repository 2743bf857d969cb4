// Package template renders response and forward templates written in
// expr-lang (https://expr-lang.org).
//
// A template is a single expression evaluated against the inbound request.
// It must produce either a map, which is treated as the JSON form of the
// target type, or a string holding that JSON document:
//
//	{
//	  statusCode: 200,
//	  headers: {"Content-Type": ["text/plain"]},
//	  body: "you asked for " + request.path
//	}
//
// The environment exposes:
//
//   - request.method, request.path, request.secure, request.keepAlive
//   - request.headers and request.queryStringParameters (name -> []string)
//   - request.cookies (name -> string)
//   - request.body (raw body as a string) and request.json (the body
//     decoded as JSON, or nil)
//   - uuid(), now() and nowMillis()
//   - base64Encode(s) and base64Decode(s); an invalid input decodes to ""
//
// Compiled programs are cached by source, so rendering the same template
// repeatedly only parses it once.
package template

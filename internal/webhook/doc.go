// Package webhook receives signed host application events over HTTP.
//
// The host (editor, compiler, execution environment) reports what happened
// by POSTing a JSON events.HostEvent to one of the configured paths. Every
// request must carry an HMAC-SHA256 signature of the raw body, computed with
// the endpoint's shared secret.
//
// # Configuration
//
//	webhooks:
//	  listen: "127.0.0.1:8091"
//	  endpoints:
//	    - path: /host/events
//	      secret: ${SWITCHBOARD_HOST_SECRET}
//	      signature_header: X-Switchboard-Signature
//	      max_body_size: 4MB
//
// # Request Flow
//
//  1. Body size checked (413 if too large)
//  2. Signature verified in constant time (generic 403 on any failure)
//  3. Body decoded as a host event (400 if malformed or invalid)
//  4. Event dispatched on the event loop
//  5. 202 Accepted returned
//
// Error responses never include signature details.
package webhook

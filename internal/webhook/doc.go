// Package webhook receives external events from the push service over
// HMAC-SHA256 signed HTTP POSTs and hands them to the event delivery gate.
//
// A typical sender is the push backend reporting that a notification was
// opened on the device. Each endpoint has its own secret and signature
// header:
//
//	webhooks:
//	  listen: "127.0.0.1:8182"
//	  endpoints:
//	    - path: /hooks/push-opened
//	      secret: ${PUSH_WEBHOOK_SECRET}
//	      signature_header: X-Push-Signature
//	      max_body_size: 64KB
//
// Responses never describe why a signature was rejected: a missing or
// mismatched signature is always a bare 403. Bodies must be JSON objects.
package webhook

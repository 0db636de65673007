// Package session holds the per-plugin state shared between the command
// dispatcher and the host lifecycle: the foreground flag, the registered
// event callback, and a single-slot buffer for an external event awaiting
// delivery.
//
// Delivery rule: the pending payload is handed to the Deliverer and cleared
// only while the session is in the foreground and a callback is registered.
// Otherwise it stays buffered until the next qualifying transition (Resume
// or RegisterCallback). A newer payload overwrites an undelivered one.
//
// Lifecycle:
//   - New      → foreground=false, callback=""
//   - Attach   → foreground=true,  callback=""
//   - Resume   → foreground=true, then TryFlush
//   - Pause    → foreground=false
//   - Teardown → foreground=false, callback="" (pending kept unless
//     WithClearOnTeardown is set)
//
// All fields are guarded by one mutex. The Deliverer is always called
// outside the lock.
package session

// Package bridge routes named commands from a scripting layer to the push
// provider and reports each outcome through a one-shot responder.
//
// Every recognized action runs on the worker pool, so Execute never blocks
// on provider I/O. For a recognized action exactly one response is sent:
// success (optionally with a string value) or an error carrying a
// protocol.ErrorCode. Unrecognized actions make Execute return false and no
// response is sent; the transport decides what that means.
//
// Actions:
//   - initialize(appId, clientKey): at most one successful provider
//     initialization per process, through the InitLatch shared by every
//     Dispatcher on that provider; later calls succeed without side effects
//   - registerCallback(id): stores the event callback, then flushes the gate
//   - getInstallationId, getInstallationObjectId
//   - getSubscriptions: channel set rendered as "[a, b]"
//   - subscribe(channel), unsubscribe(channel)
//   - trackEvent(name, {dimension: value}): dimensions must be strings
//
// Error handling:
//   - Missing or mistyped arguments → malformed-arguments
//   - Provider failure → external-service-error with the provider message
//   - Panic while handling → unmapped-exception
//
// No retries happen at this layer.
package bridge

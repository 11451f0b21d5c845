// Package errors provides standardized error handling for semlive components.
//
// # Overview
//
// Errors fall into three classes: Transient (temporary, retryable), Invalid (bad
// input or an address that can never resolve) and Fatal (unrecoverable). The live
// core adds a small set of kinds on top of that classification so callers can tell
// why a channel failed without string matching:
//
//	ErrInvalidScope           address scope is not one of the registered scopes
//	ErrUnsupportedNamespace   the scope has no Support for the namespace
//	ErrUnknownPath            the Support has no ChannelConfig for the path
//	ErrSubscribeFailed        the transport rejected the subscription
//	ErrCapabilityUnsupported  e.g. presence requested on a channel without presence
//	ErrStreamError            the transport failed mid-stream
//
// Initialization kinds are surfaced as a status event on the channel's own stream,
// never returned from Registry.GetChannel.
//
// # Error Wrapping Pattern
//
// All wrapping follows the format
//
//	"component.method: action failed: %w"
//
// and the Wrap family keeps errors.Is and errors.As working through the chain:
//
//	errors.WrapInvalid(errors.ErrUnknownPath, "Registry", "initialize", "resolve config")
//	errors.WrapTransient(err, "Supervisor", "Subscribe", "transport subscribe")
//
// Use Kind to get a short, metric-friendly label for any error in the chain.
package errors

// Package errors provides standardized error handling for the service.
//
// # Overview
//
// Errors fall into three classes: Transient (temporary and retryable,
// like broker outages and timeouts), Invalid (bad input, not worth
// retrying: malformed messages, bad configuration) and Fatal
// (unrecoverable, such as exhausted startup retries). Classification lets
// callers decide between retry, drop-and-continue, and process exit
// without matching on error strings.
//
// # Usage
//
// Return standard variables for known conditions:
//
//	if !c.IsConnected() {
//	    return errors.ErrNotConnected
//	}
//
// Wrap third-party or lower-layer errors with component context; all
// wrapping follows "component.method: action failed: %w":
//
//	if err := conn.Publish(dest, body); err != nil {
//	    return errors.WrapTransient(err, "Service", "publishEntity", "broker send")
//	}
//
// Branch on classification:
//
//	if errors.IsFatal(err) {
//	    return err // surfaces as a non-zero exit
//	}
//	log.Warn("continuing after transient error", "error", err)
//
// Classification survives wrapping chains via errors.Is/As, and context
// cancellation errors classify as Transient.
package errors

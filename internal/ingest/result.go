package ingest

// RejectReason classifies why a telemetry message was not accepted.
type RejectReason string

// Rejection reasons.
const (
	// ReasonMalformed marks input that could not be parsed. Client or
	// device bug; retrying the same bytes cannot help.
	ReasonMalformed RejectReason = "malformed_input"

	// ReasonUnknownDevice marks a device ID with no registry record.
	ReasonUnknownDevice RejectReason = "unknown_device"

	// ReasonNotPaired marks a known device that is not in the paired
	// state. The device should be instructed to (re-)pair.
	ReasonNotPaired RejectReason = "not_paired"

	// ReasonRegistryUnavailable marks a transient backing-store
	// failure. The upstream transport should redeliver the message.
	ReasonRegistryUnavailable RejectReason = "registry_unavailable"
)

// Result is the outcome of handling one telemetry message.
type Result struct {
	Accepted bool

	// Reason is set only when Accepted is false.
	Reason RejectReason
}

// Retryable reports whether redelivering the same message could
// succeed. Only transient store failures qualify.
func (r Result) Retryable() bool {
	return !r.Accepted && r.Reason == ReasonRegistryUnavailable
}

func accepted() Result {
	return Result{Accepted: true}
}

func rejected(reason RejectReason) Result {
	return Result{Accepted: false, Reason: reason}
}

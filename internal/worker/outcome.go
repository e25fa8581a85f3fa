package worker

// Kind classifies the result of one execution attempt.
type Kind int

const (
	// KindOK settles the delivery for good.
	KindOK Kind = iota
	// KindRetryable redelivers the job if attempts remain.
	KindRetryable
	// KindFatal settles the delivery without retrying and logs the error.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindRetryable:
		return "retryable"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Outcome is the explicit result of Executor.Execute.
type Outcome struct {
	Kind Kind
	// Reason labels OK outcomes: committed, already_processed, deleted or lost_race.
	Reason string
	Err    error
}

// OK returns a successful outcome.
func OK(reason string) Outcome { return Outcome{Kind: KindOK, Reason: reason} }

// Retryable returns an outcome that asks for redelivery.
func Retryable(err error) Outcome { return Outcome{Kind: KindRetryable, Err: err} }

// Fatal returns an outcome that drops the delivery.
func Fatal(err error) Outcome { return Outcome{Kind: KindFatal, Err: err} }

// label is the metrics label for the outcome.
func (o Outcome) label() string {
	if o.Kind == KindOK && o.Reason != "" {
		return o.Reason
	}
	return o.Kind.String()
}

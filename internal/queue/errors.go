package queue

import "errors"

// ErrReleaseExists indicates an enqueue attempt for a package/version pair
// that is already live in the queue.
var ErrReleaseExists = errors.New("release already queued")

// ErrDuplicateDelivery indicates a trigger delivery that was already
// consumed, typically a webhook redelivery.
var ErrDuplicateDelivery = errors.New("trigger delivery already processed")

// ErrorClassifier lets a stage error declare what kind of failure it
// is, which decides whether the release retries or waits for a human.
type ErrorClassifier interface {
	ErrorKind() string
}

// reviewKinds are the classifications where retrying cannot help: the
// manifest entry, configuration, or referenced object is itself wrong.
var reviewKinds = map[string]struct{}{
	"validation":    {},
	"configuration": {},
	"not_found":     {},
}

// FailureStatus maps a stage error to the status the workflow manager
// persists: StatusReview when an operator has to intervene, otherwise
// StatusFailed, which the retry surface can requeue.
func FailureStatus(err error) Status {
	var classifier ErrorClassifier
	if errors.As(err, &classifier) {
		if _, review := reviewKinds[classifier.ErrorKind()]; review {
			return StatusReview
		}
	}
	return StatusFailed
}

package model

// ValidationError signals a structurally wrong request payload or an
// out-of-range query parameter. Mapped to http 400.
type ValidationError struct {
	// Message is the short machine-readable error, e.g. "Missing required fields".
	Message string
	// Detail optionally explains the valid values.
	Detail string
	// Required optionally lists the missing fields.
	Required []string
}

func (e ValidationError) Error() string {
	if e.Detail != "" {
		return e.Message + ": " + e.Detail
	}

	return e.Message
}

// AuthenticationError signals a failed webhook signature or token check.
// Mapped to http 401.
type AuthenticationError struct {
	Message string
	Detail  string
}

func (e AuthenticationError) Error() string {
	return e.Message
}

type NotFoundError struct{}

func (e NotFoundError) Error() string {
	return "not found"
}

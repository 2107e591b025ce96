package dto

type ErrorResponse struct {
	Error string `json:"error"`
	// Kind is a stable machine-readable error label.
	Kind string `json:"kind,omitempty"`
	// RetryAfterSeconds is set for rate-limited requests.
	RetryAfterSeconds int `json:"retry_after_seconds,omitempty"`
}

package application

// Response is the envelope callers use to report an outcome upward.
type Response[T any] struct {
	StatusCode *int   `json:"status_code,omitempty"`
	Message    string `json:"message"`
	Data       T      `json:"data"`
}

func NewResponse[T any](msg string, data T) Response[T] {
	return Response[T]{Message: msg, Data: data}
}

// WithStatus returns a copy of r carrying code.
func (r Response[T]) WithStatus(code int) Response[T] {
	r.StatusCode = &code
	return r
}

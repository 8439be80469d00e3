package types

// CustomError is an HTTP-level error carrying the status code and the error
// type tag rendered in the JSON envelope. The fiber error handler unwraps it
// directly.
type CustomError struct {
	Code    int
	Message string
	Type    string
}

func (e *CustomError) Error() string {
	return e.Message
}

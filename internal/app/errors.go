package app

import "fmt"

// DomainError is an error that already carries its HTTP representation.
// Sentinel errors from the gallery and identity packages are translated in
// mapError instead; this type exists for failures minted inside the app
// layer itself.
type DomainError struct {
	Status  int
	Code    string
	Message string
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string) *DomainError {
	return &DomainError{Status: status, Code: code, Message: message}
}

package usecase

import "fmt"

// ErrPersistence indicates an infrastructure/repository failure inside a use case.
// It is transient from the caller's point of view and safe to retry.
var ErrPersistence = fmt.Errorf("flow use case persistence error")

package core

import "github.com/google/uuid"

// newID mints a random execution id for log correlation.
func newID() string {
	return uuid.NewString()
}

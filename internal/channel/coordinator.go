package channel

import "sync/atomic"

// Coordinator holds the process-scoped registration flags shared by every
// engine in the process.
type Coordinator struct {
	registrationStarted atomic.Bool
	pushRegistering     atomic.Bool
}

// NewCoordinator creates a coordinator with both flags cleared.
func NewCoordinator() *Coordinator {
	return &Coordinator{}
}

// TryStartRegistration marks registration as started. It returns false if it
// was already started.
func (c *Coordinator) TryStartRegistration() bool {
	return c.registrationStarted.CompareAndSwap(false, true)
}

// RegistrationStarted reports whether registration has been started.
func (c *Coordinator) RegistrationStarted() bool {
	return c.registrationStarted.Load()
}

// SetPushRegistering sets whether a push token registration is in progress.
func (c *Coordinator) SetPushRegistering(v bool) {
	c.pushRegistering.Store(v)
}

// PushRegistering reports whether a push token registration is in progress.
func (c *Coordinator) PushRegistering() bool {
	return c.pushRegistering.Load()
}

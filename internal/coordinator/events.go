package coordinator

// Event is what drives one pump: a ready socket or the fired timer.
type Event interface {
	isEvent()
}

// SocketReady reports readiness of one watched descriptor.
type SocketReady struct {
	FD       int
	Readable bool
	Writable bool
}

// TimerFired reports expiry of the engine's timeout.
type TimerFired struct{}

func (SocketReady) isEvent() {}
func (TimerFired) isEvent()  {}

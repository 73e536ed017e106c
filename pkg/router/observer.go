package router

// Observer receives counters from the detector and sessions. The agent wires
// a Prometheus implementation; library users can leave it nil.
type Observer interface {
	AttemptFinished(kind Kind, ok bool)
	LabelsUploaded(kind Kind, succeeded, failed int)
	CrosspointSwitched(kind Kind, ok bool)
	SessionAlive(kind Kind, alive bool)
}

type nopObserver struct{}

func (nopObserver) AttemptFinished(Kind, bool) {}
func (nopObserver) LabelsUploaded(Kind, int, int) {}
func (nopObserver) CrosspointSwitched(Kind, bool) {}
func (nopObserver) SessionAlive(Kind, bool) {}

func observerOrNop(o Observer) Observer {
	if o == nil {
		return nopObserver{}
	}
	return o
}

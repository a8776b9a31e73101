package peer

// Outcome is the result of feeding the readiness coordinator an event.
type Outcome int

const (
	// Pending means the distribution is still waiting on acknowledgments,
	// or that the event did not concern it.
	Pending Outcome = iota
	// Quorum means every live target has acknowledged. The distribution is
	// finished and the caller should fan out play.
	Quorum
	// Abandoned means no target is left in the pool.
	Abandoned
)

func (o Outcome) String() string {
	switch o {
	case Quorum:
		return "quorum"
	case Abandoned:
		return "abandoned"
	}
	return "pending"
}

type membership interface {
	Has(member string) bool
}

// Readiness tracks which peers hold the in-flight distribution.
//
// Quorum is evaluated against the members that were sent the payload and
// are still in the pool. Peers joining mid-distribution never received it
// and do not count; peers dropping out lower the bar.
type Readiness struct {
	pool membership

	distribution string
	targets      map[string]struct{}
	acked        map[string]struct{}
}

func NewReadiness(pool membership) *Readiness {
	return &Readiness{pool: pool}
}

// Begin starts tracking distribution, clearing any earlier one.
func (r *Readiness) Begin(distribution string, targets []string) Outcome {
	r.distribution = distribution
	r.targets = make(map[string]struct{}, len(targets))
	r.acked = make(map[string]struct{}, len(targets))
	for _, t := range targets {
		r.targets[t] = struct{}{}
	}
	return r.evaluate()
}

// Active returns the tracked distribution id, or "" when idle.
func (r *Readiness) Active() string {
	return r.distribution
}

// Acked returns how many live targets have acknowledged.
func (r *Readiness) Acked() int {
	n := 0
	for m := range r.acked {
		if r.pool.Has(m) {
			n++
		}
	}
	return n
}

// Ack records member's acknowledgment. An empty distribution id is taken to
// mean the current one. Duplicates and acknowledgments from members that
// were not sent the payload leave the state unchanged.
func (r *Readiness) Ack(member, distribution string) Outcome {
	if r.targets == nil {
		return Pending
	}
	if distribution != "" && distribution != r.distribution {
		return Pending
	}
	if _, ok := r.targets[member]; !ok || !r.pool.Has(member) {
		return Pending
	}
	if _, ok := r.acked[member]; ok {
		return Pending
	}
	r.acked[member] = struct{}{}
	return r.evaluate()
}

// Forget drops member from the in-flight distribution. It must be called
// after the member has left the pool.
func (r *Readiness) Forget(member string) Outcome {
	if r.targets == nil {
		return Pending
	}
	if _, ok := r.targets[member]; !ok {
		return Pending
	}
	delete(r.targets, member)
	delete(r.acked, member)
	return r.evaluate()
}

// Abandon discards the in-flight distribution.
func (r *Readiness) Abandon() {
	r.distribution = ""
	r.targets = nil
	r.acked = nil
}

func (r *Readiness) evaluate() Outcome {
	live, ready := 0, 0
	for t := range r.targets {
		if !r.pool.Has(t) {
			continue
		}
		live++
		if _, ok := r.acked[t]; ok {
			ready++
		}
	}
	switch {
	case live == 0:
		r.Abandon()
		return Abandoned
	case ready == live:
		r.Abandon()
		return Quorum
	}
	return Pending
}

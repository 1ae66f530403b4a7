package actor

type Phase int

const (
	Perceiving Phase = iota
	Communicating
	Acting
)

func (p Phase) String() string {
	switch p {
	case Perceiving:
		return "PERCEIVING"
	case Communicating:
		return "COMMUNICATING"
	case Acting:
		return "ACTING"
	default:
		return "UNKNOWN"
	}
}

// Next is the phase after p in the perceive, communicate, act cycle.
func (p Phase) Next() Phase {
	switch p {
	case Perceiving:
		return Communicating
	case Communicating:
		return Acting
	default:
		return Perceiving
	}
}

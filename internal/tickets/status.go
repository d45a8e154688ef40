package tickets

type Status string

const (
	StatusAvailable Status = "AVAILABLE"
	StatusReserved  Status = "RESERVED"
	StatusPaid      Status = "PAID"
)

// PAID is terminal: nothing automated moves a ticket out of it.
var validNext = map[Status]map[Status]bool{
	StatusAvailable: {StatusReserved: true},
	StatusReserved:  {StatusPaid: true, StatusAvailable: true},
	StatusPaid:      {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

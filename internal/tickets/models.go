package tickets

import "time"

// Ticket is one row of the tickets table. Buyer, order and payment fields are
// only set while the ticket is RESERVED or PAID.
type Ticket struct {
	Number         int
	Status         Status
	BuyerName      string
	BuyerPhone     string
	OrderReference string
	PaymentHandle  string
	ReservedAt     *time.Time
	UpdatedAt      time.Time
}

// PublicTicket is what anonymous callers may see.
type PublicTicket struct {
	Number int    `json:"number"`
	Status Status `json:"status"`
}

type Buyer struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// Reservation is the bulk update applied by Tx.Reserve.
type Reservation struct {
	Numbers        []int
	Buyer          Buyer
	OrderReference string
	PaymentHandle  string // empty until the provider accepted the payment
	ReservedAt     time.Time
}

// Released identifies a ticket returned to the pool by the expiry sweep.
type Released struct {
	Number         int
	OrderReference string
}

// GroupByOrder folds swept tickets into order reference -> numbers.
func GroupByOrder(rs []Released) map[string][]int {
	out := make(map[string][]int)
	for _, r := range rs {
		out[r.OrderReference] = append(out[r.OrderReference], r.Number)
	}
	return out
}

func (t Ticket) Public() PublicTicket {
	return PublicTicket{Number: t.Number, Status: t.Status}
}

package tickets

const (
	TopicTicketsReserved      = "tickets.reserved"
	TopicTicketsPaid          = "tickets.paid"
	TopicTicketsReleased      = "tickets.released"
	TopicPaymentNotifications = "payments.notifications"
)

// Partition key = order reference, so every event of one order stays ordered.
func PartitionKey(orderReference string) []byte { return []byte(orderReference) }

// TopicFor maps an event type to the topic it is published on.
func TopicFor(eventType string) string {
	switch eventType {
	case EventTicketsReserved:
		return TopicTicketsReserved
	case EventTicketsPaid:
		return TopicTicketsPaid
	case EventTicketsReleased:
		return TopicTicketsReleased
	}
	return ""
}

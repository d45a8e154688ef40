package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/go-realtime-raffle/internal/metrics"
	"github.com/pkg/errors"
)

// Correlator turns one order into exactly one provider payment.
type Correlator struct {
	Provider        Provider
	UnitPriceCents  int64
	Payer           Payer // fixed payer identity the provider insists on
	NotificationURL string
	Description     string
	Metrics         *metrics.Metrics
}

// CreatePayment calls the provider once. Callers that want to retry must
// start over with a new order reference.
func (c *Correlator) CreatePayment(ctx context.Context, orderReference string, quantity int, buyerName string) (*Payment, error) {
	if quantity <= 0 {
		return nil, errors.Errorf("quantity must be positive, got %d", quantity)
	}
	desc := c.Description
	if desc == "" {
		desc = "Raffle tickets"
	}
	req := &CreateRequest{
		OrderReference:  orderReference,
		AmountCents:     c.Amount(quantity),
		Description:     fmt.Sprintf("%s x%d - %s", desc, quantity, buyerName),
		Payer:           c.Payer,
		NotificationURL: c.NotificationURL,
	}

	start := time.Now()
	p, err := c.Provider.CreatePayment(ctx, req)
	c.Metrics.ProviderCall("create_payment", start, err)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// GetPayment is a pass-through kept here so provider latency is observed in
// one place.
func (c *Correlator) GetPayment(ctx context.Context, handle string) (*Payment, error) {
	start := time.Now()
	p, err := c.Provider.GetPayment(ctx, handle)
	c.Metrics.ProviderCall("get_payment", start, err)
	return p, err
}

func (c *Correlator) Amount(quantity int) int64 {
	return c.UnitPriceCents * int64(quantity)
}

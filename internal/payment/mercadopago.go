package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const DefaultBaseURL = "https://api.mercadopago.com"

// MercadoPago talks to the /v1/payments API and creates PIX payments.
type MercadoPago struct {
	BaseURL     string
	AccessToken string
	HTTPClient  *http.Client
	Tracer      trace.Tracer
}

func NewMercadoPago(baseURL, accessToken string) *MercadoPago {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &MercadoPago{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		AccessToken: accessToken,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        32,
				MaxIdleConnsPerHost: 32,
			},
		},
		Tracer: otel.Tracer("payment.mercadopago"),
	}
}

type mpIdentification struct {
	Type   string `json:"type,omitempty"`
	Number string `json:"number,omitempty"`
}

type mpPayer struct {
	Email          string            `json:"email"`
	FirstName      string            `json:"first_name,omitempty"`
	LastName       string            `json:"last_name,omitempty"`
	Identification *mpIdentification `json:"identification,omitempty"`
}

type mpCreatePayment struct {
	TransactionAmount float64 `json:"transaction_amount"`
	Description       string  `json:"description"`
	PaymentMethodID   string  `json:"payment_method_id"`
	ExternalReference string  `json:"external_reference"`
	NotificationURL   string  `json:"notification_url,omitempty"`
	Payer             mpPayer `json:"payer"`
}

type mpPayment struct {
	ID                 json.Number `json:"id"`
	Status             string      `json:"status"`
	ExternalReference  string      `json:"external_reference"`
	PointOfInteraction struct {
		TransactionData struct {
			QRCode       string `json:"qr_code"`
			QRCodeBase64 string `json:"qr_code_base64"`
			TicketURL    string `json:"ticket_url"`
		} `json:"transaction_data"`
	} `json:"point_of_interaction"`
}

func (p *mpPayment) toPayment() *Payment {
	td := p.PointOfInteraction.TransactionData
	return &Payment{
		Handle:            p.ID.String(),
		Status:            p.Status,
		ExternalReference: p.ExternalReference,
		QRCode:            td.QRCode,
		QRCodeBase64:      td.QRCodeBase64,
		TicketURL:         td.TicketURL,
	}
}

func (m *MercadoPago) CreatePayment(ctx context.Context, req *CreateRequest) (*Payment, error) {
	body := mpCreatePayment{
		TransactionAmount: float64(req.AmountCents) / 100,
		Description:       req.Description,
		PaymentMethodID:   "pix",
		ExternalReference: req.OrderReference,
		NotificationURL:   req.NotificationURL,
		Payer: mpPayer{
			Email:     req.Payer.Email,
			FirstName: req.Payer.FirstName,
			LastName:  req.Payer.LastName,
		},
	}
	if req.Payer.DocNumber != "" {
		body.Payer.Identification = &mpIdentification{Type: req.Payer.DocType, Number: req.Payer.DocNumber}
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	var out mpPayment
	// The order reference doubles as idempotency key, so a request the
	// provider already saw never creates a second charge.
	err = m.do(ctx, "create_payment", http.MethodPost, "/v1/payments", b,
		map[string]string{"X-Idempotency-Key": req.OrderReference}, &out)
	if err != nil {
		return nil, err
	}
	if out.ID.String() == "" {
		return nil, errors.New("provider returned a payment without id")
	}
	return out.toPayment(), nil
}

func (m *MercadoPago) GetPayment(ctx context.Context, handle string) (*Payment, error) {
	if handle == "" {
		return nil, errors.New("empty payment handle")
	}
	var out mpPayment
	if err := m.do(ctx, "get_payment", http.MethodGet, "/v1/payments/"+url.PathEscape(handle), nil, nil, &out); err != nil {
		return nil, err
	}
	return out.toPayment(), nil
}

func (m *MercadoPago) do(ctx context.Context, op, method, path string, body []byte, headers map[string]string, out any) error {
	ctx, span := m.Tracer.Start(ctx, "mercadopago."+op, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, m.BaseURL+path, rd)
	if err != nil {
		span.RecordError(err)
		return err
	}
	req.Header.Set("Authorization", "Bearer "+m.AccessToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.String("http.path", path),
	)

	resp, err := m.HTTPClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		err := errors.Errorf("%s %s returned %s: %s", method, path, resp.Status, strings.TrimSpace(string(msg)))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		span.RecordError(err)
		return errors.Wrap(err, "decode provider response")
	}
	return nil
}

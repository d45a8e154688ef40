package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMercadoPagoCreatePayment(t *testing.T) {
	var got mpCreatePayment
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/payments" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if h := r.Header.Get("Authorization"); h != "Bearer tok" {
			t.Errorf("Authorization = %q", h)
		}
		if h := r.Header.Get("X-Idempotency-Key"); h != "ord-1" {
			t.Errorf("X-Idempotency-Key = %q", h)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": 123456789012, "status": "pending", "external_reference": "ord-1",
			"point_of_interaction": {"transaction_data": {"qr_code": "000201", "qr_code_base64": "aGk=", "ticket_url": "https://pay/t"}}}`))
	}))
	defer srv.Close()

	mp := NewMercadoPago(srv.URL+"/", "tok")
	p, err := mp.CreatePayment(context.Background(), &CreateRequest{
		OrderReference:  "ord-1",
		AmountCents:     2500,
		Description:     "Raffle tickets x2 - Ana",
		Payer:           Payer{Email: "p@example.com", FirstName: "Raffle", LastName: "Buyer", DocType: "CPF", DocNumber: "123"},
		NotificationURL: "https://example.com/webhooks/payments",
	})
	if err != nil {
		t.Fatalf("CreatePayment: %v", err)
	}
	if p.Handle != "123456789012" || p.Status != "pending" || p.QRCode != "000201" || p.TicketURL != "https://pay/t" {
		t.Errorf("payment = %+v", p)
	}
	if got.TransactionAmount != 25 || got.PaymentMethodID != "pix" || got.ExternalReference != "ord-1" {
		t.Errorf("request body = %+v", got)
	}
	if got.Payer.Identification == nil || got.Payer.Identification.Number != "123" {
		t.Errorf("payer identification = %+v", got.Payer.Identification)
	}
}

func TestMercadoPagoGetPayment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/payments/42" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"not found"}`))
			return
		}
		_, _ = w.Write([]byte(`{"id": 42, "status": "approved", "external_reference": "ord-9"}`))
	}))
	defer srv.Close()

	mp := NewMercadoPago(srv.URL, "tok")
	p, err := mp.GetPayment(context.Background(), "42")
	if err != nil {
		t.Fatalf("GetPayment: %v", err)
	}
	if p.Status != "approved" || p.ExternalReference != "ord-9" || p.Handle != "42" {
		t.Errorf("payment = %+v", p)
	}

	if _, err := mp.GetPayment(context.Background(), "7"); err == nil {
		t.Error("expected error for 404")
	}
	if _, err := mp.GetPayment(context.Background(), ""); err == nil {
		t.Error("expected error for empty handle")
	}
}

func TestMercadoPagoServerErrorFailsCreate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewMercadoPago(srv.URL, "tok").CreatePayment(context.Background(), &CreateRequest{OrderReference: "o", AmountCents: 100})
	if err == nil {
		t.Fatal("expected error")
	}
}

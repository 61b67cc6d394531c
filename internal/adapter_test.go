package internal

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

type processorServer struct {
	mu           sync.Mutex
	chargeStatus int
	healthStatus int
	healthBody   string
	delay        time.Duration
	lastBody     []byte
}

func (s *processorServer) handle(ctx *fasthttp.RequestCtx) {
	s.mu.Lock()
	delay := s.delay
	s.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch string(ctx.Path()) {
	case paymentsPath:
		s.lastBody = append([]byte(nil), ctx.PostBody()...)
		ctx.SetStatusCode(s.chargeStatus)
	case serviceHealthPath:
		ctx.SetStatusCode(s.healthStatus)
		ctx.SetBodyString(s.healthBody)
	default:
		ctx.SetStatusCode(fasthttp.StatusNotFound)
	}
}

func newTestProcessorClient(t *testing.T, srv *processorServer) *ProcessorClient {
	t.Helper()

	ln := fasthttputil.NewInmemoryListener()
	server := &fasthttp.Server{Handler: srv.handle}
	go func() { _ = server.Serve(ln) }()
	t.Cleanup(func() { _ = ln.Close() })

	return NewProcessorClientWithHostClient(&fasthttp.HostClient{
		Addr: "payment-processor",
		Dial: func(string) (net.Conn, error) { return ln.Dial() },
	})
}

func TestProcessorClient_Charge(t *testing.T) {
	tests := []struct {
		status  int
		wantErr error
	}{
		{fasthttp.StatusOK, nil},
		{fasthttp.StatusUnprocessableEntity, nil},
		{fasthttp.StatusInternalServerError, ErrUnavailableProcessor},
		{fasthttp.StatusTooManyRequests, ErrUnavailableProcessor},
		{fasthttp.StatusRequestTimeout, ErrUnavailableProcessor},
		{fasthttp.StatusBadRequest, ErrInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(fasthttp.StatusMessage(tt.status), func(t *testing.T) {
			srv := &processorServer{chargeStatus: tt.status}
			client := newTestProcessorClient(t, srv)

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()

			err := client.Charge(ctx, PaymentRequestProcessor{PaymentRequest: PaymentRequest{
				CorrelationId: "4a7901b8-7d26-4d9d-aa19-4dc1c7cf60b3",
				Amount:        amount("19.90"),
			}})
			if tt.wantErr == nil && err != nil {
				t.Fatalf("expected success, got %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestProcessorClient_ChargeBody(t *testing.T) {
	srv := &processorServer{chargeStatus: fasthttp.StatusOK}
	client := newTestProcessorClient(t, srv)

	err := client.Charge(context.Background(), PaymentRequestProcessor{PaymentRequest: PaymentRequest{
		CorrelationId: "abc",
		Amount:        amount("19.90"),
	}})
	if err != nil {
		t.Fatalf("charge: %v", err)
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()

	var body struct {
		CorrelationId string  `json:"correlationId"`
		Amount        float64 `json:"amount"`
		RequestedAt   string  `json:"requestedAt"`
	}
	if err := sonic.Unmarshal(srv.lastBody, &body); err != nil {
		t.Fatalf("decode body %q: %v", srv.lastBody, err)
	}
	if body.CorrelationId != "abc" || body.Amount != 19.90 {
		t.Errorf("unexpected body: %+v", body)
	}
	if _, err := time.Parse(time.RFC3339Nano, body.RequestedAt); err != nil {
		t.Errorf("requestedAt %q is not RFC3339: %v", body.RequestedAt, err)
	}
}

func TestProcessorClient_ChargeTimeout(t *testing.T) {
	srv := &processorServer{chargeStatus: fasthttp.StatusOK, delay: 200 * time.Millisecond}
	client := newTestProcessorClient(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := client.Charge(ctx, PaymentRequestProcessor{PaymentRequest: PaymentRequest{CorrelationId: "slow", Amount: amount("1")}})
	if !errors.Is(err, ErrUnavailableProcessor) {
		t.Errorf("expected a timeout to be an unavailable processor, got %v", err)
	}
}

func TestProcessorClient_Health(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		srv := &processorServer{healthStatus: fasthttp.StatusOK, healthBody: `{"failing":true,"minResponseTime":120}`}
		client := newTestProcessorClient(t, srv)

		res, err := client.Health(context.Background())
		if err != nil {
			t.Fatalf("health: %v", err)
		}
		if !res.Failing || res.MinResponseTime != 120 {
			t.Errorf("unexpected health: %+v", res)
		}
	})

	t.Run("rate limited", func(t *testing.T) {
		srv := &processorServer{healthStatus: fasthttp.StatusTooManyRequests}
		client := newTestProcessorClient(t, srv)

		if _, err := client.Health(context.Background()); err == nil {
			t.Error("expected an error for a 429 health response")
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		srv := &processorServer{healthStatus: fasthttp.StatusOK, healthBody: `not json`}
		client := newTestProcessorClient(t, srv)

		if _, err := client.Health(context.Background()); err == nil {
			t.Error("expected a decode error")
		}
	})
}

func TestNewProcessorClient(t *testing.T) {
	if _, err := NewProcessorClient("http://payment-processor-default:8080"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if _, err := NewProcessorClient("not a url"); err == nil {
		t.Error("expected an error for a url without host")
	}
}

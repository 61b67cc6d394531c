package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"rinha-router-2025/pkg/parser"

	"github.com/bytedance/sonic"
	"github.com/valyala/fasthttp"
)

var (
	ErrInvalidRequest       = errors.New("invalid request")
	ErrUnavailableProcessor = errors.New("unavailable processor")
)

const (
	paymentsPath      = "/payments"
	serviceHealthPath = "/payments/service-health"
)

// Upstream is one payment processor.
type Upstream interface {
	Charge(ctx context.Context, payment PaymentRequestProcessor) error
	Health(ctx context.Context) (HealthCheckResponse, error)
}

type ProcessorClient struct {
	client *fasthttp.HostClient
}

func NewProcessorClient(rawURL string) (*ProcessorClient, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid processor url %q: %w", rawURL, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid processor url %q: missing host", rawURL)
	}

	return NewProcessorClientWithHostClient(&fasthttp.HostClient{
		Addr:                u.Host,
		IsTLS:               u.Scheme == "https",
		MaxConns:            200,
		MaxIdleConnDuration: 60 * time.Second,
		ReadTimeout:         10 * time.Second,
		WriteTimeout:        10 * time.Second,
	}), nil
}

func NewProcessorClientWithHostClient(client *fasthttp.HostClient) *ProcessorClient {
	return &ProcessorClient{client: client}
}

func (c *ProcessorClient) Charge(ctx context.Context, payment PaymentRequestProcessor) error {
	payment.RequestedAt = parser.FormatRFC3339Milli(time.Now())
	raw, err := sonic.ConfigFastest.Marshal(payment)
	if err != nil {
		slog.Error("failed to marshal the payment", "err", err)
		return err
	}

	req := fasthttp.AcquireRequest()
	res := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(res)

	req.SetRequestURI(paymentsPath)
	req.SetHost(c.client.Addr)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.Header.Set("Connection", "keep-alive")
	req.SetBody(raw)

	slog.Debug("sending the request", "correlationId", payment.CorrelationId, "addr", c.client.Addr)

	if err := c.client.DoDeadline(req, res, deadline(ctx)); err != nil {
		slog.Debug("failed to send the request", "err", err, "addr", c.client.Addr)
		return fmt.Errorf("%w: %v", ErrUnavailableProcessor, err)
	}

	return classifyChargeStatus(res.StatusCode())
}

// classifyChargeStatus maps an upstream status code to a charge outcome.
// 422 means the correlationId was already charged, so it counts as done.
func classifyChargeStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == fasthttp.StatusUnprocessableEntity:
		return nil
	case code == fasthttp.StatusRequestTimeout,
		code == fasthttp.StatusTooManyRequests,
		code >= 500:
		return ErrUnavailableProcessor
	case code >= 400:
		return fmt.Errorf("%w: status %d", ErrInvalidRequest, code)
	default:
		return fmt.Errorf("%w: unexpected status %d", ErrUnavailableProcessor, code)
	}
}

func (c *ProcessorClient) Health(ctx context.Context) (HealthCheckResponse, error) {
	req := fasthttp.AcquireRequest()
	res := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(res)

	req.SetRequestURI(serviceHealthPath)
	req.SetHost(c.client.Addr)
	req.Header.SetMethod(fasthttp.MethodGet)

	if err := c.client.DoDeadline(req, res, deadline(ctx)); err != nil {
		return HealthCheckResponse{}, err
	}
	if res.StatusCode() != fasthttp.StatusOK {
		return HealthCheckResponse{}, fmt.Errorf("%w: health status %d", ErrUnavailableProcessor, res.StatusCode())
	}

	var body HealthCheckResponse
	if err := sonic.Unmarshal(res.Body(), &body); err != nil {
		slog.Debug("failed to parse the response", "addr", c.client.Addr)
		return HealthCheckResponse{}, err
	}

	return body, nil
}

func deadline(ctx context.Context) time.Time {
	if d, ok := ctx.Deadline(); ok {
		return d
	}
	return time.Now().Add(10 * time.Second)
}

package internal

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"rinha-router-2025/pkg/parser"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

var ErrInvalidAmount = errors.New("amount must be positive")

type PaymentHandler struct {
	executor *PaymentExecutor
	ledger   *Ledger
	health   *HealthProbe
	breaker  *CircuitBreaker
}

func NewPaymentHandler(executor *PaymentExecutor, ledger *Ledger, health *HealthProbe, breaker *CircuitBreaker) *PaymentHandler {
	return &PaymentHandler{
		executor: executor,
		ledger:   ledger,
		health:   health,
		breaker:  breaker,
	}
}

func (h *PaymentHandler) RegisterRoutes(app *fiber.App) {
	app.Post("/payments", h.Process)
	app.Get("/payments-summary", h.Summary)
	app.Get("/payments/:id", h.Get)
	app.Post("/purge-payments", h.Purge)
	app.Get("/health", h.Health)
}

/*
POST /payments

	{
	    "correlationId": "4a7901b8-7d26-4d9d-aa19-4dc1c7cf60b3",
	    "amount": 19.90,
	    "description": "optional"
	}
*/
func (h *PaymentHandler) Process(c *fiber.Ctx) error {
	var req PaymentRequest
	if err := c.BodyParser(&req); err != nil {
		slog.Debug("failed to parse the request body", "error", err)
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if !req.Amount.IsPositive() {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": ErrInvalidAmount.Error()})
	}
	if req.CorrelationId == "" {
		req.CorrelationId = uuid.NewString()
	}

	record, err := h.executor.Execute(c.UserContext(), req)
	if err != nil {
		return c.SendStatus(http.StatusInternalServerError)
	}

	return c.JSON(record)
}

/*
GET /payments-summary?from=2020-07-10T12:34:56.000Z&to=2020-07-10T12:35:56.000Z

	{
	    "default":  {"totalRequests": 43236, "totalAmount": 415542345.98},
	    "fallback": {"totalRequests": 423545, "totalAmount": 329347.34},
	    "total":    {"totalRequests": 466781, "totalAmount": 415871693.32},
	    "failed":   {"totalRequests": 12, "totalAmount": 238.80}
	}
*/
func (h *PaymentHandler) Summary(c *fiber.Ctx) error {
	var filter SummaryFilter
	for _, bound := range []struct {
		query string
		dst   *time.Time
	}{
		{"from", &filter.From},
		{"to", &filter.To},
	} {
		raw := c.Query(bound.query)
		if raw == "" {
			continue
		}
		parsed, err := parser.ParseTimestamp(raw)
		if err != nil {
			slog.Debug("failed to parse the summary window", "param", bound.query, "value", raw, "err", err)
			return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "invalid " + bound.query})
		}
		*bound.dst = parsed
	}

	summary, err := h.ledger.Summary(c.UserContext(), filter)
	if err != nil {
		slog.Error("failed to build the summary", "err", err)
		return c.SendStatus(http.StatusInternalServerError)
	}

	return c.JSON(summary)
}

func (h *PaymentHandler) Get(c *fiber.Ctx) error {
	record, err := h.ledger.Get(c.UserContext(), c.Params("id"))
	if errors.Is(err, ErrPaymentNotFound) {
		return c.SendStatus(http.StatusNotFound)
	}
	if err != nil {
		slog.Error("failed to get payment", "id", c.Params("id"), "err", err)
		return c.SendStatus(http.StatusInternalServerError)
	}

	return c.JSON(record)
}

func (h *PaymentHandler) Purge(c *fiber.Ctx) error {
	if err := h.ledger.Purge(c.UserContext()); err != nil {
		slog.Error("failed to purge payments", "err", err)
		return c.SendStatus(http.StatusInternalServerError)
	}

	return c.SendStatus(http.StatusOK)
}

type upstreamStatus struct {
	Health  HealthVerdict   `json:"health"`
	Breaker BreakerSnapshot `json:"breaker"`
}

// Health is the liveness endpoint. It reports the cached upstream verdicts
// and never triggers a probe.
func (h *PaymentHandler) Health(c *fiber.Ctx) error {
	upstreams := make(map[UpstreamID]upstreamStatus, len(Upstreams))
	for _, id := range Upstreams {
		upstreams[id] = upstreamStatus{
			Health:  h.health.Verdict(id),
			Breaker: h.breaker.Snapshot(id),
		}
	}

	return c.JSON(fiber.Map{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"upstreams": upstreams,
	})
}

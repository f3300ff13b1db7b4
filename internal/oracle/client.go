// Package oracle implements every capability interface on top of a language
// model backend. Each capability builds a prompt, makes one resilient call
// and parses the reply strictly; anything off-shape is ErrMalformedResponse.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/aristath/quorum/internal/backend"
	"github.com/aristath/quorum/internal/capability"
	"github.com/aristath/quorum/internal/config"
	"github.com/aristath/quorum/internal/observability"
)

// Binding attaches a backend to a role.
type Binding struct {
	Backend  backend.Backend
	Provider string // Breaker key; defaults to Backend.Name()
	System   string // Role system prompt
}

// ClientConfig wires a Client.
type ClientConfig struct {
	Bindings    map[string]Binding // role -> backend
	Retry       config.RetryConfig
	CallTimeout time.Duration // 0 = no per-call timeout
	Breakers    *CircuitBreakerRegistry
	Metrics     *observability.Metrics
	Tracer      trace.Tracer
	Logger      *zap.Logger
}

// Client routes capability calls to their bound backends.
type Client struct {
	bindings map[string]Binding
	retry    config.RetryConfig
	timeout  time.Duration
	breakers *CircuitBreakerRegistry
	metrics  *observability.Metrics
	tracer   trace.Tracer
	logger   *zap.Logger
}

// NewClient creates a Client. Nil breakers, tracer and logger get working defaults.
func NewClient(cfg ClientConfig) *Client {
	c := &Client{
		bindings: cfg.Bindings,
		retry:    cfg.Retry,
		timeout:  cfg.CallTimeout,
		breakers: cfg.Breakers,
		metrics:  cfg.Metrics,
		tracer:   cfg.Tracer,
		logger:   cfg.Logger,
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.breakers == nil {
		c.breakers = NewCircuitBreakerRegistry(c.logger)
	}
	if c.tracer == nil {
		c.tracer = noop.NewTracerProvider().Tracer("")
	}
	if c.bindings == nil {
		c.bindings = map[string]Binding{}
	}
	return c
}

// Has reports whether a backend is bound to role.
func (c *Client) Has(role string) bool {
	_, ok := c.bindings[role]
	return ok
}

// Complete sends one prompt for role and returns the raw reply text.
// msg.System overrides the role's system prompt when set.
// Every failure, including a timeout, is an ErrOracleFailure.
func (c *Client) Complete(ctx context.Context, role string, msg backend.Message) (string, error) {
	b, ok := c.bindings[role]
	if !ok {
		return "", capability.OracleFailure(role, fmt.Errorf("no backend bound"))
	}
	if msg.System == "" {
		msg.System = b.System
	}
	provider := b.Provider
	if provider == "" {
		provider = b.Backend.Name()
	}

	ctx, span := c.tracer.Start(ctx, "oracle."+role, trace.WithAttributes(
		attribute.String("quorum.capability", role),
		attribute.String("quorum.provider", provider),
	))
	defer span.End()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := sendWithRetry(ctx, b.Backend, msg, c.breakers.Get(provider), c.retry)
	elapsed := time.Since(start)
	c.metrics.ObserveOracleCall(role, err, elapsed)

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			c.metrics.ObserveBreakerRejection(provider)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Warn("oracle call failed",
			zap.String("capability", role),
			zap.String("provider", provider),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return "", capability.OracleFailure(role, err)
	}

	c.logger.Debug("oracle call",
		zap.String("capability", role),
		zap.String("provider", provider),
		zap.Duration("elapsed", elapsed),
		zap.Int("reply_bytes", len(resp.Content)))
	return resp.Content, nil
}

// Package rpcadapter translates BetterMQ's wire requests into calls
// against a broker.Broker, recording Prometheus metrics and an
// OpenTelemetry span around each one.
package rpcadapter

import (
	"context"
	"time"

	"github.com/bettermq/bettermq/internal/bmqerr"
	"github.com/bettermq/bettermq/internal/broker"
	"github.com/bettermq/bettermq/internal/logging"
	"github.com/bettermq/bettermq/internal/metrics"
	"github.com/bettermq/bettermq/internal/rpc"
	"github.com/bettermq/bettermq/internal/tracing"
)

// Adapter implements rpc.Dispatcher against a broker.Broker.
type Adapter struct {
	Broker *broker.Broker
}

// New constructs an Adapter over b.
func New(b *broker.Broker) *Adapter {
	return &Adapter{Broker: b}
}

// Handle implements rpc.Dispatcher.
func (a *Adapter) Handle(env rpc.Envelope) rpc.Reply {
	ctx, span := tracing.StartServerSpan(context.Background(), "bettermq.rpc."+env.Method,
		tracing.AttrMethod.String(env.Method))
	defer span.End()

	start := time.Now()
	reply, err := a.dispatch(ctx, env)
	elapsedMs := float64(time.Since(start).Microseconds()) / 1000
	span.SetAttributes(tracing.AttrDurationMs.Float64(elapsedMs))

	result := "ok"
	if err != nil {
		result = string(bmqerr.CodeOf(err))
		tracing.SetSpanError(span, err)
		metrics.RecordRPC(env.Method, result, elapsedMs)
		logger := logging.Op()
		if sc := span.SpanContext(); sc.IsValid() {
			logger = logging.OpWithTrace(sc.TraceID().String(), sc.SpanID().String())
		}
		logger.Warn("rpc call failed", "method", env.Method, "error", err)
		return errorReply(err)
	}

	tracing.SetSpanOK(span)
	metrics.RecordRPC(env.Method, result, elapsedMs)
	return reply
}

func (a *Adapter) dispatch(ctx context.Context, env rpc.Envelope) (rpc.Reply, error) {
	switch env.Method {
	case rpc.MethodEnqueue:
		return a.handleEnqueue(ctx, env)
	case rpc.MethodDequeue:
		return a.handleDequeue(ctx, env)
	case rpc.MethodAck:
		return a.handleAck(ctx, env)
	case rpc.MethodNack:
		return a.handleNack(ctx, env)
	case rpc.MethodCreateTopic:
		return a.handleCreateTopic(ctx, env)
	case rpc.MethodRemoveTopic:
		return a.handleRemoveTopic(ctx, env)
	case rpc.MethodGetActiveTopics:
		return a.handleGetActiveTopics(ctx, env)
	default:
		return rpc.Reply{}, bmqerr.Newf(bmqerr.InvalidArgument, "unknown method %q", env.Method)
	}
}

func errorReply(err error) rpc.Reply {
	return rpc.Reply{
		Method: rpc.MethodError,
		Value: rpc.ErrEnvelope{
			Code:    string(bmqerr.CodeOf(err)),
			Message: err.Error(),
		},
	}
}

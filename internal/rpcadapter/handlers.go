package rpcadapter

import (
	"context"

	"github.com/bettermq/bettermq/internal/engine"
	"github.com/bettermq/bettermq/internal/metrics"
	"github.com/bettermq/bettermq/internal/rpc"
	"github.com/bettermq/bettermq/internal/tracing"
)

func (a *Adapter) handleEnqueue(ctx context.Context, env rpc.Envelope) (rpc.Reply, error) {
	var args rpc.EnqueueArgs
	if err := rpc.DecodePayload(env, &args); err != nil {
		return rpc.Reply{}, err
	}
	tracing.SpanFromContext(ctx).SetAttributes(tracing.AttrTopic.String(args.Topic))
	reply, err := a.Broker.Enqueue(args.Topic, engine.EnqueueRequest{
		Topic:          args.Topic,
		Payload:        args.Payload,
		Meta:           args.Meta,
		Priority:       args.Priority,
		DeliverAfterMs: args.DeliverAfterMs,
	})
	if err != nil {
		return rpc.Reply{}, err
	}
	tracing.SpanFromContext(ctx).SetAttributes(
		tracing.AttrMessageID.String(reply.MessageID),
		tracing.AttrNodeID.String(reply.NodeID),
	)
	a.refreshTopicGauges(args.Topic)
	return rpc.Reply{Method: rpc.MethodEnqueue, Value: rpc.EnqueueResult{
		MessageID: reply.MessageID,
		NodeID:    reply.NodeID,
	}}, nil
}

func (a *Adapter) handleDequeue(ctx context.Context, env rpc.Envelope) (rpc.Reply, error) {
	var args rpc.DequeueArgs
	if err := rpc.DecodePayload(env, &args); err != nil {
		return rpc.Reply{}, err
	}
	tracing.SpanFromContext(ctx).SetAttributes(tracing.AttrTopic.String(args.Topic))
	reply, err := a.Broker.Dequeue(args.Topic, engine.DequeueRequest{
		Count:           args.Count,
		LeaseDurationMs: args.LeaseDurationMs,
	})
	if err != nil {
		return rpc.Reply{}, err
	}
	a.refreshTopicGauges(args.Topic)
	return rpc.Reply{Method: rpc.MethodDequeue, Value: rpc.DequeueResult{Items: reply.Items}}, nil
}

func (a *Adapter) handleAck(ctx context.Context, env rpc.Envelope) (rpc.Reply, error) {
	var args rpc.AckArgs
	if err := rpc.DecodePayload(env, &args); err != nil {
		return rpc.Reply{}, err
	}
	tracing.SpanFromContext(ctx).SetAttributes(
		tracing.AttrTopic.String(args.Topic),
		tracing.AttrMessageID.String(args.MessageID),
	)
	if err := a.Broker.Ack(args.Topic, args.MessageID); err != nil {
		return rpc.Reply{}, err
	}
	metrics.RecordAck()
	a.refreshTopicGauges(args.Topic)
	return rpc.Reply{Method: rpc.MethodAck, Value: rpc.Empty{}}, nil
}

func (a *Adapter) handleNack(ctx context.Context, env rpc.Envelope) (rpc.Reply, error) {
	var args rpc.NackArgs
	if err := rpc.DecodePayload(env, &args); err != nil {
		return rpc.Reply{}, err
	}
	tracing.SpanFromContext(ctx).SetAttributes(
		tracing.AttrTopic.String(args.Topic),
		tracing.AttrMessageID.String(args.MessageID),
	)
	if err := a.Broker.Nack(args.Topic, engine.NackRequest{
		MessageID:      args.MessageID,
		Meta:           args.Meta,
		DeliverAfterMs: args.DeliverAfterMs,
	}); err != nil {
		return rpc.Reply{}, err
	}
	metrics.RecordNack()
	a.refreshTopicGauges(args.Topic)
	return rpc.Reply{Method: rpc.MethodNack, Value: rpc.Empty{}}, nil
}

func (a *Adapter) handleCreateTopic(ctx context.Context, env rpc.Envelope) (rpc.Reply, error) {
	var args rpc.CreateTopicArgs
	if err := rpc.DecodePayload(env, &args); err != nil {
		return rpc.Reply{}, err
	}
	tracing.SpanFromContext(ctx).SetAttributes(tracing.AttrTopic.String(args.Topic))
	if err := a.Broker.CreateTopic(args.Topic); err != nil {
		return rpc.Reply{}, err
	}
	metrics.RecordTopicCreated()
	return rpc.Reply{Method: rpc.MethodCreateTopic, Value: rpc.Empty{}}, nil
}

func (a *Adapter) handleRemoveTopic(ctx context.Context, env rpc.Envelope) (rpc.Reply, error) {
	var args rpc.RemoveTopicArgs
	if err := rpc.DecodePayload(env, &args); err != nil {
		return rpc.Reply{}, err
	}
	tracing.SpanFromContext(ctx).SetAttributes(tracing.AttrTopic.String(args.Topic))
	if err := a.Broker.RemoveTopic(args.Topic); err != nil {
		return rpc.Reply{}, err
	}
	metrics.RecordTopicRemoved()
	return rpc.Reply{Method: rpc.MethodRemoveTopic, Value: rpc.Empty{}}, nil
}

func (a *Adapter) handleGetActiveTopics(ctx context.Context, env rpc.Envelope) (rpc.Reply, error) {
	stats := a.Broker.GetActiveTopics()
	for _, s := range stats {
		metrics.SetTopicStats(s.Topic, s.ReadySize, s.DelayedSize)
	}
	return rpc.Reply{Method: rpc.MethodGetActiveTopics, Value: rpc.GetActiveTopicsResult{Topics: stats}}, nil
}

func (a *Adapter) refreshTopicGauges(topic string) {
	for _, s := range a.Broker.GetActiveTopics() {
		if s.Topic == topic {
			metrics.SetTopicStats(s.Topic, s.ReadySize, s.DelayedSize)
			return
		}
	}
}

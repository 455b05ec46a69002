// Command bettermq is a client for the BetterMQ broker daemon: enqueue,
// dequeue, ack, nack, create, remove, and stats subcommands over the
// TCP RPC transport.
package main

import (
	"fmt"
	"os"

	"github.com/bettermq/bettermq/internal/rpc"
	"github.com/spf13/cobra"
)

var host string

func main() {
	rootCmd := &cobra.Command{
		Use:   "bettermq",
		Short: "BetterMQ client",
		Long:  "bettermq talks to a bettermqd broker daemon over its RPC transport.",
	}
	rootCmd.PersistentFlags().StringVar(&host, "host", "127.0.0.1:7840", "broker RPC address")

	rootCmd.AddCommand(
		enqueueCmd(),
		dequeueCmd(),
		ackCmd(),
		nackCmd(),
		createCmd(),
		removeCmd(),
		statsCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func client() *rpc.Client {
	return rpc.NewClient(host)
}

func enqueueCmd() *cobra.Command {
	var (
		topic, meta, payload, file string
		priority                   int32
		after                      uint32
	)
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Enqueue a message onto a topic",
		RunE: func(cmd *cobra.Command, args []string) error {
			body := []byte(payload)
			if file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("read payload file: %w", err)
				}
				body = data
			}
			var result rpc.EnqueueResult
			err := client().Call(rpc.MethodEnqueue, rpc.EnqueueArgs{
				Topic:          topic,
				Payload:        body,
				Meta:           meta,
				Priority:       priority,
				DeliverAfterMs: after,
			}, &result)
			if err != nil {
				return err
			}
			fmt.Printf("message_id=%s node_id=%s\n", result.MessageID, result.NodeID)
			return nil
		},
	}
	cmd.Flags().StringVar(&topic, "topic", "", "topic name (required)")
	cmd.Flags().StringVar(&meta, "meta", "", "opaque metadata string")
	cmd.Flags().StringVar(&payload, "payload", "", "message payload")
	cmd.Flags().StringVar(&file, "file", "", "read payload from file instead of --payload")
	cmd.Flags().Int32Var(&priority, "priority", 0, "priority (lower = higher priority)")
	cmd.Flags().Uint32Var(&after, "after", 0, "delivery delay in milliseconds")
	cmd.MarkFlagRequired("topic")
	return cmd
}

func dequeueCmd() *cobra.Command {
	var (
		topic   string
		count   int
		leaseMs int32
	)
	cmd := &cobra.Command{
		Use:   "dequeue",
		Short: "Dequeue ready messages from a topic",
		RunE: func(cmd *cobra.Command, args []string) error {
			var result rpc.DequeueResult
			err := client().Call(rpc.MethodDequeue, rpc.DequeueArgs{
				Topic:           topic,
				Count:           count,
				LeaseDurationMs: leaseMs,
			}, &result)
			if err != nil {
				return err
			}
			for _, item := range result.Items {
				fmt.Printf("message_id=%s priority=%d meta=%s payload=%q\n", item.MessageID, item.Priority, item.Meta, item.Payload)
			}
			if len(result.Items) == 0 {
				fmt.Println("(no messages)")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&topic, "topic", "", "topic name (required)")
	cmd.Flags().IntVar(&count, "count", 1, "maximum number of messages to return")
	cmd.Flags().Int32Var(&leaseMs, "lease", 0, "lease duration in milliseconds (0 = no lease)")
	cmd.MarkFlagRequired("topic")
	return cmd
}

func ackCmd() *cobra.Command {
	var topic, id string
	cmd := &cobra.Command{
		Use:   "ack",
		Short: "Acknowledge a leased message",
		RunE: func(cmd *cobra.Command, args []string) error {
			return client().Call(rpc.MethodAck, rpc.AckArgs{Topic: topic, MessageID: id}, nil)
		},
	}
	cmd.Flags().StringVar(&topic, "topic", "", "topic name (required)")
	cmd.Flags().StringVar(&id, "id", "", "message id (required)")
	cmd.MarkFlagRequired("topic")
	cmd.MarkFlagRequired("id")
	return cmd
}

func nackCmd() *cobra.Command {
	var (
		topic, id, meta string
		after           uint32
	)
	cmd := &cobra.Command{
		Use:   "nack",
		Short: "Return a leased message for redelivery",
		RunE: func(cmd *cobra.Command, args []string) error {
			return client().Call(rpc.MethodNack, rpc.NackArgs{
				Topic:          topic,
				MessageID:      id,
				Meta:           meta,
				DeliverAfterMs: after,
			}, nil)
		},
	}
	cmd.Flags().StringVar(&topic, "topic", "", "topic name (required)")
	cmd.Flags().StringVar(&id, "id", "", "message id (required)")
	cmd.Flags().StringVar(&meta, "meta", "", "replacement metadata (empty keeps original)")
	cmd.Flags().Uint32Var(&after, "after", 0, "redelivery delay in milliseconds")
	cmd.MarkFlagRequired("topic")
	cmd.MarkFlagRequired("id")
	return cmd
}

func createCmd() *cobra.Command {
	var topic string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new topic",
		RunE: func(cmd *cobra.Command, args []string) error {
			return client().Call(rpc.MethodCreateTopic, rpc.CreateTopicArgs{Topic: topic}, nil)
		},
	}
	cmd.Flags().StringVar(&topic, "topic", "", "topic name (required)")
	cmd.MarkFlagRequired("topic")
	return cmd
}

func removeCmd() *cobra.Command {
	var topic string
	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove a topic",
		RunE: func(cmd *cobra.Command, args []string) error {
			return client().Call(rpc.MethodRemoveTopic, rpc.RemoveTopicArgs{Topic: topic}, nil)
		},
	}
	cmd.Flags().StringVar(&topic, "topic", "", "topic name (required)")
	cmd.MarkFlagRequired("topic")
	return cmd
}

func statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show ready/delayed sizes for every active topic",
		RunE: func(cmd *cobra.Command, args []string) error {
			var result rpc.GetActiveTopicsResult
			if err := client().Call(rpc.MethodGetActiveTopics, rpc.Empty{}, &result); err != nil {
				return err
			}
			for _, t := range result.Topics {
				fmt.Printf("topic=%s ready=%d delayed=%d\n", t.Topic, t.ReadySize, t.DelayedSize)
			}
			return nil
		},
	}
	return cmd
}

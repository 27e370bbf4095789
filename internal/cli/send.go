package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/KafClaw/cadence/internal/bus"
	"github.com/KafClaw/cadence/internal/config"
	"github.com/spf13/cobra"
)

var (
	sendTopic   string
	sendMessage string
	sendSender  string
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Publish one message to a topic on the Kafka transport",
	RunE:  runSend,
}

func init() {
	sendCmd.Flags().StringVarP(&sendTopic, "topic", "t", "", "Topic (source name) to publish to")
	sendCmd.Flags().StringVarP(&sendMessage, "message", "m", "", "Message content")
	sendCmd.Flags().StringVarP(&sendSender, "sender", "s", "cli", "Sender recorded on the envelope")
}

func runSend(cmd *cobra.Command, args []string) error {
	if sendTopic == "" || sendMessage == "" {
		return errors.New("--topic and --message are required")
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Transport.Kind != config.TransportKafka {
		return fmt.Errorf("send needs the kafka transport, config uses %q", cfg.Transport.Kind)
	}

	kt, err := bus.NewKafkaTransport(bus.KafkaConfig{
		Brokers:  cfg.Transport.Brokers,
		ClientID: cfg.Transport.ClientID,
		Sender:   sendSender,
	})
	if err != nil {
		return err
	}
	defer kt.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	env := bus.NewEnvelope(sendTopic, sendSender, sendMessage)
	if err := kt.Send(ctx, env); err != nil {
		return fmt.Errorf("send to %s: %w", sendTopic, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Sent %s to %s\n", env.ID, sendTopic)
	return nil
}

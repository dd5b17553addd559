package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"storefront-guard/internal/client"
	"storefront-guard/internal/config"
	"storefront-guard/internal/models"
)

func (a *app) eventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect the risk event journal",
	}

	tail := &cobra.Command{
		Use:   "tail",
		Short: "Follow journaled events from Kafka",
		Long: `Reads the Kafka topic the server journals to (KAFKA_BROKERS, KAFKA_TOPIC)
and prints one line per event until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			kcfg := config.LoadConfig().Kafka
			topic := a.v.GetString("topic")
			if topic == "" {
				topic = kcfg.Topic
			}

			consumer := client.NewKafkaConsumer(kcfg, topic, a.v.GetString("group"), a.logger.Named("kafka"))
			defer consumer.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			eventType := a.v.GetString("type")
			for {
				msg, err := consumer.ConsumeMessage(ctx)
				if err != nil {
					if errors.Is(err, context.Canceled) || ctx.Err() != nil {
						return nil
					}
					return err
				}

				var event models.TransactionEvent
				if err := json.Unmarshal(msg.Value, &event); err != nil {
					a.logger.Warn("Skipping undecodable event")
					continue
				}
				if eventType != "" && event.Type != eventType {
					continue
				}
				fmt.Fprintln(out, formatEvent(event))
			}
		},
	}
	tail.Flags().String("topic", "", "Topic to read (defaults to KAFKA_TOPIC)")
	tail.Flags().String("group", "", "Consumer group; empty reads without committing")
	tail.Flags().String("type", "", "Only print events of this type")

	cmd.AddCommand(tail)
	return cmd
}

func formatEvent(e models.TransactionEvent) string {
	line := fmt.Sprintf("%s %-16s session=%s", e.CapturedAt.Local().Format("15:04:05"), e.Type, e.Metadata.SessionID)
	if geo := e.Metadata.GeoLocation; geo.Known() {
		line += fmt.Sprintf(" at=(%.4f, %.4f)", *geo.Latitude, *geo.Longitude)
	}
	if len(e.Payload) > 0 {
		if payload, err := json.Marshal(e.Payload); err == nil {
			line += " " + string(payload)
		}
	}
	return line
}

package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roboricindustries/raycon-dispatch/pkg/dispatch"
	"github.com/roboricindustries/raycon-dispatch/pkg/pubsub"
	"github.com/roboricindustries/raycon-dispatch/pkg/schemas/alerts"
)

func newPlanCommand(ctx *commandContext) *cobra.Command {
	var notificationPath, endpointsPath string

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show what dispatching a notification would publish, without publishing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.config()
			if err != nil {
				return err
			}
			var n alerts.Notification
			if err := readJSONC(notificationPath, &n); err != nil {
				return err
			}
			var endpoints []alerts.Endpoint
			if err := readJSONC(endpointsPath, &endpoints); err != nil {
				return err
			}

			pub := dispatch.NewPublisher(dispatch.Options{
				Dialer:         pubsub.NewFallback(nil),
				ExchangePrefix: cfg.BrokerExchangePrefix,
			})
			rows, err := planRows(cmd.Context(), pub, n, endpoints)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Endpoint", "Exchange", "Routing key", "Retries", "Payload"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().StringVarP(&notificationPath, "notification", "n", "", "Notification document (JSON)")
	cmd.Flags().StringVarP(&endpointsPath, "endpoints", "e", "", "Endpoint list (JSON or JSONC)")
	_ = cmd.MarkFlagRequired("notification")
	_ = cmd.MarkFlagRequired("endpoints")
	return cmd
}

func planRows(ctx context.Context, pub *dispatch.Publisher, n alerts.Notification, endpoints []alerts.Endpoint) ([][]string, error) {
	rows := make([][]string, 0, len(endpoints))
	for _, ep := range endpoints {
		if !ep.IsActive || !ep.Subscribes(n.CategoryIDs) {
			continue
		}
		msg, err := pub.Prepare(ctx, dispatch.Request{
			Notification:  n,
			Endpoint:      ep,
			CorrelationID: n.CorrelationID,
		})
		if err != nil {
			return nil, fmt.Errorf("endpoint %s: %w", ep.ID, err)
		}
		payload, err := json.Marshal(msg.Envelope.Payload)
		if err != nil {
			return nil, err
		}
		rows = append(rows, []string{
			ep.ID,
			msg.Route.Exchange,
			msg.Route.RoutingKey,
			fmt.Sprint(max(ep.RetryAttempts, 0)),
			string(payload),
		})
	}
	return rows, nil
}

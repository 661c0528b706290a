package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func syncCmd(getApp func() *app) *cobra.Command {
	var related bool
	cmd := &cobra.Command{
		Use:   "sync [customer-id]",
		Short: "Pull a customer from Stripe into the mirror",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := getApp()
			ctx := cmd.Context()
			cust, err := a.customers.Sync(ctx, args[0])
			if err != nil {
				return err
			}
			if cust == nil {
				return fmt.Errorf("customer %s is neither on Stripe nor mirrored", args[0])
			}
			if related && cust.DatePurged == nil {
				if err := a.customers.SyncInvoices(ctx, cust.ID); err != nil {
					return err
				}
				if err := a.customers.SyncCharges(ctx, cust.ID); err != nil {
					return err
				}
			}
			return printJSON(cmd, cust)
		},
	}
	cmd.Flags().BoolVar(&related, "related", true, "also pull the customer's invoices and charges")
	return cmd
}

func purgeCmd(getApp func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "purge [customer-id]",
		Short: "Delete a customer on Stripe and anonymize the local row",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := getApp().customers.Purge(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %s\n", args[0])
			return nil
		},
	}
}

func retryCmd(getApp func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [customer-id]",
		Short: "Retry payment of the customer's unpaid invoices",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return getApp().customers.RetryUnpaidInvoices(cmd.Context(), args[0])
		},
	}
}

func replayCmd(getApp func() *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "replay [event-id]",
		Short: "Validate and process one event, or every pending event",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := getApp()
			ctx := cmd.Context()
			if len(args) == 1 {
				if err := a.dispatcher.HandleByID(ctx, args[0]); err != nil {
					return err
				}
				e, err := a.events.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, e)
			}

			pending, err := a.events.Pending(ctx, limit)
			if err != nil {
				return err
			}
			processed := 0
			for i := range pending {
				if err := a.dispatcher.Handle(ctx, &pending[i]); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", pending[i].ID, err)
					continue
				}
				if pending[i].Processed {
					processed++
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "processed %d of %d pending events\n", processed, len(pending))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 100, "maximum number of pending events to replay")
	return cmd
}

func exceptionsCmd(getApp func() *app) *cobra.Command {
	var (
		limit   int
		eventID string
	)
	cmd := &cobra.Command{
		Use:   "exceptions",
		Short: "List recorded event processing failures, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := getApp()
			if eventID != "" {
				results, err := a.events.Exceptions.ListForEvent(cmd.Context(), eventID)
				if err != nil {
					return err
				}
				return printJSON(cmd, results)
			}
			results, err := a.events.Exceptions.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printJSON(cmd, results)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of exceptions to list")
	cmd.Flags().StringVar(&eventID, "event", "", "only list exceptions of this event")
	return cmd
}

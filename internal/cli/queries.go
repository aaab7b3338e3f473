package cli

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"queryguard/internal/api"
	"queryguard/internal/api/handlers"
	"queryguard/internal/db"
	"queryguard/internal/types"
)

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func (c *cli) submitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a customer query",
		Long:  "Create a PENDING query owned by customer support. The escalation clock starts now.",
		RunE: c.withRuntime(false, func(cmd *cobra.Command, rt *runtime, _ []string) error {
			name, _ := cmd.Flags().GetString("name")
			email, _ := cmd.Flags().GetString("email")
			phone, _ := cmd.Flags().GetString("phone")
			subject, _ := cmd.Flags().GetString("subject")
			message, _ := cmd.Flags().GetString("message")

			req := handlers.CreateQueryRequest{
				Name:    strings.TrimSpace(name),
				Email:   strings.TrimSpace(email),
				Phone:   optional(phone),
				Subject: optional(subject),
				Message: message,
			}
			if err := api.NewValidator(rt.logger).ValidateStruct(req); err != nil {
				return err
			}

			now := rt.clock.Now()
			q := &types.Query{
				ID:              uuid.NewString(),
				Name:            req.Name,
				Email:           req.Email,
				Phone:           req.Phone,
				Subject:         req.Subject,
				Message:         req.Message,
				Status:          types.StatusPending,
				EscalationLevel: types.TierCustomerSupport,
				CreatedAt:       now,
				UpdatedAt:       now,
			}
			if err := rt.store.Create(cmd.Context(), q); err != nil {
				return err
			}
			if rt.json {
				return printJSON(rt.out, q)
			}
			fmt.Fprintf(rt.out, "%s Query %s submitted\n", success.Sprint("✓"), q.ID)
			return nil
		}),
	}
	cmd.Flags().String("name", "", "customer name (required)")
	cmd.Flags().String("email", "", "customer email (required)")
	cmd.Flags().String("phone", "", "customer phone")
	cmd.Flags().String("subject", "", "query subject")
	cmd.Flags().String("message", "", "query body (required)")
	return cmd
}

func (c *cli) showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [query-id]",
		Short: "Show query details",
		Args:  cobra.ExactArgs(1),
		RunE: c.withRuntime(false, func(cmd *cobra.Command, rt *runtime, args []string) error {
			q, err := rt.store.GetByID(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if rt.json {
				return printJSON(rt.out, q)
			}
			printQuery(rt.out, q)
			return nil
		}),
	}
}

func (c *cli) listCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queries, newest first",
		RunE: c.withRuntime(false, func(cmd *cobra.Command, rt *runtime, _ []string) error {
			statuses, _ := cmd.Flags().GetStringSlice("status")
			level, _ := cmd.Flags().GetString("level")
			limit, _ := cmd.Flags().GetInt("limit")
			cursor, _ := cmd.Flags().GetString("cursor")

			params := db.ListQueriesParams{Limit: limit, Cursor: cursor}
			for _, s := range statuses {
				st := types.QueryStatus(strings.ToUpper(strings.TrimSpace(s)))
				if !st.Valid() {
					return types.NewAppError(types.ErrCodeValidationInvalidQuery, fmt.Sprintf("unknown status %q", s), nil)
				}
				params.Status = append(params.Status, st)
			}
			if level != "" {
				t, err := types.ParseTier(level)
				if err != nil {
					return types.NewAppError(types.ErrCodeValidationInvalidTier, err.Error(), nil)
				}
				params.Level = t
			}

			queries, info, err := rt.store.List(cmd.Context(), params)
			if err != nil {
				return err
			}
			if rt.json {
				if queries == nil {
					queries = []*types.Query{}
				}
				return printJSON(rt.out, api.APIResponse{Data: queries, PageInfo: &info})
			}
			if len(queries) == 0 {
				fmt.Fprintln(rt.out, "No queries found.")
				return nil
			}

			w := newTable(rt.out)
			fmt.Fprintln(w, "ID\tSTATUS\tLEVEL\tRESPONDED\tEMAIL\tSUBJECT\tCREATED")
			fmt.Fprintln(w, "--\t------\t-----\t---------\t-----\t-------\t-------")
			for _, q := range queries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					q.ID,
					statusColor(q.Status).Sprint(q.Status),
					shortTier(q.EscalationLevel),
					respondedTiers(q),
					q.Email,
					deref(q.Subject),
					formatTime(&q.CreatedAt),
				)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if info.HasMore {
				fmt.Fprintln(rt.out, faint.Sprintf("more results: --cursor %s", info.NextCursor))
			}
			return nil
		}),
	}
	cmd.Flags().StringSlice("status", nil, "filter by status (repeatable or comma separated)")
	cmd.Flags().String("level", "", "filter by escalation level (cs, manager, ceo)")
	cmd.Flags().Int("limit", 20, "page size (max 100)")
	cmd.Flags().String("cursor", "", "next_cursor from the previous page")
	return cmd
}

func (c *cli) respondCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "respond [query-id]",
		Short: "Record that a tier responded to a query",
		Long: `Set the responded flag for a tier. Any tier may be recorded, including
one the query has not reached. A response from the tier currently holding
the query stops further escalation.`,
		Args: cobra.ExactArgs(1),
		RunE: c.withRuntime(false, func(cmd *cobra.Command, rt *runtime, args []string) error {
			tierFlag, _ := cmd.Flags().GetString("tier")
			tier, err := types.ParseTier(tierFlag)
			if err != nil {
				return types.NewAppError(types.ErrCodeValidationInvalidTier, err.Error(), nil)
			}
			q, err := rt.store.MarkResponded(cmd.Context(), args[0], tier, rt.clock.Now())
			if err != nil {
				return err
			}
			if rt.json {
				return printJSON(rt.out, q)
			}
			fmt.Fprintf(rt.out, "%s %s response recorded for %s (status %s)\n",
				success.Sprint("✓"), tier, q.ID, statusColor(q.Status).Sprint(q.Status))
			return nil
		}),
	}
	cmd.Flags().String("tier", "", "responding tier: cs, manager or ceo (required)")
	_ = cmd.MarkFlagRequired("tier")
	return cmd
}

func (c *cli) resolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve [query-id]",
		Short: "Mark a query resolved",
		Args:  cobra.ExactArgs(1),
		RunE: c.withRuntime(false, func(cmd *cobra.Command, rt *runtime, args []string) error {
			q, err := rt.store.Resolve(cmd.Context(), args[0], rt.clock.Now())
			if err != nil {
				return err
			}
			if rt.json {
				return printJSON(rt.out, q)
			}
			fmt.Fprintf(rt.out, "%s Query %s resolved\n", success.Sprint("✓"), q.ID)
			return nil
		}),
	}
}

func (c *cli) notesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "notes [query-id] [text]",
		Short: "Replace the operator notes on a query",
		Args:  cobra.ExactArgs(2),
		RunE: c.withRuntime(false, func(cmd *cobra.Command, rt *runtime, args []string) error {
			if err := api.NewValidator(rt.logger).ValidateStruct(handlers.NotesRequest{Notes: args[1]}); err != nil {
				return err
			}
			q, err := rt.store.SetNotes(cmd.Context(), args[0], args[1], rt.clock.Now())
			if err != nil {
				return err
			}
			if rt.json {
				return printJSON(rt.out, q)
			}
			fmt.Fprintf(rt.out, "%s Notes updated for %s\n", success.Sprint("✓"), q.ID)
			return nil
		}),
	}
}

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	apperrors "github.com/kimhsiao/fieldsync/backend/internal/errors"
	"github.com/kimhsiao/fieldsync/backend/internal/models"
	syncsvc "github.com/kimhsiao/fieldsync/backend/internal/sync"
	"github.com/kimhsiao/fieldsync/backend/internal/sync/queue"
)

// =====================================================
// run
// =====================================================

func newRunCommand(opts *rootOptions) *cobra.Command {
	var online bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the sync engine in the foreground",
		Long: `Start the sync engine and keep pushing queued mutations until interrupted.

Each sweep result is printed as it completes.

Example:
  fieldsync run --online
  fieldsync run -c /etc/fieldsync.yaml -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			r, err := opts.openRuntime(ctx)
			if err != nil {
				return err
			}
			defer r.Close()

			if online {
				if err := r.SetOnline(true); err != nil {
					return err
				}
			}

			events, cancel := r.Sync.Subscribe()
			defer cancel()

			if err := r.Start(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.ErrOrStderr(), "Sync engine started. Press Ctrl-C to stop.")

			out := cmd.OutOrStdout()
			for {
				select {
				case <-ctx.Done():
					return nil
				case ev, ok := <-events:
					if !ok {
						return nil
					}
					if err := printEvent(out, opts.Output, ev); err != nil {
						return err
					}
				}
			}
		},
	}

	cmd.Flags().BoolVar(&online, "online", false, "start online (manual network mode)")
	return cmd
}

func printEvent(w io.Writer, format string, ev syncsvc.SyncEvent) error {
	switch format {
	case "json":
		// One event per line.
		return json.NewEncoder(w).Encode(ev)
	case "yaml":
		return render(w, format, ev, nil)
	}

	switch ev.Type {
	case syncsvc.EventCompleted:
		if ev.Result == nil || ev.Result.Selected == 0 {
			return nil
		}
		_, err := fmt.Fprintf(w, "%s sweep: %d synced, %d retrying, %d failed, %d remaining\n",
			ev.At.Format("15:04:05"), ev.Result.Synced, ev.Result.Retrying, ev.Result.Failed, ev.Result.Remaining)
		return err
	case syncsvc.EventFailed:
		_, err := fmt.Fprintf(w, "%s sweep failed: %s\n", ev.At.Format("15:04:05"), ev.Error)
		return err
	default:
		_, err := fmt.Fprintf(w, "%s %s, %d pending, %d errors\n",
			ev.At.Format("15:04:05"), onOff(ev.Status.IsOnline), ev.Status.PendingCount, ev.Status.ErrorCount)
		return err
	}
}

// =====================================================
// enqueue
// =====================================================

func newEnqueueCommand(opts *rootOptions) *cobra.Command {
	var tenant string

	cmd := &cobra.Command{
		Use:   "enqueue <create|update|delete> <entity-type> [payload-json|-]",
		Short: "Record a mutation in the local queue",
		Long: `Record a mutation in the local queue. The payload is a JSON object, read
from stdin when given as "-". Creates without an id get a generated one.

Example:
  fieldsync enqueue create land '{"name":"North field","acres":4.5}'
  fieldsync enqueue delete land '{"id":"0190b7c2-..."}' --tenant farm-1`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			op := models.Operation(strings.ToLower(args[0]))
			if !op.Valid() {
				return apperrors.Newf(apperrors.ErrInvalid, "unknown operation %q", args[0])
			}

			raw := "{}"
			if len(args) == 3 {
				raw = args[2]
			}
			if raw == "-" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read payload: %w", err)
				}
				raw = string(data)
			}
			payload, err := decodePayload(raw)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			r, err := opts.openRuntime(ctx)
			if err != nil {
				return err
			}
			defer r.Close()

			id, err := r.Sync.Enqueue(ctx, op, args[1], payload, tenant)
			if err != nil {
				return err
			}
			item, err := r.Store.Get(ctx, id)
			if err != nil {
				return err
			}

			view := newItemView(item)
			return render(cmd.OutOrStdout(), opts.Output, view, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "Queued #%d %s %s %s\n", view.ID, view.Operation, view.EntityType, view.RemoteID)
				return err
			})
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant id")
	return cmd
}

// decodePayload parses a JSON object, keeping numbers exact.
func decodePayload(raw string) (map[string]interface{}, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var payload map[string]interface{}
	if err := dec.Decode(&payload); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "payload must be a JSON object", err)
	}
	return payload, nil
}

// =====================================================
// status / sync / clear-failed
// =====================================================

func newStatusCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue counts and connectivity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			r, err := opts.openRuntime(ctx)
			if err != nil {
				return err
			}
			defer r.Close()

			st, err := r.Sync.Status(ctx)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), opts.Output, st, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "Network:  %s\nPending:  %d\nErrors:   %d\nSyncing:  %t\n",
					onOff(st.IsOnline), st.PendingCount, st.ErrorCount, st.SyncInProgress)
				return err
			})
		},
	}
}

func newSyncCommand(opts *rootOptions) *cobra.Command {
	var online bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sweep now",
		Long: `Run one sweep over the queue and print its result. Offline, nothing is sent.

Example:
  fieldsync sync --online`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			r, err := opts.openRuntime(ctx)
			if err != nil {
				return err
			}
			defer r.Close()

			if online {
				if err := r.SetOnline(true); err != nil {
					return err
				}
			}

			res, err := r.Sync.Sweep(ctx)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), opts.Output, res, func(w io.Writer) error {
				if res.Skipped {
					_, err := fmt.Fprintf(w, "Sweep skipped (%s)\n", res.SkipReason)
					return err
				}
				_, err := fmt.Fprintf(w, "Selected %d: %d synced, %d retrying, %d failed. %d remaining, %d cleaned.\n",
					res.Selected, res.Synced, res.Retrying, res.Failed, res.Remaining, res.Cleaned)
				return err
			})
		},
	}

	cmd.Flags().BoolVar(&online, "online", false, "treat the network as online (manual network mode)")
	return cmd
}

func newClearFailedCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-failed",
		Short: "Delete items that exhausted their retries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			r, err := opts.openRuntime(ctx)
			if err != nil {
				return err
			}
			defer r.Close()

			n, err := r.Sync.ClearFailedItems(ctx)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), opts.Output, map[string]int{"cleared": n}, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "Cleared %d failed item(s)\n", n)
				return err
			})
		},
	}
}

// =====================================================
// queue list
// =====================================================

func newQueueCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the local queue",
	}
	cmd.AddCommand(newQueueListCommand(opts))
	return cmd
}

func newQueueListCommand(opts *rootOptions) *cobra.Command {
	var (
		statuses []string
		entity   string
		tenant   string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queue items, oldest first",
		Long: `List queue items, oldest first.

Example:
  fieldsync queue list --status error,failed
  fieldsync queue list --entity land -o yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := queue.ListFilter{EntityType: entity, TenantID: tenant, Limit: limit}
			for _, s := range statuses {
				st := models.Status(strings.ToLower(s))
				if !st.Valid() {
					return apperrors.Newf(apperrors.ErrInvalid, "unknown status %q", s)
				}
				filter.Statuses = append(filter.Statuses, st)
			}

			ctx := cmd.Context()
			r, err := opts.openRuntime(ctx)
			if err != nil {
				return err
			}
			defer r.Close()

			items, err := r.Store.List(ctx, filter)
			if err != nil {
				return err
			}
			views := make([]itemView, 0, len(items))
			for _, item := range items {
				views = append(views, newItemView(item))
			}

			return render(cmd.OutOrStdout(), opts.Output, views, func(w io.Writer) error {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tOPERATION\tENTITY\tREMOTE ID\tSTATUS\tRETRIES\tLAST ERROR")
				for _, v := range views {
					fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\t%s\n",
						v.ID, v.Operation, v.EntityType, v.RemoteID, v.Status, v.RetryCount, v.LastError)
				}
				return tw.Flush()
			})
		},
	}

	cmd.Flags().StringSliceVar(&statuses, "status", nil, "filter by status (pending|syncing|synced|error|failed)")
	cmd.Flags().StringVar(&entity, "entity", "", "filter by entity type")
	cmd.Flags().StringVar(&tenant, "tenant", "", "filter by tenant id")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of items (0 = all)")
	return cmd
}

// =====================================================
// version
// =====================================================

func newVersionCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return render(cmd.OutOrStdout(), opts.Output, map[string]string{"version": Version}, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "FieldSync v%s\n", Version)
				return err
			})
		},
	}
}

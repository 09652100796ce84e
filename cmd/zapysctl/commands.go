package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"zapys/internal/booking"

	"github.com/spf13/cobra"
)

func newSlotsCmd(a *app) *cobra.Command {
	var date string
	c := &cobra.Command{
		Use:   "slots",
		Short: "List free slots of a day",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			loc := e.engine.Rules().Location
			day, err := time.ParseInLocation("2006-01-02", date, loc)
			if err != nil {
				return fmt.Errorf("invalid --date (want YYYY-MM-DD)")
			}
			slots, err := e.engine.FreeSlots(cmd.Context(), day)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(slots) == 0 {
				fmt.Fprintf(out, "%s: no free slots\n", date)
				return nil
			}
			labels := make([]string, 0, len(slots))
			for _, s := range slots {
				labels = append(labels, s.In(loc).Format("15:04"))
			}
			fmt.Fprintf(out, "%s: %s\n", date, strings.Join(labels, " "))
			return nil
		},
	}
	c.Flags().StringVar(&date, "date", time.Now().Format("2006-01-02"), "day (YYYY-MM-DD)")
	return c
}

func newReservationsCmd(a *app) *cobra.Command {
	var (
		userID int64
		all    bool
	)
	c := &cobra.Command{
		Use:   "reservations",
		Short: "List a user's reservations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID <= 0 {
				return errors.New("--user is required")
			}
			e, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			list, err := e.engine.Reservations(cmd.Context(), userID)
			if all {
				list, err = e.db.ListReservationsByUser(cmd.Context(), userID)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintln(out, "no reservations")
				return nil
			}
			loc := e.engine.Rules().Location
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CODE\tSTART\tNAME\tPHONE\tEVENT")
			for _, r := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					r.RecordCode, r.Start.In(loc).Format("02.01.2006 15:04"), r.Fields.FullName, r.Fields.Phone, r.EventID)
			}
			return w.Flush()
		},
	}
	c.Flags().Int64Var(&userID, "user", 0, "telegram user id")
	c.Flags().BoolVar(&all, "all", false, "include past reservations")
	return c
}

func newCancelCmd(a *app) *cobra.Command {
	var (
		userID int64
		code   string
	)
	c := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel a user's reservation by record code",
		Long: `Cancel a user's reservation by record code.

The reservation is removed from the local store and, unless --offline is set,
from the remote calendar. A running bot keeps the slot blocked in its
in-memory ledger until it restarts or the day passes; cancel through the bot
when the slot must be bookable again right away.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID <= 0 || code == "" {
				return errors.New("--user and --code are required")
			}
			e, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			r, err := e.engine.CancelByCode(cmd.Context(), userID, code)
			if errors.Is(err, booking.ErrNotFound) {
				return fmt.Errorf("reservation %s of user %d not found", code, userID)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cancelled %s (%s)\n", r.RecordCode, r.Start.In(e.engine.Rules().Location).Format("02.01.2006 15:04"))
			return nil
		},
	}
	c.Flags().Int64Var(&userID, "user", 0, "telegram user id")
	c.Flags().StringVar(&code, "code", "", "record code, e.g. REC-20251117-1400")
	return c
}

func newSyncFailedCmd(a *app) *cobra.Command {
	var requeue bool
	c := &cobra.Command{
		Use:   "sync-failed",
		Short: "List spreadsheet sync tasks that ran out of retries",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			out := cmd.OutOrStdout()
			if requeue {
				n, err := e.db.RequeueFailedSyncTasks(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "requeued %d task(s)\n", n)
				return nil
			}

			tasks, err := e.db.GetFailedSyncTasks(cmd.Context())
			if err != nil {
				return err
			}
			if len(tasks) == 0 {
				fmt.Fprintln(out, "no failed tasks")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTYPE\tCODE\tRETRIES\tERROR")
			for _, t := range tasks {
				lastErr := ""
				if t.LastError != nil {
					lastErr = *t.LastError
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n", t.ID, t.TaskType, t.RecordCode, t.RetryCount, lastErr)
			}
			return w.Flush()
		},
	}
	c.Flags().BoolVar(&requeue, "requeue", false, "move failed tasks back to the queue")
	return c
}

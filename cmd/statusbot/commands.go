package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/statusbot/internal/config"
	"github.com/kalambet/statusbot/internal/directory"
	"github.com/kalambet/statusbot/internal/ledger"
	"github.com/kalambet/statusbot/internal/reminder"
	"github.com/kalambet/statusbot/internal/storage"
)

// --- remind ---

var remindCmd = &cobra.Command{
	Use:   "remind",
	Short: "Fire reminder cycles by hand or inspect the schedule",
}

var remindBroadcastCmd = &cobra.Command{
	Use:   "broadcast",
	Short: "Send the update request to every employee",
	Long: `Send the update request to every employee under a cycle label.

Examples:
  statusbot remind broadcast --cycle mon-update`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRemind(cmd, "broadcast")
	},
}

var remindNudgeCmd = &cobra.Command{
	Use:   "nudge",
	Short: "Remind employees whose update is overdue",
	Long: `Send the follow-up to employees whose last update is older than the
grace window.

Examples:
  statusbot remind nudge --cycle tue-followup`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRemind(cmd, "nudge")
	},
}

var remindScheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "List reminder cycles and when each fires next",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		schedule, err := reminder.LoadSchedule(cfg.Reminders.SchedulePath, cfg.Reminders.Timezone)
		if err != nil {
			return err
		}
		printSchedule(schedule, time.Now())
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{remindBroadcastCmd, remindNudgeCmd} {
		c.Flags().String("cycle", "", "cycle label, e.g. mon-update")
		remindCmd.AddCommand(c)
	}
	remindCmd.AddCommand(remindScheduleCmd)
}

func runRemind(cmd *cobra.Command, action string) error {
	cycle, _ := cmd.Flags().GetString("cycle")
	if cycle == "" {
		return fmt.Errorf("--cycle is required")
	}

	client, err := newAPIClient()
	if err != nil {
		return err
	}

	report, err := fireReminder(cmd.Context(), client, action, cycle)
	if err != nil {
		return err
	}

	printSuccess("%s %s: sent %d of %d", report.Cycle, report.Action, report.Sent, report.Targeted)
	if report.Failed > 0 {
		printWarning("%d deliveries failed, see server log", report.Failed)
	}
	return nil
}

func fireReminder(ctx context.Context, client *apiClient, action, cycle string) (reminder.Report, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	resp, err := client.post(ctx, "/admin/reminders/"+action+"?cycle="+url.QueryEscape(cycle))
	if err != nil {
		return reminder.Report{}, err
	}
	var report reminder.Report
	if err := decodeJSON(resp, &report); err != nil {
		return reminder.Report{}, err
	}
	return report, nil
}

func printSchedule(s reminder.Schedule, now time.Time) {
	printStatus("Timezone", "%s", s.Location)
	w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "CYCLE\tACTION\tWHEN\tNEXT")
	for _, c := range s.Cycles {
		next := c.NextFire(now, s.Location)
		fmt.Fprintf(w, "%s\t%s\t%s %02d:%02d\t%s\n",
			c.Label, c.Action, c.Weekday, c.Hour, c.Minute, next.Format("2006-01-02 15:04"))
	}
	w.Flush()
}

// --- ledger ---

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect the update ledger",
}

var ledgerShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show when each employee last sent an update",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		records, err := fetchLedger(cmd.Context(), client)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			printWarning("no updates recorded yet")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
		fmt.Fprintln(w, "EMAIL\tLAST UPDATE")
		for _, r := range records {
			fmt.Fprintf(w, "%s\t%s\n", r.Email, r.LastUpdateAt.Local().Format(time.RFC3339))
		}
		return w.Flush()
	},
}

var ledgerSubmissionsCmd = &cobra.Command{
	Use:   "submissions",
	Short: "Show recently delivered submissions (sqlite ledger only)",
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		subs, err := fetchSubmissions(cmd.Context(), client, email, limit)
		if err != nil {
			return err
		}
		if len(subs) == 0 {
			printWarning("no submissions recorded yet")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
		fmt.Fprintln(w, "WHEN\tEMAIL\tSOURCE\tCHANNEL\tEVENT")
		for _, s := range subs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				s.CreatedAt.Local().Format(time.RFC3339), s.Email, s.Source, s.ChannelID, s.EventKey)
		}
		return w.Flush()
	},
}

func init() {
	ledgerSubmissionsCmd.Flags().String("email", "", "only show submissions from this employee")
	ledgerSubmissionsCmd.Flags().Int("limit", 20, "maximum number of submissions")
	ledgerCmd.AddCommand(ledgerShowCmd, ledgerSubmissionsCmd)
}

func fetchLedger(ctx context.Context, client *apiClient) ([]ledger.Record, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	resp, err := client.get(ctx, "/admin/ledger")
	if err != nil {
		return nil, err
	}
	var records []ledger.Record
	if err := decodeJSON(resp, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func fetchSubmissions(ctx context.Context, client *apiClient, email string, limit int) ([]storage.Submission, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	q := url.Values{}
	if email != "" {
		q.Set("email", email)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/admin/submissions"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	resp, err := client.get(ctx, path)
	if err != nil {
		return nil, err
	}
	var subs []storage.Submission
	if err := decodeJSON(resp, &subs); err != nil {
		return nil, err
	}
	return subs, nil
}

// --- overdue ---

var overdueCmd = &cobra.Command{
	Use:   "overdue",
	Short: "List employees a nudge would reach now",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		overdue, err := fetchOverdue(cmd.Context(), client)
		if err != nil {
			return err
		}
		if len(overdue) == 0 {
			printSuccess("everyone is up to date")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
		fmt.Fprintln(w, "EMAIL\tNAME\tLAST UPDATE")
		for _, o := range overdue {
			last := "never"
			if o.LastUpdateAt != nil {
				last = o.LastUpdateAt.Local().Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", o.Email, o.Name, last)
		}
		return w.Flush()
	},
}

func fetchOverdue(ctx context.Context, client *apiClient) ([]reminder.OverdueEmployee, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	resp, err := client.get(ctx, "/admin/overdue")
	if err != nil {
		return nil, err
	}
	var overdue []reminder.OverdueEmployee
	if err := decodeJSON(resp, &overdue); err != nil {
		return nil, err
	}
	return overdue, nil
}

// --- directory ---

var directoryCmd = &cobra.Command{
	Use:   "directory",
	Short: "Inspect the employee directory",
}

var directoryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List employees and their domain channels",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("file")
		if path == "" {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			path = cfg.Directory.Path
		}
		dir, err := directory.Load(path)
		if err != nil {
			return err
		}
		printDirectory(dir)
		return nil
	},
}

func init() {
	directoryListCmd.Flags().String("file", "", "roster file (defaults to directory.path)")
	directoryCmd.AddCommand(directoryListCmd)
}

func printDirectory(dir *directory.Directory) {
	w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "EMAIL\tNAME\tCHANNEL")
	for _, e := range dir.All() {
		fmt.Fprintf(w, "%s\t%s\t#%s\n", e.Email, e.Name, e.Domain)
	}
	w.Flush()
	printStatus("Employees", "%d", dir.Len())
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

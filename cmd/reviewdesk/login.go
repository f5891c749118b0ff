package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/foxzi/reviewdesk/internal/app"
	"github.com/foxzi/reviewdesk/internal/journal"
	"github.com/foxzi/reviewdesk/internal/session"
)

var (
	loginPassword   string
	historyCampaign string
	historyState    string
	historyLimit    int
)

var loginCmd = &cobra.Command{
	Use:   "login <email>",
	Short: "Check credentials against the backend identity records",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogin,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show finished reconciliations from the journal",
	RunE:  runHistory,
}

func init() {
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "Password (will prompt if not provided)")

	historyCmd.Flags().StringVar(&historyCampaign, "campaign", "", "Filter by campaign id")
	historyCmd.Flags().StringVar(&historyState, "state", "", "Filter by state (confirmed, timed_out, failed, canceled)")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 50, "Maximum number of entries to show")

	rootCmd.AddCommand(loginCmd, historyCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	password := loginPassword
	if password == "" {
		fmt.Print("Enter password: ")
		pwBytes, err := term.ReadPassword(int(syscall.Stdin))
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Println()
		password = string(pwBytes)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	v := session.NewValidator(app.NewGateway(cfg.Gateway), cfg.Auth.TrustSingleRecord, logger)

	u, err := v.ValidateCredentials(context.Background(), args[0], password)
	if err != nil {
		return err
	}

	fmt.Printf("Credentials valid\n")
	fmt.Printf("  Name:  %s\n", u.Name)
	fmt.Printf("  Email: %s\n", u.Email)
	fmt.Printf("  Role:  %s\n", u.Role)
	if u.IsFirstLogin {
		fmt.Printf("  Password change required on first login\n")
	}
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	j, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer j.Close()

	entries, err := j.List(context.Background(), journal.ListFilter{
		CampaignID: historyCampaign,
		State:      historyState,
		Limit:      historyLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to list reconciliations: %w", err)
	}

	if len(entries) == 0 {
		fmt.Println("No reconciliations recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FINISHED\tCAMPAIGN\tACTION\tSTATE\tATTEMPTS\tERROR")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			e.FinishedAt.Format("2006-01-02 15:04:05"), e.CampaignID, e.Action, e.State, e.Attempts, e.Error)
	}
	return w.Flush()
}

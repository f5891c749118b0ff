package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/foxzi/reviewdesk/internal/app"
	"github.com/foxzi/reviewdesk/internal/campaign"
	"github.com/foxzi/reviewdesk/internal/reconcile"
	"github.com/foxzi/reviewdesk/internal/store"
)

var campaignsListStatus string

var campaignsCmd = &cobra.Command{
	Use:   "campaigns",
	Short: "Campaign commands",
}

var campaignsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Fetch and list active campaigns from the backend",
	RunE:  runCampaignsList,
}

var campaignsSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Ask the backend to resynchronize, then list campaigns",
	RunE:  runCampaignsSync,
}

var designerCmd = &cobra.Command{
	Use:   "designer",
	Short: "Designer commands",
}

var designerAddCmd = &cobra.Command{
	Use:   "add <name> <email>",
	Short: "Register a designer and their first-login account",
	Args:  cobra.ExactArgs(2),
	RunE:  runDesignerAdd,
}

func init() {
	campaignsListCmd.Flags().StringVar(&campaignsListStatus, "status", "", "Filter by status (new, design_uploaded, approved, rejected)")

	campaignsCmd.AddCommand(campaignsListCmd, campaignsSyncCmd)
	designerCmd.AddCommand(designerAddCmd)
	rootCmd.AddCommand(campaignsCmd, designerCmd)
}

// newController builds a controller without persistence for one-shot commands
func newController() (*reconcile.Controller, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if cfg.Logging.Level == "debug" {
		logger = app.NewLogger(cfg.Logging)
	}
	return reconcile.New(app.NewGateway(cfg.Gateway), store.New(), nil, nil, app.ControllerOptions(cfg), logger), nil
}

func runCampaignsList(cmd *cobra.Command, args []string) error {
	ctrl, err := newController()
	if err != nil {
		return err
	}
	defer ctrl.Close()

	if err := ctrl.Refresh(context.Background()); err != nil {
		return fmt.Errorf("failed to fetch campaigns: %w", err)
	}
	return printCampaigns(os.Stdout, ctrl.GetCampaigns(), campaignsListStatus)
}

func runCampaignsSync(cmd *cobra.Command, args []string) error {
	ctrl, err := newController()
	if err != nil {
		return err
	}
	defer ctrl.Close()

	if err := ctrl.Sync(context.Background()); err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}
	fmt.Println("Backend resynchronized")
	return printCampaigns(os.Stdout, ctrl.GetCampaigns(), "")
}

func printCampaigns(out io.Writer, list []campaign.Campaign, status string) error {
	var want campaign.Status
	if status != "" {
		st, ok := campaign.ParseStatus(status)
		if !ok {
			return fmt.Errorf("unknown status %q", status)
		}
		want = st
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCAMPAIGN\tSTATUS\tDESIGNER\tDEADLINE")
	n := 0
	for _, c := range list {
		if want != "" && c.Status != want {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", c.ID, c.CampaignName, c.Status, c.DesignerName, c.Deadline)
		n++
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "\nTotal: %d campaigns\n", n)
	return nil
}

func runDesignerAdd(cmd *cobra.Command, args []string) error {
	ctrl, err := newController()
	if err != nil {
		return err
	}
	defer ctrl.Close()

	d, err := ctrl.AddDesigner(context.Background(), args[0], args[1])
	if err != nil {
		return fmt.Errorf("failed to add designer: %w", err)
	}
	fmt.Printf("Designer added: %s <%s> (id %s)\n", d.Name, d.Email, d.ID)
	return nil
}

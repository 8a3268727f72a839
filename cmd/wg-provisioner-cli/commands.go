package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/EternisAI/wg-provisioner/internal/api/http/dto"
)

func runProvision(ctx context.Context, c *apiClient, args []string) error {
	fs := flag.NewFlagSet("provision", flag.ExitOnError)
	name := fs.String("name", "", "Unique client name (letters and digits only)")
	plan := fs.String("plan", "", "Plan name, see `plans`")
	days := fs.Int("days", 0, "Custom validity in days")
	hours := fs.Int("hours", 0, "Custom validity in hours")
	outDir := fs.String("out", config.Output.Dir, "Directory to save the config and QR code")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *name == "" {
		return fmt.Errorf("--name is required")
	}
	if *plan == "" && *days == 0 && *hours == 0 {
		return fmt.Errorf("--plan or --days/--hours is required")
	}

	var resp dto.ProvisionResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/clients", dto.ProvisionRequest{
		Identity: *name,
		Plan:     *plan,
		Days:     *days,
		Hours:    *hours,
	}, &resp)
	if err != nil {
		return fmt.Errorf("provisioning failed: %w", err)
	}

	if err := os.MkdirAll(*outDir, 0700); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", *outDir, err)
	}
	confPath := filepath.Join(*outDir, resp.Client.Identity+".conf")
	qrPath := filepath.Join(*outDir, resp.Client.Identity+"_qr.png")

	if err := os.WriteFile(confPath, []byte(resp.Config), 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.WriteFile(qrPath, resp.QRPNG, 0600); err != nil {
		return fmt.Errorf("failed to write QR code: %w", err)
	}

	fmt.Println("Provisioning successful!")
	fmt.Printf("  Client:  %s\n", resp.Client.Identity)
	fmt.Printf("  Address: %s\n", resp.Client.Address)
	fmt.Printf("  Plan:    %s\n", resp.Client.Plan)
	fmt.Printf("  Expires: %s UTC\n", resp.Client.ExpiresAt.UTC().Format("2006-01-02 15:04"))
	fmt.Printf("  Config:  %s\n", confPath)
	fmt.Printf("  QR:      %s\n", qrPath)
	return nil
}

func runDecommission(ctx context.Context, c *apiClient, args []string) error {
	fs := flag.NewFlagSet("decommission", flag.ExitOnError)
	name := fs.String("name", "", "Client name to delete")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" {
		return fmt.Errorf("--name is required")
	}

	if err := c.do(ctx, http.MethodDelete, "/api/v1/clients/"+url.PathEscape(*name), nil, nil); err != nil {
		return fmt.Errorf("decommission failed: %w", err)
	}
	fmt.Printf("Client %s deleted\n", *name)
	return nil
}

func runList(ctx context.Context, c *apiClient, args []string) error {
	var resp dto.ListClientsResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/clients", nil, &resp); err != nil {
		return err
	}
	if resp.Count == 0 {
		fmt.Println("No clients")
		return nil
	}

	now := time.Now()
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tPLAN\tEXPIRES (UTC)\tSTATUS")
	for _, cl := range resp.Clients {
		status := "active"
		switch {
		case cl.Expired:
			status = "expired"
		case cl.ExpiresAt.Sub(now) < 24*time.Hour:
			status = fmt.Sprintf("%dh left", int(cl.ExpiresAt.Sub(now).Hours()))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			cl.Identity, cl.Address, cl.Plan, cl.ExpiresAt.UTC().Format("2006-01-02 15:04"), status)
	}
	return w.Flush()
}

func runStats(ctx context.Context, c *apiClient, args []string) error {
	var resp dto.StatsResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/stats", nil, &resp); err != nil {
		return err
	}
	fmt.Printf("Clients: %d (%d active, %d expired)\n", resp.Count, resp.Active, resp.Expired)
	fmt.Printf("Pool:    %d of %d addresses free\n", resp.PoolAvailable, resp.PoolSize)

	plans := make([]string, 0, len(resp.PerPlan))
	for p := range resp.PerPlan {
		plans = append(plans, p)
	}
	sort.Strings(plans)
	for _, p := range plans {
		fmt.Printf("  %-10s %d\n", p, resp.PerPlan[p])
	}
	return nil
}

func runPlans(ctx context.Context, c *apiClient, args []string) error {
	var resp dto.ListPlansResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/plans", nil, &resp); err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PLAN\tDURATION\tPRICES")
	for _, p := range resp.Plans {
		fmt.Fprintf(w, "%s\t%s\t%v\n", p.Name, formatDuration(p.Days, p.Hours), p.Prices)
	}
	return w.Flush()
}

func formatDuration(days, hours int) string {
	switch {
	case days > 0 && hours > 0:
		return fmt.Sprintf("%dd %dh", days, hours)
	case days > 0:
		return fmt.Sprintf("%dd", days)
	default:
		return fmt.Sprintf("%dh", hours)
	}
}

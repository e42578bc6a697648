package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"sentinel-monitor/internal/storage"
)

// Agents prints the configured sentinels and their state.
func (a *App) Agents(ctx context.Context, opts AgentsOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot list sentinels")
	}
	defer closeStore()

	filter := storage.SentinelFilter{}
	if opts.ActiveOnly {
		active := true
		filter.Active = &active
	}

	sentinels, err := store.ListSentinels(ctx, filter)
	if err != nil {
		return err
	}
	if len(sentinels) == 0 {
		fmt.Fprintln(os.Stdout, "no sentinels found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tName\tNetwork\tCondition\tThreshold\tToken\tChecks\tActive\tCreated (UTC)")

	for _, snt := range sentinels {
		checks, err := store.CountActivities(ctx, snt.ID)
		if err != nil {
			return err
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%d\t%t\t%s\n",
			snt.ID,
			snt.Name,
			snt.Network,
			snt.Condition,
			snt.Threshold.String(),
			snt.PaymentPreference(),
			checks,
			snt.Active,
			snt.CreatedAt.UTC().Format(time.RFC3339),
		)
	}

	writer.Flush()
	return nil
}

package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
)

// Show prints a sentinel's recent activity records, newest first.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	id, err := uuid.Parse(opts.SentinelID)
	if err != nil {
		return fmt.Errorf("invalid sentinel id %q: %w", opts.SentinelID, err)
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show activity")
	}
	defer closeStore()

	records, err := store.ListActivitiesBySentinel(ctx, id, opts.Limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(os.Stdout, "no activity found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tPrice\tFee\tToken\tLatency\tTriggered\tStatus\tTx\tError")

	for _, rec := range records {
		errMsg := ""
		if rec.Error != nil {
			errMsg = sanitizeInline(*rec.Error)
		}
		txRef := ""
		if rec.TxRef != nil {
			txRef = shortRef(*rec.TxRef)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%dms\t%t\t%s\t%s\t%s\n",
			rec.CreatedAt.UTC().Format(time.RFC3339),
			rec.Price.StringFixed(4),
			rec.Fee.String(),
			rec.TokenUsed,
			rec.LatencyMS,
			rec.Triggered,
			rec.Status,
			txRef,
			errMsg,
		)
	}

	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}

// shortRef abbreviates a transaction hash for table output.
func shortRef(ref string) string {
	if len(ref) <= 14 {
		return ref
	}
	return ref[:10] + "…" + ref[len(ref)-4:]
}

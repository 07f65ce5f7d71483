package main

import (
	"fmt"
	"io"
	"time"

	"github.com/draftsend/draftsend/internal/auth"
	"github.com/draftsend/draftsend/internal/dispatch"
)

// reporter prints one line per batch and per pause
type reporter struct {
	w io.Writer
}

func newReporter(w io.Writer) *reporter {
	return &reporter{w: w}
}

func (r *reporter) observe(ev dispatch.Event) {
	switch ev.Kind {
	case dispatch.EventBatchSent:
		if ev.Succeeded {
			fmt.Fprintf(r.w, "batch %d/%d: sent to %d addresses in %s\n",
				ev.BatchIndex, ev.TotalBatches, ev.AddressCount, ev.Duration.Round(time.Millisecond))
			return
		}
		fmt.Fprintf(r.w, "batch %d/%d: failed: %s\n", ev.BatchIndex, ev.TotalBatches, failureText(ev))
	case dispatch.EventPausing:
		fmt.Fprintf(r.w, "waiting %s before batch %d/%d\n", ev.Delay, ev.BatchIndex+1, ev.TotalBatches)
	}
}

func failureText(ev dispatch.Event) string {
	switch {
	case ev.StatusCode != 0 && ev.Detail != "":
		return fmt.Sprintf("%d %s", ev.StatusCode, ev.Detail)
	case ev.StatusCode != 0:
		return fmt.Sprintf("status %d", ev.StatusCode)
	case ev.Detail != "":
		return ev.Detail
	default:
		return "unknown error"
	}
}

// exitCode maps an outcome to the process exit status
func exitCode(out dispatch.Outcome) int {
	switch {
	case out.State == dispatch.StateAborted:
		return 1
	case out.Failed > 0:
		return 2
	default:
		return 0
	}
}

func printPrompt(w io.Writer, p auth.DevicePrompt) {
	fmt.Fprintf(w, "To sign in, open %s and enter the code %s\n", p.VerificationURL, p.UserCode)
	if p.QRCode != "" {
		fmt.Fprintln(w, p.QRCode)
	}
	if !p.ExpiresAt.IsZero() {
		fmt.Fprintf(w, "The code expires at %s.\n", p.ExpiresAt.Local().Format(time.Kitchen))
	}
}

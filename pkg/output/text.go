package output

import (
	"fmt"
	"io"
	"text/tabwriter"

	"vertex-audit/pkg/analysis"
	"vertex-audit/pkg/normalize"
)

// WriteText renders a report for terminals.
func WriteText(w io.Writer, r *analysis.Report) error {
	ew := &errWriter{w: w}
	ew.printf("Risk level: %s\n", r.RiskLevel)
	ew.printf("Events: %d  Critical: %d  Attack chains: %d  Rule alerts: %d\n\n",
		len(r.Events), len(r.CriticalIndices), len(r.AttackChains), len(r.Alerts))
	ew.printf("%s\n", r.Narrative)

	if len(r.CriticalIndices) > 0 {
		ew.printf("\nCritical events:\n")
		tw := tabwriter.NewWriter(ew, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "  #\tTIME\tUSER\tIP\tEVENT\tDETAIL")
		for _, i := range r.CriticalIndices {
			e := r.Events[i]
			fmt.Fprintf(tw, "  %d\t%s\t%s\t%s\t%s\t%s\n", i, e.Timestamp, e.User, e.IP, e.Event, normalize.Humanize(e))
		}
		_ = tw.Flush()
	}

	if len(r.AttackChains) > 0 {
		ew.printf("\nAttack chains:\n")
		for _, c := range r.AttackChains {
			ew.printf("  %s -> %s  %s (%.2f)\n", c.From, c.To, c.Relationship, c.Confidence)
		}
	}

	if len(r.Alerts) > 0 {
		ew.printf("\nRule alerts:\n")
		for _, a := range r.Alerts {
			ew.printf("  [%s] %s: event #%d %s\n", a.Severity, a.RuleID, a.EventIndex, a.Message)
		}
	}
	return ew.err
}

type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) Write(p []byte) (int, error) {
	if e.err != nil {
		return 0, e.err
	}
	n, err := e.w.Write(p)
	e.err = err
	return n, err
}

func (e *errWriter) printf(format string, args ...interface{}) {
	fmt.Fprintf(e, format, args...)
}

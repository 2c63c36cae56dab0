package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/chroma/v2/quick"

	"github.com/sidecar-core/sidecar/internal/agentmodel"
)

// ColorEnabled reports whether the audit reader should colourize output;
// $NO_COLOR disables it per the environment contract.
func ColorEnabled() bool {
	_, noColor := os.LookupEnv("NO_COLOR")
	return !noColor
}

// Render writes events one JSON object per line, syntax-highlighted for a
// terminal when color is true.
func Render(w io.Writer, events []agentmodel.AuditEvent, color bool) error {
	for _, ev := range events {
		line, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if !color {
			if _, err := fmt.Fprintf(w, "%s\n", line); err != nil {
				return err
			}
			continue
		}
		if err := quick.Highlight(w, string(line), "json", "terminal256", "monokai"); err != nil {
			// Highlighting failure degrades to plain output.
			if _, werr := fmt.Fprintf(w, "%s", line); werr != nil {
				return werr
			}
		}
		if _, err := fmt.Fprintln(w); err != nil {
			return err
		}
	}
	return nil
}

package launcher

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

// Report formats accepted by WriteReport
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// WriteReport renders the summary in the given format
func WriteReport(w io.Writer, s *Summary, format string) error {
	switch strings.ToLower(format) {
	case "", FormatText:
		return writeText(w, s)
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(s); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown report format %q (want text, json or yaml)", format)
	}
}

func writeText(w io.Writer, s *Summary) error {
	switch s.Outcome {
	case OutcomeHealthy:
		fmt.Fprintf(w, "launch %s: all %d instances healthy\n", s.LaunchID, len(s.Instances))
	case OutcomeDegraded:
		failed := s.FailedOrdinals()
		fmt.Fprintf(w, "launch %s: %d of %d instances degraded (ordinals %s)\n",
			s.LaunchID, len(failed), len(s.Instances), joinInts(failed))
	default:
		fmt.Fprintf(w, "launch %s: aborted [%s] %s\n", s.LaunchID, s.ErrorCode, s.Error)
	}

	if s.ArtifactDigest != "" {
		fmt.Fprintf(w, "artifact %s (sha256 %s)\n", s.ArtifactPath, s.ArtifactDigest)
	}
	if len(s.Unconsumed) > 0 {
		fmt.Fprintf(w, "unconsumed payloads for ordinals %s\n", joinInts(s.Unconsumed))
	}
	if len(s.Instances) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ORDINAL\tINSTANCE\tADDRESS\tPID\tSTATE\tEXIT\tREADY\tERROR")
	for _, inst := range s.Instances {
		errText := "-"
		if inst.Failed() {
			errText = string(inst.ErrorCode)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t%d\t%t\t%s\n",
			inst.Ordinal, inst.InstanceName, inst.Address, inst.PID,
			inst.State, inst.ExitCode, inst.Ready, errText)
	}
	return tw.Flush()
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

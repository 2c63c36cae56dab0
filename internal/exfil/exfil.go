// Package exfil implements the Exfiltration Detector of spec.md §4.13: a
// line/segment scanner run by the PTY Wrapper on every output chunk,
// matching network-transmitting commands and sensitive-data patterns.
// Grounded on the "scan every output chunk from the PTY" shape of
// other_examples/0537b7fd_standardbeagle-devtool-mcp__cmd-agnt-run.go.go
// (which proxies and inspects PTY output for its own overlay protocol), and
// on the Auto-Approve Service's own sanitization regex-table idiom for the
// sensitive-pattern catalogue style.
package exfil

import (
	"log/slog"
	"regexp"
	"strings"
)

// networkCommands is the built-in catalogue of network-transmitting
// commands, matched at line boundaries and in backticked code.
var networkCommands = []string{
	"curl", "wget", "scp", "rsync", "aws", "gsutil", "az", "ftp", "sftp",
	"nc ", "netcat", "ssh ", "rclone", "http ", "httpie",
}

// networkCommandRE matches a command name at the start of a shell line or
// backticked span (e.g. "$ curl ..." or "`curl ...`").
var networkCommandRE = regexp.MustCompile(`(?m)(?:^\s*[$#>]?\s*|` + "`" + `)(` + join(networkCommands) + `)`)

func join(cmds []string) string {
	var b strings.Builder
	for i, c := range cmds {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(regexp.QuoteMeta(strings.TrimSpace(c)))
	}
	return b.String()
}

// sensitivePattern is one named sensitive-data regex.
type sensitivePattern struct {
	name string
	re   *regexp.Regexp
}

var sensitivePatterns = []sensitivePattern{
	{"openai_api_key", regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`)},
	{"github_token", regexp.MustCompile(`gh[ps]_[A-Za-z0-9]{30,}`)},
	{"aws_access_key", regexp.MustCompile(`AKIA[0-9A-Z]{16}`)},
	{"generic_bearer_token", regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9\-_.]{20,}`)},
	{"private_key", regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`)},
	{"anthropic_api_key", regexp.MustCompile(`sk-ant-[A-Za-z0-9\-_]{20,}`)},
	{"google_api_key", regexp.MustCompile(`AIza[0-9A-Za-z\-_]{35}`)},
	{"slack_token", regexp.MustCompile(`xox[baprs]-[A-Za-z0-9\-]{10,}`)},
}

// Detector scans PTY output chunks for outbound network commands and
// sensitive data, logging at info (transmission only) or warn (transmission
// plus sensitive data).
type Detector struct {
	enabled bool
	logger  *slog.Logger
}

// New builds an enabled Detector logging through logger (or slog.Default if
// nil).
func New(logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{enabled: true, logger: logger}
}

// SetEnabled disables or re-enables scanning; disabling short-circuits all
// scanning of subsequent chunks.
func (d *Detector) SetEnabled(enabled bool) { d.enabled = enabled }

// Scan inspects one output chunk, logging any findings. Returns the matched
// sensitive-pattern names found, for callers that want to react (e.g. tests).
func (d *Detector) Scan(chunk string) []string {
	if !d.enabled {
		return nil
	}
	if !networkCommandRE.MatchString(chunk) {
		return nil
	}

	var found []string
	for _, p := range sensitivePatterns {
		if p.re.MatchString(chunk) {
			found = append(found, p.name)
		}
	}

	cmd := networkCommandRE.FindString(chunk)
	if len(found) == 0 {
		d.logger.Info("exfil: network-transmitting command detected", "command", strings.TrimSpace(cmd))
		return nil
	}
	for _, name := range found {
		d.logger.Warn("exfil: network command alongside sensitive data", "command", strings.TrimSpace(cmd), "pattern", name)
	}
	return found
}

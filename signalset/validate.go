package signalset

import (
	"strings"

	"obd-signal-core/codec"
	"obd-signal-core/report"
)

// Options tunes document validation.
type Options struct {
	// VehiclePrefix, when set, must start every signal id.
	VehiclePrefix string
}

// Validate checks the whole document and every signal format. It never stops
// at the first problem.
func Validate(doc *Document, opts Options) *report.Report {
	r := &report.Report{}
	seen := map[string]string{}

	for ci := range doc.Commands {
		cmd := &doc.Commands[ci]
		key := cmd.Key()
		for _, issue := range validateCommand(cmd) {
			r.Add(issue.InCommand(key))
		}

		for si := range cmd.Signals {
			sig := &cmd.Signals[si]
			if strings.TrimSpace(sig.ID) == "" {
				r.Add(report.New(report.MissingSignalID, "", "signal %d (%q) has no id", si+1, sig.Name).InCommand(key))
				continue
			}
			if prev, dup := seen[sig.ID]; dup {
				r.Add(report.New(report.DuplicateSignalID, sig.ID,
					"id already declared in command %s", prev).InCommand(key))
			} else {
				seen[sig.ID] = key
			}
			for _, issue := range validateSignal(sig, opts) {
				r.Add(issue.WithSignal(sig.ID).InCommand(key))
			}
		}
	}
	return r
}

func validateCommand(cmd *Command) []*report.Issue {
	var issues []*report.Issue

	if _, err := parseHeader(cmd.Header); err != nil {
		issues = append(issues, report.New(report.MalformedHeader, "", "hdr: %v", err))
	}
	if cmd.ResponseAddress != "" {
		if _, err := parseHeader(cmd.ResponseAddress); err != nil {
			issues = append(issues, report.New(report.MalformedHeader, "", "rax: %v", err))
		}
	}

	svc, pid := cmd.Request.Service, cmd.Request.PID
	if len(svc) != 2 || !isHex(svc) {
		issues = append(issues, report.New(report.MalformedRequest, "", "service %q is not one hex byte", svc))
	}
	if len(pid)%2 != 0 || !isHex(pid) {
		issues = append(issues, report.New(report.MalformedRequest, "", "pid %q is not whole hex bytes", pid))
	}

	if cmd.PollFrequency <= 0 {
		issues = append(issues, report.New(report.InvalidPollFrequency, "", "freq %v must be positive", cmd.PollFrequency))
	}

	if y := cmd.ModelYears; y != nil && y.From != nil && y.To != nil && *y.From > *y.To {
		issues = append(issues, report.New(report.InvertedYearRange, "", "dbgfilter from %d after to %d", *y.From, *y.To))
	}
	return issues
}

func validateSignal(sig *Signal, opts Options) []*report.Issue {
	var issues []*report.Issue

	if opts.VehiclePrefix != "" && !strings.HasPrefix(sig.ID, opts.VehiclePrefix) {
		issues = append(issues, report.New(report.UnprefixedSignalID, "",
			"id does not start with %q", opts.VehiclePrefix))
	}
	if !sig.Path.Known() {
		issues = append(issues, report.New(report.UnknownCategory, "", "path %q is not a known category", sig.Path))
	}

	if sig.DiagnosticOut != "" && sig.DiagnosticIn == "" {
		issues = append(issues, report.New(report.OrphanedDiagnosticOut, "", "dout %q without din", sig.DiagnosticOut))
	}
	for _, d := range [...]struct{ name, code string }{{"din", sig.DiagnosticIn}, {"dout", sig.DiagnosticOut}} {
		if d.code != "" && !diagnosticCode(d.code) {
			issues = append(issues, report.New(report.MalformedDiagnosticCode, "", "%s %q is not two hex characters", d.name, d.code))
		}
	}

	return append(issues, codec.Validate(&sig.Format)...)
}

func diagnosticCode(s string) bool {
	return len(s) == 2 && isHex(s)
}

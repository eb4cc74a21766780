// Package report carries the error taxonomy shared by the decoder and the
// signal-set validator, and collects issues into a load-time report.
package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

type Kind int

const (
	KindUnknown Kind = iota

	// decode time
	OutOfRange
	UnmappedEnum

	// format validation
	UnachievableBound
	DegenerateDivisor
	InvalidBitLength

	// document structure
	DuplicateSignalID
	MissingSignalID
	UnknownCategory
	OrphanedDiagnosticOut
	MalformedDiagnosticCode
	InvertedYearRange
	MalformedHeader
	MalformedRequest
	InvalidPollFrequency
	UnprefixedSignalID
	UnknownUnit

	// advisories
	MultiplierStyle
	OffGridBound
)

var kindNames = map[Kind]string{
	OutOfRange:              "OutOfRange",
	UnmappedEnum:            "UnmappedEnum",
	UnachievableBound:       "UnachievableBound",
	DegenerateDivisor:       "DegenerateDivisor",
	InvalidBitLength:        "InvalidBitLength",
	DuplicateSignalID:       "DuplicateSignalId",
	MissingSignalID:         "MissingSignalId",
	UnknownCategory:         "UnknownCategory",
	OrphanedDiagnosticOut:   "OrphanedDiagnosticOut",
	MalformedDiagnosticCode: "MalformedDiagnosticCode",
	InvertedYearRange:       "InvertedYearRange",
	MalformedHeader:         "MalformedHeader",
	MalformedRequest:        "MalformedRequest",
	InvalidPollFrequency:    "InvalidPollFrequency",
	UnprefixedSignalID:      "UnprefixedSignalId",
	UnknownUnit:             "UnknownUnit",
	MultiplierStyle:         "MultiplierStyle",
	OffGridBound:            "OffGridBound",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "Unknown"
}

type Severity int

const (
	SeverityError Severity = iota
	SeverityAdvisory
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityAdvisory:
		return "advisory"
	default:
		return "unknown"
	}
}

// Issue is one problem found while decoding or validating. It is also the
// error value returned for taxonomy failures.
type Issue struct {
	Kind     Kind
	Severity Severity
	Command  string
	SignalID string
	Message  string
}

func New(kind Kind, signalID, format string, args ...any) *Issue {
	return &Issue{
		Kind:     kind,
		Severity: SeverityError,
		SignalID: signalID,
		Message:  fmt.Sprintf(format, args...),
	}
}

func Advise(kind Kind, signalID, format string, args ...any) *Issue {
	i := New(kind, signalID, format, args...)
	i.Severity = SeverityAdvisory
	return i
}

func (i *Issue) Error() string {
	switch {
	case i.SignalID != "":
		return fmt.Sprintf("%s: %s: %s", i.Kind, i.SignalID, i.Message)
	case i.Command != "":
		return fmt.Sprintf("%s: command %s: %s", i.Kind, i.Command, i.Message)
	default:
		return fmt.Sprintf("%s: %s", i.Kind, i.Message)
	}
}

// Is matches any issue of the same kind, so errors.Is(err, &Issue{Kind: k})
// works through wrapping.
func (i *Issue) Is(target error) bool {
	t, ok := target.(*Issue)
	if !ok {
		return false
	}
	return t.Kind == i.Kind && (t.SignalID == "" || t.SignalID == i.SignalID)
}

// WithSignal returns a copy tagged with id.
func (i *Issue) WithSignal(id string) *Issue {
	c := *i
	c.SignalID = id
	return &c
}

// InCommand returns a copy tagged with the command key.
func (i *Issue) InCommand(key string) *Issue {
	c := *i
	c.Command = key
	return &c
}

// KindOf returns the taxonomy kind carried by err, if any.
func KindOf(err error) Kind {
	var issue *Issue
	if errors.As(err, &issue) {
		return issue.Kind
	}
	return KindUnknown
}

type Report struct {
	Issues []*Issue
}

func (r *Report) Add(issues ...*Issue) {
	for _, i := range issues {
		if i != nil {
			r.Issues = append(r.Issues, i)
		}
	}
}

func (r *Report) Errors() []*Issue {
	return r.filter(SeverityError)
}

func (r *Report) Advisories() []*Issue {
	return r.filter(SeverityAdvisory)
}

func (r *Report) filter(s Severity) []*Issue {
	var out []*Issue
	for _, i := range r.Issues {
		if i.Severity == s {
			out = append(out, i)
		}
	}
	return out
}

func (r *Report) OK() bool {
	return len(r.Errors()) == 0
}

// Has reports whether an error-severity issue of kind k exists.
func (r *Report) Has(k Kind) bool {
	for _, i := range r.Errors() {
		if i.Kind == k {
			return true
		}
	}
	return false
}

// FailedSignals returns the ids of signals with at least one error.
func (r *Report) FailedSignals() map[string]bool {
	out := map[string]bool{}
	for _, i := range r.Errors() {
		if i.SignalID != "" {
			out[i.SignalID] = true
		}
	}
	return out
}

// FailedCommands returns the keys of commands with an error that is not
// tied to a single signal. A missing signal id belongs to its signal.
func (r *Report) FailedCommands() map[string]bool {
	out := map[string]bool{}
	for _, i := range r.Errors() {
		if i.SignalID == "" && i.Command != "" && i.Kind != MissingSignalID {
			out[i.Command] = true
		}
	}
	return out
}

// Err folds every error-severity issue into one error, or returns nil.
func (r *Report) Err() error {
	var result *multierror.Error
	for _, i := range r.Errors() {
		result = multierror.Append(result, i)
	}
	if result == nil {
		return nil
	}
	result.ErrorFormat = func(es []error) string {
		lines := make([]string, 0, len(es))
		for _, e := range es {
			lines = append(lines, e.Error())
		}
		return fmt.Sprintf("%d validation error(s):\n  %s", len(es), strings.Join(lines, "\n  "))
	}
	return result.ErrorOrNil()
}

// Counts returns issue counts keyed by kind name and severity, sorted for
// stable output.
func (r *Report) Counts() []Count {
	m := map[Count]int{}
	for _, i := range r.Issues {
		m[Count{Kind: i.Kind, Severity: i.Severity}]++
	}
	out := make([]Count, 0, len(m))
	for c, n := range m {
		c.N = n
		out = append(out, c)
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Severity != out[b].Severity {
			return out[a].Severity < out[b].Severity
		}
		return out[a].Kind < out[b].Kind
	})
	return out
}

type Count struct {
	Kind     Kind
	Severity Severity
	N        int
}

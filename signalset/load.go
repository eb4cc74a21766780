// Package signalset holds the signal-set document model: commands, their
// signals and formats. It parses, validates, formats and imports documents
// and decodes multi-signal responses.
package signalset

import (
	"context"
	"os"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"obd-signal-core/logger"
	"obd-signal-core/report"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Policy decides what happens to a document with validation errors.
type Policy string

const (
	// PolicyReject fails the whole load on any error.
	PolicyReject Policy = "reject"
	// PolicySkip drops the offending signals and commands and keeps the rest.
	PolicySkip Policy = "skip"
)

func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case PolicyReject, PolicySkip:
		return p, nil
	case "":
		return PolicyReject, nil
	default:
		return "", errors.Errorf("unknown validation policy %q (want reject or skip)", s)
	}
}

// Parse decodes a document and normalizes its hex fields. It does not
// validate.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "unmarshal signal set")
	}
	return doc.Normalize(), nil
}

func LoadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read signal set")
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	return doc, nil
}

// Load reads, validates and applies the policy. The report is returned
// whenever validation ran, also alongside a rejection error.
func Load(ctx context.Context, path string, opts Options, policy Policy) (*Document, *report.Report, error) {
	doc, err := LoadFile(path)
	if err != nil {
		return nil, nil, err
	}
	doc, r, err := Accept(doc, opts, policy)
	if err != nil {
		return nil, r, errors.Wrap(err, path)
	}

	log := logger.G(ctx).WithField("file", path)
	for _, a := range r.Advisories() {
		log.WithField("kind", a.Kind.String()).Debug(a.Error())
	}
	log.WithField("commands", len(doc.Commands)).
		WithField("signals", doc.SignalCount()).
		Info("signal set loaded")
	return doc, r, nil
}

// Accept validates doc and applies the policy to it.
func Accept(doc *Document, opts Options, policy Policy) (*Document, *report.Report, error) {
	r := Validate(doc, opts)
	if r.OK() {
		return doc, r, nil
	}
	if policy == PolicySkip {
		return doc.Prune(r), r, nil
	}
	return nil, r, r.Err()
}

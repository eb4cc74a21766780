// Package poller requests every applicable command at its poll frequency,
// decodes the responses and hands the samples to a sink.
package poller

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"obd-signal-core/logger"
	"obd-signal-core/metrics"
	"obd-signal-core/signalset"
	"obd-signal-core/sink"
)

// Requester performs one request/response exchange for a command.
type Requester interface {
	Request(ctx context.Context, cmd *signalset.Command) ([]byte, error)
}

type Options struct {
	// ModelYear filters commands by their dbgfilter; 0 polls everything.
	ModelYear int
	// SubstituteUnknown publishes unmapped enum values as the unknown
	// sentinel instead of reporting them as errors.
	SubstituteUnknown bool
}

type Poller struct {
	doc     *signalset.Document
	client  Requester
	sink    sink.Sink
	metrics *metrics.Metrics
	opts    Options
	session string
	now     func() time.Time
}

// New builds a poller. m may be nil.
func New(doc *signalset.Document, client Requester, s sink.Sink, m *metrics.Metrics, opts Options) *Poller {
	return &Poller{
		doc:     doc,
		client:  client,
		sink:    s,
		metrics: m,
		opts:    opts,
		session: uuid.NewString(),
		now:     time.Now,
	}
}

func (p *Poller) Session() string {
	return p.session
}

// Commands returns the commands that apply to the configured model year.
func (p *Poller) Commands() []*signalset.Command {
	var out []*signalset.Command
	for i := range p.doc.Commands {
		cmd := &p.doc.Commands[i]
		if cmd.AppliesTo(p.opts.ModelYear) {
			out = append(out, cmd)
		}
	}
	return out
}

// Run polls until ctx ends. Request and decode failures are logged and
// counted; only a cancelled context stops the loops.
func (p *Poller) Run(ctx context.Context) error {
	cmds := p.Commands()
	if len(cmds) == 0 {
		return errors.Errorf("no commands apply to model year %d", p.opts.ModelYear)
	}

	log := logger.G(ctx).WithField("session", p.session)
	ctx = logger.WithLogger(ctx, log)
	log.WithField("commands", len(cmds)).Info("polling started")

	g, ctx := errgroup.WithContext(ctx)
	for _, cmd := range cmds {
		cmd := cmd
		g.Go(func() error {
			return p.loop(ctx, cmd)
		})
	}
	err := g.Wait()
	log.Info("polling stopped")
	return err
}

func (p *Poller) loop(ctx context.Context, cmd *signalset.Command) error {
	period := time.Duration(cmd.PollFrequency * float64(time.Second))
	if period <= 0 {
		return errors.Errorf("command %s has invalid freq %v", cmd.Key(), cmd.PollFrequency)
	}
	if p.metrics != nil {
		p.metrics.ActiveCommands.Inc()
		defer p.metrics.ActiveCommands.Dec()
	}

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		p.tick(ctx, cmd)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Poller) tick(ctx context.Context, cmd *signalset.Command) {
	log := logger.G(ctx).WithField("command", cmd.Key())

	sample, err := p.PollOnce(ctx, cmd)
	if err != nil {
		if ctx.Err() == nil {
			log.WithError(err).Warn("request failed")
		}
		return
	}

	err = p.sink.Publish(ctx, sample)
	if p.metrics != nil {
		p.metrics.ObservePublish(err)
	}
	if err != nil {
		log.WithError(err).Error("publish failed")
	}
}

// PollOnce requests cmd once and decodes every signal of the response.
func (p *Poller) PollOnce(ctx context.Context, cmd *signalset.Command) (sink.Sample, error) {
	start := p.now()
	payload, err := p.client.Request(ctx, cmd)
	if p.metrics != nil {
		p.metrics.ObserveRequest(cmd.Header, p.now().Sub(start), err)
	}
	if err != nil {
		return sink.Sample{}, err
	}

	results := signalset.DecodeResponse(cmd, payload)
	sample := sink.Sample{
		Session: p.session,
		Command: cmd.Key(),
		Header:  cmd.Header,
		Time:    start,
		Values:  signalset.Measurements(results, p.opts.SubstituteUnknown),
	}
	for _, r := range results {
		if p.metrics != nil {
			p.metrics.ObserveDecode(r.SignalID, r.Err)
		}
		if r.Err == nil {
			continue
		}
		if _, ok := sample.Values[r.SignalID]; ok {
			continue
		}
		if sample.Errors == nil {
			sample.Errors = map[string]string{}
		}
		sample.Errors[r.SignalID] = r.Err.Error()
		logger.G(ctx).WithField("signal", r.SignalID).WithError(r.Err).Debug("decode failed")
	}
	return sample, nil
}

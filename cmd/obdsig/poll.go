package main

import (
	"context"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"obd-signal-core/config"
	"obd-signal-core/logger"
	"obd-signal-core/metrics"
	"obd-signal-core/poller"
	"obd-signal-core/signalset"
	"obd-signal-core/sink"
	"obd-signal-core/transport"
)

func newPollCmd(a *app) *cobra.Command {
	var iface string
	var modelYear int
	cmd := &cobra.Command{
		Use:   "poll <file>",
		Short: "Poll a vehicle over SocketCAN and publish the decoded signals",
		Long: `Poll requests every command of the signal set at its poll frequency,
decodes the responses and publishes them to the configured sinks until
interrupted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := *a.cfg
			if cmd.Flags().Changed("interface") {
				cfg.CAN.Interface = iface
			}
			if cmd.Flags().Changed("model-year") {
				cfg.Vehicle.ModelYear = modelYear
			}
			err := runPoll(cmd.Context(), &cfg, args[0])
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&iface, "interface", "i", "", "SocketCAN interface (default can.interface)")
	cmd.Flags().IntVar(&modelYear, "model-year", 0, "only poll commands that apply to this model year (default vehicle.model_year)")
	return cmd
}

func runPoll(ctx context.Context, cfg *config.Config, path string) error {
	log := logger.G(ctx).WithField("file", path)

	policy, err := signalset.ParsePolicy(cfg.Validation.Policy)
	if err != nil {
		return err
	}
	m := metrics.New()
	doc, r, err := signalset.Load(ctx, path, signalset.Options{VehiclePrefix: cfg.Vehicle.Prefix}, policy)
	if r != nil {
		m.ObserveReport(r)
		for _, issue := range r.Errors() {
			log.WithField("kind", issue.Kind.String()).Warn(issue.Error())
		}
	}
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.Metrics.Enabled {
		go func() {
			if err := m.Serve(ctx, cfg.Metrics.Addr); err != nil {
				log.WithError(err).Error("metrics server stopped")
			}
		}()
	}

	out, err := openSinks(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := out.Close(); err != nil {
			log.WithError(err).Warn("closing sinks")
		}
	}()

	conn, err := transport.DialSocketCAN(ctx, cfg.CAN.Interface)
	if err != nil {
		return err
	}
	defer conn.Close()

	client := transport.NewClient(conn, transport.Options{
		RequestTimeout: cfg.CAN.RequestTimeout,
		Retries:        cfg.CAN.Retries,
		RetryDelay:     cfg.CAN.RetryDelay,
		Padding:        byte(cfg.CAN.Padding),
	})
	p := poller.New(doc, client, out, m, poller.Options{
		ModelYear:         cfg.Vehicle.ModelYear,
		SubstituteUnknown: cfg.Validation.SubstituteUnknown,
	})
	log.WithField("interface", cfg.CAN.Interface).WithField("session", p.Session()).Info("starting poller")
	return p.Run(ctx)
}

// openSinks dials every enabled sink. Sinks opened before a failure are
// closed again.
func openSinks(ctx context.Context, cfg *config.Config) (sink.Multi, error) {
	var out sink.Multi
	fail := func(err error) (sink.Multi, error) {
		_ = out.Close()
		return nil, err
	}

	if cfg.Sinks.Log.Enabled {
		l, err := sink.NewLog(cfg.Sinks.Log.Level)
		if err != nil {
			return fail(err)
		}
		out = append(out, l)
	}
	if mq := cfg.Sinks.MQTT; mq.Enabled {
		s, err := sink.DialMQTT(ctx, sink.MQTTOptions{
			Broker:      mq.Broker,
			ClientID:    mq.ClientID,
			Username:    mq.Username,
			Password:    mq.Password,
			TopicPrefix: mq.TopicPrefix,
			QoS:         byte(mq.QoS),
			Retain:      mq.Retain,
		})
		if err != nil {
			return fail(err)
		}
		out = append(out, s)
	}
	if rd := cfg.Sinks.Redis; rd.Enabled {
		s, err := sink.DialRedis(ctx, sink.RedisOptions{
			Addr:     rd.Addr,
			Password: rd.Password,
			DB:       rd.DB,
			Channel:  rd.Channel,
			History:  rd.History,
		})
		if err != nil {
			return fail(err)
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, errors.New("no sinks enabled")
	}
	return out, nil
}

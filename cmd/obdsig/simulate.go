package main

import (
	"context"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"obd-signal-core/signalset"
	"obd-signal-core/simulator"
	"obd-signal-core/transport"
)

func newSimulateCmd(a *app) *cobra.Command {
	var iface, scenarioPath string
	cmd := &cobra.Command{
		Use:   "simulate <file>",
		Short: "Answer requests for a signal set on a CAN interface",
		Long: `Simulate acts as the vehicle side: it answers every command of the signal
set with values from a scenario timeline. Point it at a virtual interface
(vcan0) to exercise poll without a car.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("interface") {
				iface = a.cfg.CAN.Interface
			}
			ctx := cmd.Context()

			scen, err := simulator.LoadScenario(scenarioPath)
			if err != nil {
				return err
			}
			policy, err := signalset.ParsePolicy(a.cfg.Validation.Policy)
			if err != nil {
				return err
			}
			doc, _, err := signalset.Load(ctx, args[0], signalset.Options{VehiclePrefix: a.cfg.Vehicle.Prefix}, policy)
			if err != nil {
				return err
			}

			conn, err := transport.DialSocketCAN(ctx, iface)
			if err != nil {
				return err
			}
			defer conn.Close()

			ecu, err := simulator.New(doc, conn, scen, transport.Options{
				RequestTimeout: a.cfg.CAN.RequestTimeout,
				Padding:        byte(a.cfg.CAN.Padding),
			})
			if err != nil {
				return err
			}
			if err := ecu.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&iface, "interface", "i", "", "SocketCAN interface (default can.interface)")
	cmd.Flags().StringVar(&scenarioPath, "scenario", "", "scenario JSON with the signal values to serve")
	_ = cmd.MarkFlagRequired("scenario")
	return cmd
}

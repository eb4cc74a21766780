package main

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"obd-signal-core/codec"
	"obd-signal-core/signalset"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func newDecodeCmd(a *app) *cobra.Command {
	var command, data string
	var encode map[string]string
	cmd := &cobra.Command{
		Use:   "decode <file>",
		Short: "Decode a captured response payload",
		Long: `Decode looks up a command by its "<hdr>:<svc><pid>" key and decodes every
signal from a response payload given after the service and PID echo.
Signals that fail are reported under "errors".

With --encode it works the other way round and prints the payload for the
given signal values; enum signals accept their symbol.`,
		Example: `  obdsig decode tesla.json --command 7E0:221E1C --data "48 0D 40"
  obdsig decode tesla.json --command 7E0:221E1C --encode TSLA_ODO=184.45,TSLA_GEAR=D`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (data == "") == (len(encode) == 0) {
				return errors.New("exactly one of --data and --encode is required")
			}
			policy, err := signalset.ParsePolicy(a.cfg.Validation.Policy)
			if err != nil {
				return err
			}
			doc, _, err := signalset.Load(cmd.Context(), args[0],
				signalset.Options{VehiclePrefix: a.cfg.Vehicle.Prefix}, policy)
			if err != nil {
				return err
			}
			c, err := doc.Command(command)
			if err != nil {
				return err
			}

			if len(encode) > 0 {
				payload, err := encodePayload(c, encode)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "% X\n", payload)
				return err
			}

			payload, err := parseHexData(data)
			if err != nil {
				return err
			}
			out, err := decodeJSON(c, payload, a.cfg.Validation.SubstituteUnknown)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	cmd.Flags().StringVar(&command, "command", "", `command key, e.g. "7E0:221E1C"`)
	cmd.Flags().StringVar(&data, "data", "", `payload bytes in hex, e.g. "48 0D 40"`)
	cmd.Flags().StringToStringVar(&encode, "encode", nil, "signal values to encode, e.g. TSLA_ODO=184.45")
	_ = cmd.MarkFlagRequired("command")
	return cmd
}

type decodeOutput struct {
	Command string                       `json:"command"`
	Values  map[string]codec.Measurement `json:"values"`
	Errors  map[string]string            `json:"errors,omitempty"`
}

func decodeJSON(cmd *signalset.Command, payload []byte, substituteUnknown bool) ([]byte, error) {
	results := signalset.DecodeResponse(cmd, payload)
	out := decodeOutput{
		Command: cmd.Key(),
		Values:  signalset.Measurements(results, substituteUnknown),
	}
	for _, r := range results {
		if _, ok := out.Values[r.SignalID]; ok || r.Err == nil {
			continue
		}
		if out.Errors == nil {
			out.Errors = map[string]string{}
		}
		out.Errors[r.SignalID] = r.Err.Error()
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, errors.Wrap(err, "marshal measurements")
	}
	return append(data, '\n'), nil
}

// encodePayload builds a response payload from textual signal values.
func encodePayload(cmd *signalset.Command, assignments map[string]string) ([]byte, error) {
	values := make(map[string]float64, len(assignments))
	for id, text := range assignments {
		sig, ok := cmd.Signal(id)
		if !ok {
			return nil, errors.Errorf("command %s has no signal %s", cmd.Key(), id)
		}
		if v, err := strconv.ParseFloat(text, 64); err == nil {
			values[id] = v
			continue
		}
		if len(sig.Format.Enum) == 0 {
			return nil, errors.Errorf("%s: %q is not a number", id, text)
		}
		raw, err := codec.EncodeSymbol(text, &sig.Format)
		if err != nil {
			return nil, errors.Wrap(err, id)
		}
		values[id] = float64(raw)
	}
	return signalset.EncodeResponse(cmd, values)
}

// parseHexData accepts bytes separated by spaces, colons or nothing, with
// an optional 0x prefix per byte.
func parseHexData(s string) ([]byte, error) {
	cleaned := strings.NewReplacer("0x", "", "0X", "", " ", "", ":", "", "\t", "").Replace(strings.TrimSpace(s))
	if cleaned == "" {
		return nil, errors.New("empty payload")
	}
	b, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, errors.Wrapf(err, "payload %q", s)
	}
	return b, nil
}

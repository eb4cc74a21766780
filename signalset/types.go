package signalset

import (
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"obd-signal-core/codec"
	"obd-signal-core/report"
)

// Category is the path tag grouping a signal.
type Category string

const (
	CategoryADAS         Category = "ADAS"
	CategoryAirbags      Category = "Airbags"
	CategoryBattery      Category = "Battery"
	CategoryBrakes       Category = "Brakes"
	CategoryCharging     Category = "Charging"
	CategoryClimate      Category = "Climate"
	CategoryControl      Category = "Control"
	CategoryDiagnostics  Category = "Diagnostics"
	CategoryDoors        Category = "Doors"
	CategoryEmissions    Category = "Emissions"
	CategoryEngine       Category = "Engine"
	CategoryFuel         Category = "Fuel"
	CategoryLights       Category = "Lights"
	CategoryMovement     Category = "Movement"
	CategorySeats        Category = "Seats"
	CategorySteering     Category = "Steering"
	CategoryTires        Category = "Tires"
	CategoryTransmission Category = "Transmission"
	CategoryTrips        Category = "Trips"
	CategoryWindows      Category = "Windows"
)

var knownCategories = map[Category]bool{
	CategoryADAS: true, CategoryAirbags: true, CategoryBattery: true,
	CategoryBrakes: true, CategoryCharging: true, CategoryClimate: true,
	CategoryControl: true, CategoryDiagnostics: true, CategoryDoors: true,
	CategoryEmissions: true, CategoryEngine: true, CategoryFuel: true,
	CategoryLights: true, CategoryMovement: true, CategorySeats: true,
	CategorySteering: true, CategoryTires: true, CategoryTransmission: true,
	CategoryTrips: true, CategoryWindows: true,
}

func (c Category) Known() bool {
	return knownCategories[c]
}

func Categories() []Category {
	out := make([]Category, 0, len(knownCategories))
	for c := range knownCategories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ServiceRequest is the service code and PID sent for a command. It is
// written as {"22": "1E1C"}.
type ServiceRequest struct {
	Service string
	PID     string
}

func (r ServiceRequest) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{r.Service: r.PID})
}

func (r *ServiceRequest) UnmarshalJSON(data []byte) error {
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	if len(m) != 1 {
		return errors.Errorf("cmd must hold exactly one service, got %d", len(m))
	}
	for svc, pid := range m {
		r.Service, r.PID = svc, pid
	}
	return nil
}

func (r ServiceRequest) String() string {
	return r.Service + r.PID
}

// Bytes returns the request bytes: service followed by PID.
func (r ServiceRequest) Bytes() ([]byte, error) {
	b, err := hex.DecodeString(r.Service + r.PID)
	if err != nil {
		return nil, errors.Wrapf(err, "request %s", r)
	}
	return b, nil
}

// YearRange bounds the model years a command applies to. Both ends are
// inclusive; a missing end is unbounded.
type YearRange struct {
	From *int `json:"from,omitempty"`
	To   *int `json:"to,omitempty"`
}

func (y *YearRange) Contains(year int) bool {
	if y == nil {
		return true
	}
	if y.From != nil && year < *y.From {
		return false
	}
	if y.To != nil && year > *y.To {
		return false
	}
	return true
}

type Signal struct {
	ID              string       `json:"id"`
	Path            Category     `json:"path"`
	Name            string       `json:"name"`
	Description     string       `json:"description,omitempty"`
	SuggestedMetric string       `json:"suggestedMetric,omitempty"`
	Format          codec.Format `json:"fmt"`
	DiagnosticIn    string       `json:"din,omitempty"`
	DiagnosticOut   string       `json:"dout,omitempty"`
}

type Command struct {
	Header          string         `json:"hdr"`
	ResponseAddress string         `json:"rax,omitempty"`
	Request         ServiceRequest `json:"cmd"`
	PollFrequency   float64        `json:"freq"`
	ModelYears      *YearRange     `json:"dbgfilter,omitempty"`
	Signals         []Signal       `json:"signals"`
}

// Key identifies a command as "<hdr>:<service><pid>".
func (c *Command) Key() string {
	return c.Header + ":" + c.Request.String()
}

// ResponseHeader returns the CAN id responses arrive on: the declared
// response address, or the request header + 8.
func (c *Command) ResponseHeader() (uint32, error) {
	if c.ResponseAddress != "" {
		return parseHeader(c.ResponseAddress)
	}
	h, err := parseHeader(c.Header)
	if err != nil {
		return 0, err
	}
	return h + 8, nil
}

func (c *Command) RequestHeader() (uint32, error) {
	return parseHeader(c.Header)
}

// AppliesTo reports whether the command is valid for the model year. Year 0
// means unknown and matches every command.
func (c *Command) AppliesTo(year int) bool {
	if year == 0 {
		return true
	}
	return c.ModelYears.Contains(year)
}

func (c *Command) Signal(id string) (*Signal, bool) {
	for i := range c.Signals {
		if c.Signals[i].ID == id {
			return &c.Signals[i], true
		}
	}
	return nil, false
}

type Document struct {
	Commands []Command `json:"commands"`
}

// Command finds a command by key; the key is matched case-insensitively.
func (d *Document) Command(key string) (*Command, error) {
	want := strings.ToUpper(strings.TrimSpace(key))
	for i := range d.Commands {
		if strings.ToUpper(d.Commands[i].Key()) == want {
			return &d.Commands[i], nil
		}
	}
	return nil, errors.Errorf("unknown command %q (available: %v)", key, d.CommandKeys())
}

func (d *Document) CommandKeys() []string {
	out := make([]string, 0, len(d.Commands))
	for i := range d.Commands {
		out = append(out, d.Commands[i].Key())
	}
	sort.Strings(out)
	return out
}

func (d *Document) SignalCount() int {
	n := 0
	for i := range d.Commands {
		n += len(d.Commands[i].Signals)
	}
	return n
}

// Normalize returns a copy with hex fields upper-cased and trimmed.
func (d *Document) Normalize() *Document {
	out := &Document{Commands: make([]Command, len(d.Commands))}
	for i, c := range d.Commands {
		c.Header = upperHex(c.Header)
		c.ResponseAddress = upperHex(c.ResponseAddress)
		c.Request.Service = upperHex(c.Request.Service)
		c.Request.PID = upperHex(c.Request.PID)
		if c.ModelYears != nil {
			y := *c.ModelYears
			c.ModelYears = &y
		}
		sigs := make([]Signal, len(c.Signals))
		for j, s := range c.Signals {
			s.ID = strings.TrimSpace(s.ID)
			s.DiagnosticIn = upperHex(s.DiagnosticIn)
			s.DiagnosticOut = upperHex(s.DiagnosticOut)
			sigs[j] = s
		}
		c.Signals = sigs
		out.Commands[i] = c
	}
	return out
}

// Prune returns a copy without the signals and commands that have errors in
// r. Signals without an id never survive. Commands left with no signals are
// dropped.
func (d *Document) Prune(r *report.Report) *Document {
	failedCommands, failedSignals := r.FailedCommands(), r.FailedSignals()
	out := &Document{}
	for _, c := range d.Commands {
		if failedCommands[c.Key()] {
			continue
		}
		var keep []Signal
		for _, s := range c.Signals {
			if strings.TrimSpace(s.ID) != "" && !failedSignals[s.ID] {
				keep = append(keep, s)
			}
		}
		if len(keep) == 0 {
			continue
		}
		c.Signals = keep
		out.Commands = append(out.Commands, c)
	}
	return out
}

func upperHex(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	return strings.ToUpper(s)
}

func parseHeader(s string) (uint32, error) {
	if len(s) != 3 {
		return 0, errors.Errorf("header %q is not 3 hex digits", s)
	}
	u, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, errors.Wrapf(err, "header %q", s)
	}
	if u > maxStdID {
		return 0, errors.Errorf("header %q exceeds 11-bit id 0x%X", s, maxStdID)
	}
	return uint32(u), nil
}

const maxStdID = 0x7FF

func isHex(s string) bool {
	for _, r := range s {
		if !strings.ContainsRune("0123456789ABCDEFabcdef", r) {
			return false
		}
	}
	return true
}

package codec

import "sort"

// Unit tags the physical quantity of a scaled value.
type Unit string

const (
	UnitNone Unit = ""

	UnitAmps              Unit = "amps"
	UnitAmpHours          Unit = "ampHours"
	UnitBars              Unit = "bars"
	UnitCelsius           Unit = "celsius"
	UnitDays              Unit = "days"
	UnitDegrees           Unit = "degrees"
	UnitFahrenheit        Unit = "fahrenheit"
	UnitGallons           Unit = "gallons"
	UnitGrams             Unit = "grams"
	UnitGramsPerSecond    Unit = "gramsPerSecond"
	UnitHours             Unit = "hours"
	UnitKilograms         Unit = "kilograms"
	UnitKilometers        Unit = "kilometers"
	UnitKilometersPerHour Unit = "kilometersPerHour"
	UnitKilopascal        Unit = "kilopascal"
	UnitKilowatts         Unit = "kilowatts"
	UnitKilowattHours     Unit = "kilowattHours"
	UnitLiters            Unit = "liters"
	UnitLitersPerHour     Unit = "litersPerHour"
	UnitMeters            Unit = "meters"
	UnitMetersPerSecond2  Unit = "metersPerSecondSquared"
	UnitMiles             Unit = "miles"
	UnitMilesPerHour      Unit = "milesPerHour"
	UnitMilliamps         Unit = "milliamps"
	UnitMilliseconds      Unit = "milliseconds"
	UnitMillivolts        Unit = "millivolts"
	UnitMinutes           Unit = "minutes"
	UnitNewtonMeters      Unit = "newtonMeters"
	UnitNormal            Unit = "normal"
	UnitOffOn             Unit = "offon"
	UnitOhms              Unit = "ohms"
	UnitPercent           Unit = "percent"
	UnitPSI               Unit = "psi"
	UnitRPM               Unit = "rpm"
	UnitScalar            Unit = "scalar"
	UnitSeconds           Unit = "seconds"
	UnitUnknown           Unit = "unknown"
	UnitVolts             Unit = "volts"
	UnitWatts             Unit = "watts"
	UnitYesNo             Unit = "yesno"
)

var knownUnits = map[Unit]bool{
	UnitAmps: true, UnitAmpHours: true, UnitBars: true, UnitCelsius: true,
	UnitDays: true, UnitDegrees: true, UnitFahrenheit: true, UnitGallons: true,
	UnitGrams: true, UnitGramsPerSecond: true, UnitHours: true, UnitKilograms: true,
	UnitKilometers: true, UnitKilometersPerHour: true, UnitKilopascal: true,
	UnitKilowatts: true, UnitKilowattHours: true, UnitLiters: true,
	UnitLitersPerHour: true, UnitMeters: true, UnitMetersPerSecond2: true,
	UnitMiles: true, UnitMilesPerHour: true, UnitMilliamps: true,
	UnitMilliseconds: true, UnitMillivolts: true, UnitMinutes: true,
	UnitNewtonMeters: true, UnitNormal: true, UnitOffOn: true, UnitOhms: true,
	UnitPercent: true, UnitPSI: true, UnitRPM: true, UnitScalar: true,
	UnitSeconds: true, UnitUnknown: true, UnitVolts: true, UnitWatts: true,
	UnitYesNo: true,
}

// Known reports whether u is empty or part of the closed unit set.
func (u Unit) Known() bool {
	return u == UnitNone || knownUnits[u]
}

func Units() []Unit {
	out := make([]Unit, 0, len(knownUnits))
	for u := range knownUnits {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

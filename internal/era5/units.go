package era5

import "fmt"

const kelvinOffset = 273.15

// Unit names as written to the units attribute.
const (
	UnitsKelvin  = "K"
	UnitsCelsius = "degC"
)

// KelvinToCelsius converts a temperature.
func KelvinToCelsius(k float64) float64 {
	return k - kelvinOffset
}

// ToCelsius converts the dataset values from Kelvin in place. A dataset
// without units is taken to be in Kelvin, which is what ERA5 temperatures
// are delivered in.
func ToCelsius(ds *Dataset) error {
	switch ds.Units {
	case UnitsCelsius, "celsius", "C", "°C":
		ds.Units = UnitsCelsius
		return nil
	case UnitsKelvin, "kelvin", "":
	default:
		return fmt.Errorf("cannot convert %q from %q to Celsius", ds.Variable, ds.Units)
	}
	for _, vals := range ds.Values {
		for i, v := range vals {
			vals[i] = KelvinToCelsius(v)
		}
	}
	ds.Units = UnitsCelsius
	return nil
}

// Symbol returns the short display form of a units attribute.
func Symbol(units string) string {
	switch units {
	case UnitsCelsius, "celsius", "C", "°C":
		return "°C"
	case UnitsKelvin, "kelvin":
		return " K"
	case "":
		return ""
	}
	return " " + units
}

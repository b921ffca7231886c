package procv

import (
	"fmt"
	"math"
)

// PackedSize is the length of a packed record: 142 bits rounded up.
const PackedSize = 18

// Decimal steps kept for each fractional value.
const (
	PrecisionCO2                = 100
	PrecisionIRGATemp           = 10
	PrecisionHumidity           = 100
	PrecisionHumiditySensorTemp = 100
	PrecisionSupplyVolts        = 10
)

type field struct {
	name string
	bits uint
}

// layout lists the packed fields in stream order. Fixed point values take
// two fields, integer part first.
var layout = []field{
	{"year", 12},
	{"month", 4},
	{"day", 5},
	{"hour", 5},
	{"minute", 6},
	{"second", 6},
	{"zero A/D", 16},
	{"current A/D", 16},
	{"CO2", 10},
	{"CO2 fraction", 7},
	{"IRGA temperature", 6},
	{"IRGA temperature fraction", 4},
	{"humidity", 6},
	{"humidity fraction", 7},
	{"humidity sensor temperature", 6},
	{"humidity sensor temperature fraction", 7},
	{"cell gas pressure", 11},
	{"supply voltage", 4},
	{"supply voltage fraction", 4},
}

// splitFixed splits v into an integer part and a fraction in 1/precision
// steps, rounding to the nearest step.
func splitFixed(v float64, precision int) (uint64, uint64, error) {
	if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, 0, fmt.Errorf("%v cannot be packed", v)
	}
	steps := uint64(math.Round(v * float64(precision)))
	return steps / uint64(precision), steps % uint64(precision), nil
}

func joinFixed(i, frac uint64, precision int) float64 {
	return float64(i) + float64(frac)/float64(precision)
}

func (r Record) values() ([]uint64, error) {
	for _, v := range []int{r.Year, r.Month, r.Day, r.Hour, r.Minute, r.Second} {
		if v < 0 {
			return nil, fmt.Errorf("procv: negative date field in %04d-%02d-%02d %02d:%02d:%02d",
				r.Year, r.Month, r.Day, r.Hour, r.Minute, r.Second)
		}
	}
	out := []uint64{
		uint64(r.Year), uint64(r.Month), uint64(r.Day),
		uint64(r.Hour), uint64(r.Minute), uint64(r.Second),
		uint64(r.ZeroAD), uint64(r.CurrentAD),
	}
	fixed := []struct {
		name      string
		v         float64
		precision int
	}{
		{"CO2", r.CO2PPM, PrecisionCO2},
		{"IRGA temperature", r.IRGATempC, PrecisionIRGATemp},
		{"humidity", r.HumidityMbar, PrecisionHumidity},
		{"humidity sensor temperature", r.HumiditySensorTempC, PrecisionHumiditySensorTemp},
	}
	for _, f := range fixed {
		i, frac, err := splitFixed(f.v, f.precision)
		if err != nil {
			return nil, fmt.Errorf("procv: %s: %w", f.name, err)
		}
		out = append(out, i, frac)
	}
	out = append(out, uint64(r.CellGasPressureMbar))
	i, frac, err := splitFixed(r.SupplyVolts, PrecisionSupplyVolts)
	if err != nil {
		return nil, fmt.Errorf("procv: supply voltage: %w", err)
	}
	return append(out, i, frac), nil
}

// Pack encodes r as a little-endian bit stream, first field in the lowest
// bits of byte 0. Values that do not fit their field are rejected.
func (r Record) Pack() ([]byte, error) {
	vals, err := r.values()
	if err != nil {
		return nil, err
	}
	w := bitWriter{buf: make([]byte, PackedSize)}
	for i, f := range layout {
		if vals[i] >= 1<<f.bits {
			return nil, fmt.Errorf("procv: %s %d does not fit in %d bits", f.name, vals[i], f.bits)
		}
		w.write(vals[i], f.bits)
	}
	return w.buf, nil
}

// Unpack decodes a packed record. MeasurementType is left empty.
func Unpack(b []byte) (Record, error) {
	if len(b) != PackedSize {
		return Record{}, fmt.Errorf("procv: packed record is %d bytes, want %d", len(b), PackedSize)
	}
	rd := bitReader{buf: b}
	v := make([]uint64, len(layout))
	for i, f := range layout {
		v[i] = rd.read(f.bits)
	}
	return Record{
		Year:                int(v[0]),
		Month:               int(v[1]),
		Day:                 int(v[2]),
		Hour:                int(v[3]),
		Minute:              int(v[4]),
		Second:              int(v[5]),
		ZeroAD:              uint16(v[6]),
		CurrentAD:           uint16(v[7]),
		CO2PPM:              joinFixed(v[8], v[9], PrecisionCO2),
		IRGATempC:           joinFixed(v[10], v[11], PrecisionIRGATemp),
		HumidityMbar:        joinFixed(v[12], v[13], PrecisionHumidity),
		HumiditySensorTempC: joinFixed(v[14], v[15], PrecisionHumiditySensorTemp),
		CellGasPressureMbar: uint16(v[16]),
		SupplyVolts:         joinFixed(v[17], v[18], PrecisionSupplyVolts),
	}, nil
}

type bitWriter struct {
	buf []byte
	pos uint
}

func (w *bitWriter) write(v uint64, bits uint) {
	for i := uint(0); i < bits; i++ {
		if v&(1<<i) != 0 {
			w.buf[w.pos/8] |= 1 << (w.pos % 8)
		}
		w.pos++
	}
}

type bitReader struct {
	buf []byte
	pos uint
}

func (r *bitReader) read(bits uint) uint64 {
	var v uint64
	for i := uint(0); i < bits; i++ {
		if r.buf[r.pos/8]&(1<<(r.pos%8)) != 0 {
			v |= 1 << i
		}
		r.pos++
	}
	return v
}

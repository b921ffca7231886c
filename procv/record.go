// Package procv reads the logged-data records of a Pro-Oceanus CO2 Pro CV
// sensor and packs them into the compact bit layout sent over the radio.
package procv

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// typeFieldLen is the width of the measurement type column including its
// comma, e.g. "W M,".
const typeFieldLen = 4

const numValues = 14

var ErrShortRecord = errors.New("procv: record too short")

// Record is one logged sample in engineering units.
type Record struct {
	// MeasurementType is the leading column, "W M" for a wet measurement.
	// It is not part of the packed form.
	MeasurementType string

	Year, Month, Day     int
	Hour, Minute, Second int

	ZeroAD    uint16
	CurrentAD uint16

	CO2PPM              float64
	IRGATempC           float64
	HumidityMbar        float64
	HumiditySensorTempC float64
	CellGasPressureMbar uint16
	SupplyVolts         float64
}

// ParseRecord parses a line of the sensor's "View logged data" output:
//
//	W M,2020,01,17,00,20,00,55651,51716,532.59,40.00,5.60,0.90,0981,12.1
func ParseRecord(line string) (Record, error) {
	line = strings.TrimRight(line, "\r\n")
	if len(line) < typeFieldLen || line[typeFieldLen-1] != ',' {
		return Record{}, ErrShortRecord
	}
	values := strings.Split(line[typeFieldLen:], ",")
	if len(values) != numValues {
		return Record{}, fmt.Errorf("procv: expected %d values, got %d", numValues, len(values))
	}

	p := parser{values: values}
	r := Record{MeasurementType: strings.TrimSpace(line[:typeFieldLen-1])}
	r.Year = p.int(0, "year")
	r.Month = p.int(1, "month")
	r.Day = p.int(2, "day")
	r.Hour = p.int(3, "hour")
	r.Minute = p.int(4, "minute")
	r.Second = p.int(5, "second")
	r.ZeroAD = p.uint16(6, "zero A/D")
	r.CurrentAD = p.uint16(7, "current A/D")
	r.CO2PPM = p.float(8, "CO2")
	r.IRGATempC = p.float(9, "IRGA temperature")
	r.HumidityMbar = p.float(10, "humidity")
	r.HumiditySensorTempC = p.float(11, "humidity sensor temperature")
	r.CellGasPressureMbar = p.uint16(12, "cell gas pressure")
	r.SupplyVolts = p.float(13, "supply voltage")
	if p.err != nil {
		return Record{}, p.err
	}
	return r, nil
}

// Time returns the sample timestamp. The sensor clock has no zone; UTC is
// assumed.
func (r Record) Time() time.Time {
	return time.Date(r.Year, time.Month(r.Month), r.Day, r.Hour, r.Minute, r.Second, 0, time.UTC)
}

func (r Record) String() string {
	return fmt.Sprintf("%s %s CO2 %.2f ppm, IRGA %.1f C, humidity %.2f mbar at %.2f C, cell %d mbar, supply %.1f V",
		r.MeasurementType, r.Time().Format(time.DateTime), r.CO2PPM, r.IRGATempC,
		r.HumidityMbar, r.HumiditySensorTempC, r.CellGasPressureMbar, r.SupplyVolts)
}

// parser keeps the first conversion error.
type parser struct {
	values []string
	err    error
}

func (p *parser) field(i int) string {
	return strings.TrimSpace(p.values[i])
}

func (p *parser) int(i int, name string) int {
	if p.err != nil {
		return 0
	}
	v, err := strconv.Atoi(p.field(i))
	if err != nil {
		p.err = fmt.Errorf("procv: invalid %s %q: %w", name, p.field(i), err)
	}
	return v
}

func (p *parser) uint16(i int, name string) uint16 {
	if p.err != nil {
		return 0
	}
	v, err := strconv.ParseUint(p.field(i), 10, 16)
	if err != nil {
		p.err = fmt.Errorf("procv: invalid %s %q: %w", name, p.field(i), err)
	}
	return uint16(v)
}

func (p *parser) float(i int, name string) float64 {
	if p.err != nil {
		return 0
	}
	v, err := strconv.ParseFloat(p.field(i), 64)
	if err != nil {
		p.err = fmt.Errorf("procv: invalid %s %q: %w", name, p.field(i), err)
	}
	return v
}

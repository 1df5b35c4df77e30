// Package store persists localization results: a CSV file per session for
// plotting and ground-truth comparison, and a MySQL store for collected runs.
package store

import (
	"encoding/csv"
	"fmt"
	"io"
	"slices"
	"strconv"
	"time"

	"github.com/teslashibe/go-soundloc/pkg/geometry"
	"github.com/teslashibe/go-soundloc/pkg/localize"
)

// CSVHeader is the column layout written by CSVWriter.
var CSVHeader = []string{"frame", "start_sample", "time_s", "x", "y", "residual", "status"}

// CSVWriter writes one row per position estimate.
type CSVWriter struct {
	w           *csv.Writer
	wroteHeader bool
}

// NewCSVWriter wraps w. The header is written with the first row.
func NewCSVWriter(w io.Writer) *CSVWriter {
	return &CSVWriter{w: csv.NewWriter(w)}
}

// Write appends e and flushes.
func (c *CSVWriter) Write(e localize.PositionEstimate) error {
	if !c.wroteHeader {
		if err := c.w.Write(CSVHeader); err != nil {
			return fmt.Errorf("store: write header: %w", err)
		}
		c.wroteHeader = true
	}
	row := []string{
		strconv.Itoa(e.Frame),
		strconv.Itoa(e.Start),
		strconv.FormatFloat(e.Time.Seconds(), 'f', 6, 64),
		strconv.FormatFloat(e.Position.X, 'f', 4, 64),
		strconv.FormatFloat(e.Position.Y, 'f', 4, 64),
		strconv.FormatFloat(e.Residual, 'g', 6, 64),
		e.Status.String(),
	}
	if err := c.w.Write(row); err != nil {
		return fmt.Errorf("store: write row: %w", err)
	}
	c.w.Flush()
	return c.w.Error()
}

// WriteAll writes every estimate in order.
func (c *CSVWriter) WriteAll(estimates []localize.PositionEstimate) error {
	for _, e := range estimates {
		if err := c.Write(e); err != nil {
			return err
		}
	}
	return nil
}

// ReadCSV parses a file written by CSVWriter.
func ReadCSV(r io.Reader) ([]localize.PositionEstimate, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(CSVHeader)

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: read header: %w", err)
	}
	if !slices.Equal(header, CSVHeader) {
		return nil, fmt.Errorf("store: unexpected header %v", header)
	}

	var out []localize.PositionEstimate
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("store: line %d: %w", line, err)
		}
		e, err := parseRow(rec)
		if err != nil {
			return nil, fmt.Errorf("store: line %d: %w", line, err)
		}
		out = append(out, e)
	}
}

func parseRow(rec []string) (localize.PositionEstimate, error) {
	var (
		e    localize.PositionEstimate
		errs [6]error
		secs float64
	)
	e.Frame, errs[0] = strconv.Atoi(rec[0])
	e.Start, errs[1] = strconv.Atoi(rec[1])
	secs, errs[2] = strconv.ParseFloat(rec[2], 64)
	var x, y float64
	x, errs[3] = strconv.ParseFloat(rec[3], 64)
	y, errs[4] = strconv.ParseFloat(rec[4], 64)
	e.Residual, errs[5] = strconv.ParseFloat(rec[5], 64)
	for _, err := range errs {
		if err != nil {
			return e, err
		}
	}
	status, err := localize.ParseFrameStatus(rec[6])
	if err != nil {
		return e, err
	}
	e.Time = time.Duration(secs * float64(time.Second))
	e.Position = geometry.Point2{X: x, Y: y}
	e.Status = status
	return e, nil
}

package accuracy

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/teslashibe/go-soundloc/pkg/geometry"
)

// MarkerTimeLayout is the wall-clock layout written by the marker tracker.
const MarkerTimeLayout = "2006-01-02 15:04:05.000"

// ErrNoColumns is returned when a CSV header lacks a time, x or y column.
var ErrNoColumns = errors.New("accuracy: csv needs time, x and y columns")

// CSVOptions controls how ground-truth rows are read.
type CSVOptions struct {
	// Start is the recording start. Wall-clock times are converted to offsets from it.
	Start time.Time

	// Location for wall-clock times without a zone. Defaults to time.Local.
	Location *time.Location

	// MarkerID keeps only rows for this marker when the file has a marker_id column.
	// Nil keeps every row. The rig's robot carries marker 4; markers 0-3 are the corners.
	MarkerID *int
}

// LoadCSV reads a trajectory with a header row. The time column ("t", "time" or
// "time_s") holds either seconds from the recording start or wall-clock times in
// MarkerTimeLayout; columns "x" and "y" hold the position.
func LoadCSV(r io.Reader, opts CSVOptions) (Trajectory, error) {
	if opts.Location == nil {
		opts.Location = time.Local
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return Trajectory{}, fmt.Errorf("accuracy: read header: %w", err)
	}
	col := map[string]int{}
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}

	ti := -1
	for _, name := range []string{"t", "time_s", "time"} {
		if i, ok := col[name]; ok {
			ti = i
			break
		}
	}
	xi, okX := col["x"]
	yi, okY := col["y"]
	if ti < 0 || !okX || !okY {
		return Trajectory{}, fmt.Errorf("%w: got %v", ErrNoColumns, header)
	}
	mi, hasMarker := col["marker_id"]

	var samples []Sample
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Trajectory{}, fmt.Errorf("accuracy: line %d: %w", line, err)
		}
		if len(rec) <= max(ti, xi, yi) {
			return Trajectory{}, fmt.Errorf("accuracy: line %d: short row", line)
		}

		if hasMarker && opts.MarkerID != nil && mi < len(rec) {
			id, err := strconv.Atoi(strings.TrimSpace(rec[mi]))
			if err != nil || id != *opts.MarkerID {
				continue
			}
		}

		at, err := parseTime(rec[ti], opts)
		if err != nil {
			return Trajectory{}, fmt.Errorf("accuracy: line %d: %w", line, err)
		}
		x, errX := strconv.ParseFloat(strings.TrimSpace(rec[xi]), 64)
		y, errY := strconv.ParseFloat(strings.TrimSpace(rec[yi]), 64)
		if err := errors.Join(errX, errY); err != nil {
			return Trajectory{}, fmt.Errorf("accuracy: line %d: %w", line, err)
		}
		samples = append(samples, Sample{Time: at, Position: geometry.Point2{X: x, Y: y}})
	}
	return NewTrajectory(samples), nil
}

// LoadCSVFile opens path and calls LoadCSV.
func LoadCSVFile(path string, opts CSVOptions) (Trajectory, error) {
	f, err := os.Open(path)
	if err != nil {
		return Trajectory{}, fmt.Errorf("accuracy: %w", err)
	}
	defer f.Close()
	return LoadCSV(f, opts)
}

func parseTime(field string, opts CSVOptions) (time.Duration, error) {
	field = strings.TrimSpace(field)
	if secs, err := strconv.ParseFloat(field, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	wall, err := time.ParseInLocation(MarkerTimeLayout, field, opts.Location)
	if err != nil {
		return 0, fmt.Errorf("time %q: %w", field, err)
	}
	if opts.Start.IsZero() {
		return 0, fmt.Errorf("time %q: wall-clock times need a recording start", field)
	}
	return wall.Sub(opts.Start), nil
}

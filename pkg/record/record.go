// Package record writes run snapshots and pose samples as CSV.
package record

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/gwillem/servochoreo/pkg/choreo"
)

// PositionWriter writes one row per snapshot:
// Iteration, Motor1, ..., MotorN.
type PositionWriter struct {
	w    *csv.Writer
	ids  []int
	rows int
}

// NewPositionWriter writes the header for ids and returns the writer.
func NewPositionWriter(w io.Writer, ids []int) (*PositionWriter, error) {
	pw := &PositionWriter{w: csv.NewWriter(w), ids: ids}

	header := make([]string, 0, len(ids)+1)
	header = append(header, "Iteration")
	for _, id := range ids {
		header = append(header, fmt.Sprintf("Motor%d", id))
	}
	if err := pw.w.Write(header); err != nil {
		return nil, err
	}
	return pw, nil
}

// Write appends a snapshot. Actuators missing from the snapshot get an
// empty cell.
func (pw *PositionWriter) Write(s choreo.Snapshot) error {
	pw.rows++
	row := make([]string, 0, len(pw.ids)+1)
	row = append(row, strconv.Itoa(pw.rows))
	for _, id := range pw.ids {
		if pos, ok := s.Positions[id]; ok {
			row = append(row, strconv.Itoa(pos))
		} else {
			row = append(row, "")
		}
	}
	if err := pw.w.Write(row); err != nil {
		return err
	}
	pw.w.Flush()
	return pw.w.Error()
}

// Rows returns the number of rows written, excluding the header.
func (pw *PositionWriter) Rows() int {
	return pw.rows
}

// SampleWriter writes one row per pose sample.
type SampleWriter struct {
	w     *csv.Writer
	start time.Time
}

// NewSampleWriter writes the header and returns the writer. Elapsed times
// are measured from the first sample.
func NewSampleWriter(w io.Writer) (*SampleWriter, error) {
	sw := &SampleWriter{w: csv.NewWriter(w)}
	if err := sw.w.Write([]string{"Pose", "Motor", "Position", "Load", "ElapsedMs"}); err != nil {
		return nil, err
	}
	return sw, nil
}

// Write appends a sample.
func (sw *SampleWriter) Write(s choreo.Sample) error {
	if sw.start.IsZero() {
		sw.start = s.Time
	}
	return sw.w.Write([]string{
		strconv.Itoa(s.Pose),
		strconv.Itoa(s.ID),
		strconv.Itoa(s.Position),
		strconv.Itoa(s.Load),
		strconv.FormatInt(s.Time.Sub(sw.start).Milliseconds(), 10),
	})
}

// Flush writes any buffered rows.
func (sw *SampleWriter) Flush() error {
	sw.w.Flush()
	return sw.w.Error()
}

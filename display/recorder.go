// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package display

// Snapshot is one WriteLines call as the Recorder saw it, after
// fitting.
type Snapshot struct {
	Line1 string
	Line2 string
}

// Recorder is an in-memory Display that keeps every write.
type Recorder struct {
	columns int

	// Writes holds every WriteLines call in order.
	Writes []Snapshot

	Clears         int
	Backlight      bool
	BacklightFlips int
	Blink          bool

	// Err, when non-nil, is returned by every method and nothing is
	// recorded.
	Err error
}

// NewRecorder returns a Recorder with the backlight on.
func NewRecorder(columns int) *Recorder {
	if columns <= 0 {
		columns = DefaultColumns
	}
	return &Recorder{columns: columns, Backlight: true}
}

func (r *Recorder) Columns() int { return r.columns }

func (r *Recorder) Clear() error {
	if r.Err != nil {
		return r.Err
	}
	r.Clears++
	return nil
}

func (r *Recorder) WriteLines(line1, line2 string) error {
	if r.Err != nil {
		return r.Err
	}
	r.Writes = append(r.Writes, Snapshot{Line1: Fit(line1, r.columns), Line2: Fit(line2, r.columns)})
	return nil
}

func (r *Recorder) SetBacklight(on bool) error {
	if r.Err != nil {
		return r.Err
	}
	if r.Backlight != on {
		r.BacklightFlips++
	}
	r.Backlight = on
	return nil
}

func (r *Recorder) SetBlink(on bool) error {
	if r.Err != nil {
		return r.Err
	}
	r.Blink = on
	return nil
}

// Last returns the most recent write, or the zero Snapshot.
func (r *Recorder) Last() Snapshot {
	if len(r.Writes) == 0 {
		return Snapshot{}
	}
	return r.Writes[len(r.Writes)-1]
}

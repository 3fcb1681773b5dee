package ocr

import (
	"sort"
	"strings"
	"time"
)

// Region is an axis-aligned bounding box in frame pixel coordinates.
type Region struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Fragment is one run of recognized text.
type Fragment struct {
	Text       string    `json:"text"`
	Region     Region    `json:"region"`
	Confidence float64   `json:"confidence"`
	CapturedAt time.Time `json:"captured_at"`
}

// lineSlack is how far apart (as a fraction of glyph height) two fragments'
// vertical centers may be and still count as the same text line.
const lineSlack = 0.5

// SortReadingOrder orders fragments top-to-bottom, then left-to-right within
// a line.
func SortReadingOrder(frags []Fragment) {
	sort.SliceStable(frags, func(i, j int) bool {
		a, b := frags[i].Region, frags[j].Region
		if sameLine(a, b) {
			return a.X < b.X
		}
		return a.Y < b.Y
	})
}

func sameLine(a, b Region) bool {
	h := a.H
	if b.H > h {
		h = b.H
	}
	ca := a.Y + a.H/2
	cb := b.Y + b.H/2
	d := ca - cb
	if d < 0 {
		d = -d
	}
	return float64(d) <= lineSlack*float64(h)
}

// Lines groups fragments already in reading order into text lines, joining
// fragments of the same line with single spaces.
func Lines(frags []Fragment) []string {
	var lines []string
	var cur []string
	var prev Region
	for i, f := range frags {
		if i > 0 && !sameLine(prev, f.Region) {
			lines = append(lines, strings.Join(cur, " "))
			cur = cur[:0]
		}
		cur = append(cur, f.Text)
		prev = f.Region
	}
	if len(cur) > 0 {
		lines = append(lines, strings.Join(cur, " "))
	}
	return lines
}

// Filter drops blank fragments and those below minConfidence.
func Filter(frags []Fragment, minConfidence float64) []Fragment {
	out := frags[:0]
	for _, f := range frags {
		f.Text = strings.TrimSpace(f.Text)
		if f.Text == "" || f.Confidence < minConfidence {
			continue
		}
		out = append(out, f)
	}
	return out
}

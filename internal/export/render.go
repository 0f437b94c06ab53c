// Package export renders transcripts to downloadable files.
package export

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/therealutkarshpriyadarshi/transcribe/pkg/models"
)

var (
	ErrUnsupportedFormat = errors.New("export format not supported")
	ErrUnknownFormat     = errors.New("unknown export format")
)

// Formats
const (
	FormatTXT  = "txt"
	FormatSRT  = "srt"
	FormatVTT  = "vtt"
	FormatPDF  = "pdf"
	FormatDOCX = "docx"
)

// Document is a finished transcript
type Document struct {
	Text            string
	Segments        []models.Segment
	DurationSeconds float64
}

// Render encodes doc in format
func Render(format string, doc Document) ([]byte, error) {
	switch format {
	case FormatTXT:
		return []byte(doc.Text), nil
	case FormatSRT:
		return []byte(renderCues(doc, srtTimestamp, "")), nil
	case FormatVTT:
		return []byte(renderCues(doc, vttTimestamp, "WEBVTT\n\n")), nil
	case FormatPDF, FormatDOCX:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// cues falls back to a single cue spanning the whole file when the backend
// returned no segments
func cues(doc Document) []models.Segment {
	if len(doc.Segments) > 0 {
		return doc.Segments
	}
	if strings.TrimSpace(doc.Text) == "" {
		return nil
	}
	return []models.Segment{{Start: 0, End: doc.DurationSeconds, Text: doc.Text}}
}

func renderCues(doc Document, stamp func(float64) string, header string) string {
	var b strings.Builder
	b.WriteString(header)
	for i, seg := range cues(doc) {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n", i+1, stamp(seg.Start), stamp(seg.End), strings.TrimSpace(seg.Text))
	}
	return b.String()
}

func split(seconds float64) (h, m, s, ms int) {
	if seconds < 0 {
		seconds = 0
	}
	total := int(math.Round(seconds * 1000))
	h = total / 3_600_000
	m = total / 60_000 % 60
	s = total / 1000 % 60
	ms = total % 1000
	return
}

func srtTimestamp(seconds float64) string {
	h, m, s, ms := split(seconds)
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

func vttTimestamp(seconds float64) string {
	h, m, s, ms := split(seconds)
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
}

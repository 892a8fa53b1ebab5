package media

import (
	"encoding/xml"
	"fmt"
	"strings"

	"loom/internal/catalog"
)

// Published caption tracks arrive as timedtext XML with millisecond offsets.
type timedText struct {
	XMLName    xml.Name         `xml:"timedtext"`
	Paragraphs []timedParagraph `xml:"body>p"`
}

type timedParagraph struct {
	Start    int64          `xml:"t,attr"`
	Duration int64          `xml:"d,attr"`
	Segments []timedSegment `xml:"s"`
	Text     string         `xml:",chardata"`
}

type timedSegment struct {
	Text string `xml:",chardata"`
}

// ParseTimedText converts a timedtext XML document into ordered transcript
// segments with second-resolution timing.
func ParseTimedText(data []byte) ([]catalog.Segment, error) {
	var doc timedText
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse timedtext: %w", err)
	}

	segments := make([]catalog.Segment, 0, len(doc.Paragraphs))
	for _, paragraph := range doc.Paragraphs {
		var builder strings.Builder
		for _, segment := range paragraph.Segments {
			builder.WriteString(segment.Text)
		}
		if builder.Len() == 0 {
			builder.WriteString(strings.TrimSpace(paragraph.Text))
		}
		text := strings.TrimSpace(builder.String())
		if text == "" {
			continue
		}

		start := float64(paragraph.Start) / 1000
		segments = append(segments, catalog.Segment{
			Text:  text,
			Start: start,
			End:   start + float64(paragraph.Duration)/1000,
		})
	}
	return segments, nil
}

// Package render draws computed frames as SVG documents or text agendas.
package render

import (
	"fmt"
	"strings"

	"github.com/cpuguy83/fieldgrid/internal/calendar"
	"github.com/cpuguy83/fieldgrid/internal/grid"
)

// SVGOptions controls frame drawing.
type SVGOptions struct {
	// LaneSize is the pixel size of one lane across the time axis: the
	// column width of day and week views, the row height of team views.
	LaneSize     float64
	LabelSize    float64 // gutter for time or resource labels
	HeaderSize   float64 // band for lane or time labels
	FontFamily   string
	FontSize     int
	Background   string
	GridColor    string
	HighlightBG  string
	NowColor     string
	StatusColors map[calendar.Status]string
}

// DefaultSVGOptions returns the options used by the HTTP API.
func DefaultSVGOptions() SVGOptions {
	return SVGOptions{
		LaneSize:    160,
		LabelSize:   56,
		HeaderSize:  28,
		FontFamily:  "Arial, sans-serif",
		FontSize:    12,
		Background:  "#ffffff",
		GridColor:   "#e0e0e0",
		HighlightBG: "#f3f8ff",
		NowColor:    "#d93025",
		StatusColors: map[calendar.Status]string{
			calendar.StatusScheduled:  "#4285f4",
			calendar.StatusConfirmed:  "#0b8043",
			calendar.StatusInProgress: "#f6bf26",
			calendar.StatusCompleted:  "#616161",
			calendar.StatusCancelled:  "#bdbdbd",
			calendar.StatusPending:    "#9e69af",
			calendar.StatusNoShow:     "#e67c73",
		},
	}
}

// rect is a box in document coordinates.
type rect struct {
	x, y, w, h float64
}

// SVG draws f. Zero option fields fall back to DefaultSVGOptions.
func SVG(f grid.Frame, opts SVGOptions) string {
	opts = withDefaults(opts)

	lanes := float64(len(f.Lanes))
	if lanes == 0 {
		lanes = 1
	}
	var width, height float64
	if f.Orientation == grid.Horizontal {
		width = opts.LabelSize + f.Extent
		height = opts.HeaderSize + lanes*opts.LaneSize
	} else {
		width = opts.LabelSize + lanes*opts.LaneSize
		height = opts.HeaderSize + f.Extent
	}

	var svg strings.Builder
	svg.WriteString(fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<svg width="%s" height="%s" xmlns="http://www.w3.org/2000/svg" data-kind="%s">
<rect width="100%%" height="100%%" fill="%s"/>
<defs>
<style>
.label { font-family: %s; font-size: %dpx; fill: #3c4043; }
.title { font-family: %s; font-size: %dpx; fill: #ffffff; }
</style>
</defs>
`, num(width), num(height), f.Kind, opts.Background,
		opts.FontFamily, opts.FontSize-1,
		opts.FontFamily, opts.FontSize))

	drawSlots(&svg, f, opts, lanes)
	drawLanes(&svg, f, opts)
	for _, pe := range f.Events {
		drawEvent(&svg, f, pe, opts)
	}
	drawNow(&svg, f, opts, lanes)

	svg.WriteString("</svg>\n")
	return svg.String()
}

func withDefaults(o SVGOptions) SVGOptions {
	d := DefaultSVGOptions()
	if o.LaneSize <= 0 {
		o.LaneSize = d.LaneSize
	}
	if o.LabelSize <= 0 {
		o.LabelSize = d.LabelSize
	}
	if o.HeaderSize <= 0 {
		o.HeaderSize = d.HeaderSize
	}
	if o.FontFamily == "" {
		o.FontFamily = d.FontFamily
	}
	if o.FontSize <= 0 {
		o.FontSize = d.FontSize
	}
	if o.Background == "" {
		o.Background = d.Background
	}
	if o.GridColor == "" {
		o.GridColor = d.GridColor
	}
	if o.HighlightBG == "" {
		o.HighlightBG = d.HighlightBG
	}
	if o.NowColor == "" {
		o.NowColor = d.NowColor
	}
	if o.StatusColors == nil {
		o.StatusColors = d.StatusColors
	}
	return o
}

// slotBox places a slot cell. Team views share one slot row across all
// resource rows.
func slotBox(f grid.Frame, s grid.Slot, opts SVGOptions, lanes float64) rect {
	size := f.Extent
	if n := countSlots(f, s.Lane); n > 0 {
		size = f.Extent / float64(n)
	}
	if f.Orientation == grid.Horizontal {
		return rect{x: opts.LabelSize + s.Offset, y: opts.HeaderSize, w: size, h: lanes * opts.LaneSize}
	}
	return rect{x: opts.LabelSize + float64(s.Lane)*opts.LaneSize, y: opts.HeaderSize + s.Offset, w: opts.LaneSize, h: size}
}

func countSlots(f grid.Frame, lane int) int {
	n := 0
	for _, s := range f.Slots {
		if s.Lane == lane {
			n++
		}
	}
	return n
}

func drawSlots(svg *strings.Builder, f grid.Frame, opts SVGOptions, lanes float64) {
	for _, s := range f.Slots {
		b := slotBox(f, s, opts, lanes)
		if s.Highlighted {
			svg.WriteString(fmt.Sprintf(`<rect x="%s" y="%s" width="%s" height="%s" fill="%s"/>`+"\n",
				num(b.x), num(b.y), num(b.w), num(b.h), opts.HighlightBG))
		}
		if f.Orientation == grid.Horizontal {
			svg.WriteString(fmt.Sprintf(`<line x1="%s" y1="%s" x2="%s" y2="%s" stroke="%s"/>`+"\n",
				num(b.x), num(b.y), num(b.x), num(b.y+b.h), opts.GridColor))
		} else {
			svg.WriteString(fmt.Sprintf(`<line x1="%s" y1="%s" x2="%s" y2="%s" stroke="%s"/>`+"\n",
				num(b.x), num(b.y), num(b.x+b.w), num(b.y), opts.GridColor))
		}

		// Time labels once, along the first lane.
		if s.Lane != 0 {
			continue
		}
		label := s.Start.Format("15:04")
		if f.Orientation == grid.Horizontal {
			svg.WriteString(fmt.Sprintf(`<text x="%s" y="%s" class="label">%s</text>`+"\n",
				num(b.x+2), num(opts.HeaderSize-8), label))
		} else {
			svg.WriteString(fmt.Sprintf(`<text x="%s" y="%s" class="label" text-anchor="end">%s</text>`+"\n",
				num(opts.LabelSize-4), num(b.y+float64(opts.FontSize)), label))
		}
	}
}

func drawLanes(svg *strings.Builder, f grid.Frame, opts SVGOptions) {
	for _, l := range f.Lanes {
		label := escapeXML(l.Label)
		if f.Orientation == grid.Horizontal {
			y := opts.HeaderSize + float64(l.Index)*opts.LaneSize
			svg.WriteString(fmt.Sprintf(`<line x1="0" y1="%s" x2="%s" y2="%s" stroke="%s"/>`+"\n",
				num(y), num(opts.LabelSize+f.Extent), num(y), opts.GridColor))
			svg.WriteString(fmt.Sprintf(`<text x="4" y="%s" class="label">%s</text>`+"\n",
				num(y+opts.LaneSize/2), label))
			continue
		}
		x := opts.LabelSize + float64(l.Index)*opts.LaneSize
		svg.WriteString(fmt.Sprintf(`<line x1="%s" y1="0" x2="%s" y2="%s" stroke="%s"/>`+"\n",
			num(x), num(x), num(opts.HeaderSize+f.Extent), opts.GridColor))
		svg.WriteString(fmt.Sprintf(`<text x="%s" y="%s" class="label">%s</text>`+"\n",
			num(x+4), num(opts.HeaderSize-8), label))
	}
}

// eventBox converts positioned geometry to document coordinates.
func eventBox(f grid.Frame, pe grid.PositionedEvent, opts SVGOptions) rect {
	if f.Orientation == grid.Horizontal {
		rowY := opts.HeaderSize + float64(pe.Lane)*opts.LaneSize
		return rect{
			x: opts.LabelSize + pe.Left,
			y: rowY + pe.Top*opts.LaneSize,
			w: pe.Width,
			h: pe.Height * opts.LaneSize,
		}
	}
	laneX := opts.LabelSize + float64(pe.Lane)*opts.LaneSize
	return rect{
		x: laneX + pe.Left*opts.LaneSize,
		y: opts.HeaderSize + pe.Top,
		w: pe.Width * opts.LaneSize,
		h: pe.Height,
	}
}

func drawEvent(svg *strings.Builder, f grid.Frame, pe grid.PositionedEvent, opts SVGOptions) {
	b := eventBox(f, pe, opts)
	color, ok := opts.StatusColors[pe.Event.Status]
	if !ok {
		color = opts.StatusColors[calendar.StatusScheduled]
	}

	svg.WriteString(fmt.Sprintf(`<g data-event="%s">`+"\n", escapeXML(pe.Event.ID)))
	svg.WriteString(fmt.Sprintf(`<rect x="%s" y="%s" width="%s" height="%s" rx="3" fill="%s" stroke="#ffffff"/>`+"\n",
		num(b.x), num(b.y), num(b.w), num(b.h), color))
	svg.WriteString(fmt.Sprintf(`<text x="%s" y="%s" class="title">%s</text>`+"\n",
		num(b.x+3), num(b.y+float64(opts.FontSize)+1), escapeXML(pe.Event.Title)))
	svg.WriteString("</g>\n")
}

func drawNow(svg *strings.Builder, f grid.Frame, opts SVGOptions, lanes float64) {
	if !f.Now.Visible || f.Now.AfterWindow {
		return
	}
	if f.Orientation == grid.Horizontal {
		x := opts.LabelSize + f.Now.Offset
		svg.WriteString(fmt.Sprintf(`<line x1="%s" y1="%s" x2="%s" y2="%s" stroke="%s" stroke-width="2" class="now"/>`+"\n",
			num(x), num(opts.HeaderSize), num(x), num(opts.HeaderSize+lanes*opts.LaneSize), opts.NowColor))
		return
	}
	x := opts.LabelSize + float64(f.Now.Lane)*opts.LaneSize
	y := opts.HeaderSize + f.Now.Offset
	svg.WriteString(fmt.Sprintf(`<line x1="%s" y1="%s" x2="%s" y2="%s" stroke="%s" stroke-width="2" class="now"/>`+"\n",
		num(x), num(y), num(x+opts.LaneSize), num(y), opts.NowColor))
}

// num formats a coordinate without trailing zeros.
func num(v float64) string {
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.2f", v), "0"), ".")
}

// escapeXML escapes special XML characters in a string to ensure valid SVG output.
func escapeXML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	s = strings.ReplaceAll(s, "'", "&apos;")
	return s
}

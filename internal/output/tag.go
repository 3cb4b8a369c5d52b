package output

import (
	"github.com/fatih/color"
)

// Palette is the fixed set of host colors. Tags cycle through it by index.
var Palette = [...]color.Attribute{
	color.FgRed,
	color.FgGreen,
	color.FgYellow,
	color.FgBlue,
	color.FgMagenta,
	color.FgCyan,
	color.FgWhite,
}

// Label is the display tag attached to every line from one host.
type Label struct {
	Host  string
	Index int
	Color color.Attribute
	text  string
}

// String returns the rendered tag, colored unless the tagger disabled it.
func (l Label) String() string {
	return l.text
}

// Plain returns the uncolored tag text.
func (l Label) Plain() string {
	return "[" + l.Host + "]"
}

// Tagger assigns labels to hosts.
type Tagger struct {
	noColor bool
}

// NewTagger returns a tagger. With noColor set, labels render without
// escape sequences regardless of terminal detection.
func NewTagger(noColor bool) Tagger {
	return Tagger{noColor: noColor}
}

// StyleFor returns the palette entry for a host position.
func StyleFor(index int) color.Attribute {
	n := len(Palette)
	return Palette[((index%n)+n)%n]
}

// Tag returns the label for the host at the given position. The color
// depends on the index only, so equal hostnames at different positions
// still get distinct tags.
func (tg Tagger) Tag(host string, index int) Label {
	attr := StyleFor(index)
	label := Label{Host: host, Index: index, Color: attr}

	c := color.New(attr)
	if tg.noColor {
		c.DisableColor()
	} else {
		c.EnableColor()
	}
	label.text = c.Sprint(label.Plain())

	return label
}

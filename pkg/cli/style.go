package cli

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Tone colors a card by outcome.
type Tone int

const (
	ToneNeutral Tone = iota
	ToneAccept
	ToneHold
	ToneReject
)

// Theme defines the color scheme.
type Theme struct {
	Primary lipgloss.Color
	Accept  lipgloss.Color
	Hold    lipgloss.Color
	Reject  lipgloss.Color
	Dim     lipgloss.Color
}

// DefaultTheme is the default bright green theme.
var DefaultTheme = Theme{
	Primary: lipgloss.Color("#00ff9f"),
	Accept:  lipgloss.Color("#00ff9f"),
	Hold:    lipgloss.Color("#e3b341"),
	Reject:  lipgloss.Color("#ff5f5f"),
	Dim:     lipgloss.Color("#6e7681"),
}

// Styles holds all styles derived from a theme.
type Styles struct {
	Title lipgloss.Style
	Label lipgloss.Style
	Value lipgloss.Style
	Help  lipgloss.Style
	Box   lipgloss.Style
	theme Theme
}

// NewStyles creates styles from a theme.
func NewStyles(t Theme) Styles {
	return Styles{
		Title: lipgloss.NewStyle().Bold(true),
		Label: lipgloss.NewStyle().Foreground(t.Dim),
		Value: lipgloss.NewStyle(),
		Help:  lipgloss.NewStyle().Foreground(t.Dim).Italic(true),
		Box:   lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1),
		theme: t,
	}
}

// DefaultStyles returns NewStyles(DefaultTheme).
func DefaultStyles() Styles { return NewStyles(DefaultTheme) }

func (s Styles) color(t Tone) lipgloss.Color {
	switch t {
	case ToneAccept:
		return s.theme.Accept
	case ToneHold:
		return s.theme.Hold
	case ToneReject:
		return s.theme.Reject
	default:
		return s.theme.Primary
	}
}

// Row is one labeled line of a card.
type Row struct {
	Label string
	Value string
}

// Card is a boxed summary of one result.
type Card struct {
	Title  string
	Status string
	Tone   Tone
	Rows   []Row
	Note   string
}

// Render renders the card with aligned labels.
func (c Card) Render(s Styles) string {
	accent := s.color(c.Tone)
	head := s.Title.Foreground(accent).Render(c.Title)
	if c.Status != "" {
		head += " " + lipgloss.NewStyle().Bold(true).Foreground(accent).Render("["+c.Status+"]")
	}

	width := 0
	for _, r := range c.Rows {
		width = max(width, lipgloss.Width(r.Label))
	}
	lines := []string{head}
	if len(c.Rows) > 0 {
		lines = append(lines, "")
	}
	for _, r := range c.Rows {
		pad := strings.Repeat(" ", width-lipgloss.Width(r.Label))
		lines = append(lines, s.Label.Render(r.Label+pad)+"  "+s.Value.Render(r.Value))
	}
	if c.Note != "" {
		lines = append(lines, "", s.Help.Render(c.Note))
	}
	return s.Box.BorderForeground(accent).Render(strings.Join(lines, "\n"))
}

// Package console renders status and messages for a terminal.
package console

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/muesli/termenv"

	"github.com/loqalabs/reed/internal/playback"
)

const (
	colorRed    = lipgloss.Color("1")
	colorGreen  = lipgloss.Color("2")
	colorYellow = lipgloss.Color("3")
	colorCyan   = lipgloss.Color("6")
)

// Command is one row of the interactive help table.
type Command struct {
	Name        string
	Description string
}

// VoiceRow is one installed voice model.
type VoiceRow struct {
	Name    string
	SizeMB  float64
	Default bool
}

// HistoryRow is one recorded playback session.
type HistoryRow struct {
	ID       string
	Started  time.Time
	Outcome  string
	Duration time.Duration
	Text     string
}

// TimelineRow is one status update within a session.
type TimelineRow struct {
	At      time.Time
	Kind    string
	Message string
}

// Printer writes human readable output. It is safe for concurrent use and
// implements playback.Sink.
type Printer struct {
	mu      sync.Mutex
	w       io.Writer
	color   bool
	profile termenv.Profile

	plain, bold, dim, red, green, yellow, cyan lipgloss.Style
}

// New returns a Printer writing to w. ANSI styling is only used when color is
// set, normally when w is a terminal.
func New(w io.Writer, color bool) *Printer {
	profile := termenv.Ascii
	if color {
		profile = termenv.ANSI
	}
	r := lipgloss.NewRenderer(w)
	r.SetColorProfile(profile)
	r.SetHasDarkBackground(true)

	base := r.NewStyle()
	return &Printer{
		w:       w,
		color:   color,
		profile: profile,
		plain:   base,
		bold:    base.Bold(true),
		dim:     base.Faint(true),
		red:     base.Bold(true).Foreground(colorRed),
		green:   base.Bold(true).Foreground(colorGreen),
		yellow:  base.Bold(true).Foreground(colorYellow),
		cyan:    base.Bold(true).Foreground(colorCyan),
	}
}

// SetOutput redirects subsequent output, e.g. through a line editor that
// redraws its prompt.
func (p *Printer) SetOutput(w io.Writer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.w = w
}

func (p *Printer) Emit(s playback.Status) {
	switch s.Kind {
	case playback.KindGenerating:
		p.line(p.cyan, "⠋ "+orDefault(s.Message, "Generating speech..."))
	case playback.KindPlaying:
		p.line(p.green, "▶ "+orDefault(s.Message, "Playing..."))
	case playback.KindPaused:
		p.line(p.yellow, "⏸ Paused")
	case playback.KindStopped:
		p.line(p.red, "⏹ Stopped")
	case playback.KindDone:
		p.line(p.green, "✓ Done")
	case playback.KindError:
		msg := "✗ Playback error"
		if s.Err != nil {
			msg += ": " + s.Err.Error()
		}
		p.line(p.red, msg)
	}
}

// Println writes an unstyled line.
func (p *Printer) Println(text string) {
	p.line(p.plain, text)
}

func (p *Printer) Success(text string) {
	p.line(p.green, "✓ "+text)
}

func (p *Printer) Notice(text string) {
	p.line(p.yellow, text)
}

// Heading announces a section such as a PDF page or an EPUB chapter.
func (p *Printer) Heading(text string) {
	p.line(p.plain, "")
	p.line(p.cyan, text)
}

func (p *Printer) Dim(text string) {
	p.line(p.dim, text)
}

// Error prints msg in a titled box with its first letter upper-cased.
func (p *Printer) Error(msg string) {
	p.panel("Error", colorRed, []string{capitalize(msg)})
}

// Saved confirms a file written in output mode.
func (p *Printer) Saved(path string) {
	p.panel("Output Saved", colorGreen, []string{"✓ Successfully saved", "", "File: " + path})
}

func (p *Printer) Banner() {
	p.line(p.bold, "🔊 reed - Interactive Mode")
	p.line(p.plain, strings.Repeat("─", 62))
	p.line(p.dim, "Type or paste text and press Enter to hear it.")
	p.line(p.dim, "Type /quit or /exit to stop. Ctrl-D for EOF.")
	p.line(p.dim, "Available commands: /help, /clear, /replay, /pause, /resume, /stop")
}

func (p *Printer) Help(commands []Command) {
	width := 0
	for _, c := range commands {
		width = max(width, lipgloss.Width(c.Name))
	}
	lines := []string{"Available Commands:", ""}
	for _, c := range commands {
		pad := strings.Repeat(" ", width-lipgloss.Width(c.Name))
		lines = append(lines, c.Name+pad+" - "+c.Description)
	}
	p.panel("Commands", colorCyan, lines)
}

// Clear erases the screen when writing to a terminal.
func (p *Printer) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.color {
		out := termenv.NewOutput(p.w, termenv.WithProfile(p.profile))
		out.ClearScreen()
	}
}

// Prompt writes text without a trailing newline.
func (p *Printer) Prompt(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprint(p.w, text)
}

// Voices prints the installed voice table.
func (p *Printer) Voices(rows []VoiceRow) {
	t := p.table("Name", "Size (MB)", "Default")
	for _, r := range rows {
		star := ""
		if r.Default {
			star = "⭐"
		}
		t.Row(r.Name, fmt.Sprintf("%.1f", r.SizeMB), star)
	}
	t.StyleFunc(func(row, col int) lipgloss.Style {
		st := p.plain.Padding(0, 1)
		if row == table.HeaderRow {
			st = st.Inherit(p.bold)
		}
		if col == 1 {
			st = st.Align(lipgloss.Right)
		}
		return st
	})
	p.block("Installed Voices", t.Render())
}

// History prints recent sessions, newest first. Text is cut to one line.
func (p *Printer) History(rows []HistoryRow) {
	t := p.table("Session", "Started", "Outcome", "Length", "Text")
	for _, r := range rows {
		length := "-"
		if r.Duration > 0 {
			length = fmt.Sprintf("%.1fs", r.Duration.Seconds())
		}
		t.Row(r.ID, r.Started.Local().Format("2006-01-02 15:04"), orDefault(r.Outcome, "?"), length, preview(r.Text, 48))
	}
	t.StyleFunc(p.headerStyle)
	p.block("Recent Sessions", t.Render())
}

// Timeline prints the status updates of one session in order.
func (p *Printer) Timeline(title string, rows []TimelineRow) {
	t := p.table("Time", "Status", "Message")
	for _, r := range rows {
		t.Row(r.At.Local().Format("15:04:05.000"), r.Kind, r.Message)
	}
	t.StyleFunc(p.headerStyle)
	p.block(title, t.Render())
}

func (p *Printer) table(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(p.dim).
		Headers(headers...)
}

func (p *Printer) headerStyle(row, _ int) lipgloss.Style {
	st := p.plain.Padding(0, 1)
	if row == table.HeaderRow {
		st = st.Inherit(p.bold)
	}
	return st
}

func (p *Printer) block(title, body string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, p.bold.Render(title))
	fmt.Fprintln(p.w, body)
}

func (p *Printer) line(st lipgloss.Style, text string) {
	if text != "" {
		text = st.Render(text)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, text)
}

// panel draws lines in a rounded box with title set into the top border.
func (p *Printer) panel(title string, color lipgloss.Color, lines []string) {
	border := lipgloss.RoundedBorder()
	label := " " + title + " "

	inner := lipgloss.Width(label) + 1
	for _, l := range lines {
		inner = max(inner, lipgloss.Width(l))
	}
	body := make([]string, len(lines))
	copy(body, lines)
	if len(body) == 0 {
		body = []string{""}
	}
	body[0] += strings.Repeat(" ", inner-lipgloss.Width(body[0]))

	edge := p.plain.Foreground(color)
	box := p.plain.
		Border(border).
		BorderForeground(color).
		Padding(0, 1).
		Render(strings.Join(body, "\n"))

	rows := strings.Split(box, "\n")
	fill := lipgloss.Width(rows[0]) - 3 - lipgloss.Width(label)
	rows[0] = edge.Render(border.TopLeft+border.Top) +
		p.bold.Foreground(color).Render(label) +
		edge.Render(strings.Repeat(border.Top, fill)+border.TopRight)

	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, strings.Join(rows, "\n"))
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func preview(text string, limit int) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return string(runes[:limit-1]) + "…"
}

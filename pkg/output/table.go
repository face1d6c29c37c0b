package output

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// BackendSummary contains data for the backend status table.
type BackendSummary struct {
	Name      string
	Prefix    string
	Transport string // http, stdio
	State     string // connected, connecting, disconnected, disabled
	Tools     int
	Notes     string
	LastError string
}

// KitSummary contains data for the kit table.
type KitSummary struct {
	Name     string
	Version  string
	Backends int
	Source   string
}

// Backends prints the backend status table.
func (p *Printer) Backends(backends []BackendSummary) {
	if len(backends) == 0 {
		p.Println("no backends registered")
		return
	}

	p.Println()

	t := table.NewWriter()
	t.SetOutputMirror(p.out)
	t.SetStyle(p.tableStyle())

	t.AppendHeader(table.Row{"Name", "Prefix", "Transport", "State", "Tools", "Notes", "Last Error"})

	for _, b := range backends {
		state := b.State
		if p.isTTY {
			state = colorState(b.State)
		}
		t.AppendRow(table.Row{b.Name, b.Prefix, b.Transport, state, b.Tools, b.Notes, b.LastError})
	}

	t.Render()
	p.Println()
}

// Kits prints the loaded-kit table.
func (p *Printer) Kits(kits []KitSummary) {
	if len(kits) == 0 {
		p.Println("no kits loaded")
		return
	}

	p.Section("KITS")

	t := table.NewWriter()
	t.SetOutputMirror(p.out)
	t.SetStyle(p.tableStyle())

	t.AppendHeader(table.Row{"Name", "Version", "Backends", "Source"})
	for _, k := range kits {
		t.AppendRow(table.Row{k.Name, k.Version, k.Backends, k.Source})
	}

	t.Render()
	p.Println()
}

// colorState applies color to a connection state.
func colorState(state string) string {
	var style lipgloss.Style
	switch state {
	case "connected":
		style = lipgloss.NewStyle().Foreground(ColorGreen)
	case "disconnected":
		style = lipgloss.NewStyle().Foreground(ColorRed)
	case "connecting":
		style = lipgloss.NewStyle().Foreground(ColorAmber)
	case "disabled":
		style = lipgloss.NewStyle().Foreground(ColorMuted)
	default:
		style = lipgloss.NewStyle().Foreground(ColorGray)
	}
	return style.Render(state)
}

// tableStyle returns the standard table style.
func (p *Printer) tableStyle() table.Style {
	style := table.StyleRounded
	if p.isTTY {
		style.Color.Header = text.Colors{text.FgHiCyan, text.Bold}
		style.Color.Border = text.Colors{text.FgHiBlack}
	}
	style.Options.SeparateRows = false
	return style
}

// Section prints a section header.
func (p *Printer) Section(title string) {
	if p.isTTY {
		style := lipgloss.NewStyle().Foreground(ColorTeal).Bold(true)
		p.Println(style.Render(title))
	} else {
		p.Println(title)
	}
}

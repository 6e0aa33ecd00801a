package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/seam/cli/reader"
	"github.com/pithecene-io/seam/runner"
)

// InspectModel is a Bubble Tea model for inspect views.
type InspectModel struct {
	viewType string
	data     any
	width    int
	height   int
	quitting bool
}

// NewInspectModel creates a new inspect model.
func NewInspectModel(viewType string, data any) InspectModel {
	return InspectModel{
		viewType: viewType,
		data:     data,
	}
}

// Init implements tea.Model.
func (m InspectModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m InspectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}
	}

	return m, nil
}

// View implements tea.Model.
func (m InspectModel) View() string {
	if m.quitting {
		return ""
	}

	var content string
	switch m.viewType {
	case "inspect_run":
		content = m.renderInspectRun()
	case "inspect_chain":
		content = m.renderInspectChain()
	default:
		content = fmt.Sprintf("Unknown view type: %s", m.viewType)
	}

	help := HelpStyle.Render("Press q or Ctrl+C to quit")
	return content + "\n" + help
}

func (m InspectModel) renderInspectRun() string {
	data, ok := m.data.(*reader.RunView)
	if !ok {
		return "Invalid data type for inspect_run"
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Run Details"))
	b.WriteString("\n\n")

	rows := [][]string{
		{"Directory", data.Dir},
		{"Run ID", data.RunID},
		{"Script", data.Script},
		{"Phase", data.Phase},
		{"Seal", data.Seal},
		{"Chainable", fmt.Sprintf("%t", data.Chainable)},
	}
	if data.ChainIndex > 0 {
		rows = append(rows, []string{"Chain Index", fmt.Sprintf("%d", data.ChainIndex)})
	}
	if !data.StartedAt.IsZero() {
		rows = append(rows, []string{"Started At", data.StartedAt.Format("2006-01-02 15:04:05")})
	}
	if !data.FinishedAt.IsZero() {
		rows = append(rows, []string{"Finished At", data.FinishedAt.Format("2006-01-02 15:04:05")})
	}
	if data.Error != "" {
		rows = append(rows, []string{"Error", data.Error})
	}

	for _, row := range rows {
		label := LabelStyle.Render(row[0] + ":")
		value := row[1]
		switch row[0] {
		case "Seal":
			value = SealStyle(data.Seal).Render(value)
		case "Error":
			value = ErrorStyle.Render(value)
		default:
			value = ValueStyle.Render(value)
		}
		b.WriteString(fmt.Sprintf("%s %s\n", label, value))
	}

	if data.Hash != "" {
		b.WriteString(fmt.Sprintf("%s %s\n",
			LabelStyle.Render("Hash:"),
			ValueStyle.Render(shortHash(data.Hash))))
	}

	if len(data.Contexts) > 0 {
		b.WriteString("\n")
		b.WriteString(TitleStyle.Render("Contexts"))
		b.WriteString("\n")
		for _, c := range data.Contexts {
			b.WriteString(fmt.Sprintf("  • %s %s\n",
				ValueStyle.Render(c.Name),
				LabelStyle.Render(contextFlags(c))))
		}
	}

	return BoxStyle.Render(b.String())
}

func (m InspectModel) renderInspectChain() string {
	data, ok := m.data.(*reader.ChainView)
	if !ok {
		return "Invalid data type for inspect_chain"
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Chain Details"))
	b.WriteString("\n\n")

	b.WriteString(fmt.Sprintf("%s %s\n",
		LabelStyle.Render("Base Dir:"),
		ValueStyle.Render(data.BaseDir)))
	if data.NextIndex > 0 {
		b.WriteString(fmt.Sprintf("%s %s\n",
			LabelStyle.Render("Next Index:"),
			ValueStyle.Render(fmt.Sprintf("%d", data.NextIndex))))
		b.WriteString(fmt.Sprintf("%s %s\n",
			LabelStyle.Render("Previous:"),
			ValueStyle.Render(data.Previous)))
	}
	b.WriteString(fmt.Sprintf("%s %s\n",
		LabelStyle.Render("Runs:"),
		ValueStyle.Render(fmt.Sprintf("%d", len(data.Runs)))))

	if len(data.Runs) > 0 {
		b.WriteString("\n")
		for _, run := range data.Runs {
			marker := SealStyle(run.Seal).Render("●")
			line := fmt.Sprintf("  %s %s", marker, ValueStyle.Render(run.Dir))
			if run.Script != "" {
				line += " " + LabelStyle.Render(run.Script)
			}
			if run.Error != "" {
				line += " " + ErrorStyle.Render("failed")
			}
			b.WriteString(line + "\n")
		}
	}

	return BoxStyle.Render(b.String())
}

func contextFlags(c runner.ContextReport) string {
	var flags []string
	if c.RecordedHAR {
		flags = append(flags, "har")
	}
	if c.RecordedVideo {
		flags = append(flags, "video")
	}
	if c.RecordedWARC {
		flags = append(flags, "warc")
	}
	if c.Replay != "" && c.Replay != "off" {
		flags = append(flags, "replay:"+c.Replay)
	}
	if c.CrashedHelper != "" {
		flags = append(flags, "crashed:"+c.CrashedHelper)
	}
	if len(flags) == 0 {
		return "-"
	}
	return strings.Join(flags, ",")
}

func shortHash(hash string) string {
	if len(hash) > 16 {
		return hash[:16] + "…"
	}
	return hash
}

// keyMap defines key bindings.
type keyMap struct {
	Quit key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// RunInspectTUI runs the inspect TUI.
func RunInspectTUI(viewType string, data any) error {
	model := NewInspectModel(viewType, data)
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RenderInspectStatic renders inspect data without full TUI (for fallback).
func RenderInspectStatic(viewType string, data any) string {
	model := NewInspectModel(viewType, data)
	model.width = 80
	model.height = 24
	return lipgloss.NewStyle().Padding(1, 2).Render(model.View())
}

package chat

import "github.com/charmbracelet/lipgloss"

// palette names the colors of the monitoring console look.
type palette struct {
	ink      lipgloss.Color
	teal     lipgloss.Color
	deepTeal lipgloss.Color
	aqua     lipgloss.Color
	amber    lipgloss.Color
	green    lipgloss.Color
	sky      lipgloss.Color
	red      lipgloss.Color
	crimson  lipgloss.Color
	muted    lipgloss.Color
	text     lipgloss.Color
	surface  lipgloss.Color
	panel    lipgloss.Color
	field    lipgloss.Color
}

var console = palette{
	ink:      lipgloss.Color("16"),
	teal:     lipgloss.Color("44"),
	deepTeal: lipgloss.Color("23"),
	aqua:     lipgloss.Color("159"),
	amber:    lipgloss.Color("214"),
	green:    lipgloss.Color("114"),
	sky:      lipgloss.Color("117"),
	red:      lipgloss.Color("203"),
	crimson:  lipgloss.Color("160"),
	muted:    lipgloss.Color("244"),
	text:     lipgloss.Color("250"),
	surface:  lipgloss.Color("233"),
	panel:    lipgloss.Color("234"),
	field:    lipgloss.Color("236"),
}

// theme groups reusable styles for chat UI regions.
type theme struct {
	header         lipgloss.Style
	headerMeta     lipgloss.Style
	divider        lipgloss.Style
	bootLine       lipgloss.Style
	bootDone       lipgloss.Style
	userBox        lipgloss.Style
	userTitle      lipgloss.Style
	assistantBox   lipgloss.Style
	assistantTitle lipgloss.Style
	metrics        lipgloss.Style
	highlight      lipgloss.Style
	alert          lipgloss.Style
	suggestion     lipgloss.Style
	errorBox       lipgloss.Style
	errorTitle     lipgloss.Style
	status         lipgloss.Style
	statusBusy     lipgloss.Style
	statusErr      lipgloss.Style
	stateOnline    lipgloss.Style
	stateBusy      lipgloss.Style
	stateOffline   lipgloss.Style
	hint           lipgloss.Style
	inputLabel     lipgloss.Style
	input          lipgloss.Style
	viewport       lipgloss.Style
}

func messageBox(border, background lipgloss.Color) lipgloss.Style {
	return lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(border).
		Background(background).
		Padding(0, 1)
}

func badge(foreground, background lipgloss.Color) lipgloss.Style {
	return lipgloss.NewStyle().
		Bold(true).
		Foreground(foreground).
		Background(background).
		Padding(0, 1)
}

func tint(color lipgloss.Color, bold bool) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(color).Bold(bold)
}

func defaultTheme() theme {
	p := console

	return theme{
		header:         badge(lipgloss.Color("231"), p.deepTeal),
		headerMeta:     tint(p.aqua, false),
		divider:        tint(p.deepTeal, false),
		bootLine:       tint(p.sky, false),
		bootDone:       tint(p.green, true),
		userBox:        messageBox(p.amber, p.field),
		userTitle:      badge(p.ink, p.amber),
		assistantBox:   messageBox(p.teal, p.panel),
		assistantTitle: badge(p.ink, p.teal),
		metrics: lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(p.teal).
			Foreground(p.aqua).
			PaddingLeft(1),
		highlight:    tint(p.green, false),
		alert:        tint(p.amber, true),
		suggestion:   tint(p.sky, false),
		errorBox:     messageBox(p.red, lipgloss.Color("52")).Foreground(p.red),
		errorTitle:   badge(lipgloss.Color("231"), p.crimson),
		status:       tint(p.text, true),
		statusBusy:   tint(p.amber, true),
		statusErr:    tint(p.red, true),
		stateOnline:  tint(p.green, true),
		stateBusy:    tint(p.amber, false),
		stateOffline: tint(p.red, false),
		hint:         tint(p.muted, false),
		inputLabel:   tint(p.aqua, true),
		input: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(p.teal).
			Background(p.field).
			Padding(0, 1),
		viewport: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(p.deepTeal).
			Background(p.surface).
			Padding(0, 1),
	}
}

// Package styles holds the lipgloss palette and message helpers shared by the
// chronicle commands.
package styles

import "github.com/charmbracelet/lipgloss"

// Palette. DisableColors blanks every entry.
var (
	Primary = lipgloss.Color("#EA580C") // ember
	Accent  = lipgloss.Color("#FB923C")

	Success = lipgloss.Color("#10B981")
	Warning = lipgloss.Color("#F59E0B")
	Error   = lipgloss.Color("#EF4444")
	Info    = lipgloss.Color("#3B82F6")

	Text    = lipgloss.Color("#F9FAFB")
	TextDim = lipgloss.Color("#6B7280")
	Faint   = lipgloss.Color("#9CA3AF")
	Surface = lipgloss.Color("#1F2937")
	Border  = lipgloss.Color("#374151")

	// Hot is the live event store, Cold the SQLite archive.
	Hot  = lipgloss.Color("#F97316")
	Cold = lipgloss.Color("#38BDF8")
)

func fg(c lipgloss.Color) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(c)
}

func bold(c lipgloss.Color) lipgloss.Style {
	return fg(c).Bold(true)
}

var (
	Title    = bold(Primary).MarginBottom(1)
	Subtitle = bold(Accent)
	Normal   = fg(Text)
	Muted    = fg(Faint)
	Dim      = fg(TextDim)
	Code     = fg(Warning).Background(Surface).Padding(0, 1)

	SuccessStyle = fg(Success)
	WarningStyle = fg(Warning)
	WarningBold  = bold(Warning)
	ErrorStyle   = fg(Error)
	ErrorBold    = bold(Error)

	HotTier  = bold(Hot)
	ColdTier = bold(Cold)

	ListItem       = fg(Text).PaddingLeft(2)
	ListItemBullet = fg(Primary).PaddingRight(1)

	// Panel frames a block of follow-up text, AlertPanel a block of findings
	// that need attention.
	Panel      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(Border).Padding(0, 1)
	AlertPanel = Panel.BorderForeground(Error)

	keyStyle   = fg(Faint).Width(20)
	valueStyle = bold(Accent)
)

const (
	IconSuccess   = "✓"
	IconError     = "✗"
	IconWarning   = "⚠"
	IconInfo      = "ℹ"
	IconArrow     = "→"
	IconDot       = "•"
	IconPending   = "◌"
	IconStream    = "⇶"
	IconSnapshot  = "◆"
	IconArchive   = "▣"
	IconChart     = "▤"
	IconChronicle = "📜"
)

func iconLine(icon string, c lipgloss.Color, msg string) string {
	return fg(c).Render(icon) + " " + Normal.Render(msg)
}

// FormatSuccess prefixes msg with a check mark.
func FormatSuccess(msg string) string { return iconLine(IconSuccess, Success, msg) }

// FormatError prefixes msg with a cross.
func FormatError(msg string) string { return iconLine(IconError, Error, msg) }

// FormatWarning prefixes msg with a warning sign.
func FormatWarning(msg string) string { return iconLine(IconWarning, Warning, msg) }

// FormatInfo prefixes msg with an info sign.
func FormatInfo(msg string) string { return iconLine(IconInfo, Info, msg) }

// FormatKeyValue renders one aligned "key: value" report line.
func FormatKeyValue(key, value string) string {
	return keyStyle.Render(key+":") + " " + valueStyle.Render(value)
}

// Tier labels a storage tier name with its color. Names other than hot and
// cold are returned unstyled.
func Tier(name string) string {
	switch name {
	case "hot":
		return HotTier.Render(name)
	case "cold":
		return ColdTier.Render(name)
	default:
		return name
	}
}

// DisableColors blanks the palette and rebuilds the derived styles.
func DisableColors() {
	for _, c := range []*lipgloss.Color{
		&Primary, &Accent, &Success, &Warning, &Error, &Info,
		&Text, &TextDim, &Faint, &Surface, &Border, &Hot, &Cold,
	} {
		*c = lipgloss.Color("")
	}

	Title = bold(Primary).MarginBottom(1)
	Subtitle = bold(Accent)
	Normal = fg(Text)
	Muted = fg(Faint)
	Dim = fg(TextDim)
	Code = fg(Warning).Padding(0, 1)
	SuccessStyle = fg(Success)
	WarningStyle = fg(Warning)
	WarningBold = bold(Warning)
	ErrorStyle = fg(Error)
	ErrorBold = bold(Error)
	HotTier = bold(Hot)
	ColdTier = bold(Cold)
	ListItem = fg(Text).PaddingLeft(2)
	ListItemBullet = fg(Primary).PaddingRight(1)
	Panel = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	AlertPanel = Panel
	keyStyle = fg(Faint).Width(20)
	valueStyle = bold(Accent)
}

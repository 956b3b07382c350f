package styles

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatMessages(t *testing.T) {
	tests := []struct {
		name   string
		format func(string) string
		icon   string
	}{
		{"success", FormatSuccess, IconSuccess},
		{"error", FormatError, IconError},
		{"warning", FormatWarning, IconWarning},
		{"info", FormatInfo, IconInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.format(tt.name + " message")
			assert.Contains(t, result, tt.icon)
			assert.Contains(t, result, tt.name+" message")
		})
	}
}

func TestFormatKeyValue(t *testing.T) {
	result := FormatKeyValue("Status", "Active")
	assert.Contains(t, result, "Status:")
	assert.Contains(t, result, "Active")
}

func TestTier(t *testing.T) {
	assert.Contains(t, Tier("hot"), "hot")
	assert.Contains(t, Tier("cold"), "cold")
	assert.Equal(t, "snapshots", Tier("snapshots"))
}

func TestPanels(t *testing.T) {
	assert.Contains(t, Panel.Render("next"), "next")
	assert.Contains(t, AlertPanel.Render("Character-1: level"), "Character-1: level")
}

func TestDisableColors(t *testing.T) {
	originalPrimary := Primary
	originalSuccess := Success
	originalHot, originalCold := Hot, Cold
	t.Cleanup(func() {
		Primary = originalPrimary
		Success = originalSuccess
		Hot, Cold = originalHot, originalCold
	})

	DisableColors()

	assert.Equal(t, "", string(Primary))
	assert.Equal(t, "", string(Success))
	assert.Equal(t, "", string(Hot))
	assert.Equal(t, "", string(Cold))
	assert.Equal(t, IconSuccess+" done", FormatSuccess("done"))
}

package home

import (
	"fmt"
	"strings"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/gtatunes/catalog"
	"github.com/leeineian/gtatunes/proc"
)

const (
	EmojiPrevious        = "⏮️"
	EmojiPlay            = "▶️"
	EmojiPause           = "⏸️"
	EmojiNext            = "⏭️"
	EmojiPreviousStation = "⏪"
	EmojiStop            = "⏹️"
	EmojiNextStation     = "⏩"
	EmojiSettings        = "⚙️"
	EmojiDelete          = "🗑️"
	EmojiOpen            = "📻"

	ProgressFilled = "▰"
	ProgressHead   = "🔘"
	ProgressEmpty  = "▱"

	DefaultAccent = 0xA8201A
)

// Controller button actions. Custom IDs are controller:<action>:<guild>.
const (
	ActionPrevious        = "previous"
	ActionPlay            = "play"
	ActionNext            = "next"
	ActionStop            = "stop"
	ActionPreviousStation = "previous_station"
	ActionNextStation     = "next_station"
	ActionCreate          = "create"
	ActionDelete          = "delete"
	ActionSettings        = "settings"
)

// stationAccents holds the primary brand colour of every station.
var stationAccents = map[catalog.GameKey]map[string]int{
	catalog.GameSanAndreas: {
		"bounce_fm":        0x0877BB,
		"csr":              0x890152,
		"k_dst":            0xE1A41E,
		"k_rose":           0xC02E26,
		"master_sounds":    0x9D3F01,
		"playback_fm":      0x3AA849,
		"radio_los_santos": 0x4DC334,
		"radio_x":          0x004E92,
		"sfur":             0x02A4EC,
		"k_jah":            0xF9A501,
		"wctr":             0xD001F9,
	},
	catalog.GameViceCity: {
		"emotion":   0xB81F2C,
		"flash_fm":  0xFCB912,
		"fever_105": 0xFD0505,
		"espantoso": 0x56AB2F,
		"v_rock":    0xEC3128,
		"wave":      0x32BCA0,
		"wildstyle": 0xFCF102,
	},
	catalog.GameIII: {
		"head_radio":     0x7996BF,
		"lips_106":       0xC4261C,
		"rise_fm":        0x09070E,
		"msx_fm":         0x151515,
		"game_radio_fm":  0x1F3D38,
		"double_clef_fm": 0x2E5D6E,
		"flashback_fm":   0xFCC200,
		"k_jah":          0xF9A501,
	},
	catalog.GameIV: {
		"electro_choc":          0x776347,
		"fusion_fm":             0x89C750,
		"independence_fm":       0xFFDE40,
		"integrity_2_0":         0x000000,
		"international_funk_99": 0x000000,
		"jazz_nation_radio":     0x000000,
		"k109_the_studio":       0xC1912F,
		"liberty_city_hardcore": 0x8F1A1D,
		"liberty_rock":          0x000000,
		"the_journey":           0x010101,
		"the_vibe_98_8":         0xD4CA97,
		"tuff_gong":             0x068C45,
		"vice_city_fm":          0x86BCE6,
		"massive_b":             0x010101,
		"self_actualization_fm": 0x000000,
		"public_liberty_radio":  0xBE2026,
		"radio_broker":          0xEF4823,
		"ramjam_fm":             0x27B34B,
		"san_juan_sounds":       0x405EAB,
		"the_beat_102_7":        0xBE2025,
		"the_classics_104_1":    0xCC3933,
		"vladivostok_fm":        0xF57E20,
		"wktt_radio":            0x1D62AE,
	},
}

// StationAccent returns the brand colour of a station or DefaultAccent.
func StationAccent(game catalog.GameKey, station string) int {
	if c, ok := stationAccents[game][station]; ok {
		return c
	}
	return DefaultAccent
}

func controllerID(action string, guildID snowflake.ID) string {
	return "controller:" + action + ":" + guildID.String()
}

// parseControllerID splits controller:<action>:<guild>.
func parseControllerID(customID string) (string, snowflake.ID, bool) {
	parts := strings.Split(customID, ":")
	if len(parts) != 3 || parts[0] != "controller" {
		return "", 0, false
	}
	guildID, err := snowflake.Parse(parts[2])
	if err != nil {
		return "", 0, false
	}
	return parts[1], guildID, true
}

func lines(ls ...string) string {
	out := make([]string, 0, len(ls))
	for _, l := range ls {
		if l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

func controllerButton(style discord.ButtonStyle, action, emoji string, guildID snowflake.ID) discord.ButtonComponent {
	return discord.NewButton(style, "", controllerID(action, guildID), "", 0).
		WithEmoji(discord.ComponentEmoji{Name: emoji})
}

// renderController builds the now-playing surface.
func renderController(c *catalog.Client, np proc.NowPlaying) discord.ContainerComponent {
	song, station := np.Song, np.Station

	var progress, timestamps string
	if np.HasDuration {
		progress = proc.ProgressBar(np.Timestamp, np.Duration, proc.ProgressBarWidth, ProgressFilled, ProgressHead, ProgressEmpty)
		timestamps = fmt.Sprintf("**%s** - **%s**", proc.FormatTimestamp(np.Timestamp), proc.FormatTimestamp(np.Duration))
	}

	artists := strings.Join(song.Artists, ", ")
	title := fmt.Sprintf("**%s**", song.Name)
	if artists != "" {
		title += fmt.Sprintf(" by **%s**", artists)
	}

	info := discord.NewSection(
		discord.NewTextDisplay(lines(
			station.GameKey.Name(),
			"### "+station.Name,
			title,
			progress,
			timestamps,
		)),
	).WithAccessory(discord.NewThumbnail(c.IconURL(station.GameKey, station.Key, catalog.IconMedium)))

	toggle := EmojiPause
	if np.Status == proc.PlayerPaused || np.Status == proc.PlayerIdle {
		toggle = EmojiPlay
	}

	g := np.GuildID
	return discord.NewContainer(
		info,
		discord.NewActionRow(
			controllerButton(discord.ButtonStylePrimary, ActionPrevious, EmojiPrevious, g),
			controllerButton(discord.ButtonStyleSuccess, ActionPlay, toggle, g),
			controllerButton(discord.ButtonStylePrimary, ActionNext, EmojiNext, g),
		),
		discord.NewActionRow(
			controllerButton(discord.ButtonStyleSecondary, ActionPreviousStation, EmojiPreviousStation, g),
			controllerButton(discord.ButtonStyleDanger, ActionStop, EmojiStop, g),
			controllerButton(discord.ButtonStyleSecondary, ActionNextStation, EmojiNextStation, g),
		),
		discord.NewActionRow(
			controllerButton(discord.ButtonStyleSecondary, ActionSettings, EmojiSettings, g),
			controllerButton(discord.ButtonStyleDanger, ActionDelete, EmojiDelete, g),
			discord.NewLinkButton("GTATunes", c.PlayerLink(song)).WithEmoji(discord.ComponentEmoji{Name: EmojiOpen}),
		),
	).WithAccentColor(StationAccent(station.GameKey, station.Key))
}

// renderSettings lists each setting with a toggle button.
func renderSettings(guildID snowflake.ID, values map[string]bool) discord.ContainerComponent {
	subs := []discord.ContainerSubComponent{discord.NewTextDisplay("### Player settings")}
	for _, info := range proc.SettingsCatalog {
		state, style, label := "Disabled", discord.ButtonStyleSuccess, "Enable"
		if values[info.Key] {
			state, style, label = "Enabled", discord.ButtonStyleDanger, "Disable"
		}
		subs = append(subs, discord.NewSection(
			discord.NewTextDisplay(fmt.Sprintf("**%s** · %s\n-# %s", info.Name, state, info.Description)),
		).WithAccessory(discord.NewButton(style, label, settingID(info.Key, guildID), "", 0)))
	}
	return discord.NewContainer(subs...)
}

func settingID(key string, guildID snowflake.ID) string {
	return "setting:" + key + ":" + guildID.String()
}

func parseSettingID(customID string) (string, snowflake.ID, bool) {
	parts := strings.Split(customID, ":")
	if len(parts) != 3 || parts[0] != "setting" || !proc.IsSettingKey(parts[1]) {
		return "", 0, false
	}
	guildID, err := snowflake.Parse(parts[2])
	if err != nil {
		return "", 0, false
	}
	return parts[1], guildID, true
}

// songChoiceValue encodes a song as game:station:index for autocomplete.
func songChoiceValue(song catalog.Song, index int) string {
	return fmt.Sprintf("%s:%s:%d", song.GameKey, song.StationKey, index)
}

func parseSongChoice(value string) (catalog.GameKey, string, int, bool) {
	parts := strings.Split(value, ":")
	if len(parts) != 3 {
		return "", "", 0, false
	}
	var idx int
	if _, err := fmt.Sscanf(parts[2], "%d", &idx); err != nil || idx < 0 {
		return "", "", 0, false
	}
	return catalog.GameKey(parts[0]), parts[1], idx, true
}

// parseTimestamp accepts "ss" or "m:ss".
func parseTimestamp(s string) (float64, bool) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) == 0 || len(parts) > 2 {
		return 0, false
	}
	var minutes, seconds int
	if len(parts) == 1 {
		if _, err := fmt.Sscanf(parts[0], "%d", &seconds); err != nil {
			return 0, false
		}
	} else {
		if _, err := fmt.Sscanf(parts[0], "%d", &minutes); err != nil {
			return 0, false
		}
		if _, err := fmt.Sscanf(parts[1], "%d", &seconds); err != nil {
			return 0, false
		}
	}
	return float64(minutes*60 + seconds), true
}

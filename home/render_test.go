package home

import (
	"fmt"
	"testing"

	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/gtatunes/catalog"
	"github.com/leeineian/gtatunes/proc"
)

func TestParseTimestamp(t *testing.T) {
	cases := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"10", 10, true},
		{"1:25", 85, true},
		{" 2:05 ", 125, true},
		{"0:00", 0, true},
		{"1:2:3", 0, false},
		{"abc", 0, false},
		{"1:xx", 0, false},
		{"", 0, false},
	}
	for _, c := range cases {
		got, ok := parseTimestamp(c.in)
		if ok != c.ok || got != c.want {
			t.Fatalf("parseTimestamp(%q): expected %v/%v, got %v/%v", c.in, c.want, c.ok, got, ok)
		}
	}
}

func TestControllerIDRoundTrip(t *testing.T) {
	guild := snowflake.ID(123456789012345678)
	action, id, ok := parseControllerID(controllerID(ActionNextStation, guild))
	if !ok || action != ActionNextStation || id != guild {
		t.Fatalf("expected %s/%s, got %s/%s (%v)", ActionNextStation, guild, action, id, ok)
	}

	for _, bad := range []string{"controller:play", "setting:play:1", "controller:play:nope"} {
		if _, _, ok := parseControllerID(bad); ok {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

func TestSettingID(t *testing.T) {
	guild := snowflake.ID(99)
	key, id, ok := parseSettingID(settingID(proc.SettingEnableDjs, guild))
	if !ok || key != proc.SettingEnableDjs || id != guild {
		t.Fatalf("expected %s/%s, got %s/%s (%v)", proc.SettingEnableDjs, guild, key, id, ok)
	}
	if _, _, ok := parseSettingID(settingID("volume", guild)); ok {
		t.Fatalf("expected unknown setting to be rejected")
	}
}

func TestSongChoice(t *testing.T) {
	song := catalog.Song{Name: "Hold On", GameKey: catalog.GameSanAndreas, StationKey: "k_dst"}
	game, station, idx, ok := parseSongChoice(songChoiceValue(song, 7))
	if !ok || game != catalog.GameSanAndreas || station != "k_dst" || idx != 7 {
		t.Fatalf("expected sa/k_dst/7, got %s/%s/%d (%v)", game, station, idx, ok)
	}
	for _, bad := range []string{"sa:k_dst", "sa:k_dst:-1", "sa:k_dst:x"} {
		if _, _, _, ok := parseSongChoice(bad); ok {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

func TestStationAccent(t *testing.T) {
	if c := StationAccent(catalog.GameViceCity, "flash_fm"); c != 0xFCB912 {
		t.Fatalf("expected flash fm yellow, got %#x", c)
	}
	if c := StationAccent(catalog.GameIV, "unknown"); c != DefaultAccent {
		t.Fatalf("expected default accent, got %#x", c)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Fatalf("expected untouched string, got %q", got)
	}
	if got := truncate("Radio Los Santos", 8); got != "Radio..." {
		t.Fatalf("expected %q, got %q", "Radio...", got)
	}
}

func TestLinesSkipsEmpty(t *testing.T) {
	if got := lines("a", "", "b"); got != "a\nb" {
		t.Fatalf("expected %q, got %q", "a\nb", got)
	}
}

func TestSessionErrorShowsInvalidRequestReason(t *testing.T) {
	err := fmt.Errorf("%w: a station must be playing to move between songs", proc.ErrInvalidRequest)
	if got := sessionError(err); got != "A station must be playing to move between songs." {
		t.Fatalf("expected the reason to be shown, got %q", got)
	}
	if got := sessionError(proc.ErrInvalidRequest); got != MsgHomeFailed {
		t.Fatalf("expected the generic reply for a bare error, got %q", got)
	}
	if got := sessionError(fmt.Errorf("wrap: %w", proc.ErrSessionBusy)); got != MsgHomeBusy {
		t.Fatalf("expected the busy reply, got %q", got)
	}
}

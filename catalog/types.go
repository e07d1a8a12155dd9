package catalog

import (
	"fmt"
	"slices"
)

type GameKey string

const (
	GameSanAndreas GameKey = "sa"
	GameIII        GameKey = "iii"
	GameViceCity   GameKey = "vc"
	GameIV         GameKey = "iv"
)

// Games lists every game in display order.
var Games = []GameKey{GameSanAndreas, GameIII, GameViceCity, GameIV}

var gameNames = map[GameKey]string{
	GameSanAndreas: "GTA San Andreas",
	GameIII:        "GTA III",
	GameViceCity:   "GTA Vice City",
	GameIV:         "GTA IV",
}

func (g GameKey) Valid() bool {
	return slices.Contains(Games, g)
}

func (g GameKey) Name() string {
	if n, ok := gameNames[g]; ok {
		return n
	}
	return string(g)
}

type IconSize string

const (
	IconMini   IconSize = "mini"
	IconSmall  IconSize = "small"
	IconMedium IconSize = "medium"
	IconLarge  IconSize = "large"
	IconBig    IconSize = "big"
)

// Song is identified by (GameKey, StationKey, Name). IntroCount and OutroCount
// are only populated for San Andreas.
type Song struct {
	Name       string   `json:"name"`
	Artists    []string `json:"artists"`
	Year       int      `json:"year"`
	StationKey string   `json:"station_key"`
	GameKey    GameKey  `json:"game_key"`
	IntroCount int      `json:"intro_count,omitempty"`
	OutroCount int      `json:"outro_count,omitempty"`
}

// BelongsTo reports whether the song is part of the given station.
func (s Song) BelongsTo(st *Station) bool {
	return st != nil && s.GameKey == st.GameKey && s.StationKey == st.Key
}

func (s Song) String() string {
	if len(s.Artists) == 0 {
		return s.Name
	}
	return fmt.Sprintf("%s - %s", s.Name, joinArtists(s.Artists))
}

type Station struct {
	Key     string  `json:"key"`
	GameKey GameKey `json:"game_key"`
	Name    string  `json:"name"`
	Icon    string  `json:"icon"`
	Songs   []Song  `json:"songs"`
}

// IndexOf returns the position of the named song within the station or -1.
func (st *Station) IndexOf(name string) int {
	for i, s := range st.Songs {
		if s.Name == name {
			return i
		}
	}
	return -1
}

// Song returns the named song of the station.
func (st *Station) Song(name string) (Song, bool) {
	if i := st.IndexOf(name); i >= 0 {
		return st.Songs[i], true
	}
	return Song{}, false
}

type Version struct {
	Major     int    `json:"major"`
	Minor     int    `json:"minor"`
	Patch     int    `json:"patch"`
	Formatted string `json:"formatted"`
}

// PlayOptions selects the DJ intro/outro variants of a song. Zero means none.
type PlayOptions struct {
	Intro int
	Outro int
}

// StatusError is returned when the catalog answers with a non-2xx status.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf(MsgCatalogStatusError, e.StatusCode, e.URL)
}

func joinArtists(a []string) string {
	switch len(a) {
	case 0:
		return ""
	case 1:
		return a[0]
	}
	out := a[0]
	for _, s := range a[1 : len(a)-1] {
		out += ", " + s
	}
	return out + " & " + a[len(a)-1]
}

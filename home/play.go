package home

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/gtatunes/catalog"
	"github.com/leeineian/gtatunes/proc"
	"github.com/leeineian/gtatunes/sys"
)

const (
	MsgPlayStarted       = "Started GTATunes player in <#%s>."
	MsgPlayChanging      = "Changing song..."
	MsgPlayInvalidGame   = "Invalid game"
	MsgPlayInvalidSong   = "Invalid song"
	MsgPlayInvalidStatn  = "Invalid radio station"
	MsgPlayCatalogFail   = "Unable to reach GTATunes. Please try again later."
	MsgPlayFailed        = "Failed to play requested item. Please try again later."
	MsgPlayCreateButton  = "Create Controller"
	MsgPlayLogRequest    = "User %s requested %s in guild %s"
	MsgPlayLogFailed     = "Failed to play in guild %s: %v"
	MaxAutocompleteItems = 25
)

func init() {
	choices := make([]discord.ApplicationCommandOptionChoiceString, 0, len(catalog.Games))
	for _, g := range catalog.Games {
		choices = append(choices, discord.ApplicationCommandOptionChoiceString{Name: g.Name(), Value: string(g)})
	}

	sys.RegisterCommand(discord.SlashCommandCreate{
		Name:        "play",
		Description: "Play any radio station from the GTA Universe",
		Contexts: []discord.InteractionContextType{
			discord.InteractionContextTypeGuild,
		},
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionString{
				Name:        "game",
				Description: "The game the station belongs to",
				Required:    true,
				Choices:     choices,
			},
			discord.ApplicationCommandOptionString{
				Name:         "station",
				Description:  "The station to play the song from",
				Autocomplete: true,
			},
			discord.ApplicationCommandOptionString{
				Name:         "song",
				Description:  "The song to play",
				Autocomplete: true,
			},
		},
	}, handlePlay)

	sys.RegisterAutocompleteHandler("play", handlePlayAutocomplete)
	sys.RegisterComponentHandler("play:", handlePlayButton)
}

func handlePlay(event *events.ApplicationCommandInteractionCreate) {
	data := event.SlashCommandInteractionData()
	if event.GuildID() == nil {
		reply(event, MsgHomeNotInGuild)
		return
	}
	if app == nil {
		reply(event, MsgHomeNotReady)
		return
	}
	guildID := *event.GuildID()
	ctx := sys.AppContext

	game := catalog.GameKey(data.String("game"))
	stationKey, _ := data.OptString("station")
	songIndex := -1
	if v, ok := data.OptString("song"); ok && v != "" {
		g, st, idx, ok := parseSongChoice(v)
		if !ok {
			reply(event, MsgPlayInvalidSong)
			return
		}
		game, stationKey, songIndex = g, st, idx
	}
	if !game.Valid() {
		reply(event, MsgPlayInvalidGame)
		return
	}

	_ = event.DeferCreateMessage(true)

	existing := app.Registry.Get(guildID)
	station, err := pickStation(ctx, existing, game, stationKey)
	if err != nil {
		followUp(event, MsgPlayCatalogFail)
		return
	}
	if station == nil {
		followUp(event, MsgPlayInvalidStatn)
		return
	}
	if songIndex >= len(station.Songs) {
		followUp(event, MsgPlayInvalidSong)
		return
	}

	s, created, err := sessionFor(ctx, guildID, event.User().ID)
	if err != nil {
		followUp(event, sessionError(err))
		return
	}

	sys.LogPlayer(MsgPlayLogRequest, event.User().ID, station.Name, guildID)
	msg := MsgPlayChanging
	if created {
		msg = fmt.Sprintf(MsgPlayStarted, s.ChannelID)
	}
	update := discord.NewMessageUpdateBuilder().SetContent(msg)
	if s.Controllers != nil && s.Controllers.Len() == 0 {
		update.AddActionRow(discord.NewButton(discord.ButtonStylePrimary, MsgPlayCreateButton, controllerID(ActionCreate, guildID), "", 0))
	}
	_, _ = event.Client().Rest.UpdateInteractionResponse(event.ApplicationID(), event.Token(), update.Build())

	if songIndex >= 0 {
		err = s.PlaySong(ctx, station.Songs[songIndex], station)
	} else {
		err = s.PlayStation(ctx, *station)
	}
	if err != nil {
		sys.LogPlayer(MsgPlayLogFailed, guildID, err)
		followUp(event, sessionError(err))
	}
}

// pickStation resolves the requested station. Without a key it keeps the
// current station when it belongs to game, otherwise a random one.
func pickStation(ctx context.Context, s *proc.Session, game catalog.GameKey, key string) (*catalog.Station, error) {
	if key != "" {
		st, err := app.Catalog.Station(ctx, game, key)
		if err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				return nil, nil
			}
			return nil, err
		}
		return st, nil
	}
	if s != nil {
		if cur := s.Station(); cur != nil && cur.GameKey == game {
			return cur, nil
		}
	}
	stations, err := app.Catalog.Stations(ctx, game)
	if err != nil {
		return nil, err
	}
	if len(stations) == 0 {
		return nil, nil
	}
	st := stations[rand.IntN(len(stations))]
	return &st, nil
}

// sessionFor returns the guild's player, creating one in the user's voice channel.
func sessionFor(ctx context.Context, guildID, userID snowflake.ID) (*proc.Session, bool, error) {
	if s := app.Registry.Get(guildID); s != nil {
		return s, false, nil
	}
	vs, ok := app.Client.Caches.VoiceState(guildID, userID)
	if !ok || vs.ChannelID == nil {
		return nil, false, errNotInVoice
	}
	return app.Registry.Create(ctx, guildID, *vs.ChannelID, userID)
}

var errNotInVoice = errors.New("user not in a voice channel")

// sessionError maps core errors onto user facing replies.
func sessionError(err error) string {
	switch {
	case errors.Is(err, errNotInVoice):
		return MsgHomeNotInVoice
	case errors.Is(err, proc.ErrSessionBusy):
		return MsgHomeBusy
	case errors.Is(err, proc.ErrSessionDestroyed):
		return MsgHomeNoPlayer
	case errors.Is(err, proc.ErrSourceUnavailable), errors.Is(err, proc.ErrTransportFailure):
		return MsgPlayFailed
	case errors.Is(err, proc.ErrInvalidRequest):
		return invalidReason(err)
	}
	return MsgHomeFailed
}

// invalidReason turns "invalid request: no song is currently playing" into
// "No song is currently playing."
func invalidReason(err error) string {
	reason := strings.TrimSpace(strings.TrimPrefix(err.Error(), proc.ErrInvalidRequest.Error()+":"))
	if reason == "" || reason == proc.ErrInvalidRequest.Error() {
		return MsgHomeFailed
	}
	r, size := utf8.DecodeRuneInString(reason)
	reason = string(unicode.ToUpper(r)) + reason[size:]
	if !strings.HasSuffix(reason, ".") {
		reason += "."
	}
	return reason
}

func handlePlayAutocomplete(event *events.AutocompleteInteractionCreate) {
	data := event.Data
	focused := data.Focused()
	query := focused.String()
	if app == nil {
		_ = event.AutocompleteResult(nil)
		return
	}

	game := catalog.GameKey(data.String("game"))
	if !game.Valid() {
		_ = event.AutocompleteResult(nil)
		return
	}
	ctx := sys.AppContext

	var choices []discord.AutocompleteChoice
	switch focused.Name {
	case "station":
		stations, err := app.Catalog.Stations(ctx, game)
		if err != nil {
			sys.LogCatalog(MsgPlayLogFailed, game, err)
			break
		}
		q := strings.ToLower(query)
		for _, st := range stations {
			if q != "" && !strings.HasPrefix(strings.ToLower(st.Name), q) {
				continue
			}
			choices = append(choices, discord.AutocompleteChoiceString{Name: st.Name, Value: st.Key})
			if len(choices) == MaxAutocompleteItems {
				break
			}
		}
	case "song":
		key, _ := data.OptString("station")
		var s *proc.Session
		if event.GuildID() != nil {
			s = app.Registry.Get(*event.GuildID())
		}
		st, err := pickStation(ctx, s, game, key)
		if err != nil || st == nil {
			break
		}
		q := strings.ToLower(strings.TrimSpace(query))
		for i, song := range st.Songs {
			if q != "" && !strings.Contains(strings.ToLower(song.Name), q) {
				continue
			}
			name := fmt.Sprintf("%s - %s (%d)", song.Name, strings.Join(song.Artists, ", "), song.Year)
			if len(name) > 100 {
				name = name[:100]
			}
			choices = append(choices, discord.AutocompleteChoiceString{Name: name, Value: songChoiceValue(song, i)})
			if len(choices) == MaxAutocompleteItems {
				break
			}
		}
	}
	_ = event.AutocompleteResult(choices)
}

// handlePlayButton serves play:game:<game> and play:station:<game>:<station>.
func handlePlayButton(event *events.ComponentInteractionCreate) {
	if event.GuildID() == nil {
		replyComponent(event, MsgHomeNotInGuild)
		return
	}
	if app == nil {
		replyComponent(event, MsgHomeNotReady)
		return
	}
	parts := strings.Split(event.Data.CustomID(), ":")
	if len(parts) < 3 {
		replyComponent(event, MsgPlayInvalidStatn)
		return
	}
	game := catalog.GameKey(parts[2])
	key := ""
	if parts[1] == "station" && len(parts) == 4 {
		key = parts[3]
	}
	if !game.Valid() {
		replyComponent(event, MsgPlayInvalidGame)
		return
	}

	guildID := *event.GuildID()
	ctx := sys.AppContext
	_ = event.DeferUpdateMessage()

	station, err := pickStation(ctx, nil, game, key)
	if err != nil || station == nil {
		followUpComponent(event, MsgPlayInvalidStatn)
		return
	}
	s, _, err := sessionFor(ctx, guildID, event.User().ID)
	if err != nil {
		followUpComponent(event, sessionError(err))
		return
	}
	if err := s.PlayStation(ctx, *station); err != nil {
		sys.LogPlayer(MsgPlayLogFailed, guildID, err)
		followUpComponent(event, sessionError(err))
	}
}

package proc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/gtatunes/catalog"
)

type PlayerStatus int

const (
	PlayerIdle PlayerStatus = iota
	PlayerBuffering
	PlayerPlaying
	PlayerPaused
)

func (s PlayerStatus) String() string {
	switch s {
	case PlayerBuffering:
		return "buffering"
	case PlayerPlaying:
		return "playing"
	case PlayerPaused:
		return "paused"
	}
	return "idle"
}

// AudioPlayer plays one resource at a time on a voice connection.
//
// Play takes ownership of src and starts it at the given offset into the
// track. Stop must transition to PlayerIdle before returning. State change
// callbacks may be invoked from any goroutine.
type AudioPlayer interface {
	Play(src io.ReadCloser, start time.Duration) error
	Pause() bool
	Unpause() bool
	Stop()
	Status() PlayerStatus
	// PlaybackDuration is the time played since the last Play, excluding the start offset.
	PlaybackDuration() time.Duration
	OnStateChange(fn func(old, new PlayerStatus))
}

type Connection interface {
	Player() AudioPlayer
	// OnDisconnect registers fn to run when the connection drops without Close being called.
	OnDisconnect(fn func())
	Close(ctx context.Context)
}

type Transport interface {
	Connect(ctx context.Context, guildID, channelID snowflake.ID) (Connection, error)
}

// Catalog is the subset of the catalog client the session needs.
type Catalog interface {
	Stations(ctx context.Context, game catalog.GameKey) ([]catalog.Station, error)
	Station(ctx context.Context, game catalog.GameKey, key string) (*catalog.Station, error)
	AudioURL(game catalog.GameKey, station string, song catalog.Song, opts catalog.PlayOptions) string
	Duration(ctx context.Context, audioURL string) (time.Duration, error)
	Stream(ctx context.Context, audioURL string) (io.ReadCloser, error)
}

// MessageRef identifies a chat message. It is persisted as ["channelId", "messageId"].
type MessageRef struct {
	ChannelID snowflake.ID
	MessageID snowflake.ID
}

func (r MessageRef) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{r.ChannelID.String(), r.MessageID.String()})
}

func (r *MessageRef) UnmarshalJSON(data []byte) error {
	var pair [2]string
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	ch, err := snowflake.Parse(pair[0])
	if err != nil {
		return fmt.Errorf("invalid channel id %q: %w", pair[0], err)
	}
	msg, err := snowflake.Parse(pair[1])
	if err != nil {
		return fmt.Errorf("invalid message id %q: %w", pair[1], err)
	}
	r.ChannelID, r.MessageID = ch, msg
	return nil
}

// NowPlaying is everything a controller surface renders.
type NowPlaying struct {
	GuildID     snowflake.ID
	Station     catalog.Station
	Song        catalog.Song
	Timestamp   float64
	Duration    float64
	HasDuration bool
	Status      PlayerStatus
	Settings    map[string]bool
}

// Messenger sends and edits controller surfaces and notices on the chat platform.
type Messenger interface {
	// ResolveChannel returns nil when the channel exists in the guild and can hold a surface.
	ResolveChannel(ctx context.Context, guildID, channelID snowflake.ID) error
	SendController(ctx context.Context, channelID snowflake.ID, np NowPlaying) (MessageRef, error)
	EditController(ctx context.Context, ref MessageRef, np NowPlaying) error
	SendNotice(ctx context.Context, channelID snowflake.ID, content string) (MessageRef, error)
	Delete(ctx context.Context, ref MessageRef) error
}

// SettingsStore persists per-guild settings.
type SettingsStore interface {
	Load(ctx context.Context, guildID snowflake.ID) (map[string]bool, error)
	Save(ctx context.Context, guildID snowflake.ID, settings map[string]bool) error
}

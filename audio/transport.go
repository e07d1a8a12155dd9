package audio

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/disgo/voice"
	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/gtatunes/proc"
	"github.com/leeineian/gtatunes/sys"
)

const (
	MsgVoiceJoining      = "Joining channel %s in guild %s"
	MsgVoiceRetry        = "Retrying voice connection in %v (Attempt %d/%d)"
	MsgVoiceConnectFail  = "Failed to connect to voice in guild %s after %d attempts: %v"
	MsgVoiceExternalDrop = "Bot disconnected by external event in guild %s"
	MsgVoiceMoved        = "Bot moved from %s to %s in guild %s"
	MsgVoiceLeaving      = "Leaving channel %s in guild %s"
	MsgVoiceShutdown     = "Shutting down %d voice connection(s)..."
	MsgVoiceStatusFail   = "Failed to set voice status in channel %s: %v"

	ConnectAttempts = 5
)

// Transport opens voice connections through the disgo voice manager.
type Transport struct {
	client *bot.Client

	mu    sync.Mutex
	conns map[snowflake.ID]*Connection
}

func NewTransport(client *bot.Client) *Transport {
	return &Transport{
		client: client,
		conns:  make(map[snowflake.ID]*Connection),
	}
}

func (t *Transport) Connect(ctx context.Context, guildID, channelID snowflake.ID) (proc.Connection, error) {
	t.mu.Lock()
	old := t.conns[guildID]
	t.mu.Unlock()
	if old != nil {
		old.Close(ctx)
	}

	sys.LogVoice(MsgVoiceJoining, channelID, guildID)
	conn := t.client.VoiceManager.CreateConn(guildID)

	var lastErr error
	for i := range ConnectAttempts {
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * 1000 * time.Millisecond
			sys.LogVoice(MsgVoiceRetry, backoff, i+1, ConnectAttempts)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				conn.Close(context.Background())
				return nil, ctx.Err()
			}
		}
		if err := conn.Open(ctx, channelID, false, false); err != nil {
			lastErr = err
			continue
		}
		lastErr = nil
		break
	}
	if lastErr != nil {
		sys.LogVoice(MsgVoiceConnectFail, guildID, ConnectAttempts, lastErr)
		conn.Close(ctx)
		return nil, lastErr
	}

	connCtx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		transport: t,
		guildID:   guildID,
		channelID: channelID,
		conn:      conn,
		cancel:    cancel,
		player:    newPlayer(connCtx, guildID, conn),
	}

	t.mu.Lock()
	t.conns[guildID] = c
	t.mu.Unlock()
	return c, nil
}

func (t *Transport) lookup(guildID snowflake.ID) *Connection {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conns[guildID]
}

func (t *Transport) forget(c *Connection) {
	t.mu.Lock()
	if t.conns[c.guildID] == c {
		delete(t.conns, c.guildID)
	}
	t.mu.Unlock()
}

// HandleVoiceStateUpdate tracks the bot's own voice state. A nil channel
// means the bot was disconnected by someone else.
func (t *Transport) HandleVoiceStateUpdate(event *events.GuildVoiceStateUpdate) {
	if event.VoiceState.UserID != event.Client().ID() {
		return
	}
	c := t.lookup(event.VoiceState.GuildID)
	if c == nil || c.closed.Load() {
		return
	}

	if event.VoiceState.ChannelID == nil {
		sys.LogVoice(MsgVoiceExternalDrop, event.VoiceState.GuildID)
		c.dropped()
		return
	}

	c.mu.Lock()
	old := c.channelID
	status := c.status
	moved := old != *event.VoiceState.ChannelID
	if moved {
		c.channelID = *event.VoiceState.ChannelID
	}
	c.mu.Unlock()

	if moved {
		sys.LogVoice(MsgVoiceMoved, old, *event.VoiceState.ChannelID, event.VoiceState.GuildID)
		t.setChannelStatus(old, "")
		c.SetStatus(status)
	}
}

// SetStatus sets the status text of the guild's active voice channel.
func (t *Transport) SetStatus(guildID snowflake.ID, status string) {
	if c := t.lookup(guildID); c != nil {
		c.SetStatus(status)
	}
}

func (t *Transport) setChannelStatus(channelID snowflake.ID, status string) {
	if channelID == 0 {
		return
	}
	route := rest.NewEndpoint(http.MethodPut, "/channels/"+channelID.String()+"/voice-status")
	if err := t.client.Rest.Do(route.Compile(nil), map[string]string{"status": status}, nil); err != nil {
		sys.LogVoice(MsgVoiceStatusFail, channelID, err)
	}
}

// Shutdown closes every open connection.
func (t *Transport) Shutdown(ctx context.Context) {
	t.mu.Lock()
	conns := make([]*Connection, 0, len(t.conns))
	for _, c := range t.conns {
		conns = append(conns, c)
	}
	t.mu.Unlock()

	if len(conns) == 0 {
		return
	}
	sys.LogVoice(MsgVoiceShutdown, len(conns))

	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Add(1)
		go func(c *Connection) {
			defer wg.Done()
			c.Close(ctx)
		}(c)
	}
	wg.Wait()
}

// Connection is one guild's voice connection and its player.
type Connection struct {
	transport *Transport
	guildID   snowflake.ID
	conn      voice.Conn
	cancel    context.CancelFunc
	player    *Player
	closed    atomic.Bool

	mu           sync.Mutex
	channelID    snowflake.ID
	status       string
	onDisconnect []func()
}

func (c *Connection) Player() proc.AudioPlayer {
	return c.player
}

func (c *Connection) OnDisconnect(fn func()) {
	c.mu.Lock()
	c.onDisconnect = append(c.onDisconnect, fn)
	c.mu.Unlock()
}

func (c *Connection) ChannelID() snowflake.ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channelID
}

func (c *Connection) SetStatus(status string) {
	if c.closed.Load() {
		return
	}
	c.mu.Lock()
	c.status = status
	channelID := c.channelID
	c.mu.Unlock()
	c.transport.setChannelStatus(channelID, status)
}

func (c *Connection) dropped() {
	c.mu.Lock()
	fns := slices.Clone(c.onDisconnect)
	c.mu.Unlock()
	for _, fn := range fns {
		sys.SafeGo(fn)
	}
}

func (c *Connection) Close(ctx context.Context) {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.transport.forget(c)

	c.mu.Lock()
	channelID := c.channelID
	status := c.status
	c.mu.Unlock()

	sys.LogVoice(MsgVoiceLeaving, channelID, c.guildID)
	c.player.Stop()
	c.cancel()
	if status != "" {
		c.transport.setChannelStatus(channelID, "")
	}
	c.conn.Close(ctx)
}

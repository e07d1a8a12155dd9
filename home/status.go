package home

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/gateway"
	"github.com/leeineian/gtatunes/proc"
	"github.com/leeineian/gtatunes/sys"
)

const (
	MsgStatusRotated   = "Presence set to %q (next in %v)"
	MsgStatusFailed    = "Failed to update presence: %v"
	MsgStatusPlayers   = "%d radio player(s)"
	MsgStatusNowOn     = "%s on %s"
	MsgStatusUptime    = "Uptime: %dh %dm"
	MsgStatusFallback  = "GTATunes"
	ConfigStatusHidden = "status_hidden"
)

func rotationInterval() time.Duration {
	return time.Duration(15+rand.IntN(46)) * time.Second
}

// StatusRotator cycles the bot presence through what the players are doing.
type StatusRotator struct {
	client   *bot.Client
	registry *proc.Registry
	last     string
}

func NewStatusRotator(client *bot.Client, registry *proc.Registry) *StatusRotator {
	return &StatusRotator{client: client, registry: registry}
}

func (r *StatusRotator) Run(ctx context.Context) {
	for {
		next := rotationInterval()
		r.update(ctx, next)
		select {
		case <-time.After(next):
		case <-ctx.Done():
			return
		}
	}
}

// Candidates lists the presence texts worth showing right now.
func (r *StatusRotator) Candidates() []string {
	sessions := r.registry.List()
	var out []string
	if len(sessions) > 0 {
		out = append(out, fmt.Sprintf(MsgStatusPlayers, len(sessions)))
		s := sessions[rand.IntN(len(sessions))]
		if song, station := s.Song(), s.Station(); song != nil && station != nil {
			out = append(out, fmt.Sprintf(MsgStatusNowOn, song.Name, station.Name))
		}
	}
	up := time.Since(sys.StartupTime)
	out = append(out, fmt.Sprintf(MsgStatusUptime, int(up.Hours()), int(up.Minutes())%60))
	return out
}

func (r *StatusRotator) pick() string {
	candidates := r.Candidates()
	var fresh []string
	for _, c := range candidates {
		if c != r.last {
			fresh = append(fresh, c)
		}
	}
	if len(fresh) == 0 {
		if len(candidates) == 0 {
			return MsgStatusFallback
		}
		return candidates[0]
	}
	return fresh[rand.IntN(len(fresh))]
}

func (r *StatusRotator) update(ctx context.Context, next time.Duration) {
	if hidden, _ := sys.GetBotConfig(ctx, ConfigStatusHidden); hidden == "true" {
		_ = r.client.SetPresence(ctx, gateway.WithOnlineStatus(discord.OnlineStatusOnline))
		return
	}

	text := r.pick()
	r.last = text
	err := r.client.SetPresence(ctx,
		gateway.WithOnlineStatus(discord.OnlineStatusOnline),
		gateway.WithListeningActivity(text),
	)
	if err != nil {
		sys.LogBot(MsgStatusFailed, err)
		return
	}
	sys.LogDebug(MsgStatusRotated, text, next)
}

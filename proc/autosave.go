package proc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/gtatunes/catalog"
	"github.com/leeineian/gtatunes/sys"
)

const (
	MsgAutosaveSaved      = "Saved %d player(s) to %s."
	MsgAutosaveCleared    = "No players running, removed %s."
	MsgAutosaveFailed     = "Autosave failed: %v"
	MsgAutosaveExpired    = "Autosave from %s is older than %s, discarding."
	MsgAutosaveRestoring  = "Restoring %d player(s) saved %s ago."
	MsgAutosaveSkipped    = "Skipping saved player of guild %s: %v"
	MsgAutosaveRestored   = "Restored player in guild %s."
	MsgAutosaveReplayFail = "Failed to replay %q in guild %s: %v"
	MsgAutosavePending    = "Snapshot %s not read yet, skipping save."
)

const (
	DefaultAutosaveInterval = 10 * time.Second
	DefaultAutosaveTTL      = 5 * time.Minute
	DefaultRestoreSeekAfter = 10.0
	DefaultRestorePause     = time.Second
)

// Snapshot is the autosave file layout.
type Snapshot struct {
	States  []SessionState `json:"states"`
	SavedAt int64          `json:"saved_at"`
}

type SessionState struct {
	Guild              snowflake.ID    `json:"guild"`
	VoiceChannel       snowflake.ID    `json:"voiceChannel"`
	Owner              snowflake.ID    `json:"owner"`
	Playback           *PlaybackState  `json:"playback,omitempty"`
	Settings           map[string]bool `json:"settings"`
	ControllerSurfaces []MessageRef    `json:"controllerSurfaces"`
}

type PlaybackState struct {
	Song      catalog.Song `json:"song"`
	Timestamp float64      `json:"timestampSeconds"`
	Paused    bool         `json:"paused"`
}

// Verifier checks that a saved Session can still run: the guild, channel and
// owner resolve and someone is listening.
type Verifier interface {
	Verify(ctx context.Context, state SessionState) error
}

type AutosaveOptions struct {
	Path     string
	Interval time.Duration
	TTL      time.Duration
	// SeekAfter is the elapsed seconds above which a restore seeks.
	SeekAfter  float64
	PauseDelay time.Duration
	Now        func() time.Time
}

// Autosaver snapshots the registry to disk and restores it on startup. Nothing
// is written until the previous snapshot has been loaded.
type Autosaver struct {
	registry *Registry
	verifier Verifier
	opts     AutosaveOptions

	loaded     chan struct{}
	loadedOnce sync.Once
}

func NewAutosaver(registry *Registry, verifier Verifier, opts AutosaveOptions) *Autosaver {
	if opts.Path == "" {
		opts.Path = "autosave.json"
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultAutosaveInterval
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultAutosaveTTL
	}
	if opts.SeekAfter <= 0 {
		opts.SeekAfter = DefaultRestoreSeekAfter
	}
	if opts.PauseDelay <= 0 {
		opts.PauseDelay = DefaultRestorePause
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Autosaver{registry: registry, verifier: verifier, opts: opts, loaded: make(chan struct{})}
}

func (a *Autosaver) markLoaded() {
	a.loadedOnce.Do(func() { close(a.loaded) })
}

// State captures the resumable fields of s.
func State(s *Session) SessionState {
	state := SessionState{
		Guild:              s.GuildID,
		VoiceChannel:       s.ChannelID,
		Owner:              s.OwnerID,
		Settings:           s.Settings.All(),
		ControllerSurfaces: []MessageRef{},
	}
	if s.Controllers != nil {
		state.ControllerSurfaces = s.Controllers.Refs()
	}
	if song := s.Song(); song != nil {
		ts, _ := s.CurrentTimestamp()
		state.Playback = &PlaybackState{
			Song:      *song,
			Timestamp: ts,
			Paused:    s.IsPaused(),
		}
	}
	return state
}

func (a *Autosaver) Snapshot() Snapshot {
	sessions := a.registry.List()
	snap := Snapshot{
		States:  make([]SessionState, 0, len(sessions)),
		SavedAt: a.opts.Now().Unix(),
	}
	for _, s := range sessions {
		snap.States = append(snap.States, State(s))
	}
	return snap
}

// Save writes the snapshot, or removes the file when nothing is running.
func (a *Autosaver) Save() error {
	select {
	case <-a.loaded:
	default:
		sys.LogDebug(MsgAutosavePending, a.opts.Path)
		return nil
	}

	snap := a.Snapshot()
	if len(snap.States) == 0 {
		err := os.Remove(a.opts.Path)
		if err == nil {
			sys.LogAutosave(MsgAutosaveCleared, a.opts.Path)
			return nil
		}
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if err := writeFileAtomic(a.opts.Path, data); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	sys.LogDebug(MsgAutosaveSaved, len(snap.States), a.opts.Path)
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Run saves on every tick until ctx is done. Ticking starts once the previous
// snapshot has been loaded.
func (a *Autosaver) Run(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-a.loaded:
	}

	ticker := time.NewTicker(a.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.Save(); err != nil {
				sys.LogAutosave(MsgAutosaveFailed, err)
			}
		}
	}
}

// Load reads and removes the snapshot file. A missing file yields nil.
func (a *Autosaver) Load() (*Snapshot, error) {
	defer a.markLoaded()

	data, err := os.ReadFile(a.opts.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if err := os.Remove(a.opts.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		sys.LogAutosave(MsgAutosaveFailed, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return &snap, nil
}

// Restore replays the snapshot once. It returns the restored Sessions.
func (a *Autosaver) Restore(ctx context.Context) ([]*Session, error) {
	snap, err := a.Load()
	if err != nil || snap == nil {
		return nil, err
	}

	savedAt := time.Unix(snap.SavedAt, 0)
	age := a.opts.Now().Sub(savedAt)
	if age > a.opts.TTL {
		sys.LogAutosave(MsgAutosaveExpired, savedAt.Format(time.DateTime), a.opts.TTL)
		return nil, nil
	}
	sys.LogAutosave(MsgAutosaveRestoring, len(snap.States), age.Round(time.Second))

	var restored []*Session
	for _, state := range snap.States {
		s, err := a.restoreOne(ctx, state)
		if err != nil {
			sys.LogAutosave(MsgAutosaveSkipped, state.Guild, err)
			continue
		}
		restored = append(restored, s)
		sys.LogAutosave(MsgAutosaveRestored, state.Guild)
	}
	return restored, nil
}

func (a *Autosaver) restoreOne(ctx context.Context, state SessionState) (*Session, error) {
	if a.verifier != nil {
		if err := a.verifier.Verify(ctx, state); err != nil {
			return nil, err
		}
	}

	s, _, err := a.registry.Create(ctx, state.Guild, state.VoiceChannel, state.Owner)
	if err != nil {
		return nil, err
	}
	if len(state.Settings) > 0 {
		s.Settings.SetAll(state.Settings)
	}
	if s.Controllers != nil {
		for _, ref := range state.ControllerSurfaces {
			s.Controllers.Add(ref)
		}
	}

	if pb := state.Playback; pb != nil {
		if err := s.PlaySong(ctx, pb.Song, nil); err != nil {
			sys.LogAutosave(MsgAutosaveReplayFail, pb.Song.Name, state.Guild, err)
			return s, nil
		}
		if pb.Timestamp > a.opts.SeekAfter {
			if err := s.Seek(ctx, pb.Timestamp); err != nil {
				sys.LogAutosave(MsgAutosaveReplayFail, pb.Song.Name, state.Guild, err)
			}
		}
		if pb.Paused {
			time.AfterFunc(a.opts.PauseDelay, func() {
				if _, err := s.Pause(s.Context()); err != nil && !errors.Is(err, ErrSessionDestroyed) {
					sys.LogAutosave(MsgAutosaveReplayFail, pb.Song.Name, state.Guild, err)
				}
			})
		}
	}
	return s, nil
}

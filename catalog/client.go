package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/leeineian/gtatunes/sys"
)

const (
	DefaultBaseURL        = "https://gtatunes.net"
	DefaultRequestTimeout = 30 * time.Second
)

const (
	MsgCatalogFetch          = "[%d] %s"
	MsgCatalogFetchFail      = "Failed to fetch %s: %v"
	MsgCatalogStatusError    = "catalog returned status %d for %s"
	MsgCatalogDecodeFail     = "failed to decode %s: %w"
	MsgCatalogNoDuration     = "missing x-duration header for %s"
	MsgCatalogBadDuration    = "invalid x-duration header %q: %w"
	MsgCatalogStationMissing = "station %s/%s: %w"
	MsgCatalogInvalidGame    = "unknown game %q: %w"
)

var ErrNotFound = errors.New("not found")

// Client talks to the GTATunes HTTP API. Station lists are cached per game.
type Client struct {
	baseURL string
	http    *http.Client
	ttl     time.Duration
	timeout time.Duration

	mu       sync.RWMutex
	stations map[GameKey]cachedStations
}

type cachedStations struct {
	stations  []Station
	expiresAt time.Time
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.http = h
	}
}

// WithRequestTimeout bounds metadata requests. Audio streams are only bound by
// the caller's context.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithCacheTTL sets how long station lists are reused. Zero disables caching.
func WithCacheTTL(d time.Duration) Option {
	return func(c *Client) {
		c.ttl = d
	}
}

func NewClient(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &http.Client{},
		ttl:      10 * time.Minute,
		timeout:  DefaultRequestTimeout,
		stations: make(map[GameKey]cachedStations),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) BuildURL(path string, query url.Values) string {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// Fetch performs a GET request. Any non-2xx answer is returned as *StatusError
// with the body already closed.
func (c *Client) Fetch(ctx context.Context, rawURL string, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := c.http.Do(req)
	if err != nil {
		sys.LogCatalog(MsgCatalogFetchFail, rawURL, err)
		return nil, err
	}
	sys.LogDebug(MsgCatalogFetch, resp.StatusCode, rawURL)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &StatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}
	return resp, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Client) fetchJSON(ctx context.Context, path string, query url.Values, dst any) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.Fetch(ctx, c.BuildURL(path, query), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf(MsgCatalogDecodeFail, path, err)
	}
	return nil
}

// Stations returns the ordered station list of a game, songs included.
func (c *Client) Stations(ctx context.Context, game GameKey) ([]Station, error) {
	if !game.Valid() {
		return nil, fmt.Errorf(MsgCatalogInvalidGame, game, ErrNotFound)
	}

	c.mu.RLock()
	cached, ok := c.stations[game]
	c.mu.RUnlock()
	if ok && time.Now().Before(cached.expiresAt) {
		return slices.Clone(cached.stations), nil
	}

	var stations []Station
	query := url.Values{"with_songs": {"1"}, "with_segments": {"0"}}
	if err := c.fetchJSON(ctx, "/api/stations/"+string(game), query, &stations); err != nil {
		return nil, err
	}

	if c.ttl > 0 {
		c.mu.Lock()
		c.stations[game] = cachedStations{stations: stations, expiresAt: time.Now().Add(c.ttl)}
		c.mu.Unlock()
	}
	return slices.Clone(stations), nil
}

// Station returns one station of a game with its songs.
func (c *Client) Station(ctx context.Context, game GameKey, key string) (*Station, error) {
	if !game.Valid() {
		return nil, fmt.Errorf(MsgCatalogInvalidGame, game, ErrNotFound)
	}

	c.mu.RLock()
	cached, ok := c.stations[game]
	c.mu.RUnlock()
	if ok && time.Now().Before(cached.expiresAt) {
		for i := range cached.stations {
			if cached.stations[i].Key == key {
				st := cached.stations[i]
				return &st, nil
			}
		}
	}

	var st Station
	query := url.Values{"with_songs": {"1"}, "with_segments": {"0"}}
	if err := c.fetchJSON(ctx, "/api/stations/"+string(game)+"/"+url.PathEscape(key), query, &st); err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf(MsgCatalogStationMissing, game, key, ErrNotFound)
		}
		return nil, err
	}
	return &st, nil
}

// AudioURL builds the playable URL of a song variant.
func (c *Client) AudioURL(game GameKey, station string, song Song, opts PlayOptions) string {
	query := url.Values{
		"song":  {song.Name},
		"intro": {strconv.Itoa(opts.Intro)},
		"outro": {strconv.Itoa(opts.Outro)},
	}
	return c.BuildURL("/api/stations/"+string(game)+"/"+url.PathEscape(station)+"/play", query)
}

// Duration probes the length of an audio resource without downloading it.
func (c *Client) Duration(ctx context.Context, audioURL string) (time.Duration, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.Fetch(ctx, audioURL, http.Header{"Range": {"bytes=0-1"}})
	if err != nil {
		return 0, err
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64))
	resp.Body.Close()

	raw := resp.Header.Get("x-duration")
	if raw == "" {
		return 0, fmt.Errorf(MsgCatalogNoDuration, audioURL)
	}
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil || secs < 0 {
		if err == nil {
			err = ErrNotFound
		}
		return 0, fmt.Errorf(MsgCatalogBadDuration, raw, err)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// Stream opens the audio resource. The caller owns the returned body.
func (c *Client) Stream(ctx context.Context, audioURL string) (io.ReadCloser, error) {
	resp, err := c.Fetch(ctx, audioURL, nil)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (c *Client) IconURL(game GameKey, station string, size IconSize) string {
	if size == "" {
		size = IconMedium
	}
	return c.BuildURL("/api/stations/"+string(game)+"/"+url.PathEscape(station)+"/icon", url.Values{"size": {string(size)}})
}

// PlayerLink points to the web player positioned on the song.
func (c *Client) PlayerLink(song Song) string {
	return c.BuildURL("/player", url.Values{
		"game":    {string(song.GameKey)},
		"station": {song.StationKey},
		"song":    {song.Name},
	})
}

func (c *Client) Version(ctx context.Context) (*Version, error) {
	var v Version
	if err := c.fetchJSON(ctx, "/api/version", nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

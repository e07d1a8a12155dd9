package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"
)

func newTestServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/stations/sa", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Query().Get("with_songs") != "1" {
			t.Errorf("expected with_songs=1, got %q", r.URL.Query().Get("with_songs"))
		}
		_ = json.NewEncoder(w).Encode([]Station{
			{Key: "radio_x", GameKey: GameSanAndreas, Name: "Radio X", Songs: []Song{
				{Name: "Plush", StationKey: "radio_x", GameKey: GameSanAndreas, IntroCount: 2, OutroCount: 1},
			}},
			{Key: "k_dst", GameKey: GameSanAndreas, Name: "K-DST"},
		})
	})
	mux.HandleFunc("/api/stations/vc/wave", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Station{Key: "wave", GameKey: GameViceCity, Name: "Wave 103"})
	})
	mux.HandleFunc("/api/stations/vc/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/api/stations/sa/radio_x/play", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Range") == "bytes=0-1" {
			w.Header().Set("x-duration", "183.5")
			w.WriteHeader(http.StatusPartialContent)
			_, _ = w.Write([]byte{0, 1})
			return
		}
		_, _ = w.Write([]byte("audio"))
	})
	mux.HandleFunc("/api/version", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Version{Major: 2, Minor: 1, Patch: 0, Formatted: "v2.1.0"})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestStationsAreCached(t *testing.T) {
	var hits atomic.Int32
	srv := newTestServer(t, &hits)
	c := NewClient(srv.URL, WithCacheTTL(time.Minute))

	for range 3 {
		stations, err := c.Stations(context.Background(), GameSanAndreas)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(stations) != 2 {
			t.Fatalf("expected 2 stations, got %d", len(stations))
		}
	}
	if hits.Load() != 1 {
		t.Fatalf("expected a single request, got %d", hits.Load())
	}

	st, err := c.Station(context.Background(), GameSanAndreas, "radio_x")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Name != "Radio X" || st.IndexOf("Plush") != 0 {
		t.Fatalf("unexpected station %+v", st)
	}
}

func TestStationNotFound(t *testing.T) {
	var hits atomic.Int32
	srv := newTestServer(t, &hits)
	c := NewClient(srv.URL)

	st, err := c.Station(context.Background(), GameViceCity, "wave")
	if err != nil || st.Name != "Wave 103" {
		t.Fatalf("expected Wave 103, got %+v (%v)", st, err)
	}

	if _, err := c.Station(context.Background(), GameViceCity, "k_chat"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInvalidGame(t *testing.T) {
	c := NewClient("http://127.0.0.1:1")
	if _, err := c.Stations(context.Background(), GameKey("gta6")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAudioURLAndDuration(t *testing.T) {
	var hits atomic.Int32
	srv := newTestServer(t, &hits)
	c := NewClient(srv.URL)

	song := Song{Name: "Plush", StationKey: "radio_x", GameKey: GameSanAndreas}
	u := c.AudioURL(GameSanAndreas, "radio_x", song, PlayOptions{Intro: 2, Outro: 1})

	parsed, err := url.Parse(u)
	if err != nil {
		t.Fatalf("invalid url %q: %v", u, err)
	}
	if parsed.Path != "/api/stations/sa/radio_x/play" {
		t.Fatalf("unexpected path %q", parsed.Path)
	}
	q := parsed.Query()
	if q.Get("song") != "Plush" || q.Get("intro") != "2" || q.Get("outro") != "1" {
		t.Fatalf("unexpected query %q", parsed.RawQuery)
	}

	d, err := c.Duration(context.Background(), u)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d != 183500*time.Millisecond {
		t.Fatalf("expected 3m3.5s, got %v", d)
	}

	body, err := c.Stream(context.Background(), u)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer body.Close()
	data, _ := io.ReadAll(body)
	if string(data) != "audio" {
		t.Fatalf("expected audio body, got %q", data)
	}
}

func TestFetchStatusError(t *testing.T) {
	var hits atomic.Int32
	srv := newTestServer(t, &hits)
	c := NewClient(srv.URL)

	_, err := c.Fetch(context.Background(), srv.URL+"/missing", nil)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if se.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", se.StatusCode)
	}
}

func TestVersionAndLinks(t *testing.T) {
	var hits atomic.Int32
	srv := newTestServer(t, &hits)
	c := NewClient(srv.URL + "/")

	v, err := c.Version(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Formatted != "v2.1.0" {
		t.Fatalf("expected v2.1.0, got %q", v.Formatted)
	}

	link := c.PlayerLink(Song{Name: "Plush", StationKey: "radio_x", GameKey: GameSanAndreas})
	if link != srv.URL+"/player?game=sa&song=Plush&station=radio_x" {
		t.Fatalf("unexpected link %q", link)
	}

	icon := c.IconURL(GameSanAndreas, "radio_x", "")
	if icon != srv.URL+"/api/stations/sa/radio_x/icon?size=medium" {
		t.Fatalf("unexpected icon %q", icon)
	}
}

func TestGameNames(t *testing.T) {
	if GameViceCity.Name() != "GTA Vice City" {
		t.Fatalf("expected GTA Vice City, got %q", GameViceCity.Name())
	}
	if GameKey("x").Valid() {
		t.Fatalf("expected unknown game to be invalid")
	}
	s := Song{Name: "Plush", Artists: []string{"A", "B", "C"}}
	if s.String() != "Plush - A, B & C" {
		t.Fatalf("unexpected song string %q", s.String())
	}
}

func TestStreamOutlivesRequestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for range 6 {
			_, _ = w.Write([]byte("chunk"))
			flusher.Flush()
			time.Sleep(50 * time.Millisecond)
		}
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, WithRequestTimeout(100*time.Millisecond))
	body, err := c.Stream(context.Background(), srv.URL+"/api/stations/sa/radio_x/play")
	if err != nil {
		t.Fatalf("expected stream to open, got %v", err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("expected the whole body, got %v after %d bytes", err, len(data))
	}
	if len(data) != 30 {
		t.Fatalf("expected 30 bytes, got %d", len(data))
	}
}

func TestMetadataRequestTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	c := NewClient(srv.URL, WithRequestTimeout(50*time.Millisecond))
	start := time.Now()
	if _, err := c.Version(context.Background()); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("expected the request to give up quickly, took %v", elapsed)
	}
}

// Package voice owns per-guild playback state: connection lifecycle,
// the queue, loop modes, filters, volume, and playhead accounting
// across pauses. Actual audio transport sits behind the Dialer and
// Connection interfaces.
package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/haasonsaas/specbot/internal/platform"
)

// Defaults applied when the document leaves voice config unset.
const (
	DefaultVolume      = 100
	DefaultMaxQueue    = 1000
	defaultReadyWindow = 30 * time.Second

	minVolume = 0
	maxVolume = 200
)

// Loop modes.
const (
	LoopOff   = "off"
	LoopTrack = "track"
	LoopQueue = "queue"
)

// Guild playback statuses.
const (
	StatusDisconnected = "disconnected"
	StatusConnected    = "connected"
	StatusPlaying      = "playing"
	StatusPaused       = "paused"
)

var (
	// ErrNotConnected is returned for playback operations on a guild
	// without a live connection.
	ErrNotConnected = errors.New("not connected to voice")
	// ErrQueueFull rejects queue admission past max_queue_size.
	ErrQueueFull = errors.New("queue is full")
	// ErrNothingPlaying is returned for track operations while idle.
	ErrNothingPlaying = errors.New("nothing is playing")
)

// QueueItem is one queued track.
type QueueItem struct {
	URL         string
	Title       string
	Duration    time.Duration
	Thumbnail   string
	RequesterID string
}

// PlayOptions tune a single playback start.
type PlayOptions struct {
	Volume float64 // 0 means keep the guild volume
	Seek   time.Duration
}

// Connection is one live voice transport for a guild. Play replaces any
// current playback. The end callback fires once per track that runs to
// completion, not for explicit stops or replacements.
type Connection interface {
	Play(source string, volume float64, seek time.Duration, filters []string, onEnd func()) error
	Pause() error
	Resume() error
	StopPlayback() error
	SetVolume(volume float64) error
	Close() error
}

// Dialer establishes voice connections. Implementations must block
// until the transport is ready or ctx expires.
type Dialer interface {
	Join(ctx context.Context, guildID, channelID string, selfDeaf, selfMute bool) (Connection, error)
}

// Manager tracks playback state for every guild.
type Manager struct {
	dialer       Dialer
	logger       *slog.Logger
	now          func() time.Time
	readyTimeout time.Duration
	maxQueueSize int
	volume       float64

	mu     sync.Mutex
	guilds map[string]*guildState
}

type guildState struct {
	guildID   string
	conn      Connection
	status    string
	queue     []QueueItem
	current   *QueueItem
	volume    float64
	loopMode  string
	filters   map[string]bool
	startTime time.Time
	pausedAt  time.Time
}

// Option configures the manager.
type Option func(*Manager)

// WithNow overrides the clock for tests.
func WithNow(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMaxQueueSize overrides queue admission.
func WithMaxQueueSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxQueueSize = n
		}
	}
}

// WithDefaultVolume overrides the starting volume for new guilds.
func WithDefaultVolume(v int) Option {
	return func(m *Manager) {
		m.volume = clampVolume(float64(v))
	}
}

// WithReadyTimeout overrides the join readiness deadline.
func WithReadyTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.readyTimeout = d
		}
	}
}

// NewManager creates a Manager over the given transport dialer.
func NewManager(dialer Dialer, opts ...Option) *Manager {
	m := &Manager{
		dialer:       dialer,
		logger:       slog.Default(),
		now:          time.Now,
		readyTimeout: defaultReadyWindow,
		maxQueueSize: DefaultMaxQueue,
		volume:       DefaultVolume,
		guilds:       make(map[string]*guildState),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "voice")
	return m
}

// Join connects a guild to a voice channel, waiting for transport
// readiness within the ready timeout.
func (m *Manager) Join(ctx context.Context, guildID, channelID string, selfDeaf, selfMute bool) error {
	joinCtx, cancel := context.WithTimeout(ctx, m.readyTimeout)
	defer cancel()
	conn, err := m.dialer.Join(joinCtx, guildID, channelID, selfDeaf, selfMute)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: voice join for guild %s", platform.ErrReadyTimeout, guildID)
		}
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.guilds[guildID]; ok && prev.conn != nil {
		prev.conn.Close()
	}
	m.guilds[guildID] = &guildState{
		guildID:  guildID,
		conn:     conn,
		status:   StatusConnected,
		volume:   m.volume,
		loopMode: LoopOff,
		filters:  make(map[string]bool),
	}
	return nil
}

// Leave stops playback, destroys the connection, and drops all state
// for the guild.
func (m *Manager) Leave(guildID string) error {
	m.mu.Lock()
	g, ok := m.guilds[guildID]
	delete(m.guilds, guildID)
	m.mu.Unlock()
	if !ok {
		return ErrNotConnected
	}
	if g.conn != nil {
		g.conn.StopPlayback()
		return g.conn.Close()
	}
	return nil
}

// Play starts a source immediately, replacing the current track.
func (m *Manager) Play(_ context.Context, guildID, source string, opts PlayOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.guilds[guildID]
	if !ok {
		return ErrNotConnected
	}
	if opts.Volume > 0 {
		g.volume = clampVolume(opts.Volume)
	}
	item := QueueItem{URL: source, Title: source}
	return m.startLocked(g, &item, opts.Seek)
}

// startLocked begins playback of item on g. Caller holds m.mu.
func (m *Manager) startLocked(g *guildState, item *QueueItem, seek time.Duration) error {
	if err := g.conn.Play(item.URL, g.volume, seek, m.filterList(g), m.endCallback(g.guildID, item)); err != nil {
		return err
	}
	g.current = item
	g.status = StatusPlaying
	g.startTime = m.now().Add(-seek)
	g.pausedAt = time.Time{}
	return nil
}

// endCallback advances the queue when a track finishes naturally. The
// item pointer guards against stale callbacks after a manual skip.
func (m *Manager) endCallback(guildID string, item *QueueItem) func() {
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		g, ok := m.guilds[guildID]
		if !ok || g.current != item {
			return
		}
		m.advanceLocked(g)
	}
}

// advanceLocked applies the loop mode and plays the next track, or
// falls back to connected when the queue empties. Caller holds m.mu.
func (m *Manager) advanceLocked(g *guildState) {
	finished := g.current
	switch g.loopMode {
	case LoopTrack:
		if finished != nil {
			if err := m.startLocked(g, finished, 0); err != nil {
				m.logger.Warn("track loop restart failed", "guild", g.guildID, "error", err)
				m.idleLocked(g)
			}
			return
		}
	case LoopQueue:
		if finished != nil && len(g.queue) < m.maxQueueSize {
			g.queue = append(g.queue, *finished)
		}
	}

	if len(g.queue) == 0 {
		m.idleLocked(g)
		return
	}
	next := g.queue[0]
	g.queue = g.queue[1:]
	if err := m.startLocked(g, &next, 0); err != nil {
		m.logger.Warn("queue advance failed", "guild", g.guildID, "track", next.URL, "error", err)
		m.idleLocked(g)
	}
}

func (m *Manager) idleLocked(g *guildState) {
	g.current = nil
	g.status = StatusConnected
	g.startTime = time.Time{}
	g.pausedAt = time.Time{}
}

// Pause freezes playback and records the pause instant.
func (m *Manager) Pause(guildID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.guilds[guildID]
	if !ok {
		return ErrNotConnected
	}
	if g.status != StatusPlaying {
		return ErrNothingPlaying
	}
	if err := g.conn.Pause(); err != nil {
		return err
	}
	g.status = StatusPaused
	g.pausedAt = m.now()
	return nil
}

// Resume continues playback, shifting startTime by the paused span so
// the playhead is conserved.
func (m *Manager) Resume(guildID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.guilds[guildID]
	if !ok {
		return ErrNotConnected
	}
	if g.status != StatusPaused {
		return ErrNothingPlaying
	}
	if err := g.conn.Resume(); err != nil {
		return err
	}
	g.startTime = g.startTime.Add(m.now().Sub(g.pausedAt))
	g.pausedAt = time.Time{}
	g.status = StatusPlaying
	return nil
}

// Skip ends the current track and advances through the loop-mode rules.
func (m *Manager) Skip(guildID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.guilds[guildID]
	if !ok {
		return ErrNotConnected
	}
	if g.current == nil {
		return ErrNothingPlaying
	}
	g.conn.StopPlayback()
	// A skip under track loop still moves on.
	if g.loopMode == LoopTrack {
		g.current = nil
		if len(g.queue) == 0 {
			m.idleLocked(g)
			return nil
		}
		next := g.queue[0]
		g.queue = g.queue[1:]
		return m.startLocked(g, &next, 0)
	}
	m.advanceLocked(g)
	return nil
}

// Stop halts playback and clears the queue.
func (m *Manager) Stop(guildID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.guilds[guildID]
	if !ok {
		return ErrNotConnected
	}
	g.conn.StopPlayback()
	g.queue = nil
	m.idleLocked(g)
	return nil
}

// Seek restarts the current track at the given offset.
func (m *Manager) Seek(guildID string, offset time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.guilds[guildID]
	if !ok {
		return ErrNotConnected
	}
	if g.current == nil {
		return ErrNothingPlaying
	}
	return m.startLocked(g, g.current, offset)
}

// SetVolume clamps to [0,200] and applies to the live resource.
func (m *Manager) SetVolume(guildID string, volume float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.guilds[guildID]
	if !ok {
		return ErrNotConnected
	}
	g.volume = clampVolume(volume)
	if g.current != nil {
		return g.conn.SetVolume(g.volume)
	}
	return nil
}

// Volume reports the guild's current volume.
func (m *Manager) Volume(guildID string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.guilds[guildID]
	if !ok {
		return 0, ErrNotConnected
	}
	return g.volume, nil
}

// SetLoop sets the loop mode: off, track, or queue.
func (m *Manager) SetLoop(guildID, mode string) error {
	switch mode {
	case LoopOff, LoopTrack, LoopQueue:
	default:
		return fmt.Errorf("unknown loop mode %q", mode)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.guilds[guildID]
	if !ok {
		return ErrNotConnected
	}
	g.loopMode = mode
	return nil
}

// SetFilter toggles one filter. When the active set changes while a
// track is playing, the track restarts at the current playhead with
// the new pipeline.
func (m *Manager) SetFilter(guildID, name string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.guilds[guildID]
	if !ok {
		return ErrNotConnected
	}
	if g.filters[name] == enabled {
		return nil
	}
	if enabled {
		g.filters[name] = true
	} else {
		delete(g.filters, name)
	}
	if g.current != nil && g.status == StatusPlaying {
		pos := m.positionLocked(g)
		return m.startLocked(g, g.current, pos)
	}
	return nil
}

// AddToQueue admits an item at "next", "last", or an integer position.
func (m *Manager) AddToQueue(guildID string, item QueueItem, position any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.guilds[guildID]
	if !ok {
		return ErrNotConnected
	}
	if len(g.queue) >= m.maxQueueSize {
		return fmt.Errorf("%w: %d items", ErrQueueFull, len(g.queue))
	}
	idx := len(g.queue)
	switch p := position.(type) {
	case nil:
	case string:
		if p == "next" {
			idx = 0
		}
	case int:
		idx = clampIndex(p, len(g.queue))
	case float64:
		idx = clampIndex(int(p), len(g.queue))
	}
	g.queue = append(g.queue, QueueItem{})
	copy(g.queue[idx+1:], g.queue[idx:])
	g.queue[idx] = item
	return nil
}

// ClearQueue drops every queued item, leaving the current track alone.
func (m *Manager) ClearQueue(guildID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.guilds[guildID]
	if !ok {
		return ErrNotConnected
	}
	g.queue = nil
	return nil
}

// ShuffleQueue randomizes queue order.
func (m *Manager) ShuffleQueue(guildID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.guilds[guildID]
	if !ok {
		return ErrNotConnected
	}
	rand.Shuffle(len(g.queue), func(i, j int) {
		g.queue[i], g.queue[j] = g.queue[j], g.queue[i]
	})
	return nil
}

// Queue returns a snapshot of the guild's queue.
func (m *Manager) Queue(guildID string) ([]QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.guilds[guildID]
	if !ok {
		return nil, ErrNotConnected
	}
	return append([]QueueItem(nil), g.queue...), nil
}

// Current returns the playing track, or nil while idle.
func (m *Manager) Current(guildID string) (*QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.guilds[guildID]
	if !ok {
		return nil, ErrNotConnected
	}
	if g.current == nil {
		return nil, nil
	}
	out := *g.current
	return &out, nil
}

// Status reports the guild's playback status.
func (m *Manager) Status(guildID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.guilds[guildID]
	if !ok {
		return StatusDisconnected
	}
	return g.status
}

// Position returns the playhead: frozen while paused, advancing while
// playing, zero when idle.
func (m *Manager) Position(guildID string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.guilds[guildID]
	if !ok {
		return 0
	}
	return m.positionLocked(g)
}

func (m *Manager) positionLocked(g *guildState) time.Duration {
	switch g.status {
	case StatusPaused:
		return g.pausedAt.Sub(g.startTime)
	case StatusPlaying:
		return m.now().Sub(g.startTime)
	default:
		return 0
	}
}

func (m *Manager) filterList(g *guildState) []string {
	out := make([]string, 0, len(g.filters))
	for name := range g.filters {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func clampVolume(v float64) float64 {
	if v < minVolume {
		return minVolume
	}
	if v > maxVolume {
		return maxVolume
	}
	return v
}

func clampIndex(i, max int) int {
	if i < 0 {
		return 0
	}
	if i > max {
		return max
	}
	return i
}

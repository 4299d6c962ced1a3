package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/haasonsaas/specbot/internal/voice"
)

// AudioSource produces opus frames for one track. Implementations wrap
// an encoder pipeline; Frames delivers 20ms packets until the source is
// exhausted or stopped.
type AudioSource interface {
	Frames() <-chan []byte
	Stop()
}

// SourceFactory opens an audio source for a play request.
type SourceFactory func(ctx context.Context, source string, volume float64, seek time.Duration, filters []string) (AudioSource, error)

// Dialer implements voice.Dialer over discordgo voice connections. The
// source factory supplies the audio pipeline; without one, joins work
// but playback fails.
type Dialer struct {
	client  *Client
	sources SourceFactory
	logger  *slog.Logger
}

// NewDialer creates a dialer over the client. The session is resolved
// per join, so the dialer can be built before the client starts.
func NewDialer(c *Client, sources SourceFactory) *Dialer {
	return &Dialer{
		client:  c,
		sources: sources,
		logger:  c.logger.With("component", "voice"),
	}
}

// Join connects to a voice channel. discordgo blocks until the voice
// gateway is ready, so the manager's timeout context bounds the wait
// end to end.
func (d *Dialer) Join(ctx context.Context, guildID, channelID string, selfDeaf, selfMute bool) (voice.Connection, error) {
	session := d.client.voiceSession()
	if session == nil {
		return nil, fmt.Errorf("gateway not started")
	}

	type result struct {
		vc  *discordgo.VoiceConnection
		err error
	}
	done := make(chan result, 1)
	go func() {
		vc, err := session.ChannelVoiceJoin(guildID, channelID, selfMute, selfDeaf)
		done <- result{vc: vc, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("voice join: %w", r.err)
		}
		return &voiceConn{vc: r.vc, sources: d.sources, logger: d.logger}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// voiceConn adapts one discordgo voice connection to the manager's
// transport contract.
type voiceConn struct {
	vc      *discordgo.VoiceConnection
	sources SourceFactory
	logger  *slog.Logger

	mu      sync.Mutex
	current AudioSource
	paused  bool
	resume  chan struct{}
	stop    chan struct{}
}

func (c *voiceConn) Play(source string, volume float64, seek time.Duration, filters []string, onEnd func()) error {
	if c.sources == nil {
		return fmt.Errorf("no audio source factory configured")
	}
	audio, err := c.sources(context.Background(), source, volume, seek, filters)
	if err != nil {
		return fmt.Errorf("open audio source: %w", err)
	}

	c.mu.Lock()
	if c.current != nil {
		c.current.Stop()
		close(c.stop)
	}
	c.current = audio
	c.paused = false
	c.resume = make(chan struct{})
	c.stop = make(chan struct{})
	stop := c.stop
	c.mu.Unlock()

	if err := c.vc.Speaking(true); err != nil {
		c.logger.Warn("speaking flag failed", "error", err)
	}
	go c.pump(audio, stop, onEnd)
	return nil
}

// pump forwards opus frames to the gateway, honoring pause and stop.
func (c *voiceConn) pump(audio AudioSource, stop chan struct{}, onEnd func()) {
	defer c.vc.Speaking(false)
	for {
		c.mu.Lock()
		paused := c.paused
		resume := c.resume
		c.mu.Unlock()
		if paused {
			select {
			case <-resume:
				continue
			case <-stop:
				return
			}
		}

		select {
		case frame, ok := <-audio.Frames():
			if !ok {
				if onEnd != nil {
					onEnd()
				}
				return
			}
			select {
			case c.vc.OpusSend <- frame:
			case <-stop:
				return
			}
		case <-stop:
			return
		}
	}
}

func (c *voiceConn) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = true
	return nil
}

func (c *voiceConn) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused {
		c.paused = false
		close(c.resume)
		c.resume = make(chan struct{})
	}
	return nil
}

func (c *voiceConn) StopPlayback() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil {
		c.current.Stop()
		c.current = nil
		close(c.stop)
		c.stop = make(chan struct{})
	}
	return nil
}

// SetVolume is applied at source-open time; live adjustment requires
// re-opening the source, which the manager does on filter changes.
func (c *voiceConn) SetVolume(volume float64) error {
	return nil
}

func (c *voiceConn) Close() error {
	c.StopPlayback()
	return c.vc.Disconnect()
}

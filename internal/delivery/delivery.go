// Package delivery posts digest chunks to the recipient's direct-message
// channel. It uses discordgo strictly as a typed REST client; the realtime
// gateway side of this program is internal/gateway.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"

	logx "briefbot/pkg/logx"
)

// ErrUnreachable means the DM channel to the recipient could not be opened
// (typically: the recipient disallows DMs from this bot).
var ErrUnreachable = errors.New("recipient unreachable")

type Config struct {
	Token           string
	RecipientUserID string

	// RatePerSec caps outbound message posts. Defaults to 1.
	RatePerSec int
}

type Sender struct {
	cfg     Config
	log     logx.Logger
	rest    *discordgo.Session
	limiter *rate.Limiter

	mu          sync.Mutex
	dmChannelID string // cached; re-resolved after any send failure
}

func New(cfg Config, log logx.Logger) (*Sender, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("delivery: token is required")
	}
	if strings.TrimSpace(cfg.RecipientUserID) == "" {
		return nil, errors.New("delivery: recipient user id is required")
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	rest, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("delivery: %w", err)
	}

	return &Sender{
		cfg:     cfg,
		log:     log,
		rest:    rest,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}, nil
}

// Deliver posts the chunks in order. The first failure aborts the remaining
// chunks and is returned as the single failure for the whole digest; later
// chunks are never retried without re-validating the channel.
func (s *Sender) Deliver(ctx context.Context, chunks []string) error {
	if len(chunks) == 0 {
		return nil
	}

	channelID, err := s.channel(ctx)
	if err != nil {
		return err
	}

	for i, chunk := range chunks {
		if err := s.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("delivery aborted at chunk %d/%d: %w", i+1, len(chunks), err)
		}
		if _, err := s.rest.ChannelMessageSend(channelID, chunk, discordgo.WithContext(ctx)); err != nil {
			s.invalidateChannel()
			return fmt.Errorf("delivery failed at chunk %d/%d: %w", i+1, len(chunks), err)
		}
	}
	s.log.Debug("digest delivered", logx.Int("chunks", len(chunks)))
	return nil
}

// channel returns the DM channel id, opening it on first use.
func (s *Sender) channel(ctx context.Context) (string, error) {
	s.mu.Lock()
	cached := s.dmChannelID
	s.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	ch, err := s.rest.UserChannelCreate(s.cfg.RecipientUserID, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	s.mu.Lock()
	s.dmChannelID = ch.ID
	s.mu.Unlock()
	return ch.ID, nil
}

func (s *Sender) invalidateChannel() {
	s.mu.Lock()
	s.dmChannelID = ""
	s.mu.Unlock()
}

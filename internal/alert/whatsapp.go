package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
)

const (
	whatsAppBase  = "https://web.whatsapp.com"
	sendButton    = `span[data-icon="send"]`
	composeBox    = `div[contenteditable="true"][data-tab="10"]`
	settleTimeout = 2 * time.Second
)

// ErrSenderClosed is returned after the browser has been shut down.
var ErrSenderClosed = errors.New("whatsapp sender closed")

// ChromeOptions configures the browser driving WhatsApp Web.
type ChromeOptions struct {
	// ProfileDir keeps the logged-in WhatsApp session between runs.
	ProfileDir string
	Headless   bool
}

// ChromeSender drives a WhatsApp Web session in Chrome. Deliveries are
// serialized on the single browser tab.
type ChromeSender struct {
	mu          sync.Mutex
	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc
	closed      bool
	logger      *slog.Logger
}

// NewChromeSender launches Chrome with the given profile. The profile must
// already be paired with a phone.
func NewChromeSender(opts ChromeOptions, logger *slog.Logger) (*ChromeSender, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(1280, 900),
	)
	if opts.ProfileDir != "" {
		allocOpts = append(allocOpts, chromedp.UserDataDir(opts.ProfileDir))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	ctx, cancel := chromedp.NewContext(allocCtx)

	if err := chromedp.Run(ctx); err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	logger.Info("WhatsApp Web browser started", "profile_dir", opts.ProfileDir, "headless", opts.Headless)
	return &ChromeSender{allocCancel: allocCancel, ctx: ctx, cancel: cancel, logger: logger}, nil
}

// SendToPhone opens a chat with phone prefilled with text and presses send.
func (s *ChromeSender) SendToPhone(ctx context.Context, phone, text string) error {
	target := fmt.Sprintf("%s/send?phone=%s&text=%s",
		whatsAppBase,
		url.QueryEscape(strings.TrimPrefix(phone, "+")),
		url.QueryEscape(text))

	return s.run(ctx,
		chromedp.Navigate(target),
		chromedp.WaitVisible(sendButton, chromedp.ByQuery),
		chromedp.Click(sendButton, chromedp.ByQuery),
		chromedp.Sleep(settleTimeout),
	)
}

// SendToGroup opens the group behind an invite code and types text into
// the compose box. Line breaks are entered with shift+enter so the message
// goes out in one piece.
func (s *ChromeSender) SendToGroup(ctx context.Context, code, text string) error {
	actions := []chromedp.Action{
		chromedp.Navigate(whatsAppBase + "/accept?code=" + url.QueryEscape(code)),
		chromedp.WaitVisible(composeBox, chromedp.ByQuery),
	}
	for i, line := range strings.Split(text, "\n") {
		if i > 0 {
			actions = append(actions, chromedp.KeyEvent(kb.Enter, chromedp.KeyModifiers(input.ModifierShift)))
		}
		actions = append(actions, chromedp.SendKeys(composeBox, line, chromedp.ByQuery))
	}
	actions = append(actions, chromedp.KeyEvent(kb.Enter), chromedp.Sleep(settleTimeout))

	return s.run(ctx, actions...)
}

func (s *ChromeSender) run(ctx context.Context, actions ...chromedp.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSenderClosed
	}

	tabCtx := s.ctx
	if deadline, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		tabCtx, cancel = context.WithDeadline(s.ctx, deadline)
		defer cancel()
	}
	return chromedp.Run(tabCtx, actions...)
}

// Close shuts the browser down.
func (s *ChromeSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.cancel()
	s.allocCancel()
	s.logger.Debug("WhatsApp Web browser stopped")
	return nil
}

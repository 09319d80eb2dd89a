package alert

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/clalos/dashwatch/internal/registry"
)

// ChannelMessaging names the WhatsApp channel in status logs.
const ChannelMessaging = "WhatsApp"

const queueSize = 64

// Sender performs one WhatsApp delivery.
type Sender interface {
	SendToPhone(ctx context.Context, phone, text string) error
	SendToGroup(ctx context.Context, code, text string) error
}

type job struct {
	due     time.Time
	service string
	phone   string
	group   string
	text    string
}

// MessagingDispatcher queues WhatsApp deliveries for now + lead time and
// performs them one by one on a background worker. NotifyDown returns as
// soon as the recipients are queued.
type MessagingDispatcher struct {
	sender  Sender
	lead    time.Duration
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time

	mu     sync.Mutex
	closed bool
	queue  chan job
	quit   chan struct{}
	wg     sync.WaitGroup
}

// NewMessagingDispatcher starts the delivery worker. timeout bounds each
// single delivery.
func NewMessagingDispatcher(sender Sender, lead, timeout time.Duration, logger *slog.Logger) *MessagingDispatcher {
	d := &MessagingDispatcher{
		sender:  sender,
		lead:    lead,
		timeout: timeout,
		logger:  logger,
		now:     time.Now,
		queue:   make(chan job, queueSize),
		quit:    make(chan struct{}),
	}
	d.wg.Add(1)
	go d.work()
	return d
}

// Channel implements Dispatcher.
func (d *MessagingDispatcher) Channel() string { return ChannelMessaging }

// NotifyDown implements Dispatcher. Group links are reduced to their invite
// code and reported as "group:<code>".
func (d *MessagingDispatcher) NotifyDown(_ context.Context, service registry.Identity, targets registry.Targets) Delivery {
	now := d.now()
	text := Message(service.Label(), now)
	due := now.Add(d.lead)

	var recipients []string
	for _, phone := range clean(targets.Messaging) {
		if d.enqueue(job{due: due, service: service.Name, phone: phone, text: text}) {
			recipients = append(recipients, phone)
		}
	}
	for _, link := range clean(targets.MessagingGroups) {
		code := GroupCode(link)
		if code == "" {
			d.logger.Warn("Ignoring malformed WhatsApp group link", "service", service.Name, "link", link)
			continue
		}
		if d.enqueue(job{due: due, service: service.Name, group: code, text: text}) {
			recipients = append(recipients, "group:"+code)
		}
	}

	if len(recipients) > 0 {
		d.logger.Info("WhatsApp alert scheduled",
			"service", service.Name,
			"recipients", recipients,
			"deliver_at", due.Format(TimeLayout))
	}
	return Delivery{Attempted: len(recipients) > 0, Recipients: recipients}
}

func (d *MessagingDispatcher) enqueue(j job) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	select {
	case d.queue <- j:
		return true
	default:
		d.logger.Warn("WhatsApp queue full, dropping delivery", "service", j.service, "queue_size", queueSize)
		return false
	}
}

func (d *MessagingDispatcher) work() {
	defer d.wg.Done()
	for {
		select {
		case <-d.quit:
			return
		case j := <-d.queue:
			if wait := j.due.Sub(d.now()); wait > 0 {
				timer := time.NewTimer(wait)
				select {
				case <-d.quit:
					timer.Stop()
					d.logger.Warn("Dropping scheduled WhatsApp delivery on shutdown", "service", j.service)
					return
				case <-timer.C:
				}
			}
			d.deliver(j)
		}
	}
}

func (d *MessagingDispatcher) deliver(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	var err error
	recipient := j.phone
	if j.group != "" {
		recipient = "group:" + j.group
		err = d.sender.SendToGroup(ctx, j.group, j.text)
	} else {
		err = d.sender.SendToPhone(ctx, j.phone, j.text)
	}

	if err != nil {
		d.logger.Error("Failed to send WhatsApp alert", "service", j.service, "recipient", recipient, "error", err)
		return
	}
	d.logger.Info("WhatsApp alert sent", "service", j.service, "recipient", recipient)
}

// Close stops the worker. Deliveries still waiting for their due time are
// dropped.
func (d *MessagingDispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.quit)
	d.mu.Unlock()

	d.wg.Wait()
	if pending := len(d.queue); pending > 0 {
		d.logger.Warn("WhatsApp deliveries dropped on shutdown", "pending", pending)
	}
	return nil
}

// GroupCode extracts the invite code from a chat.whatsapp.com link. A bare
// code is returned unchanged.
func GroupCode(link string) string {
	link = strings.TrimSpace(link)
	if i := strings.IndexAny(link, "?#"); i >= 0 {
		link = link[:i]
	}
	link = strings.TrimRight(link, "/")
	if i := strings.LastIndex(link, "/"); i >= 0 {
		link = link[i+1:]
	}
	return link
}

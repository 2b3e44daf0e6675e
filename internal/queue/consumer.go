package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Consumer listens to the notification queues and appends one line per
// message to <Dir>/notifications.log.  The log file stands in for the
// SMS/e-mail gateway.
type Consumer struct {
	URL string
	Dir string

	mu sync.Mutex // serializes writes from the two queues
}

// NewConsumer returns a Consumer writing under dir ("logs" when empty).
func NewConsumer(url, dir string) *Consumer {
	if url == "" {
		url = DefaultURL
	}
	if dir == "" {
		dir = "logs"
	}
	return &Consumer{URL: url, Dir: dir}
}

// Run connects to RabbitMQ, declares both queues and consumes them until
// ctx is cancelled.  A lost connection is re-dialed with exponential
// backoff; a message that cannot be handled is rejected without requeue
// so the consumer keeps going.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn, err := amqp.Dial(c.URL)
		if err != nil {
			log.Printf("notification-consumer: failed to dial broker: %v; retrying in %s", err, backoff)
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second // reset after successful connect

		err = c.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("notification-consumer: consume loop ended: %v; reconnecting", err)
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		log.Printf("notification-consumer: set QoS failed: %v", err)
	}

	var feeds []<-chan amqp.Delivery
	for _, q := range []string{ReminderQueue, ConfirmedQueue} {
		if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
			return fmt.Errorf("queue declare %s: %w", q, err)
		}
		msgs, err := ch.Consume(q, "", false, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("queue consume %s: %w", q, err)
		}
		feeds = append(feeds, msgs)
	}

	reminders, confirmations := feeds[0], feeds[1]
	for {
		var d amqp.Delivery
		var ok bool
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok = <-reminders:
		case d, ok = <-confirmations:
		}
		if !ok {
			return errors.New("deliveries channel closed")
		}
		if err := c.handleMessage(d.Body); err != nil {
			log.Printf("notification-consumer: handle message failed: %v", err)
			_ = d.Nack(false, false) // reject, do not requeue to avoid tight loops
			continue
		}
		_ = d.Ack(false)
	}
}

func (c *Consumer) handleMessage(body []byte) error {
	var ev NotificationEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.Reservation.Code == "" {
		return errors.New("event without reservation code")
	}
	line := formatLine(ev)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", c.Dir, err)
	}
	f, err := os.OpenFile(filepath.Join(c.Dir, "notifications.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

func formatLine(ev NotificationEvent) string {
	r := ev.Reservation
	switch ev.Kind {
	case KindReminder:
		expires := "-"
		if r.ExpiresAt != nil {
			expires = r.ExpiresAt.UTC().Format(time.RFC3339)
		}
		return fmt.Sprintf("[%s] Hold expiring | code=%s | unit_id=%d | to=%q | phone=%s | deposit=%s %s | expires_at=%s\n",
			ev.OccurredAt, r.Code, r.UnitID, r.ContactName, r.ContactPhone, r.DepositAmount, r.Currency, expires)
	default:
		return fmt.Sprintf("[%s] Reservation confirmed | code=%s | unit_id=%d | to=%q | phone=%s | stay=%s..%s | total=%s %s\n",
			ev.OccurredAt, r.Code, r.UnitID, r.ContactName, r.ContactPhone, r.CheckIn, r.CheckOut, r.TotalPrice, r.Currency)
	}
}

package federation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/socialdistro/db"
	"github.com/deemkeen/socialdistro/domain"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const deliveryBatchSize = 50

// DeliveryConfig bounds the outbound worker.
type DeliveryConfig struct {
	Workers     int
	Timeout     time.Duration
	MaxAttempts int
	Backoff     time.Duration
	Poll        time.Duration
}

// errTerminal marks a delivery the peer refused with a 4xx.
var errTerminal = errors.New("rejected by peer")

// Deliverer drains the persistent delivery queue. Each queued item is an
// independent push to one inbox.
type Deliverer struct {
	store    *db.DB
	registry *Registry
	client   *http.Client
	cfg      DeliveryConfig
	wake     chan struct{}
	logger   *log.Logger
	now      func() time.Time
}

func NewDeliverer(store *db.DB, registry *Registry, cfg DeliveryConfig, logger *log.Logger) *Deliverer {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Poll <= 0 {
		cfg.Poll = 10 * time.Second
	}
	return &Deliverer{
		store:    store,
		registry: registry,
		client:   &http.Client{Timeout: cfg.Timeout},
		cfg:      cfg,
		wake:     make(chan struct{}, 1),
		logger:   logger.WithPrefix("delivery"),
		now:      time.Now,
	}
}

// Enqueue persists one push and wakes the worker.
func (d *Deliverer) Enqueue(ctx context.Context, inboxURI, host string, body []byte) error {
	now := d.now().UTC()
	item := &domain.DeliveryQueueItem{
		Id:           uuid.New(),
		InboxURI:     inboxURI,
		Host:         domain.NormalizeHost(host),
		ActivityJSON: string(body),
		NextRetryAt:  now,
		CreatedAt:    now,
	}
	if err := d.store.EnqueueDelivery(ctx, item); err != nil {
		return err
	}
	select {
	case d.wake <- struct{}{}:
	default:
	}
	return nil
}

// Run processes the queue on every poll tick and whenever something is
// enqueued, until ctx is done.
func (d *Deliverer) Run(ctx context.Context) {
	d.logger.Info("starting delivery worker", "workers", d.cfg.Workers, "poll", d.cfg.Poll)
	ticker := time.NewTicker(d.cfg.Poll)
	defer ticker.Stop()

	for {
		if _, err := d.ProcessPending(ctx); err != nil && ctx.Err() == nil {
			d.logger.Error("failed to process queue", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-d.wake:
		}
	}
}

// ProcessPending makes one pass over the due items and returns how many were
// attempted.
func (d *Deliverer) ProcessPending(ctx context.Context) (int, error) {
	items, err := d.store.ReadPendingDeliveries(ctx, d.now(), deliveryBatchSize)
	if err != nil {
		return 0, err
	}
	if len(items) == 0 {
		return 0, nil
	}
	d.logger.Debug("processing pending deliveries", "count", len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Workers)
	for i := range items {
		item := items[i]
		g.Go(func() error {
			d.handle(gctx, &item)
			return nil
		})
	}
	return len(items), g.Wait()
}

func (d *Deliverer) handle(ctx context.Context, item *domain.DeliveryQueueItem) {
	err := d.deliver(ctx, item)
	switch {
	case err == nil:
		d.logger.Debug("delivered", "inbox", item.InboxURI)
		d.remove(ctx, item)
	case isUnregistered(err):
		d.logger.Warn("skipping delivery to unregistered node", "host", item.Host, "inbox", item.InboxURI, "err", err)
		d.remove(ctx, item)
	case errors.Is(err, errTerminal):
		d.logger.Warn("delivery rejected, not retrying", "inbox", item.InboxURI, "err", err)
		d.remove(ctx, item)
	default:
		item.Attempts++
		if item.Attempts >= d.cfg.MaxAttempts {
			d.logger.Warn("giving up on delivery", "inbox", item.InboxURI, "attempt", item.Attempts, "err", err)
			d.remove(ctx, item)
			return
		}
		delay := d.cfg.Backoff << (item.Attempts - 1)
		d.logger.Info("delivery failed, will retry", "inbox", item.InboxURI, "attempt", item.Attempts, "retry_in", delay, "err", err)
		if err := d.store.UpdateDeliveryAttempt(ctx, item.Id, item.Attempts, d.now().Add(delay)); err != nil {
			d.logger.Error("failed to reschedule delivery", "id", item.Id, "err", err)
		}
	}
}

func isUnregistered(err error) bool {
	var u unregisteredError
	return errors.As(err, &u)
}

func (d *Deliverer) remove(ctx context.Context, item *domain.DeliveryQueueItem) {
	if err := d.store.DeleteDelivery(ctx, item.Id); err != nil {
		d.logger.Error("failed to remove delivery", "id", item.Id, "err", err)
	}
}

// unregisteredError wraps a registry miss so it is not retried.
type unregisteredError struct{ err error }

func (u unregisteredError) Error() string { return u.err.Error() }
func (u unregisteredError) Unwrap() error { return u.err }

func (d *Deliverer) deliver(ctx context.Context, item *domain.DeliveryQueueItem) error {
	node, err := d.registry.ResolveOutgoing(ctx, item.Host)
	if err != nil {
		if errors.Is(err, domain.ErrRemoteUnreachable) {
			return unregisteredError{err}
		}
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, item.InboxURI, bytes.NewReader([]byte(item.ActivityJSON)))
	if err != nil {
		return fmt.Errorf("%w: %v", errTerminal, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "socialdistro")
	req.SetBasicAuth(node.OutgoingUsername, node.OutgoingPassword)

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrRemoteUnreachable, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return fmt.Errorf("%w: status %d", errTerminal, resp.StatusCode)
	}
	return fmt.Errorf("%w: status %d", domain.ErrRemoteUnreachable, resp.StatusCode)
}

// Package campaign runs scheduled bulk sends. A robfig/cron entry polls the
// datastore for due campaigns; each one is claimed with a conditional status
// update and then processed in its own goroutine.
package campaign

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	robfigcron "github.com/robfig/cron/v3"

	"github.com/wagate/wagate/internal/bus"
	"github.com/wagate/wagate/internal/session"
	"github.com/wagate/wagate/internal/store"
)

// Store is the datastore surface used by the scheduler.
type Store interface {
	DueCampaigns(ctx context.Context, now time.Time) ([]store.Campaign, error)
	ClaimCampaign(ctx context.Context, id int64) (bool, error)
	UpdateCampaignStatus(ctx context.Context, id int64, status store.CampaignStatus) error
	GetTemplate(ctx context.Context, tenantID string, id int64) (*store.Template, error)
	ListContacts(ctx context.Context, tenantID string) ([]store.Contact, error)
}

// Sender delivers campaign messages through a tenant's session.
type Sender interface {
	Status(tenantID string) session.Status
	Send(ctx context.Context, tenantID, to, text string, replyToID *int64) (*session.SendResult, error)
}

// Scheduler polls for due campaigns and processes them.
type Scheduler struct {
	store    Store
	sender   Sender
	events   bus.Publisher
	interval time.Duration

	robfig *robfigcron.Cron
	wg     sync.WaitGroup

	// Overridable in tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	rand  func(n int64) int64
}

func NewScheduler(st Store, sender Sender, events bus.Publisher, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if events == nil {
		events = bus.Discard{}
	}
	return &Scheduler{
		store:    st,
		sender:   sender,
		events:   events,
		interval: interval,
		robfig: robfigcron.New(robfigcron.WithChain(
			robfigcron.SkipIfStillRunning(robfigcron.DiscardLogger),
		)),
		now:   time.Now,
		sleep: sleepCtx,
		rand:  rand.Int64N,
	}
}

// Start arms the poll entry and blocks until ctx is cancelled. In-flight
// campaigns observe the cancellation and are marked failed before Start
// returns.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.robfig.AddFunc("@every "+s.interval.String(), func() { s.Poll(ctx) }); err != nil {
		return err
	}
	s.robfig.Start()
	slog.Info("campaign: scheduler started", "interval", s.interval)

	<-ctx.Done()

	<-s.robfig.Stop().Done()
	s.wg.Wait()
	slog.Info("campaign: scheduler stopped")
	return nil
}

// Poll claims every due campaign and starts processing it. It returns the
// number of campaigns started.
func (s *Scheduler) Poll(ctx context.Context) int {
	due, err := s.store.DueCampaigns(ctx, s.now())
	if err != nil {
		slog.Error("campaign: poll failed", "err", err)
		return 0
	}

	started := 0
	for _, c := range due {
		ok, err := s.store.ClaimCampaign(ctx, c.ID)
		if err != nil {
			slog.Error("campaign: claim failed", "campaign", c.ID, "err", err)
			continue
		}
		if !ok {
			slog.Debug("campaign: already claimed", "campaign", c.ID)
			continue
		}
		c.Status = store.CampaignRunning
		slog.Info("campaign: claimed", "campaign", c.ID, "tenant", c.TenantID, "recipients", len(c.Recipients))

		started++
		s.wg.Add(1)
		go func(c store.Campaign) {
			defer s.wg.Done()
			s.Process(ctx, c)
		}(c)
	}
	return started
}

// Wait blocks until every started campaign has finished.
func (s *Scheduler) Wait() { s.wg.Wait() }

// delay draws the pause before the next recipient, uniform in [min, max].
func (s *Scheduler) delay(c store.Campaign) time.Duration {
	lo, hi := c.ThrottleMinMs, c.ThrottleMaxMs
	if lo < 0 {
		lo = 0
	}
	if hi < lo {
		hi = lo
	}
	ms := int64(lo)
	if span := int64(hi - lo + 1); span > 1 {
		ms += s.rand(span)
	}
	return time.Duration(ms) * time.Millisecond
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

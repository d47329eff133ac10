package worker_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/phishsim/internal/domain"
	"github.com/ignite/phishsim/internal/mail"
	"github.com/ignite/phishsim/internal/pkg/distlock"
	"github.com/ignite/phishsim/internal/ratelimit"
	"github.com/ignite/phishsim/internal/repository/memory"
	"github.com/ignite/phishsim/internal/service/campaign"
	"github.com/ignite/phishsim/internal/service/tracking"
	"github.com/ignite/phishsim/internal/template"
	"github.com/ignite/phishsim/internal/worker"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	store    *memory.Store
	campaign *campaign.Service
	queue    *worker.MemoryQueue
	mailer   *mail.LogMailer
	locks    *distlock.LocalLocks
	c        *domain.Campaign
}

func newFixture(t *testing.T, targets int) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		store:  memory.New(),
		queue:  worker.NewMemoryQueue(16),
		mailer: mail.NewLogMailer(),
		locks:  distlock.NewLocalLocks(),
	}
	f.campaign = campaign.NewService(f.store, f.queue, campaign.Options{ConsentRequired: true})

	tpl, err := f.campaign.CreateTemplate(ctx, campaign.TemplateInput{
		Name:        "Password reset",
		Subject:     "Action required, {{first_name}}",
		HTMLContent: `<p>Hi {{first_name}}</p><a href="{{click_url}}">Reset</a>{{tracking_pixel}}`,
	})
	require.NoError(t, err)
	c, err := f.campaign.Create(ctx, campaign.CreateInput{Name: "Q3 drill", TemplateID: tpl.ID, ConsentVerified: true})
	require.NoError(t, err)

	list := make([]domain.Target, targets)
	for i := range list {
		list[i] = domain.Target{Email: fmt.Sprintf("user%02d@example.com", i), FirstName: fmt.Sprintf("U%d", i)}
	}
	_, err = f.campaign.AttachTargets(ctx, c.ID, list)
	require.NoError(t, err)

	f.c, err = f.campaign.Launch(ctx, c.ID)
	require.NoError(t, err)
	return f
}

func (f *fixture) dispatcher(budget ratelimit.Counter, hourly int) *worker.Dispatcher {
	return f.dispatcherWithLocks(budget, hourly, f.locks.Lock, 0)
}

func (f *fixture) dispatcherWithLocks(budget ratelimit.Counter, hourly int, locks distlock.Factory, ttl time.Duration) *worker.Dispatcher {
	return worker.NewDispatcher(f.store, tracking.NewService(f.store, nil), f.mailer, budget, locks,
		worker.DispatcherConfig{
			BaseURL:      "https://phish.example.com",
			Sender:       template.Sender{Name: "IT", Email: "it@example.com", Company: "Acme"},
			HourlyBudget: hourly,
			PageSize:     3,
			LockTTL:      ttl,
		})
}

func (f *fixture) countStatus(t *testing.T, st domain.TargetStatus) int {
	t.Helper()
	n, err := f.store.CountTargets(context.Background(), f.c.ID, st)
	require.NoError(t, err)
	return n
}

func (f *fixture) status(t *testing.T) domain.CampaignStatus {
	t.Helper()
	c, err := f.store.GetCampaign(context.Background(), f.c.ID)
	require.NoError(t, err)
	return c.Status
}

func TestDispatcher_SendsEveryPendingTargetAndCompletes(t *testing.T) {
	f := newFixture(t, 4)

	res, err := f.dispatcher(nil, 0).Run(context.Background(), f.c.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Sent)
	assert.True(t, res.Completed)
	assert.Equal(t, domain.CampaignCompleted, f.status(t))
	assert.Equal(t, 4, f.countStatus(t, domain.TargetSent))

	recips, err := f.store.ListRecipients(context.Background(), f.c.ID)
	require.NoError(t, err)
	tokens := map[string]string{}
	for _, r := range recips {
		tokens[r.Target.Email] = r.Token
		assert.NotNil(t, r.SentAt)
	}
	for _, m := range f.mailer.Sent() {
		assert.Contains(t, m.HTML, template.SecurityBanner)
		assert.Contains(t, m.HTML, "https://phish.example.com/track/click/"+tokens[m.To])
		assert.True(t, strings.HasPrefix(m.Subject, "Action required, U"))
	}
}

// cancellingMailer accepts n messages, then cancels the run.
type cancellingMailer struct {
	inner  *mail.LogMailer
	n      int
	cancel context.CancelFunc
}

func (m *cancellingMailer) Send(ctx context.Context, to, subject, html string) error {
	if len(m.inner.Sent()) >= m.n {
		m.cancel()
		return ctx.Err()
	}
	return m.inner.Send(ctx, to, subject, html)
}

func TestDispatcher_ResumesAfterInterruption(t *testing.T) {
	f := newFixture(t, 10)

	ctx, cancel := context.WithCancel(context.Background())
	interrupted := worker.NewDispatcher(f.store, tracking.NewService(f.store, nil),
		&cancellingMailer{inner: f.mailer, n: 5, cancel: cancel}, nil, f.locks.Lock,
		worker.DispatcherConfig{BaseURL: "https://phish.example.com", PageSize: 3})
	_, err := interrupted.Run(ctx, f.c.ID)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 5, f.countStatus(t, domain.TargetSent))
	assert.Equal(t, 5, f.countStatus(t, domain.TargetPending))
	assert.Equal(t, domain.CampaignActive, f.status(t))

	res, err := f.dispatcher(nil, 0).Run(context.Background(), f.c.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Sent)
	assert.True(t, res.Completed)

	seen := map[string]int{}
	for _, m := range f.mailer.Sent() {
		seen[m.To]++
	}
	assert.Len(t, seen, 10)
	for to, n := range seen {
		assert.Equal(t, 1, n, "%s received %d messages", to, n)
	}
}

func TestDispatcher_WaitsOutHourlyBudget(t *testing.T) {
	f := newFixture(t, 5)
	clk := &clock{now: time.Date(2024, 5, 1, 10, 0, 15, 0, time.UTC)}
	counter := ratelimit.NewMemoryCounter().WithClock(clk.Now)

	var slept time.Duration
	d := f.dispatcher(counter, 2).WithSleep(func(_ context.Context, dur time.Duration) error {
		// default lock TTL is 10m; waits are cut into thirds of it
		assert.LessOrEqual(t, dur, 200*time.Second)
		slept += dur
		clk.Advance(dur)
		return nil
	})

	res, err := d.Run(context.Background(), f.c.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Sent)
	assert.Equal(t, 2, res.Waits)
	assert.Equal(t, 59*time.Minute+45*time.Second+time.Hour, slept)
	assert.True(t, res.Completed)
	assert.Equal(t, 0, f.countStatus(t, domain.TargetPending))
}

func TestDispatcher_BudgetWaitKeepsCampaignLock(t *testing.T) {
	f := newFixture(t, 3)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	const ttl = 10 * time.Minute
	locks := distlock.NewFactory(client, nil, ttl)
	clk := &clock{now: time.Date(2024, 5, 1, 10, 0, 15, 0, time.UTC)}
	counter := ratelimit.NewMemoryCounter().WithClock(clk.Now)

	var slept time.Duration
	stolen := 0
	d := f.dispatcherWithLocks(counter, 1, locks, ttl).WithSleep(func(ctx context.Context, dur time.Duration) error {
		assert.LessOrEqual(t, dur, ttl/3)
		slept += dur
		clk.Advance(dur)
		mr.FastForward(dur)

		ok, err := locks(distlock.CampaignKey(f.c.ID)).Acquire(ctx)
		require.NoError(t, err)
		if ok {
			stolen++
		}
		return nil
	})

	res, err := d.Run(context.Background(), f.c.ID)
	require.NoError(t, err)
	assert.Zero(t, stolen, "another run took the campaign lock during the budget wait")
	assert.Equal(t, 3, res.Sent)
	assert.Equal(t, 2, res.Waits)
	assert.True(t, res.Completed)
	assert.Equal(t, 59*time.Minute+45*time.Second+time.Hour, slept)
	assert.Equal(t, 0, f.countStatus(t, domain.TargetPending))

	// released once the run is over
	ok, err := locks(distlock.CampaignKey(f.c.ID)).Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDispatcher_StopsBeforeSendingWhenLockLost(t *testing.T) {
	f := newFixture(t, 2)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	locks := distlock.NewFactory(client, nil, time.Minute)

	f.mailer.Fail = func(string) error {
		// lease expires after the first message
		mr.FastForward(2 * time.Minute)
		return nil
	}

	res, err := f.dispatcherWithLocks(nil, 0, locks, time.Minute).Run(context.Background(), f.c.ID)
	require.ErrorIs(t, err, distlock.ErrLockLost)
	assert.Equal(t, 1, res.Sent)
	assert.Len(t, f.mailer.Sent(), 1)
	assert.Equal(t, 1, f.countStatus(t, domain.TargetPending))
}

func TestDispatcher_BounceLeavesTargetPending(t *testing.T) {
	f := newFixture(t, 3)
	f.mailer.Fail = func(to string) error {
		if to == "user01@example.com" {
			return fmt.Errorf("550 mailbox unavailable")
		}
		return nil
	}

	res, err := f.dispatcher(nil, 0).Run(context.Background(), f.c.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Sent)
	assert.Equal(t, 1, res.Failed)
	assert.False(t, res.Completed)
	assert.Equal(t, domain.CampaignActive, f.status(t))
	assert.Equal(t, 1, f.countStatus(t, domain.TargetPending))

	f.mailer.Fail = nil
	res, err = f.dispatcher(nil, 0).Run(context.Background(), f.c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
	assert.True(t, res.Completed)
}

func TestDispatcher_StopsWhenPaused(t *testing.T) {
	f := newFixture(t, 5)
	sent := 0
	f.mailer.Fail = func(string) error {
		sent++
		if sent == 2 {
			require.NoError(t, f.campaign.Pause(context.Background(), f.c.ID))
		}
		return nil
	}

	res, err := f.dispatcher(nil, 0).Run(context.Background(), f.c.ID)
	require.NoError(t, err)
	assert.True(t, res.Paused)
	assert.Equal(t, 2, res.Sent)
	assert.Equal(t, 3, f.countStatus(t, domain.TargetPending))
	assert.Equal(t, domain.CampaignPaused, f.status(t))
}

func TestDispatcher_OneRunPerCampaign(t *testing.T) {
	f := newFixture(t, 2)
	held := f.locks.Lock(distlock.CampaignKey(f.c.ID))
	ok, err := held.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.dispatcher(nil, 0).Run(context.Background(), f.c.ID)
	assert.ErrorIs(t, err, worker.ErrRunInProgress)
	assert.Empty(t, f.mailer.Sent())

	require.NoError(t, held.Release(context.Background()))
	res, err := f.dispatcher(nil, 0).Run(context.Background(), f.c.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Sent)
}

func TestPool_ConsumesLaunchJob(t *testing.T) {
	f := newFixture(t, 3)
	pool := worker.NewPool(f.queue, f.dispatcher(nil, 0), 2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	assert.Eventually(t, func() bool {
		return f.status(t) == domain.CampaignCompleted
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Len(t, f.mailer.Sent(), 3)
	assert.EqualValues(t, 1, pool.Stats()["runs"])
}

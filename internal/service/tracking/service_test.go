package tracking_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/phishsim/internal/domain"
	"github.com/ignite/phishsim/internal/pkg/token"
	"github.com/ignite/phishsim/internal/ratelimit"
	"github.com/ignite/phishsim/internal/repository/memory"
	"github.com/ignite/phishsim/internal/service/tracking"
)

type fixture struct {
	store *memory.Store
	svc   *tracking.Service
	ct    domain.CampaignTarget
}

func newFixture(t *testing.T, limiter *ratelimit.Limiter) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()

	tpl := &domain.Template{ID: "tpl-1", Name: "Reset", Subject: "Urgent: password reset", HTMLContent: "<p>Dear user</p>"}
	require.NoError(t, store.CreateTemplate(ctx, tpl))
	require.NoError(t, store.CreateCampaign(ctx, &domain.Campaign{ID: "c-1", Name: "Drill", TemplateID: tpl.ID, Status: domain.CampaignActive}))
	targets, err := store.UpsertTargets(ctx, []domain.Target{{ID: "t-1", Email: "ann@example.com", FirstName: "Ann"}})
	require.NoError(t, err)

	ct := domain.CampaignTarget{
		ID: "ct-1", CampaignID: "c-1", TargetID: targets[0].ID,
		Token: token.MustGenerate(), Status: domain.TargetPending,
	}
	_, err = store.AttachTargets(ctx, []domain.CampaignTarget{ct})
	require.NoError(t, err)

	return &fixture{store: store, svc: tracking.NewService(store, limiter), ct: ct}
}

func (f *fixture) req() tracking.Request {
	return tracking.Request{Token: f.ct.Token, IP: "203.0.113.7", UserAgent: "Mozilla/5.0", Referer: "https://mail.example.com"}
}

func (f *fixture) send(t *testing.T) {
	t.Helper()
	ok, err := f.svc.RecordSend(context.Background(), f.ct.ID, nil)
	require.NoError(t, err)
	require.True(t, ok)
}

func (f *fixture) status(t *testing.T) domain.TargetStatus {
	t.Helper()
	ct, err := f.store.ResolveToken(context.Background(), f.ct.Token)
	require.NoError(t, err)
	return ct.Status
}

func (f *fixture) count(t *testing.T, typ domain.EventType) int {
	t.Helper()
	evs, err := f.svc.History(context.Background(), f.ct.ID)
	require.NoError(t, err)
	n := 0
	for _, ev := range evs {
		if ev.EventType == typ {
			n++
		}
	}
	return n
}

func TestOpenIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	f.send(t)
	ctx := context.Background()

	first, err := f.svc.Open(ctx, f.req())
	require.NoError(t, err)
	assert.True(t, first.Recorded)
	assert.Equal(t, domain.TargetOpened, first.Target.Status)

	for i := 0; i < 4; i++ {
		res, err := f.svc.Open(ctx, f.req())
		require.NoError(t, err)
		assert.False(t, res.Recorded)
		assert.Equal(t, domain.TargetOpened, res.Target.Status)
	}

	assert.Equal(t, 1, f.count(t, domain.EventOpened))
	assert.Equal(t, domain.TargetOpened, f.status(t))
}

func TestOutOfOrderArrivalNeverRegresses(t *testing.T) {
	f := newFixture(t, nil)
	f.send(t)
	ctx := context.Background()

	_, err := f.svc.Click(ctx, f.req())
	require.NoError(t, err)
	res, err := f.svc.Open(ctx, f.req())
	require.NoError(t, err)

	assert.True(t, res.Recorded, "late open is still recorded as a fact")
	assert.Equal(t, domain.TargetClicked, res.Target.Status)
	assert.Equal(t, domain.TargetClicked, f.status(t))
}

func TestSubmitIsTerminal(t *testing.T) {
	f := newFixture(t, nil)
	f.send(t)
	ctx := context.Background()

	res, err := f.svc.Submit(ctx, f.req())
	require.NoError(t, err)
	assert.Equal(t, domain.TargetSubmitted, res.Target.Status)

	_, err = f.svc.Open(ctx, f.req())
	require.NoError(t, err)
	_, err = f.svc.Click(ctx, f.req())
	require.NoError(t, err)
	again, err := f.svc.Submit(ctx, f.req())
	require.NoError(t, err)
	assert.False(t, again.Recorded)

	assert.Equal(t, domain.TargetSubmitted, f.status(t))
	assert.Equal(t, 1, f.count(t, domain.EventSubmitted))
}

func TestSubmitWithoutSendStillTerminal(t *testing.T) {
	f := newFixture(t, nil)
	res, err := f.svc.Submit(context.Background(), f.req())
	require.NoError(t, err)
	assert.Equal(t, domain.TargetSubmitted, res.Target.Status)
}

func TestOpenWithoutSendRecordedButStatusHeld(t *testing.T) {
	f := newFixture(t, nil)
	res, err := f.svc.Open(context.Background(), f.req())
	require.NoError(t, err)
	assert.True(t, res.Recorded)
	assert.Equal(t, domain.TargetPending, res.Target.Status)

	// the later send picks the open up
	f.send(t)
	assert.Equal(t, domain.TargetOpened, f.status(t))
}

func TestSubmitMetadataHasNoFormContent(t *testing.T) {
	f := newFixture(t, nil)
	f.send(t)
	_, err := f.svc.Submit(context.Background(), f.req())
	require.NoError(t, err)

	evs, err := f.svc.History(context.Background(), f.ct.ID)
	require.NoError(t, err)
	var sub *domain.EmailEvent
	for i := range evs {
		if evs[i].EventType == domain.EventSubmitted {
			sub = &evs[i]
		}
	}
	require.NotNil(t, sub)
	assert.Equal(t, true, sub.Metadata["form_data_received"])
	assert.Equal(t, tracking.HashUserAgent("Mozilla/5.0"), sub.Metadata["user_agent_hash"])
	assert.Len(t, sub.Metadata["user_agent_hash"], 16)
	for k := range sub.Metadata {
		assert.NotContains(t, []string{"password", "username", "form"}, k)
	}
}

func TestUnknownTokenIsNotFoundForAllTriggers(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	for _, tok := range []string{token.MustGenerate(), "short", "", "../../etc/passwd"} {
		req := tracking.Request{Token: tok, IP: "198.51.100.1"}
		_, err := f.svc.Open(ctx, req)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		_, err = f.svc.Click(ctx, req)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		_, err = f.svc.Submit(ctx, req)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	}
}

func TestConcurrentDuplicatesCollapse(t *testing.T) {
	f := newFixture(t, nil)
	f.send(t)

	var wg sync.WaitGroup
	var mu sync.Mutex
	recorded := 0
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var res *tracking.Result
			var err error
			if i%2 == 0 {
				res, err = f.svc.Open(context.Background(), f.req())
			} else {
				var cr *tracking.ClickResult
				cr, err = f.svc.Click(context.Background(), f.req())
				if cr != nil {
					res = &cr.Result
				}
			}
			if err == nil && res.Recorded {
				mu.Lock()
				recorded++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 2, recorded)
	assert.Equal(t, 1, f.count(t, domain.EventOpened))
	assert.Equal(t, 1, f.count(t, domain.EventClicked))
	assert.Equal(t, domain.TargetClicked, f.status(t))
}

func TestClickReturnsIndicators(t *testing.T) {
	f := newFixture(t, nil)
	f.send(t)

	res, err := f.svc.Click(context.Background(), f.req())
	require.NoError(t, err)
	require.NotNil(t, res.Enrollment)
	assert.Equal(t, "Drill", res.Enrollment.Campaign.Name)
	assert.Equal(t, "Ann", res.Enrollment.Target.FirstName)

	types := map[string]bool{}
	for _, ind := range res.Indicators {
		types[ind.Type] = true
	}
	assert.True(t, types["Urgency"])
	assert.True(t, types["Generic Greeting"])
}

func TestRateLimitedTriggerMutatesNothing(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	counter := ratelimit.NewMemoryCounter().WithClock(func() time.Time { return now })
	limiter := ratelimit.NewLimiter(counter, "track", map[string]ratelimit.Policy{
		"open": {Limit: 1, Window: time.Minute},
	})
	f := newFixture(t, limiter)
	f.send(t)
	ctx := context.Background()

	// burn the budget for this client on a duplicate-free open
	_, err := f.svc.Open(ctx, f.req())
	require.NoError(t, err)

	_, err = f.svc.Open(ctx, f.req())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrRateLimited))
	var rl *tracking.RateLimitError
	require.True(t, errors.As(err, &rl))
	assert.Equal(t, time.Minute, rl.RetryAfter)

	// other clients keep their own budget
	other := f.req()
	other.IP = "192.0.2.99"
	_, err = f.svc.Open(ctx, other)
	assert.NoError(t, err)

	assert.Equal(t, 1, f.count(t, domain.EventOpened))
}

func TestRecordSendOnlyOnce(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	ok, err := f.svc.RecordSend(ctx, f.ct.ID, map[string]any{"campaign_name": "Drill"})
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = f.svc.RecordSend(ctx, f.ct.ID, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, 1, f.count(t, domain.EventSent))
	ct, err := f.store.ResolveToken(ctx, f.ct.Token)
	require.NoError(t, err)
	assert.Equal(t, domain.TargetSent, ct.Status)
	assert.NotNil(t, ct.SentAt)
}

func TestRecordBounceKeepsPending(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.svc.RecordBounce(ctx, f.ct.ID, "mailbox unavailable"))
	require.NoError(t, f.svc.RecordBounce(ctx, f.ct.ID, "mailbox unavailable"))

	assert.Equal(t, domain.TargetPending, f.status(t))
	assert.Equal(t, 1, f.count(t, domain.EventBounced))
}

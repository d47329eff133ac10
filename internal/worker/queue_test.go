package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/phishsim/internal/domain"
)

func TestMemoryQueue_FIFOAndCancel(t *testing.T) {
	q := NewMemoryQueue(4)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, domain.DispatchJob{CampaignID: "a"}))
	require.NoError(t, q.Enqueue(ctx, domain.DispatchJob{CampaignID: "b"}))

	d, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", d.Job.CampaignID)
	d, err = q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", d.Job.CampaignID)

	cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = q.Dequeue(cctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func newRedisQueue(t *testing.T) (*RedisQueue, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisQueue(client), client
}

func TestRedisQueue_AckRemovesFromProcessing(t *testing.T) {
	q, client := newRedisQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, domain.DispatchJob{CampaignID: "c-1", Reason: "launch"}))
	require.NoError(t, q.Enqueue(ctx, domain.DispatchJob{CampaignID: "c-2", Reason: "launch"}))

	d, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "c-1", d.Job.CampaignID)
	assert.EqualValues(t, 1, client.LLen(ctx, redisProcessingKey).Val())

	require.NoError(t, d.Ack(ctx))
	assert.EqualValues(t, 0, client.LLen(ctx, redisProcessingKey).Val())
	assert.EqualValues(t, 1, client.LLen(ctx, redisQueueKey).Val())
}

func TestRedisQueue_RecoverRedeliversUnacked(t *testing.T) {
	q, _ := newRedisQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, domain.DispatchJob{CampaignID: "c-1"}))
	_, err := q.Dequeue(ctx) // worker dies before Ack
	require.NoError(t, err)

	n, err := q.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	d, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "c-1", d.Job.CampaignID)
}

type fakeSQS struct {
	mu       sync.Mutex
	bodies   []string
	deleted  []string
	received int
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies = append(f.bodies, aws.ToString(in.MessageBody))
	return &sqs.SendMessageOutput{MessageId: aws.String("m")}, nil
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, _ *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(f.bodies) == 0 {
		return &sqs.ReceiveMessageOutput{}, nil
	}
	body := f.bodies[0]
	f.bodies = f.bodies[1:]
	f.received++
	return &sqs.ReceiveMessageOutput{Messages: []sqstypes.Message{{
		Body:          aws.String(body),
		ReceiptHandle: aws.String("rh-" + body[:5]),
	}}}, nil
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func TestSQSQueue_RoundTripAndAck(t *testing.T) {
	api := &fakeSQS{}
	q := newSQSQueue(api, "https://sqs.us-east-1.amazonaws.com/123/dispatch")
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, domain.DispatchJob{CampaignID: "c-9", Reason: "resume"}))
	d, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "c-9", d.Job.CampaignID)
	assert.Equal(t, "resume", d.Job.Reason)

	require.NoError(t, d.Ack(ctx))
	assert.Len(t, api.deleted, 1)
}

func TestSQSQueue_DequeueHonoursCancel(t *testing.T) {
	q := newSQSQueue(&fakeSQS{}, "q")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Dequeue(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
}

type stubRunner struct {
	mu    sync.Mutex
	calls int
	errs  []error
}

func (r *stubRunner) Run(context.Context, string) (*domain.DispatchResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if len(r.errs) == 0 {
		return &domain.DispatchResult{}, nil
	}
	err := r.errs[0]
	r.errs = r.errs[1:]
	return &domain.DispatchResult{}, err
}

func TestPool_RequeuesLockedCampaign(t *testing.T) {
	q := NewMemoryQueue(4)
	runner := &stubRunner{errs: []error{ErrRunInProgress}}
	p := NewPool(q, runner, 1).WithRetryDelay(time.Millisecond)

	ctx := context.Background()
	d := &Delivery{Job: domain.DispatchJob{CampaignID: "c-1", Reason: "resume"}, Ack: func(context.Context) error { return nil }}
	p.handle(ctx, 0, d)

	again, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "retry", again.Job.Reason)
	assert.Equal(t, 1, again.Job.Attempt)
}

func TestPool_DropsAfterMaxAttempts(t *testing.T) {
	q := NewMemoryQueue(4)
	p := NewPool(q, &stubRunner{errs: []error{ErrRunInProgress}}, 1).WithRetryDelay(time.Millisecond)

	d := &Delivery{Job: domain.DispatchJob{CampaignID: "c-1", Attempt: defaultMaxAttempts - 1}, Ack: func(context.Context) error { return nil }}
	p.handle(context.Background(), 0, d)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := q.Dequeue(ctx)
	assert.Error(t, err)
}

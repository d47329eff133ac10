package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/phishsim/internal/domain"
)

// Queue carries dispatch jobs from the API to the worker pool. It satisfies
// campaign.Enqueuer.
type Queue interface {
	Enqueue(ctx context.Context, job domain.DispatchJob) error
	// Dequeue blocks until a job is available or ctx is done.
	Dequeue(ctx context.Context) (*Delivery, error)
}

// Delivery is one received job. Ack removes it for good; an unacked job is
// redelivered (Redis: after Recover; SQS: after the visibility timeout).
type Delivery struct {
	Job domain.DispatchJob
	Ack func(ctx context.Context) error
}

// ---- in-process ----

// MemoryQueue is a buffered channel. Jobs do not survive a restart.
type MemoryQueue struct {
	ch chan domain.DispatchJob
}

// NewMemoryQueue creates a queue holding up to size pending jobs.
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{ch: make(chan domain.DispatchJob, size)}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job domain.DispatchJob) error {
	select {
	case q.ch <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (*Delivery, error) {
	select {
	case job := <-q.ch:
		return &Delivery{Job: job, Ack: func(context.Context) error { return nil }}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ---- Redis ----

const (
	redisQueueKey      = "phishsim:dispatch:queue"
	redisProcessingKey = "phishsim:dispatch:processing"
	redisBlockTimeout  = 5 * time.Second
)

// RedisQueue is a reliable list: BLMOVE parks a job in a processing list
// and Ack removes it from there.
type RedisQueue struct {
	client *redis.Client
}

// NewRedisQueue creates a queue on client.
func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client}
}

func (q *RedisQueue) Enqueue(ctx context.Context, job domain.DispatchJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	if err := q.client.LPush(ctx, redisQueueKey, payload).Err(); err != nil {
		return fmt.Errorf("enqueue dispatch job: %w", err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (*Delivery, error) {
	for {
		payload, err := q.client.BLMove(ctx, redisQueueKey, redisProcessingKey, "RIGHT", "LEFT", redisBlockTimeout).Result()
		if errors.Is(err, redis.Nil) {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("dequeue dispatch job: %w", err)
		}

		var job domain.DispatchJob
		if err := json.Unmarshal([]byte(payload), &job); err != nil {
			// poison message; drop it so it cannot block the list
			q.client.LRem(ctx, redisProcessingKey, 1, payload)
			return nil, fmt.Errorf("decode dispatch job: %w", err)
		}
		return &Delivery{
			Job: job,
			Ack: func(ctx context.Context) error {
				return q.client.LRem(ctx, redisProcessingKey, 1, payload).Err()
			},
		}, nil
	}
}

// Recover moves jobs left in the processing list by a crashed worker back
// to the queue. Call it once at startup, before consuming.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	n := 0
	for {
		err := q.client.LMove(ctx, redisProcessingKey, redisQueueKey, "RIGHT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("recover dispatch jobs: %w", err)
		}
		n++
	}
}

// ---- SQS ----

type sqsAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSQueue long-polls an SQS queue. Unacked messages reappear after the
// queue's visibility timeout.
type SQSQueue struct {
	client   sqsAPI
	queueURL string
	wait     int32
}

// NewSQSQueue creates a queue on queueURL.
func NewSQSQueue(client *sqs.Client, queueURL string) *SQSQueue {
	return newSQSQueue(client, queueURL)
}

func newSQSQueue(client sqsAPI, queueURL string) *SQSQueue {
	return &SQSQueue{client: client, queueURL: queueURL, wait: 20}
}

func (q *SQSQueue) Enqueue(ctx context.Context, job domain.DispatchJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(payload)),
	})
	if err != nil {
		return fmt.Errorf("enqueue dispatch job: %w", err)
	}
	return nil
}

func (q *SQSQueue) Dequeue(ctx context.Context) (*Delivery, error) {
	for {
		out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(q.queueURL),
			MaxNumberOfMessages: 1,
			WaitTimeSeconds:     q.wait,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("receive dispatch job: %w", err)
		}
		if len(out.Messages) == 0 {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}

		msg := out.Messages[0]
		handle := msg.ReceiptHandle
		ack := func(ctx context.Context) error {
			_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
				QueueUrl:      aws.String(q.queueURL),
				ReceiptHandle: handle,
			})
			return err
		}

		var job domain.DispatchJob
		if err := json.Unmarshal([]byte(aws.ToString(msg.Body)), &job); err != nil {
			_ = ack(ctx)
			return nil, fmt.Errorf("decode dispatch job: %w", err)
		}
		return &Delivery{Job: job, Ack: ack}, nil
	}
}

package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// TypeOTPEmail is the asynq task type for one-time code mail.
const TypeOTPEmail = "gatekeeper:otp_email"

// Queue is the asynq queue OTP mail is enqueued on.
const Queue = "auth"

// OTPEmailPayload is the task body.
type OTPEmailPayload struct {
	Email     string    `json:"email"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewOTPEmailTask builds the task. Its deadline is the code's expiry: a code
// delivered after it can no longer be used.
func NewOTPEmailTask(email, code string, expiresAt time.Time) (*asynq.Task, []asynq.Option, error) {
	if email == "" || code == "" {
		return nil, nil, errors.New("email and code are required")
	}
	b, err := json.Marshal(OTPEmailPayload{Email: email, Code: code, ExpiresAt: expiresAt})
	if err != nil {
		return nil, nil, err
	}
	task := asynq.NewTask(TypeOTPEmail, b)
	opts := []asynq.Option{
		asynq.Queue(Queue),
		asynq.MaxRetry(3),
		asynq.Deadline(expiresAt),
	}
	return task, opts, nil
}

// Enqueuer is the subset of *asynq.Client the sender needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// AsynqSender implements gatekeeper.EmailSender by enqueueing a task.
type AsynqSender struct {
	client Enqueuer
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger
}

// NewAsynqSender returns a sender whose tasks expire after ttl, which should
// match the code lifetime.
func NewAsynqSender(client Enqueuer, ttl time.Duration, logger *zap.Logger) *AsynqSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AsynqSender{client: client, ttl: ttl, now: time.Now, logger: logger.Named("notify")}
}

func (s *AsynqSender) SendOTP(ctx context.Context, email, code string) error {
	task, opts, err := NewOTPEmailTask(email, code, s.now().Add(s.ttl))
	if err != nil {
		return err
	}
	info, err := s.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		return fmt.Errorf("enqueue otp email: %w", err)
	}
	s.logger.Debug("otp email enqueued", zap.String("task_id", info.ID), zap.String("queue", info.Queue))
	return nil
}

// Mailer sends the actual message.
type Mailer interface {
	SendOTP(ctx context.Context, email, code string) error
}

// NewOTPEmailHandler returns the worker handler. Malformed and expired payloads
// are not retried.
func NewOTPEmailHandler(mailer Mailer, logger *zap.Logger) asynq.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("notify")
	return func(ctx context.Context, task *asynq.Task) error {
		var p OTPEmailPayload
		if err := json.Unmarshal(task.Payload(), &p); err != nil {
			logger.Error("invalid otp email payload", zap.Error(err))
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		if !p.ExpiresAt.IsZero() && time.Now().After(p.ExpiresAt) {
			logger.Info("otp email expired before delivery", zap.String("email", MaskEmail(p.Email)))
			return nil
		}
		if err := mailer.SendOTP(ctx, p.Email, p.Code); err != nil {
			logger.Warn("otp email delivery failed", zap.String("email", MaskEmail(p.Email)), zap.Error(err))
			return err
		}
		return nil
	}
}

// NewServeMux registers the OTP handler.
func NewServeMux(mailer Mailer, logger *zap.Logger) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeOTPEmail, NewOTPEmailHandler(mailer, logger))
	return mux
}

// NewServer returns a worker server consuming Queue.
func NewServer(opt asynq.RedisConnOpt, concurrency int) *asynq.Server {
	if concurrency <= 0 {
		concurrency = 5
	}
	return asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{Queue: 1},
	})
}

// LogMailer logs deliveries instead of sending them. The code itself is never
// logged.
type LogMailer struct {
	logger *zap.Logger
}

func NewLogMailer(logger *zap.Logger) *LogMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogMailer{logger: logger.Named("mailer")}
}

func (m *LogMailer) SendOTP(_ context.Context, email, code string) error {
	m.logger.Info("one-time code mail", zap.String("email", MaskEmail(email)), zap.Int("code_len", len(code)))
	return nil
}

// MaskEmail keeps the first character of the local part and the domain.
func MaskEmail(email string) string {
	at := strings.LastIndexByte(email, '@')
	if at <= 0 {
		return "***"
	}
	return email[:1] + "***" + email[at:]
}

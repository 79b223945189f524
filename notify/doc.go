// Package notify delivers one-time codes by email through an asynq queue.
//
// The engine side enqueues with [AsynqSender]; a worker process runs the
// handler from [NewServeMux] against a [Mailer].
package notify

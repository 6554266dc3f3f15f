// Package services holds the application logic of the gateway: webhook
// ingestion, the conversation orchestrator and history reads.
//
// This file centralizes the service-level error values. Callers check them
// with errors.Is; translation into HTTP statuses happens in the handler layer.
package services

import "errors"

// Ingress errors. These are rejected synchronously and never retried.
var (
	// ErrVerification is returned when the subscription handshake does not
	// match the configured verify token.
	ErrVerification = errors.New("webhook verification failed")

	// ErrSignature is returned when the X-Hub-Signature-256 header is missing
	// or does not match the payload.
	ErrSignature = errors.New("invalid payload signature")

	// ErrParse is returned when the webhook body is not valid JSON.
	ErrParse = errors.New("malformed webhook payload")

	// ErrEnqueue wraps a failure to hand an accepted message to the queue.
	ErrEnqueue = errors.New("enqueue failed")
)

// Conversation errors. In the asynchronous path they end the job; in the
// synchronous path they degrade to ErrorMessage.
var (
	// ErrClassification wraps a failure of the guardrail classifier.
	ErrClassification = errors.New("classification failed")

	// ErrReasoning wraps a runtime failure of the reasoning agent.
	ErrReasoning = errors.New("reasoning failed")

	// ErrPersistence wraps a store failure while loading or saving history.
	ErrPersistence = errors.New("persistence failed")

	// ErrEmptyQuery is returned when the current user turn is blank.
	ErrEmptyQuery = errors.New("query is empty")

	// ErrUserNotFound indicates that no user exists for a channel identifier.
	ErrUserNotFound = errors.New("user not found")
)

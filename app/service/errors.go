package service

import "errors"

var (
	ErrInvalidRequest  = errors.New("invalid request")
	ErrOrderNotFound   = errors.New("order not found")
	ErrWebhookRejected = errors.New("webhook rejected")
	ErrRateLimited     = errors.New("rate limited")
)

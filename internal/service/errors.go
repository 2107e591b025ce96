package service

import "errors"

var (
	ErrIntegrationNotFound     = errors.New("integration not found")
	ErrIntegrationNotConnected = errors.New("integration is not connected")
	ErrWebhooksUnsupported     = errors.New("provider does not support webhooks")
	ErrInvalidRange            = errors.New("from must not be after to")
	ErrInvalidPreferences      = errors.New("invalid sync preferences")
)

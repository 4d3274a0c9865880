// Package mailer is the notification boundary. Template rendering and actual
// delivery live outside this service; the worker only hands over the facts.
package mailer

import (
	"context"

	"github.com/rs/zerolog"
)

type Mailer interface {
	SendDownloadReady(ctx context.Context, recipient, downloadURL string) error
}

// LogMailer records the notification instead of sending it. Default when no
// delivery service is configured.
type LogMailer struct {
	Log zerolog.Logger
}

func (m LogMailer) SendDownloadReady(ctx context.Context, recipient, downloadURL string) error {
	m.Log.Info().Str("recipient", recipient).Str("url", downloadURL).Msg("download ready")
	return nil
}

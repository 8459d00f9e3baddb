package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/soundspan/soundspan/internal/logger"
)

// Sender delivers notifications once the policy has allowed them.
type Sender interface {
	NotifyDownloadComplete(ctx context.Context, userID, subject, albumMBID, artistMBID string) error
	NotifyDownloadFailed(ctx context.Context, userID, subject, reason string) error
}

// WebhookSender posts notification payloads to a configured endpoint.
type WebhookSender struct {
	URL    string
	Client *http.Client
}

func NewWebhookSender(url string) *WebhookSender {
	return &WebhookSender{
		URL:    url,
		Client: &http.Client{Timeout: 10 * time.Second},
	}
}

type webhookPayload struct {
	Event      string `json:"event"`
	UserID     string `json:"userId"`
	Subject    string `json:"subject"`
	AlbumMBID  string `json:"albumMbid,omitempty"`
	ArtistMBID string `json:"artistMbid,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

func (s *WebhookSender) NotifyDownloadComplete(ctx context.Context, userID, subject, albumMBID, artistMBID string) error {
	return s.send(ctx, webhookPayload{
		Event:      string(TypeDownloadComplete),
		UserID:     userID,
		Subject:    subject,
		AlbumMBID:  albumMBID,
		ArtistMBID: artistMBID,
	})
}

func (s *WebhookSender) NotifyDownloadFailed(ctx context.Context, userID, subject, reason string) error {
	return s.send(ctx, webhookPayload{
		Event:   string(TypeDownloadFailed),
		UserID:  userID,
		Subject: subject,
		Reason:  reason,
	})
}

func (s *WebhookSender) send(ctx context.Context, payload webhookPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("notification send failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("notification rejected: %s", resp.Status)
	}
	return nil
}

// LogSender writes notifications to the log. Used when no webhook URL is
// configured.
type LogSender struct {
	Logger *logger.Logger
}

func NewLogSender(log *logger.Logger) *LogSender {
	return &LogSender{Logger: log.WithComponent("notify")}
}

func (s *LogSender) NotifyDownloadComplete(ctx context.Context, userID, subject, albumMBID, artistMBID string) error {
	s.Logger.Info("Download complete", "user_id", userID, "subject", subject, "album_mbid", albumMBID)
	return nil
}

func (s *LogSender) NotifyDownloadFailed(ctx context.Context, userID, subject, reason string) error {
	s.Logger.Info("Download failed", "user_id", userID, "subject", subject, "reason", reason)
	return nil
}

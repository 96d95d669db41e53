package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

var levelColors = map[Level]int{
	LevelInfo:  0x3498db,
	LevelTrade: 0x2ecc71,
	LevelError: 0xe74c3c,
}

// Discord posts embeds to a Discord webhook.
type Discord struct {
	webhookURL string
	client     *http.Client
}

// NewDiscord returns a Discord notifier for the webhook URL.
func NewDiscord(webhookURL string) *Discord {
	return &Discord{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *Discord) Notify(ctx context.Context, msg Message) error {
	title := msg.Title
	if msg.Channel != "" {
		title = fmt.Sprintf("[%s] %s", msg.Channel, title)
	}
	payload := map[string]interface{}{
		"embeds": []map[string]interface{}{
			{
				"title":       title,
				"description": msg.Text,
				"color":       levelColors[msg.Level],
				"footer":      map[string]string{"text": "quantsim"},
				"timestamp":   time.Now().Format(time.RFC3339),
			},
		},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal discord payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting discord webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("discord returned status: %d", resp.StatusCode)
	}
	return nil
}

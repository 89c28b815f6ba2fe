package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/pranavkale/lekha/internal/model"
)

type Client struct {
	serverToken string
	fromEmail   string
	baseURL     string
	httpClient  *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

func NewClient(serverToken, fromEmail, baseURL string, opts ...Option) *Client {
	c := &Client{
		serverToken: serverToken,
		fromEmail:   fromEmail,
		baseURL:     baseURL,
		httpClient:  http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured returns true if the server token is set.
func (c *Client) Configured() bool {
	return c.serverToken != ""
}

type postmarkEmail struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	HtmlBody string `json:"HtmlBody"`
	TextBody string `json:"TextBody"`
}

// SendRewardNotification emails the referrer about a reward lifecycle change.
// The template selects subject and wording; unknown templates fall back to a
// generic update.
func (c *Client) SendRewardNotification(toEmail, template string, event *model.RewardEvent) error {
	if !c.Configured() {
		return fmt.Errorf("notify client not configured: missing server token")
	}

	amount := formatAmount(event.Amount, event.Currency)

	var subject, body string
	switch template {
	case "reward_created":
		subject = "You earned a referral reward"
		body = fmt.Sprintf("A referral reward of %s is pending on your account.", amount)
	case "reward_confirmed":
		subject = "Your referral reward is confirmed"
		body = fmt.Sprintf("Your referral reward of %s has been confirmed and will be paid out.", amount)
	case "reward_reversed":
		subject = "A referral reward was reversed"
		body = fmt.Sprintf("Your referral reward of %s was reversed.", amount)
	case "reward_paid":
		subject = "Your referral reward was paid"
		body = fmt.Sprintf("Your referral reward of %s has been paid out.", amount)
	default:
		subject = "Referral reward update"
		body = fmt.Sprintf("Your referral reward of %s is now %s.", amount, event.Status)
	}

	link := fmt.Sprintf("%s/rewards/%s", c.baseURL, event.ID)
	textBody := fmt.Sprintf("%s\n\nView the reward:\n%s", body, link)
	htmlBody := fmt.Sprintf(`<p>%s</p><p><a href="%s">View the reward</a></p>`, body, link)

	payload := postmarkEmail{
		From:     c.fromEmail,
		To:       toEmail,
		Subject:  subject,
		HtmlBody: htmlBody,
		TextBody: textBody,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	req, err := http.NewRequest("POST", "https://api.postmarkapp.com/email", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Postmark-Server-Token", c.serverToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("postmark API error: status %d", resp.StatusCode)
	}

	return nil
}

// formatAmount renders minor units as a major-unit string, e.g. 500 INR paise
// as "5.00 INR".
func formatAmount(minor int64, currency string) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, minor/100, minor%100, currency)
}

// Package whatsapp sends replies through the WhatsApp Cloud (Graph) API.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrDelivery marks every failed send, whether the upstream rejected the
// message or could not be reached.
var ErrDelivery = errors.New("whatsapp delivery failed")

// DeliveryError carries the upstream status and body of a rejected send.
type DeliveryError struct {
	StatusCode int
	Body       string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("whatsapp delivery failed: status %d: %s", e.StatusCode, e.Body)
}

// Is lets errors.Is(err, ErrDelivery) match a *DeliveryError.
func (e *DeliveryError) Is(target error) bool { return target == ErrDelivery }

// Config holds the Graph API coordinates of the sending phone number.
type Config struct {
	BaseURL       string
	AccessToken   string
	PhoneNumberID string
	Timeout       time.Duration
}

// Client is a thin Graph API client. It is safe for concurrent use.
type Client struct {
	http          *resty.Client
	phoneNumberID string
}

// New builds a Client. The resty client is shared by all sends.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rc := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetAuthToken(cfg.AccessToken).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)
	return &Client{http: rc, phoneNumberID: cfg.PhoneNumberID}
}

type textBody struct {
	Body string `json:"body"`
}

type sendRequest struct {
	MessagingProduct string   `json:"messaging_product"`
	RecipientType    string   `json:"recipient_type,omitempty"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             textBody `json:"text"`
}

// SendResponse is the accepted-message acknowledgment from the Graph API.
type SendResponse struct {
	MessagingProduct string `json:"messaging_product"`
	Contacts         []struct {
		Input string `json:"input"`
		WaID  string `json:"wa_id"`
	} `json:"contacts"`
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// MessageID returns the wamid of the first accepted message, if any.
func (r SendResponse) MessageID() string {
	if len(r.Messages) == 0 {
		return ""
	}
	return r.Messages[0].ID
}

// SendText delivers body to the recipient identified by to.
func (c *Client) SendText(ctx context.Context, to, body string) (SendResponse, error) {
	var out SendResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("phoneNumberID", c.phoneNumberID).
		SetBody(sendRequest{
			MessagingProduct: "whatsapp",
			RecipientType:    "individual",
			To:               to,
			Type:             "text",
			Text:             textBody{Body: body},
		}).
		SetResult(&out).
		Post("/{phoneNumberID}/messages")
	if err != nil {
		return SendResponse{}, fmt.Errorf("%w: %w", ErrDelivery, err)
	}
	if resp.IsError() {
		return SendResponse{}, &DeliveryError{StatusCode: resp.StatusCode(), Body: resp.String()}
	}
	return out, nil
}

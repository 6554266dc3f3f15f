package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/unicode/norm"

	"github.com/tbourn/table-booking-gateway/internal/queue"
)

// SignatureHeader carries the payload HMAC sent by the channel provider.
const SignatureHeader = "X-Hub-Signature-256"

const signaturePrefix = "sha256="

// SignatureMode records whether inbound payload signatures are enforced.
type SignatureMode int

const (
	// SignatureRequired rejects any payload whose HMAC does not match.
	SignatureRequired SignatureMode = iota
	// SignatureCheckDisabled accepts unsigned payloads. It is selected only
	// when no app secret is configured and is logged on every request.
	SignatureCheckDisabled
)

func (m SignatureMode) String() string {
	if m == SignatureCheckDisabled {
		return "disabled"
	}
	return "required"
}

// Enqueuer is the slice of queue.Queue the ingress path needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, from, text string) (queue.Handle, error)
}

// WebhookService validates, parses and enqueues inbound channel events. It
// never calls the classifier, the agent or the outbound sender, so the
// provider always gets a fast acknowledgment.
type WebhookService struct {
	verifyToken string
	appSecret   []byte
	mode        SignatureMode
	queue       Enqueuer
}

// NewWebhookService builds the ingress service. An empty appSecret switches
// signature checking off.
func NewWebhookService(verifyToken, appSecret string, q Enqueuer) *WebhookService {
	s := &WebhookService{
		verifyToken: verifyToken,
		appSecret:   []byte(appSecret),
		queue:       q,
	}
	if appSecret == "" {
		s.mode = SignatureCheckDisabled
		log.Warn().Msg("APP_SECRET not set: webhook signature verification is DISABLED")
	}
	return s
}

// Mode reports the signature enforcement state.
func (s *WebhookService) Mode() SignatureMode { return s.mode }

// Verify answers the subscription handshake. It returns challenge unchanged
// when mode is "subscribe" and token matches the configured verify token.
func (s *WebhookService) Verify(mode, token, challenge string) (string, error) {
	if mode != "subscribe" || s.verifyToken == "" ||
		subtle.ConstantTimeCompare([]byte(token), []byte(s.verifyToken)) != 1 {
		return "", ErrVerification
	}
	return challenge, nil
}

// ReceiveResult summarizes what one webhook delivery produced.
type ReceiveResult struct {
	Enqueued []queue.Handle
	Statuses int
}

// envelope mirrors the subset of the provider payload the gateway reads.
type envelope struct {
	Entry []struct {
		ID      string `json:"id"`
		Changes []struct {
			Field string `json:"field"`
			Value struct {
				Messages []inboundMessage `json:"messages"`
				Statuses []statusUpdate   `json:"statuses"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type inboundMessage struct {
	From string `json:"from"`
	ID   string `json:"id"`
	Type string `json:"type"`
	Text *struct {
		Body string `json:"body"`
	} `json:"text"`
}

type statusUpdate struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	RecipientID string `json:"recipient_id"`
}

// Receive checks the signature of rawBody, parses the envelope and enqueues
// one job per change carrying a text message. Only the first message of a
// change is considered. Status callbacks are logged and otherwise ignored.
func (s *WebhookService) Receive(ctx context.Context, rawBody []byte, signature string) (ReceiveResult, error) {
	var res ReceiveResult

	if err := s.checkSignature(rawBody, signature); err != nil {
		log.Warn().Str("signature_mode", s.mode.String()).Msg("invalid webhook signature")
		return res, err
	}

	var env envelope
	if err := json.Unmarshal(rawBody, &env); err != nil {
		return res, fmt.Errorf("%w: %v", ErrParse, err)
	}

	for _, entry := range env.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}
			v := change.Value
			switch {
			case len(v.Messages) > 0:
				from, text, ok := extractText(v.Messages[0])
				if !ok {
					continue
				}
				h, err := s.queue.Enqueue(ctx, from, text)
				if err != nil {
					return res, fmt.Errorf("%w: %w", ErrEnqueue, err)
				}
				log.Info().
					Str("from", from).
					Str("job_id", h.ID).
					Str("wamid", v.Messages[0].ID).
					Msg("inbound message enqueued")
				res.Enqueued = append(res.Enqueued, h)
			case len(v.Statuses) > 0:
				for _, st := range v.Statuses {
					log.Info().
						Str("status", st.Status).
						Str("wamid", st.ID).
						Str("recipient", st.RecipientID).
						Msg("message status update")
					res.Statuses++
				}
			}
		}
	}
	return res, nil
}

func (s *WebhookService) checkSignature(body []byte, header string) error {
	if s.mode == SignatureCheckDisabled {
		log.Warn().Msg("accepting webhook without signature check")
		return nil
	}
	if !strings.HasPrefix(header, signaturePrefix) {
		return ErrSignature
	}
	got, err := hex.DecodeString(strings.TrimPrefix(header, signaturePrefix))
	if err != nil {
		return ErrSignature
	}
	if !hmac.Equal(got, Sign(s.appSecret, body)) {
		return ErrSignature
	}
	return nil
}

// Sign returns the raw HMAC-SHA256 of body under secret.
func Sign(secret, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return mac.Sum(nil)
}

// SignatureFor formats the header value a provider would send for body.
func SignatureFor(secret, body []byte) string {
	return signaturePrefix + hex.EncodeToString(Sign(secret, body))
}

// extractText returns the sender and NFC-normalized body of a text message.
// Non-text messages and blank bodies are not actionable.
func extractText(m inboundMessage) (from, text string, ok bool) {
	if m.Type != "text" || m.Text == nil {
		return "", "", false
	}
	text = strings.TrimSpace(norm.NFC.String(m.Text.Body))
	from = strings.TrimSpace(m.From)
	if text == "" || from == "" {
		return "", "", false
	}
	return from, text, true
}

// Webhook HTTP handlers.
//
// The provider expects a fast 200 for every accepted delivery, so the POST
// handler only authenticates, parses and enqueues. Replies are produced by
// the background workers.
package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/table-booking-gateway/internal/http/middleware"
	"github.com/tbourn/table-booking-gateway/internal/services"
)

// VerifyWebhook godoc
// @ID          verifyWebhook
// @Summary     Webhook subscription handshake
// @Description Echoes hub.challenge when hub.mode is "subscribe" and hub.verify_token matches.
// @Tags        Webhook
// @Produce     plain
//
// @Param       hub.mode          query  string  true  "Must be subscribe"  example(subscribe)
// @Param       hub.verify_token  query  string  true  "Shared verify token"
// @Param       hub.challenge     query  string  true  "Value to echo"      example(1158201444)
//
// @Success     200  {string}  string                  "The challenge"
// @Failure     403  {object}  handlers.ErrorResponse  "Verification failed"
// @Router      /webhook [get]
func (h *Handlers) VerifyWebhook(c *gin.Context) {
	challenge, err := h.webhookSvc.Verify(
		c.Query("hub.mode"),
		c.Query("hub.verify_token"),
		c.Query("hub.challenge"),
	)
	if err != nil {
		fail(c, http.StatusForbidden, ErrCodeForbidden, "verification failed")
		return
	}
	c.String(http.StatusOK, challenge)
}

// ReceiveWebhook godoc
// @ID          receiveWebhook
// @Summary     Receive channel events
// @Description Verifies X-Hub-Signature-256 over the raw body, then enqueues each text message for asynchronous processing.
// @Tags        Webhook
// @Accept      json
// @Produce     plain
//
// @Param       X-Hub-Signature-256  header  string  false  "sha256=<hex HMAC of the body>"
//
// @Success     200  {string}  string                  "OK"
// @Failure     400  {object}  handlers.ErrorResponse  "Malformed payload"
// @Failure     403  {object}  handlers.ErrorResponse  "Invalid signature"
// @Failure     500  {object}  handlers.ErrorResponse  "Enqueue failed"
// @Router      /webhook [post]
func (h *Handlers) ReceiveWebhook(c *gin.Context) {
	// The signature covers the exact bytes sent, so the body is read raw.
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unreadable body")
		return
	}

	res, err := h.webhookSvc.Receive(c.Request.Context(), body, c.GetHeader(services.SignatureHeader))
	switch {
	case err == nil:
	case errors.Is(err, services.ErrSignature):
		fail(c, http.StatusForbidden, ErrCodeForbidden, "invalid signature")
		return
	case errors.Is(err, services.ErrParse):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "malformed payload")
		return
	case errors.Is(err, services.ErrEnqueue):
		failErr(c, http.StatusInternalServerError, ErrCodeEnqueueFailed, "could not queue message", err)
		return
	default:
		failErr(c, http.StatusInternalServerError, ErrCodeInternal, "internal error", err)
		return
	}

	if len(res.Enqueued) > 0 || res.Statuses > 0 {
		middleware.LoggerFrom(c).Debug().
			Int("enqueued", len(res.Enqueued)).
			Int("statuses", res.Statuses).
			Msg("webhook accepted")
	}
	c.String(http.StatusOK, "OK")
}

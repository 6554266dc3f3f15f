package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/table-booking-gateway/internal/domain"
	"github.com/tbourn/table-booking-gateway/internal/services"
	"github.com/tbourn/table-booking-gateway/internal/utils"
)

// ListMessagesResponse contains a page of messages and pagination metadata.
type ListMessagesResponse struct {
	Messages   []domain.Message `json:"messages"`
	Pagination Pagination       `json:"pagination"`
}

// ListMessages godoc
// @ID          listUserMessages
// @Summary     List a user's conversation
// @Description Returns the stored conversation of a channel user, oldest first.
// @Description Supports weak ETag via If-None-Match and may return 304.
// @Tags        History
// @Produce     json
//
// @Param       identifier     path    string  true   "Channel identifier (phone number)"  example(15551234567)
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"
// @Param       page           query   int     false  "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false  "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object}  handlers.ListMessagesResponse
// @Header      200  {string}  ETag  "Weak ETag for current result"
// @Success     304  {string}  string "Not Modified"
// @Failure     404  {object}  handlers.ErrorResponse "User not found"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /users/{identifier}/messages [get]
func (h *Handlers) ListMessages(c *gin.Context) {
	ctx := c.Request.Context()
	identifier := strings.TrimSpace(c.Param("identifier"))
	if identifier == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "identifier required")
		return
	}

	stats, err := h.histSvc.Stats(ctx, identifier)
	if err != nil {
		h.historyError(c, err)
		return
	}
	var ts int64
	if stats.LatestAt != nil {
		ts = stats.LatestAt.Unix()
	}
	etag := fmt.Sprintf(`W/"messages:%d:%d:%d"`, stats.UserID, stats.Count, ts)
	c.Header("ETag", etag)
	if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
		c.Status(http.StatusNotModified)
		return
	}

	page, pageSize := utils.ClampPage(c.Query("page"), c.Query("page_size"))
	items, total, err := h.histSvc.ListPage(ctx, identifier, page, pageSize)
	if err != nil {
		h.historyError(c, err)
		return
	}

	totalPages := utils.TotalPages(total, pageSize)
	ok(c, http.StatusOK, ListMessagesResponse{
		Messages: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

func (h *Handlers) historyError(c *gin.Context, err error) {
	if errors.Is(err, services.ErrUserNotFound) {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "user not found")
		return
	}
	failErr(c, http.StatusInternalServerError, ErrCodeListFailed, "could not load messages", err)
}

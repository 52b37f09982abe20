package telephony

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"pbx-routing/internal/cxml"
	"pbx-routing/pkg/logger"
)

const headerEventID = "X-Event-Id"

// WebhookHandler adapts the upstream platform's voice webhooks to the
// Processor. Every response is a voice document, including failures.
//
// No business logic here.
type WebhookHandler struct {
	Processor *Processor
}

// Register mounts the voice webhooks on r.
func (h WebhookHandler) Register(r gin.IRoutes) {
	r.POST(PathInbound, h.HandleInbound)
	r.POST(PathStatus, h.HandleStatus)
	r.POST(PathCDR, h.HandleCDR)
	r.POST(PathMenu, h.HandleMenu)
	r.POST(PathDialResult, h.HandleDialResult)
}

func (h WebhookHandler) bind(c *gin.Context) (Event, bool) {
	var ev Event
	// Redirect-driven callbacks may arrive without a body.
	if err := c.ShouldBindJSON(&ev); err != nil && !errors.Is(err, io.EOF) {
		logger.FromGin(c).Warn("webhook parse failed", "path", c.FullPath(), "err", err)
		writeDocument(c, Response{Status: http.StatusBadRequest, Body: cxml.ErrorDocument(h.Processor.ErrorMessage)})
		return Event{}, false
	}
	if ev.EventID == "" {
		ev.EventID = c.GetHeader(headerEventID)
	}
	return ev, true
}

func (h WebhookHandler) HandleInbound(c *gin.Context) {
	ev, ok := h.bind(c)
	if !ok {
		return
	}
	writeDocument(c, h.Processor.HandleInbound(h.ctx(c), ev))
}

func (h WebhookHandler) HandleStatus(c *gin.Context) {
	ev, ok := h.bind(c)
	if !ok {
		return
	}
	writeDocument(c, h.Processor.HandleStatus(h.ctx(c), ev))
}

func (h WebhookHandler) HandleCDR(c *gin.Context) {
	ev, ok := h.bind(c)
	if !ok {
		return
	}
	writeDocument(c, h.Processor.HandleCDR(h.ctx(c), ev))
}

func (h WebhookHandler) HandleMenu(c *gin.Context) {
	mc, err := ParseMenuCallback(c.Request.URL.Query())
	if err != nil {
		logger.FromGin(c).Warn("menu callback rejected", "err", err)
		writeDocument(c, Response{Status: http.StatusBadRequest, Body: cxml.ErrorDocument(h.Processor.ErrorMessage)})
		return
	}
	ev, ok := h.bind(c)
	if !ok {
		return
	}
	writeDocument(c, h.Processor.HandleMenuInput(h.ctx(c), ev, mc))
}

func (h WebhookHandler) HandleDialResult(c *gin.Context) {
	callID, cont, err := ParseDialCallback(c.Request.URL.Query())
	if err != nil {
		logger.FromGin(c).Warn("dial callback rejected", "err", err)
		writeDocument(c, Response{Status: http.StatusBadRequest, Body: cxml.ErrorDocument(h.Processor.ErrorMessage)})
		return
	}
	ev, ok := h.bind(c)
	if !ok {
		return
	}
	if ev.CallID == "" {
		ev.CallID = callID
	}
	writeDocument(c, h.Processor.HandleDialResult(h.ctx(c), ev, cont))
}

// ctx carries the request logger into the processor.
func (h WebhookHandler) ctx(c *gin.Context) context.Context {
	return logger.With(c.Request.Context(), logger.FromGin(c))
}

func writeDocument(c *gin.Context, res Response) {
	c.Header("Content-Type", "application/xml")
	c.String(res.Status, res.Body)
}

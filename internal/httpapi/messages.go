package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/matheus3301/wppadmin/internal/model"
)

func (s *Server) handleListMessages(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.deps.Store.GetContact(c.Request.Context(), id); err != nil {
		s.storeFail(c, "get contact", err)
		return
	}
	msgs, err := s.deps.Store.ListMessages(c.Request.Context(), id)
	if err != nil {
		s.storeFail(c, "list messages", err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}

type sendRequest struct {
	ContactID     string            `json:"contact_id"`
	ContentType   model.ContentType `json:"content_type"`
	TextContent   *string           `json:"text_content"`
	AttachmentURL *string           `json:"attachment_url"`
	Platform      model.Platform    `json:"platform"`
}

func (r *sendRequest) validate() string {
	if r.ContactID == "" {
		return "contact_id is required."
	}
	if r.ContentType == "" {
		r.ContentType = model.ContentText
	}
	if !r.ContentType.Valid() {
		return "Unsupported content type."
	}
	if r.ContentType == model.ContentText && (r.TextContent == nil || *r.TextContent == "") {
		return "text_content is required for text messages."
	}
	if r.ContentType != model.ContentText && (r.AttachmentURL == nil || *r.AttachmentURL == "") {
		return "attachment_url is required for media messages."
	}
	if r.Platform != "" && !r.Platform.Valid() {
		return "Unsupported platform."
	}
	return ""
}

// handleSendMessage stores an agent message and queues it for the bot.
func (s *Server) handleSendMessage(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, http.StatusBadRequest, msgInvalidBody)
		return
	}
	if msg := req.validate(); msg != "" {
		s.fail(c, http.StatusBadRequest, msg)
		return
	}
	contact, err := s.deps.Store.GetContact(c.Request.Context(), req.ContactID)
	if err != nil {
		s.storeFail(c, "get contact", err)
		return
	}
	if req.Platform != "" && req.Platform != contact.Platform {
		s.fail(c, http.StatusBadRequest, "Platform does not match the contact.")
		return
	}

	m := &model.Message{
		ContactID:     contact.ID,
		SenderType:    model.SenderAgent,
		ContentType:   req.ContentType,
		TextContent:   req.TextContent,
		AttachmentURL: req.AttachmentURL,
	}
	if err := s.deps.Outbox.Enqueue(c.Request.Context(), m); err != nil {
		s.storeFail(c, "enqueue message", err)
		return
	}
	c.JSON(http.StatusCreated, m)
}

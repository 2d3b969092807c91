package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/matheus3301/wppadmin/internal/model"
)

func (s *Server) handleListContacts(c *gin.Context) {
	contacts, err := s.deps.Store.ListContacts(c.Request.Context())
	if err != nil {
		s.storeFail(c, "list contacts", err)
		return
	}
	c.JSON(http.StatusOK, contacts)
}

type renameRequest struct {
	Name *string `json:"name"`
}

func (s *Server) handleRenameContact(c *gin.Context) {
	var req renameRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Name == nil {
		s.fail(c, http.StatusBadRequest, msgInvalidBody)
		return
	}
	id := c.Param("id")
	if err := s.deps.Store.UpdateContactName(c.Request.Context(), id, *req.Name); err != nil {
		s.storeFail(c, "rename contact", err)
		return
	}
	s.respondContact(c, id)
}

type aiRequest struct {
	AIEnabled *bool `json:"ai_enabled"`
}

func (s *Server) handleToggleAI(c *gin.Context) {
	var req aiRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.AIEnabled == nil {
		s.fail(c, http.StatusBadRequest, msgInvalidBody)
		return
	}
	id := c.Param("id")
	if err := s.deps.Store.SetAIEnabled(c.Request.Context(), id, *req.AIEnabled); err != nil {
		s.storeFail(c, "toggle ai", err)
		return
	}
	s.respondContact(c, id)
}

func (s *Server) respondContact(c *gin.Context, id string) {
	contact, err := s.deps.Store.GetContact(c.Request.Context(), id)
	if err != nil {
		s.storeFail(c, "get contact", err)
		return
	}
	c.JSON(http.StatusOK, contact)
}

func (s *Server) handleDeleteContact(c *gin.Context) {
	if err := s.deps.Store.DeleteContact(c.Request.Context(), c.Param("id")); err != nil {
		s.storeFail(c, "delete contact", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (s *Server) handleMarkRead(c *gin.Context) {
	if err := s.deps.Store.MarkChatAsRead(c.Request.Context(), c.Param("id")); err != nil {
		s.storeFail(c, "mark chat as read", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

type bulkReadRequest struct {
	ContactIDs []string `json:"contact_ids"`
	Status     string   `json:"status"`
}

func (s *Server) handleBulkReadStatus(c *gin.Context) {
	var req bulkReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, http.StatusBadRequest, msgInvalidBody)
		return
	}
	status, err := model.ParseReadStatus(req.Status)
	if err != nil {
		s.fail(c, http.StatusBadRequest, "Status must be 'read' or 'unread'.")
		return
	}
	n, err := s.deps.Store.BulkUpdateReadStatus(c.Request.Context(), req.ContactIDs, status)
	if err != nil {
		s.storeFail(c, "bulk update read status", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated_count": n})
}

type bulkDeleteRequest struct {
	ContactIDs []string `json:"contact_ids"`
}

func (s *Server) handleBulkDelete(c *gin.Context) {
	var req bulkDeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, http.StatusBadRequest, msgInvalidBody)
		return
	}
	n, err := s.deps.Store.BulkDeleteContacts(c.Request.Context(), req.ContactIDs)
	if err != nil {
		s.storeFail(c, "bulk delete contacts", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted_count": n})
}

func (s *Server) handleBackupContacts(c *gin.Context) {
	rows, err := s.deps.Store.ListContactsForBackup(c.Request.Context(), model.PlatformWhatsApp)
	if err != nil {
		s.storeFail(c, "list backup contacts", err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

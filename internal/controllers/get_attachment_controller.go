package controllers

import (
	"net/http"
	"strings"

	"github.com/osvaldoandrade/felanmalan/internal/services"
	"github.com/osvaldoandrade/felanmalan/pkg/domain"

	"github.com/gin-gonic/gin"
)

type getAttachmentController struct{ svc services.ErrandService }

func NewGetAttachmentController(svc services.ErrandService) *getAttachmentController {
	return &getAttachmentController{svc}
}

func (h *getAttachmentController) Handle(c *gin.Context) {
	errandID := strings.TrimSpace(c.Param("errandId"))
	attachmentID := strings.TrimSpace(c.Param("attachmentId"))
	if errandID == "" || attachmentID == "" {
		c.JSON(http.StatusNotFound, gin.H{"message": domain.MsgAttachmentNotFound})
		return
	}

	att, err := h.svc.GetAttachment(c.Request.Context(), errandID, attachmentID)
	if err != nil {
		if domain.IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"message": domain.MsgAttachmentNotFound})
			return
		}
		loggerFrom(c).Error("fetching attachment failed", "errand_id", errandID, "attachment_id", attachmentID, "err", err)
		c.JSON(http.StatusBadGateway, gin.H{"message": domain.MsgFetchAttachmentFailed})
		return
	}

	c.Header("Cache-Control", "public, max-age=3600")
	c.Data(http.StatusOK, att.ContentType, att.Data)
}

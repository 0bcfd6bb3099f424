package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type healthController struct{}

func NewHealthController() *healthController { return &healthController{} }

func (h *healthController) Handle(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "OK"})
}

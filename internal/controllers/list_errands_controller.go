package controllers

import (
	"net/http"

	"github.com/osvaldoandrade/felanmalan/internal/services"
	"github.com/osvaldoandrade/felanmalan/pkg/domain"

	"github.com/gin-gonic/gin"
)

type listErrandsController struct{ svc services.ErrandService }

func NewListErrandsController(svc services.ErrandService) *listErrandsController {
	return &listErrandsController{svc}
}

func (h *listErrandsController) Handle(c *gin.Context) {
	markers, err := h.svc.ListActive(c.Request.Context())
	if err != nil {
		writeError(c, err, http.StatusBadGateway, domain.MsgFetchErrandsFailed)
		return
	}
	c.JSON(http.StatusOK, gin.H{"errands": markers})
}

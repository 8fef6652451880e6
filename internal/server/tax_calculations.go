package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	taxdomain "github.com/smallbiznis/storetax/internal/tax/domain"
)

type calculateTaxRequest struct {
	Amount     *decimal.Decimal `json:"amount"`
	Region     string           `json:"region"`
	Categories []string         `json:"categories"`
	Currency   string           `json:"currency"`
}

func (s *Server) CalculateTax(c *gin.Context) {
	var req calculateTaxRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.Amount == nil {
		AbortWithError(c, taxdomain.ErrInvalidAmount)
		return
	}

	resp, err := s.calcSvc.Calculate(c.Request.Context(), taxdomain.CalculateRequest{
		Amount:     *req.Amount,
		Region:     req.Region,
		Categories: req.Categories,
		Currency:   req.Currency,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetCatalogInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": s.calcSvc.CatalogInfo(c.Request.Context())})
}

package httpapi

import (
	"net/http"

	"outreach-platform/internal/phoneintel"

	"github.com/gin-gonic/gin"
)

const maxClassifyPhones = 1000

type classifyRequest struct {
	Phones []string `json:"phones"`
}

type classifyResponse struct {
	Results   []phoneintel.Result `json:"results"`
	Mobiles   int                 `json:"mobiles"`
	Landlines int                 `json:"landlines"`
	Rejected  int                 `json:"rejected"`
}

// ClassifyPhones validates and classifies up to maxClassifyPhones numbers.
func (h Handlers) ClassifyPhones(c *gin.Context) {
	var req classifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if len(req.Phones) == 0 || len(req.Phones) > maxClassifyPhones {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "phones must hold 1 to 1000 numbers"})
		return
	}
	results, err := h.Phones.Classify(c.Request.Context(), req.Phones)
	if err != nil {
		fail(c, err)
		return
	}
	p := phoneintel.Split(results)
	c.JSON(http.StatusOK, classifyResponse{
		Results:   results,
		Mobiles:   len(p.Mobiles),
		Landlines: len(p.Landlines),
		Rejected:  len(p.Rejected),
	})
}

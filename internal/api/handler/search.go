package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/motionmatch/internal/service"
)

// SearchHandler handles search-related endpoints.
type SearchHandler struct {
	searchService *service.SearchService
}

// NewSearchHandler creates a new search handler.
// Parameters:
//   - searchService: search service instance.
// Returns:
//   - *SearchHandler: initialized handler.
func NewSearchHandler(searchService *service.SearchService) *SearchHandler {
	return &SearchHandler{
		searchService: searchService,
	}
}

// SearchBody is the JSON body of POST /api/v1/search.
type SearchBody struct {
	QueryPath   string                 `json:"query_path"`
	QueryVector []float32              `json:"query_vector"`
	TopK        *int                   `json:"top_k"`
	Threshold   *float32               `json:"threshold"`
	Filters     *service.SearchFilters `json:"filters"`
}

// Search handles POST /api/v1/search.
// An omitted top_k uses the configured default; an explicit 0 is rejected.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *SearchHandler) Search(c *gin.Context) {
	var body SearchBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}

	topK := h.searchService.DefaultTopK()
	if body.TopK != nil {
		topK = *body.TopK
	}

	result, err := h.searchService.Search(c.Request.Context(), &service.SearchRequest{
		QueryPath:   body.QueryPath,
		QueryVector: body.QueryVector,
		TopK:        topK,
		Threshold:   body.Threshold,
		Filters:     body.Filters,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

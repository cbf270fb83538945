package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/timmy/motionmatch/internal/domain"
	"github.com/timmy/motionmatch/internal/logger"
	"github.com/timmy/motionmatch/internal/service"
	"github.com/timmy/motionmatch/internal/source"
)

// IndexHandler handles indexing, job and video endpoints.
type IndexHandler struct {
	indexService *service.IndexService
}

// NewIndexHandler creates a new index handler.
func NewIndexHandler(indexService *service.IndexService) *IndexHandler {
	return &IndexHandler{indexService: indexService}
}

// IndexBody is the JSON body of POST /api/v1/index.
type IndexBody struct {
	VideoPath string   `json:"video_path" binding:"required"`
	VideoID   string   `json:"video_id"`
	Title     string   `json:"title"`
	Tags      []string `json:"tags"`
}

// BatchBody is the JSON body of POST /api/v1/index/batch.
type BatchBody struct {
	Directory    string   `json:"directory"`
	FilePatterns []string `json:"file_patterns"`
	Recursive    bool     `json:"recursive"`
	Manifest     string   `json:"manifest"`
}

// Index handles POST /api/v1/index. The video is indexed synchronously.
func (h *IndexHandler) Index(c *gin.Context) {
	var body IndexBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}

	result, err := h.indexService.IndexVideo(c.Request.Context(), source.VideoItem{
		VideoID: body.VideoID,
		Path:    body.VideoPath,
		Title:   body.Title,
		Tags:    body.Tags,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Batch handles POST /api/v1/index/batch and returns once the job is queued.
func (h *IndexHandler) Batch(c *gin.Context) {
	var body BatchBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}
	if body.Directory == "" && body.Manifest == "" {
		badRequest(c, "directory or manifest is required")
		return
	}

	handle, err := h.indexService.SubmitBatch(c.Request.Context(), service.BatchRequest{
		Directory: body.Directory,
		Patterns:  body.FilePatterns,
		Recursive: body.Recursive,
		Manifest:  body.Manifest,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, handle)
}

// Upload handles POST /api/v1/upload (multipart: file, title, tags).
func (h *IndexHandler) Upload(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "multipart field 'file' is required")
		return
	}
	f, err := fh.Open()
	if err != nil {
		badRequest(c, "cannot read uploaded file")
		return
	}
	defer f.Close()

	var tags []string
	for _, t := range strings.Split(c.PostForm("tags"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}

	result, err := h.indexService.UploadVideo(c.Request.Context(), service.UploadRequest{
		Filename: fh.Filename,
		Body:     f,
		Size:     fh.Size,
		Title:    c.PostForm("title"),
		Tags:     tags,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// jobView adds derived progress to a job snapshot.
type jobView struct {
	*domain.IndexJob
	Failed   int     `json:"failed"`
	Progress float64 `json:"progress"`
}

func viewJob(j *domain.IndexJob) jobView {
	return jobView{IndexJob: j, Failed: j.Failed(), Progress: j.Progress()}
}

// GetJob handles GET /api/v1/jobs/:id.
func (h *IndexHandler) GetJob(c *gin.Context) {
	job, err := h.indexService.GetJob(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewJob(job))
}

// ListJobs handles GET /api/v1/jobs?status=.
func (h *IndexHandler) ListJobs(c *gin.Context) {
	status := domain.JobStatus(c.Query("status"))
	switch status {
	case "", domain.JobStatusQueued, domain.JobStatusProcessing, domain.JobStatusCompleted,
		domain.JobStatusCompletedWithErrors, domain.JobStatusFailed:
	default:
		badRequest(c, "unknown job status "+string(status))
		return
	}

	jobs := h.indexService.ListJobs(status)
	views := make([]jobView, len(jobs))
	for i, j := range jobs {
		views[i] = viewJob(j)
	}
	c.JSON(http.StatusOK, gin.H{"jobs": views, "total": len(views)})
}

// CancelJob handles POST /api/v1/jobs/:id/cancel.
func (h *IndexHandler) CancelJob(c *gin.Context) {
	job, err := h.indexService.CancelJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, viewJob(job))
}

// ListVideos handles GET /api/v1/videos?status=&limit=&offset=.
func (h *IndexHandler) ListVideos(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	videos, err := h.indexService.ListVideos(c.Request.Context(), domain.VideoStatus(c.Query("status")), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"videos": videos, "count": len(videos), "limit": limit, "offset": offset})
}

// GetVideo handles GET /api/v1/videos/:id.
func (h *IndexHandler) GetVideo(c *gin.Context) {
	video, err := h.indexService.GetVideo(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, video)
}

// DeleteVideo handles DELETE /api/v1/videos/:id.
func (h *IndexHandler) DeleteVideo(c *gin.Context) {
	id := c.Param("id")
	ctx := logger.SetVideoID(c.Request.Context(), id)
	if err := h.indexService.DeleteVideo(ctx, id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"video_id": id, "deleted": true})
}

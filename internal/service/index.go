package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/motionmatch/internal/cache"
	"github.com/timmy/motionmatch/internal/domain"
	"github.com/timmy/motionmatch/internal/encoder"
	"github.com/timmy/motionmatch/internal/errs"
	"github.com/timmy/motionmatch/internal/logger"
	"github.com/timmy/motionmatch/internal/probe"
	"github.com/timmy/motionmatch/internal/repository"
	"github.com/timmy/motionmatch/internal/source"
	"github.com/timmy/motionmatch/internal/storage"
)

// videoNamespace seeds path-derived video IDs.
var videoNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("motionmatch/videos"))

// VideoIDForPath derives a stable video ID from an absolute path.
func VideoIDForPath(path string) string {
	return uuid.NewSHA1(videoNamespace, []byte(path)).String()
}

// IndexConfig holds configuration for the index service
type IndexConfig struct {
	Workers       int
	QueueSize     int
	Schedulers    int
	Retry         errs.RetryPolicy
	UploadDir     string
	StoragePrefix string
}

// BatchRequest asks for every matching file under Directory to be indexed,
// or every entry of a JSONL manifest when Manifest is set.
type BatchRequest struct {
	Directory string
	Patterns  []string
	Recursive bool
	Manifest  string
}

// BatchHandle is returned as soon as a batch job is accepted.
type BatchHandle struct {
	JobID       string `json:"job_id"`
	Status      string `json:"status"`
	TotalVideos int    `json:"total_videos"`
}

// IndexResult describes the outcome of indexing one video.
type IndexResult struct {
	VideoID           string             `json:"video_id"`
	Status            domain.VideoStatus `json:"status"`
	FeaturesExtracted bool               `json:"features_extracted"`
	Reused            bool               `json:"reused"`
	Attempts          int                `json:"attempts"`
}

// UploadRequest carries an uploaded video file.
type UploadRequest struct {
	Filename string
	Body     io.Reader
	Size     int64
	Title    string
	Tags     []string
}

type queuedJob struct {
	id    string
	items []source.VideoItem
}

// IndexService is the indexing orchestrator: it validates inputs, obtains
// feature vectors through the cache and encoder pool, and commits each video
// to the similarity index and the metadata store.
type IndexService struct {
	videos    repository.MetadataStore
	index     repository.SimilarityIndex
	encoder   encoder.Encoder
	cache     *cache.FeatureCache
	validator *probe.Validator
	storage   storage.ObjectStorage
	registry  *JobRegistry
	logger    *logger.Logger
	cfg       IndexConfig

	queue chan *queuedJob
}

// NewIndexService creates a new index service. objectStorage may be nil.
func NewIndexService(
	videos repository.MetadataStore,
	index repository.SimilarityIndex,
	enc encoder.Encoder,
	featureCache *cache.FeatureCache,
	validator *probe.Validator,
	objectStorage storage.ObjectStorage,
	registry *JobRegistry,
	log *logger.Logger,
	cfg *IndexConfig,
) *IndexService {
	c := *cfg
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 16
	}
	if c.Schedulers <= 0 {
		c.Schedulers = 1
	}
	return &IndexService{
		videos:    videos,
		index:     index,
		encoder:   enc,
		cache:     featureCache,
		validator: validator,
		storage:   objectStorage,
		registry:  registry,
		logger:    log,
		cfg:       c,
		queue:     make(chan *queuedJob, c.QueueSize),
	}
}

// log returns a logger from context if available, otherwise returns the default logger
func (s *IndexService) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil && l != logger.GetDefault() {
		return l
	}
	return s.logger
}

// Registry exposes the job registry for status queries.
func (s *IndexService) Registry() *JobRegistry {
	return s.registry
}

// SubmitBatch scans the request's source and queues a job for its videos.
// Parameters:
//   - ctx: request context; the job itself runs on the Run context.
//   - req: directory + patterns, or a manifest path.
// Returns:
//   - *BatchHandle: job ID and the number of videos found.
//   - error: KindInvalidParameter for bad input, KindNoVideosFound when nothing matched,
//     KindRateLimited when the job queue is full.
func (s *IndexService) SubmitBatch(ctx context.Context, req BatchRequest) (*BatchHandle, error) {
	var (
		src source.Source
		err error
	)
	if req.Manifest != "" {
		src = source.NewManifestSource(req.Manifest)
	} else {
		patterns := req.Patterns
		if len(patterns) == 0 {
			patterns = s.defaultPatterns()
		}
		req.Patterns = patterns
		src, err = source.NewDirectorySource(req.Directory, patterns, req.Recursive)
		if err != nil {
			return nil, err
		}
	}

	items, err := source.Collect(ctx, src, 500)
	if err != nil {
		if errs.IsKind(err, errs.KindInternal) {
			return nil, errs.Wrap(errs.KindInvalidParameter, "cannot read video source", err)
		}
		return nil, err
	}
	if len(items) == 0 {
		return nil, errs.Newf(errs.KindNoVideosFound, "no videos matched in %s", src.GetSourceID())
	}

	directory := req.Directory
	if directory == "" {
		directory = req.Manifest
	}
	job := s.registry.Create(ctx, directory, req.Patterns, req.Recursive, len(items))

	select {
	case s.queue <- &queuedJob{id: job.ID, items: items}:
	default:
		s.registry.remove(job.ID)
		return nil, errs.RateLimited(30 * time.Second).WithDetail("reason", "index queue is full")
	}

	s.log(ctx).WithFields(logger.Fields{
		logger.FieldJobID: job.ID,
		"source":          src.GetSourceID(),
		"total":           len(items),
	}).Info("Index job queued")

	return &BatchHandle{JobID: job.ID, Status: "started", TotalVideos: len(items)}, nil
}

func (s *IndexService) defaultPatterns() []string {
	formats := s.validator.AllowedFormats()
	patterns := make([]string, 0, len(formats))
	for _, f := range formats {
		patterns = append(patterns, "*."+f)
	}
	return patterns
}

// Run processes queued jobs until ctx is cancelled. Jobs still queued at
// shutdown fail with reason Cancelled.
func (s *IndexService) Run(ctx context.Context) {
	ctx = logger.SetComponent(s.logger.WithContext(ctx), "indexer")

	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Schedulers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case qj := <-s.queue:
					s.runJob(ctx, qj)
				}
			}
		}()
	}
	wg.Wait()

	for {
		select {
		case qj := <-s.queue:
			s.abandon(ctx, qj.id, qj.items, errs.KindCancelled, domain.JobReasonCancelled)
		default:
			return
		}
	}
}

// abandon fails a job that never ran, recording every item with kind.
func (s *IndexService) abandon(ctx context.Context, jobID string, items []source.VideoItem, kind errs.Kind, reason string) {
	if _, err := s.registry.Start(ctx, jobID); err != nil {
		s.log(ctx).WithError(err).WithField(logger.FieldJobID, jobID).Error("Failed to start abandoned job")
		return
	}
	for _, item := range items {
		s.recordFailure(ctx, jobID, item, errs.New(kind, "not started"), 0)
	}
	if _, err := s.registry.Finish(ctx, jobID, reason); err != nil {
		s.log(ctx).WithError(err).WithField(logger.FieldJobID, jobID).Error("Failed to finish abandoned job")
	}
}

func (s *IndexService) runJob(ctx context.Context, qj *queuedJob) {
	ctx = logger.SetJobID(ctx, qj.id)
	start := time.Now()

	if _, err := s.registry.Start(ctx, qj.id); err != nil {
		s.log(ctx).WithError(err).Error("Failed to start job")
		return
	}
	s.log(ctx).WithField("total", len(qj.items)).Info("Index job started")

	// Set once an item fails because the index or metadata store is gone.
	var aborted atomic.Bool
	stopKind := func() errs.Kind {
		if aborted.Load() {
			return errs.KindInfrastructureUnavailable
		}
		if ctx.Err() != nil || s.registry.CancelRequested(qj.id) {
			return errs.KindCancelled
		}
		return ""
	}

	workers := s.cfg.Workers
	if workers > len(qj.items) {
		workers = len(qj.items)
	}
	itemsChan := make(chan source.VideoItem)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range itemsChan {
				if kind := stopKind(); kind != "" {
					s.recordFailure(ctx, qj.id, item, errs.New(kind, "not started"), 0)
					continue
				}
				res, err := s.indexItem(ctx, item, "")
				if err != nil {
					s.recordFailure(ctx, qj.id, item, err, res.Attempts)
					if errs.IsKind(err, errs.KindInfrastructureUnavailable) {
						aborted.Store(true)
					}
					continue
				}
				if _, err := s.registry.RecordSuccess(qj.id); err != nil {
					s.log(ctx).WithError(err).Error("Failed to record item success")
				}
				s.log(ctx).WithFields(logger.Fields{
					logger.FieldVideoID: res.VideoID,
					"reused":            res.Reused,
				}).Debug("Item indexed")
			}
		}()
	}

	for _, item := range qj.items {
		itemsChan <- item
	}
	close(itemsChan)
	wg.Wait()

	reason := ""
	switch {
	case aborted.Load():
		reason = domain.JobReasonInfrastructure
	case ctx.Err() != nil || s.registry.CancelRequested(qj.id):
		reason = domain.JobReasonCancelled
	}

	job, err := s.registry.Finish(ctx, qj.id, reason)
	if err != nil {
		s.log(ctx).WithError(err).Error("Failed to finish job")
		return
	}
	logger.With(logger.Fields{
		"total":     job.Total,
		"succeeded": job.Succeeded,
		"failed":    job.Failed(),
	}).WithStatus(string(job.Status)).WithDuration(time.Since(start)).Info(ctx, "Index job finished")
}

func (s *IndexService) recordFailure(ctx context.Context, jobID string, item source.VideoItem, err error, attempts int) {
	videoID := item.VideoID
	if videoID == "" {
		if abs, absErr := filepath.Abs(item.Path); absErr == nil {
			videoID = VideoIDForPath(abs)
		}
	}
	kind := errs.KindOf(err)
	if _, recErr := s.registry.RecordFailure(jobID, domain.FailedItem{
		VideoID:  videoID,
		Path:     item.Path,
		Kind:     string(kind),
		Message:  err.Error(),
		Attempts: attempts,
	}); recErr != nil {
		s.log(ctx).WithError(recErr).Error("Failed to record item failure")
	}
	if kind != errs.KindCancelled {
		s.log(ctx).WithFields(logger.Fields{
			logger.FieldVideoID:   videoID,
			logger.FieldErrorKind: kind,
			"path":                item.Path,
		}).WithError(err).Warn("Failed to index item")
	}
}

// IndexVideo indexes one video synchronously.
// Returns:
//   - *IndexResult: the video ID and whether features were freshly extracted.
//   - error: KindVideoNotFound, KindUnsupportedFormat, KindEncodingFailed, KindTimeout
//     or KindInfrastructureUnavailable.
func (s *IndexService) IndexVideo(ctx context.Context, item source.VideoItem) (*IndexResult, error) {
	if strings.TrimSpace(item.Path) == "" {
		return nil, errs.New(errs.KindInvalidParameter, "video path is required")
	}
	res, err := s.indexItem(ctx, item, "")
	if err != nil {
		return nil, err
	}
	return res, nil
}

// indexItem runs the full pipeline for one video: validate, register as
// pending, obtain features, then commit vector and metadata. The result is
// never nil; on error it still reports the attempts made.
func (s *IndexService) indexItem(ctx context.Context, item source.VideoItem, storageKey string) (*IndexResult, error) {
	info, err := s.validator.Inspect(ctx, item.Path)
	if err != nil {
		return &IndexResult{VideoID: item.VideoID, Status: domain.VideoStatusFailed, Attempts: 1}, err
	}

	videoID := item.VideoID
	if videoID == "" {
		videoID = VideoIDForPath(info.Path)
	}
	ctx = logger.SetVideoID(ctx, videoID)

	want := &domain.Video{
		ID:          videoID,
		SourcePath:  info.Path,
		Fingerprint: info.Fingerprint,
		Format:      info.Format,
		FileSize:    info.Size,
		Duration:    info.Duration,
		Title:       item.Title,
		Tags:        item.Tags,
		StorageKey:  storageKey,
	}

	result := &IndexResult{VideoID: videoID}
	attempts, err := errs.Retry(ctx, s.cfg.Retry, func(ctx context.Context) error {
		rec, err := s.videos.EnsurePending(ctx, want)
		if err != nil {
			return err
		}
		if rec.IsIndexed() && rec.Fingerprint == info.Fingerprint {
			result.Status = domain.VideoStatusIndexed
			result.Reused = true
			return nil
		}

		var previous []float32
		if rec.IsIndexed() {
			// Content changed under an indexed ID: keep the old vector for rollback.
			if previous, _, err = s.index.Fetch(ctx, videoID); err != nil {
				return err
			}
		}

		vec, encoded, err := s.features(ctx, info)
		if err != nil {
			return err
		}
		if err := s.commit(ctx, want, vec, rec, previous); err != nil {
			return err
		}
		result.Status = domain.VideoStatusIndexed
		result.FeaturesExtracted = encoded
		result.Reused = !encoded
		return nil
	})
	result.Attempts = attempts
	if err != nil {
		result.Status = domain.VideoStatusFailed
		if markErr := s.videos.MarkFailed(context.WithoutCancel(ctx), videoID, err.Error()); markErr != nil {
			s.log(ctx).WithError(markErr).Warn("Failed to mark video failed")
		}
		return result, errs.WithDetail(err, "video_id", videoID)
	}
	return result, nil
}

// features returns the vector for a validated file. Committed vectors are
// reused by fingerprint; only unseen content reaches the encoder. The bool
// reports whether this call ran the encoder.
func (s *IndexService) features(ctx context.Context, info *probe.Info) ([]float32, bool, error) {
	// The flight may outlive this call when ctx ends first, so the flag is
	// atomic and only read once the flight has delivered its result.
	var encoded atomic.Bool
	vec, _, err := s.cache.GetOrCompute(ctx, info.Fingerprint, func(ctx context.Context) ([]float32, error) {
		if v, err := s.committedVector(ctx, info.Fingerprint); err != nil || v != nil {
			return v, err
		}
		encoded.Store(true)
		return s.encoder.Encode(ctx, encoder.Input{Path: info.Path, Fingerprint: info.Fingerprint})
	})
	if err != nil {
		return nil, false, err
	}
	return vec, encoded.Load(), nil
}

func (s *IndexService) committedVector(ctx context.Context, fingerprint string) ([]float32, error) {
	owner, err := s.videos.FindIndexedByFingerprint(ctx, fingerprint)
	if err != nil || owner == nil {
		return nil, err
	}
	vec, ok, err := s.index.Fetch(ctx, owner.ID)
	if err != nil || !ok {
		return nil, err
	}
	return vec, nil
}

// commit writes the vector, then marks the metadata record indexed. If the
// metadata write fails the vector write is undone: the previous vector is
// restored when there was one, otherwise the point is deleted.
func (s *IndexService) commit(ctx context.Context, v *domain.Video, vec []float32, rec *domain.Video, previous []float32) error {
	payload := repository.Payload{VideoID: v.ID, Fingerprint: v.Fingerprint, SourcePath: v.SourcePath}
	if err := s.index.Upsert(ctx, v.ID, vec, payload); err != nil {
		return err
	}

	if err := s.videos.MarkIndexed(ctx, v); err != nil {
		rollbackCtx := context.WithoutCancel(ctx)
		var rbErr error
		if previous != nil {
			rbErr = s.index.Upsert(rollbackCtx, v.ID, previous, repository.Payload{
				VideoID: rec.ID, Fingerprint: rec.Fingerprint, SourcePath: rec.SourcePath,
			})
		} else {
			rbErr = s.index.Delete(rollbackCtx, v.ID)
		}
		if rbErr != nil {
			s.log(ctx).WithError(rbErr).Error("Failed to rollback vector write")
		}
		return err
	}
	return nil
}

// UploadVideo stores an uploaded file under the upload directory, archives it
// to object storage when configured, and indexes it.
func (s *IndexService) UploadVideo(ctx context.Context, req UploadRequest) (*IndexResult, error) {
	if err := s.validator.CheckFormat(req.Filename); err != nil {
		return nil, err
	}
	if err := s.validator.CheckSize(req.Size); err != nil {
		return nil, err
	}
	format := probe.FormatOf(req.Filename)

	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		return nil, errs.Wrap(errs.KindInternal, "failed to create upload directory", err)
	}
	tmp, err := os.CreateTemp(s.cfg.UploadDir, ".upload-*."+format)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "failed to create upload file", err)
	}
	defer os.Remove(tmp.Name())

	n, err := copyLimited(tmp, req.Body, s.validator.MaxFileSize())
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, err
	}
	if err := s.validator.CheckSize(n); err != nil {
		return nil, err
	}

	fp, err := probe.Fingerprint(tmp.Name())
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "failed to fingerprint upload", err)
	}
	// Content-addressed name: re-uploading the same bytes maps to the same video.
	dest := filepath.Join(s.cfg.UploadDir, fmt.Sprintf("%s.%s", fp, format))
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return nil, errs.Wrap(errs.KindInternal, "failed to store upload", err)
	}

	storageKey, uploaded, err := s.archive(ctx, dest, fp, format, n)
	if err != nil {
		os.Remove(dest)
		return nil, err
	}

	title := req.Title
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(req.Filename), filepath.Ext(req.Filename))
	}
	res, err := s.indexItem(ctx, source.VideoItem{Path: dest, Title: title, Tags: req.Tags}, storageKey)
	if err != nil {
		switch errs.KindOf(err) {
		case errs.KindUnsupportedFormat, errs.KindInvalidParameter:
			os.Remove(dest)
			if uploaded {
				if delErr := s.storage.Delete(context.WithoutCancel(ctx), storageKey); delErr != nil {
					s.log(ctx).WithField("storage_key", storageKey).WithError(delErr).Error("Failed to rollback storage upload")
				}
			}
		}
		return nil, err
	}
	return res, nil
}

// archive copies the file to object storage. It reports whether this call
// created the object.
func (s *IndexService) archive(ctx context.Context, path, fingerprint, format string, size int64) (string, bool, error) {
	if s.storage == nil {
		return "", false, nil
	}
	key := storage.VideoKey(s.cfg.StoragePrefix, fingerprint, format)
	exists, err := s.storage.Exists(ctx, key)
	if err != nil {
		return "", false, errs.Wrap(errs.KindInfrastructureUnavailable, "failed to check storage existence", err)
	}
	if exists {
		s.log(ctx).WithField("storage_key", key).Debug("File already exists in storage, skipping upload")
		return key, false, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return "", false, errs.Wrap(errs.KindInternal, "failed to reopen upload", err)
	}
	defer f.Close()
	if err := s.storage.Upload(ctx, key, f, size, storage.ContentType(format)); err != nil {
		return "", false, errs.Wrap(errs.KindInfrastructureUnavailable, "failed to upload to storage", err)
	}
	return key, true, nil
}

// DeleteVideo removes a video's vector and metadata. If the metadata delete
// fails the vector is put back.
func (s *IndexService) DeleteVideo(ctx context.Context, videoID string) error {
	ctx = logger.SetVideoID(ctx, videoID)

	rec, err := s.videos.GetByID(ctx, videoID)
	if err != nil {
		return err
	}

	vec, hadVector, err := s.index.Fetch(ctx, videoID)
	if err != nil {
		return err
	}
	if hadVector {
		if err := s.index.Delete(ctx, videoID); err != nil {
			return err
		}
	}

	if err := s.videos.Delete(ctx, videoID); err != nil {
		if hadVector {
			payload := repository.Payload{VideoID: rec.ID, Fingerprint: rec.Fingerprint, SourcePath: rec.SourcePath}
			if rbErr := s.index.Upsert(context.WithoutCancel(ctx), videoID, vec, payload); rbErr != nil {
				s.log(ctx).WithError(rbErr).Error("Failed to restore vector after metadata delete failure")
			}
		}
		return err
	}

	if rec.StorageKey != "" && s.storage != nil {
		// Identical content elsewhere shares the archived object.
		if other, err := s.videos.FindIndexedByFingerprint(ctx, rec.Fingerprint); err == nil && other == nil {
			if err := s.storage.Delete(ctx, rec.StorageKey); err != nil {
				s.log(ctx).WithField("storage_key", rec.StorageKey).WithError(err).Warn("Failed to delete archived video")
			}
		}
	}

	s.log(ctx).Info("Video deleted")
	return nil
}

// GetVideo returns a video's metadata record, with the URL of its archived
// original when it was uploaded.
func (s *IndexService) GetVideo(ctx context.Context, videoID string) (*domain.Video, error) {
	v, err := s.videos.GetByID(ctx, videoID)
	if err != nil {
		return nil, err
	}
	if s.storage != nil && v.StorageKey != "" {
		v.ArchiveURL = s.storage.GetURL(v.StorageKey)
	}
	return v, nil
}

const (
	defaultVideoPage = 50
	maxVideoPage     = 200
)

// ListVideos pages through video records, newest first. An empty status lists
// every record.
func (s *IndexService) ListVideos(ctx context.Context, status domain.VideoStatus, limit, offset int) ([]domain.Video, error) {
	switch status {
	case "", domain.VideoStatusPending, domain.VideoStatusIndexed, domain.VideoStatusFailed:
	default:
		return nil, errs.Newf(errs.KindInvalidParameter, "unknown video status %q", status)
	}
	if limit <= 0 {
		limit = defaultVideoPage
	}
	if limit > maxVideoPage {
		limit = maxVideoPage
	}
	if offset < 0 {
		offset = 0
	}

	videos, err := s.videos.List(ctx, status, limit, offset)
	if err != nil {
		return nil, err
	}
	if s.storage != nil {
		for i := range videos {
			if videos[i].StorageKey != "" {
				videos[i].ArchiveURL = s.storage.GetURL(videos[i].StorageKey)
			}
		}
	}
	return videos, nil
}

// GetJob returns a job snapshot.
func (s *IndexService) GetJob(jobID string) (*domain.IndexJob, error) {
	return s.registry.Get(jobID)
}

// ListJobs returns job snapshots, newest first.
func (s *IndexService) ListJobs(status domain.JobStatus) []*domain.IndexJob {
	return s.registry.List(status)
}

// CancelJob requests cooperative cancellation of a job.
func (s *IndexService) CancelJob(ctx context.Context, jobID string) (*domain.IndexJob, error) {
	job, err := s.registry.RequestCancel(ctx, jobID)
	if err != nil {
		return nil, err
	}
	s.log(ctx).WithField(logger.FieldJobID, jobID).Info("Index job cancellation requested")
	return job, nil
}

// copyLimited copies at most limit bytes; a larger body is rejected.
// A zero limit disables the check.
func copyLimited(dst io.Writer, src io.Reader, limit int64) (int64, error) {
	if src == nil {
		return 0, errs.New(errs.KindInvalidParameter, "upload body is empty")
	}
	if limit <= 0 {
		n, err := io.Copy(dst, src)
		if err != nil {
			return n, errs.Wrap(errs.KindInvalidParameter, "failed to read upload", err)
		}
		return n, nil
	}
	n, err := io.Copy(dst, io.LimitReader(src, limit+1))
	if err != nil {
		return n, errs.Wrap(errs.KindInvalidParameter, "failed to read upload", err)
	}
	if n > limit {
		return n, errs.Newf(errs.KindInvalidParameter, "upload exceeds %d bytes", limit)
	}
	return n, nil
}

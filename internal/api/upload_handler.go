package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/dutchcoders/go-clamd"
	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"cvSync/internal/api/middleware"
	"cvSync/internal/cvstore"
	"cvSync/internal/database"
	"cvSync/internal/metrics"
	"cvSync/internal/storage"
	"cvSync/internal/tasks"
)

const (
	videoURLTTL        = 7 * 24 * time.Hour
	certificateURLTTL  = time.Hour
	videoCleanupDelay  = 10 * time.Minute
	defaultMaxVideo    = 100 << 20
	defaultMaxDocument = 10 << 20
)

var certificateTypes = map[string]struct{}{
	"application/pdf": {},
	"image/png":       {},
	"image/jpeg":      {},
	"image/webp":      {},
}

// ErrInfected 表示病毒扫描发现了恶意内容。
var ErrInfected = errors.New("malicious file detected")

// ObjectStore 是上传所需的对象存储能力。
type ObjectStore interface {
	UploadFile(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) error
	GeneratePresignedURL(ctx context.Context, objectKey string, duration time.Duration) (string, error)
}

// TaskEnqueuer 把后台任务放入队列。
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Scanner 扫描上传内容。
type Scanner interface {
	Scan(r io.Reader) error
}

// ClamdScanner 通过 clamd 的 INSTREAM 扫描文件。
type ClamdScanner struct {
	Addr string
}

// Scan 实现 Scanner。
func (s ClamdScanner) Scan(r io.Reader) error {
	abort := make(chan bool)
	defer close(abort)
	results, err := clamd.NewClamd(s.Addr).ScanStream(r, abort)
	if err != nil {
		return fmt.Errorf("scan stream: %w", err)
	}
	for result := range results {
		switch result.Status {
		case clamd.RES_OK:
		case clamd.RES_FOUND:
			return fmt.Errorf("%w: %s", ErrInfected, result.Description)
		default:
			return fmt.Errorf("scan failed: %s", result.Description)
		}
	}
	return nil
}

// UploadHandler 负责简历视频与证书文档的上传。
type UploadHandler struct {
	store          *cvstore.Store
	objects        ObjectStore
	tasks          TaskEnqueuer
	scanner        Scanner
	maxVideo       int64
	maxCertificate int64
}

// NewUploadHandler 构造 UploadHandler；scanner 与 enqueuer 可以为 nil。
func NewUploadHandler(store *cvstore.Store, objects ObjectStore, enqueuer TaskEnqueuer, scanner Scanner, maxVideo, maxCertificate int64) *UploadHandler {
	if maxVideo <= 0 {
		maxVideo = defaultMaxVideo
	}
	if maxCertificate <= 0 {
		maxCertificate = defaultMaxDocument
	}
	return &UploadHandler{
		store:          store,
		objects:        objects,
		tasks:          enqueuer,
		scanner:        scanner,
		maxVideo:       maxVideo,
		maxCertificate: maxCertificate,
	}
}

type uploadedFile struct {
	header      *multipart.FileHeader
	contentType string
	extension   string
}

// UploadVideo 上传简历视频，替换旧视频并异步清理旧对象。
func (h *UploadHandler) UploadVideo(c *gin.Context) {
	record, file, ok := h.accept(c, h.maxVideo, func(mime string) bool {
		return strings.HasPrefix(mime, "video/")
	})
	if !ok {
		return
	}
	ctx := c.Request.Context()
	log := middleware.LoggerFromContext(c).With(slog.Uint64("cv_id", uint64(record.ID)))

	objectKey := storage.VideoKey(record.UserID, record.ID, uuid.NewString(), file.extension)
	if !h.upload(c, objectKey, file) {
		return
	}
	url, err := h.objects.GeneratePresignedURL(ctx, objectKey, videoURLTTL)
	if err != nil {
		log.Error("presign video url", slog.Any("error", err))
		Internal(c, "failed to generate video url")
		return
	}

	previous, err := h.store.SetVideo(ctx, record.ID, objectKey, url)
	if err != nil {
		respondError(c, err)
		return
	}
	if previous != "" && previous != objectKey {
		h.enqueueCleanup(c, record.ID, previous)
	}

	log.Info("video uploaded", slog.String("object_key", objectKey), slog.Int64("size", file.header.Size))
	c.JSON(http.StatusCreated, gin.H{"object_key": objectKey, "video_url": url})
}

// UploadCertificate 上传证书文档（PDF 或图片）并返回限时访问链接。
func (h *UploadHandler) UploadCertificate(c *gin.Context) {
	record, file, ok := h.accept(c, h.maxCertificate, func(mime string) bool {
		_, allowed := certificateTypes[mime]
		return allowed
	})
	if !ok {
		return
	}
	ctx := c.Request.Context()

	docID := uuid.NewString()
	objectKey := storage.CertificateKey(record.UserID, record.ID, docID, file.extension)
	if !h.upload(c, objectKey, file) {
		return
	}

	doc := database.CVDocument{
		ID:          docID,
		CVID:        record.ID,
		ObjectKey:   objectKey,
		ContentType: file.contentType,
		Size:        file.header.Size,
	}
	if err := h.store.AddDocument(ctx, doc); err != nil {
		respondError(c, err)
		return
	}
	url, err := h.objects.GeneratePresignedURL(ctx, objectKey, certificateURLTTL)
	if err != nil {
		middleware.LoggerFromContext(c).Error("presign certificate url", slog.Any("error", err))
		Internal(c, "failed to generate document url")
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"document_id":  docID,
		"object_key":   objectKey,
		"content_type": file.contentType,
		"url":          url,
	})
}

// accept 完成鉴权、大小校验、内容嗅探与病毒扫描。
func (h *UploadHandler) accept(c *gin.Context, maxBytes int64, allowed func(mime string) bool) (*database.CV, uploadedFile, bool) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return nil, uploadedFile{}, false
	}
	id, err := parseCVID(c.Param("id"))
	if err != nil {
		BadRequest(c, err.Error())
		return nil, uploadedFile{}, false
	}
	record, err := h.store.Load(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return nil, uploadedFile{}, false
	}
	if record.UserID != userID {
		Forbidden(c, "forbidden")
		return nil, uploadedFile{}, false
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes+1<<20)
	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(c, http.StatusRequestEntityTooLarge, "file too large")
			return nil, uploadedFile{}, false
		}
		BadRequest(c, "missing file")
		return nil, uploadedFile{}, false
	}
	if header.Size > maxBytes {
		Error(c, http.StatusRequestEntityTooLarge, "file too large")
		return nil, uploadedFile{}, false
	}

	f, err := header.Open()
	if err != nil {
		Internal(c, "failed to open file")
		return nil, uploadedFile{}, false
	}
	detected, err := mimetype.DetectReader(f)
	f.Close()
	if err != nil {
		Internal(c, "failed to inspect file")
		return nil, uploadedFile{}, false
	}
	contentType := strings.SplitN(detected.String(), ";", 2)[0]
	if !allowed(contentType) {
		Error(c, http.StatusUnsupportedMediaType, "unsupported file type "+contentType)
		return nil, uploadedFile{}, false
	}

	if h.scanner != nil {
		f, err := header.Open()
		if err != nil {
			Internal(c, "failed to open file")
			return nil, uploadedFile{}, false
		}
		err = h.scanner.Scan(f)
		f.Close()
		if errors.Is(err, ErrInfected) {
			BadRequest(c, "malicious file detected")
			return nil, uploadedFile{}, false
		}
		if err != nil {
			middleware.LoggerFromContext(c).Error("scan file", slog.Any("error", err))
			Internal(c, "failed to scan file")
			return nil, uploadedFile{}, false
		}
	}

	return record, uploadedFile{header: header, contentType: contentType, extension: detected.Extension()}, true
}

func (h *UploadHandler) upload(c *gin.Context, objectKey string, file uploadedFile) bool {
	f, err := file.header.Open()
	if err != nil {
		Internal(c, "failed to reopen file")
		return false
	}
	defer f.Close()

	if err := h.objects.UploadFile(c.Request.Context(), objectKey, f, file.header.Size, file.contentType); err != nil {
		middleware.LoggerFromContext(c).Error("upload file", slog.String("object_key", objectKey), slog.Any("error", err))
		Internal(c, "failed to upload file")
		return false
	}
	return true
}

// enqueueCleanup 入队删除旧对象；失败只记录日志。
func (h *UploadHandler) enqueueCleanup(c *gin.Context, cvID uint, objectKey string) {
	log := middleware.LoggerFromContext(c)
	if h.tasks == nil {
		log.Warn("no task queue configured, superseded object kept", slog.String("object_key", objectKey))
		return
	}
	task, opts, err := tasks.NewMediaCleanupTask(cvID, objectKey, middleware.GetCorrelationID(c), videoCleanupDelay)
	if err == nil {
		_, err = h.tasks.EnqueueContext(c.Request.Context(), task, opts...)
	}
	metrics.ObserveEnqueue(tasks.TypeMediaCleanup, err)
	if err != nil {
		log.Error("enqueue media cleanup", slog.String("object_key", objectKey), slog.Any("error", err))
	}
}

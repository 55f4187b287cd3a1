package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"cvSync/internal/api/middleware"
	"cvSync/internal/cv"
	"cvSync/internal/cvstore"
	"cvSync/internal/database"
	"cvSync/internal/editing"
)

// DefaultTemplateID 是请求未指定模板时使用的模板标识。
const DefaultTemplateID = "default"

var errInvalidCVID = errors.New("invalid cv id")

// Editor 应用编辑者的修改。
type Editor interface {
	ApplyEdit(ctx context.Context, edit editing.Edit) (*cv.Projection, error)
}

// Viewer 提供读路径。
type Viewer interface {
	GetView(ctx context.Context, id uint, shareKey string, lang cv.Language, templateID string) (*cv.Projection, error)
	Retrieve(ctx context.Context, editorID, id uint, lang cv.Language, templateID string) (*cv.Projection, error)
}

// CVHandler 负责简历的创建、读取、编辑与匿名查看。
type CVHandler struct {
	store     *cvstore.Store
	editor    Editor
	viewer    Viewer
	languages *languageResolver
}

// NewCVHandler 构造 CVHandler。
func NewCVHandler(store *cvstore.Store, editor Editor, viewer Viewer, languages []cv.Language) *CVHandler {
	return &CVHandler{
		store:     store,
		editor:    editor,
		viewer:    viewer,
		languages: newLanguageResolver(languages),
	}
}

type createCVRequest struct {
	Title string `json:"title" binding:"required,max=255"`
}

type cvResponse struct {
	ID          uint      `json:"id"`
	Title       string    `json:"title"`
	ShareKey    string    `json:"share_key"`
	CurrentStep int       `json:"current_step"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func newCVResponse(record *database.CV) cvResponse {
	return cvResponse{
		ID:          record.ID,
		Title:       record.Title,
		ShareKey:    record.ShareKey,
		CurrentStep: record.CurrentStep,
		CreatedAt:   record.CreatedAt,
		UpdatedAt:   record.UpdatedAt,
	}
}

// CreateCV 新建一份空简历并返回分享密钥。
func (h *CVHandler) CreateCV(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var req createCVRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	record, err := h.store.Create(c.Request.Context(), userID, strings.TrimSpace(req.Title))
	if err != nil {
		respondError(c, err)
		return
	}
	middleware.LoggerFromContext(c).Info("cv created", "cv_id", record.ID, "user_id", userID)
	c.JSON(http.StatusCreated, newCVResponse(record))
}

// GetCV 返回所有者在指定语言下的投影，必要时补齐缺失翻译。
func (h *CVHandler) GetCV(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	id, err := parseCVID(c.Param("id"))
	if err != nil {
		BadRequest(c, err.Error())
		return
	}
	var body struct {
		Language string `json:"language"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
			BadRequest(c, "invalid request body")
			return
		}
	}
	lang, err := h.languages.resolve(c, body.Language)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}
	templateID, ok := templateFromQuery(c)
	if !ok {
		BadRequest(c, "invalid template_id")
		return
	}

	projection, err := h.viewer.Retrieve(c.Request.Context(), userID, id, lang, templateID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, projection)
}

// UpdateCV 应用一次编辑；请求体中出现的内容字段即为补丁。
func (h *CVHandler) UpdateCV(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	id, err := parseCVID(c.Param("id"))
	if err != nil {
		BadRequest(c, err.Error())
		return
	}

	edit, explicitLang, err := decodeEdit(c)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}
	if edit.Language, err = h.languages.resolve(c, explicitLang); err != nil {
		BadRequest(c, err.Error())
		return
	}
	edit.EditorID = userID
	edit.CVID = id

	projection, err := h.editor.ApplyEdit(c.Request.Context(), edit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, projection)
}

// ViewCV 是匿名读路径，凭分享密钥访问。
func (h *CVHandler) ViewCV(c *gin.Context) {
	id, err := parseCVID(c.Param("id"))
	if err != nil {
		NotFound(c, "cv not found")
		return
	}
	lang, err := h.languages.parse(c.Param("lang"))
	if err != nil {
		NotFound(c, "cv not found")
		return
	}
	templateID, ok := templateFromQuery(c)
	if !ok {
		BadRequest(c, "invalid template_id")
		return
	}

	projection, err := h.viewer.GetView(c.Request.Context(), id, c.Param("share_key"), lang, templateID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, projection)
}

// decodeEdit 把请求体拆成元数据字段与内容补丁。
func decodeEdit(c *gin.Context) (editing.Edit, string, error) {
	var body map[string]json.RawMessage
	if err := c.ShouldBindJSON(&body); err != nil {
		return editing.Edit{}, "", err
	}

	edit := editing.Edit{TemplateID: DefaultTemplateID, Patch: cv.Content{}}
	var lang string
	for key, raw := range body {
		switch key {
		case "language":
			if err := json.Unmarshal(raw, &lang); err != nil {
				return edit, "", errors.New("language must be a string")
			}
		case "template_id":
			if err := json.Unmarshal(raw, &edit.TemplateID); err != nil {
				return edit, "", errors.New("template_id must be a string")
			}
		case "current_step":
			var step int
			if err := json.Unmarshal(raw, &step); err != nil {
				return edit, "", errors.New("current_step must be an integer")
			}
			edit.CurrentStep = &step
		default:
			slot, ok := cv.ParseSlot(key)
			if !ok {
				continue
			}
			var value any
			if err := json.Unmarshal(raw, &value); err != nil {
				return edit, "", err
			}
			edit.Patch[slot] = value
		}
	}
	return edit, lang, nil
}

func parseCVID(raw string) (uint, error) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, errInvalidCVID
	}
	return uint(id), nil
}

func templateFromQuery(c *gin.Context) (string, bool) {
	templateID := c.DefaultQuery("template_id", DefaultTemplateID)
	return templateID, cv.ValidTemplateID(templateID)
}

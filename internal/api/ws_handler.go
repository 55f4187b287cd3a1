package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"cvSync/internal/cv"
	"cvSync/internal/cvstore"
	"cvSync/internal/realtime"
)

// CloseNotFound 是简历不存在或分享密钥错误时使用的关闭码。
const CloseNotFound = 4404

// ViewLoader 加载会话的首帧投影。
type ViewLoader interface {
	GetView(ctx context.Context, id uint, shareKey string, lang cv.Language, templateID string) (*cv.Projection, error)
}

// WsHandler 把查看者的 WebSocket 连接接入实时总线。
type WsHandler struct {
	viewer         ViewLoader
	bus            *realtime.Bus
	clock          *cv.Clock
	languages      []cv.Language
	sessionConfig  realtime.SessionConfig
	logger         *slog.Logger
	upgrader       websocket.Upgrader
	allowedOrigins []string
}

// NewWsHandler 构造 WebSocket 处理器。
func NewWsHandler(viewer ViewLoader, bus *realtime.Bus, clock *cv.Clock, languages []cv.Language, cfg realtime.SessionConfig, logger *slog.Logger, allowedOrigins []string) *WsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &WsHandler{
		viewer:         viewer,
		bus:            bus,
		clock:          clock,
		languages:      languages,
		sessionConfig:  cfg,
		logger:         logger,
		allowedOrigins: allowedOrigins,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			if len(h.allowedOrigins) == 0 {
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			}
			for _, allowed := range h.allowedOrigins {
				if allowed == "*" || origin == allowed {
					return true
				}
			}
			return false
		},
	}
	return h
}

// HandleConnection 校验分组参数、加载首帧并运行会话。
func (h *WsHandler) HandleConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("upgrade websocket failed", slog.Any("error", err))
		return
	}

	log := h.logger.With(slog.String("client_ip", c.ClientIP()))

	group, err := cv.ParseGroupKey(c.Param("template_id"), c.Param("id"), c.Param("share_key"), c.Param("lang"), h.languages)
	if err != nil {
		log.Info("rejecting websocket with invalid group", slog.Any("error", err))
		writeClose(conn, websocket.ClosePolicyViolation, "invalid group")
		_ = conn.Close()
		return
	}

	session := realtime.NewSession(h.bus, conn, group, h.clock, h.sessionConfig, log)
	err = session.Open(c.Request.Context(), func(ctx context.Context) (*cv.Projection, error) {
		return h.viewer.GetView(ctx, group.CVID, group.ShareKey, group.Language, group.TemplateID)
	})
	if err != nil {
		code, text := websocket.CloseInternalServerErr, "internal error"
		if errors.Is(err, cvstore.ErrNotFound) {
			code, text = CloseNotFound, "not found"
		} else {
			log.Error("load initial projection failed", slog.String("group", group.String()), slog.Any("error", err))
		}
		writeClose(conn, code, text)
		_ = conn.Close()
		return
	}

	log.Info("websocket session opened", slog.String("group", group.String()))
	if err := session.Run(c.Request.Context()); err != nil {
		log.Info("websocket session closed", slog.String("group", group.String()), slog.Any("error", err))
		return
	}
	log.Info("websocket session closed", slog.String("group", group.String()))
}

func writeClose(conn *websocket.Conn, code int, text string) {
	deadline := time.Now().Add(5 * time.Second)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
}

package cv

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// 投影的 action 标签。
const (
	ActionInitial        = "initial"
	ActionUpdate         = "update"
	ActionFallbackUpdate = "fallback_update"
)

// Projection 是通过实时通道下发的载荷：翻译内容 + 简历元数据 + action 与时间戳。
type Projection struct {
	ID             uint      `json:"id"`
	TemplateID     string    `json:"template_id"`
	Title          string    `json:"title"`
	Language       Language  `json:"language"`
	TranslationKey string    `json:"translation_key"`
	CurrentStep    int       `json:"current_step"`
	PersonalInfo   any       `json:"personal_info"`
	Education      any       `json:"education"`
	Experience     any       `json:"experience"`
	Skills         any       `json:"skills"`
	Languages      any       `json:"languages"`
	Certificates   any       `json:"certificates"`
	VideoInfo      any       `json:"video_info"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	Action         string    `json:"action"`
	Timestamp      int64     `json:"timestamp"`
	EventID        string    `json:"event_id"`
}

// Meta 描述构造投影所需的简历元数据。
type Meta struct {
	ID          uint
	Title       string
	ShareKey    string
	CurrentStep int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewProjection 根据元数据与某一语言的内容构造投影。
func NewProjection(meta Meta, group GroupKey, lang Language, content Content, action string, clock *Clock) *Projection {
	content = content.Clone().Complete()
	ts := clock.Next()
	return &Projection{
		ID:             meta.ID,
		TemplateID:     group.TemplateID,
		Title:          meta.Title,
		Language:       lang,
		TranslationKey: group.String(),
		CurrentStep:    meta.CurrentStep,
		PersonalInfo:   content[PersonalInfo],
		Education:      content[Education],
		Experience:     content[Experience],
		Skills:         content[Skills],
		Languages:      content[Languages],
		Certificates:   content[Certificates],
		VideoInfo:      content[VideoInfo],
		CreatedAt:      meta.CreatedAt,
		UpdatedAt:      meta.UpdatedAt,
		Action:         action,
		Timestamp:      ts,
		EventID:        clock.ID(ts),
	}
}

// WithAction 返回带新 action 与新时间戳的副本。
func (p *Projection) WithAction(action string, clock *Clock) *Projection {
	cp := *p
	cp.Action = action
	cp.Timestamp = clock.Next()
	cp.EventID = clock.ID(cp.Timestamp)
	return &cp
}

// WithActionAt 返回带新 action 与指定时间戳的副本。
func (p *Projection) WithActionAt(action string, ts int64, clock *Clock) *Projection {
	cp := *p
	cp.Action = action
	cp.Timestamp = ts
	cp.EventID = clock.ID(ts)
	return &cp
}

// Content 返回投影中的七个字段。
func (p *Projection) Content() Content {
	return Content{
		PersonalInfo: p.PersonalInfo,
		Education:    p.Education,
		Experience:   p.Experience,
		Skills:       p.Skills,
		Languages:    p.Languages,
		Certificates: p.Certificates,
		VideoInfo:    p.VideoInfo,
	}
}

// Fields 以通用映射形式返回投影，供编码失败时的降级路径使用。
func (p *Projection) Fields() map[string]any {
	return map[string]any{
		"id":              p.ID,
		"template_id":     p.TemplateID,
		"title":           p.Title,
		"language":        string(p.Language),
		"translation_key": p.TranslationKey,
		"current_step":    p.CurrentStep,
		"personal_info":   p.PersonalInfo,
		"education":       p.Education,
		"experience":      p.Experience,
		"skills":          p.Skills,
		"languages":       p.Languages,
		"certificates":    p.Certificates,
		"video_info":      p.VideoInfo,
		"created_at":      p.CreatedAt,
		"updated_at":      p.UpdatedAt,
		"action":          p.Action,
		"timestamp":       p.Timestamp,
		"event_id":        p.EventID,
	}
}

// Clock 生成进程内严格递增的毫秒时间戳。
type Clock struct {
	mu      sync.Mutex
	last    int64
	now     func() time.Time
	entropy *ulid.MonotonicEntropy
}

// NewClock 创建基于系统时间的单调时钟。
func NewClock() *Clock {
	return &Clock{
		now:     time.Now,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// Next 返回 max(当前毫秒, 上次+1)。
func (c *Clock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts := c.now().UnixMilli()
	if ts <= c.last {
		ts = c.last + 1
	}
	c.last = ts
	return ts
}

// ID 为给定时间戳生成可排序的事件 ID。
func (c *Clock) ID(ts int64) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, err := ulid.New(uint64(ts), c.entropy)
	if err != nil {
		return ""
	}
	return id.String()
}

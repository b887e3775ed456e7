package templates

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"sync"
	"text/template"

	"go.uber.org/zap"

	"gng-loaner/internal/models"
)

// templateStore 模板读取（由 repository.TemplateRepository 实现）
type templateStore interface {
	GetTemplate(ctx context.Context, name string) (*models.Template, error)
}

// 正文中对基础模板的引用，如 {{template "reminder_base" .}}
var baseRefPattern = regexp.MustCompile(`\{\{\s*template\s+"([A-Za-z0-9_]*_base)"`)

// Renderer 通知模板渲染器
// 模板正文可引用以 _base 结尾的基础模板，渲染时一并装配
type Renderer struct {
	store  templateStore
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[string]*models.Template
}

// NewRenderer 创建渲染器
func NewRenderer(store templateStore, logger *zap.Logger) *Renderer {
	return &Renderer{
		store:  store,
		logger: logger,
		cache:  make(map[string]*models.Template),
	}
}

// Invalidate 清空缓存，模板写入后调用
func (r *Renderer) Invalidate() {
	r.mu.Lock()
	r.cache = make(map[string]*models.Template)
	r.mu.Unlock()
}

func (r *Renderer) lookup(ctx context.Context, name string) (*models.Template, error) {
	r.mu.RLock()
	cached, ok := r.cache[name]
	r.mu.RUnlock()
	if ok {
		return cached, nil
	}

	tmpl, err := r.store.GetTemplate(ctx, name)
	if err != nil {
		return nil, err
	}
	if tmpl == nil {
		return nil, fmt.Errorf("template not found: %s", name)
	}

	r.mu.Lock()
	r.cache[name] = tmpl
	r.mu.Unlock()

	return tmpl, nil
}

// Render 渲染模板，返回标题和正文
func (r *Renderer) Render(ctx context.Context, name string, data interface{}) (string, string, error) {
	tmpl, err := r.lookup(ctx, name)
	if err != nil {
		return "", "", err
	}

	title, err := r.renderText(name+":title", tmpl.Title, data)
	if err != nil {
		return "", "", fmt.Errorf("failed to render title of %s: %w", name, err)
	}

	root := template.New(name)
	for _, match := range baseRefPattern.FindAllStringSubmatch(tmpl.Body, -1) {
		baseName := match[1]
		base, err := r.lookup(ctx, baseName)
		if err != nil {
			return "", "", fmt.Errorf("failed to load base template %s: %w", baseName, err)
		}
		if _, err := root.New(baseName).Parse(base.Body); err != nil {
			return "", "", fmt.Errorf("failed to parse base template %s: %w", baseName, err)
		}
	}

	main, err := root.New(name + ":body").Parse(tmpl.Body)
	if err != nil {
		return "", "", fmt.Errorf("failed to parse template %s: %w", name, err)
	}

	var body bytes.Buffer
	if err := main.Execute(&body, data); err != nil {
		return "", "", fmt.Errorf("failed to render body of %s: %w", name, err)
	}

	return title, body.String(), nil
}

func (r *Renderer) renderText(name, text string, data interface{}) (string, error) {
	t, err := template.New(name).Parse(text)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

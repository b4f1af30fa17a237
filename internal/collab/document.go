package collab

import (
	"sync"

	"github.com/WillKirkmanM/draw/internal/shape"
)

// DocumentStore 是宿主应用提供的文档快照/变更接口。
// 协作核心只调用它，从不实现形状语义（渲染、命中测试都在宿主侧）。
type DocumentStore interface {
	// Shapes 返回当前文档的全部形状，顺序即绘制顺序。
	Shapes() []shape.Shape
	// LoadShapes 用给定集合整体替换文档内容（全量同步）。
	LoadShapes(shapes []shape.Shape)
	// AddShape 把形状追加到文档末尾。
	AddShape(s shape.Shape)
	// UpdateShape 按 id 查找并替换形状；找不到时忽略。
	UpdateShape(s shape.Shape)
	// DeleteShape 按 id 删除形状；找不到时忽略。
	DeleteShape(id string)
}

// MemoryDocument 是 DocumentStore 的进程内实现。
// 协作核心的回调在网络 goroutine 中触达文档，而宿主 UI 在自己的
// goroutine 中读写，所以这里必须有互斥保护。
type MemoryDocument struct {
	mu     sync.RWMutex
	shapes []shape.Shape
}

// NewMemoryDocument 创建一个空文档。
func NewMemoryDocument() *MemoryDocument {
	return &MemoryDocument{}
}

func (d *MemoryDocument) Shapes() []shape.Shape {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]shape.Shape, len(d.shapes))
	copy(out, d.shapes)
	return out
}

func (d *MemoryDocument) LoadShapes(shapes []shape.Shape) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shapes = make([]shape.Shape, len(shapes))
	copy(d.shapes, shapes)
}

func (d *MemoryDocument) AddShape(s shape.Shape) {
	if s == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shapes = append(d.shapes, s)
}

func (d *MemoryDocument) UpdateShape(s shape.Shape) {
	if s == nil || s.ShapeID() == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, existing := range d.shapes {
		if existing.ShapeID() == s.ShapeID() {
			// 线上传输的是完整的形状记录，整体替换等价于
			// 对固定字段集做浅合并。
			d.shapes[i] = s
			return
		}
	}
}

func (d *MemoryDocument) DeleteShape(id string) {
	if id == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, existing := range d.shapes {
		if existing.ShapeID() == id {
			d.shapes = append(d.shapes[:i], d.shapes[i+1:]...)
			return
		}
	}
}

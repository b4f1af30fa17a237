// Package shape 定义画板文档中的形状模型。
//
// 每种形状是一个字段集固定的具体类型，而不是一条按需增删字段的动态记录：
// pencil/line/arrow 没有填充色，text 没有描边，image 三者都没有。
// 形状语义（渲染、命中测试）由宿主应用负责，这里只承载数据和编解码。
package shape

import (
	"strconv"
	"time"
)

// Kind 是形状的判别类型，对应 JSON 中的 type 字段。
type Kind string

const (
	KindRect    Kind = "rect"
	KindEllipse Kind = "ellipse"
	KindDiamond Kind = "diamond"
	KindLine    Kind = "line"
	KindArrow   Kind = "arrow"
	KindPencil  Kind = "pencil"
	KindText    Kind = "text"
	KindImage   Kind = "image"
)

// Shape 是所有形状类型实现的接口。
type Shape interface {
	Kind() Kind
	// ShapeID 返回客户端生成的形状 id；形状可以没有 id，此时返回空串。
	ShapeID() string
}

// NewID 生成一个基于时间戳的形状 id（自 epoch 起的毫秒数，十进制字符串）。
func NewID() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10)
}

// Style 是多数形状共有的描边/填充属性。
type Style struct {
	StrokeColor  string  `json:"strokeColor,omitempty"`
	FillColor    string  `json:"fillColor,omitempty"`
	StrokeWeight float64 `json:"strokeWeight,omitempty"`
	Opacity      float64 `json:"opacity,omitempty"`
}

// Rect 是轴对齐矩形。
type Rect struct {
	ID     string  `json:"id,omitempty"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Style
}

// Ellipse 以外接矩形表示。
type Ellipse struct {
	ID     string  `json:"id,omitempty"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Style
}

// Diamond 以外接矩形表示。
type Diamond struct {
	ID     string  `json:"id,omitempty"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Style
}

// Line 是两点线段，没有填充色。
type Line struct {
	ID           string  `json:"id,omitempty"`
	X1           float64 `json:"x1"`
	Y1           float64 `json:"y1"`
	X2           float64 `json:"x2"`
	Y2           float64 `json:"y2"`
	StrokeColor  string  `json:"strokeColor,omitempty"`
	StrokeWeight float64 `json:"strokeWeight,omitempty"`
	Opacity      float64 `json:"opacity,omitempty"`
}

// Arrow 是带箭头的线段，没有填充色。
type Arrow struct {
	ID           string  `json:"id,omitempty"`
	X1           float64 `json:"x1"`
	Y1           float64 `json:"y1"`
	X2           float64 `json:"x2"`
	Y2           float64 `json:"y2"`
	HeadSize     float64 `json:"headSize,omitempty"`
	StrokeColor  string  `json:"strokeColor,omitempty"`
	StrokeWeight float64 `json:"strokeWeight,omitempty"`
	Opacity      float64 `json:"opacity,omitempty"`
}

// Pencil 是自由绘制路径，点序列为 [x, y] 对，没有填充色。
type Pencil struct {
	ID           string       `json:"id,omitempty"`
	Points       [][2]float64 `json:"points"`
	StrokeColor  string       `json:"strokeColor,omitempty"`
	StrokeWeight float64      `json:"strokeWeight,omitempty"`
	Opacity      float64      `json:"opacity,omitempty"`
}

// Text 用填充色作为文字颜色，没有描边。
type Text struct {
	ID         string  `json:"id,omitempty"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Text       string  `json:"text"`
	FontFamily string  `json:"fontFamily,omitempty"`
	FontSize   float64 `json:"fontSize,omitempty"`
	TextAlign  string  `json:"textAlign,omitempty"`
	FillColor  string  `json:"fillColor,omitempty"`
	Opacity    float64 `json:"opacity,omitempty"`
}

// Image 只有几何和数据源，没有描边或填充。
type Image struct {
	ID      string  `json:"id,omitempty"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
	Src     string  `json:"src"`
	Opacity float64 `json:"opacity,omitempty"`
}

func (s *Rect) Kind() Kind    { return KindRect }
func (s *Ellipse) Kind() Kind { return KindEllipse }
func (s *Diamond) Kind() Kind { return KindDiamond }
func (s *Line) Kind() Kind    { return KindLine }
func (s *Arrow) Kind() Kind   { return KindArrow }
func (s *Pencil) Kind() Kind  { return KindPencil }
func (s *Text) Kind() Kind    { return KindText }
func (s *Image) Kind() Kind   { return KindImage }

func (s *Rect) ShapeID() string    { return s.ID }
func (s *Ellipse) ShapeID() string { return s.ID }
func (s *Diamond) ShapeID() string { return s.ID }
func (s *Line) ShapeID() string    { return s.ID }
func (s *Arrow) ShapeID() string   { return s.ID }
func (s *Pencil) ShapeID() string  { return s.ID }
func (s *Text) ShapeID() string    { return s.ID }
func (s *Image) ShapeID() string   { return s.ID }

package shape

import (
	"encoding/json"
	"fmt"
)

// Marshal 将形状编码为携带 type 判别字段的 JSON 对象。
func Marshal(s Shape) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("shape: cannot marshal nil shape")
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("shape: marshal %s: %w", s.Kind(), err)
	}
	// 具体类型本身不带 type 字段，这里注入判别值。
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("shape: reshape %s: %w", s.Kind(), err)
	}
	fields["type"] = s.Kind()
	return json.Marshal(fields)
}

// Unmarshal 按 type 判别字段把 JSON 对象解码成具体的形状类型。
// 未知的 type 是错误：形状种类集合是封闭的。
func Unmarshal(raw []byte) (Shape, error) {
	var probe struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("shape: malformed shape: %w", err)
	}

	var s Shape
	switch probe.Type {
	case KindRect:
		s = &Rect{}
	case KindEllipse:
		s = &Ellipse{}
	case KindDiamond:
		s = &Diamond{}
	case KindLine:
		s = &Line{}
	case KindArrow:
		s = &Arrow{}
	case KindPencil:
		s = &Pencil{}
	case KindText:
		s = &Text{}
	case KindImage:
		s = &Image{}
	case "":
		return nil, fmt.Errorf("shape: shape has no type field")
	default:
		return nil, fmt.Errorf("shape: unknown shape type %q", probe.Type)
	}

	if err := json.Unmarshal(raw, s); err != nil {
		return nil, fmt.Errorf("shape: unmarshal %s: %w", probe.Type, err)
	}
	return s, nil
}

// MarshalList 编码一个有序形状序列；顺序即绘制 (z-) 顺序。
func MarshalList(shapes []Shape) ([]byte, error) {
	items := make([]json.RawMessage, 0, len(shapes))
	for _, s := range shapes {
		raw, err := Marshal(s)
		if err != nil {
			return nil, err
		}
		items = append(items, raw)
	}
	return json.Marshal(items)
}

// UnmarshalList 解码形状序列并保持顺序。
func UnmarshalList(raw []byte) ([]Shape, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("shape: malformed shape list: %w", err)
	}
	shapes := make([]Shape, 0, len(items))
	for i, item := range items {
		s, err := Unmarshal(item)
		if err != nil {
			return nil, fmt.Errorf("shape: list item %d: %w", i, err)
		}
		shapes = append(shapes, s)
	}
	return shapes, nil
}

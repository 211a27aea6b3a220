package metadata

import "strings"

// tagShape 标签值在不同容器里的形态：
// scalar 一个字段一个值，list 一个字段多个值，nested 多个字段且每个字段可能有多个值
type tagShape int

const (
	shapeAbsent tagShape = iota
	shapeScalar
	shapeList
	shapeNested
)

// tagValue 解析边界上的标签联合类型，只在本包内使用，取出后立即展平
type tagValue struct {
	shape  tagShape
	scalar string
	list   []string
	nested [][]string
}

func scalarValue(v string) tagValue {
	return tagValue{shape: shapeScalar, scalar: v}
}

func listValue(v []string) tagValue {
	return tagValue{shape: shapeList, list: v}
}

func nestedValue(v [][]string) tagValue {
	return tagValue{shape: shapeNested, nested: v}
}

// occurrencesValue 按字段出现次数和每个字段的值个数选择形态
// ID3v2.4 的多值字段以 NUL 分隔
func occurrencesValue(occurrences []string) tagValue {
	split := make([][]string, 0, len(occurrences))
	for _, occ := range occurrences {
		if occ == "" {
			continue
		}
		split = append(split, strings.Split(occ, "\x00"))
	}
	switch {
	case len(split) == 0:
		return tagValue{}
	case len(split) > 1:
		return nestedValue(split)
	case len(split[0]) > 1:
		return listValue(split[0])
	default:
		return scalarValue(split[0][0])
	}
}

// flatten 展平为一维序列，去掉首尾空白和空值，保留顺序
func (v tagValue) flatten() []string {
	var raw []string
	switch v.shape {
	case shapeScalar:
		raw = []string{v.scalar}
	case shapeList:
		raw = v.list
	case shapeNested:
		for _, inner := range v.nested {
			raw = append(raw, inner...)
		}
	}

	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// flattenOr 展平，结果为空时使用默认值
func (v tagValue) flattenOr(fallback ...string) []string {
	if out := v.flatten(); len(out) > 0 {
		return out
	}
	return append([]string(nil), fallback...)
}

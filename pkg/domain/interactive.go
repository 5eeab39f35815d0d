package domain

import (
	"fmt"
	"strings"
)

// InteractiveElement 页面上一个可见的可交互元素，Index 从 1 开始，与标注截图上的编号一致
type InteractiveElement struct {
	Index     int    `json:"index"`
	Tag       string `json:"tag"`
	Text      string `json:"text,omitempty"`
	Bounds    Rect   `json:"bounds"`
	Clickable bool   `json:"clickable"`
	InputType string `json:"inputType,omitempty"`
	Href      string `json:"href,omitempty"`
	Role      string `json:"role,omitempty"`
}

// Center 元素中心点
func (e InteractiveElement) Center() Point { return e.Bounds.Center() }

// Contains 点是否落在元素内
func (e InteractiveElement) Contains(p Point) bool { return e.Bounds.Contains(p) }

// Description 简短描述，文本超过 30 个字符时截断
func (e InteractiveElement) Description() string {
	var base string
	switch {
	case e.Text != "":
		text := e.Text
		if r := []rune(text); len(r) > 30 {
			text = string(r[:27]) + "..."
		}
		base = fmt.Sprintf("%s: %q", e.Tag, text)
	case e.Href != "":
		base = e.Tag + ": " + e.Href
	case e.Role != "":
		base = e.Tag + " [" + e.Role + "]"
	default:
		base = e.Tag
	}
	if e.InputType != "" {
		base += " (type=" + e.InputType + ")"
	}
	return base
}

// Describe 每个元素一行，形如 "[3] button: \"Sign in\""
func Describe(els []InteractiveElement) string {
	var sb strings.Builder
	for _, e := range els {
		fmt.Fprintf(&sb, "[%d] %s\n", e.Index, e.Description())
	}
	return sb.String()
}

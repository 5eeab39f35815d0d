package automation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strconv"

	"cdpstealth/pkg/domain"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

type elementSummary struct {
	Tag  string `json:"tag"`
	Text string `json:"text"`
	Type string `json:"type"`
	Href string `json:"href"`
	Role string `json:"role"`
}

func (s elementSummary) clickable() bool {
	switch s.Tag {
	case "select", "textarea":
		return false
	case "input":
		return nonTextInputs[s.Type]
	}
	return true
}

// InteractiveElements 按文档顺序列出可见的可交互元素。
// 扫描期间被移除或没有盒模型的元素会被跳过，编号保持连续
func (p *Page) InteractiveElements(ctx context.Context) ([]domain.InteractiveElement, error) {
	els, err := p.FindAll(ctx, controlSelector)
	if err != nil {
		return nil, err
	}
	out := make([]domain.InteractiveElement, 0, len(els))
	for _, e := range els {
		bounds, err := e.BoundingBox(ctx)
		if err != nil {
			if domain.IsMissing(err) {
				continue
			}
			return nil, err
		}
		var s elementSummary
		if err := e.call(ctx, fnElementDescribe, &s); err != nil {
			if domain.IsMissing(err) {
				continue
			}
			return nil, err
		}
		out = append(out, domain.InteractiveElement{
			Index:     len(out) + 1,
			Tag:       s.Tag,
			Text:      s.Text,
			Bounds:    bounds,
			Clickable: s.clickable(),
			InputType: s.Type,
			Href:      s.Href,
			Role:      s.Role,
		})
	}
	p.log.Debug("收集可交互元素", "count", len(out))
	return out, nil
}

// AnnotatedScreenshot PNG 截图，每个可交互元素画框并标上编号
func (p *Page) AnnotatedScreenshot(ctx context.Context) ([]byte, []domain.InteractiveElement, error) {
	els, err := p.InteractiveElements(ctx)
	if err != nil {
		return nil, nil, err
	}
	shot, err := p.Screenshot(ctx)
	if err != nil {
		return nil, nil, err
	}
	out, err := Annotate(shot, els, AnnotateOptions{})
	if err != nil {
		return nil, nil, err
	}
	return out, els, nil
}

// AnnotateOptions 标注样式，零值使用默认
type AnnotateOptions struct {
	BoxColor   color.Color
	LabelColor color.Color
	TextColor  color.Color
	Thickness  int
	// Scale CSS 像素到截图像素的比例，等于设备像素比
	Scale float64
}

func (o *AnnotateOptions) defaults() {
	if o.BoxColor == nil {
		o.BoxColor = color.RGBA{R: 255, A: 255}
	}
	if o.LabelColor == nil {
		o.LabelColor = color.RGBA{R: 255, A: 255}
	}
	if o.TextColor == nil {
		o.TextColor = color.White
	}
	if o.Thickness <= 0 {
		o.Thickness = 2
	}
	if o.Scale <= 0 {
		o.Scale = 1
	}
}

const labelPad = 2

// ErrInvalidImage 截图无法解码为 PNG
var ErrInvalidImage = errors.New("invalid png screenshot")

// Annotate 在 PNG 截图上为元素画框和编号标签，返回新的 PNG
func Annotate(shot []byte, els []domain.InteractiveElement, opts AnnotateOptions) ([]byte, error) {
	opts.defaults()
	src, err := png.Decode(bytes.NewReader(shot))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	canvas := image.NewRGBA(src.Bounds())
	draw.Draw(canvas, canvas.Bounds(), src, src.Bounds().Min, draw.Src)

	face := basicfont.Face7x13
	for _, el := range els {
		r := scaleRect(el.Bounds, opts.Scale)
		if !r.Empty() {
			strokeRect(canvas, r, opts.Thickness, opts.BoxColor)
		}

		label := strconv.Itoa(el.Index)
		w := font.MeasureString(face, label).Ceil() + 2*labelPad
		h := face.Height + 2*labelPad
		y := r.Min.Y - h
		if y < 0 {
			y = r.Min.Y
		}
		lr := image.Rect(r.Min.X, y, r.Min.X+w, y+h)
		draw.Draw(canvas, lr, image.NewUniform(opts.LabelColor), image.Point{}, draw.Src)
		d := &font.Drawer{
			Dst:  canvas,
			Src:  image.NewUniform(opts.TextColor),
			Face: face,
			Dot:  fixed.P(lr.Min.X+labelPad, lr.Min.Y+labelPad+face.Ascent),
		}
		d.DrawString(label)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func scaleRect(r domain.Rect, scale float64) image.Rectangle {
	return image.Rect(
		int(r.X*scale),
		int(r.Y*scale),
		int((r.X+r.Width)*scale),
		int((r.Y+r.Height)*scale),
	)
}

// strokeRect 画空心矩形，线宽向内延伸
func strokeRect(dst draw.Image, r image.Rectangle, t int, c color.Color) {
	u := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+t),
		image.Rect(r.Min.X, r.Max.Y-t, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+t, r.Max.Y),
		image.Rect(r.Max.X-t, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(dst, e.Intersect(dst.Bounds()), u, image.Point{}, draw.Src)
	}
}

package automation

import (
	"context"
	"fmt"

	"cdpstealth/internal/cdp"
	"cdpstealth/pkg/domain"

	"github.com/mafredri/cdp/protocol/input"
)

func (p *Page) mousePos() domain.Point {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mouse
}

func (p *Page) setMouse(pt domain.Point) {
	p.mu.Lock()
	p.mouse = pt
	p.mu.Unlock()
}

// moveTo 移动鼠标。开启人类输入时沿轨迹逐点移动，速率受限
func (p *Page) moveTo(ctx context.Context, to domain.Point) error {
	path := []domain.Point{to}
	if p.opts.HumanInput && p.opts.Motion != nil {
		path = p.opts.Motion.Path(p.mousePos(), to)
		if n := len(path); n == 0 || path[n-1] != to {
			path = append(path, to)
		}
	}
	for _, pt := range path {
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		if err := p.c.Input.DispatchMouseEvent(ctx, &cdp.MouseEventArgs{Type: cdp.MouseMoved, X: pt.X, Y: pt.Y}); err != nil {
			return err
		}
		p.setMouse(pt)
	}
	return nil
}

func (p *Page) clickAt(ctx context.Context, pt domain.Point) error {
	if err := p.moveTo(ctx, pt); err != nil {
		return err
	}
	press := &cdp.MouseEventArgs{Type: cdp.MousePressed, X: pt.X, Y: pt.Y, Button: "left", Buttons: 1, ClickCount: 1}
	if err := p.c.Input.DispatchMouseEvent(ctx, press); err != nil {
		return err
	}
	release := &cdp.MouseEventArgs{Type: cdp.MouseReleased, X: pt.X, Y: pt.Y, Button: "left", ClickCount: 1}
	return p.c.Input.DispatchMouseEvent(ctx, release)
}

// typeText 向焦点元素输入文本。未开启人类输入时一次性 insertText
func (p *Page) typeText(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	if !p.opts.HumanInput || p.opts.Cadence == nil {
		return p.c.Input.InsertText(ctx, input.NewInsertTextArgs(text))
	}
	delays := p.opts.Cadence.Delays(text)
	for i, r := range []rune(text) {
		if i < len(delays) {
			if err := sleep(ctx, delays[i]); err != nil {
				return err
			}
		}
		ch := string(r)
		if err := p.c.Input.DispatchKeyEvent(ctx, input.NewDispatchKeyEventArgs("keyDown").SetText(ch).SetKey(ch)); err != nil {
			return err
		}
		if err := p.c.Input.DispatchKeyEvent(ctx, input.NewDispatchKeyEventArgs("keyUp").SetKey(ch)); err != nil {
			return err
		}
	}
	return nil
}

type keyDef struct {
	key  string
	code string
	vk   int
	text string
}

var specialKeys = map[string]keyDef{
	"Enter":      {key: "Enter", code: "Enter", vk: 13, text: "\r"},
	"Tab":        {key: "Tab", code: "Tab", vk: 9},
	"Escape":     {key: "Escape", code: "Escape", vk: 27},
	"Backspace":  {key: "Backspace", code: "Backspace", vk: 8},
	"Delete":     {key: "Delete", code: "Delete", vk: 46},
	"Space":      {key: " ", code: "Space", vk: 32, text: " "},
	"ArrowUp":    {key: "ArrowUp", code: "ArrowUp", vk: 38},
	"ArrowDown":  {key: "ArrowDown", code: "ArrowDown", vk: 40},
	"ArrowLeft":  {key: "ArrowLeft", code: "ArrowLeft", vk: 37},
	"ArrowRight": {key: "ArrowRight", code: "ArrowRight", vk: 39},
	"Home":       {key: "Home", code: "Home", vk: 36},
	"End":        {key: "End", code: "End", vk: 35},
	"PageUp":     {key: "PageUp", code: "PageUp", vk: 33},
	"PageDown":   {key: "PageDown", code: "PageDown", vk: 34},
}

// PressKey 按下并释放一个键，支持常用功能键名或单个字符
func (p *Page) PressKey(ctx context.Context, key string) error {
	def, ok := specialKeys[key]
	if !ok {
		if len([]rune(key)) != 1 {
			return fmt.Errorf("unknown key %q", key)
		}
		def = keyDef{key: key, text: key}
	}
	down := input.NewDispatchKeyEventArgs("rawKeyDown").SetKey(def.key)
	if def.text != "" {
		down = input.NewDispatchKeyEventArgs("keyDown").SetKey(def.key).SetText(def.text)
	}
	up := input.NewDispatchKeyEventArgs("keyUp").SetKey(def.key)
	if def.code != "" {
		down.SetCode(def.code).SetWindowsVirtualKeyCode(def.vk)
		up.SetCode(def.code).SetWindowsVirtualKeyCode(def.vk)
	}
	if err := p.c.Input.DispatchKeyEvent(ctx, down); err != nil {
		return err
	}
	return p.c.Input.DispatchKeyEvent(ctx, up)
}

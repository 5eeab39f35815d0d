package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cdpstealth/internal/cdp"
	"cdpstealth/pkg/domain"

	"github.com/mafredri/cdp/protocol/dom"
	"github.com/mafredri/cdp/protocol/runtime"
)

// Element 页面中的一个节点句柄，节点被移除或文档重新加载后失效
type Element struct {
	page     *Page
	NodeID   dom.NodeID
	Selector string
}

type elementState struct {
	Tag      string `json:"tag"`
	Disabled bool   `json:"disabled"`
	Editable bool   `json:"editable"`
	ReadOnly bool   `json:"readOnly"`
	Type     string `json:"type"`
}

// nonTextInputs 不接受文本输入的 input 类型
var nonTextInputs = map[string]bool{
	"button":   true,
	"checkbox": true,
	"color":    true,
	"file":     true,
	"hidden":   true,
	"image":    true,
	"radio":    true,
	"range":    true,
	"reset":    true,
	"submit":   true,
}

func (s elementState) fillable() bool {
	if !s.Editable || s.ReadOnly {
		return false
	}
	return s.Tag != "input" || !nonTextInputs[s.Type]
}

// call 以元素为 this 调用页面函数，结果按值返回并解码到 out
func (e *Element) call(ctx context.Context, fn string, out any, args ...any) error {
	c := e.page.c
	r, err := c.DOM.ResolveNode(ctx, dom.NewResolveNodeArgs().SetNodeID(e.NodeID))
	if err != nil {
		return domain.Clarify(err, e.Selector)
	}
	if r.Object.ObjectID == nil {
		return domain.NotFound(e.Selector)
	}
	oid := *r.Object.ObjectID
	defer func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
		defer cancel()
		if err := c.Runtime.ReleaseObject(rctx, runtime.NewReleaseObjectArgs(oid)); err != nil {
			e.page.log.Debug("释放远程对象失败", "error", err.Error())
		}
	}()

	cargs := make([]runtime.CallArgument, 0, len(args))
	for _, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("encode argument: %w", err)
		}
		cargs = append(cargs, runtime.CallArgument{Value: b})
	}
	cr, err := c.Runtime.CallFunctionOn(ctx, runtime.NewCallFunctionOnArgs(fn).
		SetObjectID(oid).
		SetArguments(cargs).
		SetReturnByValue(true).
		SetAwaitPromise(true))
	if err != nil {
		return domain.Clarify(err, e.Selector)
	}
	if cr.ExceptionDetails != nil {
		return newEvalError(cr.ExceptionDetails)
	}
	if out == nil || len(cr.Result.Value) == 0 {
		return nil
	}
	if err := json.Unmarshal(cr.Result.Value, out); err != nil {
		return fmt.Errorf("decode call result: %w", err)
	}
	return nil
}

func (e *Element) state(ctx context.Context) (elementState, error) {
	var s elementState
	err := e.call(ctx, fnElementState, &s)
	return s, err
}

func (e *Element) quad(ctx context.Context) (dom.Quad, error) {
	r, err := e.page.c.DOM.GetBoxModel(ctx, dom.NewGetBoxModelArgs().SetNodeID(e.NodeID))
	if err != nil {
		return nil, domain.Clarify(err, e.Selector)
	}
	return r.Model.Border, nil
}

// IsVisible 元素是否有非退化的盒模型。
// 浏览器明确报告无盒模型时返回 false；节点丢失或其他协议错误作为 error 返回
func (e *Element) IsVisible(ctx context.Context) (bool, error) {
	q, err := e.quad(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrElementNotVisible) {
			return false, nil
		}
		return false, err
	}
	_, ok := quadBounds(q)
	return ok, nil
}

// BoundingBox 轴对齐外接矩形，对旋转或倾斜的元素取角点的最小/最大范围
func (e *Element) BoundingBox(ctx context.Context) (domain.Rect, error) {
	q, err := e.quad(ctx)
	if err != nil {
		return domain.Rect{}, err
	}
	r, ok := quadBounds(q)
	if !ok {
		return domain.Rect{}, domain.NotVisible(e.Selector)
	}
	return r, nil
}

// Center 元素中心点
func (e *Element) Center(ctx context.Context) (domain.Point, error) {
	q, err := e.quad(ctx)
	if err != nil {
		return domain.Point{}, err
	}
	if _, ok := quadBounds(q); !ok {
		return domain.Point{}, domain.NotVisible(e.Selector)
	}
	return quadCenter(q), nil
}

// ScrollIntoView 滚动到可见区域
func (e *Element) ScrollIntoView(ctx context.Context) error {
	err := e.page.c.DOM.ScrollIntoViewIfNeeded(ctx, &cdp.ScrollIntoViewArgs{NodeID: e.NodeID})
	return domain.Clarify(err, e.Selector)
}

// Focus 聚焦元素
func (e *Element) Focus(ctx context.Context) error {
	err := e.page.c.DOM.Focus(ctx, dom.NewFocusArgs().SetNodeID(e.NodeID))
	return domain.Clarify(err, e.Selector)
}

// target 滚动到可见区域并返回中心点，不可见时返回 ElementNotVisible
func (e *Element) target(ctx context.Context) (domain.Point, error) {
	if err := e.ScrollIntoView(ctx); err != nil {
		return domain.Point{}, err
	}
	return e.Center(ctx)
}

// Click 左键单击元素中心，禁用元素返回 ElementNotInteractive
func (e *Element) Click(ctx context.Context) error {
	pt, err := e.target(ctx)
	if err != nil {
		return err
	}
	st, err := e.state(ctx)
	if err != nil {
		return err
	}
	if st.Disabled {
		return domain.NotInteractive(e.Selector, "disabled")
	}
	return e.page.clickAt(ctx, pt)
}

// Hover 鼠标移动到元素中心
func (e *Element) Hover(ctx context.Context) error {
	pt, err := e.target(ctx)
	if err != nil {
		return err
	}
	return e.page.moveTo(ctx, pt)
}

// Fill 清空后输入文本
func (e *Element) Fill(ctx context.Context, text string) error {
	return e.input(ctx, text, true)
}

// Type 在现有内容后输入文本
func (e *Element) Type(ctx context.Context, text string) error {
	return e.input(ctx, text, false)
}

func (e *Element) input(ctx context.Context, text string, clear bool) error {
	if _, err := e.target(ctx); err != nil {
		return err
	}
	st, err := e.state(ctx)
	if err != nil {
		return err
	}
	switch {
	case st.Disabled:
		return domain.NotInteractive(e.Selector, "disabled")
	case !st.fillable():
		return domain.NotInteractive(e.Selector, "not editable")
	}
	if err := e.Focus(ctx); err != nil {
		return err
	}
	if clear {
		if err := e.call(ctx, fnElementClear, nil); err != nil {
			return err
		}
	}
	return e.page.typeText(ctx, text)
}

// SetFiles 为 file input 设置待上传文件
func (e *Element) SetFiles(ctx context.Context, paths ...string) error {
	err := e.page.c.DOM.SetFileInputFiles(ctx, dom.NewSetFileInputFilesArgs(paths).SetNodeID(e.NodeID))
	return domain.Clarify(err, e.Selector)
}

// Text 可见文本
func (e *Element) Text(ctx context.Context) (string, error) {
	var s string
	err := e.call(ctx, fnElementText, &s)
	return s, err
}

// OuterHTML 元素 HTML
func (e *Element) OuterHTML(ctx context.Context) (string, error) {
	r, err := e.page.c.DOM.GetOuterHTML(ctx, dom.NewGetOuterHTMLArgs().SetNodeID(e.NodeID))
	if err != nil {
		return "", domain.Clarify(err, e.Selector)
	}
	return r.OuterHTML, nil
}

// Attribute 属性值，属性不存在时 ok 为 false
func (e *Element) Attribute(ctx context.Context, name string) (value string, ok bool, err error) {
	r, err := e.page.c.DOM.GetAttributes(ctx, dom.NewGetAttributesArgs(e.NodeID))
	if err != nil {
		return "", false, domain.Clarify(err, e.Selector)
	}
	for i := 0; i+1 < len(r.Attributes); i += 2 {
		if r.Attributes[i] == name {
			return r.Attributes[i+1], true, nil
		}
	}
	return "", false, nil
}

// TagName 小写标签名
func (e *Element) TagName(ctx context.Context) (string, error) {
	st, err := e.state(ctx)
	return st.Tag, err
}

// Value 表单控件的当前值
func (e *Element) Value(ctx context.Context) (string, error) {
	var s string
	err := e.call(ctx, fnElementValue, &s)
	return s, err
}

// IsEnabled 未被 disabled 或 aria-disabled 禁用
func (e *Element) IsEnabled(ctx context.Context) (bool, error) {
	st, err := e.state(ctx)
	return !st.Disabled, err
}

// IsChecked 复选框或单选框是否选中
func (e *Element) IsChecked(ctx context.Context) (bool, error) {
	var b bool
	err := e.call(ctx, fnElementChecked, &b)
	return b, err
}

// CSS 计算样式值
func (e *Element) CSS(ctx context.Context, prop string) (string, error) {
	var s string
	err := e.call(ctx, fnElementCSS, &s, prop)
	return s, err
}

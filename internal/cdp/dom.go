package cdp

import (
	"context"

	"github.com/mafredri/cdp/protocol/dom"
)

// DOM 域
type DOM struct{ c Caller }

func (d *DOM) GetDocument(ctx context.Context, args *dom.GetDocumentArgs) (*dom.GetDocumentReply, error) {
	reply := new(dom.GetDocumentReply)
	if err := Invoke(ctx, d.c, "DOM.getDocument", args, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

func (d *DOM) QuerySelector(ctx context.Context, args *dom.QuerySelectorArgs) (*dom.QuerySelectorReply, error) {
	reply := new(dom.QuerySelectorReply)
	if err := Invoke(ctx, d.c, "DOM.querySelector", args, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

func (d *DOM) QuerySelectorAll(ctx context.Context, args *dom.QuerySelectorAllArgs) (*dom.QuerySelectorAllReply, error) {
	reply := new(dom.QuerySelectorAllReply)
	if err := Invoke(ctx, d.c, "DOM.querySelectorAll", args, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

func (d *DOM) GetBoxModel(ctx context.Context, args *dom.GetBoxModelArgs) (*dom.GetBoxModelReply, error) {
	reply := new(dom.GetBoxModelReply)
	if err := Invoke(ctx, d.c, "DOM.getBoxModel", args, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

func (d *DOM) GetOuterHTML(ctx context.Context, args *dom.GetOuterHTMLArgs) (*dom.GetOuterHTMLReply, error) {
	reply := new(dom.GetOuterHTMLReply)
	if err := Invoke(ctx, d.c, "DOM.getOuterHTML", args, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

func (d *DOM) GetAttributes(ctx context.Context, args *dom.GetAttributesArgs) (*dom.GetAttributesReply, error) {
	reply := new(dom.GetAttributesReply)
	if err := Invoke(ctx, d.c, "DOM.getAttributes", args, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

func (d *DOM) RemoveAttribute(ctx context.Context, args *dom.RemoveAttributeArgs) error {
	return Invoke(ctx, d.c, "DOM.removeAttribute", args, nil)
}

func (d *DOM) ResolveNode(ctx context.Context, args *dom.ResolveNodeArgs) (*dom.ResolveNodeReply, error) {
	reply := new(dom.ResolveNodeReply)
	if err := Invoke(ctx, d.c, "DOM.resolveNode", args, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

func (d *DOM) RequestNode(ctx context.Context, args *dom.RequestNodeArgs) (*dom.RequestNodeReply, error) {
	reply := new(dom.RequestNodeReply)
	if err := Invoke(ctx, d.c, "DOM.requestNode", args, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

func (d *DOM) Focus(ctx context.Context, args *dom.FocusArgs) error {
	return Invoke(ctx, d.c, "DOM.focus", args, nil)
}

// ScrollIntoViewArgs DOM.scrollIntoViewIfNeeded 参数
type ScrollIntoViewArgs struct {
	NodeID dom.NodeID `json:"nodeId,omitempty"`
}

func (d *DOM) ScrollIntoViewIfNeeded(ctx context.Context, args *ScrollIntoViewArgs) error {
	return Invoke(ctx, d.c, "DOM.scrollIntoViewIfNeeded", args, nil)
}

func (d *DOM) SetFileInputFiles(ctx context.Context, args *dom.SetFileInputFilesArgs) error {
	return Invoke(ctx, d.c, "DOM.setFileInputFiles", args, nil)
}

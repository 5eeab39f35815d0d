package cdp

import (
	"context"

	"github.com/mafredri/cdp/protocol/target"
)

// Target 域，只能通过浏览器级 Caller 调用
type Target struct{ c Caller }

func (t *Target) CreateTarget(ctx context.Context, args *target.CreateTargetArgs) (*target.CreateTargetReply, error) {
	reply := new(target.CreateTargetReply)
	if err := Invoke(ctx, t.c, "Target.createTarget", args, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

func (t *Target) AttachToTarget(ctx context.Context, args *target.AttachToTargetArgs) (*target.AttachToTargetReply, error) {
	reply := new(target.AttachToTargetReply)
	if err := Invoke(ctx, t.c, "Target.attachToTarget", args, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

func (t *Target) DetachFromTarget(ctx context.Context, args *target.DetachFromTargetArgs) error {
	return Invoke(ctx, t.c, "Target.detachFromTarget", args, nil)
}

func (t *Target) CloseTarget(ctx context.Context, args *target.CloseTargetArgs) error {
	return Invoke(ctx, t.c, "Target.closeTarget", args, nil)
}

func (t *Target) GetTargets(ctx context.Context) (*target.GetTargetsReply, error) {
	reply := new(target.GetTargetsReply)
	if err := Invoke(ctx, t.c, "Target.getTargets", nil, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

func (t *Target) ActivateTarget(ctx context.Context, args *target.ActivateTargetArgs) error {
	return Invoke(ctx, t.c, "Target.activateTarget", args, nil)
}

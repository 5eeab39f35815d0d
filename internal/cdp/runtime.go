package cdp

import (
	"context"

	"github.com/mafredri/cdp/protocol/runtime"
)

// Runtime 域。Runtime.enable 会被过滤表拦截，这里只暴露无需启用即可使用的命令
type Runtime struct{ c Caller }

func (r *Runtime) Evaluate(ctx context.Context, args *runtime.EvaluateArgs) (*runtime.EvaluateReply, error) {
	reply := new(runtime.EvaluateReply)
	if err := Invoke(ctx, r.c, "Runtime.evaluate", args, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

func (r *Runtime) CallFunctionOn(ctx context.Context, args *runtime.CallFunctionOnArgs) (*runtime.CallFunctionOnReply, error) {
	reply := new(runtime.CallFunctionOnReply)
	if err := Invoke(ctx, r.c, "Runtime.callFunctionOn", args, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

func (r *Runtime) ReleaseObject(ctx context.Context, args *runtime.ReleaseObjectArgs) error {
	return Invoke(ctx, r.c, "Runtime.releaseObject", args, nil)
}

func (r *Runtime) ReleaseObjectGroup(ctx context.Context, args *runtime.ReleaseObjectGroupArgs) error {
	return Invoke(ctx, r.c, "Runtime.releaseObjectGroup", args, nil)
}

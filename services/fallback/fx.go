package fallback

import (
	"rewardcore/services/policy"

	"go.uber.org/fx"
)

var Module = fx.Module("fallback",
	fx.Provide(
		func(e *policy.Engine) Admitter { return e },
		NewSelector,
	),
)

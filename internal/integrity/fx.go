package integrity

import "go.uber.org/fx"

var Module = fx.Module("integrity.graph",
	fx.Provide(NewGraph),
)

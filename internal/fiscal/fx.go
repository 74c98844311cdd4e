package fiscal

import (
	"github.com/smallbiznis/ledgercore/internal/fiscal/repository"
	"github.com/smallbiznis/ledgercore/internal/fiscal/service"
	"go.uber.org/fx"
)

var Module = fx.Module("fiscal.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)

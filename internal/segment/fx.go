package segment

import (
	"github.com/smallbiznis/ledgercore/internal/segment/repository"
	"github.com/smallbiznis/ledgercore/internal/segment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("segment.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewResolverRegistry),
	fx.Provide(service.NewService),
	fx.Provide(service.ProvideRegistry),
	fx.Provide(service.ProvideCatalog),
)

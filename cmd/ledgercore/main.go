package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ledgercore/internal/account"
	"github.com/smallbiznis/ledgercore/internal/audit"
	"github.com/smallbiznis/ledgercore/internal/clock"
	"github.com/smallbiznis/ledgercore/internal/config"
	"github.com/smallbiznis/ledgercore/internal/events"
	"github.com/smallbiznis/ledgercore/internal/fiscal"
	"github.com/smallbiznis/ledgercore/internal/integrity"
	"github.com/smallbiznis/ledgercore/internal/ledger"
	"github.com/smallbiznis/ledgercore/internal/migration"
	"github.com/smallbiznis/ledgercore/internal/observability"
	"github.com/smallbiznis/ledgercore/internal/segment"
	"github.com/smallbiznis/ledgercore/internal/sequence"
	"github.com/smallbiznis/ledgercore/pkg/db"
	pkglog "github.com/smallbiznis/ledgercore/pkg/log"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		pkglog.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Engine domains
		integrity.Module,
		audit.Module,
		events.Module,
		sequence.Module,
		segment.Module,
		account.Module,
		fiscal.Module,
		ledger.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}

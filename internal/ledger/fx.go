package ledger

import (
	"github.com/smallbiznis/drawline/internal/ledger/journal"
	"github.com/smallbiznis/drawline/internal/ledger/repository"
	"github.com/smallbiznis/drawline/internal/ledger/settlement"
	"github.com/smallbiznis/drawline/internal/ledger/store"
	"go.uber.org/fx"
)

var Module = fx.Module("ledger",
	fx.Provide(repository.Provide),
	fx.Provide(store.New),
	fx.Provide(journal.New),
	fx.Provide(settlement.NewCanceler),
)

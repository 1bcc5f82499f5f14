package risk

import (
	"context"

	"github.com/rxtech-lab/argo-execution/internal/config"
	"github.com/rxtech-lab/argo-execution/internal/gateway"
	"github.com/rxtech-lab/argo-execution/internal/logger"
	"github.com/rxtech-lab/argo-execution/internal/portfolio"
	"github.com/rxtech-lab/argo-execution/internal/types"
	"github.com/rxtech-lab/argo-execution/pkg/errors"
	"go.uber.org/zap"
)

// Gate runs every entry intent through margin, correlation, and exposure
// checks before it may reach the brokerage. Exits are never gated: reducing
// risk must always be possible.
//
// Correlation limits are injected configuration, not derived from market
// data. The gate never mutates the ledger; only confirmed fills do.
type Gate struct {
	cfg     config.RiskConfig
	ledger  *Ledger
	gateway gateway.Gateway
	store   *portfolio.Store
	logger  *logger.Logger

	// conflicts maps each group to the groups it may never be held with.
	conflicts map[string]map[string]bool
}

// NewGate creates a risk gate with the configured limits.
func NewGate(cfg config.RiskConfig, ledger *Ledger, gw gateway.Gateway, store *portfolio.Store, logger *logger.Logger) *Gate {
	conflicts := make(map[string]map[string]bool)

	for _, pair := range cfg.HighCorrelationPairs {
		if len(pair) != 2 {
			continue
		}

		for i, group := range pair {
			other := pair[1-i]
			if conflicts[group] == nil {
				conflicts[group] = make(map[string]bool)
			}

			conflicts[group][other] = true
		}
	}

	return &Gate{
		cfg:       cfg,
		ledger:    ledger,
		gateway:   gw,
		store:     store,
		logger:    logger,
		conflicts: conflicts,
	}
}

// Admit decides whether an entry intent may be submitted. It returns nil to
// admit, or a coded rejection explaining which rule fired. The checks run in
// a fixed order: portfolio limits, margin, high-correlation pairs,
// medium-correlation caps, sector exposure.
func (g *Gate) Admit(ctx context.Context, intent types.OrderIntent) error {
	if err := intent.Validate(); err != nil {
		return err
	}

	if err := g.store.CheckOpen(intent); err != nil {
		return err
	}

	if err := g.checkMargin(ctx, intent); err != nil {
		return err
	}

	if err := g.checkHighCorrelation(intent); err != nil {
		return err
	}

	if err := g.checkMediumCorrelation(intent); err != nil {
		return err
	}

	return g.checkSectorExposure(intent)
}

// checkMargin verifies the margin segment backing the instrument class can
// fund the order. When the brokerage query fails the gate falls back to local
// cash, which can only under-admit, never over-admit.
func (g *Gate) checkMargin(ctx context.Context, intent types.OrderIntent) error {
	segment := types.SegmentFor(intent.Class)
	required := intent.Quantity * intent.ReferencePrice

	available := 0.0

	balance, err := g.gateway.QueryMargins(ctx, segment)
	if err != nil {
		available = g.store.Cash()
		g.logger.Warn("margin query failed, falling back to local cash",
			zap.String("segment", string(segment)),
			zap.Float64("local_cash", available),
			zap.Error(err))
	} else {
		available = balance.Available
	}

	if required > available {
		return errors.Newf(errors.ErrCodeMarginInsufficient,
			"segment %s has %.2f available, order needs %.2f", segment, available, required)
	}

	return nil
}

func (g *Gate) checkHighCorrelation(intent types.OrderIntent) error {
	conflicting := g.conflicts[intent.Group]
	if len(conflicting) == 0 {
		return nil
	}

	for group, count := range g.ledger.OpenGroups() {
		if count > 0 && conflicting[group] {
			return errors.Newf(errors.ErrCodeCorrelationConflict,
				"group %s conflicts with held group %s", intent.Group, group)
		}
	}

	return nil
}

func (g *Gate) checkMediumCorrelation(intent types.OrderIntent) error {
	for _, set := range g.cfg.MediumCorrelationGroups {
		member := false

		for _, group := range set.Groups {
			if group == intent.Group {
				member = true

				break
			}
		}

		if !member {
			continue
		}

		held := 0
		for _, group := range set.Groups {
			held += g.ledger.GroupCount(group)
		}

		if held >= set.MaxSimultaneous {
			return errors.Newf(errors.ErrCodeCorrelationConflict,
				"correlated set holding %d of %d allowed", held, set.MaxSimultaneous)
		}
	}

	return nil
}

func (g *Gate) checkSectorExposure(intent types.OrderIntent) error {
	limit, configured := g.cfg.SectorLimits[intent.Group]
	if !configured {
		limit = g.cfg.DefaultSectorLimit
	}

	if limit <= 0 {
		return nil
	}

	if held := g.ledger.GroupCount(intent.Group); held >= limit {
		return errors.Newf(errors.ErrCodeExposureLimitExceeded,
			"sector %s holding %d of %d allowed", intent.Group, held, limit)
	}

	return nil
}

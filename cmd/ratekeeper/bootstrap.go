package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/liquity/bold-ir-management-sub000/internal/domain/model"
	"github.com/liquity/bold-ir-management-sub000/internal/store"
)

// syncStrategies registers configured strategies that the store does not
// know yet and binds batch managers that were added to the file after
// registration. Stored configuration is never rewritten. It returns the
// configured keys.
func syncStrategies(ctx context.Context, repo store.StrategyRepository, cfgs []model.StrategyConfig, logger *slog.Logger) ([]int64, error) {
	keys := make([]int64, 0, len(cfgs))
	for _, cfg := range cfgs {
		keys = append(keys, cfg.Key)

		err := repo.Create(ctx, cfg)
		if err == nil {
			logger.Info("registered strategy", "strategy", cfg.Key)
			continue
		}
		if !errors.Is(err, store.ErrAlreadyExists) {
			return nil, fmt.Errorf("register strategy %d: %w", cfg.Key, err)
		}
		if !cfg.BatchManagerBound() {
			continue
		}

		stored, err := repo.Get(ctx, cfg.Key)
		if err != nil {
			return nil, fmt.Errorf("load strategy %d: %w", cfg.Key, err)
		}
		if !stored.Config.BatchManagerBound() {
			if err := repo.BindBatchManager(ctx, cfg.Key, cfg.Contracts.BatchManager); err != nil {
				return nil, fmt.Errorf("bind batch manager for strategy %d: %w", cfg.Key, err)
			}
			logger.Info("bound batch manager", "strategy", cfg.Key, "batch_manager", cfg.Contracts.BatchManager.Hex())
			continue
		}
		if stored.Config.Contracts.BatchManager != cfg.Contracts.BatchManager {
			logger.Warn("configured batch manager differs from the bound one; keeping the bound address",
				"strategy", cfg.Key,
				"bound", stored.Config.Contracts.BatchManager.Hex(),
				"configured", cfg.Contracts.BatchManager.Hex(),
			)
		}
	}
	return keys, nil
}

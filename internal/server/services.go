package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/jules-labs/librarydesk/internal/auth"
	"github.com/jules-labs/librarydesk/internal/catalog"
	"github.com/jules-labs/librarydesk/internal/circulation"
	"github.com/jules-labs/librarydesk/internal/config"
	"github.com/jules-labs/librarydesk/internal/fines"
	"github.com/jules-labs/librarydesk/internal/membership"
	"github.com/jules-labs/librarydesk/internal/storage"
)

// NewDeps constructs every service over store.
func NewDeps(ctx context.Context, cfg *config.Config, store storage.Store, logger *slog.Logger) (Deps, error) {
	perMinute := cfg.RateLimitPerMinute
	members := membership.NewService(store,
		membership.WithLogger(logger),
		membership.WithRateLimiter(rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)),
	)

	if cfg.AdminEmail != "" {
		_, err := members.EnsureAdmin(ctx, membership.RegisterInput{
			Email:     cfg.AdminEmail,
			Password:  cfg.AdminPassword,
			FirstName: "Library",
			LastName:  "Admin",
		})
		if err != nil {
			return Deps{}, fmt.Errorf("seed admin: %w", err)
		}
	}

	loans, err := circulation.NewService(store, circulation.Config{
		DailyFineRate:   cfg.DailyFineRate,
		GracePeriodDays: cfg.GracePeriodDays,
	}, circulation.WithLogger(logger))
	if err != nil {
		return Deps{}, fmt.Errorf("create circulation service: %w", err)
	}

	ledger, err := fines.NewService(store, fines.WithLogger(logger))
	if err != nil {
		return Deps{}, fmt.Errorf("create fine ledger: %w", err)
	}

	return Deps{
		Membership:  members,
		Catalog:     catalog.NewService(store, logger),
		Circulation: loans,
		Fines:       ledger,
		Tokens:      auth.NewIssuer(cfg.JWTSecret, cfg.JWTTTL),
		Store:       store,
		Logger:      logger,
	}, nil
}

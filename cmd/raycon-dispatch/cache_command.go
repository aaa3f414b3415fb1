package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"

	"github.com/roboricindustries/raycon-dispatch/pkg/config"
	"github.com/roboricindustries/raycon-dispatch/pkg/store/rediscache"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the reference data cache",
	}
	cacheCmd.AddCommand(newCacheInvalidateCommand(ctx))
	return cacheCmd
}

func newCacheInvalidateCommand(ctx *commandContext) *cobra.Command {
	var orgID string
	cmd := &cobra.Command{
		Use:   "invalidate",
		Short: "Drop cached endpoints, targets and categories of an organization",
		RunE: func(cmd *cobra.Command, args []string) error {
			if orgID == "" {
				return errors.New("--org is required")
			}
			cfg, err := ctx.config()
			if err != nil {
				return err
			}
			if cfg.RedisAddr == "" {
				return errors.New("REDIS_ADDR is not set")
			}
			rdb, err := openRedis(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer rdb.Close()

			if err := rediscache.New(rdb, nil, cfg.CacheTTL, nil).Invalidate(cmd.Context(), orgID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cache cleared for %s\n", orgID)
			return nil
		},
	}
	cmd.Flags().StringVar(&orgID, "org", "", "Organization id")
	return cmd
}

func openRedis(ctx context.Context, cfg config.Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping Redis: %w", err)
	}
	return rdb, nil
}

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"pluginauth/core"
)

var (
	invalidateRealm     string
	invalidatePrincipal string
)

var invalidateCmd = &cobra.Command{
	Use:   "invalidate",
	Short: "Queue eviction of a principal (or a whole realm) from the credential cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := core.Load()
		client, err := core.NewRedisClient(cfg.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()

		job := core.NewInvalidationJob(invalidateRealm, invalidatePrincipal)
		q := core.NewRedisQueue(client, core.InvalidationPendingKey, core.InvalidationProcessingKey)
		if err := core.EnqueueInvalidation(ctx, q, job); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "queued %s\n", job.ID)
		return nil
	},
}

func init() {
	invalidateCmd.Flags().StringVar(&invalidateRealm, "realm", "", "realm name (required)")
	invalidateCmd.Flags().StringVar(&invalidatePrincipal, "principal", "", "principal to evict; empty purges the realm")
	_ = invalidateCmd.MarkFlagRequired("realm")
}

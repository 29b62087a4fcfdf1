package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cloud66-oss/iphub/cache"
	"github.com/cloud66-oss/iphub/classifier"
	"github.com/cloud66-oss/iphub/utils"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and edit cached classifications",
}

var cacheExistsCmd = &cobra.Command{
	Use:   "exists <ip>",
	Short: "Report whether an address is cached",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		ipc, err := configureSharedClassifier(ctx)
		if err != nil {
			return err
		}
		defer ipc.Close(ctx)

		exists, err := ipc.ExistsInCache(ctx, args[0])
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), exists)
		return nil
	},
}

var cacheRemoveCmd = &cobra.Command{
	Use:   "remove <ip>...",
	Short: "Drop cached classifications, for example after a dispute",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		ipc, err := configureSharedClassifier(ctx)
		if err != nil {
			return err
		}
		defer ipc.Close(ctx)

		for _, address := range args {
			if err := ipc.RemoveFromCache(ctx, address); err != nil {
				return err
			}
		}

		return nil
	},
}

var cachePushCmd = &cobra.Command{
	Use:   "push <ip> <record json | @file>",
	Short: "Store a classification for an address, overriding IPHub until it expires",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		raw, err := utils.ReadArgument(args[1])
		if err != nil {
			return err
		}

		var record utils.ClassificationRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			return fmt.Errorf("invalid record: %w", err)
		}
		if record.IP == "" {
			record.IP = args[0]
		}

		ipc, err := configureSharedClassifier(ctx)
		if err != nil {
			return err
		}
		defer ipc.Close(ctx)

		return ipc.PushToCache(ctx, args[0], &record, viper.GetDuration("cache.ttl"))
	},
}

// configureSharedClassifier is configureClassifier for commands that only make sense against a store
// other processes can see
func configureSharedClassifier(ctx context.Context) (*classifier.IPClassifier, error) {
	connection := viper.GetString("cache.connection")
	if cache.IsLocal(connection) {
		return nil, fmt.Errorf("cache %s lives only as long as this command, use --cache with a redis connection", connection)
	}

	return configureClassifier(ctx, nil)
}

func init() {
	cacheCmd.AddCommand(cacheExistsCmd)
	cacheCmd.AddCommand(cacheRemoveCmd)
	cacheCmd.AddCommand(cachePushCmd)
}

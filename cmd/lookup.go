package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/cloud66-oss/iphub/classifier"
	"github.com/cloud66-oss/iphub/utils"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var lookupStrict bool

var lookupCmd = &cobra.Command{
	Use:   "lookup <ip>...",
	Short: "Print the classification of one or more addresses as JSON lines",
	Args:  cobra.MinimumNArgs(1),
	RunE:  execLookup,
}

type lookupLine struct {
	*utils.ClassificationRecord
	Address string `json:"address,omitempty"`
	Error   string `json:"error,omitempty"`
}

func init() {
	lookupCmd.Flags().BoolVar(&lookupStrict, "strict", false, "report lookup failures instead of empty results")
}

func execLookup(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	ipc, err := configureClassifier(ctx, nil)
	if err != nil {
		return err
	}
	defer ipc.Close(ctx)

	return lookupAll(ctx, ipc, args, lookupStrict, cmd.OutOrStdout())
}

// lookupAll writes one line per address and stops at the first rate limit, there is no point
// spending more requests after that
func lookupAll(ctx context.Context, ipc *classifier.IPClassifier, addresses []string, strict bool, out io.Writer) error {
	enc := json.NewEncoder(out)

	for _, address := range addresses {
		var record *utils.ClassificationRecord
		var err error
		if strict {
			record, err = ipc.LookupStrict(ctx, address)
		} else {
			record, err = ipc.Lookup(ctx, address)
		}

		var rle *utils.RateLimitError
		if errors.As(err, &rle) {
			return err
		}

		line := lookupLine{ClassificationRecord: record}
		switch {
		case err != nil:
			line.Address = address
			line.Error = err.Error()
		case record == nil:
			line.Address = address
			line.Error = "no classification data"
		}

		if err := enc.Encode(line); err != nil {
			return err
		}
	}

	return nil
}

var allowedLevel string
var allowedStrict bool

// errBlocked makes allowed exit with status 1
var errBlocked = errors.New("address is blocked")

var allowedCmd = &cobra.Command{
	Use:   "allowed <ip>",
	Short: "Check an address against a block level. Exits with status 1 when it is blocked",
	Args:  cobra.ExactArgs(1),
	RunE:  execAllowed,
}

func init() {
	allowedCmd.Flags().StringVar(&allowedLevel, "level", "residential", "desired block level: residential, non-residential or mixed")
	allowedCmd.Flags().BoolVar(&allowedStrict, "strict", false, "block when no classification is available")
}

func execAllowed(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	level, err := utils.ParseBlockLevel(allowedLevel)
	if err != nil {
		return err
	}

	ipc, err := configureClassifier(ctx, nil)
	if err != nil {
		return err
	}

	allowed := ipc.IsAllowed(ctx, args[0], level, allowedStrict)
	ipc.Close(ctx)

	log.Debug().Str("address", args[0]).Str("level", level.String()).Bool("allowed", allowed).Msg("checked")

	if !allowed {
		fmt.Fprintln(cmd.OutOrStdout(), "blocked")
		cmd.SilenceUsage = true
		return errBlocked
	}

	fmt.Fprintln(cmd.OutOrStdout(), "allowed")
	return nil
}

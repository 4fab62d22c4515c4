package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bull/drugbot/internal/app"
	"github.com/bull/drugbot/internal/config"
	"github.com/bull/drugbot/internal/drug"
	"github.com/bull/drugbot/internal/drugbot"
)

var askSession string

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask one question against the current index",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().StringVar(&askSession, "session", "", "continue the conversation with this session id")
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := config.NewLogger(cfg.Log, cmd.ErrOrStderr())

	a, err := app.New(ctx, cfg, logger, app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	ans, err := a.Service.Answer(ctx, strings.Join(args, " "), askSession)
	if errors.Is(err, drug.ErrIndexInconsistent) {
		fmt.Fprintln(out, drugbot.NotReadyMessage)
		return err
	}
	if err != nil {
		return err
	}

	fmt.Fprintln(out, ans.Response)
	if len(ans.Sources) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Sources:")
		for _, s := range ans.Sources {
			fmt.Fprintf(out, "  [%d] %s\n", s.Rank, s)
		}
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Session: %s\n", ans.SessionID)
	return nil
}

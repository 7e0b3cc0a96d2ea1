package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	replayAfter int64
	replayLimit int
	replayJSON  bool
)

var replayCmd = &cobra.Command{
	Use:   "replay <debate-id-or-slug>",
	Short: "Replay a debate's durable event log",
	Args:  cobra.ExactArgs(1),
	RunE:  runReplay,
}

func init() {
	replayCmd.Flags().Int64Var(&replayAfter, "after", 0, "Replay events with seq greater than this cursor")
	replayCmd.Flags().IntVar(&replayLimit, "limit", 0, "Maximum events per page (default: server maximum)")
	replayCmd.Flags().BoolVar(&replayJSON, "json", false, "Emit raw event JSON, one object per line")
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	d, err := a.debates.Get(ctx, args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	cursor := replayAfter
	for {
		evs, err := a.events.Catchup(ctx, d.ID, cursor, replayLimit)
		if err != nil {
			return err
		}
		if len(evs) == 0 {
			return nil
		}
		for _, ev := range evs {
			if replayJSON {
				line, err := json.Marshal(ev)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(line))
				continue
			}
			fmt.Fprintf(out, "%6d  %-22s", ev.Seq, ev.Type)
			if ev.Agent != "" {
				fmt.Fprintf(out, "  round=%d agent=%s", ev.Round, ev.Agent)
			}
			fmt.Fprintln(out)
		}
		cursor = evs[len(evs)-1].Seq
		if replayLimit > 0 && len(evs) < replayLimit {
			return nil
		}
	}
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/aragora/aragora/pkg/models"
	"github.com/aragora/aragora/pkg/services"
)

var (
	askAgents    []string
	askRounds    int
	askPolicy    string
	askJudge     string
	askDomain    string
	askServer    string
	askToken     string
	askWaitLimit time.Duration
)

var askCmd = &cobra.Command{
	Use:   "ask <task>",
	Short: "Run a debate and print the result",
	Long: "Runs a debate over the given task and blocks until it seals. " +
		"By default the debate runs in-process against the local store; with --server it is submitted to a running aragora instance.",
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringSliceVar(&askAgents, "agents", nil, "Agents to include (default: all registered)")
	askCmd.Flags().IntVar(&askRounds, "rounds", 0, "Number of debate rounds (default: configured)")
	askCmd.Flags().StringVar(&askPolicy, "policy", "", "Consensus policy: majority, supermajority, unanimous, judge, weighted")
	askCmd.Flags().StringVar(&askJudge, "judge", "", "Deciding agent for the judge policy")
	askCmd.Flags().StringVar(&askDomain, "domain", "", "Ranking domain for the resulting match")
	askCmd.Flags().StringVar(&askServer, "server", "", "Base URL of a running server (e.g. http://localhost:8080)")
	askCmd.Flags().StringVar(&askToken, "token", "", "Bearer token for --server")
	askCmd.Flags().DurationVar(&askWaitLimit, "wait", 15*time.Minute, "How long to wait for the debate to seal with --server")
}

func runAsk(cmd *cobra.Command, args []string) error {
	req := services.StartDebateRequest{
		Task:   strings.Join(args, " "),
		Agents: askAgents,
		Rounds: askRounds,
		Policy: models.ConsensusPolicy(askPolicy),
		Judge:  askJudge,
		Domain: askDomain,
	}

	if askServer != "" {
		return askRemote(cmd.Context(), req)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	d, err := a.debates.Run(cmd.Context(), req)
	if err != nil {
		return err
	}
	return printDebate(cmd.OutOrStdout(), d)
}

// askRemote submits the debate over HTTP and polls until it seals.
func askRemote(ctx context.Context, req services.StartDebateRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}

	d := &models.Debate{}
	if err := doRequest(ctx, http.MethodPost, askServer+"/api/debates", bytes.NewReader(body), d); err != nil {
		return err
	}
	fmt.Printf("debate %s started (%s)\n", d.ID, d.Slug)

	deadline := time.Now().Add(askWaitLimit)
	for !d.Sealed() {
		if time.Now().After(deadline) {
			return fmt.Errorf("debate %s did not seal within %s", d.ID, askWaitLimit)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}

		var tr services.Transcript
		if err := doRequest(ctx, http.MethodGet, askServer+"/api/debates/"+d.ID, nil, &tr); err != nil {
			return err
		}
		d = tr.Debate
	}
	return printDebate(os.Stdout, d)
}

// doRequest performs one API call and decodes the JSON response, mapping
// HTTP failures onto the CLI exit code contract.
func doRequest(ctx context.Context, method, url string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if askToken != "" {
		req.Header.Set("Authorization", "Bearer "+askToken)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("server returned %s: %s", resp.Status, strings.TrimSpace(string(payload)))
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return withCode(exitAuthFailed, err)
		case http.StatusTooManyRequests:
			return withCode(exitRateLimited, err)
		case http.StatusBadRequest:
			return withCode(exitBadInput, err)
		}
		return err
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func printDebate(w io.Writer, d *models.Debate) error {
	fmt.Fprintf(w, "debate:  %s (%s)\n", d.ID, d.Slug)
	fmt.Fprintf(w, "outcome: %s after %d round(s)\n", d.Outcome, d.RoundsUsed)
	if d.Confidence != nil {
		fmt.Fprintf(w, "support: %.2f\n", *d.Confidence)
	}
	if answer, ok := d.FinalArtifact["answer"].(string); ok && answer != "" {
		fmt.Fprintf(w, "\n%s\n", answer)
	}
	return nil
}

package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aragora/aragora/pkg/config"
	"github.com/aragora/aragora/pkg/debate"
	"github.com/aragora/aragora/pkg/metrics"
	"github.com/aragora/aragora/pkg/models"
	"github.com/aragora/aragora/pkg/storage"
)

// maxListLimit bounds list endpoints regardless of the requested limit.
const maxListLimit = 100

// StartDebateRequest is the write-side input for starting a debate.
// Omitted protocol fields fall back to the configured defaults.
type StartDebateRequest struct {
	Task      string                 `json:"task"`
	Agents    []string               `json:"agents,omitempty"`
	Rounds    int                    `json:"rounds,omitempty"`
	Policy    models.ConsensusPolicy `json:"consensus_policy,omitempty"`
	Threshold float64                `json:"consensus_threshold,omitempty"`
	Judge     string                 `json:"judge,omitempty"`
	Domain    string                 `json:"domain,omitempty"`
}

// Transcript is a debate with its full message and vote history.
type Transcript struct {
	Debate   *models.Debate         `json:"debate"`
	Messages []models.DebateMessage `json:"messages"`
	Votes    []models.Vote          `json:"votes"`
}

// DebateService owns the debate lifecycle: admission, background execution,
// cancellation, and reads.
type DebateService struct {
	store    *storage.Store
	orch     *debate.Orchestrator
	registry *config.AgentRegistry
	defaults config.DebateDefaults
	logger   *slog.Logger

	running sync.WaitGroup
}

// NewDebateService creates a debate service.
func NewDebateService(store *storage.Store, orch *debate.Orchestrator, registry *config.AgentRegistry, defaults config.DebateDefaults, logger *slog.Logger) *DebateService {
	if logger == nil {
		logger = slog.Default()
	}
	return &DebateService{
		store:    store,
		orch:     orch,
		registry: registry,
		defaults: defaults,
		logger:   logger,
	}
}

// Start admits a debate and runs it in the background. The returned debate is
// in status created; progress is observable through the event stream.
func (s *DebateService) Start(ctx context.Context, req StartDebateRequest) (*models.Debate, error) {
	d, cfg, err := s.admit(ctx, req)
	if err != nil {
		return nil, err
	}

	metrics.DebatesStarted.Inc()
	s.running.Add(1)
	go func() {
		defer s.running.Done()
		// The debate outlives the HTTP request that started it.
		sealed, err := s.orch.Run(context.Background(), d, cfg)
		if err != nil {
			s.logger.Warn("debate finished abnormally", "debate_id", d.ID, "error", err)
		}
		recordCompletion(sealed)
	}()
	return d, nil
}

// Run admits a debate and blocks until it seals. Used by the CLI.
func (s *DebateService) Run(ctx context.Context, req StartDebateRequest) (*models.Debate, error) {
	d, cfg, err := s.admit(ctx, req)
	if err != nil {
		return nil, err
	}
	metrics.DebatesStarted.Inc()
	sealed, err := s.orch.Run(ctx, d, cfg)
	recordCompletion(sealed)
	return sealed, err
}

// recordCompletion bumps the completion counter for a sealed debate.
func recordCompletion(d *models.Debate) {
	outcome := string(models.OutcomeError)
	if d != nil && d.Outcome != "" {
		outcome = string(d.Outcome)
	}
	metrics.DebatesCompleted.WithLabelValues(outcome).Inc()
}

// Drain waits for all background debates to finish. Called on shutdown after
// cancellation signals have been delivered.
func (s *DebateService) Drain() {
	s.running.Wait()
}

// admit validates the request, fills defaults, and creates the debate row.
func (s *DebateService) admit(ctx context.Context, req StartDebateRequest) (*models.Debate, models.DebateConfig, error) {
	var zero models.DebateConfig

	task := strings.TrimSpace(req.Task)
	if task == "" {
		return nil, zero, NewValidationError("task", "required")
	}
	if s.defaults.MaxQuestionLength > 0 && len(task) > s.defaults.MaxQuestionLength {
		return nil, zero, NewValidationError("task",
			fmt.Sprintf("exceeds maximum length of %d", s.defaults.MaxQuestionLength))
	}

	agents := req.Agents
	if len(agents) == 0 {
		agents = s.registry.Names()
	}
	if len(agents) < 2 {
		return nil, zero, NewValidationError("agents", "at least 2 agents are required")
	}
	for _, a := range agents {
		if _, err := s.registry.Get(a); err != nil {
			return nil, zero, NewValidationError("agents", fmt.Sprintf("unknown agent %q", a))
		}
	}

	rounds := req.Rounds
	if rounds <= 0 {
		rounds = s.defaults.Rounds
	}
	if s.defaults.MaxRounds > 0 && rounds > s.defaults.MaxRounds {
		return nil, zero, NewValidationError("rounds",
			fmt.Sprintf("exceeds maximum of %d", s.defaults.MaxRounds))
	}

	policy := req.Policy
	if policy == "" {
		policy = s.defaults.Policy
	}
	if !policy.IsValid() {
		return nil, zero, NewValidationError("consensus_policy", fmt.Sprintf("unknown policy %q", policy))
	}
	if policy == models.ConsensusJudge {
		if req.Judge == "" {
			return nil, zero, NewValidationError("judge", "required for the judge policy")
		}
		if _, err := s.registry.Get(req.Judge); err != nil {
			return nil, zero, NewValidationError("judge", fmt.Sprintf("unknown agent %q", req.Judge))
		}
	}

	threshold := req.Threshold
	if threshold <= 0 {
		threshold = s.defaults.Threshold
	}

	cfg := models.DebateConfig{
		Task:            task,
		Agents:          agents,
		RoundsPlanned:   rounds,
		Policy:          policy,
		Threshold:       threshold,
		Judge:           req.Judge,
		Domain:          req.Domain,
		MinParticipants: s.defaults.MinParticipants,
		Convergence: models.ConvergenceConfig{
			Enabled:             true,
			SimilarityThreshold: s.defaults.ConvergenceSim,
			MinRounds:           2,
		},
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, zero, fmt.Errorf("%w: %s", ErrInvalidInput, err)
	}

	d := &models.Debate{
		ID:            "dbt_" + uuid.NewString(),
		Slug:          slugify(task),
		Task:          task,
		Agents:        agents,
		RoundsPlanned: cfg.RoundsPlanned,
		Status:        models.DebateStatusCreated,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.store.CreateDebate(ctx, d); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, zero, fmt.Errorf("%w: slug %q", ErrAlreadyExists, d.Slug)
		}
		return nil, zero, fmt.Errorf("creating debate: %w", err)
	}
	return d, cfg, nil
}

// Get resolves a debate by id (dbt_ prefix) or slug.
func (s *DebateService) Get(ctx context.Context, ref string) (*models.Debate, error) {
	var d *models.Debate
	var err error
	if strings.HasPrefix(ref, "dbt_") {
		d, err = s.store.GetDebateByID(ctx, ref)
	} else {
		d, err = s.store.GetDebate(ctx, ref)
	}
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: debate %q", ErrNotFound, ref)
	}
	return d, err
}

// List returns debates newest first, optionally filtered by status.
func (s *DebateService) List(ctx context.Context, status models.DebateStatus, limit int) ([]*models.Debate, error) {
	return s.store.ListDebates(ctx, status, clampLimit(limit))
}

// Cancel cancels a running debate.
func (s *DebateService) Cancel(ctx context.Context, ref string) error {
	d, err := s.Get(ctx, ref)
	if err != nil {
		return err
	}
	if d.Sealed() {
		return fmt.Errorf("%w: debate %s is already sealed", ErrNotActive, d.ID)
	}
	if !s.orch.Cancel(d.ID) {
		return fmt.Errorf("%w: debate %s", ErrNotActive, d.ID)
	}
	return nil
}

// GetTranscript returns the debate with its messages and votes.
func (s *DebateService) GetTranscript(ctx context.Context, ref string) (*Transcript, error) {
	d, err := s.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	messages, err := s.store.ListMessages(ctx, d.ID)
	if err != nil {
		return nil, fmt.Errorf("loading messages: %w", err)
	}
	votes, err := s.store.ListVotes(ctx, d.ID)
	if err != nil {
		return nil, fmt.Errorf("loading votes: %w", err)
	}
	return &Transcript{Debate: d, Messages: messages, Votes: votes}, nil
}

// ActiveCount reports how many debates run on this process.
func (s *DebateService) ActiveCount() int {
	return s.orch.ActiveCount()
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

// slugify turns a task into a short URL-safe slug with a random suffix for
// uniqueness.
func slugify(task string) string {
	var sb strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(task) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				sb.WriteByte('-')
				lastDash = true
			}
		}
		if sb.Len() >= 40 {
			break
		}
	}
	slug := strings.Trim(sb.String(), "-")
	if slug == "" {
		slug = "debate"
	}
	return slug + "-" + uuid.NewString()[:8]
}

package diagnosis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"tcmdiag/internal/llm"
	"tcmdiag/internal/llmclient"
)

// StartOptions tunes Start.
type StartOptions struct {
	// Fresh abandons the owner's active session instead of resuming it.
	Fresh bool `json:"fresh"`
}

// Machine drives sessions through the stage registry. Every mutating call
// loads the latest snapshot, works on a copy and persists it once.
type Machine struct {
	reg      *StageRegistry
	store    SessionStore
	router   TierSelector
	analyzer Analyzer
	scorer   ComplexityScorer
	media    MediaReader
	notifier Notifier
	log      *slog.Logger
	now      func() time.Time
	newID    func() string

	saveAttempts int
	saveBackoff  time.Duration

	mu       sync.Mutex
	inflight map[string]struct{}
}

type Option func(*Machine)

func WithMediaReader(r MediaReader) Option { return func(m *Machine) { m.media = r } }

func WithNotifier(n Notifier) Option { return func(m *Machine) { m.notifier = n } }

func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) {
		if l != nil {
			m.log = l
		}
	}
}

func WithClock(now func() time.Time) Option { return func(m *Machine) { m.now = now } }

func WithIDGenerator(f func() string) Option { return func(m *Machine) { m.newID = f } }

// WithSaveRetry bounds how often a failed save is retried.
func WithSaveRetry(attempts int, backoff time.Duration) Option {
	return func(m *Machine) {
		if attempts > 0 {
			m.saveAttempts = attempts
		}
		if backoff >= 0 {
			m.saveBackoff = backoff
		}
	}
}

func NewMachine(reg *StageRegistry, store SessionStore, router TierSelector, analyzer Analyzer, opts ...Option) *Machine {
	m := &Machine{
		reg:          reg,
		store:        store,
		router:       router,
		analyzer:     analyzer,
		log:          slog.Default(),
		now:          func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
		newID:        func() string { return uuid.NewString() },
		saveAttempts: 3,
		saveBackoff:  100 * time.Millisecond,
		inflight:     map[string]struct{}{},
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Registry returns the stage order the machine runs.
func (m *Machine) Registry() *StageRegistry { return m.reg }

// Start resumes the owner's active session or creates a new one.
func (m *Machine) Start(ctx context.Context, owner string, opts StartOptions) (*State, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, &ValidationError{Missing: []string{"owner"}, Reason: "owner is required"}
	}
	active, ok, err := m.store.LoadActiveByOwner(ctx, owner)
	if err != nil {
		return nil, &PersistenceError{Op: "load active session", Err: err}
	}
	if ok {
		if !opts.Fresh {
			return active, nil
		}
		if _, err := m.Abandon(ctx, active.SessionID); err != nil {
			return nil, err
		}
	}

	s := NewState(m.newID(), owner, m.now())
	s.CompletionPercentage = m.reg.Completion(s)
	if err := m.persist(ctx, "create session", s); err != nil {
		if errors.Is(err, ErrConcurrentModification) {
			// Another request created the owner's session first.
			if winner, ok, lerr := m.store.LoadActiveByOwner(ctx, owner); lerr == nil && ok {
				return winner, nil
			}
		}
		return nil, err
	}
	m.log.InfoContext(ctx, "session started", "session_id", s.SessionID, "owner", owner)
	return s, nil
}

// Advance validates input against the current stage, runs the AI analysis
// when the stage has one, and persists the result. On any error the stored
// session is left as it was.
func (m *Machine) Advance(ctx context.Context, sessionID string, in StageInput) (*State, error) {
	release, err := m.acquire(sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	cur, err := m.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	stage, err := m.currentStage(cur, in.Stage)
	if err != nil {
		return nil, err
	}
	if err := validateInput(stage, in); err != nil {
		return nil, err
	}
	if err := checkMediaOwner(sessionID, stage.ID, in.Payload); err != nil {
		return nil, err
	}
	payload, err := copyPayload(in.Payload)
	if err != nil {
		return nil, &ValidationError{Stage: stage.ID, Reason: err.Error()}
	}

	next := cur.Clone()
	next.StagePayloads[stage.ID] = payload
	if stage.ProducesAIOutput {
		res, err := m.analyze(ctx, stage, next, payload)
		if err != nil {
			return nil, err
		}
		next.StageResults[stage.ID] = *res
	}
	delete(next.Drafts, stage.ID)

	next.CurrentStageOrdinal = stage.Ordinal + 1
	if _, more := m.reg.NextOrdinal(stage.Ordinal); !more {
		next.Status = StatusComplete
		next.Report = BuildReport(m.reg, next, m.now())
	}
	next.CompletionPercentage = math.Max(cur.CompletionPercentage, m.reg.Completion(next))

	if err := m.persist(ctx, "advance", next); err != nil {
		return nil, err
	}
	m.log.InfoContext(ctx, "stage advanced",
		"session_id", sessionID,
		"stage", stage.ID,
		"status", next.Status,
		"completion", next.CompletionPercentage,
	)
	return next.Clone(), nil
}

// SaveDraft merges a partial input for the current stage without
// validating completeness or advancing.
func (m *Machine) SaveDraft(ctx context.Context, sessionID string, in StageInput) (*State, error) {
	release, err := m.acquire(sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	cur, err := m.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	stage, err := m.currentStage(cur, in.Stage)
	if err != nil {
		return nil, err
	}
	if in.Payload == nil || in.Payload.Stage() != stage.ID {
		return nil, &ValidationError{Stage: stage.ID, Reason: "draft payload does not match stage"}
	}
	if issues := in.Payload.Check(); len(issues) > 0 {
		return nil, &ValidationError{Stage: stage.ID, Invalid: issues}
	}
	if err := checkMediaOwner(sessionID, stage.ID, in.Payload); err != nil {
		return nil, err
	}
	merged, err := mergeDraft(cur.Drafts[stage.ID], in.Payload)
	if err != nil {
		return nil, &ValidationError{Stage: stage.ID, Reason: err.Error()}
	}

	next := cur.Clone()
	next.Drafts[stage.ID] = merged
	next.CompletionPercentage = math.Max(cur.CompletionPercentage, m.reg.Completion(next))
	if err := m.persist(ctx, "save draft", next); err != nil {
		return nil, err
	}
	return next.Clone(), nil
}

// Resume returns the stored snapshot unchanged.
func (m *Machine) Resume(ctx context.Context, sessionID string) (*State, error) {
	return m.load(ctx, sessionID)
}

// Abandon marks an active session abandoned. Abandoning an abandoned session
// is a no-op; a complete session cannot be abandoned.
func (m *Machine) Abandon(ctx context.Context, sessionID string) (*State, error) {
	release, err := m.acquire(sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	cur, err := m.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	switch cur.Status {
	case StatusAbandoned:
		return cur, nil
	case StatusComplete:
		return nil, fmt.Errorf("%w: session %s is complete", ErrSessionClosed, sessionID)
	}

	err = m.retry(ctx, func() error { return m.store.MarkAbandoned(ctx, sessionID) })
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConcurrentModification) {
			return nil, err
		}
		return nil, &PersistenceError{Op: "abandon", Err: err}
	}
	out, err := m.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	m.publish(out)
	m.log.InfoContext(ctx, "session abandoned", "session_id", sessionID)
	return out, nil
}

// List returns every session of owner, newest first.
func (m *Machine) List(ctx context.Context, owner string) ([]*State, error) {
	out, err := m.store.ListByOwner(ctx, strings.TrimSpace(owner))
	if err != nil {
		return nil, &PersistenceError{Op: "list sessions", Err: err}
	}
	return out, nil
}

func (m *Machine) acquire(sessionID string) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.inflight[sessionID]; busy {
		return nil, fmt.Errorf("%w: session %s has an operation in progress", ErrConcurrentModification, sessionID)
	}
	m.inflight[sessionID] = struct{}{}
	return func() {
		m.mu.Lock()
		delete(m.inflight, sessionID)
		m.mu.Unlock()
	}, nil
}

func (m *Machine) load(ctx context.Context, sessionID string) (*State, error) {
	s, err := m.store.Load(ctx, sessionID)
	switch {
	case err == nil:
		return s, nil
	case errors.Is(err, ErrNotFound):
		return nil, err
	default:
		return nil, &PersistenceError{Op: "load session", Err: err}
	}
}

// currentStage checks that the session is open and that requested names its
// current stage. A stage already behind the session means the client acted
// on a stale view.
func (m *Machine) currentStage(s *State, requested StageID) (Stage, error) {
	if s.Status != StatusActive {
		return Stage{}, fmt.Errorf("%w: session %s is %s", ErrSessionClosed, s.SessionID, s.Status)
	}
	cur, err := m.reg.StageAt(s.CurrentStageOrdinal)
	if err != nil {
		return Stage{}, fmt.Errorf("%w: session %s has no current stage", ErrSessionClosed, s.SessionID)
	}
	if requested == cur.ID {
		return cur, nil
	}
	target, err := m.reg.Lookup(requested)
	if err != nil {
		return Stage{}, &ValidationError{Stage: requested, Reason: "unknown stage"}
	}
	if target.Ordinal < cur.Ordinal {
		return Stage{}, fmt.Errorf("%w: stage %s is already complete, session is at %s", ErrConcurrentModification, target.ID, cur.ID)
	}
	return Stage{}, &ValidationError{Stage: requested, Reason: fmt.Sprintf("stage %s is not open yet, session is at %s", target.ID, cur.ID)}
}

func validateInput(stage Stage, in StageInput) error {
	if in.Payload == nil {
		return &ValidationError{Stage: stage.ID, Missing: append([]string(nil), stage.RequiredInputs...)}
	}
	if in.Payload.Stage() != stage.ID {
		return &ValidationError{Stage: stage.ID, Reason: fmt.Sprintf("payload is for stage %s", in.Payload.Stage())}
	}
	present := map[string]bool{}
	for _, f := range in.Payload.Present() {
		present[f] = true
	}
	verr := &ValidationError{Stage: stage.ID}
	for _, f := range stage.RequiredInputs {
		if !present[f] {
			verr.Missing = append(verr.Missing, f)
		}
	}
	verr.Invalid = in.Payload.Check()
	if len(verr.Missing) > 0 || len(verr.Invalid) > 0 {
		return verr
	}
	return nil
}

// checkMediaOwner rejects references to uploads of other sessions. Media
// keys are prefixed with the owning session id.
func checkMediaOwner(sessionID string, stage StageID, p Payload) error {
	prefix := strings.TrimSpace(sessionID) + "/"
	var issues []FieldIssue
	for _, ref := range p.Media() {
		if !strings.HasPrefix(strings.TrimSpace(ref.Key), prefix) {
			issues = append(issues, FieldIssue{Field: "media", Reason: "key " + ref.Key + " does not belong to this session"})
		}
	}
	if len(issues) > 0 {
		return &ValidationError{Stage: stage, Invalid: issues}
	}
	return nil
}

func copyPayload(p Payload) (Payload, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return DecodePayload(p.Stage(), b)
}

func (m *Machine) analyze(ctx context.Context, stage Stage, next *State, payload Payload) (*StageResult, error) {
	score := math.Max(next.ComplexityScore, m.scorer.Score(next))
	next.ComplexityScore = score
	chain := m.router.SelectTier(score, Urgent(next))

	media, err := m.loadMedia(ctx, payload.Media())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, &ValidationError{Stage: stage.ID, Invalid: []FieldIssue{{Field: "media", Reason: err.Error()}}}
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &PersistenceError{Op: "load media", Err: err}
	}

	req := llm.AnalysisRequest{
		Stage:  string(stage.ID),
		Prompt: BuildPrompt(m.reg, stage, next, payload),
		Media:  media,
	}
	out, err := m.analyzer.Analyze(ctx, req, chain)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		m.log.WarnContext(ctx, "stage analysis unavailable", "session_id", next.SessionID, "stage", stage.ID, "error", err)
		return nil, &AIUnavailableError{Stage: stage.ID, Err: err}
	}

	res := &StageResult{
		Stage:           stage.ID,
		TierID:          out.TierID,
		ProviderRef:     out.ProviderRef,
		ComplexityScore: score,
		Analysis:        out.Analysis,
		CompletedAt:     m.now(),
	}
	for _, f := range out.PriorFailures {
		res.FailedTiers = append(res.FailedTiers, f.TierID)
	}
	return res, nil
}

func (m *Machine) loadMedia(ctx context.Context, refs []MediaRef) ([]llmclient.Media, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	if m.media == nil {
		return nil, errors.New("no media store configured")
	}
	out := make([]llmclient.Media, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	for i, ref := range refs {
		g.Go(func() error {
			data, ct, err := m.media.Get(gctx, ref.Key)
			if err != nil {
				return fmt.Errorf("media %s: %w", ref.Key, err)
			}
			if ref.ContentType != "" {
				ct = ref.ContentType
			}
			out[i] = llmclient.Media{MIMEType: ct, Data: data}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// persist saves s with bounded retries and publishes it on success.
func (m *Machine) persist(ctx context.Context, op string, s *State) error {
	s.CompletionPercentage = math.Min(100, math.Max(0, s.CompletionPercentage))
	err := m.retry(ctx, func() error { return m.store.Save(ctx, s) })
	if err == nil {
		m.publish(s)
		return nil
	}
	if errors.Is(err, ErrConcurrentModification) {
		return err
	}
	m.log.ErrorContext(ctx, "session save failed", "session_id", s.SessionID, "op", op, "error", err)
	return &PersistenceError{Op: op, Err: err}
}

// retry runs fn until it succeeds, returns a conflict or not-found, or the
// attempts run out. Backoff doubles after each failure.
func (m *Machine) retry(ctx context.Context, fn func() error) error {
	backoff := m.saveBackoff
	var err error
	for attempt := 1; attempt <= m.saveAttempts; attempt++ {
		err = fn()
		if err == nil || errors.Is(err, ErrConcurrentModification) || errors.Is(err, ErrNotFound) {
			return err
		}
		if attempt == m.saveAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}

func (m *Machine) publish(s *State) {
	if m.notifier != nil {
		m.notifier.Publish(s.Clone())
	}
}

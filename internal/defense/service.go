// Package defense runs the edge pipeline for a single request: detection,
// threat analysis, the defense decision, and best-effort persistence of the
// outcome.
package defense

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jmerrifield20/EdgeSentinel/internal/detect"
	"github.com/jmerrifield20/EdgeSentinel/internal/storage"
	"github.com/jmerrifield20/EdgeSentinel/internal/threat"
)

// MaxBatchSize is the largest batch accepted by AnalyzeBatch.
const MaxBatchSize = 100

// ErrBatchTooLarge is returned by AnalyzeBatch for more than MaxBatchSize items.
var ErrBatchTooLarge = fmt.Errorf("batch exceeds %d items", MaxBatchSize)

// StatsWindowDays is the trailing window reported by Stats.
const StatsWindowDays = 7

// Observer receives pipeline events, typically for metrics.
type Observer interface {
	Detection(category string)
	Decision(category, action string)
	Fallback()
	StorageError(op string)
}

// Notifier is told about every request that was detected as an attack,
// after the decision is made. Implementations must not block.
type Notifier interface {
	Notify(ctx context.Context, in Inbound, v *Verdict)
}

type nopObserver struct{}

func (nopObserver) Detection(string)        {}
func (nopObserver) Decision(string, string) {}
func (nopObserver) Fallback()               {}
func (nopObserver) StorageError(string)     {}

// Inbound is a request seen at the edge, plus where it came from and where
// it is going.
type Inbound struct {
	Request   detect.Request
	Source    string // e.g. "edge" or "inspect"
	Target    string // backend name, empty when not routed
	SourceIP  string
	UserAgent string
}

// Verdict is the result of running the pipeline on one request. Analysis is
// nil when no attack was detected.
type Verdict struct {
	Detection   detect.Result            `json:"detection"`
	Analysis    *threat.AnalysisResponse `json:"analysis,omitempty"`
	AttackLogID string                   `json:"attack_log_id,omitempty"`
}

// Action returns the verdict's action, allow when no attack was detected.
func (v *Verdict) Action() threat.Action {
	if v.Analysis == nil {
		return threat.ActionAllow
	}
	return v.Analysis.Action
}

// Stats summarises recent detections.
type Stats struct {
	WindowDays int                     `json:"window_days"`
	Total      int                     `json:"total"`
	Categories []storage.CategoryCount `json:"categories"`
}

// Service wires the detector, analyzers and store together.
type Service struct {
	detector *detect.Detector
	engine   *threat.Engine  // serves the analysis API
	analyzer threat.Analyzer // used for inspected traffic; defaults to engine
	store    storage.Store   // nil = nothing persisted
	observer Observer
	notifier Notifier // nil = no alerts
	logger   *zap.Logger
}

// NewService creates a Service. The local engine is used for inspected
// traffic until SetAnalyzer is called.
func NewService(detector *detect.Detector, engine *threat.Engine, logger *zap.Logger) *Service {
	return &Service{
		detector: detector,
		engine:   engine,
		analyzer: engine,
		observer: nopObserver{},
		logger:   logger,
	}
}

// SetAnalyzer replaces the analyzer used for inspected traffic, e.g. with a
// threat.RemoteAnalyzer. Failures of this analyzer fall back to
// threat.Fallback.
func (s *Service) SetAnalyzer(a threat.Analyzer) {
	if a == nil {
		a = s.engine
	}
	s.analyzer = a
}

// SetStore configures persistence. Set to nil to disable it.
func (s *Service) SetStore(st storage.Store) {
	s.store = st
}

// SetObserver configures the pipeline event sink.
func (s *Service) SetObserver(o Observer) {
	if o == nil {
		o = nopObserver{}
	}
	s.observer = o
}

// SetNotifier configures where attack verdicts are reported.
func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

// Inspect runs the full pipeline on in. It never fails: collaborator errors
// degrade to documented fallbacks and are logged.
func (s *Service) Inspect(ctx context.Context, in Inbound) *Verdict {
	surface := detect.Decode(in.Request)
	res := s.detector.DetectSurface(surface)
	v := &Verdict{Detection: res}
	if !res.IsAttack {
		return v
	}
	s.observer.Detection(string(res.Category))

	req := threat.AnalysisRequest{
		Category:   res.Category,
		Confidence: res.Confidence,
		Evidence:   res.Evidence,
	}
	analysis, err := s.analyzer.Analyze(ctx, req)
	if err != nil {
		s.logger.Warn("threat analysis unavailable, using fallback rule",
			zap.String("category", string(res.Category)),
			zap.Error(err),
		)
		s.observer.Fallback()
		analysis = threat.Fallback(req, err)
	}
	v.Analysis = analysis
	s.observer.Decision(string(res.Category), string(analysis.Action))

	logID := s.logAttack(ctx, in, surface, res)
	if logID != uuid.Nil {
		v.AttackLogID = logID.String()
	}
	s.recordOutcome(ctx, logID, req, analysis)
	if s.notifier != nil {
		s.notifier.Notify(ctx, in, v)
	}
	return v
}

// Analyze scores one detection with the local engine and records the
// outcome.
func (s *Service) Analyze(ctx context.Context, req threat.AnalysisRequest) (*threat.AnalysisResponse, error) {
	resp, err := s.engine.Analyze(ctx, req)
	if err != nil {
		return nil, err
	}
	s.observer.Decision(string(req.Category), string(resp.Action))

	logID, err := uuid.Parse(req.AttackLogID)
	if err != nil {
		logID = uuid.Nil
	}
	s.recordOutcome(ctx, logID, req, resp)
	return resp, nil
}

// AnalyzeBatch scores each request in order. The whole batch is rejected if
// any item is invalid.
func (s *Service) AnalyzeBatch(ctx context.Context, reqs []threat.AnalysisRequest) ([]*threat.AnalysisResponse, error) {
	if len(reqs) > MaxBatchSize {
		return nil, ErrBatchTooLarge
	}
	for i, r := range reqs {
		if _, ok := detect.ParseCategory(string(r.Category)); !ok {
			return nil, fmt.Errorf("item %d: %w: %q", i, threat.ErrUnknownCategory, r.Category)
		}
	}

	out := make([]*threat.AnalysisResponse, 0, len(reqs))
	for _, r := range reqs {
		resp, err := s.Analyze(ctx, r)
		if err != nil {
			return nil, err
		}
		out = append(out, resp)
	}
	return out, nil
}

// RecentDetections lists logged attacks, newest first.
func (s *Service) RecentDetections(ctx context.Context, limit int) ([]storage.DetectionRecord, error) {
	if s.store == nil {
		return nil, storage.ErrUnavailable
	}
	return s.store.RecentDetections(ctx, limit)
}

// Detection returns one logged attack.
func (s *Service) Detection(ctx context.Context, id uuid.UUID) (*storage.AttackLog, error) {
	if s.store == nil {
		return nil, storage.ErrUnavailable
	}
	return s.store.AttackLog(ctx, id)
}

// RecentTraining lists training samples, newest first.
func (s *Service) RecentTraining(ctx context.Context, limit int) ([]storage.TrainingSample, error) {
	if s.store == nil {
		return nil, storage.ErrUnavailable
	}
	return s.store.RecentTraining(ctx, limit)
}

// Stats returns detection counts by category over the last StatsWindowDays.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	if s.store == nil {
		return nil, storage.ErrUnavailable
	}
	since := time.Now().UTC().AddDate(0, 0, -StatsWindowDays)
	counts, err := s.store.CountByCategory(ctx, since)
	if err != nil {
		return nil, err
	}
	st := &Stats{WindowDays: StatsWindowDays, Categories: counts}
	for _, c := range counts {
		st.Total += c.Count
	}
	return st, nil
}

// logAttack writes the attack log and returns its ID, or uuid.Nil when it
// could not be written.
func (s *Service) logAttack(ctx context.Context, in Inbound, surface detect.Surface, res detect.Result) uuid.UUID {
	if s.store == nil {
		return uuid.Nil
	}

	payload := surface.Combined
	if payload == "" {
		payload = surface.Path
	}
	headers, err := json.Marshal(in.Request.Headers)
	if err != nil {
		headers = nil
	}

	l := &storage.AttackLog{
		Source:     in.Source,
		Target:     in.Target,
		AttackType: string(res.Category),
		Method:     in.Request.Method,
		Path:       surface.Path,
		Payload:    payload,
		Headers:    string(headers),
		UserAgent:  in.UserAgent,
		SourceIP:   in.SourceIP,
		Confidence: res.Confidence,
	}
	if err := s.store.CreateAttackLog(ctx, l); err != nil {
		s.storageFailed("attack_log", err)
		return uuid.Nil
	}
	return l.ID
}

// recordOutcome writes the defense response and training sample.
func (s *Service) recordOutcome(ctx context.Context, logID uuid.UUID, req threat.AnalysisRequest, resp *threat.AnalysisResponse) {
	if s.store == nil {
		return
	}
	if logID != uuid.Nil {
		err := s.store.CreateDefenseResponse(ctx, &storage.DefenseResponse{
			AttackLogID:  logID,
			Action:       string(resp.Action),
			Blocked:      resp.ShouldBlock,
			Reason:       resp.Reason,
			Confidence:   resp.Confidence,
			ModelVersion: resp.ModelVersion,
		})
		if err != nil {
			s.storageFailed("defense_response", err)
		}
	}
	err := s.store.CreateTrainingSample(ctx, &storage.TrainingSample{
		Category:      string(req.Category),
		Confidence:    req.Confidence,
		ThreatScore:   resp.ThreatScore,
		Action:        string(resp.Action),
		EvidenceCount: len(req.Evidence),
		ModelVersion:  resp.ModelVersion,
	})
	if err != nil {
		s.storageFailed("training_sample", err)
	}
}

func (s *Service) storageFailed(op string, err error) {
	s.observer.StorageError(op)
	level := s.logger.Warn
	if !errors.Is(err, storage.ErrUnavailable) {
		level = s.logger.Error
	}
	level("storage write failed (non-fatal)", zap.String("op", op), zap.Error(err))
}

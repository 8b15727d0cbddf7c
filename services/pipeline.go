package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"trial-etl/config"
	"trial-etl/models"
	"trial-etl/storage"
)

// Stage ist der Zustand, den ein Lauf nach einer erfolgreich abgeschlossenen Stufe erreicht hat.
type Stage string

const (
	StageFetched   Stage = "FETCHED"
	StageFlattened Stage = "FLATTENED"
	StageValidated Stage = "VALIDATED"
	StageLoaded    Stage = "LOADED"
)

var stageOrder = []Stage{StageFetched, StageFlattened, StageValidated, StageLoaded}

// ErrRunInProgress wird zurückgegeben, wenn bereits ein Lauf aktiv ist.
var ErrRunInProgress = errors.New("es läuft bereits ein Pipeline-Lauf")

// ParseStage wandelt einen Stufennamen (Groß-/Kleinschreibung egal) um. Leer bedeutet StageFetched.
func ParseStage(s string) (Stage, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return StageFetched, nil
	}
	for _, st := range stageOrder {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unbekannte Stufe %q", s)
}

func (s Stage) index() int {
	for i, st := range stageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// RunOptions steuert einen Lauf. From ist die erste auszuführende Stufe; alle späteren
// Stufen lesen die Artefakte ihres Vorgängers von der Platte.
type RunOptions struct {
	Condition string `json:"condition"`
	From      Stage  `json:"from"`
}

// RunResult fasst einen Pipeline-Lauf zusammen.
type RunResult struct {
	RunID      uuid.UUID          `json:"run_id"`
	Condition  string             `json:"condition,omitempty"`
	From       Stage              `json:"from"`
	Stage      Stage              `json:"stage,omitempty"`
	Running    bool               `json:"running"`
	Fetch      *FetchResult       `json:"fetch,omitempty"`
	Flatten    *FlattenReport     `json:"flatten,omitempty"`
	Validation []ValidationReport `json:"validation,omitempty"`
	Load       *LoadReport        `json:"load,omitempty"`
	Error      string             `json:"error,omitempty"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt *time.Time         `json:"finished_at,omitempty"`
}

// Pipeline verkettet Fetch, Flatten, Validate und Load. Es läuft immer höchstens ein Lauf.
type Pipeline struct {
	Config    *config.Config
	Fetcher   *FetchService
	Flattener *Flattener
	Validator *Validator
	Loader    *Loader
	Tables    *storage.TableStore
	Logger    *zap.Logger

	mu      sync.Mutex
	running bool
	latest  *RunResult
}

// NewPipeline erstellt eine Pipeline aus ihren Stufen.
func NewPipeline(cfg *config.Config, fetcher *FetchService, loader *Loader, tables *storage.TableStore, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		Config:    cfg,
		Fetcher:   fetcher,
		Flattener: NewFlattener(logger),
		Validator: NewValidator(logger),
		Loader:    loader,
		Tables:    tables,
		Logger:    logger,
	}
}

// Run führt einen Lauf synchron aus.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (RunResult, error) {
	res, err := p.begin(opts)
	if err != nil {
		return RunResult{}, err
	}
	return p.execute(ctx, res, opts)
}

// Start startet einen Lauf im Hintergrund und gibt dessen ID zurück.
func (p *Pipeline) Start(ctx context.Context, opts RunOptions) (uuid.UUID, error) {
	res, err := p.begin(opts)
	if err != nil {
		return uuid.Nil, err
	}
	go func() {
		_, _ = p.execute(ctx, res, opts)
	}()
	return res.RunID, nil
}

// Latest liefert den zuletzt gestarteten Lauf, falls es einen gibt.
func (p *Pipeline) Latest() (RunResult, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.latest == nil {
		return RunResult{}, false
	}
	return *p.latest, true
}

func (p *Pipeline) begin(opts RunOptions) (*RunResult, error) {
	if opts.From == "" {
		opts.From = StageFetched
	}
	if opts.From.index() < 0 {
		return nil, fmt.Errorf("unbekannte Stufe %q", opts.From)
	}
	if opts.From == StageFetched && strings.TrimSpace(opts.Condition) == "" {
		return nil, errors.New("für den Fetch-Schritt ist eine Indikation (condition) erforderlich")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil, ErrRunInProgress
	}
	p.running = true
	res := &RunResult{
		RunID:     uuid.New(),
		Condition: opts.Condition,
		From:      opts.From,
		Running:   true,
		StartedAt: time.Now().UTC(),
	}
	p.latest = res
	return res, nil
}

func (p *Pipeline) execute(ctx context.Context, res *RunResult, opts RunOptions) (RunResult, error) {
	if opts.From == "" {
		opts.From = StageFetched
	}
	log := p.Logger.With(zap.String("run_id", res.RunID.String()), zap.String("from", string(opts.From)))
	log.Info("Pipeline-Lauf gestartet", zap.String("condition", opts.Condition))

	err := p.stages(ctx, res, opts, log)

	p.mu.Lock()
	now := time.Now().UTC()
	res.FinishedAt = &now
	res.Running = false
	status := "success"
	if err != nil {
		res.Error = err.Error()
		status = "failure"
	}
	p.running = false
	out := *res
	p.mu.Unlock()

	runsCompleted.WithLabelValues(string(out.Stage), status).Inc()
	if err != nil {
		log.Error("Pipeline-Lauf fehlgeschlagen", zap.String("stage", string(out.Stage)), zap.Error(err))
	} else {
		log.Info("Pipeline-Lauf abgeschlossen", zap.String("stage", string(out.Stage)), zap.Duration("duration", now.Sub(out.StartedAt)))
	}
	return out, err
}

// stages führt die Stufen ab opts.From aus. Zwischenergebnisse werden nur unter p.mu in res geschrieben,
// damit Latest während eines Hintergrundlaufs konsistent lesen kann.
func (p *Pipeline) stages(ctx context.Context, res *RunResult, opts RunOptions, log *zap.Logger) error {
	from := opts.From.index()
	set := func(f func()) {
		p.mu.Lock()
		f()
		p.mu.Unlock()
	}

	if from <= StageFetched.index() {
		fr, err := p.Fetcher.Run(ctx, opts.Condition)
		set(func() { res.Fetch = &fr })
		if err != nil {
			return fmt.Errorf("stufe fetch: %w", err)
		}
		set(func() { res.Stage = StageFetched })
	}

	var processed *models.Tables
	if from <= StageFlattened.index() {
		run, err := p.Fetcher.LoadRun(opts.Condition)
		if err != nil {
			return fmt.Errorf("stufe flatten: %w", err)
		}
		set(func() {
			if res.Condition == "" {
				res.Condition = run.Manifest.Condition
			}
		})
		tables, report := p.Flattener.Flatten(run.RetrievalDate, run.Manifest.APIVersion, run.Studies, run.AdverseEvents)
		report.observe()
		set(func() { res.Flatten = &report })
		if err := p.Tables.WriteProcessed(tables); err != nil {
			return fmt.Errorf("stufe flatten: %w", err)
		}
		processed = &tables
		set(func() { res.Stage = StageFlattened })
		log.Info("Flatten abgeschlossen", zap.Any("rows", tables.Counts()))
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var validated *models.Tables
	if from <= StageValidated.index() {
		if processed == nil {
			t, err := p.Tables.ReadProcessed()
			if err != nil {
				return fmt.Errorf("stufe validate: %w", err)
			}
			processed = &t
		}
		vopts := ValidationOptions{
			EliminateNulls:      p.Config.ValidateEliminateNulls,
			EliminateDuplicates: p.Config.ValidateEliminateDuplicates,
		}
		clean, reports := p.Validator.ValidateTables(*processed, vopts)
		set(func() { res.Validation = reports })
		if err := p.Tables.WriteValidated(clean); err != nil {
			return fmt.Errorf("stufe validate: %w", err)
		}
		validated = &clean
		set(func() { res.Stage = StageValidated })
		log.Info("Validierung abgeschlossen", zap.Any("rows", clean.Counts()))
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if validated == nil {
		t, err := p.Tables.ReadValidated()
		if err != nil {
			return fmt.Errorf("stufe load: %w", err)
		}
		validated = &t
	}
	report, err := p.Loader.Load(ctx, *validated)
	set(func() { res.Load = &report })
	if err != nil {
		return fmt.Errorf("stufe load: %w", err)
	}
	set(func() { res.Stage = StageLoaded })
	return nil
}

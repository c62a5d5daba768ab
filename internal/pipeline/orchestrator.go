package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"article-pipeline/internal/models"
	"article-pipeline/internal/runlog"
	"article-pipeline/internal/store"
	"article-pipeline/internal/telemetry"
)

// Phase names in execution order.
const (
	PhaseConfiguration = "configuration"
	PhaseStructure     = "structure"
	PhaseContent       = "content"
	PhaseImages        = "images"
	PhaseAssets        = "assets"
	PhasePublish       = "publish"
)

// Deps wires the queue store and the six collaborators into an orchestrator.
type Deps struct {
	Store     store.Store
	Configs   ConfigurationSource
	Structure StructureBuilder
	Content   ContentWriter
	Images    ImageGenerator
	Assets    AssetOrganizer
	Publisher Publisher
	Log       *zap.Logger
}

// Orchestrator runs claimed jobs. Each run owns one runlog.Logger, calls the
// collaborators in strict phase order, and mutates job status only through
// the store's transition-validated API.
type Orchestrator struct {
	store     store.Store
	configs   ConfigurationSource
	structure StructureBuilder
	content   ContentWriter
	images    ImageGenerator
	assets    AssetOrganizer
	publisher Publisher
	log       *zap.Logger
}

// New builds an orchestrator from its dependencies.
func New(d Deps) *Orchestrator {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	return &Orchestrator{
		store:     d.Store,
		configs:   d.Configs,
		structure: d.Structure,
		content:   d.Content,
		images:    d.Images,
		assets:    d.Assets,
		publisher: d.Publisher,
		log:       d.Log,
	}
}

// phaseStep is one pipeline phase. run returns the result summary recorded
// in the audit trail; a non-nil error aborts the run.
type phaseStep struct {
	name string
	meta map[string]any
	run  func(ctx context.Context) (map[string]any, error)
}

// RunJob drives one claimed job through all six phases. Each phase feeds
// the next; the first failure aborts the run, moves the job to failed, and
// surfaces as a PhaseExecutionError. The audit trail is flushed exactly
// once, whichever way the run ends.
func (o *Orchestrator) RunJob(ctx context.Context, job models.Job) (err error) {
	rec := runlog.New(job.ID, o.log)
	ctx = runlog.NewContext(ctx, rec)

	defer func() {
		trail := rec.GenerateAuditTrail()
		if saveErr := o.store.SaveAuditTrail(ctx, job.ID, trail); saveErr != nil {
			o.log.Error("persist audit trail",
				zap.String("job_id", job.ID), zap.Error(saveErr))
			if err == nil {
				err = fmt.Errorf("persist audit trail: %w", saveErr)
			}
		}
	}()

	var (
		cfg       models.Configuration
		structure models.ArticleStructure
		content   models.ArticleContent
		images    models.GeneratedImages
		manifest  models.AssetManifest
		result    models.PublishResult
	)

	steps := []phaseStep{
		{
			name: PhaseConfiguration,
			meta: map[string]any{"configuration_id": job.ConfigurationID},
			run: func(ctx context.Context) (map[string]any, error) {
				loaded, err := o.configs.Get(ctx, job.ConfigurationID, true)
				if err != nil {
					return nil, err
				}
				if err := loaded.ValidateForRun(); err != nil {
					return nil, err
				}
				cfg = loaded
				return map[string]any{
					"configuration_id": cfg.ID,
					"name":             cfg.Name,
					"chapter_count":    cfg.ChapterCount(),
					"language":         cfg.Language(),
				}, nil
			},
		},
		{
			name: PhaseStructure,
			meta: map[string]any{"seed_keyword": job.SeedKeyword},
			run: func(ctx context.Context) (map[string]any, error) {
				built, err := o.structure.Build(ctx, cfg, job)
				if err != nil {
					return nil, err
				}
				structure = built
				return map[string]any{
					"title":           structure.Metadata.Title,
					"slug":            structure.Metadata.Slug,
					"chapters":        len(structure.Chapters),
					"content_prompts": len(structure.ContentPrompts),
				}, nil
			},
		},
		{
			name: PhaseContent,
			run: func(ctx context.Context) (map[string]any, error) {
				written, err := o.content.WriteAll(ctx, cfg, structure)
				if err != nil {
					return nil, err
				}
				content = written
				words := 0
				for _, ch := range content.Chapters {
					words += ch.ActualWordCount
				}
				return map[string]any{
					"chapters":    len(content.Chapters),
					"total_words": words,
				}, nil
			},
		},
		{
			name: PhaseImages,
			run: func(ctx context.Context) (map[string]any, error) {
				generated, err := o.images.GenerateAll(ctx, cfg, structure.ImagePrompts)
				if err != nil {
					return nil, err
				}
				images = generated
				return map[string]any{
					"featured":       images.Featured.Name,
					"chapter_images": len(images.Chapters),
					"total_cost_usd": images.TotalCost,
				}, nil
			},
		},
		{
			name: PhaseAssets,
			run: func(ctx context.Context) (map[string]any, error) {
				bundle := models.AssetBundle{Structure: structure, Content: content, Images: images}
				organized, err := o.assets.Organize(ctx, bundle, structure.Metadata.Slug)
				if err != nil {
					return nil, err
				}
				manifest = organized
				return map[string]any{
					"folder_ref": manifest.FolderRef,
					"files":      len(manifest.Files),
				}, nil
			},
		},
		{
			name: PhasePublish,
			run: func(ctx context.Context) (map[string]any, error) {
				categories, err := o.store.ListCategories(ctx, job.ID)
				if err != nil {
					return nil, fmt.Errorf("list categories: %w", err)
				}
				tags, err := o.store.ListTags(ctx, job.ID)
				if err != nil {
					return nil, fmt.Errorf("list tags: %w", err)
				}
				published, err := o.publisher.Publish(ctx, cfg, models.PublishRequest{
					Structure:     structure,
					Content:       content,
					Images:        images,
					Manifest:      manifest,
					Categories:    categories,
					Tags:          tags,
					ScheduledDate: job.ScheduledDate,
				})
				if err != nil {
					return nil, err
				}
				result = published
				return map[string]any{
					"post_id":  result.PostID,
					"post_url": result.PostURL,
					"status":   result.Status,
				}, nil
			},
		},
	}

	for _, step := range steps {
		rec.StartPhase(step.name, step.meta)
		started := time.Now()
		summary, phaseErr := step.run(ctx)
		elapsed := time.Since(started).Seconds()

		if phaseErr != nil {
			rec.FailPhase(step.name, phaseErr.Error(), phaseErr)
			telemetry.PhaseDuration.WithLabelValues(step.name, runlog.PhaseFailed).Observe(elapsed)
			perr := &models.PhaseExecutionError{Phase: step.name, Err: phaseErr}
			o.failJob(ctx, job.ID, perr)
			o.recordCosts(rec)
			telemetry.JobsFailed.Inc()
			o.log.Error("pipeline run failed",
				zap.String("job_id", job.ID),
				zap.String("phase", step.name),
				zap.Error(phaseErr))
			return perr
		}

		rec.CompletePhase(step.name, summary)
		telemetry.PhaseDuration.WithLabelValues(step.name, runlog.PhaseCompleted).Observe(elapsed)
	}

	if _, uerr := o.store.UpdateStatus(ctx, job.ID, models.StatusCompleted, store.StatusUpdate{
		ResultRefID: result.PostID,
		ResultURL:   result.PostURL,
	}); uerr != nil {
		rec.LogError(fmt.Sprintf("mark job completed: %v", uerr), nil)
		o.recordCosts(rec)
		telemetry.JobsFailed.Inc()
		return fmt.Errorf("mark job completed: %w", uerr)
	}

	runSummary := o.recordCosts(rec)
	telemetry.JobsCompleted.Inc()
	o.log.Info("pipeline run completed",
		zap.String("job_id", job.ID),
		zap.String("post_id", result.PostID),
		zap.String("post_url", result.PostURL),
		zap.Float64("total_cost_usd", runSummary.TotalCostUSD),
		zap.Float64("duration_seconds", runSummary.TotalDurationSeconds))
	return nil
}

// failJob moves the job to failed with the triggering error's message.
func (o *Orchestrator) failJob(ctx context.Context, jobID string, perr *models.PhaseExecutionError) {
	if _, err := o.store.UpdateStatus(ctx, jobID, models.StatusFailed, store.StatusUpdate{
		ErrorMessage: perr.Error(),
	}); err != nil {
		o.log.Error("mark job failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

// recordCosts pushes the run's per-API cost totals into telemetry and
// returns the summary they came from.
func (o *Orchestrator) recordCosts(rec *runlog.Logger) runlog.Summary {
	summary := rec.GenerateSummary()
	for api, cost := range summary.CostByAPI {
		if cost > 0 {
			telemetry.APICost.WithLabelValues(api).Add(cost)
		}
	}
	return summary
}

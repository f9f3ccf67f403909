// Package pipeline runs the background half of the attachment flow: once the
// blob store reports an uploaded object, the file is inspected, scanned,
// moderated and turned into derivatives. Every stage records its own state on
// the attachment row, so a redelivered event resumes where the last one
// stopped and never redoes finished work.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"messaging-service/apperr"
	"messaging-service/audit"
	"messaging-service/blob"
	"messaging-service/config"
	"messaging-service/model"

	"github.com/gabriel-vasile/mimetype"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/zeebo/blake3"
	"gorm.io/gorm"
)

type Stage string

const (
	StageInspect     Stage = "inspect"
	StageScan        Stage = "scan"
	StageModeration  Stage = "moderation"
	StageDerivatives Stage = "derivatives"
)

type StageResult string

const (
	ResultDone       StageResult = "done"
	ResultSkipped    StageResult = "skipped"
	ResultInfected   StageResult = "infected"
	ResultFlagged    StageResult = "flagged"
	ResultUnresolved StageResult = "unresolved"
	ResultFailed     StageResult = "failed"
	ResultRejected   StageResult = "rejected"
)

var stageOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "messaging_pipeline_stage_total",
	Help: "Attachment pipeline stage outcomes.",
}, []string{"stage", "result"})

func init() {
	prometheus.MustRegister(stageOutcomes)
}

// Outcome reports what one Process call did. Stages that did not run are
// absent from Stages.
type Outcome struct {
	AttachmentID string
	// Ignored is set when there was nothing to do: unknown path, missing
	// object, or another worker holding the path.
	Ignored bool
	Stages  map[Stage]StageResult
}

// Invalidator drops cached message windows of a conversation.
type Invalidator interface {
	Invalidate(conversationID string)
}

type Options struct {
	DB        *gorm.DB
	Blob      blob.Store
	Scanner   Scanner
	Moderator Moderator
	Media     Media
	Locker    Locker
	Audit     audit.Recorder
	// Cache is told about every change to an attachment so cached message
	// windows never outlive a verdict. Optional.
	Cache  Invalidator
	Policy config.Policy
	Log    zerolog.Logger
	Now    func() time.Time
}

type Processor struct {
	db        *gorm.DB
	blob      blob.Store
	scanner   Scanner
	moderator Moderator
	media     Media
	locker    Locker
	audit     audit.Recorder
	cache     Invalidator
	policy    config.Policy
	log       zerolog.Logger
	now       func() time.Time
}

func NewProcessor(opts Options) *Processor {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Locker == nil {
		opts.Locker = NewLocalLocker()
	}
	return &Processor{
		db:        opts.DB,
		blob:      opts.Blob,
		scanner:   opts.Scanner,
		moderator: opts.Moderator,
		media:     opts.Media,
		locker:    opts.Locker,
		audit:     opts.Audit,
		cache:     opts.Cache,
		policy:    opts.Policy,
		log:       opts.Log,
		now:       opts.Now,
	}
}

// run carries the per-call state of Process.
type run struct {
	p          *Processor
	bucket     string
	attachment *model.Attachment
	data       []byte
	outcome    Outcome
	log        zerolog.Logger
}

// Process advances the attachment stored at path through every stage that
// has not completed yet. Scan and moderation upstream failures leave their
// stage unresolved for the next delivery; an error is returned only when the
// attachment could not be loaded or read.
func (p *Processor) Process(ctx context.Context, bucket, path string) (Outcome, error) {
	outcome := Outcome{Stages: map[Stage]StageResult{}}
	if bucket == "" {
		bucket = p.policy.Upload.Bucket
	}
	log := p.log.With().Str("bucket", bucket).Str("path", path).Logger()

	unlock, ok, err := p.locker.Lock(ctx, "pipeline:"+bucket+"/"+path, p.policy.Pipeline.LockTTL)
	if err != nil {
		return outcome, apperr.Upstream("lock", err)
	}
	if !ok {
		log.Debug().Msg("path is being processed by another worker")
		outcome.Ignored = true
		return outcome, nil
	}
	defer unlock()

	attachment := new(model.Attachment)
	err = p.db.WithContext(ctx).First(attachment, "path = ?", path).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Warn().Msg("no attachment reserved for uploaded object")
		outcome.Ignored = true
		return outcome, nil
	}
	if err != nil {
		return outcome, fmt.Errorf("load attachment: %w", err)
	}
	outcome.AttachmentID = attachment.ID

	r := &run{
		p:          p,
		bucket:     bucket,
		attachment: attachment,
		outcome:    outcome,
		log:        log.With().Str("attachment_id", attachment.ID).Logger(),
	}
	err = r.execute(ctx)
	return r.outcome, err
}

func (r *run) execute(ctx context.Context) error {
	data, err := r.p.blob.Get(ctx, r.bucket, r.attachment.Path)
	if errors.Is(err, blob.ErrNotFound) {
		r.log.Warn().Msg("uploaded object is gone")
		r.outcome.Ignored = true
		return nil
	}
	if err != nil {
		return apperr.Upstream("blob store", err)
	}
	r.data = data

	r.inspect(ctx)
	if r.attachment.Status == model.AttachmentRejected {
		return nil
	}

	scanned := r.scan(ctx)
	if r.attachment.Infected {
		return nil
	}
	r.moderate(ctx)
	if !scanned {
		r.record(ctx, StageDerivatives, ResultSkipped, map[string]any{"reason": "scan unresolved"})
		return nil
	}
	r.derivatives(ctx)
	return nil
}

// update applies fields to the attachment row, mirrors them on the in-memory
// copy by reloading and drops the conversation's cached window.
func (r *run) update(ctx context.Context, fields map[string]any) error {
	err := r.p.db.WithContext(ctx).Model(&model.Attachment{}).Where("id = ?", r.attachment.ID).Updates(fields).Error
	if err != nil {
		return fmt.Errorf("update attachment: %w", err)
	}
	if r.p.cache != nil {
		r.p.cache.Invalidate(r.attachment.ConversationID)
	}
	return r.p.db.WithContext(ctx).First(r.attachment, "id = ?", r.attachment.ID).Error
}

func (r *run) record(ctx context.Context, stage Stage, result StageResult, payload map[string]any) {
	r.outcome.Stages[stage] = result
	stageOutcomes.WithLabelValues(string(stage), string(result)).Inc()
	if payload == nil {
		payload = map[string]any{}
	}
	payload["result"] = result
	payload["path"] = r.attachment.Path
	r.p.audit.Record(ctx, audit.SystemActor, "attachment."+string(stage), "attachments", r.attachment.ID, payload)
}

func (r *run) inspect(ctx context.Context) {
	if r.attachment.Checksum != "" {
		r.outcome.Stages[StageInspect] = ResultSkipped
		return
	}
	sum := blake3.Sum256(r.data)
	detected := mimetype.Detect(r.data).String()
	if i := strings.IndexByte(detected, ';'); i >= 0 {
		detected = detected[:i]
	}

	landed := int64(len(r.data))
	fields := map[string]any{
		"checksum":      fmt.Sprintf("%x", sum),
		"detected_type": detected,
	}
	reason := r.violation(landed, detected)
	switch {
	case reason != "":
		fields["status"] = model.AttachmentRejected
		fields["flagged"] = true
	case r.attachment.Status == model.AttachmentPending:
		fields["status"] = model.AttachmentUploaded
		fields["size"] = landed
	default:
		fields["size"] = landed
	}
	payload := map[string]any{
		"detected_type": detected,
		"declared_type": baseType(r.attachment.ContentType),
		"declared_size": r.attachment.Size,
		"size":          landed,
	}
	if err := r.update(ctx, fields); err != nil {
		r.log.Error().Err(err).Msg("failed to record file metadata")
		r.record(ctx, StageInspect, ResultFailed, map[string]any{"error": err.Error()})
		return
	}
	if reason != "" {
		payload["reason"] = reason
		r.log.Warn().
			Str("reason", reason).
			Str("detected", detected).
			Int64("size", landed).
			Msg("uploaded object does not match its reservation")
		r.record(ctx, StageInspect, ResultRejected, payload)
		return
	}
	r.record(ctx, StageInspect, ResultDone, payload)
}

// violation compares the landed object with the reservation made when the
// upload token was issued. An empty result means the object is acceptable.
func (r *run) violation(landed int64, detected string) string {
	upload := r.p.policy.Upload
	declared := baseType(r.attachment.ContentType)
	switch {
	case landed > r.attachment.Size:
		return "larger than declared size"
	case upload.MaxSize > 0 && landed > upload.MaxSize:
		return "larger than upload limit"
	case !upload.Allowed(declared):
		return "declared type is not allowed"
	case mediaClass(detected) != mediaClass(declared) && !upload.Allowed(detected):
		return "content does not match declared type"
	}
	return ""
}

// scan reports whether the scan verdict is known.
func (r *run) scan(ctx context.Context) bool {
	if r.attachment.Scanned {
		r.outcome.Stages[StageScan] = ResultSkipped
		return true
	}
	result, err := r.p.scanner.Scan(ctx, r.attachment.FileName, r.attachment.ContentType, r.data)
	if err != nil {
		r.log.Warn().Err(err).Msg("virus scan unavailable")
		r.record(ctx, StageScan, ResultUnresolved, map[string]any{"error": err.Error()})
		return false
	}

	now := r.p.now()
	fields := map[string]any{
		"scanned":    true,
		"scanned_at": now,
		"infected":   result.Infected,
		"status":     model.AttachmentClean,
	}
	if result.Infected {
		fields["status"] = model.AttachmentInfected
		fields["flagged"] = true
	}
	if err := r.update(ctx, fields); err != nil {
		r.log.Error().Err(err).Msg("failed to record scan verdict")
		r.record(ctx, StageScan, ResultFailed, map[string]any{"error": err.Error()})
		return false
	}

	if result.Infected {
		r.log.Warn().Str("signature", result.Signature).Msg("attachment is infected")
		r.record(ctx, StageScan, ResultInfected, map[string]any{"signature": result.Signature})
		return true
	}
	r.record(ctx, StageScan, ResultDone, nil)
	return true
}

func (r *run) moderate(ctx context.Context) {
	if !moderatable(r.attachment) {
		return
	}
	if r.attachment.ModeratedAt != nil {
		r.outcome.Stages[StageModeration] = ResultSkipped
		return
	}
	score, err := r.p.moderator.Moderate(ctx, r.attachment.ContentType, r.data)
	if err != nil {
		r.log.Warn().Err(err).Msg("moderation unavailable")
		r.record(ctx, StageModeration, ResultUnresolved, map[string]any{"error": err.Error()})
		return
	}

	flagged := score >= r.p.policy.Pipeline.ModerationThreshold
	fields := map[string]any{
		"moderation_score": score,
		"moderated_at":     r.p.now(),
	}
	if flagged {
		fields["flagged"] = true
	}
	if err := r.update(ctx, fields); err != nil {
		r.log.Error().Err(err).Msg("failed to record moderation score")
		r.record(ctx, StageModeration, ResultFailed, map[string]any{"error": err.Error()})
		return
	}

	result := ResultDone
	if flagged {
		result = ResultFlagged
		r.log.Warn().Float64("score", score).Msg("attachment flagged for moderator review")
	}
	r.record(ctx, StageModeration, result, map[string]any{"score": score})
}

func (r *run) derivatives(ctx context.Context) {
	if r.attachment.ProcessedAt != nil {
		r.outcome.Stages[StageDerivatives] = ResultSkipped
		return
	}

	paths := DerivativePaths(r.attachment)
	fields := map[string]any{}
	var err error
	switch r.attachment.MediaClass() {
	case "image":
		err = r.derive(ctx, paths.Thumbnail, "image/jpeg", func() ([]byte, error) {
			return Thumbnail(r.data, r.p.policy.Pipeline.ThumbnailSize)
		})
		if err == nil {
			fields["thumbnail_path"] = paths.Thumbnail
		}
	case "video":
		err = r.derive(ctx, paths.Transcoded, "video/mp4", func() ([]byte, error) {
			return r.p.media.TranscodeVideo(ctx, r.data)
		})
		if err == nil {
			fields["transcoded_path"] = paths.Transcoded
			err = r.derive(ctx, paths.Thumbnail, "image/jpeg", func() ([]byte, error) {
				return r.p.media.VideoThumbnail(ctx, r.data, r.p.policy.Pipeline.ThumbnailSize)
			})
		}
		if err == nil {
			fields["thumbnail_path"] = paths.Thumbnail
		}
	case "audio":
		err = r.derive(ctx, paths.Audio, "audio/mp4", func() ([]byte, error) {
			return r.p.media.NormalizeAudio(ctx, r.data)
		})
		if err == nil {
			fields["transcoded_path"] = paths.Audio
		}
	}
	if err != nil {
		r.log.Error().Err(err).Msg("derivative generation failed")
		r.record(ctx, StageDerivatives, ResultFailed, map[string]any{"error": err.Error()})
		return
	}

	fields["processed_at"] = r.p.now()
	if err := r.update(ctx, fields); err != nil {
		r.log.Error().Err(err).Msg("failed to record derivatives")
		r.record(ctx, StageDerivatives, ResultFailed, map[string]any{"error": err.Error()})
		return
	}
	delete(fields, "processed_at")
	r.record(ctx, StageDerivatives, ResultDone, fields)
}

// derive writes one derivative unless a previous run already stored it.
func (r *run) derive(ctx context.Context, path, contentType string, generate func() ([]byte, error)) error {
	exists, err := r.p.blob.Exists(ctx, r.bucket, path)
	if err != nil {
		return fmt.Errorf("check %s: %w", path, err)
	}
	if exists {
		return nil
	}
	data, err := generate()
	if err != nil {
		return err
	}
	if err := r.p.blob.Put(ctx, r.bucket, path, contentType, data); err != nil {
		return fmt.Errorf("store %s: %w", path, err)
	}
	return nil
}

type Derivatives struct {
	Thumbnail  string
	Transcoded string
	Audio      string
}

// DerivativePaths are fixed per attachment so a redelivered event overwrites
// instead of adding files.
func DerivativePaths(a *model.Attachment) Derivatives {
	return Derivatives{
		Thumbnail:  a.Path + ".thumb.jpg",
		Transcoded: a.Path + ".transcoded.mp4",
		Audio:      a.Path + ".normalized.m4a",
	}
}

func baseType(contentType string) string {
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}

func mediaClass(contentType string) string {
	return strings.SplitN(contentType, "/", 2)[0]
}

// moderatable covers images and text-like documents.
func moderatable(a *model.Attachment) bool {
	switch ct := baseType(a.ContentType); {
	case strings.HasPrefix(ct, "image/"), strings.HasPrefix(ct, "text/"):
		return true
	case ct == "application/pdf", ct == "application/json":
		return true
	}
	return false
}

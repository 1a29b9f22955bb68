// Package flow runs the image generation pipeline behind a chat turn:
// persist, audit, generate and summarize concurrently, re-host, persist
// the result, and report progress over server-sent events throughout.
package flow

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"picchat/internal/ai"
	"picchat/internal/metrics"
	"picchat/internal/models"
	"picchat/internal/policy"
	"picchat/internal/service/chat"
	"picchat/internal/service/settings"
)

const failurePrefix = "⚠️ Generation failed: "

// EventSink receives the progress events of one generation run.
// Implementations must tolerate Send after Close.
type EventSink interface {
	Send(event string, payload any) error
	Close()
}

// Request is one validated generation request. The handler has already
// checked content length and reference image counts.
type Request struct {
	Agent           *models.Agent
	User            *models.User
	Content         string
	ReferenceImages []string
	PublishToFeed   bool
}

// Orchestrator drives generation runs.
type Orchestrator struct {
	Chat     *chat.Service
	Settings settings.Resolver
	Gate     *policy.Gate
	AI       *ai.Client
	Metrics  *metrics.Metrics
	Logger   zerolog.Logger
}

func NewOrchestrator(chatSvc *chat.Service, resolver settings.Resolver, gate *policy.Gate, aiClient *ai.Client, m *metrics.Metrics, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		Chat:     chatSvc,
		Settings: resolver,
		Gate:     gate,
		AI:       aiClient,
		Metrics:  m,
		Logger:   logger,
	}
}

// Run executes one generation request end to end, reporting progress
// into the sink. The sink is always closed before Run returns. Errors
// are reported as events, not returned: by the time Run is called the
// HTTP response is already streaming.
func (o *Orchestrator) Run(ctx context.Context, req Request, sink EventSink) {
	defer sink.Close()
	start := time.Now()
	o.Metrics.GenerationsStarted.Inc()
	log := o.Logger.With().
		Int64("agent_id", req.Agent.ID).
		Int64("user_id", req.User.ID).
		Logger()

	msgType := models.TypeText
	if len(req.ReferenceImages) > 0 {
		msgType = models.TypeImage
	}
	userTurn, err := o.Chat.Append(ctx, &models.Message{
		AgentID:         req.Agent.ID,
		UserID:          req.User.ID,
		Kind:            models.KindUser,
		Content:         req.Content,
		ReferenceImages: req.ReferenceImages,
		Type:            msgType,
		IsPublished:     req.PublishToFeed,
	})
	if err != nil {
		log.Error().Err(err).Msg("persist user turn failed")
		o.fail(ctx, req, sink, start, NewCodedError(CodeInternal, "failed to save message"))
		return
	}
	sink.Send("user-message", map[string]any{
		"id":        userTurn.ID,
		"content":   userTurn.Content,
		"timestamp": userTurn.CreatedAt,
	})
	o.step(sink, "1/8 user message saved", map[string]any{"messageId": userTurn.ID})

	sink.Send("generating", map[string]any{
		"status":  "processing",
		"message": "Creating...",
	})
	o.step(sink, "2/8 generation started", nil)

	imageCfg, err := o.Settings.ImageConfig(ctx)
	if err != nil {
		log.Error().Err(err).Msg("resolve image config failed")
		o.fail(ctx, req, sink, start, NewCodedError(CodeInternal, "failed to load configuration"))
		return
	}
	if !imageCfg.Complete() {
		o.fail(ctx, req, sink, start, NewCodedError(CodeConfigMissing,
			"image generation API is not configured; set IMAGE_API_URL / IMAGE_API_KEY / IMAGE_MODEL or fill them in on the admin console"))
		return
	}
	o.step(sink, "3/8 configuration loaded", nil)

	prompt := ai.BuildImagePrompt(req.Agent.SystemPrompt, req.Content, req.ReferenceImages)

	// The caption runs alongside the audit and, later, the generation
	// call. Summarize never fails, so the group only collects the
	// generation error. A plain group is deliberate here: a generation
	// failure must not cancel the caption mid-flight.
	var g errgroup.Group
	var caption string
	g.Go(func() error {
		caption = o.AI.Summarize(ctx, req.Content)
		return nil
	})
	o.step(sink, "4/8 prompt built, caption started", nil)

	verdict, err := o.Gate.Audit(ctx, req.Content, len(req.ReferenceImages), req.Agent.PolicyPrompt)
	if err != nil {
		log.Error().Err(err).Msg("content audit failed")
		o.fail(ctx, req, sink, start, classify(err))
		return
	}
	if !verdict.Allowed {
		o.Metrics.ModerationBlocked.Inc()
		log.Info().Str("reason", verdict.Reason).Msg("request blocked by content gate")
		reason := verdict.Reason
		if reason == "" {
			reason = "content did not pass review"
		}
		// A blocked request leaves no agent turn behind.
		sink.Send("error", map[string]any{
			"code":    CodeContentBlocked,
			"message": reason,
		})
		return
	}
	o.step(sink, "5/8 audit passed", nil)

	var generated ai.GenerationResult
	g.Go(func() error {
		var genErr error
		generated, genErr = o.AI.GenerateImage(ctx, imageCfg, prompt, start)
		return genErr
	})
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("image generation failed")
		o.fail(ctx, req, sink, start, classify(err))
		return
	}
	o.step(sink, "6/8 image generated", nil)

	// Re-hosting converts ephemeral upstream data into a permanent
	// link; when it fails the raw image still works, so the failure is
	// only logged.
	finalImage := generated.ImageData
	if hosted, err := o.AI.RehostImage(ctx, generated.ImageData); err == nil {
		finalImage = hosted
		o.step(sink, "6.5/8 image re-hosted", map[string]any{"url": hosted})
	} else if !errors.Is(err, ai.ErrNotConfigured) {
		log.Warn().Err(err).Msg("image re-host failed, keeping original data")
	}

	o.step(sink, "7/8 caption ready", nil)

	elapsedMS := generated.Elapsed.Milliseconds()
	agentTurn, err := o.Chat.Append(ctx, &models.Message{
		AgentID:         req.Agent.ID,
		UserID:          req.User.ID,
		Kind:            models.KindAgent,
		Content:         caption,
		ImageData:       finalImage,
		ReferenceImages: req.ReferenceImages,
		Type:            models.TypeImage,
		GenerationTime:  &elapsedMS,
		IsPublished:     req.PublishToFeed,
		UserMessageID:   &userTurn.ID,
	})
	if err != nil {
		log.Error().Err(err).Msg("persist agent turn failed")
		o.fail(ctx, req, sink, start, NewCodedError(CodeInternal, "failed to save generated message"))
		return
	}
	o.step(sink, "8/8 agent message saved", map[string]any{
		"messageId":      agentTurn.ID,
		"generationTime": elapsedMS,
	})

	sink.Send("ai-message", map[string]any{
		"id":        agentTurn.ID,
		"content":   agentTurn.Content,
		"imageData": agentTurn.ImageData,
		"timestamp": agentTurn.CreatedAt,
	})
	sink.Send("done", map[string]any{"generationTime": elapsedMS})

	o.Metrics.GenerationsSucceeded.Inc()
	o.Metrics.GenerationSeconds.Observe(generated.Elapsed.Seconds())
	log.Info().Int64("elapsed_ms", elapsedMS).Msg("generation finished")
}

// fail persists a failure turn so the conversation keeps a record,
// then reports the error to the client. The write runs detached from
// the request context: a timed-out generation must still leave its
// trace.
func (o *Orchestrator) fail(ctx context.Context, req Request, sink EventSink, start time.Time, ce *CodedError) {
	o.Metrics.GenerationsFailed.Inc()

	elapsedMS := time.Since(start).Milliseconds()
	turn, err := o.Chat.Append(context.WithoutCancel(ctx), &models.Message{
		AgentID:        req.Agent.ID,
		UserID:         req.User.ID,
		Kind:           models.KindAgent,
		Content:        failurePrefix + ce.Message,
		Type:           models.TypeText,
		GenerationTime: &elapsedMS,
	})
	if err != nil {
		o.Logger.Error().Err(err).Msg("persist failure turn failed")
	} else {
		sink.Send("ai-message", map[string]any{
			"id":        turn.ID,
			"content":   turn.Content,
			"imageData": nil,
			"timestamp": turn.CreatedAt,
		})
	}

	sink.Send("error", map[string]any{
		"code":    ce.Code,
		"message": ce.Message,
	})
}

func (o *Orchestrator) step(sink EventSink, step string, detail map[string]any) {
	payload := map[string]any{"step": step}
	for k, v := range detail {
		payload[k] = v
	}
	sink.Send("step", payload)
}

// classify maps pipeline errors to client-facing coded errors.
func classify(err error) *CodedError {
	var upstream *ai.UpstreamError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewCodedError(CodeTimeout, "the AI service took too long to respond")
	case errors.Is(err, ai.ErrNoImageInResponse):
		return NewCodedError(CodeParse, "could not extract an image from the AI response")
	case errors.Is(err, ai.ErrNotConfigured):
		return NewCodedError(CodeConfigMissing, "the AI service is not configured")
	case errors.As(err, &upstream):
		return NewCodedError(CodeAIService, err.Error())
	default:
		return NewCodedError(CodeInternal, err.Error())
	}
}

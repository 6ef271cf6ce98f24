package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"campus-qa-be/internal/dto"
	"campus-qa-be/internal/pkg/logger"
	"campus-qa-be/pkg/events"
	"campus-qa-be/pkg/rag/decision"
	"campus-qa-be/pkg/rag/memory"
	"campus-qa-be/pkg/rag/prompt"
	"campus-qa-be/pkg/rag/rerank"
	"campus-qa-be/pkg/rag/response"
	"campus-qa-be/pkg/rag/search"
	"campus-qa-be/pkg/rag/session"
	"campus-qa-be/pkg/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"

	MethodEmptyQuery    = "empty_query"
	MethodSocialChat    = "social_chat"
	MethodMemoryDirect  = "conversation_memory_direct_answer"
	MethodRejected      = "rejected_non_education"
	MethodErrorFallback = "error_fallback"

	// recorded as the decision kind of turns answered from memory
	KindUseMemoryDirect = "use_memory_direct"

	emptyQueryConfidence   = 0.9
	socialConfidence       = 1.0
	memoryDirectConfidence = 0.98

	// context strength is a count of related entities; two are needed before dual search
	minDualSearchStrength = 2
	entityFallbackFloor   = 0.6
	sourceMinScore        = 0.2
	maxSources            = 2
)

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	questionRun   = regexp.MustCompile(`\?{2,}`)
	bangRun       = regexp.MustCompile(`!{2,}`)

	socialPatterns = []*regexp.Regexp{
		regexp.MustCompile(`^(xin )?chào( bạn| mọi người| ad| admin| em)?\.?!?$`),
		regexp.MustCompile(`^hi( there| guy)?\.?!?$`),
		regexp.MustCompile(`^hello\.?!?$`),
		regexp.MustCompile(`^alo( alo)?\.?$`),
		regexp.MustCompile(`^có ai (ở đây|không).*\??$`),
		regexp.MustCompile(`^bạn là ai\??$`),
		regexp.MustCompile(`^giới thiệu về bạn\??$`),
		regexp.MustCompile(`^test\.?$`),
	}

	entityQueryMarkers = []string{
		"là ai", "ai là", "ông ", "bà ", "thầy ", "cô ", "vậy ", "thế ", "còn ", "và ", "gs.ts", "tiến sĩ",
		"who is",
	}
)

// IChatbotService answers lecturer questions and manages their conversation memory
type IChatbotService interface {
	ProcessQuery(ctx context.Context, request *dto.ProcessQueryRequest) (*dto.AnswerResult, error)
	ClearSession(ctx context.Context, sessionId string) error
	GetSessionStats(ctx context.Context, sessionId string) (*dto.SessionStats, error)
	Health(ctx context.Context) *dto.HealthResponse
}

// HealthChecks report on collaborators that may be missing or down
type HealthChecks struct {
	IndexBackend   string
	NatsConnected  func() bool
	RedisConnected func(ctx context.Context) bool
	ActiveSessions func() int
}

// ChatbotDependencies are the pipeline stages and side channels of the service
type ChatbotDependencies struct {
	Retriever  *search.Retriever
	Reranker   *rerank.Reranker
	Engine     *decision.Engine
	Memory     *memory.Memory
	Sessions   *session.Manager
	Generator  *response.Generator
	Publisher  IPublisherService // in-process bus, optional
	Bus        EventPublisher    // cross-instance bus, optional
	InstanceID string
	Checks     HealthChecks
	Logger     logger.ILogger
}

type chatbotService struct {
	retriever  *search.Retriever
	reranker   *rerank.Reranker
	engine     *decision.Engine
	memory     *memory.Memory
	sessions   *session.Manager
	generator  *response.Generator
	publisher  IPublisherService
	bus        EventPublisher
	instanceID string
	checks     HealthChecks
	tracer     trace.Tracer
	now        func() time.Time
	logger     logger.ILogger
}

func NewChatbotService(deps ChatbotDependencies) IChatbotService {
	return &chatbotService{
		retriever:  deps.Retriever,
		reranker:   deps.Reranker,
		engine:     deps.Engine,
		memory:     deps.Memory,
		sessions:   deps.Sessions,
		generator:  deps.Generator,
		publisher:  deps.Publisher,
		bus:        deps.Bus,
		instanceID: deps.InstanceID,
		checks:     deps.Checks,
		tracer:     otel.Tracer("campus-qa-be/chatbot"),
		now:        time.Now,
		logger:     deps.Logger,
	}
}

// pipelineRun collects what each stage produced for one query
type pipelineRun struct {
	query        string
	sessionID    string
	started      time.Time
	mem          *store.SessionMemory
	profile      *store.UserProfile
	address      string
	queryContext memory.QueryContext
	contextUsed  bool
	searchMethod search.Method
	candidates   []store.Candidate
}

// ProcessQuery runs one question through retrieve, rerank, decide, generate and remember
func (cs *chatbotService) ProcessQuery(ctx context.Context, request *dto.ProcessQueryRequest) (result *dto.AnswerResult, err error) {
	ctx, span := cs.tracer.Start(ctx, "chatbot.ProcessQuery")
	defer span.End()

	run := &pipelineRun{
		query:     CleanQuery(request.Query),
		sessionID: strings.TrimSpace(request.SessionId),
		started:   cs.now(),
		profile:   profileFromDTO(request.Profile),
	}
	if run.sessionID == "" {
		run.sessionID = uuid.NewString()
	}
	span.SetAttributes(attribute.String("session.id", run.sessionID))

	defer func() {
		if r := recover(); r != nil {
			cs.logger.Error("CHATBOT", "Pipeline panicked, answering with error fallback", map[string]interface{}{
				"session_id": run.sessionID,
				"panic":      fmt.Sprint(r),
			})
			span.SetStatus(codes.Error, "pipeline panic")
			result = cs.errorResult(run)
			err = nil
		}
	}()

	if run.query == "" {
		return &dto.AnswerResult{
			Status:           StatusSuccess,
			SessionId:        run.sessionID,
			Response:         response.EmptyQueryMessage,
			Confidence:       emptyQueryConfidence,
			Method:           MethodEmptyQuery,
			Sources:          []dto.SourceItem{},
			ShouldRespond:    true,
			ProcessingTimeMs: cs.elapsed(run),
		}, nil
	}

	mem, err := cs.sessions.View(ctx, run.sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", run.sessionID, err)
	}
	run.mem = mem
	if run.profile == nil {
		run.profile = mem.Profile
	}
	run.address = prompt.Address(run.profile)

	if IsSocialQuery(run.query) {
		return cs.socialAnswer(ctx, run), nil
	}

	if hit, ok := cs.memory.FindDirectEntity(mem, run.query); ok {
		return cs.memoryAnswer(ctx, run, hit)
	}

	cs.retrieve(ctx, run)

	_, rerankSpan := cs.tracer.Start(ctx, "chatbot.rerank")
	var rerankKeywords []string
	if run.contextUsed {
		rerankKeywords = run.queryContext.Keywords
	}
	reranked := cs.reranker.Rerank(run.candidates, run.query, rerankKeywords)
	rerankSpan.SetAttributes(attribute.Int("candidates", len(reranked)))
	rerankSpan.End()

	_, decideSpan := cs.tracer.Start(ctx, "chatbot.decide")
	dec := cs.engine.Decide(decision.Input{
		Query:        run.query,
		Candidates:   reranked,
		Turns:        mem.Turns,
		AuthToken:    request.AuthToken,
		DocumentText: request.DocumentText,
	})
	decideSpan.SetAttributes(
		attribute.String("decision.kind", string(dec.Kind)),
		attribute.Float64("decision.confidence", dec.Confidence),
	)
	decideSpan.End()

	genCtx, genSpan := cs.tracer.Start(ctx, "chatbot.generate")
	generated := cs.generator.Respond(genCtx, response.Request{
		Decision: dec,
		Prompt: prompt.Input{
			Query:         run.query,
			Address:       run.address,
			Instructions:  instructions(run.profile),
			RecentSummary: prompt.RecentSummary(mem.Turns),
		},
	})
	genSpan.SetAttributes(attribute.String("generation.method", string(generated.Method)))
	genSpan.End()

	method := string(dec.Kind) + "_" + string(run.searchMethod)
	if !dec.ShouldRespond {
		method = MethodRejected
	}

	result = &dto.AnswerResult{
		Status:           StatusSuccess,
		SessionId:        run.sessionID,
		Response:         generated.Text,
		Confidence:       dec.Confidence,
		Method:           method,
		DecisionKind:     string(dec.Kind),
		GenerationMethod: string(generated.Method),
		Tier:             string(dec.Tier),
		Sources:          FormatSources(reranked),
		ContextInfo:      cs.contextInfo(run, reranked),
		ShouldRespond:    dec.ShouldRespond,
	}
	if dec.Chosen != nil {
		result.MismatchIssues = append([]string{}, dec.Chosen.MismatchIssues...)
	}

	if dec.ShouldRespond {
		finalScore := 0.0
		if len(reranked) > 0 {
			finalScore = reranked[0].FinalScore
		}
		if err := cs.record(ctx, run, memory.TurnInput{
			Query:        run.query,
			Response:     generated.Text,
			DecisionKind: string(dec.Kind),
			Intent:       string(dec.Kind),
			FinalScore:   finalScore,
			Sources:      topSources(reranked),
		}, result); err != nil {
			return nil, err
		}
	} else if err := cs.saveProfile(ctx, run); err != nil {
		return nil, err
	}

	result.ProcessingTimeMs = cs.elapsed(run)
	cs.logger.Info("CHATBOT", "Query processed", map[string]interface{}{
		"session_id":    run.sessionID,
		"decision_kind": dec.Kind,
		"method":        method,
		"confidence":    dec.Confidence,
		"candidates":    len(reranked),
		"elapsed_ms":    result.ProcessingTimeMs,
	})
	return result, nil
}

// retrieve picks between dual search, entity fallback search and a plain search
func (cs *chatbotService) retrieve(ctx context.Context, run *pipelineRun) {
	ctx, span := cs.tracer.Start(ctx, "chatbot.retrieve")
	defer span.End()

	run.queryContext = cs.memory.GetContextForQuery(run.mem, run.query)
	run.contextUsed = run.queryContext.ShouldUseContext &&
		len(run.queryContext.RelatedEntities) > 0 &&
		run.queryContext.Strength >= minDualSearchStrength

	topK := cs.retriever.TopK()
	switch {
	case run.contextUsed:
		run.candidates, run.searchMethod = cs.retriever.DualSearch(ctx, run.query, run.queryContext.Keywords, topK)

	case IsEntityQuery(run.query):
		fallback := cs.retriever.SearchNameVariants(ctx, run.queryContext.ExtractedNames, topK)
		if len(fallback) > 0 && fallback[0].SemanticScore > entityFallbackFloor {
			run.candidates, run.searchMethod = fallback, search.MethodEntityFallback
		} else {
			run.candidates, run.searchMethod = cs.retriever.Search(ctx, run.query, topK), search.MethodNormal
		}

	default:
		run.candidates, run.searchMethod = cs.retriever.Search(ctx, run.query, topK), search.MethodNormal
	}

	span.SetAttributes(
		attribute.String("search.method", string(run.searchMethod)),
		attribute.Int("search.candidates", len(run.candidates)),
		attribute.Bool("search.context_used", run.contextUsed),
	)
	cs.logger.Debug("CHATBOT", "Retrieval finished", map[string]interface{}{
		"session_id":       run.sessionID,
		"method":           run.searchMethod,
		"candidates":       len(run.candidates),
		"context_used":     run.contextUsed,
		"context_keywords": run.queryContext.Keywords,
		"context_strength": run.queryContext.Strength,
	})
}

func (cs *chatbotService) socialAnswer(ctx context.Context, run *pipelineRun) *dto.AnswerResult {
	generated := cs.generator.Social(ctx, prompt.Input{
		Query:        run.query,
		Address:      run.address,
		Instructions: instructions(run.profile),
	})
	return &dto.AnswerResult{
		Status:           StatusSuccess,
		SessionId:        run.sessionID,
		Response:         generated.Text,
		Confidence:       socialConfidence,
		Method:           MethodSocialChat,
		GenerationMethod: string(generated.Method),
		Sources:          []dto.SourceItem{},
		ShouldRespond:    true,
		ProcessingTimeMs: cs.elapsed(run),
	}
}

func (cs *chatbotService) memoryAnswer(ctx context.Context, run *pipelineRun, hit memory.DirectHit) (*dto.AnswerResult, error) {
	text := response.MemoryDirectMessage(run.address, hit.Name, hit.Position)
	result := &dto.AnswerResult{
		Status:           StatusSuccess,
		SessionId:        run.sessionID,
		Response:         text,
		Confidence:       memoryDirectConfidence,
		Method:           MethodMemoryDirect,
		DecisionKind:     KindUseMemoryDirect,
		GenerationMethod: string(response.MethodTemplate),
		Tier:             string(decision.TierVeryHigh),
		Sources:          FormatSources(hit.Turn.Sources),
		ContextInfo: &dto.ContextInfo{
			SearchMethod:    "skipped_retrieval",
			ContextUsed:     true,
			ContextKeywords: []string{hit.Name},
			RelatedEntities: []string{hit.Name},
		},
		ShouldRespond: true,
	}

	if err := cs.record(ctx, run, memory.TurnInput{
		Query:        run.query,
		Response:     text,
		DecisionKind: KindUseMemoryDirect,
		Intent:       KindUseMemoryDirect,
		FinalScore:   memoryDirectConfidence,
		Sources:      hit.Turn.Sources,
	}, result); err != nil {
		return nil, err
	}
	result.ProcessingTimeMs = cs.elapsed(run)
	return result, nil
}

// record commits the turn and announces it. A cancelled request commits nothing.
func (cs *chatbotService) record(ctx context.Context, run *pipelineRun, in memory.TurnInput, result *dto.AnswerResult) error {
	ctx, span := cs.tracer.Start(ctx, "chatbot.record")
	defer span.End()

	var turn store.Turn
	entityCount := 0
	err := cs.sessions.Update(ctx, run.sessionID, func(mem *store.SessionMemory) error {
		if run.profile != nil {
			mem.Profile = run.profile
		}
		turn = cs.memory.RecordTurn(mem, in, cs.now())
		entityCount = len(mem.EntityMemory)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("record turn for session %s: %w", run.sessionID, err)
	}

	sourceIDs := make([]string, 0, len(result.Sources))
	for _, s := range result.Sources {
		sourceIDs = append(sourceIDs, s.Id)
	}
	cs.publish(ctx, events.TurnRecorded{
		SessionID:    run.sessionID,
		TurnID:       turn.ID,
		Query:        turn.Query,
		Response:     turn.Response,
		DecisionKind: turn.DecisionKind,
		Method:       result.Method,
		Confidence:   result.Confidence,
		SourceIDs:    sourceIDs,
		Entities:     entityCount,
		ElapsedMs:    cs.elapsed(run),
		Origin:       cs.instanceID,
		OccurredAt:   turn.Timestamp,
	})
	return nil
}

// saveProfile keeps a newly supplied profile even when the turn is not remembered
func (cs *chatbotService) saveProfile(ctx context.Context, run *pipelineRun) error {
	if run.profile == nil || run.profile == run.mem.Profile {
		return nil
	}
	err := cs.sessions.Update(ctx, run.sessionID, func(mem *store.SessionMemory) error {
		mem.Profile = run.profile
		return nil
	})
	if err != nil {
		return fmt.Errorf("save profile for session %s: %w", run.sessionID, err)
	}
	return nil
}

// publish is best effort on both buses
func (cs *chatbotService) publish(ctx context.Context, event events.Event) {
	if cs.publisher != nil {
		if err := cs.publisher.Publish(ctx, event); err != nil {
			cs.logger.Warn("CHATBOT", "Failed to publish event in process", map[string]interface{}{
				"type":  event.EventType(),
				"error": err.Error(),
			})
		}
	}
	if cs.bus != nil {
		if err := cs.bus.Publish(ctx, event); err != nil {
			cs.logger.Warn("CHATBOT", "Failed to publish event to NATS", map[string]interface{}{
				"type":  event.EventType(),
				"error": err.Error(),
			})
		}
	}
}

func (cs *chatbotService) ClearSession(ctx context.Context, sessionId string) error {
	sessionId = strings.TrimSpace(sessionId)
	if sessionId == "" {
		return fmt.Errorf("session id is required")
	}
	if err := cs.sessions.Clear(ctx, sessionId); err != nil {
		return err
	}
	cs.publish(ctx, events.SessionCleared{
		SessionID:  sessionId,
		Origin:     cs.instanceID,
		OccurredAt: cs.now(),
	})
	return nil
}

func (cs *chatbotService) GetSessionStats(ctx context.Context, sessionId string) (*dto.SessionStats, error) {
	sessionId = strings.TrimSpace(sessionId)
	if sessionId == "" {
		return nil, fmt.Errorf("session id is required")
	}
	stats, err := cs.sessions.Stats(ctx, sessionId)
	if err != nil {
		return nil, err
	}

	res := &dto.SessionStats{
		SessionId:         stats.SessionID,
		Exists:            stats.Exists,
		TurnCount:         stats.TurnCount,
		EntityCount:       stats.EntityCount,
		RelationshipCount: stats.RelationshipCount,
		ContextKeywords:   stats.ContextKeywords,
		ContextSummary:    stats.ContextSummary,
		DecisionKinds:     stats.DecisionKinds,
		TopEntities:       stats.TopEntities,
	}
	if stats.Exists {
		created, last := stats.CreatedAt, stats.LastActivity
		res.CreatedAt = &created
		res.LastActivity = &last
	}
	return res, nil
}

func (cs *chatbotService) Health(ctx context.Context) *dto.HealthResponse {
	res := &dto.HealthResponse{
		Status:          "ok",
		IndexSize:       cs.retriever.IndexSize(ctx),
		IndexBackend:    cs.checks.IndexBackend,
		GenerationReady: cs.generator != nil,
	}
	if cs.checks.NatsConnected != nil {
		res.NatsConnected = cs.checks.NatsConnected()
	}
	if cs.checks.RedisConnected != nil {
		res.RedisConnected = cs.checks.RedisConnected(ctx)
	}
	if cs.checks.ActiveSessions != nil {
		res.ActiveSessions = cs.checks.ActiveSessions()
	}
	if res.IndexSize <= 0 {
		res.Status = "degraded"
	}
	return res
}

func (cs *chatbotService) contextInfo(run *pipelineRun, reranked []store.Candidate) *dto.ContextInfo {
	qc := run.queryContext
	info := &dto.ContextInfo{
		SearchMethod:    string(run.searchMethod),
		ContextUsed:     run.contextUsed,
		ContextKeywords: append([]string{}, qc.Keywords...),
		ContextStrength: qc.Strength,
		RelatedEntities: make([]string, 0, len(qc.RelatedEntities)),
	}
	for _, e := range qc.RelatedEntities {
		info.RelatedEntities = append(info.RelatedEntities, e.Entity)
	}
	if len(reranked) > 0 {
		info.ContextQuality = ContextQuality(reranked[0], qc, run.searchMethod)
	}
	return info
}

func (cs *chatbotService) errorResult(run *pipelineRun) *dto.AnswerResult {
	address := run.address
	if address == "" {
		address = prompt.DefaultAddress
	}
	return &dto.AnswerResult{
		Status:           StatusError,
		SessionId:        run.sessionID,
		Response:         response.TechnicalErrorMessage(address),
		Confidence:       0,
		Method:           MethodErrorFallback,
		Sources:          []dto.SourceItem{},
		ShouldRespond:    true,
		ProcessingTimeMs: cs.elapsed(run),
	}
}

func (cs *chatbotService) elapsed(run *pipelineRun) int64 {
	return cs.now().Sub(run.started).Milliseconds()
}

// CleanQuery collapses whitespace and repeated ? and ! marks
func CleanQuery(query string) string {
	query = whitespaceRun.ReplaceAllString(strings.TrimSpace(query), " ")
	query = questionRun.ReplaceAllString(query, "?")
	return bangRun.ReplaceAllString(query, "!")
}

// IsSocialQuery spots greetings and small talk that need no retrieval
func IsSocialQuery(query string) bool {
	lower := strings.ToLower(strings.TrimSpace(query))
	for _, p := range socialPatterns {
		if p.MatchString(lower) {
			return true
		}
	}
	return false
}

// IsEntityQuery spots questions about a person
func IsEntityQuery(query string) bool {
	lower := strings.ToLower(query)
	for _, m := range entityQueryMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// ContextQuality scores how well the remembered context fits the best candidate.
// Plain searches score 0.
func ContextQuality(best store.Candidate, qc memory.QueryContext, method search.Method) float64 {
	if method == search.MethodNormal || !qc.ShouldUseContext || len(qc.Keywords) == 0 {
		return 0
	}
	text := strings.ToLower(best.Question + " " + best.Answer)
	found := 0
	for _, k := range qc.Keywords {
		if strings.Contains(text, strings.ToLower(k)) {
			found++
		}
	}
	ratio := float64(found) / float64(len(qc.Keywords))
	quality := 0.4*ratio + 0.4*best.SemanticScore + 0.2*min(1.0, float64(qc.Strength)/3.0)
	return min(1.0, quality)
}

// FormatSources lists the top candidates that are worth citing
func FormatSources(candidates []store.Candidate) []dto.SourceItem {
	sources := []dto.SourceItem{}
	for _, c := range topSources(candidates) {
		item := dto.SourceItem{
			Id:            c.ID,
			Question:      c.Question,
			Category:      c.Category,
			FinalScore:    c.FinalScore,
			SemanticScore: c.SemanticScore,
		}
		for _, l := range c.ReferenceLinks {
			item.ReferenceLinks = append(item.ReferenceLinks, dto.ReferenceLinkDTO{Title: l.Title, Url: l.URL})
		}
		sources = append(sources, item)
	}
	return sources
}

func topSources(candidates []store.Candidate) []store.Candidate {
	limit := min(maxSources, len(candidates))
	out := make([]store.Candidate, 0, limit)
	for _, c := range candidates[:limit] {
		if c.FinalScore > sourceMinScore {
			out = append(out, c)
		}
	}
	return out
}

func profileFromDTO(p *dto.UserProfileDTO) *store.UserProfile {
	if p == nil {
		return nil
	}
	return &store.UserProfile{
		FullName:     strings.TrimSpace(p.FullName),
		Gender:       strings.TrimSpace(p.Gender),
		Title:        strings.TrimSpace(p.Title),
		Role:         strings.TrimSpace(p.Role),
		Instructions: strings.TrimSpace(p.Instructions),
	}
}

func instructions(p *store.UserProfile) string {
	if p == nil {
		return ""
	}
	return p.Instructions
}

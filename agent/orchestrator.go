// ABOUTME: Stream orchestrator: the outer loop that turns user input into model turns and tool batches.
// ABOUTME: Owns conversation history, serializes submissions, and feeds tool responses back as continuations.

package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/2389-research/tern/genai"
)

// OrchestratorState is the coarse activity state surfaced to the UI.
type OrchestratorState string

const (
	StateIdle                   OrchestratorState = "idle"
	StateResponding             OrchestratorState = "responding"
	StateWaitingForConfirmation OrchestratorState = "waiting_for_confirmation"
)

// ErrBusy is returned when Submit is called while a prior prompt is still
// being processed.
var ErrBusy = errors.New("a prompt is already being processed")

// HistoryItemType discriminates UI transcript entries.
type HistoryItemType string

const (
	HistoryUser         HistoryItemType = "user"
	HistoryModel        HistoryItemType = "model"
	HistoryModelContent HistoryItemType = "model_content"
	HistoryToolGroup    HistoryItemType = "tool_group"
	HistoryInfo         HistoryItemType = "info"
	HistoryError        HistoryItemType = "error"
	HistorySystemPrompt HistoryItemType = "system_prompt"
)

// HistoryItem is one UI transcript entry. The first streamed segment of a
// turn is a "model" item; later segments split off the same turn are
// "model_content" so renderers can join them without extra spacing.
type HistoryItem struct {
	Type  HistoryItemType    `json:"type"`
	Text  string             `json:"text,omitempty"`
	Calls []*TrackedToolCall `json:"calls,omitempty"`
}

// finishWarnings maps abnormal finish reasons to user-facing notices. Normal
// termination (STOP, unspecified) is absent on purpose.
var finishWarnings = map[genai.FinishReason]string{
	genai.FinishReasonMaxTokens:          "Response truncated due to token limits.",
	genai.FinishReasonSafety:             "Response stopped due to safety reasons.",
	genai.FinishReasonRecitation:         "Response stopped due to recitation policy.",
	genai.FinishReasonLanguage:           "Response stopped due to unsupported language.",
	genai.FinishReasonBlocklist:          "Response stopped due to forbidden terms.",
	genai.FinishReasonProhibitedContent:  "Response stopped due to prohibited content.",
	genai.FinishReasonSPII:               "Response stopped due to sensitive personally identifiable information.",
	genai.FinishReasonMalformedCall:      "Response stopped due to malformed function call.",
	genai.FinishReasonImageSafety:        "Response stopped due to image safety violations.",
	genai.FinishReasonUnexpectedToolCall: "Response stopped due to unexpected tool call.",
	genai.FinishReasonOther:              "Response stopped for other reasons.",
}

const loopDetectedMessage = "A potential loop was detected. This can happen due to repetitive tool calls " +
	"or other model behavior. The request has been halted."

const maxTurnsMessage = "Reached the maximum number of turns for this session. " +
	"Raise maxSessionTurns in settings.yaml to continue."

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithSystemPrompt sets the system instruction sent with every turn.
func WithSystemPrompt(prompt string) OrchestratorOption {
	return func(o *Orchestrator) { o.systemPrompt = prompt }
}

// WithProcessors installs query pre-processors, consulted in order.
func WithProcessors(procs ...QueryProcessor) OrchestratorOption {
	return func(o *Orchestrator) { o.processors = append(o.processors, procs...) }
}

// WithApproval sets the scheduler's confirmation policy.
func WithApproval(mode ApprovalMode) OrchestratorOption {
	return func(o *Orchestrator) { o.approvalMode = mode }
}

// WithCheckpointer enables checkpoint snapshots for restorable tools.
func WithCheckpointer(cp *Checkpointer) OrchestratorOption {
	return func(o *Orchestrator) { o.checkpointer = cp }
}

// WithQuotaFallback names the model announced (and switched to) when a quota
// error occurs. Empty disables fallback messaging and switching.
func WithQuotaFallback(model string) OrchestratorOption {
	return func(o *Orchestrator) { o.fallbackModel = model }
}

// WithHistorySink receives every finalized transcript item.
func WithHistorySink(fn func(item HistoryItem)) OrchestratorOption {
	return func(o *Orchestrator) { o.onHistory = fn }
}

// WithPendingSink receives the live streaming buffer after every change; an
// empty string means the pending block was flushed or cleared.
func WithPendingSink(fn func(text string)) OrchestratorOption {
	return func(o *Orchestrator) { o.onPending = fn }
}

// WithThoughtSink receives model reasoning summaries as they stream.
func WithThoughtSink(fn func(t ThoughtSummary)) OrchestratorOption {
	return func(o *Orchestrator) { o.onThought = fn }
}

// WithStateSink receives orchestrator state transitions.
func WithStateSink(fn func(state OrchestratorState)) OrchestratorOption {
	return func(o *Orchestrator) { o.onState = fn }
}

// WithToolSink receives the scheduler's batch after every status change.
func WithToolSink(fn func(calls []*TrackedToolCall)) OrchestratorOption {
	return func(o *Orchestrator) { o.onTools = fn }
}

// WithConfirmationRequestSink receives calls that need user approval.
func WithConfirmationRequestSink(fn func(call *TrackedToolCall)) OrchestratorOption {
	return func(o *Orchestrator) { o.onConfirm = fn }
}

// WithSplitPoint installs the function that finds the last safe markdown
// boundary in the streaming buffer, enabling mid-stream flushes.
func WithSplitPoint(fn func(text string) int) OrchestratorOption {
	return func(o *Orchestrator) { o.splitPoint = fn }
}

// WithFlushThreshold sets the buffer size that triggers a mid-stream flush.
func WithFlushThreshold(chars int) OrchestratorOption {
	return func(o *Orchestrator) { o.flushThreshold = chars }
}

// WithToolOutputLimits overrides per-tool output character limits.
func WithToolOutputLimits(limits map[string]int) OrchestratorOption {
	return func(o *Orchestrator) { o.outputLimits = limits }
}

// WithOrchestratorLogger sets the structured logger.
func WithOrchestratorLogger(logger *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = logger }
}

// defaultFlushThreshold is how many buffered characters trigger a split
// attempt while streaming.
const defaultFlushThreshold = 2000

// Orchestrator drives the conversation: it pre-processes input, runs turns,
// routes tool calls to its scheduler, and resubmits tool responses until the
// model answers with plain text. One submission is processed at a time.
type Orchestrator struct {
	session       *Session
	gen           genai.ContentGenerator
	registry      *ToolRegistry
	scheduler     *Scheduler
	loop          *LoopDetector
	checkpointer  *Checkpointer
	logger        *slog.Logger
	systemPrompt  string
	fallbackModel string
	approvalMode  ApprovalMode
	processors    []QueryProcessor
	outputLimits  map[string]int

	splitPoint     func(string) int
	flushThreshold int

	onHistory func(HistoryItem)
	onPending func(string)
	onThought func(ThoughtSummary)
	onState   func(OrchestratorState)
	onTools   func([]*TrackedToolCall)
	onConfirm func(*TrackedToolCall)

	mu            sync.Mutex
	state         OrchestratorState
	cancelTurn    context.CancelFunc
	clientHistory []*HistoryItem
}

// NewOrchestrator wires an orchestrator around a session, a generator, and a
// tool registry. The scheduler is constructed here so its callbacks can close
// over the orchestrator without reference cycles at the call sites.
func NewOrchestrator(session *Session, gen genai.ContentGenerator, registry *ToolRegistry, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		session:        session,
		gen:            gen,
		registry:       registry,
		loop:           NewLoopDetector(),
		logger:         slog.Default(),
		approvalMode:   ApprovalDefault,
		flushThreshold: defaultFlushThreshold,
		state:          StateIdle,
	}
	for _, opt := range opts {
		opt(o)
	}

	o.scheduler = NewScheduler(registry,
		WithApprovalMode(o.approvalMode),
		WithStatusSink(o.handleToolUpdate),
		WithConfirmationSink(o.handleConfirmRequest),
		WithCheckpointHook(o.handleCheckpoint),
		WithOutputLimits(o.outputLimits),
	)
	return o
}

// State returns the current activity state.
func (o *Orchestrator) State() OrchestratorState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Session returns the session the orchestrator drives.
func (o *Orchestrator) Session() *Session {
	return o.session
}

// Scheduler returns the tool scheduler, mainly for tests and status display.
func (o *Orchestrator) Scheduler() *Scheduler {
	return o.scheduler
}

// SetApprovalMode switches the confirmation policy mid-session.
func (o *Orchestrator) SetApprovalMode(mode ApprovalMode) {
	o.scheduler.SetApprovalMode(mode)
}

// ClientHistory returns a copy of the UI transcript so far.
func (o *Orchestrator) ClientHistory() []*HistoryItem {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*HistoryItem, len(o.clientHistory))
	copy(out, o.clientHistory)
	return out
}

// Confirm delivers the user's decision for a tool call awaiting approval.
func (o *Orchestrator) Confirm(callID string, decision ConfirmationDecision) error {
	return o.scheduler.Confirm(callID, decision)
}

// Cancel aborts the in-flight turn, if any. Idempotent.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	cancel := o.cancelTurn
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Submit processes one user prompt to completion: pre-processing, the model
// turn, any tool batches, and their continuations. It blocks until the
// cascade is done and returns ErrBusy if a prior prompt is still running.
// Backend failures are both surfaced as transcript items and returned.
func (o *Orchestrator) Submit(ctx context.Context, query string) error {
	o.mu.Lock()
	if o.state != StateIdle {
		o.mu.Unlock()
		return ErrBusy
	}
	o.state = StateResponding
	o.mu.Unlock()
	o.notifyState(StateResponding)

	defer func() {
		o.mu.Lock()
		o.state = StateIdle
		o.mu.Unlock()
		o.notifyState(StateIdle)
	}()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}

	promptID := o.session.NextPromptID()
	o.session.SetQuotaError(false)
	o.loop.Reset(promptID)
	o.emitItem(HistoryItem{Type: HistoryUser, Text: query})

	parts, handled, err := o.preprocess(ctx, query, promptID)
	if err != nil {
		o.emitItem(HistoryItem{Type: HistoryError, Text: err.Error()})
		return err
	}
	if handled {
		return nil
	}

	return o.run(ctx, promptID, parts, false)
}

// preprocess routes raw input through the installed processors. It reports
// the outbound parts, or handled=true when no model call should happen.
func (o *Orchestrator) preprocess(ctx context.Context, query, promptID string) ([]*genai.Part, bool, error) {
	for _, proc := range o.processors {
		result, err := proc.Process(ctx, query)
		if err != nil {
			return nil, false, err
		}
		if result == nil {
			continue
		}
		switch result.Action {
		case ActionHandled:
			if result.Message != "" {
				o.emitItem(HistoryItem{Type: HistoryInfo, Text: result.Message})
			}
			return nil, true, nil
		case ActionSubmitPrompt:
			return result.Content, false, nil
		case ActionScheduleTool:
			return nil, true, o.runClientTool(ctx, promptID, result.ToolName, result.ToolArgs)
		case ActionRunShell:
			return nil, true, o.runClientTool(ctx, promptID, "shell", map[string]any{"command": result.Command})
		}
	}
	return []*genai.Part{genai.TextPart(query)}, false, nil
}

// runClientTool executes a UI-initiated tool call. The result shows in the
// transcript but is never submitted to the model.
func (o *Orchestrator) runClientTool(ctx context.Context, promptID, name string, args map[string]any) error {
	toolCtx, cancel := context.WithCancel(ctx)
	o.setCancel(cancel)
	defer func() {
		cancel()
		o.setCancel(nil)
	}()

	req := &ToolCallRequest{
		CallID:            genai.NewCallID(name),
		Name:              name,
		Args:              args,
		IsClientInitiated: true,
		PromptID:          promptID,
	}
	batch, err := o.scheduler.Schedule(toolCtx, []*ToolCallRequest{req})
	if err != nil {
		return err
	}
	o.emitItem(HistoryItem{Type: HistoryToolGroup, Calls: batch})
	return nil
}

// run executes one model turn and, when the model requests tools, the batch
// and its continuation. Continuations re-enter run with the same prompt id.
func (o *Orchestrator) run(ctx context.Context, promptID string, parts []*genai.Part, isContinuation bool) error {
	o.session.IncrementTurn()
	if max := o.session.MaxTurns(); max >= 0 && o.session.TurnCount() > max {
		o.emitEvent(Event{Type: EventMaxSessionTurns})
		return nil
	}

	if info, err := o.session.Compress(ctx, o.gen, false); err != nil {
		o.logger.Debug("history compression skipped", "error", err)
	} else if info != nil {
		o.emitEvent(Event{Type: EventChatCompressed, Compression: info})
	}

	o.session.Append(genai.UserContent(parts...))

	req := &genai.GenerateContentRequest{
		Model:    o.session.ModelName(),
		Contents: o.session.CuratedHistory(),
	}
	if o.systemPrompt != "" {
		req.SystemInstruction = genai.UserContent(genai.TextPart(o.systemPrompt))
	}
	if decls := o.registry.Declarations(); len(decls) > 0 && genai.SupportsTools(req.Model) {
		req.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	turnCtx, cancel := context.WithCancel(ctx)
	o.setCancel(cancel)
	defer func() {
		cancel()
		o.setCancel(nil)
	}()

	turn := NewTurn(o.gen, promptID)
	events := turn.Run(turnCtx, req)

	var (
		pending      strings.Builder
		flushed      bool
		modelParts   []*genai.Part
		requests     []*ToolCallRequest
		cancelled    bool
		loopDetected bool
	)

	appendText := func(text string) {
		if n := len(modelParts); n > 0 && modelParts[n-1].FunctionCall == nil {
			modelParts[n-1].Text += text
			return
		}
		modelParts = append(modelParts, genai.TextPart(text))
	}

	flushSegment := func(segment string) {
		if segment == "" {
			return
		}
		itemType := HistoryModel
		if flushed {
			itemType = HistoryModelContent
		}
		flushed = true
		o.emitItem(HistoryItem{Type: itemType, Text: segment})
	}

	finalizePending := func() {
		flushSegment(pending.String())
		pending.Reset()
		o.notifyPending("")
	}

	for event := range events {
		if o.loop.AddAndCheck(event) && !loopDetected {
			loopDetected = true
			cancel()
		}
		if loopDetected {
			if event.Type == EventUserCancelled {
				cancelled = true
			}
			continue
		}

		switch event.Type {
		case EventThought:
			if o.onThought != nil && event.Thought != nil {
				o.onThought(*event.Thought)
			}
		case EventContent:
			appendText(event.Content)
			pending.WriteString(event.Content)
			o.maybeSplit(&pending, flushSegment)
			o.notifyPending(pending.String())
		case EventToolCallRequest:
			requests = append(requests, event.Request)
			modelParts = append(modelParts, genai.FunctionCallPart(
				event.Request.CallID, event.Request.Name, event.Request.Args))
		case EventFinished:
			if warning, ok := finishWarnings[event.Reason]; ok {
				o.emitItem(HistoryItem{Type: HistoryInfo, Text: warning})
			}
		case EventUserCancelled:
			cancelled = true
		case EventError:
			// Terminal; the formatted item is emitted below from turn.Err so
			// the message carries the full error chain.
		}
	}

	finalizePending()

	// The model's reply is recorded even when empty or partial: the curated
	// projection drops invalid rounds together with the user input that
	// produced them, which keeps retries clean.
	o.session.Append(genai.ModelContent(modelParts...))

	if authErr := turn.AuthError(); authErr != nil {
		return authErr
	}
	if err := turn.Err(); err != nil {
		model := o.session.ModelName()
		o.emitItem(HistoryItem{Type: HistoryError, Text: genai.FormatAPIError(err, model, o.fallbackModel)})
		if genai.IsQuotaError(err) {
			o.session.SetQuotaError(true)
			if o.fallbackModel != "" && o.fallbackModel != model {
				o.session.SetModel(o.fallbackModel)
			}
		}
		return err
	}
	if len(requests) == 0 {
		if loopDetected {
			o.emitEvent(Event{Type: EventLoopDetected})
			return nil
		}
		if cancelled {
			o.emitItem(HistoryItem{Type: HistoryInfo, Text: "Request cancelled."})
		}
		return nil
	}

	// A halted turn still runs its accumulated requests through the
	// scheduler: with the turn context already cancelled, every call lands in
	// cancelled state and its response parts join the history, so the model
	// is never left with an unanswered function call.
	return o.runToolBatch(ctx, turnCtx, promptID, requests, loopDetected)
}

// runToolBatch schedules the turn's tool calls and feeds their responses back
// to the model as a single continuation. When the turn was cancelled, every
// call was declined, or a quota fallback is in progress, the responses only
// join the history instead and the cascade stops.
func (o *Orchestrator) runToolBatch(ctx, turnCtx context.Context, promptID string, requests []*ToolCallRequest, loopDetected bool) error {
	batch, err := o.scheduler.Schedule(turnCtx, requests)
	if err != nil {
		return err
	}
	o.emitItem(HistoryItem{Type: HistoryToolGroup, Calls: batch})

	var (
		callIDs      []string
		merged       []*genai.Part
		allCancelled = true
	)
	for _, call := range batch {
		if call.Request.IsClientInitiated {
			continue
		}
		callIDs = append(callIDs, call.Request.CallID)
		if call.Response != nil {
			o.emitEvent(Event{Type: EventToolCallResponse, Response: call.Response})
			merged = append(merged, call.Response.ResponseParts...)
		}
		if call.Status != StatusCancelled {
			allCancelled = false
		}
	}
	if len(callIDs) == 0 {
		return nil
	}

	o.scheduler.MarkSubmitted(callIDs)

	// Cancellation during execution stops the cascade even when some calls
	// finished first: no new backend request starts once the user cancelled.
	halted := turnCtx.Err() != nil
	if halted || loopDetected || allCancelled || o.session.QuotaErrorOccurred() {
		if len(merged) > 0 {
			o.session.Append(genai.UserContent(merged...))
		}
		switch {
		case loopDetected:
			o.emitEvent(Event{Type: EventLoopDetected})
		case halted:
			o.emitItem(HistoryItem{Type: HistoryInfo, Text: "Request cancelled."})
		}
		return nil
	}
	return o.run(ctx, promptID, merged, true)
}

// maybeSplit flushes the longest safe prefix of the streaming buffer once it
// grows past the threshold, keeping the suffix as the live pending block.
func (o *Orchestrator) maybeSplit(pending *strings.Builder, flush func(string)) {
	if o.splitPoint == nil || o.flushThreshold <= 0 || pending.Len() <= o.flushThreshold {
		return
	}
	text := pending.String()
	idx := o.splitPoint(text)
	if idx <= 0 || idx >= len(text) {
		return
	}
	flush(text[:idx])
	pending.Reset()
	pending.WriteString(text[idx:])
}

// handleToolUpdate forwards scheduler status changes to the tool sink and
// keeps the orchestrator state in step with pending confirmations.
func (o *Orchestrator) handleToolUpdate(calls []*TrackedToolCall) {
	awaiting := false
	for _, call := range calls {
		if call.Status == StatusAwaitingApproval {
			awaiting = true
			break
		}
	}

	o.mu.Lock()
	var transition OrchestratorState
	if awaiting && o.state == StateResponding {
		o.state = StateWaitingForConfirmation
		transition = StateWaitingForConfirmation
	} else if !awaiting && o.state == StateWaitingForConfirmation {
		o.state = StateResponding
		transition = StateResponding
	}
	o.mu.Unlock()

	if transition != "" {
		o.notifyState(transition)
	}
	if o.onTools != nil {
		o.onTools(calls)
	}
}

// handleConfirmRequest forwards an awaiting-approval call to the UI.
func (o *Orchestrator) handleConfirmRequest(call *TrackedToolCall) {
	o.emitEvent(Event{Type: EventToolCallConfirmation, Confirmation: call.Confirmation})
	if o.onConfirm != nil {
		o.onConfirm(call)
	}
}

// handleCheckpoint snapshots conversation state before a restorable tool runs.
func (o *Orchestrator) handleCheckpoint(call *TrackedToolCall) {
	if o.checkpointer == nil {
		return
	}
	filePath, _ := call.Request.Args["path"].(string)
	bundle := &CheckpointBundle{
		History:       o.session.History(),
		ClientHistory: o.ClientHistory(),
		ToolCall:      CheckpointCall{Name: call.Request.Name, Args: call.Request.Args},
		FilePath:      filePath,
	}
	path, err := o.checkpointer.Save(context.Background(), bundle)
	if err != nil {
		o.logger.Warn("checkpoint save failed", "tool", call.Request.Name, "error", err)
		return
	}
	o.logger.Debug("checkpoint saved", "path", path)
}

func (o *Orchestrator) setCancel(cancel context.CancelFunc) {
	o.mu.Lock()
	o.cancelTurn = cancel
	o.mu.Unlock()
}

// emitEvent routes a session-level stream event into the transcript or the
// debug log. Turn-level events are folded into history items inline by run;
// the variants handled here arise outside the turn stream: compression and
// turn limits before a request starts, loop halts after the stream drains,
// and scheduler lifecycle markers.
func (o *Orchestrator) emitEvent(ev Event) {
	switch ev.Type {
	case EventChatCompressed:
		o.emitItem(HistoryItem{Type: HistoryInfo, Text: fmt.Sprintf(
			"Chat history compressed from %d to %d tokens.",
			ev.Compression.OriginalTokenCount, ev.Compression.NewTokenCount)})
	case EventMaxSessionTurns:
		o.emitItem(HistoryItem{Type: HistoryInfo, Text: maxTurnsMessage})
	case EventLoopDetected:
		o.emitItem(HistoryItem{Type: HistoryInfo, Text: loopDetectedMessage})
	case EventToolCallConfirmation:
		o.logger.Debug("tool call awaiting approval",
			"kind", ev.Confirmation.Kind, "title", ev.Confirmation.Title)
	case EventToolCallResponse:
		o.logger.Debug("tool call finished",
			"callId", ev.Response.CallID, "errorType", ev.Response.ErrorType)
	}
}

// emitItem appends a transcript item and forwards it to the history sink.
func (o *Orchestrator) emitItem(item HistoryItem) {
	o.mu.Lock()
	stored := item
	o.clientHistory = append(o.clientHistory, &stored)
	o.mu.Unlock()

	if o.onHistory != nil {
		o.onHistory(item)
	}
}

func (o *Orchestrator) notifyPending(text string) {
	if o.onPending != nil {
		o.onPending(text)
	}
}

func (o *Orchestrator) notifyState(state OrchestratorState) {
	if o.onState != nil {
		o.onState(state)
	}
}

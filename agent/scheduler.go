// ABOUTME: Tool scheduler that moves batches of tool calls through a validate, confirm, execute lifecycle.
// ABOUTME: Validated calls run in parallel; confirmation prompts are serialized; every call ends terminal.

package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/2389-research/tern/genai"
)

// ToolCallStatus is where a tracked call sits in the scheduler lifecycle.
type ToolCallStatus string

const (
	StatusValidating       ToolCallStatus = "validating"
	StatusScheduled        ToolCallStatus = "scheduled"
	StatusAwaitingApproval ToolCallStatus = "awaiting_approval"
	StatusExecuting        ToolCallStatus = "executing"
	StatusSuccess          ToolCallStatus = "success"
	StatusError            ToolCallStatus = "error"
	StatusCancelled        ToolCallStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s ToolCallStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusError || s == StatusCancelled
}

// ApprovalMode controls how much the scheduler asks before running tools.
type ApprovalMode string

const (
	// ApprovalDefault prompts for every tool that requests confirmation.
	ApprovalDefault ApprovalMode = "default"
	// ApprovalAutoEdit auto-approves file edits but prompts for everything else.
	ApprovalAutoEdit ApprovalMode = "auto_edit"
	// ApprovalYOLO runs everything without prompting.
	ApprovalYOLO ApprovalMode = "yolo"
)

// ErrSchedulerBusy is returned by Schedule while a previous batch is still running.
var ErrSchedulerBusy = errors.New("tool calls are still running from a previous batch")

// cancelledByUser is the reason recorded when the user declines a confirmation.
const cancelledByUser = "User did not allow tool call"

// cancelledBySignal is the reason recorded when the turn's context is cancelled.
const cancelledBySignal = "User cancelled the operation"

// restorableTools mutate files in place. A checkpoint is written before one of
// these waits for approval so the change can be undone.
var restorableTools = map[string]bool{
	"write_file": true,
	"replace":    true,
}

// TrackedToolCall is one tool call moving through the scheduler.
type TrackedToolCall struct {
	Request      *ToolCallRequest     `json:"request"`
	Tool         Tool                 `json:"-"`
	Status       ToolCallStatus       `json:"status"`
	Confirmation *ConfirmationRequest `json:"confirmation,omitempty"`
	Response     *ToolCallResponse    `json:"response,omitempty"`

	// ResponseSubmittedToModel flips once the orchestrator has fed the
	// response back to the model. Client-initiated calls flip immediately on
	// reaching a terminal status since their results stay in the UI.
	ResponseSubmittedToModel bool `json:"responseSubmittedToModel"`

	decision chan ConfirmationDecision
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithApprovalMode sets the confirmation policy.
func WithApprovalMode(mode ApprovalMode) SchedulerOption {
	return func(s *Scheduler) { s.mode = mode }
}

// WithStatusSink registers a callback invoked with the whole batch after every
// status change. The batch slice is shared; callers must not mutate it.
func WithStatusSink(fn func(calls []*TrackedToolCall)) SchedulerOption {
	return func(s *Scheduler) { s.onUpdate = fn }
}

// WithConfirmationSink registers a callback invoked when a call needs approval.
func WithConfirmationSink(fn func(call *TrackedToolCall)) SchedulerOption {
	return func(s *Scheduler) { s.onConfirm = fn }
}

// WithCheckpointHook registers a callback invoked before a file-mutating tool
// waits for approval.
func WithCheckpointHook(fn func(call *TrackedToolCall)) SchedulerOption {
	return func(s *Scheduler) { s.onCheckpoint = fn }
}

// WithOutputLimits overrides per-tool output character limits.
func WithOutputLimits(limits map[string]int) SchedulerOption {
	return func(s *Scheduler) { s.outputLimits = limits }
}

// Scheduler runs batches of tool calls for the orchestrator. One batch at a
// time: Schedule blocks until every call in the batch is terminal.
type Scheduler struct {
	registry     *ToolRegistry
	mode         ApprovalMode
	onUpdate     func([]*TrackedToolCall)
	onConfirm    func(*TrackedToolCall)
	onCheckpoint func(*TrackedToolCall)
	outputLimits map[string]int

	mu             sync.Mutex
	calls          []*TrackedToolCall
	byID           map[string]*TrackedToolCall
	running        bool
	alwaysApproved map[ToolKind]bool

	schemas sync.Map // schema text -> *jsonschema.Schema
}

// NewScheduler creates a Scheduler over the given registry.
func NewScheduler(registry *ToolRegistry, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		registry:       registry,
		mode:           ApprovalDefault,
		byID:           make(map[string]*TrackedToolCall),
		alwaysApproved: make(map[ToolKind]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetApprovalMode switches the confirmation policy mid-session.
func (s *Scheduler) SetApprovalMode(mode ApprovalMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = mode
}

// Schedule runs a batch of tool calls to completion and returns the tracked
// calls once all of them are terminal. Validation and confirmation run
// sequentially so the user sees one prompt at a time; approved calls then
// execute in parallel. A second batch scheduled while one is running fails
// with ErrSchedulerBusy.
func (s *Scheduler) Schedule(ctx context.Context, requests []*ToolCallRequest) ([]*TrackedToolCall, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, ErrSchedulerBusy
	}
	s.running = true
	batch := make([]*TrackedToolCall, 0, len(requests))
	s.byID = make(map[string]*TrackedToolCall, len(requests))
	for _, req := range requests {
		call := &TrackedToolCall{
			Request:  req,
			Status:   StatusValidating,
			decision: make(chan ConfirmationDecision, 1),
		}
		batch = append(batch, call)
		s.byID[req.CallID] = call
	}
	s.calls = batch
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	s.notify()

	for _, call := range batch {
		s.prepare(ctx, call)
	}

	var wg sync.WaitGroup
	for _, call := range batch {
		if call.Status != StatusScheduled {
			continue
		}
		wg.Add(1)
		go func(c *TrackedToolCall) {
			defer wg.Done()
			s.execute(ctx, c)
		}(call)
	}
	wg.Wait()

	s.notify()
	return batch, nil
}

// Confirm delivers the user's decision for a call awaiting approval.
func (s *Scheduler) Confirm(callID string, decision ConfirmationDecision) error {
	s.mu.Lock()
	call, ok := s.byID[callID]
	var status ToolCallStatus
	if ok {
		status = call.Status
	}
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("no tracked tool call with id %q", callID)
	}
	if status != StatusAwaitingApproval {
		return fmt.Errorf("tool call %q is %s, not awaiting approval", callID, status)
	}

	select {
	case call.decision <- decision:
		return nil
	default:
		return fmt.Errorf("tool call %q already has a pending decision", callID)
	}
}

// MarkSubmitted flips ResponseSubmittedToModel for the given calls. Unknown
// IDs and repeat calls are ignored.
func (s *Scheduler) MarkSubmitted(callIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range callIDs {
		if call, ok := s.byID[id]; ok {
			call.ResponseSubmittedToModel = true
		}
	}
}

// Calls returns the current batch.
func (s *Scheduler) Calls() []*TrackedToolCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*TrackedToolCall, len(s.calls))
	copy(out, s.calls)
	return out
}

// prepare moves a call from validating to scheduled or a terminal state,
// soliciting user confirmation when the tool requires it.
func (s *Scheduler) prepare(ctx context.Context, call *TrackedToolCall) {
	req := call.Request

	tool := s.registry.Get(req.Name)
	if tool == nil {
		s.fail(call, ToolErrorNotFound, fmt.Errorf("Tool %q not found in registry", req.Name))
		return
	}
	call.Tool = tool

	if err := s.validateArgs(tool, req.Args); err != nil {
		s.fail(call, ToolErrorInvalidArgs, fmt.Errorf("invalid arguments for %s: %w", req.Name, err))
		return
	}

	if s.preApproved(tool.Kind()) {
		s.setStatus(call, StatusScheduled)
		return
	}

	confirmation, err := tool.ShouldConfirm(ctx, req.Args)
	if err != nil {
		s.fail(call, ToolErrorExecutionFailed, err)
		return
	}
	if confirmation == nil {
		s.setStatus(call, StatusScheduled)
		return
	}

	call.Confirmation = confirmation
	s.setStatus(call, StatusAwaitingApproval)

	if restorableTools[req.Name] && s.onCheckpoint != nil {
		s.onCheckpoint(call)
	}
	if s.onConfirm != nil {
		s.onConfirm(call)
	}

	select {
	case decision := <-call.decision:
		s.applyDecision(call, decision)
	case <-ctx.Done():
		s.cancelCall(call, cancelledBySignal)
	}
}

// preApproved reports whether the current approval mode or a prior
// proceed-always decision lets this tool kind run without a prompt.
func (s *Scheduler) preApproved(kind ToolKind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mode == ApprovalYOLO {
		return true
	}
	if s.mode == ApprovalAutoEdit && kind == KindEdit {
		return true
	}
	return s.alwaysApproved[kind]
}

// applyDecision resolves an awaiting-approval call with the user's answer.
func (s *Scheduler) applyDecision(call *TrackedToolCall, decision ConfirmationDecision) {
	switch decision.Outcome {
	case OutcomeCancel:
		s.cancelCall(call, cancelledByUser)
	case OutcomeProceedAlways:
		s.mu.Lock()
		s.alwaysApproved[call.Tool.Kind()] = true
		s.mu.Unlock()
		s.setStatus(call, StatusScheduled)
	case OutcomeModifyAndProceed:
		if decision.ModifiedArgs != nil {
			call.Request.Args = decision.ModifiedArgs
		}
		s.setStatus(call, StatusScheduled)
	default:
		s.setStatus(call, StatusScheduled)
	}
}

// execute runs an approved call and records its terminal state. A batch whose
// context is already cancelled skips the tool body entirely.
func (s *Scheduler) execute(ctx context.Context, call *TrackedToolCall) {
	if ctx.Err() != nil {
		s.cancelCall(call, cancelledBySignal)
		return
	}
	s.setStatus(call, StatusExecuting)

	req := call.Request
	result, err := call.Tool.Execute(ctx, req.Args)
	if ctx.Err() != nil {
		s.cancelCall(call, cancelledBySignal)
		return
	}
	if err != nil {
		s.fail(call, ToolErrorExecutionFailed, err)
		return
	}

	output := TruncateToolOutput(result.LLMContent, req.Name, s.outputLimits)
	s.finish(call, StatusSuccess, &ToolCallResponse{
		CallID: req.CallID,
		ResponseParts: []*genai.Part{
			genai.FunctionResponsePart(req.CallID, req.Name, map[string]any{"output": output}),
		},
		ResultDisplay: result.Display(),
	})
}

// fail records a terminal error with a function response carrying the error
// text, so the model sees why the call did not produce output.
func (s *Scheduler) fail(call *TrackedToolCall, errType ToolErrorType, err error) {
	req := call.Request
	s.finish(call, StatusError, &ToolCallResponse{
		CallID: req.CallID,
		ResponseParts: []*genai.Part{
			genai.FunctionResponsePart(req.CallID, req.Name, map[string]any{"error": err.Error()}),
		},
		ResultDisplay: err.Error(),
		Err:           err,
		ErrorType:     errType,
	})
}

// cancelCall records a cancelled terminal state. The response still carries a
// function response part so the model is never left with an unanswered call.
func (s *Scheduler) cancelCall(call *TrackedToolCall, reason string) {
	req := call.Request
	msg := fmt.Sprintf("[Operation Cancelled] Reason: %s", reason)
	s.finish(call, StatusCancelled, &ToolCallResponse{
		CallID: req.CallID,
		ResponseParts: []*genai.Part{
			genai.FunctionResponsePart(req.CallID, req.Name, map[string]any{"output": msg}),
		},
		ResultDisplay: msg,
		ErrorType:     ToolErrorCancelled,
	})
}

// finish records a terminal response and status in one step. Client-initiated
// calls are marked submitted immediately since their results stay in the UI.
func (s *Scheduler) finish(call *TrackedToolCall, status ToolCallStatus, resp *ToolCallResponse) {
	s.mu.Lock()
	call.Response = resp
	call.Status = status
	if call.Request.IsClientInitiated {
		call.ResponseSubmittedToModel = true
	}
	s.mu.Unlock()
	s.notify()
}

// setStatus records a non-terminal status change.
func (s *Scheduler) setStatus(call *TrackedToolCall, status ToolCallStatus) {
	s.mu.Lock()
	call.Status = status
	s.mu.Unlock()
	s.notify()
}

// notify pushes the current batch to the status sink.
func (s *Scheduler) notify() {
	if s.onUpdate == nil {
		return
	}
	s.mu.Lock()
	calls := make([]*TrackedToolCall, len(s.calls))
	copy(calls, s.calls)
	s.mu.Unlock()
	s.onUpdate(calls)
}

// validateArgs checks the call arguments against the tool's parameter schema.
// Tools without a schema accept anything.
func (s *Scheduler) validateArgs(tool Tool, args map[string]any) error {
	raw := tool.Parameters()
	if len(raw) == 0 {
		return nil
	}

	schema, err := s.compileSchema(string(raw))
	if err != nil {
		// A malformed schema is the tool author's bug, not the model's.
		// Let the call through rather than failing it as INVALID_ARGS.
		return nil
	}

	if args == nil {
		args = map[string]any{}
	}
	decoded := normalizeForSchema(args)
	return schema.Validate(decoded)
}

// compileSchema compiles and caches a JSON Schema.
func (s *Scheduler) compileSchema(text string) (*jsonschema.Schema, error) {
	if cached, ok := s.schemas.Load(text); ok {
		return cached.(*jsonschema.Schema), nil
	}
	compiled, err := jsonschema.CompileString("tool.schema.json", text)
	if err != nil {
		return nil, err
	}
	s.schemas.Store(text, compiled)
	return compiled, nil
}

// normalizeForSchema round-trips args through JSON so numeric types match
// what the validator expects from decoded JSON documents.
func normalizeForSchema(args map[string]any) any {
	payload, err := json.Marshal(args)
	if err != nil {
		return args
	}
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return args
	}
	return decoded
}

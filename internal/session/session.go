// =============================================================================
// gridsubmit - Session State Machine
// =============================================================================
//
// A Session owns everything the user is working on: the loaded grid, its
// source, the skip offset and the column mapping. Every input event is a
// method call that moves the session along a fixed transition table:
//
//   idle ──load──▶ loaded ──select──▶ mapped ──submit──▶ submitting
//                    ▲  ◀──skip/select──┘                 │      │
//                    │                                    ▼      ▼
//                    └──────────────load────────────── done   failed
//
//   failed allows load, skip, select and a retried submit.
//   done stays until the next load or Reset.
//
// LOADS:
//   A new load overwrites the whole slot; nothing is merged. Loads that
//   suspend (file reads) take a generation token from BeginLoad and hand it
//   back to CompleteLoad. A token from an older BeginLoad is stale and its
//   result is discarded, so the last load started wins.
//
// CONCURRENCY:
//   All state sits behind one mutex. Submitter calls run without the lock;
//   while a submission is in flight every other event is rejected.
//
// =============================================================================

package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/ginjaninja78/gridsubmit/internal/htmlparser"
	"github.com/ginjaninja78/gridsubmit/internal/mapper"
	"github.com/ginjaninja78/gridsubmit/internal/submit"
	"github.com/ginjaninja78/gridsubmit/internal/types"
	"github.com/ginjaninja78/gridsubmit/internal/xlsxparser"
)

// =============================================================================
// STATES AND TRANSITIONS
// =============================================================================

// State is a step of the session lifecycle.
type State string

const (
	StateIdle       State = "idle"
	StateLoaded     State = "loaded"
	StateMapped     State = "mapped"
	StateSubmitting State = "submitting"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

var transitions = map[State][]State{
	StateIdle:       {StateLoaded},
	StateLoaded:     {StateIdle, StateLoaded, StateMapped, StateSubmitting},
	StateMapped:     {StateIdle, StateLoaded, StateMapped, StateSubmitting},
	StateSubmitting: {StateDone, StateFailed},
	StateDone:       {StateIdle, StateLoaded},
	StateFailed:     {StateIdle, StateLoaded, StateMapped, StateSubmitting},
}

// Transitions lists the states reachable from one step.
func Transitions(from State) []State {
	return append([]State(nil), transitions[from]...)
}

// CanTransition reports whether the session may move from one state to
// another.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition is one state change, delivered to registered handlers.
type Transition struct {
	From State
	To   State
}

// TransitionHandler observes state changes. Handlers run after the session
// lock is released and may call back into the session.
type TransitionHandler func(Transition)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrInvalidTransition is returned when an event is not allowed in the
	// current state.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrStaleLoad is returned when a load completes after a newer one began.
	ErrStaleLoad = errors.New("load superseded by a newer one")

	// ErrWrongSource is returned when a flow is used on data from the other
	// source (e.g. a file submission of clipboard data).
	ErrWrongSource = errors.New("operation does not apply to this data source")
)

// TransitionError names the rejected transition.
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%v: %s -> %s", ErrInvalidTransition, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// =============================================================================
// STATUS
// =============================================================================

// Source tells which flow the loaded data came from.
type Source string

const (
	SourceNone      Source = ""
	SourceClipboard Source = "clipboard"
	SourceFile      Source = "file"
)

// Level classifies a status message.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Status is the user-visible message for the last event.
type Status struct {
	Level   Level
	Message string
}

// =============================================================================
// SESSION
// =============================================================================

// LoadToken identifies one load attempt.
type LoadToken uint64

// Submitter sends payloads to the backend. *submit.Client implements it.
type Submitter interface {
	ProcessExcel(ctx context.Context, payload *types.SubmissionPayload) (types.ServerAck, error)
	ConfirmData(ctx context.Context, payload *types.ConfirmPayload) (types.ServerAck, error)
}

// Snapshot is a read-only view of a session. Grids are shared with the
// session, which replaces them wholesale and never edits them in place.
type Snapshot struct {
	State       State
	Source      Source
	Name        string
	Description string
	Full        types.Grid
	Grid        types.Grid
	Columns     []mapper.ColumnOption
	Mapping     types.ColumnMapping
	Ack         types.ServerAck
	Err         error
	Status      Status

	// Skip is the offset shown to the user. A rejected offset reverts it
	// to 0.
	Skip int
	// Offset is the offset Grid was sliced at, and the one submitted.
	Offset int
}

// DataRows returns the number of rows below the header.
func (s Snapshot) DataRows() int {
	return max(s.Grid.RowCount()-1, 0)
}

// Session is the single working slot of one user.
type Session struct {
	mu sync.Mutex

	state State
	gen   LoadToken

	source      Source
	name        string
	description string
	full        types.Grid
	grid        types.Grid
	columns     []mapper.ColumnOption
	skip        int
	offset      int
	mapping     types.ColumnMapping

	ack     types.ServerAck
	lastErr error
	status  Status

	handlers []TransitionHandler
	pending  []Transition
	logger   *slog.Logger
}

// New creates an idle session.
func New(logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Session{
		state:   StateIdle,
		mapping: types.NewColumnMapping(),
		logger:  logger,
	}
}

// OnTransition registers a handler for every later state change.
func (s *Session) OnTransition(h TransitionHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, h)
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns the message for the last event.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Snapshot returns a view of the whole session.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		State:       s.state,
		Source:      s.source,
		Name:        s.name,
		Description: s.description,
		Full:        s.full,
		Grid:        s.grid,
		Columns:     s.columns,
		Mapping:     s.mapping,
		Ack:         s.ack,
		Err:         s.lastErr,
		Status:      s.status,
		Skip:        s.skip,
		Offset:      s.offset,
	}
}

// -----------------------------------------------------------------------------
// Loading
// -----------------------------------------------------------------------------

// BeginLoad starts a load and returns its token. Any load begun earlier
// becomes stale.
func (s *Session) BeginLoad() (LoadToken, error) {
	s.mu.Lock()
	defer s.unlock()

	if !CanTransition(s.state, StateLoaded) {
		return 0, &TransitionError{From: s.state, To: StateLoaded}
	}
	s.gen++
	return s.gen, nil
}

// CompleteLoad installs a freshly extracted grid, replacing everything the
// session held. The skip offset returns to 0 and the mapping is cleared.
//
// PARAMETERS:
//   - tok: The token returned by BeginLoad.
//   - src: Where the grid came from.
//   - name: The file name, or empty for clipboard data.
//   - description: The clipboard description label, or empty.
//   - full: The extracted grid. It may have zero rows.
//
// RETURNS:
//   - ErrStaleLoad if a newer load has begun; the session is unchanged.
//   - ErrInvalidTransition if a submission started in the meantime.
func (s *Session) CompleteLoad(tok LoadToken, src Source, name, description string, full types.Grid) error {
	s.mu.Lock()
	defer s.unlock()

	if tok != s.gen {
		s.logger.Debug("discarding stale load", "token", tok, "current", s.gen, "name", name)
		return ErrStaleLoad
	}
	if err := s.setState(StateLoaded); err != nil {
		return err
	}

	s.source = src
	s.name = name
	s.description = description
	s.full = full
	s.skip, s.offset = 0, 0
	s.mapping = types.NewColumnMapping()
	s.ack = nil
	s.lastErr = nil

	if grid, columns, err := mapper.ApplySkip(full, 0); err == nil {
		s.grid, s.columns = grid, columns
	} else {
		s.grid, s.columns = full, nil
	}

	s.logger.Info("data loaded", "source", src, "name", name, "rows", full.RowCount(), "columns", len(s.columns))
	switch {
	case src == SourceFile:
		s.status = Status{LevelSuccess, fmt.Sprintf("File %s loaded: %d rows, %d columns. Select the columns.", name, max(s.grid.RowCount()-1, 0), len(s.columns))}
	case full.RowCount() == 0:
		s.status = Status{LevelError, "No table found in the pasted content."}
	default:
		s.status = Status{LevelSuccess, fmt.Sprintf("Extracted a table with %d rows.", full.RowCount())}
	}
	return nil
}

// FailLoad records an extraction failure. The loaded data and the state are
// left as they were. A stale token is ignored.
func (s *Session) FailLoad(tok LoadToken, err error) {
	s.mu.Lock()
	defer s.unlock()

	if tok != s.gen {
		return
	}
	s.lastErr = err
	s.status = Status{LevelError, "Failed to load data: " + err.Error()}
	s.logger.Warn("load failed", "error", err)
}

// LoadClipboard parses pasted HTML and installs the result.
func (s *Session) LoadClipboard(raw string, opts htmlparser.Options) (*htmlparser.Result, error) {
	tok, err := s.BeginLoad()
	if err != nil {
		return nil, err
	}

	result, err := htmlparser.Extract(raw, opts)
	if err != nil {
		s.FailLoad(tok, err)
		return nil, err
	}
	if err := s.CompleteLoad(tok, SourceClipboard, "", result.Description, result.Grid); err != nil {
		return nil, err
	}
	return result, nil
}

// LoadFile reads and decodes an uploaded spreadsheet and installs its first
// sheet. The read may suspend; a load begun meanwhile wins and this call
// returns ErrStaleLoad.
func (s *Session) LoadFile(ctx context.Context, fileName, contentType string, r io.Reader) (*xlsxparser.Result, error) {
	tok, err := s.BeginLoad()
	if err != nil {
		return nil, err
	}

	result, err := xlsxparser.Extract(ctx, fileName, contentType, r)
	if err != nil {
		s.FailLoad(tok, err)
		return nil, err
	}
	if err := s.CompleteLoad(tok, SourceFile, result.FileName, "", result.Grid); err != nil {
		return nil, err
	}
	return result, nil
}

// -----------------------------------------------------------------------------
// Mapping
// -----------------------------------------------------------------------------

// SetSkip changes the skip offset. On success the header moves, the column
// options are rebuilt and the mapping is cleared. On error the shown offset reverts to 0 while
// the grid, the effective offset and the mapping stay as they were.
func (s *Session) SetSkip(skip int) error {
	s.mu.Lock()
	defer s.unlock()

	switch s.state {
	case StateLoaded, StateMapped, StateFailed:
	default:
		return &TransitionError{From: s.state, To: StateLoaded}
	}

	grid, columns, err := mapper.ApplySkip(s.full, skip)
	if err != nil {
		s.skip = 0
		s.status = Status{LevelError, "The number of rows to skip exceeds the total number of rows."}
		return err
	}
	if err := s.setState(StateLoaded); err != nil {
		return err
	}

	s.skip, s.offset = skip, skip
	s.grid = grid
	s.columns = columns
	s.mapping = types.NewColumnMapping()
	s.status = Status{LevelSuccess, "Columns updated from the skipped rows."}
	return nil
}

// Select assigns a column to a field, or clears it with types.Unselected.
// The session is mapped exactly when the mapping is complete and free of
// duplicates.
func (s *Session) Select(field types.Field, index int) error {
	s.mu.Lock()
	defer s.unlock()

	switch s.state {
	case StateLoaded, StateMapped, StateFailed:
	default:
		return &TransitionError{From: s.state, To: StateMapped}
	}
	if index != types.Unselected && (index < 0 || index >= len(s.columns)) {
		return &mapper.MappingError{Field: field, Index: index, Err: mapper.ErrColumnOutOfRange}
	}

	s.mapping = s.mapping.With(field, index)

	next := StateLoaded
	if mapper.SubmitEnabled(s.mapping) {
		next = StateMapped
	}
	if err := s.setState(next); err != nil {
		return err
	}

	if err := mapper.Validate(s.mapping, -1); errors.Is(err, mapper.ErrDuplicateColumns) {
		s.status = Status{LevelError, "Select a different column for each field."}
	}
	return nil
}

// SubmitEnabled reports whether Submit would be accepted now.
func (s *Session) SubmitEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.source == SourceFile && (s.state == StateMapped || s.state == StateFailed) && mapper.SubmitEnabled(s.mapping)
}

// -----------------------------------------------------------------------------
// Submission
// -----------------------------------------------------------------------------

// Submit sends the mapped file data as a process-excel payload.
//
// RETURNS:
//   - The server acknowledgment.
//   - ErrInvalidTransition unless the session is mapped (or failed with a
//     valid mapping), ErrWrongSource for clipboard data, or the submitter's
//     error. Any submitter error leaves the session failed and retryable.
func (s *Session) Submit(ctx context.Context, sub Submitter) (types.ServerAck, error) {
	s.mu.Lock()
	if s.state != StateMapped && s.state != StateFailed {
		defer s.unlock()
		return nil, &TransitionError{From: s.state, To: StateSubmitting}
	}
	if s.source != SourceFile {
		defer s.unlock()
		return nil, ErrWrongSource
	}

	payload, err := mapper.BuildPayload(s.name, s.full, s.offset, s.mapping)
	if err != nil {
		defer s.unlock()
		s.status = Status{LevelError, "Select a different column for each field."}
		return nil, err
	}

	return s.send(ctx, func(ctx context.Context) (types.ServerAck, error) {
		return sub.ProcessExcel(ctx, payload)
	})
}

// SubmitClipboard sends the pasted grid and its description to confirm-data.
func (s *Session) SubmitClipboard(ctx context.Context, sub Submitter) (types.ServerAck, error) {
	s.mu.Lock()
	if s.state != StateLoaded && s.state != StateMapped && s.state != StateFailed {
		defer s.unlock()
		return nil, &TransitionError{From: s.state, To: StateSubmitting}
	}
	if s.source != SourceClipboard {
		defer s.unlock()
		return nil, ErrWrongSource
	}

	payload := &types.ConfirmPayload{Data: s.full, Description: s.description}
	if payload.Data == nil {
		payload.Data = types.Grid{}
	}

	return s.send(ctx, func(ctx context.Context) (types.ServerAck, error) {
		return sub.ConfirmData(ctx, payload)
	})
}

// send moves to submitting, runs the call without the lock and records the
// outcome. It must be called with the lock held.
func (s *Session) send(ctx context.Context, call func(context.Context) (types.ServerAck, error)) (types.ServerAck, error) {
	if err := s.setState(StateSubmitting); err != nil {
		s.unlock()
		return nil, err
	}
	s.status = Status{LevelInfo, "Sending data..."}
	s.unlock()

	ack, err := call(ctx)

	s.mu.Lock()
	defer s.unlock()

	if err != nil {
		_ = s.setState(StateFailed)
		s.lastErr = err
		s.status = Status{LevelError, failureMessage(err)}
		s.logger.Warn("submission failed", "error", err)
		return nil, err
	}

	_ = s.setState(StateDone)
	s.ack = ack
	s.lastErr = nil
	s.status = Status{LevelSuccess, "Data processed successfully!"}
	return ack, nil
}

func failureMessage(err error) string {
	var subErr *submit.SubmissionError
	if errors.As(err, &subErr) {
		if subErr.Kind == submit.KindRejected {
			return "Processing failed: " + subErr.Message()
		}
		return "Failed to send data: " + subErr.Message()
	}
	return "Failed to send data: " + err.Error()
}

// Reset clears the session back to idle.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.unlock()

	if s.state == StateIdle {
		return nil
	}
	if err := s.setState(StateIdle); err != nil {
		return err
	}
	s.gen++
	s.source, s.name, s.description = SourceNone, "", ""
	s.full, s.grid, s.columns = nil, nil, nil
	s.skip, s.offset = 0, 0
	s.mapping = types.NewColumnMapping()
	s.ack, s.lastErr = nil, nil
	s.status = Status{}
	return nil
}

// -----------------------------------------------------------------------------
// Internals
// -----------------------------------------------------------------------------

// setState moves to the given state and queues the transition for the
// handlers. The lock must be held.
func (s *Session) setState(to State) error {
	if !CanTransition(s.state, to) {
		return &TransitionError{From: s.state, To: to}
	}
	s.pending = append(s.pending, Transition{From: s.state, To: to})
	s.state = to
	return nil
}

// unlock releases the lock and delivers queued transitions.
func (s *Session) unlock() {
	pending := s.pending
	handlers := s.handlers
	s.pending = nil
	s.mu.Unlock()

	for _, t := range pending {
		s.logger.Debug("session transition", "from", t.From, "to", t.To)
		for _, h := range handlers {
			h(t)
		}
	}
}

package session

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ginjaninja78/gridsubmit/internal/htmlparser"
	"github.com/ginjaninja78/gridsubmit/internal/mapper"
	"github.com/ginjaninja78/gridsubmit/internal/submit"
	"github.com/ginjaninja78/gridsubmit/internal/types"
	"github.com/ginjaninja78/gridsubmit/internal/xlsxparser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

// fakeSubmitter records payloads and returns canned results.
type fakeSubmitter struct {
	mu      sync.Mutex
	excel   []*types.SubmissionPayload
	confirm []*types.ConfirmPayload
	err     error
	ack     types.ServerAck
	started chan struct{}
	release chan struct{}
}

func (f *fakeSubmitter) ProcessExcel(ctx context.Context, p *types.SubmissionPayload) (types.ServerAck, error) {
	f.wait()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.excel = append(f.excel, p)
	return f.ack, f.err
}

func (f *fakeSubmitter) ConfirmData(ctx context.Context, p *types.ConfirmPayload) (types.ServerAck, error) {
	f.wait()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirm = append(f.confirm, p)
	return f.ack, f.err
}

func (f *fakeSubmitter) wait() {
	if f.started != nil {
		close(f.started)
	}
	if f.release != nil {
		<-f.release
	}
}

func workbook(t *testing.T, rows [][]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

var purchaseRows = [][]any{
	{"Relatório"},
	{"Item", "Valor", "Qtd"},
	{"Pneu A", 10.5, 2},
	{"Pneu B", 20, 4},
}

// loadedFileSession loads purchaseRows with the title row skipped.
func loadedFileSession(t *testing.T) *Session {
	t.Helper()
	s := New(nil)
	_, err := s.LoadFile(context.Background(), "compras.xlsx", xlsxparser.MIMETypeXLSX, bytes.NewReader(workbook(t, purchaseRows)))
	require.NoError(t, err)
	require.NoError(t, s.SetSkip(1))
	return s
}

func mapAll(t *testing.T, s *Session, d, v, q int) {
	t.Helper()
	require.NoError(t, s.Select(types.FieldDescription, d))
	require.NoError(t, s.Select(types.FieldValue, v))
	require.NoError(t, s.Select(types.FieldQuantity, q))
}

func TestTransitionTable(t *testing.T) {
	assert.True(t, CanTransition(StateIdle, StateLoaded))
	assert.False(t, CanTransition(StateIdle, StateSubmitting))
	assert.False(t, CanTransition(StateLoaded, StateDone))
	assert.True(t, CanTransition(StateMapped, StateSubmitting))
	assert.ElementsMatch(t, []State{StateDone, StateFailed}, Transitions(StateSubmitting))
	assert.True(t, CanTransition(StateFailed, StateSubmitting))
	assert.False(t, CanTransition(StateDone, StateSubmitting))

	for _, from := range []State{StateIdle, StateLoaded, StateMapped, StateSubmitting, StateDone, StateFailed} {
		assert.NotEmpty(t, Transitions(from), "state %s is a dead end", from)
	}
}

func TestFileFlow_LoadMapSubmit(t *testing.T) {
	s := New(nil)
	_, err := s.LoadFile(context.Background(), "compras.xlsx", xlsxparser.MIMETypeXLSX, bytes.NewReader(workbook(t, purchaseRows)))
	require.NoError(t, err)

	snap := s.Snapshot()
	assert.Equal(t, StateLoaded, snap.State)
	assert.Equal(t, SourceFile, snap.Source)
	assert.Equal(t, "compras.xlsx", snap.Name)
	assert.Equal(t, 0, snap.Skip)
	assert.Equal(t, types.NewColumnMapping(), snap.Mapping)
	assert.Equal(t, 3, snap.DataRows())

	require.NoError(t, s.SetSkip(1))
	assert.Equal(t, []mapper.ColumnOption{
		{Index: 0, Label: "Item"},
		{Index: 1, Label: "Valor"},
		{Index: 2, Label: "Qtd"},
	}, s.Snapshot().Columns)

	require.NoError(t, s.Select(types.FieldDescription, 0))
	require.NoError(t, s.Select(types.FieldValue, 1))
	assert.Equal(t, StateLoaded, s.State())
	assert.False(t, s.SubmitEnabled())
	require.NoError(t, s.Select(types.FieldQuantity, 2))
	assert.Equal(t, StateMapped, s.State())
	assert.True(t, s.SubmitEnabled())

	sub := &fakeSubmitter{ack: types.ServerAck{"status": "success"}}
	ack, err := s.Submit(context.Background(), sub)

	require.NoError(t, err)
	assert.Equal(t, "success", ack["status"])
	assert.Equal(t, StateDone, s.State())
	assert.Equal(t, LevelSuccess, s.Status().Level)

	require.Len(t, sub.excel, 1)
	payload := sub.excel[0]
	assert.Equal(t, 1, payload.SkipRows)
	assert.Equal(t, "compras.xlsx", payload.FileName)
	assert.Equal(t, types.ColumnHeaders{Description: "Item", Value: "Valor", Quantity: "Qtd"}, payload.Columns)
	assert.Equal(t, []types.CanonicalRecord{
		{Description: "Pneu A", Value: 10.5, Quantity: float64(2)},
		{Description: "Pneu B", Value: float64(20), Quantity: float64(4)},
	}, payload.Data)

	_, err = s.Submit(context.Background(), sub)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestSetSkip_ErrorLeavesStateUnchanged(t *testing.T) {
	s := loadedFileSession(t)
	mapAll(t, s, 0, 1, 2)
	before := s.Snapshot()

	for _, skip := range []int{4, 10, -1} {
		err := s.SetSkip(skip)

		assert.ErrorIs(t, err, mapper.ErrSkipOutOfRange)
		after := s.Snapshot()
		assert.Equal(t, before.State, after.State)
		assert.Equal(t, 0, after.Skip)
		assert.Equal(t, 1, after.Offset)
		assert.Equal(t, before.Mapping, after.Mapping)
		assert.Equal(t, before.Grid, after.Grid)
		assert.Equal(t, before.Columns, after.Columns)
		assert.Equal(t, LevelError, after.Status.Level)
	}
}

func TestSetSkip_RejectedOffsetKeepsPayloadConsistent(t *testing.T) {
	s := loadedFileSession(t)
	mapAll(t, s, 0, 1, 2)
	sub := &fakeSubmitter{}

	require.ErrorIs(t, s.SetSkip(len(purchaseRows)), mapper.ErrSkipOutOfRange)
	require.Equal(t, 0, s.Snapshot().Skip)
	require.True(t, s.SubmitEnabled())

	_, err := s.Submit(context.Background(), sub)
	require.NoError(t, err)

	require.Len(t, sub.excel, 1)
	payload := sub.excel[0]
	assert.Equal(t, 1, payload.SkipRows)
	assert.Equal(t, types.ColumnHeaders{Description: "Item", Value: "Valor", Quantity: "Qtd"}, payload.Columns)
	assert.Len(t, payload.Data, 2)
}

func TestSetSkip_ClearsMapping(t *testing.T) {
	s := loadedFileSession(t)
	mapAll(t, s, 0, 1, 2)
	require.Equal(t, StateMapped, s.State())

	require.NoError(t, s.SetSkip(2))

	snap := s.Snapshot()
	assert.Equal(t, StateLoaded, snap.State)
	assert.Equal(t, types.NewColumnMapping(), snap.Mapping)
	assert.Equal(t, types.Row{"Pneu A", 10.5, float64(2)}, snap.Grid.Header())
}

func TestSelect_DuplicateKeepsLoaded(t *testing.T) {
	s := loadedFileSession(t)

	mapAll(t, s, 0, 1, 1)

	assert.Equal(t, StateLoaded, s.State())
	assert.Equal(t, LevelError, s.Status().Level)

	_, err := s.Submit(context.Background(), &fakeSubmitter{})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, s.Select(types.FieldQuantity, 2))
	assert.Equal(t, StateMapped, s.State())

	require.NoError(t, s.Select(types.FieldQuantity, types.Unselected))
	assert.Equal(t, StateLoaded, s.State())
}

func TestSelect_OutOfRange(t *testing.T) {
	s := loadedFileSession(t)

	err := s.Select(types.FieldValue, 7)

	assert.ErrorIs(t, err, mapper.ErrColumnOutOfRange)
	assert.Equal(t, types.NewColumnMapping(), s.Snapshot().Mapping)
}

func TestSubmit_FailureIsRetryable(t *testing.T) {
	s := loadedFileSession(t)
	mapAll(t, s, 0, 1, 2)

	rejected := &submit.SubmissionError{Kind: submit.KindRejected, StatusCode: 422, Status: "422 Unprocessable Entity", Body: "bad quantity"}
	sub := &fakeSubmitter{err: rejected}

	_, err := s.Submit(context.Background(), sub)

	assert.ErrorIs(t, err, submit.ErrRejected)
	assert.Equal(t, StateFailed, s.State())
	assert.Equal(t, Status{LevelError, "Processing failed: bad quantity"}, s.Status())
	assert.ErrorIs(t, s.Snapshot().Err, submit.ErrRejected)

	sub.err = nil
	_, err = s.Submit(context.Background(), sub)
	require.NoError(t, err)
	assert.Equal(t, StateDone, s.State())
	assert.Len(t, sub.excel, 2)
}

func TestSubmit_EventsRejectedWhileInFlight(t *testing.T) {
	s := loadedFileSession(t)
	mapAll(t, s, 0, 1, 2)

	sub := &fakeSubmitter{started: make(chan struct{}), release: make(chan struct{})}
	done := make(chan error, 1)
	go func() {
		_, err := s.Submit(context.Background(), sub)
		done <- err
	}()

	<-sub.started
	assert.Equal(t, StateSubmitting, s.State())

	_, err := s.BeginLoad()
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.ErrorIs(t, s.SetSkip(0), ErrInvalidTransition)
	assert.ErrorIs(t, s.Select(types.FieldValue, 0), ErrInvalidTransition)
	assert.ErrorIs(t, s.Reset(), ErrInvalidTransition)

	close(sub.release)
	require.NoError(t, <-done)
	assert.Equal(t, StateDone, s.State())
}

func TestLoad_StaleResultDiscarded(t *testing.T) {
	s := New(nil)

	first, err := s.BeginLoad()
	require.NoError(t, err)
	second, err := s.BeginLoad()
	require.NoError(t, err)

	require.NoError(t, s.CompleteLoad(second, SourceFile, "b.xlsx", "", types.Grid{{"B"}}))
	err = s.CompleteLoad(first, SourceFile, "a.xlsx", "", types.Grid{{"A"}})

	assert.ErrorIs(t, err, ErrStaleLoad)
	assert.Equal(t, "b.xlsx", s.Snapshot().Name)

	s.FailLoad(first, errors.New("late failure"))
	assert.NoError(t, s.Snapshot().Err)
}

func TestLoad_NewLoadReplacesEverything(t *testing.T) {
	s := loadedFileSession(t)
	mapAll(t, s, 0, 1, 2)

	_, err := s.LoadFile(context.Background(), "outro.xlsx", "", bytes.NewReader(workbook(t, [][]any{{"X", "Y", "Z"}})))
	require.NoError(t, err)

	snap := s.Snapshot()
	assert.Equal(t, StateLoaded, snap.State)
	assert.Equal(t, "outro.xlsx", snap.Name)
	assert.Equal(t, 0, snap.Skip)
	assert.Equal(t, types.NewColumnMapping(), snap.Mapping)
	assert.Equal(t, types.Grid{{"X", "Y", "Z"}}, snap.Full)
}

func TestLoadFile_ExtractionErrorKeepsPreviousData(t *testing.T) {
	s := loadedFileSession(t)

	_, err := s.LoadFile(context.Background(), "notes.txt", "text/plain", bytes.NewReader([]byte("x")))

	assert.ErrorIs(t, err, xlsxparser.ErrInvalidFormat)
	snap := s.Snapshot()
	assert.Equal(t, StateLoaded, snap.State)
	assert.Equal(t, "compras.xlsx", snap.Name)
	assert.Equal(t, LevelError, snap.Status.Level)
}

func TestClipboardFlow(t *testing.T) {
	s := New(nil)
	page := `<div id="conteudo"><form>` +
		`<table><tr><td>Pesquisa de preços</td></tr></table>` +
		`<table><tr><td>Item</td><td>Valor</td></tr><tr><td>Pneu</td><td>10</td></tr></table>` +
		`</form></div>`

	result, err := s.LoadClipboard(page, htmlparser.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, htmlparser.StrategyHeuristic, result.Strategy)
	assert.Equal(t, StateLoaded, s.State())
	assert.Equal(t, Status{LevelSuccess, "Extracted a table with 2 rows."}, s.Status())

	_, err = s.Submit(context.Background(), &fakeSubmitter{})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	sub := &fakeSubmitter{}
	_, err = s.SubmitClipboard(context.Background(), sub)
	require.NoError(t, err)

	require.Len(t, sub.confirm, 1)
	assert.Equal(t, "Pesquisa de preços", sub.confirm[0].Description)
	assert.Equal(t, types.Grid{{"Item", "Valor"}, {"Pneu", "10"}}, sub.confirm[0].Data)
	assert.Equal(t, StateDone, s.State())
}

func TestClipboardFlow_NoTable(t *testing.T) {
	s := New(nil)

	_, err := s.LoadClipboard(`<p>nothing here</p>`, htmlparser.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, LevelError, s.Status().Level)

	sub := &fakeSubmitter{}
	_, err = s.SubmitClipboard(context.Background(), sub)
	require.NoError(t, err)
	assert.NotNil(t, sub.confirm[0].Data)
	assert.Empty(t, sub.confirm[0].Data)
}

func TestSubmitClipboard_WrongSource(t *testing.T) {
	s := loadedFileSession(t)

	_, err := s.SubmitClipboard(context.Background(), &fakeSubmitter{})

	assert.ErrorIs(t, err, ErrWrongSource)
	assert.Equal(t, StateLoaded, s.State())
}

func TestOnTransition_ObservesLifecycle(t *testing.T) {
	s := New(nil)
	var seen []Transition
	s.OnTransition(func(tr Transition) {
		seen = append(seen, tr)
		// Handlers may read the session without deadlocking.
		_ = s.State()
	})

	_, err := s.LoadFile(context.Background(), "compras.xlsx", "", bytes.NewReader(workbook(t, purchaseRows)))
	require.NoError(t, err)
	require.NoError(t, s.SetSkip(1))
	mapAll(t, s, 0, 1, 2)
	_, err = s.Submit(context.Background(), &fakeSubmitter{})
	require.NoError(t, err)
	require.NoError(t, s.Reset())

	assert.Equal(t, []Transition{
		{StateIdle, StateLoaded},
		{StateLoaded, StateLoaded},
		{StateLoaded, StateLoaded},
		{StateLoaded, StateLoaded},
		{StateLoaded, StateMapped},
		{StateMapped, StateSubmitting},
		{StateSubmitting, StateDone},
		{StateDone, StateIdle},
	}, seen)
	assert.Equal(t, StateIdle, s.State())
	assert.Nil(t, s.Snapshot().Full)
}

package mentions

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/teamdesk/pkg/backend"
	"github.com/otherjamesbrown/teamdesk/pkg/backend/memory"
	tderrors "github.com/otherjamesbrown/teamdesk/pkg/errors"
	"github.com/otherjamesbrown/teamdesk/pkg/logging"
)

type mockTables struct {
	mock.Mock
}

func (m *mockTables) Select(ctx context.Context, table string, q backend.Query) ([]backend.Row, error) {
	args := m.Called(ctx, table, q)
	rows, _ := args.Get(0).([]backend.Row)
	return rows, args.Error(1)
}

func (m *mockTables) Insert(ctx context.Context, table string, rows ...backend.Row) ([]backend.Row, error) {
	args := m.Called(ctx, table, rows)
	out, _ := args.Get(0).([]backend.Row)
	return out, args.Error(1)
}

func (m *mockTables) Update(ctx context.Context, table string, values backend.Row, filters ...backend.Filter) ([]backend.Row, error) {
	args := m.Called(ctx, table, values, filters)
	out, _ := args.Get(0).([]backend.Row)
	return out, args.Error(1)
}

func (m *mockTables) Delete(ctx context.Context, table string, filters ...backend.Filter) error {
	args := m.Called(ctx, table, filters)
	return args.Error(0)
}

func TestStore_ReplaceIsWholesale(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	mem.Seed(KindNote.Table(),
		backend.Row{"note_id": "n1", "mentioned_user_id": "old"},
		backend.Row{"note_id": "n2", "mentioned_user_id": "other"},
	)
	s := NewStore(mem, StoreConfig{})

	require.NoError(t, s.Replace(ctx, KindNote, "n1", []string{"u1", "u2"}))
	recs, err := s.ForEntity(ctx, KindNote, "n1")
	require.NoError(t, err)
	var ids []string
	for _, r := range recs {
		assert.Equal(t, "n1", r.EntityID)
		ids = append(ids, r.MentionedUserID)
	}
	assert.ElementsMatch(t, []string{"u1", "u2"}, ids)

	require.NoError(t, s.Replace(ctx, KindNote, "n1", nil))
	recs, err = s.ForEntity(ctx, KindNote, "n1")
	require.NoError(t, err)
	assert.Empty(t, recs, "an empty set clears previous mentions")

	other, err := s.ForEntity(ctx, KindNote, "n2")
	require.NoError(t, err)
	assert.Len(t, other, 1, "other entities are untouched")
}

func TestStore_ForUser(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	s := NewStore(mem, StoreConfig{})
	require.NoError(t, s.Replace(ctx, KindTask, "t1", []string{"u1"}))
	require.NoError(t, s.Replace(ctx, KindTask, "t2", []string{"u1", "u2"}))

	recs, err := s.ForUser(ctx, KindTask, "u1")
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	recs, err = s.ForEntities(ctx, KindTask, []string{"t2"})
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestStore_DeletePhaseFailure(t *testing.T) {
	tables := new(mockTables)
	boom := errors.New("delete refused")
	tables.On("Delete", mock.Anything, "task_mentions", []backend.Filter{backend.Eq("task_id", "t1")}).Return(boom)

	err := NewStore(tables, StoreConfig{}).Replace(context.Background(), KindTask, "t1", []string{"u1"})

	var rerr *ReplaceError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, PhaseDelete, rerr.Phase)
	assert.ErrorIs(t, err, boom)
	tables.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything, mock.Anything)
}

func TestStore_InsertPhaseFailure(t *testing.T) {
	tables := new(mockTables)
	logger, sink := logging.NewRecorder()
	tables.On("Delete", mock.Anything, "message_mentions", mock.Anything).Return(nil)
	tables.On("Insert", mock.Anything, "message_mentions", []backend.Row{
		{"message_id": "m1", "mentioned_user_id": "u1"},
	}).Return(nil, tderrors.ErrTimeout)

	err := NewStore(tables, StoreConfig{Logger: logger}).Replace(context.Background(), KindMessage, "m1", []string{"u1"})

	var rerr *ReplaceError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, PhaseInsert, rerr.Phase)
	assert.True(t, tderrors.IsTimeout(err))
	assert.Len(t, sink.Find(logging.LevelWarn, "Mention records lost after partial replacement"), 1)
	tables.AssertExpectations(t)
}

func TestStore_ReplaceValidates(t *testing.T) {
	s := NewStore(new(mockTables), StoreConfig{})
	assert.True(t, tderrors.IsValidation(s.Replace(context.Background(), Kind("bogus"), "x", nil)))
	assert.True(t, tderrors.IsValidation(s.Replace(context.Background(), KindNote, "", nil)))
}

package workspace

import (
	"context"
	"fmt"
	"time"

	"github.com/otherjamesbrown/teamdesk/pkg/backend"
	tderrors "github.com/otherjamesbrown/teamdesk/pkg/errors"
	"github.com/otherjamesbrown/teamdesk/pkg/logging"
	"github.com/otherjamesbrown/teamdesk/pkg/mentions"
)

const (
	TableTasks    = "tasks"
	TableSubTasks = "sub_tasks"
)

// SubTask is a checklist item of a task.
type SubTask struct {
	ID        string `json:"id" yaml:"id"`
	Text      string `json:"text" yaml:"text"`
	Completed bool   `json:"completed" yaml:"completed"`
}

// Task is a to-do list entry.
type Task struct {
	ID         string     `json:"id" yaml:"id"`
	Title      string     `json:"title" yaml:"title"`
	AssignedTo Person     `json:"assigned_to" yaml:"assigned_to"`
	CreatedBy  string     `json:"created_by,omitempty" yaml:"created_by,omitempty"`
	DueDate    *time.Time `json:"due_date,omitempty" yaml:"due_date,omitempty"`
	Priority   Priority   `json:"priority" yaml:"priority"`
	Tags       []string   `json:"tags" yaml:"tags"`
	Category   string     `json:"category" yaml:"category"`
	SubTasks   []SubTask  `json:"sub_tasks" yaml:"sub_tasks"`
	Completed  bool       `json:"completed" yaml:"completed"`
}

// NewTask is the input of Create.
type NewTask struct {
	Title      string     `validate:"required,max=500"`
	AssignedTo string     `validate:"omitempty"`
	DueDate    *time.Time `validate:"omitempty"`
	Priority   Priority   `validate:"omitempty,oneof=Alta Media Bassa"`
	Category   string     `validate:"omitempty,max=100"`
	Tags       []string   `validate:"omitempty,dive,required,max=50"`
}

// TaskUpdate is a partial update; nil fields are left alone.
type TaskUpdate struct {
	Title     *string    `validate:"omitempty,min=1,max=500"`
	Completed *bool      `validate:"omitempty"`
	Category  *string    `validate:"omitempty,max=100"`
	Tags      []string   `validate:"omitempty,dive,required,max=50"`
	DueDate   *time.Time `validate:"omitempty"`
	Priority  *Priority  `validate:"omitempty,oneof=Alta Media Bassa"`
}

func (u TaskUpdate) row() backend.Row {
	r := backend.Row{}
	if u.Title != nil {
		r["title"] = *u.Title
	}
	if u.Completed != nil {
		r["completed"] = *u.Completed
	}
	if u.Category != nil {
		r["category"] = *u.Category
	}
	if u.Tags != nil {
		r["tags"] = u.Tags
	}
	if u.DueDate != nil {
		r["due_date"] = u.DueDate.UTC()
	}
	if u.Priority != nil {
		r["priority"] = string(*u.Priority)
	}
	return r
}

// Tasks is the live to-do list. Task titles carry mentions.
type Tasks struct {
	*Collection[Task]
	env    *env
	logger logging.Logger
}

func newTasks(e *env) *Tasks {
	t := &Tasks{env: e, logger: e.component("tasks")}
	t.Collection = newCollection(e, "tasks", []string{TableTasks, TableSubTasks}, t.fetch)
	return t
}

func (t *Tasks) fetch(ctx context.Context) ([]Task, error) {
	rows, err := t.env.tables.Select(ctx, TableTasks, backend.Query{}.OrderBy("created_at", false))
	if err != nil {
		return nil, err
	}
	srows, err := t.env.tables.Select(ctx, TableSubTasks, backend.Query{}.OrderBy("created_at", false))
	if err != nil {
		return nil, err
	}
	subs := map[string][]SubTask{}
	for _, r := range srows {
		tid := r.String("task_id")
		subs[tid] = append(subs[tid], SubTask{ID: r.String("id"), Text: r.String("text"), Completed: r.Bool("completed")})
	}
	out := make([]Task, 0, len(rows))
	for _, r := range rows {
		task := t.fromRow(r)
		task.SubTasks = nonNil(subs[task.ID])
		out = append(out, task)
	}
	return out, nil
}

func (t *Tasks) fromRow(r backend.Row) Task {
	tags := r.Strings("tags")
	if tags == nil {
		tags = []string{}
	}
	return Task{
		ID:         r.String("id"),
		Title:      r.String("title"),
		AssignedTo: t.env.person(r.String("assigned_to"), UnassignedName),
		CreatedBy:  r.String("created_by"),
		DueDate:    r.OptTime("due_date"),
		Priority:   priorityOr(r.String("priority"), PriorityMedium),
		Tags:       tags,
		Category:   stringOr(r.String("category"), DefaultCategory),
		SubTasks:   []SubTask{},
		Completed:  r.Bool("completed"),
	}
}

// Get returns a task from the snapshot.
func (t *Tasks) Get(id string) (Task, bool) {
	for _, task := range t.Items() {
		if task.ID == id {
			return task, true
		}
	}
	return Task{}, false
}

// Create stores a task and replaces its mention records from the title.
// A mention failure is returned alongside the stored task.
func (t *Tasks) Create(ctx context.Context, in NewTask) (Task, error) {
	if err := validateInput(in); err != nil {
		return Task{}, err
	}
	userID, err := t.env.currentUser(ctx)
	if err != nil {
		return Task{}, err
	}
	row := backend.Row{
		"title":      in.Title,
		"created_by": userID,
		"priority":   string(priorityOr(string(in.Priority), PriorityMedium)),
		"category":   stringOr(in.Category, DefaultCategory),
		"tags":       nonNil(in.Tags),
		"completed":  false,
	}
	if in.AssignedTo != "" {
		row["assigned_to"] = in.AssignedTo
	}
	if in.DueDate != nil {
		row["due_date"] = in.DueDate.UTC()
	}
	rows, err := t.env.tables.Insert(ctx, TableTasks, row)
	if err != nil {
		t.logger.Error("Error creating task", logging.Err(err))
		return Task{}, fmt.Errorf("creating task: %w", err)
	}
	task := t.fromRow(rows[0])
	t.Mutate(func(list []Task) []Task {
		return putFirst(list, task, func(t Task) string { return t.ID })
	})

	if _, err := t.env.mentions.Save(ctx, mentions.KindTask, task.ID, task.Title); err != nil {
		return task, fmt.Errorf("saving mentions for task %s: %w", task.ID, err)
	}
	return task, nil
}

// Update applies a partial update. A title change replaces the task's
// mention records.
func (t *Tasks) Update(ctx context.Context, id string, u TaskUpdate) error {
	if err := validateInput(u); err != nil {
		return err
	}
	values := u.row()
	if len(values) == 0 {
		return nil
	}
	rows, err := t.env.tables.Update(ctx, TableTasks, values, backend.Eq("id", id))
	if err != nil {
		t.logger.Error("Error updating task", logging.F("task_id", id), logging.Err(err))
		return fmt.Errorf("updating task %s: %w", id, err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("task %s: %w", id, tderrors.ErrNotFound)
	}

	updated := t.fromRow(rows[0])
	t.Mutate(func(list []Task) []Task {
		out := make([]Task, len(list))
		for i, task := range list {
			if task.ID == id {
				updated.SubTasks = task.SubTasks
				task = updated
			}
			out[i] = task
		}
		return out
	})

	if u.Title != nil {
		if _, err := t.env.mentions.Save(ctx, mentions.KindTask, id, *u.Title); err != nil {
			return fmt.Errorf("saving mentions for task %s: %w", id, err)
		}
	}
	return nil
}

// Complete marks a task done.
func (t *Tasks) Complete(ctx context.Context, id string) error {
	done := true
	return t.Update(ctx, id, TaskUpdate{Completed: &done})
}

// Delete removes a task together with its mention records.
func (t *Tasks) Delete(ctx context.Context, id string) error {
	if err := t.env.mentions.Store().Replace(ctx, mentions.KindTask, id, nil); err != nil {
		return fmt.Errorf("clearing mentions for task %s: %w", id, err)
	}
	if err := t.env.tables.Delete(ctx, TableSubTasks, backend.Eq("task_id", id)); err != nil {
		return fmt.Errorf("deleting sub-tasks of %s: %w", id, err)
	}
	if err := t.env.tables.Delete(ctx, TableTasks, backend.Eq("id", id)); err != nil {
		t.logger.Error("Error deleting task", logging.F("task_id", id), logging.Err(err))
		return fmt.Errorf("deleting task %s: %w", id, err)
	}
	t.Mutate(func(list []Task) []Task {
		out := make([]Task, 0, len(list))
		for _, task := range list {
			if task.ID != id {
				out = append(out, task)
			}
		}
		return out
	})
	return nil
}

// AddSubTask appends a checklist item to a task.
func (t *Tasks) AddSubTask(ctx context.Context, taskID, text string) (SubTask, error) {
	if taskID == "" || text == "" {
		return SubTask{}, fmt.Errorf("task id and text are required: %w", tderrors.ErrValidation)
	}
	rows, err := t.env.tables.Insert(ctx, TableSubTasks, backend.Row{"task_id": taskID, "text": text, "completed": false})
	if err != nil {
		return SubTask{}, fmt.Errorf("adding sub-task to %s: %w", taskID, err)
	}
	r := rows[0]
	return SubTask{ID: r.String("id"), Text: r.String("text"), Completed: r.Bool("completed")}, nil
}

// ToggleSubTask flips a sub-task's completed flag and returns the new value.
func (t *Tasks) ToggleSubTask(ctx context.Context, subTaskID string) (bool, error) {
	rows, err := t.env.tables.Select(ctx, TableSubTasks, backend.Query{
		Columns: []string{"id", "completed"},
		Filters: []backend.Filter{backend.Eq("id", subTaskID)},
		Limit:   1,
	})
	if err != nil {
		return false, fmt.Errorf("loading sub-task %s: %w", subTaskID, err)
	}
	if len(rows) == 0 {
		return false, fmt.Errorf("sub-task %s: %w", subTaskID, tderrors.ErrNotFound)
	}
	next := !rows[0].Bool("completed")
	if _, err := t.env.tables.Update(ctx, TableSubTasks, backend.Row{"completed": next}, backend.Eq("id", subTaskID)); err != nil {
		return false, fmt.Errorf("toggling sub-task %s: %w", subTaskID, err)
	}
	return next, nil
}

package routine

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// Handler - тело фоновой задачи; должен вернуться после отмены ctx
type Handler func(ctx context.Context) error

var (
	ErrEmptyID         = errors.New("routine: empty id")
	ErrNilHandler      = errors.New("routine: nil handler")
	ErrRoutineExists   = errors.New("routine: routine already running")
	ErrRoutineNotFound = errors.New("routine: routine not found")
)

// Task - задача с lifecycle хуками
type Task struct {
	ID      string
	Handler Handler

	OnStart func(id string)
	OnDone  func(id string)
	OnError func(id string, err error)

	cancel context.CancelFunc
	done   chan struct{}
}

// Manager запускает именованные задачи (пуллеры пользователей, cron джобы)
// и гарантирует не больше одной задачи на ID.
type Manager struct {
	baseCtx context.Context
	mu      sync.RWMutex
	tasks   map[string]*Task
}

// NewManager создаёт менеджер; все задачи отменяются вместе с ctx
func NewManager(ctx context.Context) *Manager {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Manager{
		baseCtx: ctx,
		tasks:   make(map[string]*Task),
	}
}

// Run запускает задачу без хуков
func (m *Manager) Run(id string, handler Handler) error {
	return m.RunTask(&Task{ID: id, Handler: handler})
}

// RunTask запускает задачу и регистрирует её
func (m *Manager) RunTask(task *Task) error {
	if task == nil || task.Handler == nil {
		return ErrNilHandler
	}
	if task.ID == "" {
		return ErrEmptyID
	}

	m.mu.Lock()
	if _, exists := m.tasks[task.ID]; exists {
		m.mu.Unlock()
		return ErrRoutineExists
	}

	ctx, cancel := context.WithCancel(m.baseCtx)
	task.cancel = cancel
	task.done = make(chan struct{})
	m.tasks[task.ID] = task
	m.mu.Unlock()

	go m.run(ctx, task)
	return nil
}

// Running проверяет, работает ли задача
func (m *Manager) Running(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.tasks[id]
	return ok
}

// IDs возвращает отсортированный список работающих задач
func (m *Manager) IDs() []string {
	m.mu.RLock()
	ids := make([]string, 0, len(m.tasks))
	for id := range m.tasks {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Shutdown отменяет задачу и ждёт её завершения
func (m *Manager) Shutdown(id string) error {
	if id == "" {
		return ErrEmptyID
	}

	m.mu.RLock()
	task, ok := m.tasks[id]
	m.mu.RUnlock()
	if !ok {
		return ErrRoutineNotFound
	}

	task.cancel()
	<-task.done
	return nil
}

// ShutdownAll отменяет все задачи и ждёт их завершения
func (m *Manager) ShutdownAll() {
	m.mu.RLock()
	tasks := make([]*Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		tasks = append(tasks, t)
	}
	m.mu.RUnlock()

	for _, t := range tasks {
		t.cancel()
	}
	for _, t := range tasks {
		<-t.done
	}
}

func (m *Manager) run(ctx context.Context, task *Task) {
	defer func() {
		m.cleanup(task)
		close(task.done)
		if task.OnDone != nil {
			task.OnDone(task.ID)
		}
	}()

	if task.OnStart != nil {
		task.OnStart(task.ID)
	}
	if err := task.Handler(ctx); err != nil && task.OnError != nil {
		task.OnError(task.ID, err)
	}
}

func (m *Manager) cleanup(task *Task) {
	m.mu.Lock()
	if current, ok := m.tasks[task.ID]; ok && current == task {
		delete(m.tasks, task.ID)
	}
	m.mu.Unlock()
}

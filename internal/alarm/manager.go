package alarm

import (
	"sort"
	"sync"

	"riskwatch/internal/models"
)

// Manager - реестр плееров по пользователям
type Manager struct {
	factory  SessionFactory
	cfg      Config
	listener Listener

	mu      sync.Mutex
	players map[string]*Player
}

// NewManager создаёт реестр. listener получает изменения всех плееров.
func NewManager(factory SessionFactory, cfg Config, listener Listener) *Manager {
	return &Manager{
		factory:  factory,
		cfg:      cfg,
		listener: listener,
		players:  make(map[string]*Player),
	}
}

// Get возвращает плеер пользователя, создавая его при первом обращении
func (m *Manager) Get(userID string) *Player {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.players[userID]
	if !ok {
		p = NewPlayer(userID, m.factory, m.cfg, m.listener)
		m.players[userID] = p
	}
	return p
}

func (m *Manager) Trigger(userID string, alertType models.AlertType, siren models.SirenType) bool {
	return m.Get(userID).Trigger(alertType, siren)
}

func (m *Manager) Stop(userID string) bool {
	p := m.lookup(userID)
	if p == nil {
		return false
	}
	return p.Stop()
}

func (m *Manager) Clear(userID string, types ...models.AlertType) bool {
	p := m.lookup(userID)
	if p == nil {
		return false
	}
	return p.Clear(types...)
}

// Status возвращает состояние сирены; для неизвестного пользователя - idle
func (m *Manager) Status(userID string) Status {
	p := m.lookup(userID)
	if p == nil {
		return Status{UserID: userID, State: StateIdle, Info: StateInfo(StateIdle)}
	}
	return p.Status()
}

// Active возвращает звучащие или поднятые тревоги, отсортированные по пользователю
func (m *Manager) Active() []Status {
	m.mu.Lock()
	players := make([]*Player, 0, len(m.players))
	for _, p := range m.players {
		players = append(players, p)
	}
	m.mu.Unlock()

	var active []Status
	for _, p := range players {
		if s := p.Status(); IsActive(s.State) {
			active = append(active, s)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].UserID < active[j].UserID })
	return active
}

// CloseAll останавливает все сирены (shutdown)
func (m *Manager) CloseAll() {
	m.mu.Lock()
	players := m.players
	m.players = make(map[string]*Player)
	m.mu.Unlock()

	for _, p := range players {
		p.Close()
	}
}

func (m *Manager) lookup(userID string) *Player {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.players[userID]
}

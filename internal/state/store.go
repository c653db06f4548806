// Package state хранит по каждому домену три слоя (override, persisted, remote)
// и сводит их в одно значение для показа.
package state

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/xela07ax/medsync-dashboard/internal/domain"
	"github.com/xela07ax/medsync-dashboard/internal/metrics"
	"github.com/xela07ax/medsync-dashboard/internal/persistence"
	"go.uber.org/zap"
)

// Store — единственное место, где меняются слои. Безопасен для конкурентного доступа.
type Store struct {
	mu     sync.RWMutex
	layers map[domain.Domain]*Layers

	gateway persistence.Gateway
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewStore(gateway persistence.Gateway, logger *zap.Logger, m *metrics.Metrics) *Store {
	return &Store{
		layers:  make(map[domain.Domain]*Layers),
		gateway: gateway,
		logger:  logger.Named("state"),
		metrics: m,
	}
}

// entry возвращает слои домена, создавая их при необходимости. Вызывать под s.mu.
func (s *Store) entry(d domain.Domain) *Layers {
	l, ok := s.layers[d]
	if !ok {
		l = &Layers{}
		s.layers[d] = l
	}
	return l
}

// SetOverride заменяет override домена целиком (без слияния с прежним).
func (s *Store) SetOverride(d domain.Domain, payload domain.Payload, at time.Time) {
	if !s.accepts(d, payload) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry(d).Override = &domain.Override{Domain: d, Payload: payload, SetAt: at}
}

func (s *Store) ClearOverride(d domain.Domain) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.layers[d]; ok {
		l.Override = nil
	}
}

// SetRemote фиксирует результат загрузки. При FetchError прежний payload
// сохраняется: меняются только статус, время попытки и текст ошибки.
func (s *Store) SetRemote(d domain.Domain, payload domain.Payload, status domain.FetchStatus, at time.Time, fetchErr error) {
	if status == domain.FetchOK && !s.accepts(d, payload) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.entry(d)
	snap := domain.RemoteSnapshot{Domain: d}
	if l.Remote != nil {
		snap = *l.Remote
	}
	snap.AttemptedAt = at
	snap.Status = status

	if status == domain.FetchOK {
		snap.Payload = payload
		snap.FetchedAt = at
		snap.LastError = ""
	} else if fetchErr != nil {
		snap.LastError = fetchErr.Error()
	}

	l.Remote = &snap
}

// ReloadPersisted перечитывает запись домена из хранилища (при старте и после Save).
func (s *Store) ReloadPersisted(ctx context.Context, d domain.Domain) bool {
	rec, ok := s.gateway.Load(ctx, d)

	s.mu.Lock()
	defer s.mu.Unlock()
	if ok {
		s.entry(d).Persisted = &rec
	} else if l, exists := s.layers[d]; exists {
		l.Persisted = nil
	}
	return ok
}

// ForgetPersisted сбрасывает persisted-слой всех доменов (после очистки хранилища).
func (s *Store) ForgetPersisted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.layers {
		l.Persisted = nil
	}
}

// Layers возвращает копию слоев домена.
func (s *Store) Layers(d domain.Domain) Layers {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.layers[d]
	if !ok {
		return Layers{}
	}
	return *l
}

// Domains — все домены, о которых store что-либо знает, плюс статические.
func (s *Store) Domains() []domain.Domain {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := domain.Static()
	for d := range s.layers {
		if !slices.Contains(out, d) {
			out = append(out, d)
		}
	}
	slices.SortFunc(out[len(domain.Static()):], func(a, b domain.Domain) int {
		return cmp.Compare(a.Key(), b.Key())
	})
	return out
}

// Resolve сводит текущие слои домена на момент now.
func (s *Store) Resolve(d domain.Domain, now time.Time) domain.EffectiveValue {
	ev := Resolve(d, s.Layers(d), now)
	s.metrics.ResolutionsTotal.WithLabelValues(string(d.Kind), string(ev.Source)).Inc()
	return ev
}

func (s *Store) accepts(d domain.Domain, payload domain.Payload) bool {
	if payload == nil || payload.Kind() != d.Kind {
		s.logger.Warn("payload kind does not match domain, ignored", zap.Stringer("domain", d))
		return false
	}
	return true
}

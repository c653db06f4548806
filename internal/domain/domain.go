package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownDomain — ключ не соответствует ни одному домену дашборда.
var ErrUnknownDomain = errors.New("unknown data domain")

// Kind — вид метрики дашборда.
type Kind string

const (
	KindOverview          Kind = "overview"
	KindClientPerformance Kind = "client-performance"
	KindAgentStatus       Kind = "agent-status"
	KindLastUpdate        Kind = "last-update"
	KindAlerts            Kind = "alerts"
	KindClientSync        Kind = "client-sync" // параметризован ID клиента
)

// Kinds — все виды доменов.
func Kinds() []Kind {
	return []Kind{KindOverview, KindClientPerformance, KindAgentStatus, KindLastUpdate, KindAlerts, KindClientSync}
}

// Domain — независимо обновляемая и независимо сохраняемая единица состояния
// дашборда. Сравнимый тип: используется как ключ map.
type Domain struct {
	Kind     Kind
	ClientID string // только для KindClientSync
}

var (
	Overview          = Domain{Kind: KindOverview}
	ClientPerformance = Domain{Kind: KindClientPerformance}
	AgentStatus       = Domain{Kind: KindAgentStatus}
	LastUpdate        = Domain{Kind: KindLastUpdate}
	Alerts            = Domain{Kind: KindAlerts}
)

// ClientSync — время синхронизации конкретного клиента клиники.
func ClientSync(clientID string) Domain {
	return Domain{Kind: KindClientSync, ClientID: clientID}
}

// Static возвращает все непараметризованные домены.
func Static() []Domain {
	return []Domain{Overview, ClientPerformance, AgentStatus, LastUpdate, Alerts}
}

// Key — логический ключ домена в долговременном хранилище: "agent-status", "client-sync:42".
func (d Domain) Key() string {
	if d.Kind == KindClientSync {
		return string(KindClientSync) + ":" + d.ClientID
	}
	return string(d.Kind)
}

func (d Domain) String() string { return d.Key() }

func (d Domain) MarshalText() ([]byte, error) {
	return []byte(d.Key()), nil
}

func (d *Domain) UnmarshalText(text []byte) error {
	parsed, err := ParseDomain(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDomain обратна Key.
func ParseDomain(key string) (Domain, error) {
	if id, ok := strings.CutPrefix(key, string(KindClientSync)+":"); ok {
		if id == "" {
			return Domain{}, fmt.Errorf("%w: %q has empty client id", ErrUnknownDomain, key)
		}
		return ClientSync(id), nil
	}

	for _, d := range Static() {
		if d.Key() == key {
			return d, nil
		}
	}
	return Domain{}, fmt.Errorf("%w: %q", ErrUnknownDomain, key)
}

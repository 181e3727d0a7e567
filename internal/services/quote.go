package services

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/rainbowbismuth/euphoria-go/internal/agent"
	"github.com/rainbowbismuth/euphoria-go/internal/bot"
	"github.com/rainbowbismuth/euphoria-go/internal/data"
)

// QuoteStore persists key/value quotes. The core's Non-goals forbid the
// core itself from persisting messages, but say nothing about a service's
// own scratch state — an in-memory store is the default; a caller wanting
// durability supplies its own implementation (e.g. file-backed) in place
// of NewMemoryQuoteStore.
type QuoteStore interface {
	Set(key, value string) error
	Get(key string) (string, bool, error)
	Delete(key string) error
	Find(substr string) ([]string, error)
}

type memoryQuoteStore struct {
	mu   sync.Mutex
	data map[string]string
}

// NewMemoryQuoteStore returns a QuoteStore backed by a plain in-process map.
func NewMemoryQuoteStore() QuoteStore {
	return &memoryQuoteStore{data: make(map[string]string)}
}

func (s *memoryQuoteStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *memoryQuoteStore) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *memoryQuoteStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *memoryQuoteStore) Find(substr string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matches []string
	for k, v := range s.data {
		if strings.Contains(k, substr) || strings.Contains(v, substr) {
			matches = append(matches, fmt.Sprintf("%s: %s", k, v))
			if len(matches) >= 5 {
				break
			}
		}
	}
	return matches, nil
}

var (
	quoteSetRe    = regexp.MustCompile(`^!quote\s+set\s+(\S+)\s+(.+)$`)
	quoteGetRe    = regexp.MustCompile(`^!quote\s+get\s+(\S+)$`)
	quoteDeleteRe = regexp.MustCompile(`^!quote\s+delete\s+(\S+)$`)
	quoteFindRe   = regexp.MustCompile(`^!quote\s+find\s+(.+)$`)
)

// Quote implements "!quote set/get/delete/find" against a QuoteStore.
func Quote(store QuoteStore) bot.ServiceFactory {
	return func(logger *zap.Logger, host bot.Host, _ map[string]any) (*agent.Agent, error) {
		a := agent.New(logger)
		host.AddListener(a, func(pkt data.Packet) {
			a.Cast(func() { onQuotePacket(host, store, pkt) })
		})
		return a, nil
	}
}

func onQuotePacket(host bot.Host, store QuoteStore, pkt data.Packet) {
	if pkt.Type != data.TypeSendEvent {
		return
	}
	payload, err := pkt.Payload()
	if err != nil {
		return
	}
	msg, ok := payload.(data.Message)
	if !ok {
		return
	}
	content := strings.TrimSpace(msg.Content)

	switch {
	case quoteSetRe.MatchString(content):
		m := quoteSetRe.FindStringSubmatch(content)
		if err := store.Set(m[1], m[2]); err != nil {
			host.SendContent(fmt.Sprintf("could not set quote: %s", err), msg.ID)
			return
		}
		host.SendContent(fmt.Sprintf("set %q", m[1]), msg.ID)
	case quoteGetRe.MatchString(content):
		m := quoteGetRe.FindStringSubmatch(content)
		value, found, err := store.Get(m[1])
		if err != nil {
			host.SendContent(fmt.Sprintf("could not get quote: %s", err), msg.ID)
			return
		}
		if !found {
			host.SendContent(fmt.Sprintf("no quote for %q", m[1]), msg.ID)
			return
		}
		host.SendContent(value, msg.ID)
	case quoteDeleteRe.MatchString(content):
		m := quoteDeleteRe.FindStringSubmatch(content)
		if err := store.Delete(m[1]); err != nil {
			host.SendContent(fmt.Sprintf("could not delete quote: %s", err), msg.ID)
			return
		}
		host.SendContent(fmt.Sprintf("deleted %q", m[1]), msg.ID)
	case quoteFindRe.MatchString(content):
		m := quoteFindRe.FindStringSubmatch(content)
		matches, err := store.Find(m[1])
		if err != nil {
			host.SendContent(fmt.Sprintf("could not search quotes: %s", err), msg.ID)
			return
		}
		if len(matches) == 0 {
			host.SendContent("no matches", msg.ID)
			return
		}
		host.SendContent(strings.Join(matches, "\n"), msg.ID)
	}
}

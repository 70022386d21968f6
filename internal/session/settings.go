package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/wagate/wagate/internal/store"
)

// LoadSettings refreshes the cached settings and auto-reply rules. On error
// the previous cache is kept.
func (m *Manager) LoadSettings(ctx context.Context) error {
	if m.settings == nil {
		return nil
	}
	settings, err := m.settings.Settings(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	rules, err := m.settings.ListAutoReplies(ctx)
	if err != nil {
		return fmt.Errorf("load auto-replies: %w", err)
	}

	m.settingsMu.Lock()
	m.appSettings = settings
	m.rules = rules
	m.settingsMu.Unlock()

	slog.Info("session: settings loaded", "settings", len(settings), "auto_replies", len(rules))
	return nil
}

// settingEnabled treats every value other than "false" as enabled.
func (m *Manager) settingEnabled(key string) bool {
	m.settingsMu.RLock()
	defer m.settingsMu.RUnlock()
	return m.appSettings[key] != "false"
}

func (m *Manager) autoReplies() []store.AutoReply {
	m.settingsMu.RLock()
	defer m.settingsMu.RUnlock()
	return m.rules
}

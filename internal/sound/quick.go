package sound

import (
	"fmt"
	"strings"

	"github.com/rampart-project/rampart/internal/db"
	"github.com/rampart-project/rampart/internal/protocol"
)

type quickResult struct {
	slot  uint8
	guid  string
	alias *db.SoundAlias
	err   error
}

// QuickLookup starts resolving a prefixed chat line against the caller's
// aliases. When the line cannot match, or a lookup is already outstanding
// for the slot, the not-found notice is returned at once. Otherwise the
// answer arrives from a later Poll.
func (m *Manager) QuickLookup(slot uint8, guid, text string) *Notice {
	notFound := &Notice{Kind: NoticeQuickNotFound, Slot: slot, GUID: guid}

	alias, ok := m.quickAlias(text)
	if !ok || m.deps.Aliases == nil || int(slot) >= protocol.MaxPlayers {
		return notFound
	}

	m.mu.Lock()
	if m.quickPending[slot] {
		m.mu.Unlock()
		return notFound
	}
	m.quickPending[slot] = true
	m.mu.Unlock()

	go func() {
		ctx, cancel := m.queryContext()
		defer cancel()
		a, err := m.deps.Aliases.SoundAlias(ctx, guid, alias)
		m.quickResults <- quickResult{slot: slot, guid: guid, alias: a, err: err}
	}()
	return nil
}

// quickAlias extracts the alias from a chat line such as "@hello there".
func (m *Manager) quickAlias(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if text == "" || !strings.ContainsRune(m.cfg.QuickPrefixes, rune(text[0])) {
		return "", false
	}
	word := strings.Fields(text[1:])
	if len(word) == 0 {
		return "", false
	}
	alias, err := ValidateName(word[0])
	if err != nil {
		return "", false
	}
	return alias, true
}

// collectQuick turns finished lookups into notices without blocking.
func (m *Manager) collectQuick() {
	for {
		select {
		case r := <-m.quickResults:
			m.quickPending[r.slot] = false
			m.outbox = append(m.outbox, m.quickNotice(r))
		default:
			return
		}
	}
}

func (m *Manager) quickNotice(r quickResult) Notice {
	n := Notice{Kind: NoticeQuickNotFound, Slot: r.slot, GUID: r.guid}
	if r.err != nil {
		m.logger.Debug().Err(r.err).Msg("quick lookup failed")
		return n
	}
	if r.alias == nil || !m.catalog.Exists(r.guid, r.alias.Sound) {
		return n
	}
	n.Kind = NoticeQuickFound
	n.Clip = r.alias.Sound
	n.Text = r.alias.Text
	return n
}

// Bind maps alias to one of the caller's clips, with optional chat text
// sent in place of the typed line.
func (m *Manager) Bind(guid, alias, name, text string) (string, error) {
	alias, err := ValidateName(alias)
	if err != nil {
		return "", err
	}
	name, err = ValidateName(name)
	if err != nil {
		return "", err
	}
	if !m.catalog.Exists(guid, name) {
		return "", newError(ErrNotFound, "You have no sound called '%s'", name)
	}
	if m.deps.Aliases == nil {
		return "", newError(ErrNotFound, "Quick commands are unavailable")
	}

	ctx, cancel := m.queryContext()
	defer cancel()
	if err := m.deps.Aliases.SetSoundAlias(ctx, db.SoundAlias{GUID: guid, Alias: alias, Sound: name, Text: text}); err != nil {
		m.logger.Warn().Err(err).Msg("failed to store sound alias")
		return "", newError(ErrNotFound, "Quick commands are unavailable")
	}

	prefix := ""
	if m.cfg.QuickPrefixes != "" {
		prefix = m.cfg.QuickPrefixes[:1]
	}
	return fmt.Sprintf("Bound %s%s to '%s'", prefix, alias, name), nil
}

// Unbind removes an alias.
func (m *Manager) Unbind(guid, alias string) (string, error) {
	alias, err := ValidateName(alias)
	if err != nil {
		return "", err
	}
	if m.deps.Aliases == nil {
		return "", newError(ErrNotFound, "Quick commands are unavailable")
	}

	ctx, cancel := m.queryContext()
	defer cancel()
	removed, err := m.deps.Aliases.DeleteSoundAlias(ctx, guid, alias)
	if err != nil {
		m.logger.Warn().Err(err).Msg("failed to delete sound alias")
		return "", newError(ErrNotFound, "Quick commands are unavailable")
	}
	if !removed {
		return "", newError(ErrNotFound, "No quick command called '%s'", alias)
	}
	return fmt.Sprintf("Removed '%s'", alias), nil
}

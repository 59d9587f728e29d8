package sound

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ShareStatus is the state of a share offer.
type ShareStatus int

const (
	SharePending ShareStatus = iota
	ShareAccepted
	ShareRejected
)

// Share is a pending offer of one clip from one player to another.
type Share struct {
	ID            string
	SenderSlot    uint8
	SenderGUID    string
	SenderName    string
	RecipientSlot uint8
	RecipientGUID string
	Clip          string
	Alias         string
	Status        ShareStatus
	Created       time.Time
}

// Share offers one of the sender's clips to the player in target. The
// recipient may hold one pending offer at a time.
func (m *Manager) Share(slot uint8, guid string, target uint8, name string, now time.Time) (string, error) {
	name, err := ValidateName(name)
	if err != nil {
		return "", err
	}
	if !m.catalog.Exists(guid, name) {
		return "", newError(ErrNotFound, "You have no sound called '%s'", name)
	}

	recipient, ok := m.deps.Players.Get(target)
	if !ok {
		return "", newError(ErrNotFound, "No player in slot %d", target)
	}
	if recipient.GUID == guid {
		return "", newError(ErrValidation, "You cannot share a sound with yourself")
	}
	sender, _ := m.deps.Players.Get(slot)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.expireShares(now)
	if m.pendingShareFor(recipient.GUID) != nil {
		return "", newError(ErrQuotaExceeded, "%s already has a pending share", recipient.Name)
	}

	sh := &Share{
		ID:            uuid.NewString(),
		SenderSlot:    slot,
		SenderGUID:    guid,
		SenderName:    sender.Name,
		RecipientSlot: recipient.Slot,
		RecipientGUID: recipient.GUID,
		Clip:          name,
		Alias:         name,
		Status:        SharePending,
		Created:       now,
	}
	m.shares = append(m.shares, sh)

	m.notify(NoticeSuccess, recipient.Slot, recipient.GUID,
		fmt.Sprintf("%s^7 wants to share '%s' with you. Accept within %ds", sender.Name, name, int(m.cfg.ShareTTL.Seconds())))
	m.logger.Debug().Str("id", sh.ID).Str("clip", name).Str("to", recipient.GUID).Msg("share offered")

	return fmt.Sprintf("Offered '%s' to %s", name, recipient.Name), nil
}

// Accept copies the offered clip into the recipient's library under alias,
// or under the clip's own name when alias is empty.
func (m *Manager) Accept(slot uint8, guid, alias string, now time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.expireShares(now)
	sh := m.pendingShareFor(guid)
	if sh == nil {
		return "", newError(ErrNotFound, "You have no pending share")
	}

	if alias == "" {
		alias = sh.Alias
	}
	alias, err := ValidateName(alias)
	if err != nil {
		return "", err
	}

	count, err := m.catalog.Count(guid)
	if err != nil {
		return "", m.internal(err)
	}
	if count+m.inFlightCount(guid) >= m.cfg.MaxClips {
		return "", newError(ErrQuotaExceeded, "You already have the maximum of %d sounds", m.cfg.MaxClips)
	}
	if m.catalog.Exists(guid, alias) || m.inFlight(guid, alias) {
		return "", newError(ErrValidation, "You already have a sound called '%s', accept with another name", alias)
	}

	if err := m.catalog.Copy(sh.SenderGUID, sh.Clip, guid, alias); err != nil {
		m.removeShare(sh)
		return "", m.internal(err)
	}

	sh.Status = ShareAccepted
	m.removeShare(sh)
	m.notify(NoticeSuccess, sh.SenderSlot, sh.SenderGUID, fmt.Sprintf("Your share of '%s' was accepted", sh.Clip))
	return fmt.Sprintf("Added '%s' to your sounds", alias), nil
}

// Reject declines the pending offer.
func (m *Manager) Reject(slot uint8, guid string, now time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.expireShares(now)
	sh := m.pendingShareFor(guid)
	if sh == nil {
		return "", newError(ErrNotFound, "You have no pending share")
	}

	sh.Status = ShareRejected
	m.removeShare(sh)
	m.notify(NoticeError, sh.SenderSlot, sh.SenderGUID, fmt.Sprintf("Your share of '%s' was declined", sh.Clip))
	return fmt.Sprintf("Declined '%s'", sh.Clip), nil
}

func (m *Manager) pendingShareFor(recipient string) *Share {
	for _, sh := range m.shares {
		if sh.RecipientGUID == recipient && sh.Status == SharePending {
			return sh
		}
	}
	return nil
}

func (m *Manager) removeShare(target *Share) {
	for i, sh := range m.shares {
		if sh == target {
			m.shares = append(m.shares[:i], m.shares[i+1:]...)
			return
		}
	}
}

// expireShares drops offers older than the TTL and tells both sides.
func (m *Manager) expireShares(now time.Time) {
	if m.cfg.ShareTTL <= 0 {
		return
	}
	kept := m.shares[:0]
	for _, sh := range m.shares {
		if now.Sub(sh.Created) < m.cfg.ShareTTL {
			kept = append(kept, sh)
			continue
		}
		m.notify(NoticeError, sh.SenderSlot, sh.SenderGUID, fmt.Sprintf("Your share of '%s' expired", sh.Clip))
		m.notify(NoticeError, sh.RecipientSlot, sh.RecipientGUID, fmt.Sprintf("The offer of '%s' expired", sh.Clip))
	}
	for i := len(kept); i < len(m.shares); i++ {
		m.shares[i] = nil
	}
	m.shares = kept
}

package secondfactor

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/opencivics/simple-mandate/pkg/journal"
)

// Repository persists TOTP cards. Pairing mutations run through InTx, which
// hands the callback a repository view holding the card rows locked for the
// duration of the callback, plus a journal sink bound to the same unit of
// work (nil when the implementation has no transactional journal binding).
type Repository interface {
	GetCard(ctx context.Context, serialNumber string) (Card, error)
	// GetCardForUpdate reads a card and, inside InTx, keeps its row locked
	// until the transaction ends. Outside a transaction it reads like GetCard.
	GetCardForUpdate(ctx context.Context, serialNumber string) (Card, error)
	GetConfirmedCardByHelper(ctx context.Context, helperID uuid.UUID) (Card, error)
	GetCardByHelper(ctx context.Context, helperID uuid.UUID) (Card, error)
	CreateCard(ctx context.Context, card Card) error
	UpdateCard(ctx context.Context, card Card) error
	InTx(ctx context.Context, fn func(r Repository, sink journal.Repository) error) error
}

// InMemoryRepository implements Repository with a mutex-guarded map. InTx
// holds the mutex for the whole callback, which gives the same effect as
// row-level locking: two concurrent attempts to pair one card resolve to
// exactly one winner.
type InMemoryRepository struct {
	mutex sync.RWMutex
	cards map[string]Card
}

// NewInMemoryRepository creates a new in-memory card repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{cards: make(map[string]Card)}
}

func (r *InMemoryRepository) getCardLocked(serialNumber string) (Card, error) {
	card, ok := r.cards[serialNumber]
	if !ok {
		return Card{}, ErrCardNotFound{SerialNumber: serialNumber}
	}
	return card, nil
}

func (r *InMemoryRepository) getConfirmedByHelperLocked(helperID uuid.UUID) (Card, error) {
	for _, card := range r.cards {
		if card.HelperID != nil && *card.HelperID == helperID && card.State == StateConfirmed {
			return card, nil
		}
	}
	return Card{}, ErrCardNotFound{SerialNumber: "confirmed card for helper " + helperID.String()}
}

func (r *InMemoryRepository) getByHelperLocked(helperID uuid.UUID) (Card, error) {
	for _, card := range r.cards {
		if card.HelperID != nil && *card.HelperID == helperID {
			return card, nil
		}
	}
	return Card{}, ErrCardNotFound{SerialNumber: "card for helper " + helperID.String()}
}

func (r *InMemoryRepository) createCardLocked(card Card) error {
	if _, exists := r.cards[card.SerialNumber]; exists {
		return ErrCardConflict{SerialNumber: card.SerialNumber, Detail: "serial number already imported"}
	}
	r.cards[card.SerialNumber] = card
	return nil
}

func (r *InMemoryRepository) updateCardLocked(card Card) error {
	if _, exists := r.cards[card.SerialNumber]; !exists {
		return ErrCardNotFound{SerialNumber: card.SerialNumber}
	}
	r.cards[card.SerialNumber] = card
	return nil
}

// GetCard returns the card with the given serial number.
func (r *InMemoryRepository) GetCard(ctx context.Context, serialNumber string) (Card, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.getCardLocked(serialNumber)
}

// GetCardForUpdate reads like GetCard; locking happens through InTx.
func (r *InMemoryRepository) GetCardForUpdate(ctx context.Context, serialNumber string) (Card, error) {
	return r.GetCard(ctx, serialNumber)
}

// GetConfirmedCardByHelper returns the confirmed card paired with a helper.
func (r *InMemoryRepository) GetConfirmedCardByHelper(ctx context.Context, helperID uuid.UUID) (Card, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.getConfirmedByHelperLocked(helperID)
}

// GetCardByHelper returns any card paired with a helper, confirmed or not.
func (r *InMemoryRepository) GetCardByHelper(ctx context.Context, helperID uuid.UUID) (Card, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.getByHelperLocked(helperID)
}

// CreateCard stores a new card.
func (r *InMemoryRepository) CreateCard(ctx context.Context, card Card) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.createCardLocked(card)
}

// UpdateCard replaces the stored card.
func (r *InMemoryRepository) UpdateCard(ctx context.Context, card Card) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.updateCardLocked(card)
}

// InTx runs fn under the repository mutex. The sink is nil: in-memory
// journal writes go through the caller's default sink.
func (r *InMemoryRepository) InTx(ctx context.Context, fn func(r Repository, sink journal.Repository) error) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return fn(inMemoryTxView{repo: r}, nil)
}

// inMemoryTxView is the unlocked view handed to InTx callbacks while the
// repository mutex is held.
type inMemoryTxView struct {
	repo *InMemoryRepository
}

func (v inMemoryTxView) GetCard(ctx context.Context, serialNumber string) (Card, error) {
	return v.repo.getCardLocked(serialNumber)
}

func (v inMemoryTxView) GetCardForUpdate(ctx context.Context, serialNumber string) (Card, error) {
	return v.repo.getCardLocked(serialNumber)
}

func (v inMemoryTxView) GetConfirmedCardByHelper(ctx context.Context, helperID uuid.UUID) (Card, error) {
	return v.repo.getConfirmedByHelperLocked(helperID)
}

func (v inMemoryTxView) GetCardByHelper(ctx context.Context, helperID uuid.UUID) (Card, error) {
	return v.repo.getByHelperLocked(helperID)
}

func (v inMemoryTxView) CreateCard(ctx context.Context, card Card) error {
	return v.repo.createCardLocked(card)
}

func (v inMemoryTxView) UpdateCard(ctx context.Context, card Card) error {
	return v.repo.updateCardLocked(card)
}

func (v inMemoryTxView) InTx(ctx context.Context, fn func(r Repository, sink journal.Repository) error) error {
	return fn(v, nil)
}

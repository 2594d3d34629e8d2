// Package credential supplies the participant credential and signals when
// it changes.
package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tobyspark/ORBIT-Camera-sub000/internal/collector/models"
	"github.com/tobyspark/ORBIT-Camera-sub000/internal/collector/store"
	"github.com/tobyspark/ORBIT-Camera-sub000/internal/timex"
)

// Provider is a source of the Authorization header value. Current returns
// "" while no usable credential exists.
type Provider interface {
	Current(ctx context.Context) (string, error)
	Changes() <-chan struct{}
}

// ParticipantStore is the part of the object store holding the
// participant record.
type ParticipantStore interface {
	GetParticipant(ctx context.Context) (*models.Participant, error)
	SaveParticipant(ctx context.Context, p *models.Participant) error
	Observe(topic store.Topic) (<-chan struct{}, func())
}

// StoreProvider reads the credential from the participant record.
type StoreProvider struct {
	st      ParticipantStore
	clock   timex.Clock
	changes <-chan struct{}
	cancel  func()
}

// NewStoreProvider subscribes to participant changes. Close releases the
// subscription.
func NewStoreProvider(st ParticipantStore, clock timex.Clock) *StoreProvider {
	if clock == nil {
		clock = timex.SystemClock{}
	}
	ch, cancel := st.Observe(store.TopicParticipant)
	return &StoreProvider{st: st, clock: clock, changes: ch, cancel: cancel}
}

func (p *StoreProvider) Current(ctx context.Context) (string, error) {
	part, err := p.st.GetParticipant(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load participant: %w", err)
	}
	if part.Credential == "" || Expired(part.Credential, p.clock.Now()) {
		return "", nil
	}
	return part.Credential, nil
}

func (p *StoreProvider) Changes() <-chan struct{} { return p.changes }

// Authorize stores a new credential.
func (p *StoreProvider) Authorize(ctx context.Context, credential string) error {
	return p.st.SaveParticipant(ctx, &models.Participant{Credential: credential, UpdatedAt: time.Now().UTC()})
}

// Logout clears the stored credential.
func (p *StoreProvider) Logout(ctx context.Context) error {
	return p.Authorize(ctx, "")
}

func (p *StoreProvider) Close() { p.cancel() }

// Package testutil provides fixtures shared by package tests.
package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/HerbHall/apwatch/pkg/models"
)

// RawClient returns a raw adapter record for mac on wlan0. Override fields
// with the With* options.
func RawClient(mac string, opts ...func(models.RawRecord)) models.RawRecord {
	rec := models.RawRecord{
		models.FieldMAC:       mac,
		models.FieldInterface: "wlan0",
	}
	for _, opt := range opts {
		opt(rec)
	}
	return rec
}

// WithHostname sets the record hostname.
func WithHostname(name string) func(models.RawRecord) {
	return func(r models.RawRecord) { r[models.FieldHostname] = name }
}

// WithIP sets the record IP address.
func WithIP(ip string) func(models.RawRecord) {
	return func(r models.RawRecord) { r[models.FieldIP] = ip }
}

// WithSignal sets the record signal in dBm.
func WithSignal(dbm string) func(models.RawRecord) {
	return func(r models.RawRecord) { r[models.FieldSignal] = dbm }
}

// WithInterface sets the record interface.
func WithInterface(iface string) func(models.RawRecord) {
	return func(r models.RawRecord) { r[models.FieldInterface] = iface }
}

// NewMapping returns a confirmed identity created at a fixed time.
func NewMapping(scope, primary string, alternates ...string) models.IdentityMapping {
	if alternates == nil {
		alternates = []string{}
	}
	return models.IdentityMapping{
		PrimaryMAC:    primary,
		Scope:         scope,
		AlternateMACs: alternates,
		CreatedAt:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// FakeAdapter is a scripted source adapter. It is safe for concurrent use.
type FakeAdapter struct {
	mu      sync.Mutex
	records []models.RawRecord
	err     error
	hang    bool
	polls   int
	closed  bool
}

// NewFakeAdapter returns an adapter that reports recs on every poll.
func NewFakeAdapter(recs ...models.RawRecord) *FakeAdapter {
	return &FakeAdapter{records: recs}
}

// Set replaces the snapshot and error returned by later polls.
func (f *FakeAdapter) Set(err error, recs ...models.RawRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records, f.err = recs, err
}

// Hang makes later polls block until their context is done.
func (f *FakeAdapter) Hang(hang bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hang = hang
}

// Poll returns a copy of the current snapshot.
func (f *FakeAdapter) Poll(ctx context.Context) ([]models.RawRecord, error) {
	f.mu.Lock()
	f.polls++
	hang, err := f.hang, f.err
	out := make([]models.RawRecord, 0, len(f.records))
	for _, r := range f.records {
		c := make(models.RawRecord, len(r))
		for k, v := range r {
			c[k] = v
		}
		out = append(out, c)
	}
	f.mu.Unlock()

	if hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Polls returns how many times Poll was called.
func (f *FakeAdapter) Polls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

// Close records that the adapter was closed.
func (f *FakeAdapter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Closed reports whether Close was called.
func (f *FakeAdapter) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Package lists implements block/allow/watch list membership with pluggable
// backends. Contains is the hot path: the memory and file backends answer
// from a hash set; the postgres backend relies on an index. Conditions read
// lists through Snapshot, which returns the current members as a list value.
package lists

import (
	"context"
	"errors"

	"github.com/corintai/corint/internal/value"
)

// ErrUnknownList is returned for list ids no backend knows.
var ErrUnknownList = errors.New("unknown list")

// ErrReadOnly is returned by Add and Remove on backends without write
// support.
var ErrReadOnly = errors.New("list backend is read-only")

// Service is the list membership contract.
type Service interface {
	// Contains reports membership of a value in a list.
	Contains(ctx context.Context, listID string, v value.Value) (bool, error)

	// Add inserts a member.
	Add(ctx context.Context, listID string, v value.Value) error

	// Remove deletes a member.
	Remove(ctx context.Context, listID string, v value.Value) error

	// GetAll returns every member of a list.
	GetAll(ctx context.Context, listID string) ([]value.Value, error)

	Close() error
}

// Snapshotter is implemented by backends that can hand out the member set
// as one immutable list value without copying per read.
type Snapshotter interface {
	Snapshot(ctx context.Context, listID string) (value.Value, error)
}

// Provider adapts a Service to the expression runtime: `list.<id>`
// references resolve to the member snapshot, and unknown lists degrade to
// Null so conditions treat them like absent fields.
type Provider struct {
	service Service
}

// NewProvider wraps a Service for expression lookups.
func NewProvider(service Service) *Provider {
	return &Provider{service: service}
}

// List returns the current members of a list as a list value.
func (p *Provider) List(ctx context.Context, listID string) (value.Value, error) {
	if snap, ok := p.service.(Snapshotter); ok {
		return snap.Snapshot(ctx, listID)
	}
	members, err := p.service.GetAll(ctx, listID)
	if errors.Is(err, ErrUnknownList) {
		return value.Null(), nil
	}
	if err != nil {
		return value.Null(), err
	}
	return value.List(members...), nil
}

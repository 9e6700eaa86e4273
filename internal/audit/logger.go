package audit

import (
	"errors"
)

// ErrNilRepository is returned when a Log is constructed without a repository.
var ErrNilRepository = errors.New("audit repository cannot be nil")

// Log couples a Repository with an optional Broadcaster. Every append is
// persisted first and only then broadcast; a failed persist is returned to
// the caller (fail closed) and nothing is broadcast.
type Log struct {
	repo        Repository
	broadcaster *Broadcaster
}

// NewLog creates a Log over the given repository.
func NewLog(repo Repository) (*Log, error) {
	if repo == nil {
		return nil, ErrNilRepository
	}
	return &Log{repo: repo}, nil
}

// WithBroadcaster attaches a live-tail broadcaster.
func (l *Log) WithBroadcaster(b *Broadcaster) *Log {
	l.broadcaster = b
	return l
}

// Append durably writes the entry, then broadcasts it to any subscribers.
func (l *Log) Append(e Entry) (*Entry, error) {
	stored, err := l.repo.Append(e)
	if err != nil {
		return nil, err
	}
	if l.broadcaster != nil {
		l.broadcaster.Broadcast(stored)
	}
	return stored, nil
}

// Repository exposes the underlying repository for queries.
func (l *Log) Repository() Repository {
	return l.repo
}

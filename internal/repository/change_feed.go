package repository

import (
	"context"
	"time"
)

// Collections watched through the change feed.
const (
	CollectionSanctions = "sanctions"
	CollectionSessions  = "sessions"
	CollectionWarnings  = "warnings"
	CollectionRoles     = "roles"
)

// Change describes a mutation of a remote document.
type Change struct {
	Collection string    `json:"collection"`
	DocumentID string    `json:"document_id"`
	Op         string    `json:"op"`
	At         time.Time `json:"at"`
}

// Topic returns the topic a watcher of the document subscribes to.
func (c Change) Topic() string {
	return Topic(c.Collection, c.DocumentID)
}

// Topic builds the topic name for a document. An empty id addresses the
// whole collection.
func Topic(collection, documentID string) string {
	if documentID == "" {
		return collection
	}
	return collection + ":" + documentID
}

// ChangeFeed is the push half of the authoritative store.
type ChangeFeed interface {
	Publish(ctx context.Context, change Change) error
	// Watch invokes fn for every change published on topic until the
	// returned unsubscribe func is called.
	Watch(ctx context.Context, topic string, fn func(Change)) (func(), error)
}

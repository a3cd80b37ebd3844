package logging

import (
	"context"

	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// ContextKey defines the context key type.
type ContextKey string

// ContextIDKey holds the key of the context ID.
const ContextIDKey ContextKey = "ctx_id"

// NewContext returns a copy of the given context holding a new context ID.
// When the context already holds an ID, it is returned unchanged.
func NewContext(ctx context.Context) (context.Context, error) {
	if ctx.Value(ContextIDKey) != nil {
		return ctx, nil
	}

	ctxID, err := uuid.NewV4()
	if err != nil {
		return ctx, errors.Wrap(err, "new uuid error")
	}

	return context.WithValue(ctx, ContextIDKey, ctxID), nil
}

// FromContext returns a log entry with the ctx_id field set.
func FromContext(ctx context.Context) *log.Entry {
	return log.WithField("ctx_id", ctx.Value(ContextIDKey))
}

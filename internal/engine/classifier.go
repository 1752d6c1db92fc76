package engine

import (
	"context"

	"github.com/sokolink/sokolink/internal/models"
)

// FuncClassifier adapts plain functions to the EntryClassifier
// interface. Deployments wire their own user directory here.
type FuncClassifier struct {
	EntryFunc func(ctx context.Context, userKey string) models.FlowID
	KnownFunc func(ctx context.Context, userKey string) bool
}

// EntryFlow returns the flow a sessionless user enters.
func (c *FuncClassifier) EntryFlow(ctx context.Context, userKey string) models.FlowID {
	return c.EntryFunc(ctx, userKey)
}

// Known reports whether the user is registered.
func (c *FuncClassifier) Known(ctx context.Context, userKey string) bool {
	return c.KnownFunc(ctx, userKey)
}

// NewDefaultClassifier returns a classifier that sends known users to
// the main menu and unknown users to registration, using the provided
// directory function. A nil directory treats every user as known.
func NewDefaultClassifier(known func(ctx context.Context, userKey string) bool) *FuncClassifier {
	if known == nil {
		known = func(context.Context, string) bool { return true }
	}
	return &FuncClassifier{
		KnownFunc: known,
		EntryFunc: func(ctx context.Context, userKey string) models.FlowID {
			if known(ctx, userKey) {
				return models.FlowMainMenu
			}
			return models.FlowRegistration
		},
	}
}

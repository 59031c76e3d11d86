package core

import (
	"context"
	"time"
)

type (
	// Canvas is a user-owned saved copy of a session document.
	Canvas struct {
		ID         string    `json:"id"`
		UserID     string    `json:"-"`
		Name       string    `json:"name"`
		LayerCount int       `json:"layerCount"`
		Data       []byte    `json:"data,omitempty"` // encoded CanvasDocument, omitted from list views
		CreatedAt  time.Time `json:"createdAt"`
		UpdatedAt  time.Time `json:"updatedAt"`
	}

	// CanvasStore persists saved canvases. All operations are scoped to a user.
	CanvasStore interface {
		// List returns canvases owned by a user without their Data.
		List(ctx context.Context, userID string) ([]*Canvas, error)
		Get(ctx context.Context, userID, id string) (*Canvas, error)
		// Save creates or updates a canvas; CreatedAt is preserved on update.
		Save(ctx context.Context, canvas *Canvas) error
		Delete(ctx context.Context, userID, id string) error
	}
)

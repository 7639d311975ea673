package artifact

import (
	"context"

	"github.com/hurtener/penguiflow-sub005/tool"
)

// ToolWriter adapts a Store to the narrower tool.ArtifactWriter contract
// exposed inside ToolContext, so tool implementations never see the full
// Store surface.
type ToolWriter struct {
	Store Store
}

// NewToolWriter wraps store as a tool.ArtifactWriter.
func NewToolWriter(store Store) ToolWriter {
	return ToolWriter{Store: store}
}

func (w ToolWriter) PutBytes(ctx context.Context, data []byte, mimeType, filename, namespace string, scope tool.Scope, meta map[string]any) (tool.ArtifactRefView, error) {
	ref, err := w.Store.PutBytes(ctx, data, mimeType, filename, namespace, scope, meta)
	if err != nil {
		return tool.ArtifactRefView{}, err
	}
	return toView(ref), nil
}

func (w ToolWriter) PutText(ctx context.Context, text, namespace string, scope tool.Scope, meta map[string]any) (tool.ArtifactRefView, error) {
	ref, err := w.Store.PutText(ctx, text, "text/plain", "", namespace, scope, meta)
	if err != nil {
		return tool.ArtifactRefView{}, err
	}
	return toView(ref), nil
}

func toView(ref Ref) tool.ArtifactRefView {
	return tool.ArtifactRefView{
		ID:        ref.ID,
		MimeType:  ref.MimeType,
		SizeBytes: ref.SizeBytes,
		SHA256:    ref.SHA256,
		Filename:  ref.Filename,
	}
}

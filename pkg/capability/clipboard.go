package capability

import (
	"context"

	"github.com/kaori/plughost/pkg/host"
	"github.com/kaori/plughost/pkg/manifest"
)

// Clipboard reads and writes the host clipboard.
type Clipboard struct {
	gate *gate
}

// ReadText returns the clipboard's text content.
func (c *Clipboard) ReadText(ctx context.Context) (string, error) {
	res, err := c.gate.call(ctx, "clipboard", manifest.PermissionClipboard, "clipboard.read", nil)
	if err != nil {
		return "", err
	}
	return resultString(res, "text"), nil
}

// WriteText replaces the clipboard's text content.
func (c *Clipboard) WriteText(ctx context.Context, text string) error {
	_, err := c.gate.call(ctx, "clipboard", manifest.PermissionClipboard, "clipboard.write", host.Args{
		"text": text,
	})
	return err
}

package wiki

import (
	"context"
	"fmt"
)

const markdownContentType = "text/markdown; charset=utf-8"

// PageObject names the exported markdown of a page.
func PageObject(wikiID string, index int) string {
	return fmt.Sprintf("wiki/%s/%d.md", wikiID, index)
}

// export writes a page's markdown to the object store and returns its reference.
func (o *Orchestrator) export(ctx context.Context, wikiID string, index int, markdown string) (string, error) {
	ref, err := o.objects.Put(ctx, PageObject(wikiID, index), []byte(markdown), markdownContentType)
	if err != nil {
		return "", fmt.Errorf("export markdown: %w", err)
	}
	return ref, nil
}

package mcpservice

import (
	"context"
	"errors"
	"testing"

	"github.com/asachs01/propublica-mcp/sessions"
)

func TestResourcesContainer(t *testing.T) {
	rc := NewResourcesContainer(
		NewTextResource("ref://a", "a", "first", "text/plain", "alpha"),
		NewTextResource("ref://b", "b", "second", "application/json", `{"x":1}`),
	)
	sess := &sessions.Metadata{}

	page, err := rc.ListResources(context.Background(), sess, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 2 {
		t.Fatalf("resources = %d, want 2", len(page.Items))
	}
	if page.Items[0].URI != "ref://a" || page.Items[1].URI != "ref://b" {
		t.Errorf("order = %q, %q", page.Items[0].URI, page.Items[1].URI)
	}

	contents, err := rc.ReadResource(context.Background(), sess, "ref://a")
	if err != nil {
		t.Fatal(err)
	}
	if len(contents) != 1 || contents[0].Text != "alpha" {
		t.Fatalf("contents = %+v", contents)
	}
	if contents[0].MimeType != "text/plain" {
		t.Errorf("mime type = %q", contents[0].MimeType)
	}

	_, err = rc.ReadResource(context.Background(), sess, "ref://missing")
	if !errors.Is(err, ErrResourceNotFound) {
		t.Errorf("err = %v, want ErrResourceNotFound", err)
	}
}

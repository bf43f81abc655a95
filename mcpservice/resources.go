package mcpservice

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/asachs01/propublica-mcp/mcp"
	"github.com/asachs01/propublica-mcp/sessions"
)

// ErrResourceNotFound marks a resources/read against an unknown URI.
var ErrResourceNotFound = errors.New("resource not found")

// StaticResource pairs a resource descriptor with its fixed contents.
type StaticResource struct {
	Descriptor mcp.Resource
	Contents   []mcp.ResourceContents
}

// NewTextResource builds a single-text static resource.
func NewTextResource(uri, name, description, mimeType, text string) StaticResource {
	return StaticResource{
		Descriptor: mcp.Resource{URI: uri, Name: name, Description: description, MimeType: mimeType},
		Contents:   []mcp.ResourceContents{{URI: uri, MimeType: mimeType, Text: text}},
	}
}

// ResourcesContainer serves a fixed set of resources and implements
// ResourcesCapability with internal pagination.
type ResourcesContainer struct {
	mu       sync.RWMutex
	list     []mcp.Resource
	byURI    map[string][]mcp.ResourceContents
	pageSize int
}

var _ ResourcesCapability = (*ResourcesContainer)(nil)

// NewResourcesContainer builds a container from the given resources. Later
// definitions win on duplicate URIs.
func NewResourcesContainer(defs ...StaticResource) *ResourcesContainer {
	rc := &ResourcesContainer{pageSize: 50}
	rc.Replace(defs...)
	return rc
}

// Replace atomically swaps the resource set.
func (rc *ResourcesContainer) Replace(defs ...StaticResource) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.list = make([]mcp.Resource, 0, len(defs))
	rc.byURI = make(map[string][]mcp.ResourceContents, len(defs))
	for _, d := range defs {
		rc.list = append(rc.list, d.Descriptor)
		rc.byURI[d.Descriptor.URI] = d.Contents
	}
}

func (rc *ResourcesContainer) ListResources(ctx context.Context, sess *sessions.Metadata, cursor *string) (Page[mcp.Resource], error) {
	rc.mu.RLock()
	all := make([]mcp.Resource, len(rc.list))
	copy(all, rc.list)
	pageSize := rc.pageSize
	rc.mu.RUnlock()
	return pageSlice(all, pageSize, cursor), nil
}

func (rc *ResourcesContainer) ReadResource(ctx context.Context, sess *sessions.Metadata, uri string) ([]mcp.ResourceContents, error) {
	rc.mu.RLock()
	contents, ok := rc.byURI[uri]
	rc.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrResourceNotFound, uri)
	}
	out := make([]mcp.ResourceContents, len(contents))
	copy(out, contents)
	return out, nil
}

// Package registry implements the prefixed capability namespace: four
// independent sub-registries that fuse per-upstream tool/resource/
// resource-template/prompt sets into one flat, collision-free namespace.
package registry

import (
	"log/slog"
	"sync"
)

// record is implemented by every capability type stored in a category:
// it knows its own externally visible id and which upstream owns it.
type record interface {
	Prefixed() string
	Owner() string
}

// category is the generic storage shared by all four capability kinds.
// It is an implementation detail — Registry's public surface below
// exposes type-specific RegisterTools/GetTool/... methods, each backed
// by a map[prefixed]record plus a map[upstream]set(prefixed) reverse
// index for atomic per-upstream replacement.
type category[T record] struct {
	mu         sync.RWMutex
	byPrefixed map[string]T
	byUpstream map[string]map[string]struct{}
}

func newCategory[T record]() *category[T] {
	return &category[T]{
		byPrefixed: make(map[string]T),
		byUpstream: make(map[string]map[string]struct{}),
	}
}

// replace atomically swaps the given upstream's entries in this
// category: its prior entries are cleared first, then each new item is
// inserted. A collision with an entry owned by a *different* upstream
// drops the new entry (first-writer-wins) and calls onDrop for logging.
// Both the clear and the inserts happen under one write lock, so no
// concurrent reader ever observes a partial replacement.
func (c *category[T]) replace(upstream string, items []T, onDrop func(dropped T)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if owned, ok := c.byUpstream[upstream]; ok {
		for id := range owned {
			delete(c.byPrefixed, id)
		}
	}
	owned := make(map[string]struct{}, len(items))
	for _, item := range items {
		id := item.Prefixed()
		if existing, ok := c.byPrefixed[id]; ok && existing.Owner() != upstream {
			if onDrop != nil {
				onDrop(item)
			}
			continue
		}
		c.byPrefixed[id] = item
		owned[id] = struct{}{}
	}
	if len(owned) == 0 {
		delete(c.byUpstream, upstream)
		return
	}
	c.byUpstream[upstream] = owned
}

func (c *category[T]) get(id string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.byPrefixed[id]
	return v, ok
}

func (c *category[T]) getAll() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]T, 0, len(c.byPrefixed))
	for _, v := range c.byPrefixed {
		out = append(out, v)
	}
	return out
}

func (c *category[T]) count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byPrefixed)
}

// clearUpstream removes every entry owned by upstream.
func (c *category[T]) clearUpstream(upstream string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	owned, ok := c.byUpstream[upstream]
	if !ok {
		return
	}
	for id := range owned {
		delete(c.byPrefixed, id)
	}
	delete(c.byUpstream, upstream)
}

func (c *category[T]) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byPrefixed = make(map[string]T)
	c.byUpstream = make(map[string]map[string]struct{})
}

// Registry is the fused, prefix-namespaced view of every connected
// upstream's tools, resources, resource templates, and prompts.
type Registry struct {
	logger *slog.Logger

	tools     *category[Tool]
	resources *category[Resource]
	templates *category[ResourceTemplate]
	prompts   *category[Prompt]
}

// New builds an empty Registry. A nil logger falls back to slog.Default.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:    logger,
		tools:     newCategory[Tool](),
		resources: newCategory[Resource](),
		templates: newCategory[ResourceTemplate](),
		prompts:   newCategory[Prompt](),
	}
}

// RegisterTools replaces upstream's prior tool set with tools, dropping
// any entry whose prefixed id collides with a different upstream's
// entry.
func (r *Registry) RegisterTools(upstream string, tools []Tool) {
	r.tools.replace(upstream, tools, func(dropped Tool) {
		r.logger.Warn("dropped colliding tool", "upstream", upstream, "prefixedName", dropped.PrefixedName)
	})
}

// GetTool returns the tool registered under prefixedName, if any.
func (r *Registry) GetTool(prefixedName string) (Tool, bool) { return r.tools.get(prefixedName) }

// GetAllTools returns every currently registered tool.
func (r *Registry) GetAllTools() []Tool { return r.tools.getAll() }

// ToolCount reports how many tools are currently registered.
func (r *Registry) ToolCount() int { return r.tools.count() }

// RegisterResources replaces upstream's prior resource set.
func (r *Registry) RegisterResources(upstream string, resources []Resource) {
	r.resources.replace(upstream, resources, func(dropped Resource) {
		r.logger.Warn("dropped colliding resource", "upstream", upstream, "prefixedUri", dropped.PrefixedURI)
	})
}

// GetResource returns the resource registered under prefixedURI, if any.
func (r *Registry) GetResource(prefixedURI string) (Resource, bool) {
	return r.resources.get(prefixedURI)
}

// GetAllResources returns every currently registered resource.
func (r *Registry) GetAllResources() []Resource { return r.resources.getAll() }

// ResourceCount reports how many resources are currently registered.
func (r *Registry) ResourceCount() int { return r.resources.count() }

// RegisterResourceTemplates replaces upstream's prior template set.
func (r *Registry) RegisterResourceTemplates(upstream string, templates []ResourceTemplate) {
	r.templates.replace(upstream, templates, func(dropped ResourceTemplate) {
		r.logger.Warn("dropped colliding resource template", "upstream", upstream, "prefixedUriTemplate", dropped.PrefixedURITemplate)
	})
}

// GetResourceTemplate returns the template registered under prefixedURITemplate, if any.
func (r *Registry) GetResourceTemplate(prefixedURITemplate string) (ResourceTemplate, bool) {
	return r.templates.get(prefixedURITemplate)
}

// GetAllResourceTemplates returns every currently registered template.
func (r *Registry) GetAllResourceTemplates() []ResourceTemplate { return r.templates.getAll() }

// RegisterPrompts replaces upstream's prior prompt set.
func (r *Registry) RegisterPrompts(upstream string, prompts []Prompt) {
	r.prompts.replace(upstream, prompts, func(dropped Prompt) {
		r.logger.Warn("dropped colliding prompt", "upstream", upstream, "prefixedName", dropped.PrefixedName)
	})
}

// GetPrompt returns the prompt registered under prefixedName, if any.
func (r *Registry) GetPrompt(prefixedName string) (Prompt, bool) { return r.prompts.get(prefixedName) }

// GetAllPrompts returns every currently registered prompt.
func (r *Registry) GetAllPrompts() []Prompt { return r.prompts.getAll() }

// PromptCount reports how many prompts are currently registered.
func (r *Registry) PromptCount() int { return r.prompts.count() }

// ClearUpstream purges every capability owned by upstream across all
// four categories. Called on removal and before any reconnect attempt.
func (r *Registry) ClearUpstream(upstream string) {
	r.tools.clearUpstream(upstream)
	r.resources.clearUpstream(upstream)
	r.templates.clearUpstream(upstream)
	r.prompts.clearUpstream(upstream)
}

// Clear purges the entire registry.
func (r *Registry) Clear() {
	r.tools.clear()
	r.resources.clear()
	r.templates.clear()
	r.prompts.clear()
}

// Counts is a snapshot used by the health and info HTTP endpoints.
type Counts struct {
	Tools             int
	Resources         int
	ResourceTemplates int
	Prompts           int
}

// Snapshot returns current counts across all four categories.
func (r *Registry) Snapshot() Counts {
	return Counts{
		Tools:             r.tools.count(),
		Resources:         r.resources.count(),
		ResourceTemplates: r.templates.count(),
		Prompts:           r.prompts.count(),
	}
}

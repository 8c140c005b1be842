package hooks

import "sync"

// PluginCategory represents the high-level role of a plugin.
type PluginCategory string

const (
	// PluginCategoryInstrumentation covers tracing, counters, and diagnostics.
	PluginCategoryInstrumentation PluginCategory = "instrumentation"
	// PluginCategoryVisualization covers frame publishers and monitors.
	PluginCategoryVisualization PluginCategory = "visualization"
	// PluginCategoryChecker covers protocol checkers.
	PluginCategoryChecker PluginCategory = "checker"
)

// PluginDescriptor describes a plugin registered with the broker.
type PluginDescriptor struct {
	Name        string
	Category    PluginCategory
	Description string
}

// HookBundle groups multiple hook handlers that belong to one plugin.
type HookBundle struct {
	Grant      []GrantHook
	Decode     []DecodeHook
	Violation  []ViolationHook
	Completion []CompletionHook
}

// GrantContext describes one arbitration result.
type GrantContext struct {
	Cycle    uint64
	Requests uint64
	Grant    int // -1 when nobody requested
}

// DecodeContext describes one address decode on the shared trunk.
type DecodeContext struct {
	Cycle   uint64
	Address uint32
	Select  uint64
	Target  int // -1 on a miss
}

// ViolationContext describes a target driving a response it was not asked for.
type ViolationContext struct {
	Cycle      uint64
	Target     int
	TargetName string
	Kind       string
}

// CompletionContext describes a response delivered to the granted initiator.
type CompletionContext struct {
	Cycle     uint64
	Initiator int
	Target    int
	Ack       bool
	Err       bool
	ReadData  uint32
}

type GrantHook func(ctx *GrantContext) error
type DecodeHook func(ctx *DecodeContext) error

// ViolationHook executes when the fabric detects a protocol violation.
type ViolationHook func(ctx *ViolationContext) error

// CompletionHook executes when a granted initiator observes ack or err.
type CompletionHook func(ctx *CompletionContext) error

// Broker coordinates hook registration and triggering.
type Broker struct {
	mu sync.RWMutex

	grantHooks      []GrantHook
	decodeHooks     []DecodeHook
	violationHooks  []ViolationHook
	completionHooks []CompletionHook

	pluginCatalog map[PluginCategory][]PluginDescriptor
	pluginIndex   map[string]PluginDescriptor
}

// NewBroker creates an empty broker instance.
func NewBroker() *Broker {
	return &Broker{
		pluginCatalog: make(map[PluginCategory][]PluginDescriptor),
		pluginIndex:   make(map[string]PluginDescriptor),
	}
}

func (b *Broker) RegisterGrant(h GrantHook) {
	if b == nil || h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.grantHooks = append(b.grantHooks, h)
}

func (b *Broker) RegisterDecode(h DecodeHook) {
	if b == nil || h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.decodeHooks = append(b.decodeHooks, h)
}

// RegisterViolation registers a hook for protocol violations.
func (b *Broker) RegisterViolation(h ViolationHook) {
	if b == nil || h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.violationHooks = append(b.violationHooks, h)
}

// RegisterCompletion registers a hook for responses reaching the grantee.
func (b *Broker) RegisterCompletion(h CompletionHook) {
	if b == nil || h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.completionHooks = append(b.completionHooks, h)
}

// HasGrantHooks lets hot paths skip building contexts nobody reads.
func (b *Broker) HasGrantHooks() bool {
	if b == nil {
		return false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.grantHooks) > 0
}

func (b *Broker) HasDecodeHooks() bool {
	if b == nil {
		return false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.decodeHooks) > 0
}

func (b *Broker) EmitGrant(ctx *GrantContext) error {
	if b == nil || ctx == nil {
		return nil
	}
	b.mu.RLock()
	handlers := make([]GrantHook, len(b.grantHooks))
	copy(handlers, b.grantHooks)
	b.mu.RUnlock()
	for _, handler := range handlers {
		if err := handler(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (b *Broker) EmitDecode(ctx *DecodeContext) error {
	if b == nil || ctx == nil {
		return nil
	}
	b.mu.RLock()
	handlers := make([]DecodeHook, len(b.decodeHooks))
	copy(handlers, b.decodeHooks)
	b.mu.RUnlock()
	for _, handler := range handlers {
		if err := handler(ctx); err != nil {
			return err
		}
	}
	return nil
}

// EmitViolation triggers violation hooks.
func (b *Broker) EmitViolation(ctx *ViolationContext) error {
	if b == nil || ctx == nil {
		return nil
	}
	b.mu.RLock()
	handlers := make([]ViolationHook, len(b.violationHooks))
	copy(handlers, b.violationHooks)
	b.mu.RUnlock()
	for _, handler := range handlers {
		if err := handler(ctx); err != nil {
			return err
		}
	}
	return nil
}

// EmitCompletion triggers completion hooks.
func (b *Broker) EmitCompletion(ctx *CompletionContext) error {
	if b == nil || ctx == nil {
		return nil
	}
	b.mu.RLock()
	handlers := make([]CompletionHook, len(b.completionHooks))
	copy(handlers, b.completionHooks)
	b.mu.RUnlock()
	for _, handler := range handlers {
		if err := handler(ctx); err != nil {
			return err
		}
	}
	return nil
}

// RegisterBundle registers a plugin descriptor together with all hook handlers.
func (b *Broker) RegisterBundle(desc PluginDescriptor, bundle HookBundle) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.registerDescriptorLocked(desc)

	if len(bundle.Grant) > 0 {
		b.grantHooks = append(b.grantHooks, bundle.Grant...)
	}
	if len(bundle.Decode) > 0 {
		b.decodeHooks = append(b.decodeHooks, bundle.Decode...)
	}
	if len(bundle.Violation) > 0 {
		b.violationHooks = append(b.violationHooks, bundle.Violation...)
	}
	if len(bundle.Completion) > 0 {
		b.completionHooks = append(b.completionHooks, bundle.Completion...)
	}
}

// ListPlugins returns descriptors for plugins in the requested category.
func (b *Broker) ListPlugins(category PluginCategory) []PluginDescriptor {
	if b == nil {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	catalog := b.pluginCatalog[category]
	if len(catalog) == 0 {
		return nil
	}
	out := make([]PluginDescriptor, len(catalog))
	copy(out, catalog)
	return out
}

func (b *Broker) registerDescriptorLocked(desc PluginDescriptor) {
	if desc.Name == "" {
		return
	}
	if _, exists := b.pluginIndex[desc.Name]; exists {
		return
	}
	b.pluginIndex[desc.Name] = desc
	b.pluginCatalog[desc.Category] = append(b.pluginCatalog[desc.Category], desc)
}

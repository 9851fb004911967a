package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shelfscan/backend/internal/domain"
	"github.com/shelfscan/backend/internal/infrastructure/resilience"
)

// stubDocs is an in-memory DocumentCache with fault injection. TTLs are
// ignored; expiry behavior is exercised against the real backends.
type stubDocs struct {
	mu           sync.Mutex
	data         map[string][]byte
	setCalls     int
	failSetAfter int // fail every Set beyond this many successful calls; 0 disables
	getErr       error
	delErr       error
}

func newStubDocs() *stubDocs {
	return &stubDocs{data: make(map[string][]byte)}
}

func (s *stubDocs) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	value, ok := s.data[key]
	if !ok {
		return nil, domain.ErrCacheMiss
	}
	return value, nil
}

func (s *stubDocs) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setCalls++
	if s.failSetAfter > 0 && s.setCalls > s.failSetAfter {
		return domain.WrapTransient("stub set", fmt.Errorf("injected failure"))
	}
	s.data[key] = append([]byte(nil), value...)
	return nil
}

func (s *stubDocs) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.delErr != nil {
		return s.delErr
	}
	delete(s.data, key)
	return nil
}

func (s *stubDocs) DeleteByPrefix(_ context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.data {
		if strings.HasPrefix(key, prefix) {
			delete(s.data, key)
		}
	}
	return nil
}

func (s *stubDocs) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[key]
	return ok
}

// mockRepo is an in-memory ProductRepository keyed by barcode, with a queue
// of injectable Save errors.
type mockRepo struct {
	mu        sync.Mutex
	products  map[string]*domain.ProductIdentity
	textHits  []domain.ProductIdentity
	saveErrs  []error
	saveCalls int
	nextID    int
}

func newMockRepo() *mockRepo {
	return &mockRepo{products: make(map[string]*domain.ProductIdentity)}
}

func (m *mockRepo) seed(identity domain.ProductIdentity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := identity
	m.products[identity.Barcode] = &copied
}

func (m *mockRepo) FindByBarcode(_ context.Context, barcode string) (*domain.ProductIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	identity, ok := m.products[barcode]
	if !ok {
		return nil, fmt.Errorf("barcode %q: %w", barcode, domain.ErrProductNotFound)
	}
	copied := *identity
	return &copied, nil
}

func (m *mockRepo) FindByText(_ context.Context, _ string) ([]domain.ProductIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ProductIdentity(nil), m.textHits...), nil
}

func (m *mockRepo) Save(_ context.Context, identity *domain.ProductIdentity) (*domain.ProductIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveCalls++
	if len(m.saveErrs) > 0 {
		err := m.saveErrs[0]
		m.saveErrs = m.saveErrs[1:]
		if err != nil {
			return nil, err
		}
	}

	saved := *identity
	if saved.ID == "" {
		m.nextID++
		saved.ID = fmt.Sprintf("prod-%d", m.nextID)
	}
	if saved.Barcode != "" {
		copied := saved
		m.products[saved.Barcode] = &copied
	}
	return &saved, nil
}

func (m *mockRepo) saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveCalls
}

// mockVision implements VisualAnalyzer with overridable behavior per method.
type mockVision struct {
	mu             sync.Mutex
	extractFn      func(ctx context.Context, image []byte) (*domain.TextExtraction, error)
	identifyFn     func(ctx context.Context, image []byte) (*domain.VisualIdentification, error)
	dimensionsFn   func(ctx context.Context, image []byte, productContext string) (string, error)
	extractCalls   int
	identifyCalls  int
	dimensionCalls int
}

func (m *mockVision) ExtractText(ctx context.Context, image []byte) (*domain.TextExtraction, error) {
	m.mu.Lock()
	m.extractCalls++
	fn := m.extractFn
	m.mu.Unlock()
	if fn == nil {
		return nil, domain.ErrProductNotFound
	}
	return fn(ctx, image)
}

func (m *mockVision) IdentifyProduct(ctx context.Context, image []byte) (*domain.VisualIdentification, error) {
	m.mu.Lock()
	m.identifyCalls++
	fn := m.identifyFn
	m.mu.Unlock()
	if fn == nil {
		return nil, domain.ErrInvalidResponse
	}
	return fn(ctx, image)
}

func (m *mockVision) AnalyzeDimensions(ctx context.Context, image []byte, productContext string) (string, error) {
	m.mu.Lock()
	m.dimensionCalls++
	fn := m.dimensionsFn
	m.mu.Unlock()
	if fn == nil {
		return "", domain.ErrInvalidResponse
	}
	return fn(ctx, image, productContext)
}

func (m *mockVision) calls() (extract, identify, dimensions int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.extractCalls, m.identifyCalls, m.dimensionCalls
}

// mockDiscovery implements WebDiscoverySearch.
type mockDiscovery struct {
	mu     sync.Mutex
	findFn func(ctx context.Context, query domain.DiscoveryQuery) (*domain.DiscoveryHit, error)
	calls  int
}

func (m *mockDiscovery) FindBarcode(ctx context.Context, query domain.DiscoveryQuery) (*domain.DiscoveryHit, error) {
	m.mu.Lock()
	m.calls++
	fn := m.findFn
	m.mu.Unlock()
	if fn == nil {
		return nil, domain.ErrProductNotFound
	}
	return fn(ctx, query)
}

// captureSink records every sink event for assertions.
type captureSink struct {
	mu     sync.Mutex
	events []domain.SinkEvent
}

func (s *captureSink) Record(event domain.SinkEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *captureSink) kinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	kinds := make([]string, 0, len(s.events))
	for _, e := range s.events {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

// recordingProgress implements ProgressReporter, capturing the event stream.
type recordingProgress struct {
	mu       sync.Mutex
	opened   []string
	stages   []domain.Stage
	payloads []map[string]any
	openErr  error
}

func (p *recordingProgress) Open(sessionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.openErr != nil {
		return p.openErr
	}
	p.opened = append(p.opened, sessionID)
	return nil
}

func (p *recordingProgress) Emit(_ string, stage domain.Stage, _ string, payload map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stages = append(p.stages, stage)
	p.payloads = append(p.payloads, payload)
}

func (p *recordingProgress) stageLog() []domain.Stage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.Stage(nil), p.stages...)
}

func (p *recordingProgress) lastPayload() map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.payloads) == 0 {
		return nil
	}
	return p.payloads[len(p.payloads)-1]
}

// countingTier wraps a real tier and records attempt order into a shared log.
type countingTier struct {
	TierStrategy
	log *[]domain.Tier
	mu  *sync.Mutex
}

func (t *countingTier) Attempt(ctx context.Context, req *domain.ResolutionRequest, scratch *TierScratch) (*domain.ResolutionResult, error) {
	t.mu.Lock()
	*t.log = append(*t.log, t.TierStrategy.Tier())
	t.mu.Unlock()
	return t.TierStrategy.Attempt(ctx, req, scratch)
}

// fastExecutor keeps the retry discipline but with millisecond backoffs so
// tests stay quick.
func fastExecutor(maxAttempts int) *resilience.Executor {
	return resilience.NewExecutor(resilience.Config{
		MaxAttempts:    maxAttempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     4 * time.Millisecond,
		Multiplier:     2.0,
	}, nil)
}

package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/example/romanticbot/internal/metrics"
	"github.com/example/romanticbot/internal/models"
)

func newTestRecorder() metrics.Recorder {
	return metrics.NewCollector(prometheus.NewRegistry())
}

// memGenerationStore is an in-memory GenerationStore with the same
// conditional-update semantics as the MySQL repository.
type memGenerationStore struct {
	mu    sync.Mutex
	seq   int
	order []string
	gens  map[string]*models.Generation
}

func newMemGenerationStore() *memGenerationStore {
	return &memGenerationStore{gens: make(map[string]*models.Generation)}
}

func (s *memGenerationStore) Create(ctx context.Context, userID int64) (*models.Generation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	g := &models.Generation{
		ID:        fmt.Sprintf("gen-%d", s.seq),
		UserID:    userID,
		Status:    models.StatusWaitingPhotos,
		CreatedAt: time.Now(),
	}
	s.gens[g.ID] = g
	s.order = append(s.order, g.ID)
	copied := *g
	return &copied, nil
}

func (s *memGenerationStore) FindByID(ctx context.Context, id string) (*models.Generation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.gens[id]
	if !ok {
		return nil, nil
	}
	copied := *g
	return &copied, nil
}

func (s *memGenerationStore) FindActiveByUser(ctx context.Context, userID int64) (*models.Generation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.order) - 1; i >= 0; i-- {
		g := s.gens[s.order[i]]
		if g.UserID == userID && !g.Status.Terminal() {
			copied := *g
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *memGenerationStore) Advance(ctx context.Context, id string, expected, next models.GenerationStatus, patch models.GenerationPatch) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.gens[id]
	if !ok || g.Status != expected {
		return false, nil
	}
	g.Status = next
	if patch.Photo1URL != nil {
		g.Photo1URL = *patch.Photo1URL
	}
	if patch.Photo2URL != nil {
		g.Photo2URL = *patch.Photo2URL
	}
	if patch.RomanticImageURL != nil {
		g.RomanticImageURL = *patch.RomanticImageURL
	}
	if patch.VideoURL != nil {
		g.VideoURL = *patch.VideoURL
	}
	return true, nil
}

func (s *memGenerationStore) MarkError(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.gens[id]
	if !ok || g.Status.Terminal() {
		return false, nil
	}
	g.Status = models.StatusError
	return true, nil
}

func (s *memGenerationStore) mustGet(id string) models.Generation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.gens[id]
}

// memUserStore keeps user counters in memory with SQL-like increments.
type memUserStore struct {
	mu    sync.Mutex
	users map[int64]*models.User
}

func newMemUserStore(users ...*models.User) *memUserStore {
	s := &memUserStore{users: make(map[int64]*models.User)}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (s *memUserStore) FindByID(ctx context.Context, id int64) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	copied := *u
	return &copied, nil
}

func (s *memUserStore) Ensure(ctx context.Context, telegramID int64, username, firstName, lastName string) (*models.User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.TelegramID == telegramID {
			copied := *u
			return &copied, false, nil
		}
	}
	u := &models.User{
		ID:         int64(len(s.users) + 1),
		TelegramID: telegramID,
		Username:   username,
		FirstName:  firstName,
		LastName:   lastName,
	}
	s.users[u.ID] = u
	copied := *u
	return &copied, true, nil
}

func (s *memUserStore) IncrementGenerationsUsed(ctx context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return fmt.Errorf("user %d not found", userID)
	}
	u.GenerationsUsed++
	return nil
}

func (s *memUserStore) ListTelegramIDs(ctx context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for _, u := range s.users {
		ids = append(ids, u.TelegramID)
	}
	return ids, nil
}

func (s *memUserStore) addPaidGenerations(userID int64, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[userID]; ok {
		u.PaidGenerations += count
	}
}

// memPaymentStore mirrors the repository's complete-and-credit contract,
// crediting into the linked user store.
type memPaymentStore struct {
	mu       sync.Mutex
	seq      int
	payments map[string]*models.Payment
	users    *memUserStore
	credits  int
}

func newMemPaymentStore(users *memUserStore) *memPaymentStore {
	return &memPaymentStore{payments: make(map[string]*models.Payment), users: users}
}

func (s *memPaymentStore) Create(ctx context.Context, payment *models.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	payment.ID = fmt.Sprintf("pay-%d", s.seq)
	payment.Status = models.PaymentPending
	copied := *payment
	s.payments[payment.ID] = &copied
	return nil
}

func (s *memPaymentStore) FindByID(ctx context.Context, id string) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return nil, nil
	}
	copied := *p
	return &copied, nil
}

func (s *memPaymentStore) CompleteAndCredit(ctx context.Context, paymentID, providerPaymentID string) (bool, error) {
	s.mu.Lock()
	p, ok := s.payments[paymentID]
	if !ok || p.Status != models.PaymentPending {
		s.mu.Unlock()
		return false, nil
	}
	p.Status = models.PaymentCompleted
	p.ProviderPaymentID = providerPaymentID
	s.credits++
	userID, count := p.UserID, p.GenerationsCount
	s.mu.Unlock()

	if s.users != nil {
		s.users.addPaidGenerations(userID, count)
	}
	return true, nil
}

// mockLauncher records which generations were handed to the orchestrator.
type mockLauncher struct {
	mu       sync.Mutex
	launched []*models.Generation
}

func (m *mockLauncher) Launch(gen *models.Generation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.launched = append(m.launched, gen)
}

func (m *mockLauncher) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.launched)
}

// mockStorage is an in-memory ObjectStorage keyed by generated URLs.
type mockStorage struct {
	mu      sync.Mutex
	seq     int
	objects map[string][]byte
	uploads int
}

func newMockStorage() *mockStorage {
	return &mockStorage{objects: make(map[string][]byte)}
}

func (s *mockStorage) Upload(ctx context.Context, data []byte, contentType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.uploads++
	url := fmt.Sprintf("https://store.test/obj-%d", s.seq)
	s.objects[url] = data
	return url, nil
}

func (s *mockStorage) Download(ctx context.Context, url string) ([]byte, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[url]
	if !ok {
		return nil, "", fmt.Errorf("object %s not found", url)
	}
	return data, "image/jpeg", nil
}

type mockImageEditor struct {
	editFn func(ctx context.Context, photo1, photo2 []byte) ([]byte, error)
}

func (m *mockImageEditor) Edit(ctx context.Context, photo1, photo2 []byte) ([]byte, error) {
	return m.editFn(ctx, photo1, photo2)
}

type mockVideoGenerator struct {
	calls      int
	generateFn func(ctx context.Context, imageURL string) (string, error)
}

func (m *mockVideoGenerator) Generate(ctx context.Context, imageURL string) (string, error) {
	m.calls++
	return m.generateFn(ctx, imageURL)
}

// mockNotifier records per-chat events in arrival order.
type mockNotifier struct {
	mu     sync.Mutex
	events []string
}

func (m *mockNotifier) record(event string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

func (m *mockNotifier) ImageStarted(chatID int64)                { m.record("image_started") }
func (m *mockNotifier) VideoStarted(chatID int64)                { m.record("video_started") }
func (m *mockNotifier) VideoReady(chatID int64, videoURL string) { m.record("video_ready:" + videoURL) }
func (m *mockNotifier) GenerationFailed(chatID int64)            { m.record("failed") }

func (m *mockNotifier) all() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.events...)
}

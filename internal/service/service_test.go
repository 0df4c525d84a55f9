package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/mmeshcher/finlearn-system/internal/identity"
	"github.com/mmeshcher/finlearn-system/internal/model"
	"github.com/mmeshcher/finlearn-system/internal/repository"
)

type completionKey struct {
	accountID int64
	lessonID  int64
}

// fakeRepo хранит данные в памяти и воспроизводит контракт репозитория:
// уникальность личности и условную вставку прохождения.
type fakeRepo struct {
	mu sync.Mutex

	nextAccountID int64
	nextLessonID  int64
	accounts      map[string]*model.Account
	lessons       map[int64]*model.Lesson
	completions   map[completionKey]bool

	createAccountCalls int
	updateNameCalls    int

	// notFoundOnce заставляет первый GetAccountByIdentity ответить "не найден",
	// имитируя чтение, опередившее параллельную вставку.
	notFoundOnce bool
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		accounts:    make(map[string]*model.Account),
		lessons:     make(map[int64]*model.Lesson),
		completions: make(map[completionKey]bool),
	}
}

func (f *fakeRepo) Close() error { return nil }

func (f *fakeRepo) CreateAccount(ctx context.Context, ident, displayName, email string, coinBalance int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.createAccountCalls++
	if _, ok := f.accounts[ident]; ok {
		return 0, repository.ErrAccountExists
	}

	f.nextAccountID++
	f.accounts[ident] = &model.Account{
		ID:          f.nextAccountID,
		Identity:    ident,
		DisplayName: displayName,
		Email:       email,
		CoinBalance: coinBalance,
		CurrentDay:  1,
	}
	return f.nextAccountID, nil
}

func (f *fakeRepo) GetAccountByIdentity(ctx context.Context, ident string) (*model.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.notFoundOnce {
		f.notFoundOnce = false
		return nil, repository.ErrAccountNotFound
	}

	acc, ok := f.accounts[ident]
	if !ok {
		return nil, repository.ErrAccountNotFound
	}

	snapshot := *acc
	snapshot.CompletedLessons = nil
	for key := range f.completions {
		if key.accountID == acc.ID {
			snapshot.CompletedLessons = append(snapshot.CompletedLessons, key.lessonID)
		}
	}
	return &snapshot, nil
}

func (f *fakeRepo) UpdateDisplayName(ctx context.Context, accountID int64, displayName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.updateNameCalls++
	for _, acc := range f.accounts {
		if acc.ID == accountID {
			acc.DisplayName = displayName
			return nil
		}
	}
	return repository.ErrAccountNotFound
}

func (f *fakeRepo) ListLessons(ctx context.Context) ([]model.Lesson, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var res []model.Lesson
	for id := int64(1); id <= f.nextLessonID; id++ {
		if l, ok := f.lessons[id]; ok {
			res = append(res, *l)
		}
	}
	return res, nil
}

func (f *fakeRepo) GetLesson(ctx context.Context, lessonID int64) (*model.Lesson, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	l, ok := f.lessons[lessonID]
	if !ok {
		return nil, repository.ErrLessonNotFound
	}
	snapshot := *l
	return &snapshot, nil
}

func (f *fakeRepo) UpsertLesson(ctx context.Context, lesson model.Lesson) (int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for id, l := range f.lessons {
		if l.Title == lesson.Title {
			return id, false, nil
		}
	}

	f.nextLessonID++
	lesson.ID = f.nextLessonID
	f.lessons[lesson.ID] = &lesson
	return lesson.ID, true, nil
}

func (f *fakeRepo) CompleteLesson(ctx context.Context, accountID, lessonID, rewardCoins int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := completionKey{accountID: accountID, lessonID: lessonID}
	if f.completions[key] {
		return true, nil
	}

	f.completions[key] = true
	for _, acc := range f.accounts {
		if acc.ID == accountID {
			acc.CoinBalance += rewardCoins
			return false, nil
		}
	}
	return false, repository.ErrAccountNotFound
}

func (f *fakeRepo) CreateAccountWithCompletion(ctx context.Context, ident, displayName, email string, lessonID, rewardCoins int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.accounts[ident]; ok {
		return 0, repository.ErrAccountExists
	}

	f.nextAccountID++
	f.accounts[ident] = &model.Account{
		ID:          f.nextAccountID,
		Identity:    ident,
		DisplayName: displayName,
		Email:       email,
		CoinBalance: rewardCoins,
		CurrentDay:  1,
	}
	f.completions[completionKey{accountID: f.nextAccountID, lessonID: lessonID}] = true
	return f.nextAccountID, nil
}

func (f *fakeRepo) addLesson(title string, reward int64) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextLessonID++
	f.lessons[f.nextLessonID] = &model.Lesson{
		ID:          f.nextLessonID,
		Title:       title,
		RewardCoins: reward,
	}
	return f.nextLessonID
}

func testIdentity(subject string) *identity.Identity {
	return &identity.Identity{Subject: subject, Name: "Test User", Email: "test@example.com"}
}

func TestEnsureAccount_Unauthenticated(t *testing.T) {
	svc := NewService(newFakeRepo())

	_, err := svc.EnsureAccount(context.Background(), nil)
	if !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}

	_, err = svc.EnsureAccount(context.Background(), &identity.Identity{})
	if !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated for empty subject, got %v", err)
	}
}

func TestEnsureAccount_CreatesWithDefaults(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)

	acc, err := svc.EnsureAccount(context.Background(), &identity.Identity{Subject: "u1"})
	if err != nil {
		t.Fatalf("EnsureAccount error: %v", err)
	}

	if acc.CoinBalance != 10000 {
		t.Fatalf("CoinBalance = %d, want 10000", acc.CoinBalance)
	}
	if acc.DisplayName != "New User" {
		t.Fatalf("DisplayName = %q, want %q", acc.DisplayName, "New User")
	}
	if len(acc.CompletedLessons) != 0 {
		t.Fatalf("CompletedLessons = %v, want empty", acc.CompletedLessons)
	}
	if acc.CurrentDay != 1 {
		t.Fatalf("CurrentDay = %d, want 1", acc.CurrentDay)
	}
}

func TestEnsureAccount_SecondCallPerformsZeroWrites(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)

	first, err := svc.EnsureAccount(context.Background(), testIdentity("u1"))
	if err != nil {
		t.Fatalf("first EnsureAccount error: %v", err)
	}

	second, err := svc.EnsureAccount(context.Background(), testIdentity("u1"))
	if err != nil {
		t.Fatalf("second EnsureAccount error: %v", err)
	}

	if first.ID != second.ID {
		t.Fatalf("account ids differ: %d and %d", first.ID, second.ID)
	}
	if repo.createAccountCalls != 1 {
		t.Fatalf("createAccountCalls = %d, want 1", repo.createAccountCalls)
	}
}

func TestEnsureAccount_RetriesOnDuplicateInsert(t *testing.T) {
	repo := newFakeRepo()
	if _, err := repo.CreateAccount(context.Background(), "u1", "Winner", "", 10000); err != nil {
		t.Fatalf("seed account: %v", err)
	}
	// Первое чтение не видит счёт, вставка падает на уникальности,
	// повтор обязан перечитать и вернуть счёт победителя.
	repo.notFoundOnce = true

	svc := NewService(repo)

	acc, err := svc.EnsureAccount(context.Background(), testIdentity("u1"))
	if err != nil {
		t.Fatalf("EnsureAccount error: %v", err)
	}
	if acc.DisplayName != "Winner" {
		t.Fatalf("DisplayName = %q, want %q (existing account untouched)", acc.DisplayName, "Winner")
	}
}

func TestSetProfile_PatchesOnlyName(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)

	if _, err := svc.EnsureAccount(context.Background(), testIdentity("u1")); err != nil {
		t.Fatalf("EnsureAccount error: %v", err)
	}

	acc, err := svc.SetProfile(context.Background(), testIdentity("u1"), "Alice")
	if err != nil {
		t.Fatalf("SetProfile error: %v", err)
	}

	if acc.DisplayName != "Alice" {
		t.Fatalf("DisplayName = %q, want Alice", acc.DisplayName)
	}
	if acc.CoinBalance != 10000 {
		t.Fatalf("CoinBalance = %d, want 10000 (balance untouched)", acc.CoinBalance)
	}
	if repo.updateNameCalls != 1 {
		t.Fatalf("updateNameCalls = %d, want 1", repo.updateNameCalls)
	}
}

func TestSetProfile_CreatesAccountWithName(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)

	acc, err := svc.SetProfile(context.Background(), testIdentity("u1"), "Alice")
	if err != nil {
		t.Fatalf("SetProfile error: %v", err)
	}

	if acc.DisplayName != "Alice" {
		t.Fatalf("DisplayName = %q, want Alice", acc.DisplayName)
	}
	if acc.CoinBalance != 10000 {
		t.Fatalf("CoinBalance = %d, want 10000", acc.CoinBalance)
	}
}

func TestCompleteLesson_LessonNotFound(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)

	_, err := svc.CompleteLesson(context.Background(), testIdentity("u1"), 404)
	if !errors.Is(err, repository.ErrLessonNotFound) {
		t.Fatalf("expected ErrLessonNotFound, got %v", err)
	}
}

func TestCompleteLesson_GrantsRewardOnce(t *testing.T) {
	repo := newFakeRepo()
	lessonID := repo.addLesson("Stocks", 1000)
	svc := NewService(repo)

	if _, err := svc.EnsureAccount(context.Background(), testIdentity("u1")); err != nil {
		t.Fatalf("EnsureAccount error: %v", err)
	}

	acc, err := svc.CompleteLesson(context.Background(), testIdentity("u1"), lessonID)
	if err != nil {
		t.Fatalf("CompleteLesson error: %v", err)
	}
	if acc.CoinBalance != 11000 {
		t.Fatalf("CoinBalance = %d, want 11000", acc.CoinBalance)
	}
	if len(acc.CompletedLessons) != 1 || acc.CompletedLessons[0] != lessonID {
		t.Fatalf("CompletedLessons = %v, want [%d]", acc.CompletedLessons, lessonID)
	}

	// Повторное прохождение того же урока ничего не меняет.
	acc, err = svc.CompleteLesson(context.Background(), testIdentity("u1"), lessonID)
	if err != nil {
		t.Fatalf("repeated CompleteLesson error: %v", err)
	}
	if acc.CoinBalance != 11000 {
		t.Fatalf("CoinBalance after retry = %d, want 11000", acc.CoinBalance)
	}
	if len(acc.CompletedLessons) != 1 {
		t.Fatalf("CompletedLessons after retry = %v, want one entry", acc.CompletedLessons)
	}
}

func TestCompleteLesson_BootstrapsAccount(t *testing.T) {
	repo := newFakeRepo()
	lessonID := repo.addLesson("Bonds", 1000)
	svc := NewService(repo)

	acc, err := svc.CompleteLesson(context.Background(), testIdentity("fresh"), lessonID)
	if err != nil {
		t.Fatalf("CompleteLesson error: %v", err)
	}

	// Путь начальной загрузки: баланс равен награде, без стартового гранта.
	if acc.CoinBalance != 1000 {
		t.Fatalf("CoinBalance = %d, want 1000", acc.CoinBalance)
	}
	if len(acc.CompletedLessons) != 1 || acc.CompletedLessons[0] != lessonID {
		t.Fatalf("CompletedLessons = %v, want [%d]", acc.CompletedLessons, lessonID)
	}
}

func TestCompleteLesson_BootstrapLosesRaceToEnsure(t *testing.T) {
	repo := newFakeRepo()
	lessonID := repo.addLesson("ETFs", 1000)
	if _, err := repo.CreateAccount(context.Background(), "u1", "Winner", "", 10000); err != nil {
		t.Fatalf("seed account: %v", err)
	}
	repo.notFoundOnce = true

	svc := NewService(repo)

	acc, err := svc.CompleteLesson(context.Background(), testIdentity("u1"), lessonID)
	if err != nil {
		t.Fatalf("CompleteLesson error: %v", err)
	}

	// Счёт создан параллельным EnsureAccount: награда добавляется к его балансу.
	if acc.CoinBalance != 11000 {
		t.Fatalf("CoinBalance = %d, want 11000", acc.CoinBalance)
	}
}

func TestCompleteLesson_ConcurrentCallsGrantExactlyOnce(t *testing.T) {
	repo := newFakeRepo()
	lessonID := repo.addLesson("Crypto", 1000)
	svc := NewService(repo)

	if _, err := svc.EnsureAccount(context.Background(), testIdentity("u1")); err != nil {
		t.Fatalf("EnsureAccount error: %v", err)
	}

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.CompleteLesson(context.Background(), testIdentity("u1"), lessonID); err != nil {
				errs <- err
			}
		}()
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent CompleteLesson error: %v", err)
	}

	acc, err := svc.GetAccount(context.Background(), testIdentity("u1"))
	if err != nil {
		t.Fatalf("GetAccount error: %v", err)
	}
	if acc.CoinBalance != 11000 {
		t.Fatalf("CoinBalance = %d, want 11000 (reward applied exactly once)", acc.CoinBalance)
	}
}

func TestCompleteLesson_BalanceIsGrantPlusDistinctRewards(t *testing.T) {
	repo := newFakeRepo()
	first := repo.addLesson("Stocks", 1000)
	second := repo.addLesson("Bonds", 700)
	svc := NewService(repo)

	ident := testIdentity("u1")
	if _, err := svc.EnsureAccount(context.Background(), ident); err != nil {
		t.Fatalf("EnsureAccount error: %v", err)
	}

	for _, lessonID := range []int64{first, second, first, second, first} {
		if _, err := svc.CompleteLesson(context.Background(), ident, lessonID); err != nil {
			t.Fatalf("CompleteLesson(%d) error: %v", lessonID, err)
		}
	}

	acc, err := svc.GetAccount(context.Background(), ident)
	if err != nil {
		t.Fatalf("GetAccount error: %v", err)
	}
	if want := int64(10000 + 1000 + 700); acc.CoinBalance != want {
		t.Fatalf("CoinBalance = %d, want %d", acc.CoinBalance, want)
	}
	if len(acc.CompletedLessons) != 2 {
		t.Fatalf("CompletedLessons = %v, want 2 distinct lessons", acc.CompletedLessons)
	}
}

func TestGetAccount_NilWhenAbsent(t *testing.T) {
	svc := NewService(newFakeRepo())

	acc, err := svc.GetAccount(context.Background(), testIdentity("nobody"))
	if err != nil {
		t.Fatalf("GetAccount error: %v", err)
	}
	if acc != nil {
		t.Fatalf("expected nil account, got %+v", acc)
	}
}

func TestSeedCatalog_Idempotent(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)

	first, err := svc.SeedCatalog(context.Background())
	if err != nil {
		t.Fatalf("SeedCatalog error: %v", err)
	}
	if len(first) != 6 {
		t.Fatalf("seeded %d lessons, want 6", len(first))
	}

	second, err := svc.SeedCatalog(context.Background())
	if err != nil {
		t.Fatalf("second SeedCatalog error: %v", err)
	}
	if len(second) != 6 {
		t.Fatalf("second seed returned %d lessons, want 6", len(second))
	}

	lessons, err := svc.ListLessons(context.Background())
	if err != nil {
		t.Fatalf("ListLessons error: %v", err)
	}
	if len(lessons) != 6 {
		t.Fatalf("catalog holds %d lessons after reseeding, want 6", len(lessons))
	}
}

func TestSeedCatalog_TopsUpPartialCatalog(t *testing.T) {
	repo := newFakeRepo()
	repo.addLesson("Stocks", 1000)
	svc := NewService(repo)

	if _, err := svc.SeedCatalog(context.Background()); err != nil {
		t.Fatalf("SeedCatalog error: %v", err)
	}

	lessons, err := svc.ListLessons(context.Background())
	if err != nil {
		t.Fatalf("ListLessons error: %v", err)
	}
	// Существующий Stocks не дублируется, недостающие пять добавляются.
	if len(lessons) != 6 {
		t.Fatalf("catalog holds %d lessons, want 6", len(lessons))
	}
}

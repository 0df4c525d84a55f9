// Package service реализует бизнес-логику сервиса финлёрн.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/finlearn-system/internal/catalog"
	"github.com/mmeshcher/finlearn-system/internal/identity"
	"github.com/mmeshcher/finlearn-system/internal/model"
	"github.com/mmeshcher/finlearn-system/internal/repository"
)

// ErrUnauthenticated возвращается, если операция вызвана без проверенной личности.
var ErrUnauthenticated = errors.New("no verified identity")

// Стартовый баланс нового счёта.
const startingCoinBalance = 10000

const defaultDisplayName = "New User"

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateAccount(ctx context.Context, identity, displayName, email string, coinBalance int64) (int64, error)
	GetAccountByIdentity(ctx context.Context, identity string) (*model.Account, error)
	UpdateDisplayName(ctx context.Context, accountID int64, displayName string) error
	ListLessons(ctx context.Context) ([]model.Lesson, error)
	GetLesson(ctx context.Context, lessonID int64) (*model.Lesson, error)
	UpsertLesson(ctx context.Context, lesson model.Lesson) (int64, bool, error)
	CompleteLesson(ctx context.Context, accountID, lessonID, rewardCoins int64) (bool, error)
	CreateAccountWithCompletion(ctx context.Context, identity, displayName, email string, lessonID, rewardCoins int64) (int64, error)
}

// Service содержит бизнес-логику сервиса финлёрн.
type Service struct {
	repo Repository
}

// NewService создаёт новый сервис с указанным репозиторием.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// Гонка check-then-insert по уникальной личности разрешается повтором:
// проигравший вставку перечитывает счёт победителя.
func conflictBackoff() retry.Backoff {
	return retry.WithMaxRetries(3, retry.NewConstant(50*time.Millisecond))
}

// EnsureAccount возвращает счёт для указанной личности, создавая его при первом обращении.
// Существующий счёт возвращается без изменений.
func (s *Service) EnsureAccount(ctx context.Context, ident *identity.Identity) (*model.Account, error) {
	if ident == nil || ident.Subject == "" {
		return nil, ErrUnauthenticated
	}

	displayName := ident.Name
	if displayName == "" {
		displayName = defaultDisplayName
	}

	var acc *model.Account
	err := retry.Do(ctx, conflictBackoff(), func(ctx context.Context) error {
		existing, err := s.repo.GetAccountByIdentity(ctx, ident.Subject)
		if err == nil {
			acc = existing
			return nil
		}
		if !errors.Is(err, repository.ErrAccountNotFound) {
			return err
		}

		if _, err := s.repo.CreateAccount(ctx, ident.Subject, displayName, ident.Email, startingCoinBalance); err != nil {
			if errors.Is(err, repository.ErrAccountExists) {
				return retry.RetryableError(err)
			}
			return err
		}

		created, err := s.repo.GetAccountByIdentity(ctx, ident.Subject)
		if err != nil {
			return err
		}
		acc = created
		return nil
	})
	if err != nil {
		return nil, err
	}

	return acc, nil
}

// GetAccount возвращает снимок счёта или nil, если счёт ещё не создан.
func (s *Service) GetAccount(ctx context.Context, ident *identity.Identity) (*model.Account, error) {
	if ident == nil || ident.Subject == "" {
		return nil, ErrUnauthenticated
	}

	acc, err := s.repo.GetAccountByIdentity(ctx, ident.Subject)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return acc, nil
}

// SetProfile идемпотентно устанавливает отображаемое имя: создаёт счёт с этим
// именем при отсутствии, иначе меняет только имя.
func (s *Service) SetProfile(ctx context.Context, ident *identity.Identity, displayName string) (*model.Account, error) {
	if ident == nil || ident.Subject == "" {
		return nil, ErrUnauthenticated
	}

	var acc *model.Account
	err := retry.Do(ctx, conflictBackoff(), func(ctx context.Context) error {
		existing, err := s.repo.GetAccountByIdentity(ctx, ident.Subject)
		if err == nil {
			if err := s.repo.UpdateDisplayName(ctx, existing.ID, displayName); err != nil {
				return err
			}
			existing.DisplayName = displayName
			acc = existing
			return nil
		}
		if !errors.Is(err, repository.ErrAccountNotFound) {
			return err
		}

		if _, err := s.repo.CreateAccount(ctx, ident.Subject, displayName, ident.Email, startingCoinBalance); err != nil {
			if errors.Is(err, repository.ErrAccountExists) {
				return retry.RetryableError(err)
			}
			return err
		}

		created, err := s.repo.GetAccountByIdentity(ctx, ident.Subject)
		if err != nil {
			return err
		}
		acc = created
		return nil
	})
	if err != nil {
		return nil, err
	}

	return acc, nil
}

// ListLessons возвращает все уроки каталога.
func (s *Service) ListLessons(ctx context.Context) ([]model.Lesson, error) {
	return s.repo.ListLessons(ctx)
}

// GetLesson возвращает урок по идентификатору.
func (s *Service) GetLesson(ctx context.Context, lessonID int64) (*model.Lesson, error) {
	return s.repo.GetLesson(ctx, lessonID)
}

// CompleteLesson отмечает урок пройденным и начисляет награду ровно один раз
// на пару (счёт, урок). Повторный вызов возвращает счёт без изменений.
func (s *Service) CompleteLesson(ctx context.Context, ident *identity.Identity, lessonID int64) (*model.Account, error) {
	if ident == nil || ident.Subject == "" {
		return nil, ErrUnauthenticated
	}

	var (
		acc    *model.Account
		lesson *model.Lesson
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		existing, err := s.repo.GetAccountByIdentity(gctx, ident.Subject)
		if err != nil && !errors.Is(err, repository.ErrAccountNotFound) {
			return err
		}
		acc = existing
		return nil
	})

	g.Go(func() error {
		l, err := s.repo.GetLesson(gctx, lessonID)
		if err != nil {
			return err
		}
		lesson = l
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	displayName := ident.Name
	if displayName == "" {
		displayName = defaultDisplayName
	}

	err := retry.Do(ctx, conflictBackoff(), func(ctx context.Context) error {
		if acc == nil {
			// Личность впервые видна при прохождении урока: создаём счёт сразу
			// с отметкой о прохождении и балансом, равным награде.
			_, err := s.repo.CreateAccountWithCompletion(ctx, ident.Subject, displayName, ident.Email, lesson.ID, lesson.RewardCoins)
			if err == nil {
				return nil
			}
			if errors.Is(err, repository.ErrAccountExists) {
				existing, getErr := s.repo.GetAccountByIdentity(ctx, ident.Subject)
				if getErr != nil {
					return getErr
				}
				acc = existing
				return retry.RetryableError(err)
			}
			return err
		}

		_, err := s.repo.CompleteLesson(ctx, acc.ID, lesson.ID, lesson.RewardCoins)
		return err
	})
	if err != nil {
		return nil, err
	}

	return s.repo.GetAccountByIdentity(ctx, ident.Subject)
}

// SeedCatalog заполняет каталог встроенным набором уроков. Вставка выполняется
// поурочно по уникальному заголовку, поэтому повторный вызов ничего не дублирует.
func (s *Service) SeedCatalog(ctx context.Context) ([]model.Lesson, error) {
	seed, err := catalog.SeedLessons()
	if err != nil {
		return nil, err
	}

	lessons := make([]model.Lesson, 0, len(seed))
	for _, l := range seed {
		id, _, err := s.repo.UpsertLesson(ctx, l)
		if err != nil {
			return nil, err
		}
		l.ID = id
		lessons = append(lessons, l)
	}

	return lessons, nil
}

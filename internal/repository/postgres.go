// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/mmeshcher/finlearn-system/internal/model"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrAccountExists возвращается при попытке создать счёт для уже известной личности.
var (
	ErrAccountExists = errors.New("account already exists")
	// ErrAccountNotFound возвращается, если счёт не найден.
	ErrAccountNotFound = errors.New("account not found")
	// ErrLessonNotFound возвращается, если урок не найден.
	ErrLessonNotFound = errors.New("lesson not found")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		// Если ошибка контекста — выходим сразу
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		// Ретраи полезны для Serialization Failure или Deadlocks.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		// Если это не pg-ошибка, но сетевая
		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateAccount создаёт новый счёт для указанной личности.
func (r *PostgresRepository) CreateAccount(ctx context.Context, identity, displayName, email string, coinBalance int64) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO accounts (identity, display_name, email, coin_balance) VALUES ($1, $2, $3, $4) RETURNING id`,
		identity, displayName, email, coinBalance,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrAccountExists, identity)
		}
		return 0, fmt.Errorf("create account: %w", err)
	}
	return id, nil
}

// GetAccountByIdentity возвращает счёт по внешней личности вместе со списками
// пройденных уроков и наград.
func (r *PostgresRepository) GetAccountByIdentity(ctx context.Context, identity string) (*model.Account, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, identity, display_name, email, coin_balance, current_day, group_id, created_at
		 FROM accounts WHERE identity = $1`,
		identity,
	)

	var a model.Account
	err := row.Scan(&a.ID, &a.Identity, &a.DisplayName, &a.Email, &a.CoinBalance, &a.CurrentDay, &a.GroupID, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}

	a.CompletedLessons, err = r.getCompletedLessons(ctx, a.ID)
	if err != nil {
		return nil, err
	}

	a.Awards, err = r.getAwards(ctx, a.ID)
	if err != nil {
		return nil, err
	}

	return &a, nil
}

func (r *PostgresRepository) getCompletedLessons(ctx context.Context, accountID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT lesson_id FROM completions WHERE account_id = $1 ORDER BY completed_at`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("select completions: %w", err)
	}
	defer rows.Close()

	var res []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan completion: %w", err)
		}
		res = append(res, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

func (r *PostgresRepository) getAwards(ctx context.Context, accountID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT award_id FROM account_awards WHERE account_id = $1 ORDER BY granted_at`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("select awards: %w", err)
	}
	defer rows.Close()

	var res []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan award: %w", err)
		}
		res = append(res, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// UpdateDisplayName обновляет отображаемое имя счёта, не трогая остальные поля.
func (r *PostgresRepository) UpdateDisplayName(ctx context.Context, accountID int64, displayName string) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE accounts SET display_name = $2 WHERE id = $1`,
		accountID, displayName,
	)
	if err != nil {
		return fmt.Errorf("update display name: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// ListLessons возвращает все уроки каталога в стабильном порядке.
func (r *PostgresRepository) ListLessons(ctx context.Context) ([]model.Lesson, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, title, icon, slides, quiz, reward_coins, created_at
		 FROM lessons
		 ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("select lessons: %w", err)
	}
	defer rows.Close()

	var lessons []model.Lesson
	for rows.Next() {
		var l model.Lesson
		if err := rows.Scan(&l.ID, &l.Title, &l.Icon, &l.Slides, &l.Quiz, &l.RewardCoins, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan lesson: %w", err)
		}
		lessons = append(lessons, l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return lessons, nil
}

// GetLesson возвращает урок по идентификатору.
func (r *PostgresRepository) GetLesson(ctx context.Context, lessonID int64) (*model.Lesson, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, title, icon, slides, quiz, reward_coins, created_at
		 FROM lessons WHERE id = $1`,
		lessonID,
	)

	var l model.Lesson
	err := row.Scan(&l.ID, &l.Title, &l.Icon, &l.Slides, &l.Quiz, &l.RewardCoins, &l.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLessonNotFound
		}
		return nil, fmt.Errorf("get lesson: %w", err)
	}

	return &l, nil
}

// UpsertLesson вставляет урок, если урока с таким заголовком ещё нет.
// Возвращает идентификатор урока и признак того, что строка была вставлена.
func (r *PostgresRepository) UpsertLesson(ctx context.Context, lesson model.Lesson) (int64, bool, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO lessons (title, icon, slides, quiz, reward_coins)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (title) DO NOTHING
		 RETURNING id`,
		lesson.Title, lesson.Icon, lesson.Slides, lesson.Quiz, lesson.RewardCoins,
	).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, fmt.Errorf("upsert lesson: %w", err)
	}

	// Конфликт по заголовку: урок уже существует, читаем его идентификатор.
	err = r.pool.QueryRow(ctx,
		`SELECT id FROM lessons WHERE title = $1`,
		lesson.Title,
	).Scan(&id)
	if err != nil {
		return 0, false, fmt.Errorf("select existing lesson: %w", err)
	}

	return id, false, nil
}

// CompleteLesson отмечает урок пройденным и начисляет награду ровно один раз.
// Проверка членства и изменение баланса выполняются в одной транзакции с
// блокировкой строки счёта, поэтому параллельные вызовы не могут начислить
// награду дважды. Возвращает признак того, что урок уже был пройден.
func (r *PostgresRepository) CompleteLesson(ctx context.Context, accountID, lessonID, rewardCoins int64) (bool, error) {
	var alreadyCompleted bool

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		// Блокируем строку счёта: сериализует параллельные прохождения одного урока.
		var dummy int
		err = tx.QueryRow(ctx, `SELECT 1 FROM accounts WHERE id = $1 FOR UPDATE`, accountID).Scan(&dummy)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrAccountNotFound
			}
			return fmt.Errorf("lock account for update: %w", err)
		}

		cmdTag, err := tx.Exec(ctx,
			`INSERT INTO completions (account_id, lesson_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			accountID, lessonID,
		)
		if err != nil {
			return fmt.Errorf("insert completion: %w", err)
		}

		inserted := cmdTag.RowsAffected() == 1

		if inserted {
			_, err = tx.Exec(ctx,
				`UPDATE accounts SET coin_balance = coin_balance + $2 WHERE id = $1`,
				accountID, rewardCoins,
			)
			if err != nil {
				return fmt.Errorf("apply reward: %w", err)
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		alreadyCompleted = !inserted
		return nil
	})
	if err != nil {
		return false, err
	}

	return alreadyCompleted, nil
}

// CreateAccountWithCompletion создаёт счёт с уже отмеченным уроком и балансом,
// равным награде за него. Путь начальной загрузки для личности, впервые
// увиденной при прохождении урока.
func (r *PostgresRepository) CreateAccountWithCompletion(ctx context.Context, identity, displayName, email string, lessonID, rewardCoins int64) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO accounts (identity, display_name, email, coin_balance) VALUES ($1, $2, $3, $4) RETURNING id`,
		identity, displayName, email, rewardCoins,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrAccountExists, identity)
		}
		return 0, fmt.Errorf("create account: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO completions (account_id, lesson_id) VALUES ($1, $2)`,
		id, lessonID,
	)
	if err != nil {
		return 0, fmt.Errorf("insert completion: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}

	return id, nil
}

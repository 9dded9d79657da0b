package integration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"quiz-session-sync/internal/app"
	"quiz-session-sync/internal/domain"
	"quiz-session-sync/internal/infra/postgres"
	pgmigrations "quiz-session-sync/internal/infra/postgres/migrations"
	infraredis "quiz-session-sync/internal/infra/redis"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"
	"golang.org/x/sync/errgroup"
)

var correctAnswers = map[string]string{"q1": "4", "q2": "6", "q3": "8"}

func TestSessionLifecycleEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	migrateAndSeed(t, ctx, pgURL)

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	store := postgres.NewSessionStore(pool)
	catalog := postgres.NewCatalog(pool)
	bank := infraredis.NewQuestionBank(redisClient, catalog, 5*time.Minute)
	bus := infraredis.NewBus(redisClient, time.Minute)
	coordinator := app.NewSessionCoordinator(store, bank, bus, app.CoordinatorOptions{})

	themes, err := app.NewThemeResolver(catalog, domain.Settings{}).GetThemeAvailability(ctx, app.ThemeQuery{QuestionCount: 3, Language: "fr"})
	if err != nil {
		t.Fatalf("themes: %v", err)
	}
	if len(themes) != 1 || themes[0].Slug != "quran" || themes[0].Label != "Coran" {
		t.Fatalf("unexpected themes %+v", themes)
	}

	created, err := coordinator.CreateSession(ctx, app.CreateSessionInput{
		Mode:         domain.ModeGroup,
		CategorySlug: "Le Saint Coran",
		Settings:     domain.SettingsInput{QuestionCount: intPtr(3)},
		HostUserID:   "u1",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := coordinator.JoinSessionByCode(ctx, strings.ToLower(created.JoinCode), "u2", "Bob"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := coordinator.StartSession(ctx, created.SessionID); err != nil {
		t.Fatalf("start: %v", err)
	}

	snapshot, err := coordinator.GetSessionSnapshot(ctx, created.SessionID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	answer := correctAnswers[snapshot.Session.QuestionIDs[0]]

	for _, stepwise := range []bool{false, true} {
		pipeline := app.NewAnswerPipeline(store, bank, bus, app.AnswerPipelineOptions{Stepwise: stepwise})
		user := "u1"
		if stepwise {
			user = "u2"
		}
		var mu sync.Mutex
		fresh := 0
		var g errgroup.Group
		for i := 0; i < 5; i++ {
			g.Go(func() error {
				result, err := pipeline.SubmitAnswer(ctx, app.SubmitAnswerInput{
					SessionID: created.SessionID, UserID: user, QuestionIndex: 0, SelectedAnswer: answer,
				})
				if err != nil {
					return err
				}
				if !result.AlreadyAnswered {
					mu.Lock()
					fresh++
					mu.Unlock()
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			t.Fatalf("submit (stepwise=%v): %v", stepwise, err)
		}
		if fresh != 1 {
			t.Fatalf("expected exactly one recorded submission (stepwise=%v), got %d", stepwise, fresh)
		}
	}

	snapshot, err = coordinator.GetSessionSnapshot(ctx, created.SessionID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snapshot.Answers) != 2 {
		t.Fatalf("expected 2 answer rows, got %d", len(snapshot.Answers))
	}
	for _, p := range snapshot.Players {
		if p.Score != 1 {
			t.Fatalf("expected score 1 for %s, got %d", p.DisplayName, p.Score)
		}
	}

	// A timer for an index that has already passed must not skip a question.
	if _, err := coordinator.AdvanceQuestion(ctx, created.SessionID); err != nil {
		t.Fatalf("advance: %v", err)
	}
	session, changed, err := coordinator.RequestAdvance(ctx, created.SessionID, 0)
	if err != nil || changed || session.CurrentQuestionIndex != 1 {
		t.Fatalf("expected outdated request to be a no-op, got index=%d changed=%v err=%v", session.CurrentQuestionIndex, changed, err)
	}

	ledger := app.NewLifelineLedger(store, bus, nil)
	player := snapshot.Players[0].ID
	if _, err := ledger.ConsumeLifeline(ctx, created.SessionID, player, domain.LifelineHelp); err != nil {
		t.Fatalf("help: %v", err)
	}
	if _, err := ledger.ConsumeLifeline(ctx, created.SessionID, player, domain.LifelineHelp); !errors.Is(err, domain.ErrNoLifelinesLeft) {
		t.Fatalf("expected no lifelines left, got %v", err)
	}

	for i := 0; i < 3; i++ {
		session, err = coordinator.AdvanceQuestion(ctx, created.SessionID)
		if err != nil {
			t.Fatalf("advance: %v", err)
		}
	}
	if session.State != domain.StateFinished || session.CurrentQuestionIndex != 2 {
		t.Fatalf("expected finished at last index, got %+v", session)
	}
}

func TestAttemptUpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	migrateAndSeed(t, ctx, pgURL)

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()
	attempts := postgres.NewAttemptStore(pool)

	record := domain.AttemptRecord{
		UserID:         "u1",
		LocalSessionID: "local-1",
		Mode:           domain.ModeHotseat,
		CategoryID:     "cat-quran",
		Score:          6,
		TotalQuestions: 10,
		Accuracy:       60,
		DurationSec:    120,
		CompletedAt:    time.Now().UTC(),
		Source:         domain.OfflineSource,
	}
	for i := 0; i < 3; i++ {
		if err := attempts.UpsertAttempt(ctx, record); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	n, err := attempts.CountAttempts(ctx, "u1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one attempt row, got %d", n)
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://quiz:quizpass@%s:%s/quizdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

// migrateAndSeed applies the schema and inserts one enabled category with three questions and a
// disabled one.
func migrateAndSeed(t *testing.T, ctx context.Context, dsn string) {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	statements := []string{
		`INSERT INTO quiz_categories (id, slug, name, localized_names, enabled, min_question_count, sort_order)
			VALUES ('cat-quran', 'quran', 'Quran', '{"fr":"Coran"}', TRUE, 3, 1),
			       ('cat-fiqh', 'fiqh', 'Fiqh', '{}', FALSE, 1, 2)`,
		`INSERT INTO quizzes (id, category_id, title) VALUES ('quiz-quran', 'cat-quran', 'Starter'), ('quiz-fiqh', 'cat-fiqh', 'Starter')`,
		`INSERT INTO quiz_questions (id, quiz_id, text, options, correct_answer, sort_order) VALUES
			('q1', 'quiz-quran', '2+2?', '["3","4"]', '4', 1),
			('q2', 'quiz-quran', '3+3?', '["6","7"]', '6', 2),
			('q3', 'quiz-quran', '4+4?', '["8","9"]', '8', 3),
			('q4', 'quiz-quran', 'retired', '["a","b"]', 'a', 4),
			('f1', 'quiz-fiqh', 'hidden', '["a","b"]', 'a', 1)`,
		`UPDATE quiz_questions SET is_active = FALSE WHERE id = 'q4'`,
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}

func intPtr(v int) *int { return &v }

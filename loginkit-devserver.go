package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	authhttp "github.com/open-rails/loginkit/adapters/http"
	"github.com/open-rails/loginkit/core"
	pgmigrations "github.com/open-rails/loginkit/migrations/postgres"
	memorystore "github.com/open-rails/loginkit/storage/memory"
	pgstore "github.com/open-rails/loginkit/storage/postgres"
)

type config struct {
	ListenAddr     string
	BackendURL     string
	RedisURL       string
	DBURL          string
	MigrateOnStart bool

	DevMode          bool
	DevUser          string
	DevPasswordHash  string
	DevSessionSecret string

	LoginsDisabled bool
	OIDCName       string
	OIDCIssuer     string
	OIDCClientID   string
	OIDCPKCE       bool
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fatal(err)
	}

	cmd := "serve"
	if len(os.Args) > 1 && strings.TrimSpace(os.Args[1]) != "" {
		cmd = strings.TrimSpace(os.Args[1])
	}

	switch cmd {
	case "serve":
		if err := runServe(cfg); err != nil {
			fatal(err)
		}
	case "migrate":
		if err := runMigrate(cfg); err != nil {
			fatal(err)
		}
	default:
		fatal(fmt.Errorf("unknown command %q (supported: serve, migrate)", cmd))
	}
}

func loadConfig() (*config, error) {
	c := &config{
		ListenAddr:     envOr("LOGINKIT_LISTEN_ADDR", ":8080"),
		BackendURL:     strings.TrimRight(strings.TrimSpace(os.Getenv("LOGINKIT_BACKEND_URL")), "/"),
		RedisURL:       firstEnv("REDIS_URL", "LOGINKIT_REDIS_URL"),
		DBURL:          firstEnv("DB_URL", "DATABASE_URL"),
		MigrateOnStart: envBool("LOGINKIT_MIGRATE_ON_START", true),

		DevMode:          envBool("LOGINKIT_DEV_MODE", false),
		DevUser:          envOr("LOGINKIT_DEV_USER", "admin"),
		DevPasswordHash:  strings.TrimSpace(os.Getenv("LOGINKIT_DEV_PASSWORD_HASH")),
		DevSessionSecret: strings.TrimSpace(os.Getenv("LOGINKIT_DEV_SESSION_SECRET")),

		LoginsDisabled: envBool("LOGINKIT_USER_LOGINS_DISABLED", false),
		OIDCName:       strings.TrimSpace(os.Getenv("LOGINKIT_OIDC_NAME")),
		OIDCIssuer:     strings.TrimRight(strings.TrimSpace(os.Getenv("LOGINKIT_OIDC_ISSUER")), "/"),
		OIDCClientID:   strings.TrimSpace(os.Getenv("LOGINKIT_OIDC_CLIENT_ID")),
		OIDCPKCE:       envBool("LOGINKIT_OIDC_PKCE", true),
	}
	if !c.DevMode && c.BackendURL == "" {
		return nil, fmt.Errorf("LOGINKIT_BACKEND_URL is required (or set LOGINKIT_DEV_MODE=true)")
	}
	if c.DevMode && c.DevPasswordHash == "" && !c.LoginsDisabled {
		return nil, fmt.Errorf("LOGINKIT_DEV_PASSWORD_HASH (bcrypt) is required when LOGINKIT_DEV_MODE=true")
	}
	if c.DevMode && c.DevSessionSecret == "" {
		return nil, fmt.Errorf("LOGINKIT_DEV_SESSION_SECRET is required when LOGINKIT_DEV_MODE=true")
	}
	return c, nil
}

func runServe(cfg *config) error {
	ctx := context.Background()

	svc := authhttp.NewService(core.Config{}, cfg.BackendURL)

	if cfg.DevMode {
		dev := newDevBackend(cfg)
		svc.WithBackend(dev, dev)
	}

	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		svc.WithRedis(redis.NewClient(opt))
	} else {
		kv := memorystore.NewKV()
		svc.WithEphemeralStore(kv, core.EphemeralMemory)
		go sweepLoop(kv)
	}

	if cfg.DBURL != "" {
		if cfg.MigrateOnStart {
			if err := runMigrations(ctx, cfg.DBURL); err != nil {
				return err
			}
		}
		pg, err := pgxpool.New(ctx, cfg.DBURL)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pg.Close()
		svc.WithSigninLogger(pgstore.NewSigninLog(pg))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","ephemeral":%q}`+"\n", svc.EphemeralMode())
	})
	mux.Handle("/", svc.Handler())

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Printf("loginkit devserver listening on %s (ephemeral=%s)", cfg.ListenAddr, svc.EphemeralMode())
	return server.ListenAndServe()
}

func runMigrate(cfg *config) error {
	if cfg.DBURL == "" {
		return fmt.Errorf("DB_URL (or DATABASE_URL) is required to migrate")
	}
	return runMigrations(context.Background(), cfg.DBURL)
}

func runMigrations(ctx context.Context, dbURL string) error {
	sqlDB, err := sql.Open("pgx", dbURL)
	if err != nil {
		return fmt.Errorf("open sql db: %w", err)
	}
	defer sqlDB.Close()

	files, err := fs.Glob(pgmigrations.FS, "*.up.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	if len(files) == 0 {
		return fmt.Errorf("no postgres migrations found")
	}
	sort.Strings(files)

	for _, name := range files {
		sqlBytes, err := pgmigrations.FS.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if strings.TrimSpace(string(sqlBytes)) == "" {
			continue
		}
		if _, err := sqlDB.ExecContext(ctx, string(sqlBytes)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
	}
	return nil
}

// sweepLoop eagerly drops expired PKCE sessions from the in-memory store.
func sweepLoop(kv *memorystore.KV) {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for range t.C {
		kv.Sweep()
	}
}

// devBackend is a self-contained stand-in for the application backend: a
// single bcrypt-checked account and settings assembled from the environment.
type devBackend struct {
	settings *core.AuthSettings
	user     string
	hash     string
	secret   []byte
}

func newDevBackend(cfg *config) *devBackend {
	doc := &core.AuthSettings{UserLoginsDisabled: cfg.LoginsDisabled}
	if cfg.OIDCIssuer != "" {
		doc.OIDCConfig = &core.OIDCConfig{
			Name:                     cfg.OIDCName,
			Issuer:                   cfg.OIDCIssuer,
			ClientID:                 cfg.OIDCClientID,
			EnablePKCEAuthentication: cfg.OIDCPKCE,
		}
	}
	return &devBackend{
		settings: doc,
		user:     cfg.DevUser,
		hash:     cfg.DevPasswordHash,
		secret:   []byte(cfg.DevSessionSecret),
	}
}

func (b *devBackend) AuthSettings(ctx context.Context) (*core.AuthSettings, error) {
	return b.settings, nil
}

func (b *devBackend) Login(ctx context.Context, username, password string) (string, error) {
	if username != b.user ||
		bcrypt.CompareHashAndPassword([]byte(b.hash), []byte(password)) != nil {
		return "", core.NewError(core.KindCredential, "invalid username or password")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   username,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(24 * time.Hour)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(b.secret)
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

func envBool(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return b
}

func fatal(err error) {
	if err == nil {
		os.Exit(0)
	}
	if errors.Is(err, http.ErrServerClosed) {
		os.Exit(0)
	}
	fmt.Fprintln(os.Stderr, err.Error())
	os.Exit(1)
}

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/edukita/schoolboard/internal/api"
	"github.com/edukita/schoolboard/internal/attempt"
	"github.com/edukita/schoolboard/internal/event"
	"github.com/edukita/schoolboard/internal/identity"
	"github.com/edukita/schoolboard/internal/profile"
	"github.com/edukita/schoolboard/internal/quiz"
	"github.com/edukita/schoolboard/internal/session"
	"github.com/edukita/schoolboard/internal/telemetry"
)

type Config struct {
	HTTP struct {
		Port int32
	}

	Auth struct {
		JWTSecret     string
		TokenTTLHours int32
	}

	Redis struct {
		Profile struct {
			Addrs  []string
			Pass   string
			Prefix string
		}

		Pubsub struct {
			Addrs  []string
			Pass   string
			Prefix string
		}
	}

	Postgres struct {
		Identity struct {
			Addr string
			User string
			Pass string
			Name string
		}

		Quiz struct {
			Addr string
			User string
			Pass string
			Name string
		}
	}
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis struct {
			profile redis.UniversalClient
			pubsub  redis.UniversalClient
		}

		postgres struct {
			identity *pgxpool.Pool
			quiz     *pgxpool.Pool
		}
	}

	service struct {
		identity *identity.Service
		profiles *profile.Store
		session  *session.Service
		quiz     *quiz.Service
		attempt  *attempt.Service
	}

	http *http.Server
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	s.initService()
	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := s.initPostgres(); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	return nil
}

func (s *Server) initRedis() error {
	connect := func(addrs []string, pass string) (redis.UniversalClient, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		r := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    addrs,
			Password: pass,
		})

		if err := telemetry.MonitorRedis(r); err != nil {
			return nil, err
		}

		if err := r.Ping(ctx).Err(); err != nil {
			return nil, err
		}

		return r, nil
	}

	var err error
	s.infra.redis.profile, err = connect(s.c.Redis.Profile.Addrs, s.c.Redis.Profile.Pass)
	if err != nil {
		return fmt.Errorf("profile: %w", err)
	}

	s.infra.redis.pubsub, err = connect(s.c.Redis.Pubsub.Addrs, s.c.Redis.Pubsub.Pass)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}

	return nil
}

func (s *Server) initPostgres() (err error) {
	connect := func(addr, user, pass, name string) (*pgxpool.Pool, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s", user, pass, addr, name))
		if err != nil {
			return nil, err
		}

		db, err := pgxpool.NewWithConfig(ctx, cc)
		if err != nil {
			return nil, err
		}

		if err := db.Ping(ctx); err != nil {
			return nil, err
		}

		return db, nil
	}

	s.infra.postgres.identity, err = connect(s.c.Postgres.Identity.Addr, s.c.Postgres.Identity.User, s.c.Postgres.Identity.Pass, s.c.Postgres.Identity.Name)
	if err != nil {
		return fmt.Errorf("identity: %w", err)
	}

	s.infra.postgres.quiz, err = connect(s.c.Postgres.Quiz.Addr, s.c.Postgres.Quiz.User, s.c.Postgres.Quiz.Pass, s.c.Postgres.Quiz.Name)
	if err != nil {
		return fmt.Errorf("quiz: %w", err)
	}

	return nil
}

func (s *Server) initService() {
	s.service.identity = identity.NewService(identity.Config{
		DB:       s.infra.postgres.identity,
		EventBus: s.eb,
	})

	s.service.profiles = profile.NewStore(profile.Config{
		Redis:    s.infra.redis.profile,
		EventBus: s.eb,
		Prefix:   s.c.Redis.Profile.Prefix,
	})

	s.service.session = session.NewService(session.Config{
		Identity: s.service.identity,
		Profiles: s.service.profiles,
		EventBus: s.eb,
	})

	s.service.quiz = quiz.NewService(quiz.Config{
		DB:       s.infra.postgres.quiz,
		EventBus: s.eb,
	})

	s.service.attempt = attempt.NewService(attempt.Config{
		Profiles: s.service.profiles,
		EventBus: s.eb,
	})
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery(), telemetry.HTTPLogger())

	api.New(api.Config{
		Router:       e,
		EventBus:     s.eb,
		Session:      s.service.session,
		Quiz:         s.service.quiz,
		Attempt:      s.service.attempt,
		Profiles:     s.service.profiles,
		Redis:        s.infra.redis.pubsub,
		PubsubPrefix: s.c.Redis.Pubsub.Prefix,
		JWTSecret:    s.c.Auth.JWTSecret,
		TokenTTL:     time.Duration(s.c.Auth.TokenTTLHours) * time.Hour,
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) Start() {
	ctx := context.TODO()

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if err := eg.Wait(); err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.eb.Stop()

	s.infra.postgres.identity.Close()
	s.infra.postgres.quiz.Close()
	s.infra.redis.profile.Close()
	s.infra.redis.pubsub.Close()

	slog.InfoContext(ctx, "server: shutdown completed")
}

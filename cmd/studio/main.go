package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"cloud.google.com/go/firestore"
	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/redis/go-redis/v9"
	"google.golang.org/api/option"

	auth "github.com/goliatone/go-studio-auth"
	"github.com/goliatone/go-studio-auth/activitymap"
	"github.com/goliatone/go-studio-auth/middleware/guardware"
	"github.com/goliatone/go-studio-auth/middleware/jwtware"
	"github.com/goliatone/go-studio-auth/provider/firebase"
	"github.com/goliatone/go-studio-auth/realtime"
	"github.com/goliatone/go-studio-auth/repository"
	fsstore "github.com/goliatone/go-studio-auth/store/firestore"
)

type App struct {
	settings auth.Settings
	logger   *glog.BaseLogger
	repo     *repository.Manager
	profiles auth.ProfileStore
	claims   auth.LinkClaims
	provider *firebase.Provider
	verifier firebase.Verifier
	identity *auth.IdentityClient
	session  *auth.SessionController
	realtime *realtime.Manager
	srv      router.Server[*fiber.App]
	closers  []func()
}

func (a *App) GetLogger(name string) auth.Logger {
	return a.logger.GetLogger(name)
}

func (a *App) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func main() {
	settings, err := auth.LoadSettings()
	if err != nil {
		panic(err)
	}

	fmt.Println("============")
	fmt.Println(print.MaybeHighlightJSON(settings))
	fmt.Println("============")

	lgr := glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithLevel(glog.Trace),
		glog.WithName("studio"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(goerrors.ToSlogAttributes),
	)

	ctx := context.Background()
	app := &App{settings: settings, logger: lgr}
	defer app.Close()

	if err := WithPersistence(ctx, app); err != nil {
		panic(err)
	}

	if err := WithIdentity(ctx, app); err != nil {
		panic(err)
	}

	if err := WithRealtime(ctx, app); err != nil {
		panic(err)
	}

	if err := WithHTTPServer(ctx, app); err != nil {
		panic(err)
	}

	Routes(app)

	go app.srv.Serve(settings.Addr)

	sig := WaitExitSignal()
	app.GetLogger("app").Info("shutting down", "signal", sig.String())
}

// WithPersistence opens the local database and picks the profile store and
// link claim backends.
func WithPersistence(ctx context.Context, app *App) error {
	s := app.settings
	logger := app.GetLogger("persistence")

	db, err := repository.OpenSQLite(s.SQLiteDSN)
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	app.onClose(func() { _ = db.Close() })

	app.repo = repository.NewManager(db, s.LinkClaimTTL, logger)
	app.repo.MustValidate()
	if err := app.repo.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	switch s.ProfileBackend {
	case "firestore":
		var opts []option.ClientOption
		if s.FirebaseCredentials != "" {
			opts = append(opts, option.WithCredentialsFile(s.FirebaseCredentials))
		}
		client, err := firestore.NewClient(ctx, s.FirebaseProjectID, opts...)
		if err != nil {
			return fmt.Errorf("firestore client: %w", err)
		}
		app.onClose(func() { _ = client.Close() })
		app.profiles = fsstore.New(client,
			fsstore.WithCollection(s.ProfileCollection),
			fsstore.WithLogger(app.GetLogger("profiles")),
		)
	default:
		app.profiles = app.repo.Profiles()
	}

	app.claims = app.repo.LinkClaims()
	if s.RedisURL != "" {
		opts, err := redis.ParseURL(s.RedisURL)
		if err != nil {
			return fmt.Errorf("redis url: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unavailable, link claims stay local", "error", err)
			_ = client.Close()
		} else {
			app.onClose(func() { _ = client.Close() })
			app.claims = repository.NewRedisLinkClaims(client, s.LinkClaimTTL)
		}
	}

	logger.Info("persistence ready", "profiles", s.ProfileBackend, "redis", s.RedisURL != "")
	return nil
}

// WithIdentity builds the provider, identity client and session controller.
func WithIdentity(ctx context.Context, app *App) error {
	s := app.settings
	activity := activitymap.LoggerSink(app.GetLogger("activity"))

	opts := []firebase.Option{
		firebase.WithPersistence(app.repo.Sessions()),
		firebase.WithLogger(app.GetLogger("firebase")),
		firebase.WithRedirector(firebase.RedirectFunc(func(ctx context.Context, uri string) error {
			if !auth.CaptureRedirect(ctx, uri) {
				return goerrors.New("redirect sign in needs a browser request", goerrors.CategoryOperation)
			}
			return nil
		})),
	}
	if s.FirebaseVerifyJWKS {
		verifier, stop, err := firebase.JWKSVerifier(s.FirebaseProjectID, app.GetLogger("jwks"))
		if err != nil {
			return fmt.Errorf("jwks: %w", err)
		}
		app.onClose(stop)
		app.verifier = verifier
		opts = append(opts, firebase.WithVerifier(verifier))
	}

	provider, err := firebase.New(firebase.Config{
		APIKey:      s.FirebaseAPIKey,
		ProjectID:   s.FirebaseProjectID,
		ContinueURL: s.FirebaseContinueURL,
	}, opts...)
	if err != nil {
		return err
	}
	app.provider = provider

	app.identity = auth.NewIdentityClient(provider, app.profiles,
		auth.WithIdentityLogger(app.GetLogger("identity")),
		auth.WithIdentityActivitySink(activity),
		auth.WithLinkClaims(app.claims),
	)

	logger := app.GetLogger("session")
	app.session = auth.NewSessionController(app.identity, app.profiles, auth.NewSessionStore(),
		auth.WithControllerLogger(logger),
		auth.WithAcknowledger(noticeLogger(logger)),
		auth.WithNavigator(navigationLogger(logger)),
		auth.WithReconcilerOptions(
			auth.WithReconcilerLogger(app.GetLogger("reconciler")),
			auth.WithReconcilerActivitySink(activity),
		),
	)
	if err := app.session.Start(ctx); err != nil {
		return err
	}
	app.onClose(app.session.Stop)
	return nil
}

// WithRealtime binds the realtime connection to the session.
func WithRealtime(ctx context.Context, app *App) error {
	s := app.settings
	logger := app.GetLogger("realtime")

	api := auth.NewAPIClient(app.identity, http.DefaultTransport)
	app.realtime = realtime.NewManager(s.RealtimeURL,
		realtime.WithManagerLogger(logger),
		realtime.WithSocketOptions(
			realtime.WithBearer(app.identity),
			realtime.WithSocketLogger(logger),
			realtime.WithTransports(
				&realtime.WebSocketTransport{Origin: s.RealtimeOrigin},
				&realtime.PollingTransport{Client: api, Endpoint: s.RealtimePolling},
			),
		),
		realtime.WithForceLogout(&realtime.ForceLogout{
			Store:     app.session.Store(),
			Session:   app.session,
			Notices:   noticeLogger(logger),
			Navigator: navigationLogger(logger),
			Messages:  auth.NewMessages(),
			Activity:  activitymap.LoggerSink(app.GetLogger("activity"), activitymap.WithActorFallback("realtime")),
			LoginPath: s.LoginPath,
			Logger:    logger,
		}),
	)

	for _, event := range realtime.DomainEvents {
		event := event
		app.realtime.On(event, func(data json.RawMessage) {
			logger.Debug("realtime event", "event", event, "data", print.MaybePrettyJSON(data))
		})
	}

	sub := app.realtime.Bind(ctx, app.session.Store())
	app.onClose(sub.Cancel)
	return nil
}

func WithHTTPServer(_ context.Context, app *App) error {
	srv := router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		return router.DefaultFiberOptions(fiber.New(fiber.Config{
			UnescapePath:      true,
			EnablePrintRoutes: true,
			StrictRouting:     false,
		}))
	})

	srv.Router().Get("/health", func(ctx router.Context) error {
		return ctx.JSON(http.StatusOK, router.ViewContext{
			"status":   "ok",
			"realtime": app.realtime.Connected(),
		})
	})

	app.srv = srv
	return nil
}

// Routes mounts the sign in endpoints and the guarded areas.
func Routes(app *App) {
	r := app.srv.Router()
	store := app.session.Store()
	paths := app.settings.GuardPaths()

	auth.RegisterAuthRoutes(r,
		auth.WithAuthControllerIdentity(app.identity),
		auth.WithAuthControllerSession(app.session),
		auth.WithAuthControllerLogger(app.GetLogger("http")),
		auth.WithAuthControllerBaseURL(app.settings.PublicURL),
	)

	r.Get(paths.Login, loginPage, guardware.PublicOnly(store, paths))

	r.Get("/student/dashboard", dashboard,
		guardware.RoleRestricted(store, []auth.Role{auth.RoleStudent}, paths))
	r.Get("/teacher/dashboard", dashboard,
		guardware.RoleRestricted(store, []auth.Role{auth.RoleTeacher}, paths))
	r.Get("/admin/dashboard", dashboard, guardware.AdminOnly(store, paths))
	r.Get("/me", dashboard, guardware.AuthenticatedOnly(store, paths))

	// Tools calling in with their own ID token; needs verified signatures.
	if app.verifier != nil {
		r.Get("/api/whoami", whoami, jwtware.New(jwtware.Config{
			Verifier: app.verifier,
			Logger:   app.GetLogger("jwtware"),
		}))
	}
}

func whoami(ctx router.Context) error {
	identity, _ := auth.IdentityTokenFromContext(ctx.Context())
	return ctx.JSON(http.StatusOK, router.ViewContext{
		"uid":   identity.UID,
		"email": identity.Email,
		"role":  auth.ParseRole(fmt.Sprint(identity.Claims["role"])),
	})
}

func loginPage(ctx router.Context) error {
	return ctx.JSON(http.StatusOK, router.ViewContext{"page": "login"})
}

func dashboard(ctx router.Context) error {
	profile, _ := auth.GetRouterProfile(ctx, "user")
	return ctx.JSON(http.StatusOK, router.ViewContext{
		"page": ctx.Path(),
		"user": profile,
	})
}

func noticeLogger(logger auth.Logger) auth.Acknowledger {
	return auth.AcknowledgerFunc(func(_ context.Context, n auth.Notice) {
		logger.Warn("notice", "title", n.Title, "message", n.Message)
	})
}

func navigationLogger(logger auth.Logger) auth.Navigator {
	return auth.NavigatorFunc(func(path string, replace bool) {
		logger.Info("navigate", "path", path, "replace", replace)
	})
}

func WaitExitSignal() os.Signal {
	ch := make(chan os.Signal, 3)
	signal.Notify(ch,
		syscall.SIGINT,
		syscall.SIGQUIT,
		syscall.SIGTERM,
	)
	return <-ch
}

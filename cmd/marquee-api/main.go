package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/marquee/backend/internal/assessments"
	"github.com/MarcoPoloResearchLab/marquee/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/marquee/backend/internal/catalog"
	"github.com/MarcoPoloResearchLab/marquee/backend/internal/config"
	"github.com/MarcoPoloResearchLab/marquee/backend/internal/consistency"
	"github.com/MarcoPoloResearchLab/marquee/backend/internal/database"
	"github.com/MarcoPoloResearchLab/marquee/backend/internal/documents"
	"github.com/MarcoPoloResearchLab/marquee/backend/internal/friends"
	"github.com/MarcoPoloResearchLab/marquee/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/marquee/backend/internal/movies"
	"github.com/MarcoPoloResearchLab/marquee/backend/internal/people"
	"github.com/MarcoPoloResearchLab/marquee/backend/internal/server"
	"github.com/MarcoPoloResearchLab/marquee/backend/internal/users"
	"github.com/MarcoPoloResearchLab/marquee/backend/internal/validation"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "marquee-api",
		Short: "Marquee movie catalog backend service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newTokenCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().StringSlice("allowed-origins", defaults.GetStringSlice("http.allowed_origins"), "CORS allowed origins")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log format (json, console)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().String("auth-issuer", defaults.GetString("auth.issuer"), "Expected session token issuer")
	cmd.PersistentFlags().String("cookie-name", defaults.GetString("auth.cookie_name"), "Session cookie name")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "http.allowed_origins", "allowed-origins")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "auth.issuer", "auth-issuer")
	bindFlag(cmd, "auth.cookie_name", "cookie-name")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

// newTokenCommand mints a session token for local development and scripted clients.
func newTokenCommand() *cobra.Command {
	var (
		email string
		name  string
		roles []string
		ttl   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a session token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
				SigningSecret: []byte(appConfig.AuthSigningSecret),
				Issuer:        appConfig.AuthIssuer,
				TokenTTL:      ttl,
			})
			if err != nil {
				return err
			}
			token, expiresAt, err := issuer.IssueSessionToken(email, name, roles)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n# expires %s\n", token, expiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "User email (token subject)")
	cmd.Flags().StringVar(&name, "name", "", "User display name")
	cmd.Flags().StringSliceVar(&roles, "roles", []string{catalog.DefaultUserRole}, "Granted roles")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	handler, err := buildHandler(appConfig, db, logger)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func buildHandler(appConfig config.AppConfig, db *gorm.DB, logger *zap.Logger) (http.Handler, error) {
	movieStore, err := documents.NewCollection[catalog.Movie](db, database.TableMovies, time.Now)
	if err != nil {
		return nil, err
	}
	personStore, err := documents.NewCollection[catalog.Person](db, database.TablePeople, time.Now)
	if err != nil {
		return nil, err
	}
	userStore, err := documents.NewCollection[catalog.User](db, database.TableUsers, time.Now)
	if err != nil {
		return nil, err
	}
	assessmentStore, err := documents.NewCollection[catalog.Assessment](db, database.TableAssessments, time.Now)
	if err != nil {
		return nil, err
	}

	validator := validation.New()
	ids := catalog.NewUUIDProvider()
	realtime := server.NewRealtimeDispatcher()

	coordinator, err := friends.NewCoordinator(friends.Config{
		Users:     userStore,
		Validator: validator,
		Clock:     time.Now,
		Logger:    logger,
		Notifier:  realtime,
	})
	if err != nil {
		return nil, err
	}
	propagator, err := consistency.NewPropagator(consistency.Config{
		Assessments: assessmentStore,
		Users:       userStore,
		Friends:     coordinator,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	movieService, err := movies.NewService(movies.ServiceConfig{
		Movies:     movieStore,
		People:     personStore,
		Validator:  validator,
		Propagator: propagator,
		IDProvider: ids,
		Clock:      time.Now,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	peopleService, err := people.NewService(people.ServiceConfig{
		People:     personStore,
		Validator:  validator,
		IDProvider: ids,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	userService, err := users.NewService(users.ServiceConfig{
		Users:      userStore,
		Validator:  validator,
		Propagator: propagator,
		Clock:      time.Now,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	assessmentService, err := assessments.NewService(assessments.ServiceConfig{
		Assessments: assessmentStore,
		Movies:      movieStore,
		Users:       userStore,
		Validator:   validator,
		IDProvider:  ids,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	sessions, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.AuthSigningSecret),
		Issuer:        appConfig.AuthIssuer,
		CookieName:    appConfig.AuthCookieName,
	})
	if err != nil {
		return nil, err
	}

	return server.NewHTTPHandler(server.Dependencies{
		Sessions:       sessions,
		Movies:         movieService,
		People:         peopleService,
		Users:          userService,
		Assessments:    assessmentService,
		Friends:        coordinator,
		Realtime:       realtime,
		AllowedOrigins: appConfig.AllowedOrigins,
		Logger:         logger,
	})
}

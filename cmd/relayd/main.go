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

	"github.com/lodgetech/relay/internal/attendance"
	"github.com/lodgetech/relay/internal/bootstrap"
	"github.com/lodgetech/relay/internal/config"
	"github.com/lodgetech/relay/internal/envelope"
	"github.com/lodgetech/relay/internal/guestchat"
	"github.com/lodgetech/relay/internal/journal"
	"github.com/lodgetech/relay/internal/logging"
	"github.com/lodgetech/relay/internal/notifications"
	"github.com/lodgetech/relay/internal/opsauth"
	"github.com/lodgetech/relay/internal/opsserver"
	"github.com/lodgetech/relay/internal/rest"
	"github.com/lodgetech/relay/internal/roombooking"
	"github.com/lodgetech/relay/internal/roomservice"
	"github.com/lodgetech/relay/internal/router"
	"github.com/lodgetech/relay/internal/servicebooking"
	"github.com/lodgetech/relay/internal/staffchat"
	"github.com/lodgetech/relay/internal/subscription"
	"github.com/lodgetech/relay/internal/transport"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "relayd",
		Short: "Hotel realtime event routing engine",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(cmd.Context())
		},
	}
	setupFlags(rootCmd)

	tokenCmd := &cobra.Command{
		Use:   "token [subject]",
		Short: "Issue an operator token for the ops API",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return issueToken(args[0])
		},
	}
	rootCmd.AddCommand(tokenCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "Ops HTTP listen address")
	cmd.PersistentFlags().String("tenant-slug", defaults.GetString("tenant.slug"), "Hotel tenant slug")
	cmd.PersistentFlags().String("staff-id", defaults.GetString("tenant.staff_id"), "Staff id for the personal channel")
	cmd.PersistentFlags().String("journal-path", defaults.GetString("journal.path"), "SQLite path for the diagnostic envelope journal")
	cmd.PersistentFlags().String("rest-base-url", defaults.GetString("rest.base_url"), "REST backend base URL")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Ops API signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "tenant.slug", "tenant-slug")
	bindFlag(cmd, "tenant.staff_id", "staff-id")
	bindFlag(cmd, "journal.path", "journal-path")
	bindFlag(cmd, "rest.base_url", "rest-base-url")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "ops.signing_secret", "signing-secret")
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

func issueToken(subject string) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	guard, err := opsauth.NewGuard(opsauth.GuardConfig{
		SigningSecret: []byte(appConfig.OpsSigningSecret),
	})
	if err != nil {
		return err
	}
	token, expiresIn, err := guard.IssueToken(subject)
	if err != nil {
		return err
	}
	fmt.Printf("%s\nexpires_in=%d\n", token, expiresIn)
	return nil
}

func runEngine(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	// Domain stores: created empty, filled by bulk loads and routed events,
	// gone when the process exits.
	staffChatStore := staffchat.NewStore(staffchat.StoreConfig{
		SelfID: appConfig.StaffID,
		Logger: logger.Named("staffchat"),
	})
	guestChatStore := guestchat.NewStore(guestchat.StoreConfig{
		Perspective: guestchat.RoleStaff,
		Logger:      logger.Named("guestchat"),
	})
	attendanceStore := attendance.NewStore(attendance.StoreConfig{Logger: logger.Named("attendance")})
	roomServiceStore := roomservice.NewStore(roomservice.StoreConfig{Logger: logger.Named("roomservice")})
	bookingStore := servicebooking.NewStore(servicebooking.StoreConfig{Logger: logger.Named("servicebooking")})
	roomBookingStore := roombooking.NewStore(roombooking.StoreConfig{Logger: logger.Named("roombooking")})

	feed := notifications.NewFeed(0)

	var recorder router.Recorder
	if appConfig.JournalPath != "" {
		diagnosticJournal, err := journal.Open(journal.Config{
			Path:   appConfig.JournalPath,
			Logger: logger.Named("journal"),
		})
		if err != nil {
			return err
		}
		defer diagnosticJournal.Close() //nolint:errcheck
		recorder = diagnosticJournal
	}

	eventRouter, err := router.New(router.Config{
		StaffChat:   staffChatStore,
		GuestChat:   guestChatStore,
		Attendance:  attendanceStore,
		RoomService: roomServiceStore,
		Booking:     bookingStore,
		RoomBooking: roomBookingStore,
		Feed:        feed,
		Recorder:    recorder,
		Logger:      logger.Named("router"),
	})
	if err != nil {
		return err
	}

	pipeline, err := router.NewPipeline(router.PipelineConfig{
		Normalizer: envelope.NewNormalizer(envelope.NormalizerConfig{Logger: logger.Named("normalizer")}),
		Router:     eventRouter,
		Logger:     logger.Named("pipeline"),
	})
	if err != nil {
		return err
	}

	// The real websocket client is wired in by the embedding application; the
	// standalone binary runs on the loopback transport and takes events
	// through the ops inject endpoints.
	subscriptions, err := subscription.NewManager(subscription.ManagerConfig{
		Client:   transport.NewMemoryClient(),
		Pipeline: pipeline,
		Logger:   logger.Named("subscription"),
	})
	if err != nil {
		return err
	}
	teardown := subscriptions.SubscribeBase(subscription.BaseScope{
		TenantSlug: appConfig.TenantSlug,
		StaffID:    appConfig.StaffID,
	})
	defer teardown()

	if appConfig.RestBaseURL != "" {
		restClient, err := rest.NewHTTPClient(rest.HTTPClientConfig{
			BaseURL:     appConfig.RestBaseURL,
			BearerToken: appConfig.RestBearerToken,
			Logger:      logger.Named("rest"),
		})
		if err != nil {
			return err
		}
		loader, err := bootstrap.NewLoader(bootstrap.LoaderConfig{
			REST:   restClient,
			Logger: logger.Named("bootstrap"),
		})
		if err != nil {
			return err
		}
		loader.Load(ctx, bootstrap.Stores{
			StaffChat:   staffChatStore,
			GuestChat:   guestChatStore,
			Attendance:  attendanceStore,
			RoomService: roomServiceStore,
			Booking:     bookingStore,
			RoomBooking: roomBookingStore,
		})
	}

	guard, err := opsauth.NewGuard(opsauth.GuardConfig{
		SigningSecret: []byte(appConfig.OpsSigningSecret),
	})
	if err != nil {
		return err
	}

	handler, err := opsserver.NewHTTPHandler(opsserver.Dependencies{
		Pipeline:      pipeline,
		StaffChat:     staffChatStore,
		GuestChat:     guestChatStore,
		Attendance:    attendanceStore,
		RoomService:   roomServiceStore,
		Booking:       bookingStore,
		RoomBooking:   roomBookingStore,
		Feed:          feed,
		Subscriptions: subscriptions,
		Validator:     guard,
		Logger:        logger.Named("ops"),
	})
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
		logger.Info("relay engine starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("tenant", appConfig.TenantSlug))
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

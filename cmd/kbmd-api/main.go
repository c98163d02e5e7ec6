package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/lemonadev03/kbmd/internal/auth"
	"github.com/lemonadev03/kbmd/internal/config"
	"github.com/lemonadev03/kbmd/internal/database"
	"github.com/lemonadev03/kbmd/internal/kb"
	"github.com/lemonadev03/kbmd/internal/logging"
	"github.com/lemonadev03/kbmd/internal/org"
	"github.com/lemonadev03/kbmd/internal/server"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "kbmd-api",
		Short: "Knowledge-base editor backend service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newCreateAdminCommand())
	rootCmd.AddCommand(newImportCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("cors-origins", defaults.GetString("http.cors_origins"), "Comma-separated allowed CORS origins")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Session token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log format (json, console)")
	cmd.PersistentFlags().String("signing-secret", "", "Session token signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "http.cors_origins", "cors-origins")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
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

	tokenManager := auth.NewTokenManager(auth.TokenManagerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "kbmd-auth",
		Audience:      "kbmd-api",
		TokenTTL:      appConfig.TokenTTL,
	})

	orgService, err := org.NewService(org.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: kb.NewUUIDProvider(),
	})
	if err != nil {
		return err
	}

	kbService, err := kb.NewService(kb.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: kb.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager:  tokenManager,
		KnowledgeBase: kbService,
		Organizations: orgService,
		Dispatcher:    server.NewChangeDispatcher(),
		Logger:        logger,
		CORSOrigins:   appConfig.CORSOrigins,
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

func openServices() (*org.Service, *kb.Service, func(), error) {
	logger, err := logging.NewLogger(viper.GetString("log.level"), viper.GetString("log.format"))
	if err != nil {
		return nil, nil, nil, err
	}

	db, err := database.OpenSQLite(viper.GetString("database.path"), logger)
	if err != nil {
		return nil, nil, nil, err
	}
	cleanup := func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
		logger.Sync() //nolint:errcheck
	}

	orgService, err := org.NewService(org.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: kb.NewUUIDProvider(),
	})
	if err != nil {
		cleanup()
		return nil, nil, nil, err
	}

	kbService, err := kb.NewService(kb.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: kb.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		cleanup()
		return nil, nil, nil, err
	}

	return orgService, kbService, cleanup, nil
}

func newCreateAdminCommand() *cobra.Command {
	var (
		email    string
		name     string
		password string
		orgName  string
		orgSlug  string
	)

	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Bootstrap an admin user and organization",
		RunE: func(cmd *cobra.Command, args []string) error {
			orgService, _, cleanup, err := openServices()
			if err != nil {
				return err
			}
			defer cleanup()

			account, err := orgService.CreateUser(email, name, password)
			if err != nil {
				return err
			}

			organization, err := orgService.ResolveBySlug(orgSlug)
			if errors.Is(err, org.ErrUnknownOrganization) {
				organization, err = orgService.CreateOrganization(orgName, orgSlug)
			}
			if err != nil {
				return err
			}

			if err := orgService.AddMember(organization.ID, account.ID, org.RoleAdmin); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "admin %s created in organization %s\n", account.Email, organization.Slug)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Admin email address")
	cmd.Flags().StringVar(&name, "name", "", "Admin display name")
	cmd.Flags().StringVar(&password, "password", "", "Admin password")
	cmd.Flags().StringVar(&orgName, "org-name", "", "Organization name")
	cmd.Flags().StringVar(&orgSlug, "org-slug", "", "Organization slug")
	cmd.MarkFlagRequired("email")    //nolint:errcheck
	cmd.MarkFlagRequired("password") //nolint:errcheck
	cmd.MarkFlagRequired("org-slug") //nolint:errcheck

	return cmd
}

type importDump struct {
	PhaseGroups []string `json:"phaseGroups"`
	Sections    []struct {
		Name       string `json:"name"`
		PhaseGroup string `json:"phaseGroup"`
	} `json:"sections"`
	FAQs []struct {
		Section  string `json:"section"`
		Question string `json:"question"`
		Answer   string `json:"answer"`
		Notes    string `json:"notes"`
	} `json:"faqs"`
	Variables []struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	} `json:"variables"`
	CustomRules string `json:"customRules"`
}

func newImportCommand() *cobra.Command {
	var (
		orgSlug  string
		dumpPath string
	)

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Seed an organization from a JSON dump",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(dumpPath)
			if err != nil {
				return err
			}
			var dump importDump
			if err := json.Unmarshal(raw, &dump); err != nil {
				return err
			}

			orgService, kbService, cleanup, err := openServices()
			if err != nil {
				return err
			}
			defer cleanup()

			organization, err := orgService.ResolveBySlug(orgSlug)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			groupsByName := make(map[string]string, len(dump.PhaseGroups))
			for _, groupName := range dump.PhaseGroups {
				group, err := kbService.CreatePhaseGroup(ctx, organization.ID, groupName)
				if err != nil {
					return err
				}
				groupsByName[groupName] = group.ID
			}

			sectionsByName := make(map[string]string, len(dump.Sections))
			for _, entry := range dump.Sections {
				var (
					section kb.Section
					err     error
				)
				if groupID, ok := groupsByName[entry.PhaseGroup]; ok {
					section, err = kbService.CreateSectionInGroup(ctx, organization.ID, groupID, entry.Name)
				} else {
					section, err = kbService.CreateSection(ctx, organization.ID, entry.Name)
				}
				if err != nil {
					return err
				}
				sectionsByName[entry.Name] = section.ID
			}

			ids := kb.NewUUIDProvider()
			orderBySection := make(map[string]int, len(sectionsByName))
			upserts := make([]kb.FaqUpsert, 0, len(dump.FAQs))
			for _, entry := range dump.FAQs {
				sectionID, ok := sectionsByName[entry.Section]
				if !ok {
					return fmt.Errorf("faq references unknown section %q", entry.Section)
				}
				id, err := ids.NewID()
				if err != nil {
					return err
				}
				upserts = append(upserts, kb.FaqUpsert{
					ID:        id,
					SectionID: sectionID,
					Question:  entry.Question,
					Answer:    entry.Answer,
					Notes:     entry.Notes,
					Order:     orderBySection[sectionID],
				})
				orderBySection[sectionID]++
			}
			if len(upserts) > 0 {
				if _, err := kbService.ApplyFaqBatch(ctx, organization.ID, upserts, nil); err != nil {
					return err
				}
			}

			for _, entry := range dump.Variables {
				if _, err := kbService.CreateVariable(ctx, organization.ID, entry.Key, entry.Value); err != nil {
					return err
				}
			}

			if dump.CustomRules != "" {
				if _, err := kbService.SaveCustomRules(ctx, organization.ID, dump.CustomRules, ""); err != nil {
					return err
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "imported %d sections and %d faqs into %s\n",
				len(dump.Sections), len(upserts), organization.Slug)
			return nil
		},
	}

	cmd.Flags().StringVar(&orgSlug, "org-slug", "", "Target organization slug")
	cmd.Flags().StringVar(&dumpPath, "file", "", "Path to the JSON dump")
	cmd.MarkFlagRequired("org-slug") //nolint:errcheck
	cmd.MarkFlagRequired("file")     //nolint:errcheck

	return cmd
}

package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"civicom/config"
	"civicom/internal/blob"
	conversationRepository "civicom/internal/conversation/repository"
	conversationUsecase "civicom/internal/conversation/usecase"
	"civicom/internal/database"
	"civicom/internal/feed"
	"civicom/internal/http/handlers"
	"civicom/internal/http/middleware"
	userRepository "civicom/internal/user/repository"
	"civicom/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	v, err := config.LoadConfig("config")
	if err != nil {
		log.Fatal("failed to load config: ", err)
	}
	cfg, err := config.ParseConfig(v)
	if err != nil {
		log.Fatal("failed to parse config: ", err)
	}

	appLogger, err := logger.NewLogger(cfg)
	if err != nil {
		log.Fatal("failed to init logger: ", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.ConnectPostgres(ctx, cfg)
	if err != nil {
		log.Fatal("failed to connect db: ", err)
	}
	defer db.Close()

	if err := database.CreateTables(ctx, db); err != nil {
		log.Fatal("failed to create tables: ", err)
	}

	blobs, err := blob.NewFSStore(cfg.Blob, *appLogger)
	if err != nil {
		log.Fatal("failed to init blob store: ", err)
	}

	broker := feed.NewBroker(*appLogger)
	userRepo := userRepository.NewUserRepository(db, *appLogger)
	convRepo := conversationRepository.NewConversationRepository(db, *appLogger)
	convUC := conversationUsecase.NewConversationUsecase(convRepo, userRepo, blobs, broker, *appLogger, *cfg)

	if cfg.Server.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()

	contactsH := &handlers.ContactsHandler{Users: userRepo, Logger: *appLogger}
	convH := &handlers.ConversationHandler{Conversations: convUC, Logger: *appLogger}
	feedH := &handlers.FeedHandler{
		Conversations: convUC,
		Broker:        broker,
		Logger:        *appLogger,
		Upgrader:      websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
	}
	fileH := &handlers.FileHandler{Store: blobs, Logger: *appLogger}

	r.POST("/api/v1/users", contactsH.Register)
	r.GET("/files/*path", fileH.Serve)

	authed := r.Group("/api/v1")
	authed.Use(middleware.AuthMiddleware(cfg.JWT.Secret))

	authed.GET("/contacts", contactsH.ListContacts)
	authed.PUT("/me/name", contactsH.UpdateDisplayName)

	authed.POST("/conversations", convH.CreateConversation)
	authed.GET("/conversations", convH.ListConversations)
	authed.GET("/conversations/:id/messages", convH.ListMessages)
	authed.POST("/conversations/:id/messages", convH.SendMessage)
	authed.DELETE("/messages/:id", convH.DeleteMessage)
	authed.GET("/messages/:id/attachment", convH.AttachmentURL)
	authed.GET("/ws", feedH.Handle)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		appLogger.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal("server error: ", err)
	}
	appLogger.Info("shutdown complete")
}

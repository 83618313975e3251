package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/candorhq/riverd/broadcast"
	"github.com/candorhq/riverd/eventbus"
	"github.com/candorhq/riverd/server"
	"github.com/candorhq/riverd/server/middlewares"
	. "github.com/candorhq/riverd/utils"
	"github.com/candorhq/riverd/utils/dotenv"
	. "github.com/candorhq/riverd/utils/log"

	"github.com/candorhq/riverd/fanout"
	"github.com/candorhq/riverd/store"
)

const reauthorizationInterval = 5 * time.Minute

func init() {
	if err := dotenv.LoadDotEnvs(); err != nil {
		panic(err)
	}

	// Middlewares
	middlewares.Setup()

	Log.Info("api server initialized")
}

// newEventBus picks the redis bus when a broker is configured so multiple
// server replicas see each other's mutations, and falls back to the
// in-process bus for single node and development runs.
func newEventBus() eventbus.EventBus {
	if os.Getenv("REDIS_HOST") == "" {
		Log.Info("no redis broker configured, using in-process event bus")
		return eventbus.NewGoChannelBus()
	}
	client, err := GetRedisClient()
	if err != nil {
		Log.Fatalf("failed to connect to redis broker: %v", err)
	}
	return eventbus.NewRedisBus(client)
}

func main() {
	flag.Parse()

	db, err := GetDefaultDBConnection()
	if err != nil {
		Log.Fatalf("failed to connect to database: %v", err)
	}
	DatabaseSetupAndMigration(db)

	bus := newEventBus()
	membership := store.NewMembershipStore(db)
	engine := fanout.NewEngine(db, membership, bus)
	registry := broadcast.NewRegistry(middlewares.Verifier(), membership)

	ctx := context.Background()
	broadcastRouter := broadcast.NewRouter(membership, registry)
	if err := broadcastRouter.Start(ctx, bus); err != nil {
		Log.Fatalf("failed to start broadcast router: %v", err)
	}
	registry.StartReauthorization(ctx, reauthorizationInterval)

	// Default With the Logger and Recovery middleware already attached
	router := gin.Default()
	router.Use(cors.Default())

	api := server.NewAPI(engine, registry)
	authed := router.Group("/", middlewares.JWT())
	api.Register(authed, router)

	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "pong",
		})
	})

	Log.Info("api server starts up")
	router.Run(":8080")
}

package http_test

import (
	"context"
	"fmt"
	"os"
	"time"

	httpserver "github.com/fyrsmithlabs/harness/internal/http"
	"github.com/fyrsmithlabs/harness/internal/orchestrator"
	"github.com/fyrsmithlabs/harness/internal/store"
	"go.uber.org/zap"
)

// ExampleServer demonstrates serving the status API next to a harness.
func ExampleServer() {
	dir, err := os.MkdirTemp("", "harness-example")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(dir)

	st, err := store.New(dir, 0)
	if err != nil {
		panic(err)
	}
	h, err := orchestrator.New(nil, st)
	if err != nil {
		panic(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	server, err := httpserver.NewServer(h, st, logger, &httpserver.Config{Host: "localhost", Port: 0})
	if err != nil {
		panic(err)
	}

	go func() {
		_ = server.Start()
	}()

	// Give server time to start
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}

	fmt.Println("Server started and stopped successfully")
	// Output: Server started and stopped successfully
}

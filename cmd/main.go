package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"hn-stories/handler"
	"hn-stories/internal/app"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	a, err := app.Build(ctx, logger)
	if err != nil {
		slog.Error("failed to build service", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewHandler(a.Stories,
		handler.WithAllowedOrigins(a.Config.AllowedOrigins),
		handler.WithLogger(logger),
	)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

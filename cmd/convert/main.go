package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/supaocr/server/internal/config"
	"github.com/supaocr/server/internal/logging"
	"github.com/supaocr/server/internal/server"
	"github.com/supaocr/server/internal/server/handler"
	"github.com/supaocr/server/internal/server/service"
	"github.com/supaocr/server/pkg"
)

func main() {
	var (
		model          = flag.String("model", "", "vision model override (defaults to OCR_MODEL)")
		maintainFormat = flag.Bool("maintain-format", true, "process pages sequentially, passing the previous page as context")
		markdownOnly   = flag.Bool("markdown", false, "print only the markdown instead of the JSON payload")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] <file>\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.Load()
	if *model != "" {
		cfg.OCR.Model = *model
	}
	cfg.OCR.MaintainFormat = *maintainFormat

	// Logs go to stderr so stdout carries only the result.
	logger := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	if err := server.CheckConfig(cfg, logger); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	m, err := server.NewModel(ctx, cfg.OCR, logger)
	if err != nil {
		logger.Error("ocr.model_unavailable", "provider", cfg.OCR.Provider, "error", err)
	}
	svc := server.NewService(cfg, m, logger)

	code := run(ctx, svc, flag.Arg(0), *markdownOnly)
	// os.Exit skips deferred calls.
	if c, ok := m.(io.Closer); ok {
		c.Close()
	}
	os.Exit(code)
}

func run(ctx context.Context, svc *service.ConversionService, path string, markdownOnly bool) int {
	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer f.Close()

	out, err := svc.Convert(ctx, service.UploadedDocument{
		Filename: filepath.Base(path),
		Content:  f,
	})
	if err != nil {
		resp := handler.ErrorResponse{Error: err.Error()}
		var ce *service.ConversionError
		if errors.As(err, &ce) {
			resp = handler.ErrorResponse{Error: ce.Message, Type: string(ce.Kind), RequestID: ce.RequestID}
		}
		_ = pkg.Print(os.Stderr, resp)
		return 1
	}

	if markdownOnly {
		fmt.Println(out.Markdown)
		return 0
	}
	if err := pkg.Print(os.Stdout, out); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

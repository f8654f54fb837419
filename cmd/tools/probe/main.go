// Command probe checks a terminal install can reach the sales backend: it
// pings it, lists payment methods and optionally resolves a product code.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/noah-isme/pos-terminal/internal/app"
	"github.com/noah-isme/pos-terminal/internal/backend"
	"github.com/noah-isme/pos-terminal/internal/config"
	"github.com/noah-isme/pos-terminal/internal/obs"
)

func main() {
	code := flag.String("code", "", "barcode or SKU to resolve")
	timeout := flag.Duration("timeout", 10*time.Second, "overall timeout")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "probe: %v\n", err)
		os.Exit(2)
	}
	logger := obs.NewLogger("console", "warn")
	client, err := app.NewBackend(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "probe: %v\n", err)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := client.Ping(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "FAIL ping %s: %v\n", cfg.Backend.BaseURL, err)
		os.Exit(1)
	}
	fmt.Printf("ok   ping %s (tenant %s)\n", cfg.Backend.BaseURL, client.TenantID())

	methods, err := client.ListPaymentMethods(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FAIL payment methods: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("ok   %d payment methods\n", len(methods))
	for _, m := range methods {
		fmt.Printf("     %-12s %s\n", m.MethodID, m.Name)
	}

	if *code == "" {
		return
	}
	page, err := client.SearchVariants(ctx, backend.VariantQuery{Barcode: *code, Limit: 5})
	if err == nil && len(page.Items) == 0 {
		page, err = client.SearchVariants(ctx, backend.VariantQuery{SKU: *code, Limit: 5})
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "FAIL lookup %q: %v\n", *code, err)
		os.Exit(1)
	}
	if len(page.Items) == 0 {
		fmt.Fprintf(os.Stderr, "FAIL lookup %q: no variant\n", *code)
		os.Exit(1)
	}
	for _, it := range page.Items {
		fmt.Printf("ok   %s %s %s %s\n", it.VariantID, it.SKU, it.DisplayName, it.UnitPrice.StringFixed(2))
	}
}

package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"giftcard-overlay/internal/validation"
	"giftcard-overlay/internal/widget"
)

const usage = `commands:
  open | close
  inc <offerId> | dec <offerId> | set <offerId> <qty>
  checkout | back
  form <name|email|recipient> <value...>
  submit | retry | state | quit`

var formFields = map[string]string{
	"name":      validation.FieldBuyerName,
	"email":     validation.FieldBuyerEmail,
	"recipient": validation.FieldRecipientEmail,
}

func main() {
	apiBase := flag.String("api-base", "http://localhost:8080", "Relay origin (data-api-base)")
	merchantID := flag.String("merchant-id", "", "Merchant identifier (data-merchant-id)")
	apiKey := flag.String("api-key", "", "Overlay key sent as x-overlay-key (data-api-key)")
	mountID := flag.String("mount", widget.DefaultMountID, "Mount point id")
	verbose := flag.Bool("v", false, "Debug logging")
	flag.Parse()

	level := zapcore.WarnLevel
	if *verbose {
		level = zapcore.DebugLevel
	}
	zcfg := zap.NewDevelopmentConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	logger, err := zcfg.Build()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := widget.NewRegistry(&http.Client{Timeout: 30 * time.Second}, logger, 0)
	defer registry.Close()

	attrs := map[string]string{
		widget.AttrMerchantID: *merchantID,
		widget.AttrAPIKey:     *apiKey,
		widget.AttrAPIBase:    *apiBase,
	}
	c, _ := registry.Mount(ctx, *mountID, attrs, *apiBase, widget.RendererFunc(func(f widget.Frame) {
		printFrame(os.Stdout, f)
	}))

	fmt.Fprintln(os.Stderr, usage)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			quit, err := execute(c, line)
			if err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
			}
			if quit {
				return
			}
		}
	}
}

var errUsage = errors.New("unknown command, see usage")

// execute runs one command line against the controller and reports whether
// the session should end.
func execute(c *widget.Controller, line string) (bool, error) {
	args := strings.Fields(line)
	if len(args) == 0 {
		return false, nil
	}

	switch cmd, rest := args[0], args[1:]; cmd {
	case "open":
		return false, c.Open()
	case "close":
		return false, c.Close()
	case "inc", "dec":
		if len(rest) != 1 {
			return false, fmt.Errorf("%s needs an offer id", cmd)
		}
		if cmd == "inc" {
			return false, c.Increment(rest[0])
		}
		return false, c.Decrement(rest[0])
	case "set":
		if len(rest) != 2 {
			return false, errors.New("set needs an offer id and a quantity")
		}
		return false, c.SetQuantity(rest[0], rest[1])
	case "checkout":
		return false, c.Checkout()
	case "back":
		return false, c.Back()
	case "form":
		if len(rest) < 1 {
			return false, errors.New("form needs a field name")
		}
		field, ok := formFields[rest[0]]
		if !ok {
			return false, fmt.Errorf("unknown form field %q", rest[0])
		}
		return false, c.SetField(field, strings.Join(rest[1:], " "))
	case "submit":
		return false, c.Submit()
	case "retry":
		return false, c.RetryHealth()
	case "state":
		f, err := c.Frame()
		if err != nil {
			return false, err
		}
		printFrame(os.Stdout, f)
		return false, nil
	case "quit", "exit":
		return true, nil
	default:
		return false, errUsage
	}
}

// printFrame writes a plain-text rendition of a frame.
func printFrame(w io.Writer, f widget.Frame) {
	if !f.Open {
		fmt.Fprintf(w, "[closed] health=%s\n", healthLabel(f))
		return
	}

	loading := ""
	if f.Loading {
		loading = " (loading)"
	}
	fmt.Fprintf(w, "[%s]%s health=%s items=%d subtotal=%s\n",
		f.View, loading, healthLabel(f), f.Count, money(f.Subtotal, f.Currency))

	switch f.View {
	case widget.ViewCatalog:
		qty := make(map[string]int, len(f.Items))
		for _, it := range f.Items {
			qty[it.OfferID] = it.Qty
		}
		for _, o := range f.Offers {
			fmt.Fprintf(w, "  %-24s %-28s %10s  x%d\n", o.ID, o.Name, money(o.PriceMinor, o.Currency), qty[o.ID])
		}
	case widget.ViewCheckout:
		fmt.Fprintf(w, "  name=%q email=%q recipient=%q\n", f.Form.BuyerName, f.Form.BuyerEmail, f.Form.RecipientEmail)
		fields := make([]string, 0, len(f.FieldErrors))
		for field := range f.FieldErrors {
			fields = append(fields, field)
		}
		sort.Strings(fields)
		for _, field := range fields {
			fmt.Fprintf(w, "  ! %s: %s\n", field, f.FieldErrors[field])
		}
	case widget.ViewConfirm:
		if f.Order != nil {
			fmt.Fprintf(w, "  order %s total %s\n", f.Order.ID, money(f.Order.TotalMinor, f.Order.Currency))
			for _, gc := range f.Order.GiftCards {
				fmt.Fprintf(w, "  card %s %s -> %s\n", gc.Code, money(gc.ValueMinor, gc.Currency), gc.RecipientEmail)
			}
		}
	case widget.ViewError:
		fmt.Fprintf(w, "  error %s\n", f.ErrorCode)
	}
	if f.View != widget.ViewError && f.LastPurchaseError != "" {
		fmt.Fprintf(w, "  last purchase failed: %s\n", f.LastPurchaseError)
	}
}

func healthLabel(f widget.Frame) string {
	if f.Health.Code != "" {
		return string(f.Health.Status) + ":" + f.Health.Code
	}
	return string(f.Health.Status)
}

func money(minor int64, currency string) string {
	sign := ""
	if minor < 0 {
		sign, minor = "-", -minor
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, minor/100, minor%100, currency)
}
